// Package qualify implements the AI qualification stage: bounded-batch
// calls to an external classifier for filter-matched records, with
// per-record retry semantics and a run-scoped abort when the service is
// entirely unreachable.
package qualify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"golang.org/x/time/rate"
)

// ErrServiceUnavailable signals that the classifier backend cannot be
// reached at all. It aborts the remainder of the batch for this run;
// individual call failures are recoverable and do not carry it.
var ErrServiceUnavailable = errors.New("classifier service unavailable")

// Classifier is the external AI collaborator. Classify returns the raw
// response string; semantic quality is out of scope here.
type Classifier interface {
	Classify(ctx context.Context, text string) (string, error)
	Name() string
}

const classifierSystemPrompt = `You decide whether a social-media message reports a real incident of the monitored topic. Answer with a JSON object:
{"verdict": "yes" or "no", "incident_type": "...", "equipment": "...", "names": "...", "ages": "..."}
Leave fields you cannot determine as empty strings. Return ONLY the JSON object.`

// OpenAIClassifier calls an OpenAI-compatible chat completion endpoint.
// Outbound calls go through a shared rate limiter.
type OpenAIClassifier struct {
	client  openai.Client
	model   string
	topic   string
	limiter *rate.Limiter
}

// OpenAIConfig configures NewOpenAIClassifier.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string  // optional endpoint override
	Model   string  // e.g. "gpt-4o-mini"
	Topic   string  // monitored topic described to the model
	RPS     float64 // outbound requests per second (0 = 1)
}

// NewOpenAIClassifier builds the production classifier client.
func NewOpenAIClassifier(cfg OpenAIConfig) *OpenAIClassifier {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	model := cfg.Model
	if model == "" {
		model = "gpt-4o-mini"
	}
	rps := cfg.RPS
	if rps <= 0 {
		rps = 1
	}
	return &OpenAIClassifier{
		client:  openai.NewClient(opts...),
		model:   model,
		topic:   cfg.Topic,
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
	}
}

// Name identifies the backing model.
func (c *OpenAIClassifier) Name() string {
	return "openai/" + c.model
}

// Classify sends one message text for qualification and returns the raw
// model output. Transport-level failures and backend outages surface as
// ErrServiceUnavailable; anything else is a recoverable per-record failure.
func (c *OpenAIClassifier) Classify(ctx context.Context, text string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}

	prompt := fmt.Sprintf("Monitored topic: %s\n\nMessage:\n%s", c.topic, text)
	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: c.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			{
				OfSystem: &openai.ChatCompletionSystemMessageParam{
					Content: openai.ChatCompletionSystemMessageParamContentUnion{
						OfString: openai.String(classifierSystemPrompt),
					},
				},
			},
			{
				OfUser: &openai.ChatCompletionUserMessageParam{
					Content: openai.ChatCompletionUserMessageParamContentUnion{
						OfString: openai.String(prompt),
					},
				},
			},
		},
		Temperature: openai.Float(0.1),
		MaxTokens:   openai.Int(400),
	})
	if err != nil {
		if isUnavailable(err) {
			return "", fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
		}
		return "", fmt.Errorf("classifier request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("classifier returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// isUnavailable distinguishes a dead backend from a failed single call.
func isUnavailable(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 500 || apiErr.StatusCode == 429
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	// No HTTP response at all (connection refused, DNS failure).
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

// Details is the structured response the classifier is asked for.
type Details struct {
	Verdict      string `json:"verdict"`
	IncidentType string `json:"incident_type"`
	Equipment    string `json:"equipment"`
	Names        string `json:"names"`
	Ages         string `json:"ages"`
}

// ParseVerdict normalizes a raw classifier response. The verdict collapses
// to the fixed vocabulary {"yes", "no"}; responses that parse as neither
// fall back to the trimmed raw text so nothing is silently lost.
func ParseVerdict(raw string) (string, Details) {
	cleaned := stripCodeFences(raw)

	var d Details
	if err := json.Unmarshal([]byte(cleaned), &d); err == nil && d.Verdict != "" {
		d.Verdict = normalizeYesNo(d.Verdict)
		return d.Verdict, d
	}

	verdict := normalizeYesNo(cleaned)
	return verdict, Details{Verdict: verdict}
}

func normalizeYesNo(s string) string {
	v := strings.ToLower(strings.TrimSpace(s))
	v = strings.Trim(v, `."'`)
	switch v {
	case "yes", "y", "true", "да":
		return "yes"
	case "no", "n", "false", "нет":
		return "no"
	}
	return strings.TrimSpace(s)
}

// stripCodeFences removes a surrounding markdown fence, which chat models
// add around JSON despite instructions.
func stripCodeFences(s string) string {
	cleaned := strings.TrimSpace(s)
	if !strings.HasPrefix(cleaned, "```") {
		return cleaned
	}
	lines := strings.Split(cleaned, "\n")
	start, end := 0, len(lines)
	for i, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			if start == 0 {
				start = i + 1
			} else {
				end = i
				break
			}
		}
	}
	if start > 0 && end > start {
		return strings.TrimSpace(strings.Join(lines[start:end], "\n"))
	}
	return cleaned
}
