package qualify

import (
	"context"
	"errors"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/railwatch/railwatch/internal/store"
)

// DefaultCallCap bounds classifier calls per theme per run.
const DefaultCallCap = 50

// Options configures a qualification run.
type Options struct {
	// CallCap is the hard per-run ceiling on classifier calls. Overflow is
	// deferred to the next run, never dropped. <= 0 uses DefaultCallCap.
	CallCap int
	// Workers sets the size of the outbound worker pool. Each worker writes
	// only its own indexes of the batch slice, so no shared mutable state
	// crosses workers. <= 1 means serial calls.
	Workers int
	// DryRun counts candidates without calling the classifier or writing.
	DryRun bool
}

// Result carries the stage counters for one theme run.
type Result struct {
	Candidates      int // eligible records this run
	Sent            int // classifier calls attempted
	Classified      int // calls that produced a merged verdict
	Failed          int // per-record failures, retried next run
	DeferredOverCap int // eligible but beyond the cap, retried next run
}

// Stage runs the AI qualification stage for one theme at a time.
type Stage struct {
	st         *store.Store
	classifier Classifier
	log        *zap.Logger
}

// NewStage returns a qualification stage. A nil logger disables logging.
func NewStage(st *store.Store, classifier Classifier, log *zap.Logger) *Stage {
	if log == nil {
		log = zap.NewNop()
	}
	return &Stage{st: st, classifier: classifier, log: log}
}

// candidate pairs a filter result with its enrichment for batch processing.
type candidate struct {
	fr store.FilterResult
	en store.Enrichment
}

// outcome is one worker's write slot. attempted stays false for candidates
// the run aborted before reaching; those produce no row at all.
type outcome struct {
	attempted bool
	raw       string
	err       error
}

// Run selects the eligible candidates, calls the classifier under the cap,
// and merges the results back.
//
// Candidates are filter-matched, not finalized, and either absent from the
// qualification store or still pending (empty verdict). They are processed
// earliest-date-first. If the classifier is entirely unreachable the
// remainder of the batch is abandoned for this run — results already
// computed in this run are still merged, and nothing is written for
// unattempted candidates.
func (s *Stage) Run(ctx context.Context, theme string, opts Options) (*Result, error) {
	cap := opts.CallCap
	if cap <= 0 {
		cap = DefaultCallCap
	}

	frs, err := s.st.FilterResults(ctx, theme)
	if err != nil {
		return nil, err
	}
	quals, err := s.st.Qualifications(ctx, theme)
	if err != nil {
		return nil, err
	}
	qualByID := make(map[string]store.Qualification, len(quals))
	for _, q := range quals {
		qualByID[q.ID] = q
	}
	ens, err := s.st.Enrichments(ctx, theme)
	if err != nil {
		return nil, err
	}
	enByID := make(map[string]store.Enrichment, len(ens))
	for _, e := range ens {
		enByID[e.ID] = e
	}

	var candidates []candidate
	for _, fr := range frs {
		if !fr.Filtered || fr.Finalized {
			continue
		}
		if q, ok := qualByID[fr.ID]; ok && q.Verdict != "" {
			continue
		}
		candidates = append(candidates, candidate{fr: fr, en: enByID[fr.ID]})
	}
	// FilterResults is date-ordered already; keep the sort explicit since
	// the cap must prefer the earliest-dated candidates.
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].fr.Date.Before(candidates[j].fr.Date)
	})

	res := &Result{Candidates: len(candidates)}
	if len(candidates) > cap {
		res.DeferredOverCap = len(candidates) - cap
		candidates = candidates[:cap]
	}

	if opts.DryRun || len(candidates) == 0 {
		s.log.Info("qualification stage selected candidates",
			zap.String("theme", theme),
			zap.Int("candidates", res.Candidates),
			zap.Int("deferred_over_cap", res.DeferredOverCap),
			zap.Bool("dry_run", opts.DryRun))
		return res, nil
	}

	outcomes := s.classifyBatch(ctx, candidates, opts.Workers)

	var batch []store.Qualification
	var unavailable error
	for i, out := range outcomes {
		if !out.attempted {
			continue
		}
		res.Sent++
		if out.err != nil {
			if errors.Is(out.err, ErrServiceUnavailable) {
				unavailable = out.err
				continue
			}
			// Recoverable: the record stays pending and is retried next run.
			res.Failed++
			s.log.Warn("classification failed for record",
				zap.String("theme", theme),
				zap.String("id", candidates[i].fr.ID),
				zap.Error(out.err))
			continue
		}

		verdict, details := ParseVerdict(out.raw)
		batch = append(batch, store.Qualification{
			Theme:        theme,
			ID:           candidates[i].fr.ID,
			Date:         candidates[i].fr.Date,
			Region:       candidates[i].en.Region,
			Laws:         candidates[i].en.Laws,
			Names:        details.Names,
			Ages:         details.Ages,
			IncidentType: details.IncidentType,
			Equipment:    details.Equipment,
			RawVerdict:   out.raw,
			Verdict:      verdict,
		})
		res.Classified++
	}

	if _, err := s.st.UpsertQualifications(ctx, batch); err != nil {
		return res, err
	}

	s.log.Info("qualification stage complete",
		zap.String("theme", theme),
		zap.String("classifier", s.classifier.Name()),
		zap.Int("candidates", res.Candidates),
		zap.Int("sent", res.Sent),
		zap.Int("classified", res.Classified),
		zap.Int("failed", res.Failed),
		zap.Int("deferred_over_cap", res.DeferredOverCap))

	if unavailable != nil {
		return res, unavailable
	}
	return res, nil
}

// classifyBatch fans the candidates out over a bounded worker pool. Worker w
// owns indexes w, w+workers, w+2*workers, ... — disjoint slots, no locking
// on the results. On an unavailability signal every worker stops claiming
// new work, leaving the rest of the batch unattempted.
func (s *Stage) classifyBatch(ctx context.Context, candidates []candidate, workers int) []outcome {
	outcomes := make([]outcome, len(candidates))
	if workers <= 1 {
		for i := range candidates {
			if ctx.Err() != nil {
				break
			}
			outcomes[i].attempted = true
			outcomes[i].raw, outcomes[i].err = s.classifier.Classify(ctx, candidates[i].fr.TextTranslate)
			if errors.Is(outcomes[i].err, ErrServiceUnavailable) {
				break
			}
		}
		return outcomes
	}

	batchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := w; i < len(candidates); i += workers {
				if batchCtx.Err() != nil {
					return
				}
				outcomes[i].attempted = true
				outcomes[i].raw, outcomes[i].err = s.classifier.Classify(batchCtx, candidates[i].fr.TextTranslate)
				if errors.Is(outcomes[i].err, ErrServiceUnavailable) {
					cancel()
					return
				}
				// A sibling worker hit an outage while this call was in
				// flight; the cancellation is not this record's failure.
				if errors.Is(outcomes[i].err, context.Canceled) && batchCtx.Err() != nil {
					outcomes[i].attempted = false
					return
				}
			}
		}(w)
	}
	wg.Wait()
	return outcomes
}
