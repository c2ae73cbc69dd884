// Package filter implements the keyword filter stage: it applies a theme's
// ordered rules to exactly the population that needs reprocessing and merges
// the outcome back idempotently.
package filter

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/railwatch/railwatch/internal/rules"
	"github.com/railwatch/railwatch/internal/store"
)

// Result carries the stage counters for one theme run.
type Result struct {
	Population       int // combined message population size
	Reprocessed      int // records (re)evaluated this run
	FilteredIn       int // reprocessed records that matched
	SkippedFinalized int // fingerprint-invalidated but finalized, left alone
	Written          int // rows merged into the filter-result table
}

// Controller runs the filter stage against the record store.
type Controller struct {
	st  *store.Store
	log *zap.Logger
}

// NewController returns a filter stage controller. A nil logger disables
// logging.
func NewController(st *store.Store, log *zap.Logger) *Controller {
	if log == nil {
		log = zap.NewNop()
	}
	return &Controller{st: st, log: log}
}

// Run applies rs to the combined message population and merges the results
// into the theme's filter-result table.
//
// The reprocessing population is: records absent from the prior table, plus
// records whose stored fingerprint differs from the current one and that are
// not finalized. Finalized rows are never touched, even during a
// fingerprint-triggered global reprocessing pass. When dryRun is set the
// stage computes everything but writes nothing.
func (c *Controller) Run(ctx context.Context, rs *rules.RuleSet, dryRun bool) (*Result, error) {
	fingerprint := rs.Fingerprint()

	msgs, err := c.st.ListMessages(ctx)
	if err != nil {
		return nil, err
	}
	prior, err := c.st.FilterResults(ctx, rs.Theme)
	if err != nil {
		return nil, err
	}
	priorByID := make(map[string]store.FilterResult, len(prior))
	for _, fr := range prior {
		priorByID[fr.ID] = fr
	}

	res := &Result{Population: len(msgs)}
	batch := make([]store.FilterResult, 0, len(msgs))
	for _, m := range msgs {
		old, seen := priorByID[m.ID]
		if seen {
			if old.RuleFingerprint == fingerprint {
				continue // up to date
			}
			if old.Finalized {
				res.SkippedFinalized++
				continue
			}
		}

		fr := store.FilterResult{
			Theme:           rs.Theme,
			ID:              m.ID,
			Date:            m.Date,
			TextOriginal:    m.TextOriginal,
			TextTranslate:   m.TextTranslate,
			URL:             m.URL,
			RuleFingerprint: fingerprint,
		}

		// Seed from an externally applied theme tag, then fall back to the
		// rules. Records with no translated text get a determination too —
		// it is just always negative unless pre-labeled.
		if hasPreLabel(m.PreLabel, rs.Theme) {
			fr.Filtered = true
		} else if strings.TrimSpace(m.TextTranslate) != "" {
			fr.Filtered, fr.FoundTerms = rs.Evaluate(m.TextTranslate)
		}

		if fr.Filtered {
			res.FilteredIn++
		}
		res.Reprocessed++
		batch = append(batch, fr)
	}

	if !dryRun {
		written, err := c.st.UpsertFilterResults(ctx, batch)
		if err != nil {
			return nil, err
		}
		res.Written = written
	}

	c.log.Info("filter stage complete",
		zap.String("theme", rs.Theme),
		zap.String("fingerprint", fingerprint),
		zap.Int("population", res.Population),
		zap.Int("reprocessed", res.Reprocessed),
		zap.Int("filtered_in", res.FilteredIn),
		zap.Int("skipped_finalized", res.SkippedFinalized),
		zap.Bool("dry_run", dryRun))
	return res, nil
}

// hasPreLabel reports whether the comma-separated pre-label field carries
// the theme's tag.
func hasPreLabel(preLabel, theme string) bool {
	if preLabel == "" {
		return false
	}
	for _, tag := range strings.Split(preLabel, ",") {
		if strings.EqualFold(strings.TrimSpace(tag), theme) {
			return true
		}
	}
	return false
}
