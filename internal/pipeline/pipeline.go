// Package pipeline runs the filter → enrich → qualify sequence per theme
// against the shared message population and reports per-run counters.
//
// Themes are independent: each owns its rule set, fingerprint, candidate set
// and downstream tables, and a message filtered-in for one theme and
// filtered-out for another never interferes. Processing is sequential per
// theme — the cost driver is the AI stage's external latency, not local CPU.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/railwatch/railwatch/internal/enrich"
	"github.com/railwatch/railwatch/internal/filter"
	"github.com/railwatch/railwatch/internal/qualify"
	"github.com/railwatch/railwatch/internal/rules"
	"github.com/railwatch/railwatch/internal/store"
)

// Options configures one orchestrator run.
type Options struct {
	// Themes restricts the run to the named themes. Empty = all configured.
	Themes []string
	// CallCap bounds classifier calls per theme per run (<= 0 = default).
	CallCap int
	// Workers sets the AI stage worker pool size (<= 1 = serial).
	Workers int
	// DryRun computes and counts without writing or calling the classifier.
	DryRun bool
}

// ThemeSummary holds one theme's per-run counters.
type ThemeSummary struct {
	Theme            string
	Fingerprint      string
	Population       int
	Reprocessed      int
	FilteredIn       int
	SkippedFinalized int
	Enriched         int
	SentToAI         int
	Classified       int
	Failed           int
	DeferredOverCap  int
	// AISkipped is set when the AI stage was not reached for this theme
	// (classifier outage earlier in the run).
	AISkipped bool
}

// RunSummary is the orchestrator's explicit, returned run report. Nothing
// here is global state.
type RunSummary struct {
	RunID    string
	Started  time.Time
	Duration time.Duration
	Themes   []ThemeSummary
	// Aborted names the fatal condition that stopped the run early, if any.
	Aborted string
}

// Orchestrator wires the stages together over one record store.
type Orchestrator struct {
	st         *store.Store
	ruleSets   []*rules.RuleSet
	ref        *enrich.Reference
	classifier qualify.Classifier
	log        *zap.Logger
}

// New builds an orchestrator. A nil logger disables logging.
func New(st *store.Store, ruleSets []*rules.RuleSet, ref *enrich.Reference, classifier qualify.Classifier, log *zap.Logger) *Orchestrator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Orchestrator{st: st, ruleSets: ruleSets, ref: ref, classifier: classifier, log: log}
}

// Run executes the pipeline per theme and returns the run summary.
//
// A ConfigError aborts before any write. A classifier outage aborts the AI
// stage for the rest of the run: earlier themes keep their merged results,
// later themes still get filtering and enrichment, and everything skipped
// stays eligible next run. The summary is returned even on abort so callers
// can report what did happen.
func (o *Orchestrator) Run(ctx context.Context, opts Options) (*RunSummary, error) {
	summary := &RunSummary{
		RunID:   uuid.NewString(),
		Started: time.Now().UTC(),
	}
	defer func() {
		summary.Duration = time.Since(summary.Started)
	}()

	selected, err := o.selectThemes(opts.Themes)
	if err != nil {
		return summary, err
	}

	o.log.Info("pipeline run starting",
		zap.String("run_id", summary.RunID),
		zap.Int("themes", len(selected)),
		zap.Bool("dry_run", opts.DryRun))

	filterStage := filter.NewController(o.st, o.log)
	enrichStage := enrich.NewStage(o.st, o.ref, o.log)
	qualifyStage := qualify.NewStage(o.st, o.classifier, o.log)

	aiDown := false
	for _, rs := range selected {
		ts := ThemeSummary{Theme: rs.Theme, Fingerprint: rs.Fingerprint()}

		fres, err := filterStage.Run(ctx, rs, opts.DryRun)
		if err != nil {
			summary.Aborted = fmt.Sprintf("filter stage for theme %s: %v", rs.Theme, err)
			summary.Themes = append(summary.Themes, ts)
			return summary, err
		}
		ts.Population = fres.Population
		ts.Reprocessed = fres.Reprocessed
		ts.FilteredIn = fres.FilteredIn
		ts.SkippedFinalized = fres.SkippedFinalized

		eres, err := enrichStage.Run(ctx, rs.Theme, opts.DryRun)
		if err != nil {
			summary.Aborted = fmt.Sprintf("enrichment stage for theme %s: %v", rs.Theme, err)
			summary.Themes = append(summary.Themes, ts)
			return summary, err
		}
		ts.Enriched = eres.Enriched

		if aiDown {
			ts.AISkipped = true
			summary.Themes = append(summary.Themes, ts)
			continue
		}

		qres, err := qualifyStage.Run(ctx, rs.Theme, qualify.Options{
			CallCap: opts.CallCap,
			Workers: opts.Workers,
			DryRun:  opts.DryRun,
		})
		if qres != nil {
			ts.SentToAI = qres.Sent
			ts.Classified = qres.Classified
			ts.Failed = qres.Failed
			ts.DeferredOverCap = qres.DeferredOverCap
		}
		if err != nil {
			if errors.Is(err, qualify.ErrServiceUnavailable) {
				// Fatal for this run's AI stage, not for the pipeline.
				// Results merged before the outage stay committed.
				aiDown = true
				summary.Aborted = fmt.Sprintf("classifier unavailable: %v", err)
				o.log.Warn("classifier unavailable, skipping AI stage for remaining themes",
					zap.String("theme", rs.Theme), zap.Error(err))
			} else {
				summary.Aborted = fmt.Sprintf("qualification stage for theme %s: %v", rs.Theme, err)
				summary.Themes = append(summary.Themes, ts)
				return summary, err
			}
		}
		summary.Themes = append(summary.Themes, ts)
	}

	o.log.Info("pipeline run finished",
		zap.String("run_id", summary.RunID),
		zap.Duration("duration", time.Since(summary.Started)),
		zap.String("aborted", summary.Aborted))
	return summary, nil
}

func (o *Orchestrator) selectThemes(names []string) ([]*rules.RuleSet, error) {
	if len(names) == 0 {
		return o.ruleSets, nil
	}
	byName := make(map[string]*rules.RuleSet, len(o.ruleSets))
	for _, rs := range o.ruleSets {
		byName[rs.Theme] = rs
	}
	var out []*rules.RuleSet
	for _, name := range names {
		rs, ok := byName[name]
		if !ok {
			return nil, &rules.ConfigError{Theme: name, Detail: "theme is not configured"}
		}
		out = append(out, rs)
	}
	return out, nil
}
