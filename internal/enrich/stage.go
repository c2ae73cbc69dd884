package enrich

import (
	"context"

	"go.uber.org/zap"

	"github.com/railwatch/railwatch/internal/store"
)

// Result carries the stage counters for one theme run.
type Result struct {
	Enriched int // rows computed and merged
	Regions  int // rows with an unambiguous region
	WithLaws int // rows with at least one law code
}

// Stage populates a theme's pre-classification table from the filter-matched
// population. The heuristics are deterministic, so recomputing the whole
// matched set every run is idempotent: an unchanged population yields a
// byte-identical table.
type Stage struct {
	st  *store.Store
	ref *Reference
	log *zap.Logger
}

// NewStage returns an enrichment stage. A nil logger disables logging.
func NewStage(st *store.Store, ref *Reference, log *zap.Logger) *Stage {
	if log == nil {
		log = zap.NewNop()
	}
	return &Stage{st: st, ref: ref, log: log}
}

// Run computes region/law heuristics for every filter-matched, non-finalized
// record of the theme and upsert-merges them.
func (s *Stage) Run(ctx context.Context, theme string, dryRun bool) (*Result, error) {
	frs, err := s.st.FilterResults(ctx, theme)
	if err != nil {
		return nil, err
	}

	res := &Result{}
	var batch []store.Enrichment
	for _, fr := range frs {
		if !fr.Filtered || fr.Finalized {
			continue
		}
		e := store.Enrichment{
			Theme:  theme,
			ID:     fr.ID,
			Date:   fr.Date,
			Region: s.ref.Region(fr.TextTranslate),
			Laws:   s.ref.LawsJoined(fr.TextTranslate),
		}
		if e.Region != "" {
			res.Regions++
		}
		if e.Laws != "" {
			res.WithLaws++
		}
		batch = append(batch, e)
	}

	if !dryRun {
		written, err := s.st.UpsertEnrichments(ctx, batch)
		if err != nil {
			return nil, err
		}
		res.Enriched = written
	}

	s.log.Info("enrichment stage complete",
		zap.String("theme", theme),
		zap.Int("enriched", len(batch)),
		zap.Int("regions", res.Regions),
		zap.Int("with_laws", res.WithLaws),
		zap.Bool("dry_run", dryRun))
	return res, nil
}
