package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/railwatch/railwatch/internal/config"
	"github.com/railwatch/railwatch/internal/enrich"
	"github.com/railwatch/railwatch/internal/ingest"
	mcpserver "github.com/railwatch/railwatch/internal/mcp"
	"github.com/railwatch/railwatch/internal/pipeline"
	"github.com/railwatch/railwatch/internal/qualify"
	"github.com/railwatch/railwatch/internal/rules"
	"github.com/railwatch/railwatch/internal/store"
)

const version = "0.3.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(0)
	}

	var err error
	switch os.Args[1] {
	case "import":
		err = runImport(os.Args[2:])
	case "run":
		err = runPipeline(os.Args[2:])
	case "stats":
		err = runStats(os.Args[2:])
	case "themes":
		err = runThemes(os.Args[2:])
	case "finalize":
		err = runFinalize(os.Args[2:])
	case "serve-mcp":
		err = runServeMCP(os.Args[2:])
	case "version", "--version", "-v":
		fmt.Printf("railwatch %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`railwatch - incremental social-media incident classification

Usage:
  railwatch import <path>...                      Load message source CSV/JSON exports
  railwatch run [--theme <name>] [--cap N]
                [--workers N] [--dry-run]         Run the pipeline
  railwatch stats                                 Show per-theme store counters
  railwatch themes                                List themes and rule fingerprints
  railwatch finalize <theme> <id>                 Promote a record to curated status
  railwatch serve-mcp                             Serve tools over MCP (stdio)
  railwatch version

Global flags (every command): [--config <path>] [--db <path>] [--rules <path>]`)
}

// splitGlobalFlags peels --config/--db/--rules off any argument list.
func splitGlobalFlags(args []string) (config.Overrides, []string, error) {
	var opts config.Overrides
	var rest []string
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--config", "--db", "--rules":
			if i+1 >= len(args) {
				return opts, nil, fmt.Errorf("%s needs a value", args[i])
			}
			switch args[i] {
			case "--config":
				opts.ConfigPath = args[i+1]
			case "--db":
				opts.DBPath = args[i+1]
			case "--rules":
				opts.RulesPath = args[i+1]
			}
			i++
		default:
			rest = append(rest, args[i])
		}
	}
	return opts, rest, nil
}

// app bundles the wired dependencies behind every command.
type app struct {
	cfg   *config.Config
	st    *store.Store
	log   *zap.Logger
	rules []*rules.RuleSet
	ref   *enrich.Reference
}

func newApp(overrides config.Overrides, needRules bool) (*app, error) {
	cfg, err := config.Resolve(overrides)
	if err != nil {
		return nil, err
	}

	log, err := zap.NewProduction()
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}

	st, err := store.Open(store.Config{DBPath: cfg.DBPath})
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, st: st, log: log}
	if needRules {
		if cfg.RulesPath == "" {
			return nil, fmt.Errorf("no rules file configured (--rules, RAILWATCH_RULES or rules_path)")
		}
		if a.rules, err = rules.Load(cfg.RulesPath); err != nil {
			return nil, err
		}
		if cfg.ReferencePath != "" {
			if a.ref, err = enrich.LoadReference(cfg.ReferencePath); err != nil {
				return nil, err
			}
		} else {
			// No reference data: enrichment still runs, it just never
			// resolves a region or law.
			if a.ref, err = enrich.NewReference(nil, nil); err != nil {
				return nil, err
			}
		}
	}
	return a, nil
}

func (a *app) close() {
	a.st.Close()
	_ = a.log.Sync()
}

func (a *app) orchestrator() *pipeline.Orchestrator {
	classifier := qualify.NewOpenAIClassifier(qualify.OpenAIConfig{
		APIKey:  a.cfg.OpenAIAPIKey,
		BaseURL: a.cfg.OpenAIBaseURL,
		Model:   a.cfg.OpenAIModel,
		Topic:   a.cfg.Topic,
		RPS:     a.cfg.RPS,
	})
	return pipeline.New(a.st, a.rules, a.ref, classifier, a.log)
}

func runImport(args []string) error {
	overrides, paths, err := splitGlobalFlags(args)
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		return fmt.Errorf("usage: railwatch import <path>...")
	}

	a, err := newApp(overrides, false)
	if err != nil {
		return err
	}
	defer a.close()

	imp := ingest.NewImporter(a.st, a.log)
	total := 0
	for _, path := range paths {
		n, err := imp.ImportFile(context.Background(), path)
		if err != nil {
			return err
		}
		total += n
	}
	fmt.Printf("Imported %d messages from %d file(s)\n", total, len(paths))
	return nil
}

func runPipeline(args []string) error {
	overrides, rest, err := splitGlobalFlags(args)
	if err != nil {
		return err
	}

	opts := pipeline.Options{}
	for i := 0; i < len(rest); i++ {
		switch rest[i] {
		case "--theme":
			if i+1 >= len(rest) {
				return fmt.Errorf("--theme needs a value")
			}
			opts.Themes = append(opts.Themes, rest[i+1])
			i++
		case "--cap":
			if i+1 >= len(rest) {
				return fmt.Errorf("--cap needs a value")
			}
			n, err := strconv.Atoi(rest[i+1])
			if err != nil || n <= 0 {
				return fmt.Errorf("invalid --cap %q", rest[i+1])
			}
			opts.CallCap = n
			i++
		case "--workers":
			if i+1 >= len(rest) {
				return fmt.Errorf("--workers needs a value")
			}
			n, err := strconv.Atoi(rest[i+1])
			if err != nil || n <= 0 {
				return fmt.Errorf("invalid --workers %q", rest[i+1])
			}
			opts.Workers = n
			i++
		case "--dry-run", "-n":
			opts.DryRun = true
		default:
			return fmt.Errorf("unknown flag: %s", rest[i])
		}
	}

	a, err := newApp(overrides, true)
	if err != nil {
		return err
	}
	defer a.close()

	if opts.CallCap == 0 {
		opts.CallCap = a.cfg.CallCap
	}
	if opts.Workers == 0 {
		opts.Workers = a.cfg.Workers
	}

	summary, runErr := a.orchestrator().Run(context.Background(), opts)
	printSummary(summary)
	return runErr
}

func printSummary(s *pipeline.RunSummary) {
	fmt.Printf("Run %s (%.1fs)\n", s.RunID, s.Duration.Seconds())
	for _, ts := range s.Themes {
		fmt.Printf("  %-12s filtered-in %d/%d reprocessed, %d finalized skipped, "+
			"AI sent %d classified %d failed %d deferred %d\n",
			ts.Theme, ts.FilteredIn, ts.Reprocessed, ts.SkippedFinalized,
			ts.SentToAI, ts.Classified, ts.Failed, ts.DeferredOverCap)
		if ts.AISkipped {
			fmt.Printf("  %-12s AI stage skipped (classifier unavailable)\n", ts.Theme)
		}
	}
	if s.Aborted != "" {
		fmt.Printf("Aborted: %s\n", s.Aborted)
	}
}

func runStats(args []string) error {
	overrides, _, err := splitGlobalFlags(args)
	if err != nil {
		return err
	}
	a, err := newApp(overrides, false)
	if err != nil {
		return err
	}
	defer a.close()

	stats, err := a.st.ReadStats(context.Background())
	if err != nil {
		return err
	}

	fmt.Printf("Messages: %d\n", stats.Messages)
	themes := make([]string, 0, len(stats.FilterResults))
	for theme := range stats.FilterResults {
		themes = append(themes, theme)
	}
	sort.Strings(themes)
	for _, theme := range themes {
		fmt.Printf("  %-12s filter rows %d (matched %d, finalized %d), qualifications %d (pending %d)\n",
			theme, stats.FilterResults[theme], stats.FilteredIn[theme], stats.Finalized[theme],
			stats.Qualifications[theme], stats.Pending[theme])
	}
	return nil
}

func runThemes(args []string) error {
	overrides, _, err := splitGlobalFlags(args)
	if err != nil {
		return err
	}
	a, err := newApp(overrides, true)
	if err != nil {
		return err
	}
	defer a.close()

	for _, rs := range a.rules {
		strategies := make([]string, len(rs.Rules))
		for i, r := range rs.Rules {
			strategies[i] = r.Strategy.String()
		}
		fmt.Printf("%-12s %s  rules: %s\n", rs.Theme, rs.Fingerprint(), strings.Join(strategies, ", "))
	}
	return nil
}

func runFinalize(args []string) error {
	overrides, rest, err := splitGlobalFlags(args)
	if err != nil {
		return err
	}
	if len(rest) != 2 {
		return fmt.Errorf("usage: railwatch finalize <theme> <id>")
	}
	a, err := newApp(overrides, false)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.st.SetFinalized(context.Background(), rest[0], rest[1], true); err != nil {
		return err
	}
	fmt.Printf("Finalized %s/%s: automated stages will not touch it again\n", rest[0], rest[1])
	return nil
}

func runServeMCP(args []string) error {
	overrides, _, err := splitGlobalFlags(args)
	if err != nil {
		return err
	}
	a, err := newApp(overrides, true)
	if err != nil {
		return err
	}
	defer a.close()

	s := mcpserver.NewServer(mcpserver.ServerConfig{
		Store:        a.st,
		Orchestrator: a.orchestrator(),
		Version:      version,
	})
	return server.ServeStdio(s)
}
