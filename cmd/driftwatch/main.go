// Command driftwatch is the CLI surface over the observation pipeline:
// hook entrypoints (score, classify, inject), memory maintenance
// (consolidate), and the proposal workflow (analyze, staged, apply).
package main

// #region imports
import (
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/danielpatrickdp/driftwatch/internal/classify"
	"github.com/danielpatrickdp/driftwatch/internal/config"
	"github.com/danielpatrickdp/driftwatch/internal/consolidate"
	"github.com/danielpatrickdp/driftwatch/internal/drift"
	"github.com/danielpatrickdp/driftwatch/internal/fitness"
	"github.com/danielpatrickdp/driftwatch/internal/foundry"
	"github.com/danielpatrickdp/driftwatch/internal/inject"
	"github.com/danielpatrickdp/driftwatch/internal/ledger"
	"github.com/danielpatrickdp/driftwatch/internal/observe"
	"github.com/danielpatrickdp/driftwatch/internal/provenance"
	"github.com/danielpatrickdp/driftwatch/internal/thresholds"
)

// #endregion

// #region globals
var (
	verbose bool
	logger  *zap.Logger
)

// #endregion

// #region runtime

// runtime bundles the shared state handles the subcommands operate on.
type runtime struct {
	cfg      *config.Config
	store    *ledger.Store
	tags     *classify.TagStore
	tracker  *fitness.Tracker
	detector *drift.Detector
	audit    *provenance.Store
}

func newRuntime() (*runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	store, err := ledger.New(cfg.DataDir, rand.Float64)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	rt := &runtime{
		cfg:      cfg,
		store:    store,
		tags:     classify.NewTagStore(cfg.DataDir),
		tracker:  fitness.NewTracker(store),
		detector: drift.NewDetector(thresholds.NewStore(store.ThresholdsPath()), store.CorrectionsPath()),
	}
	if cfg.Audit {
		audit, err := provenance.Open(store.ProvenancePath())
		if err != nil {
			logger.Warn("audit trail unavailable", zap.Error(err))
		} else {
			rt.audit = audit
		}
	}
	return rt, nil
}

func (rt *runtime) close() {
	if rt.audit != nil {
		_ = rt.audit.Close()
	}
}

func (rt *runtime) pipeline() *observe.Pipeline {
	return &observe.Pipeline{
		Store:      rt.store,
		Tags:       rt.tags,
		Detector:   rt.detector,
		Fitness:    rt.tracker,
		RotateProb: rt.cfg.RotateProb,
	}
}

// #endregion

// #region hook-payload

// hookPayload is the JSON document hook invocations receive on stdin.
type hookPayload struct {
	TranscriptPath string `json:"transcript_path"`
	Prompt         string `json:"prompt"`
	Source         string `json:"source"`
}

func readHookPayload(r io.Reader) hookPayload {
	var p hookPayload
	b, err := io.ReadAll(r)
	if err != nil {
		return p
	}
	_ = json.Unmarshal(b, &p)
	return p
}

// #endregion

// #region root

var rootCmd = &cobra.Command{
	Use:   "driftwatch",
	Short: "Score responses for cognitive load and correct drift",
	Long: `driftwatch watches generated responses for cognitive-load drift:
filler phrases, buried answers, low information density. Detected drift
selects a correction from a decision table; the next response's scores
close the feedback loop and feed pattern consolidation.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg := zap.NewProductionConfig()
		if verbose {
			cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = cfg.Build()
		if err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// #endregion

// #region score-cmd

var scoreHook bool
var scoreTranscript string

var scoreCmd = &cobra.Command{
	Use:   "score [text]",
	Short: "Score a response and run the drift loop",
	Long: `Scores one response and runs the full loop: append to the score
ledger, close any pending correction, detect drift, raise the drift flag.

With --hook, reads a JSON payload with transcript_path from stdin and
scores the transcript's final assistant message.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newRuntime()
		if err != nil {
			return err
		}
		defer rt.close()
		p := rt.pipeline()

		var res *observe.Result
		switch {
		case scoreHook:
			payload := readHookPayload(cmd.InOrStdin())
			res, err = p.ObserveTranscript(payload.TranscriptPath)
		case scoreTranscript != "":
			res, err = p.ObserveTranscript(scoreTranscript)
		case len(args) > 0:
			res, err = p.ObserveText(strings.Join(args, " "))
		default:
			b, rerr := io.ReadAll(cmd.InOrStdin())
			if rerr != nil {
				return fmt.Errorf("read stdin: %w", rerr)
			}
			res, err = p.ObserveText(strings.TrimSpace(string(b)))
		}
		if err != nil {
			return err
		}
		if res == nil {
			return nil
		}
		if res.Verdict != nil {
			logger.Info("drift detected",
				zap.Strings("categories", res.Verdict.Categories),
				zap.String("severity", res.Verdict.Severity))
		}
		return printJSON(cmd.OutOrStdout(), res)
	},
}

// #endregion

// #region classify-cmd

var classifyHook bool

var classifyCmd = &cobra.Command{
	Use:   "classify [prompt]",
	Short: "Classify a prompt's query type and tag the turn",
	Long: `Classifies a prompt into a query type (factual, diagnostic, code,
emotional, claim, meta, ambiguous) and writes the tag for the scorer's
threshold lookup. With --hook, reads a JSON payload with prompt from stdin.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newRuntime()
		if err != nil {
			return err
		}
		defer rt.close()

		prompt := strings.Join(args, " ")
		if classifyHook {
			prompt = readHookPayload(cmd.InOrStdin()).Prompt
		}
		tag := classify.Classify(prompt)
		if err := rt.tags.Write(tag); err != nil {
			return fmt.Errorf("write query tag: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), tag)
		return nil
	},
}

// #endregion

// #region inject-cmd

var injectHook bool
var injectSource string

var injectCmd = &cobra.Command{
	Use:   "inject",
	Short: "Assemble session-start context fragments",
	Long: `Marks a session start and assembles the context fragments for it:
behavioral anchor, pending drift correction, and rolling stats. Consuming
a correction records it as pending so the next score closes the loop.
Occasionally runs memory consolidation. With --hook, reads a JSON payload
with source from stdin.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newRuntime()
		if err != nil {
			return err
		}
		defer rt.close()

		source := injectSource
		if injectHook {
			if s := readHookPayload(cmd.InOrStdin()).Source; s != "" {
				source = s
			}
		}
		if err := rt.store.AppendSessionMarker(source); err != nil {
			return fmt.Errorf("append session marker: %w", err)
		}

		if rt.store.Sample() < rt.cfg.ConsolidateProb {
			runConsolidation(rt)
		}

		res, err := inject.New(rt.store, rt.tracker).Assemble(source)
		if err != nil {
			return err
		}
		for _, f := range res.Fragments {
			fmt.Fprintln(cmd.OutOrStdout(), f)
		}
		return nil
	},
}

// runConsolidation runs one consolidation pass plus a foundry analysis,
// logging rather than failing the session start on error.
func runConsolidation(rt *runtime) {
	report, err := consolidate.New(rt.store).Run()
	if err != nil {
		logger.Warn("consolidation failed", zap.Error(err))
		return
	}
	logger.Debug("consolidation ran", zap.String("status", report.Status))
	if rt.audit != nil {
		_ = rt.audit.RecordConsolidation(provenance.ConsolidationRun{
			Status:            report.Status,
			SessionsAnalyzed:  report.SessionsAnalyzed,
			PatternsValidated: report.PatternsValidated,
			PatternsAdded:     len(report.PatternsAdded),
			PatternsStale:     len(report.PatternsStale),
		})
	}
	if _, err := foundry.New(rt.store).Analyze(); err != nil {
		logger.Warn("foundry analysis failed", zap.Error(err))
	}
}

// #endregion

// #region consolidate-cmd

var consolidateCmd = &cobra.Command{
	Use:   "consolidate",
	Short: "Run memory consolidation now",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newRuntime()
		if err != nil {
			return err
		}
		defer rt.close()

		report, err := consolidate.New(rt.store).Run()
		if err != nil {
			return err
		}
		if rt.audit != nil {
			_ = rt.audit.RecordConsolidation(provenance.ConsolidationRun{
				Status:            report.Status,
				SessionsAnalyzed:  report.SessionsAnalyzed,
				PatternsValidated: report.PatternsValidated,
				PatternsAdded:     len(report.PatternsAdded),
				PatternsStale:     len(report.PatternsStale),
			})
		}
		return printJSON(cmd.OutOrStdout(), report)
	},
}

// #endregion

// #region foundry-cmds

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Analyze patterns and outcomes, stage decision-table proposals",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newRuntime()
		if err != nil {
			return err
		}
		defer rt.close()

		report, err := foundry.New(rt.store).Analyze()
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), report)
	},
}

var stagedCmd = &cobra.Command{
	Use:   "staged",
	Short: "List staged decision-table proposals",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newRuntime()
		if err != nil {
			return err
		}
		defer rt.close()

		proposals := foundry.New(rt.store).Staged()
		if proposals == nil {
			proposals = []foundry.Proposal{}
		}
		return printJSON(cmd.OutOrStdout(), proposals)
	},
}

var applyIndices string

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply staged proposals to the decision table",
	Long: `Applies the staged proposals named by --indices to the live
decision table. Nothing reaches the table without this explicit step.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newRuntime()
		if err != nil {
			return err
		}
		defer rt.close()

		indices, err := parseIndices(applyIndices)
		if err != nil {
			return err
		}
		f := foundry.New(rt.store)
		if rt.audit != nil {
			f.SetAuditor(rt.audit)
		}
		report, err := f.Apply(indices)
		if err != nil {
			return err
		}
		logger.Info("proposals applied",
			zap.Int("applied", report.Applied),
			zap.Int("table_version", report.CorrectionsVersion))
		return printJSON(cmd.OutOrStdout(), report)
	},
}

func parseIndices(s string) ([]int, error) {
	if strings.TrimSpace(s) == "" {
		return nil, fmt.Errorf("--indices is required, e.g. --indices 0,2")
	}
	var out []int
	for _, part := range strings.Split(s, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("bad index %q: %w", part, err)
		}
		out = append(out, n)
	}
	return out, nil
}

// #endregion

// #region stats-cmd

var statsDays int

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show rolling score and correction stats",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newRuntime()
		if err != nil {
			return err
		}
		defer rt.close()

		out := struct {
			Days        int                 `json:"days"`
			Scores      *ledger.Stats       `json:"scores,omitempty"`
			Corrections *fitness.RateReport `json:"corrections,omitempty"`
		}{Days: statsDays}

		if s, ok := rt.store.RollingStats(statsDays); ok {
			out.Scores = &s
		}
		if r, ok := rt.tracker.Rate(statsDays); ok {
			out.Corrections = &r
		}
		return printJSON(cmd.OutOrStdout(), out)
	},
}

// #endregion

// #region doctor-cmd

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check observation state health",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newRuntime()
		if err != nil {
			return err
		}
		defer rt.close()

		table := drift.LoadTable(rt.store.CorrectionsPath())
		scores, _ := rt.store.Scores()
		patterns := consolidate.New(rt.store).LoadPatterns()

		probe := filepath.Join(rt.cfg.DataDir, ".doctor-probe")
		writable := os.WriteFile(probe, []byte("ok"), 0o644) == nil
		_ = os.Remove(probe)

		out := struct {
			DataDir      string `json:"data_dir"`
			Writable     bool   `json:"writable"`
			ScoreEntries int    `json:"score_entries"`
			TableVersion int    `json:"table_version"`
			TableRules   int    `json:"table_rules"`
			Patterns     int    `json:"patterns"`
			StagedCount  int    `json:"staged"`
			AuditEnabled bool   `json:"audit_enabled"`
		}{
			DataDir:      rt.cfg.DataDir,
			Writable:     writable,
			ScoreEntries: len(scores),
			TableVersion: table.Version,
			TableRules:   len(table.Strategies),
			Patterns:     len(patterns),
			StagedCount:  len(foundry.New(rt.store).Staged()),
			AuditEnabled: rt.audit != nil,
		}
		return printJSON(cmd.OutOrStdout(), out)
	},
}

// #endregion

// #region audit-cmd

var auditLimit int

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Show the provenance trail of table applies and consolidation runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newRuntime()
		if err != nil {
			return err
		}
		defer rt.close()
		if rt.audit == nil {
			return fmt.Errorf("audit trail disabled or unavailable")
		}

		applies, err := rt.audit.Applies(auditLimit)
		if err != nil {
			return err
		}
		runs, err := rt.audit.Consolidations(auditLimit)
		if err != nil {
			return err
		}
		out := struct {
			Applies        []provenance.ApplyRecord      `json:"applies"`
			Consolidations []provenance.ConsolidationRun `json:"consolidations"`
		}{Applies: applies, Consolidations: runs}
		return printJSON(cmd.OutOrStdout(), out)
	},
}

// #endregion

// #region init-cmd

var initConfigPath string

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the data directory and a default config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if _, err := ledger.New(cfg.DataDir, nil); err != nil {
			return err
		}
		path := initConfigPath
		if path == "" {
			path = filepath.Join(cfg.DataDir, "config.yaml")
		}
		if err := config.WriteDefault(path); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "data dir: %s\nconfig:   %s\n", cfg.DataDir, path)
		return nil
	},
}

// #endregion

// #region helpers

func printJSON(w io.Writer, v interface{}) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	fmt.Fprintln(w, string(b))
	return nil
}

// #endregion

// #region main

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	scoreCmd.Flags().BoolVar(&scoreHook, "hook", false, "read hook payload from stdin")
	scoreCmd.Flags().StringVar(&scoreTranscript, "transcript", "", "score a transcript file's last assistant message")
	classifyCmd.Flags().BoolVar(&classifyHook, "hook", false, "read hook payload from stdin")
	injectCmd.Flags().BoolVar(&injectHook, "hook", false, "read hook payload from stdin")
	injectCmd.Flags().StringVar(&injectSource, "source", "startup", "session source: startup, resume, clear, compact")
	applyCmd.Flags().StringVar(&applyIndices, "indices", "", "comma-separated staged indices to apply")
	statsCmd.Flags().IntVar(&statsDays, "days", 7, "rolling window in days")
	initCmd.Flags().StringVar(&initConfigPath, "config", "", "where to write the default config file")
	auditCmd.Flags().IntVar(&auditLimit, "limit", 20, "max records per section")

	rootCmd.AddCommand(initCmd, scoreCmd, classifyCmd, injectCmd, consolidateCmd,
		analyzeCmd, stagedCmd, applyCmd, statsCmd, doctorCmd, auditCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// #endregion
