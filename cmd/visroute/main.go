package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"text/tabwriter"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/zen-systems/visroute/pkg/archive"
	"github.com/zen-systems/visroute/pkg/capability"
	"github.com/zen-systems/visroute/pkg/config"
	"github.com/zen-systems/visroute/pkg/eval"
	"github.com/zen-systems/visroute/pkg/logging"
	"github.com/zen-systems/visroute/pkg/metrics"
	"github.com/zen-systems/visroute/pkg/router"
)

var (
	configFile   string
	logLevelFlag string
	mockFlag     bool
	timeoutFlag  time.Duration
	catalog      *config.Catalog
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "visroute",
		Short: "Consistency-gated routing between vision-language models and object localizers",
		Long: `Visroute answers questions about images with a vision-language model.
It samples several answers, measures how much they agree, and only when they
disagree escalates to an object localizer (for "where is..." questions) or
draws more samples before voting.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to routing config file")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "override the configured log level")
	rootCmd.PersistentFlags().BoolVar(&mockFlag, "mock", false, "use scripted mock capabilities instead of real backends")
	rootCmd.PersistentFlags().DurationVar(&timeoutFlag, "timeout", 0, "overall deadline for the command (0 for none)")

	rootCmd.AddCommand(askCmd())
	rootCmd.AddCommand(evalCmd())
	rootCmd.AddCommand(runsCmd())
	rootCmd.AddCommand(routesCmd())
	rootCmd.AddCommand(modelsCmd())

	err := rootCmd.Execute()
	logging.Close()
	if err != nil {
		os.Exit(1)
	}
}

func askCmd() *cobra.Command {
	var imagePath string
	var sampleBudget int
	var threshold float64
	var jsonFlag bool

	cmd := &cobra.Command{
		Use:   "ask --image PATH [question]",
		Short: "Answer one question about an image",
		Long: `Routes a single question through the escalation state machine and prints
the answer together with the path taken.

Use --k and --threshold to override sample_budget and consistency_threshold
from routing.yaml.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := args[0]

			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			img, err := capability.LoadImage(imagePath)
			if err != nil {
				return err
			}

			ctx, cancel := commandContext()
			defer cancel()

			r, err := newRouter(ctx, cfg)
			if err != nil {
				return err
			}

			p := cfg.RoutingConfig.Params()
			if cmd.Flags().Changed("k") {
				p.SampleBudget = sampleBudget
			}
			if cmd.Flags().Changed("threshold") {
				p.Threshold = threshold
			}

			d, err := r.Route(ctx, img, query, p)
			if err != nil {
				return err
			}

			if jsonFlag {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(d)
			}

			fmt.Println(d.Answer.String())
			w := tabwriter.NewWriter(os.Stderr, 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "state\t%s\n", d.State)
			fmt.Fprintf(w, "consistency\t%.3f (threshold %.3f)\n", d.Consistency, p.Threshold)
			fmt.Fprintf(w, "samples\t%d\n", d.SamplesUsed)
			fmt.Fprintf(w, "capabilities\t%s\n", formatKinds(d.Capabilities))
			if len(d.Triggers) > 0 {
				fmt.Fprintf(w, "triggers\t%s\n", strings.Join(d.Triggers, ", "))
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&imagePath, "image", "", "path to the image (PNG, JPEG or GIF)")
	cmd.Flags().IntVar(&sampleBudget, "k", 5, "sample budget; each round draws k/2+1 samples")
	cmd.Flags().Float64Var(&threshold, "threshold", 0.6, "consistency threshold in [0, 1]")
	cmd.Flags().BoolVar(&jsonFlag, "json", false, "print the full decision as JSON")
	_ = cmd.MarkFlagRequired("image")

	return cmd
}

func evalCmd() *cobra.Command {
	var datasetPath string
	var parallel int
	var archiveFlag bool
	var metricsAddr string
	var jsonFlag bool

	cmd := &cobra.Command{
		Use:   "eval --dataset FILE",
		Short: "Evaluate routing accuracy over a labeled dataset",
		Long: `Routes every dataset item, scores the answers against the reference
answers and prints per-item records plus accuracy, average samples and
escalation rate.

Items that are malformed or whose route fails are logged and skipped.
Use --archive to store the report and index it for "visroute runs".
Use --metrics-addr to expose Prometheus metrics while the run is in progress.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			entries, err := eval.LoadDataset(datasetPath)
			if err != nil {
				return fmt.Errorf("failed to load dataset: %w", err)
			}

			ctx, cancel := commandContext()
			defer cancel()

			recorder := metrics.NewRecorder()
			if metricsAddr != "" {
				srv := serveMetrics(metricsAddr, recorder)
				defer srv.Close()
			}

			r, err := newRouter(ctx, cfg, router.WithObserver(recorder))
			if err != nil {
				return err
			}

			if !cmd.Flags().Changed("parallel") {
				parallel = cfg.RoutingConfig.Eval.Parallelism
			}
			h := eval.New(r,
				eval.WithParallelism(parallel),
				eval.WithPredictionMaxLen(cfg.RoutingConfig.Eval.PredictionMaxLen),
				eval.WithObserver(recorder),
			)

			report, evalErr := h.Evaluate(ctx, entries, cfg.RoutingConfig.Params())
			if report == nil {
				return evalErr
			}

			if jsonFlag {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				if err := enc.Encode(report); err != nil {
					return err
				}
			} else if err := printReport(report); err != nil {
				return err
			}

			if archiveFlag {
				store, err := archive.NewStore("")
				if err != nil {
					return fmt.Errorf("failed to open archive: %w", err)
				}
				defer store.Close()
				ref, err := store.ArchiveReport(context.Background(), report, datasetPath)
				if err != nil {
					return fmt.Errorf("failed to archive report: %w", err)
				}
				fmt.Fprintf(os.Stderr, "Archived run %s as %s\n", report.RunID, ref.SHA256)
			}

			return evalErr
		},
	}

	cmd.Flags().StringVar(&datasetPath, "dataset", "", "dataset file (YAML or JSON)")
	cmd.Flags().IntVar(&parallel, "parallel", 1, "number of items routed concurrently")
	cmd.Flags().BoolVar(&archiveFlag, "archive", false, "store the report in ~/.visroute/archive")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9090)")
	cmd.Flags().BoolVar(&jsonFlag, "json", false, "print the report as JSON")
	_ = cmd.MarkFlagRequired("dataset")

	return cmd
}

func printReport(report *eval.Report) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "#\tCORRECT\tSTATE\tSAMPLES\tCONSISTENCY\tPREDICTION")
	for _, rec := range report.Records {
		fmt.Fprintf(w, "%d\t%t\t%s\t%d\t%.3f\t%s\n", rec.Index, rec.Correct, rec.State, rec.SamplesUsed, rec.Consistency, rec.Prediction)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	for _, s := range report.Skipped {
		fmt.Printf("skipped #%d (%s): %s\n", s.Index, s.Kind, s.Reason)
	}

	fmt.Println()
	fmt.Printf("run %s\n", report.RunID)
	if report.Summary == nil {
		fmt.Println("no items were scored; metrics are undefined")
		return nil
	}
	fmt.Printf("accuracy         %.3f (%d records)\n", report.Summary.Accuracy, report.Summary.Records)
	fmt.Printf("avg samples      %.2f\n", report.Summary.AvgSamples)
	fmt.Printf("escalation rate  %.3f\n", report.Summary.EscalationRate)
	return nil
}

func serveMetrics(addr string, recorder *metrics.Recorder) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", recorder.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("metrics server: %v", err)
		}
	}()
	log.Infof("serving metrics on %s/metrics", addr)
	return srv
}

func runsCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List archived evaluation runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := loadConfig(); err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			store, err := archive.NewStore("")
			if err != nil {
				return fmt.Errorf("failed to open archive: %w", err)
			}
			defer store.Close()

			ctx, cancel := commandContext()
			defer cancel()

			idx, err := store.Index(ctx)
			if err != nil {
				return err
			}
			runs, err := idx.List(ctx, limit)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "RUN\tSTARTED\tDATASET\tK\tτ\tRECORDS\tSKIPPED\tACCURACY\tESCALATION")
			for _, run := range runs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%.2f\t%d\t%d\t%s\t%s\n",
					run.RunID, run.StartedAt.Local().Format("2006-01-02 15:04"), run.Dataset,
					run.SampleBudget, run.Threshold, run.Records, run.Skipped,
					formatNullable(run.Accuracy.Float64, run.Accuracy.Valid),
					formatNullable(run.EscalationRate.Float64, run.EscalationRate.Valid))
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of runs to show (0 for all)")
	return cmd
}

func routesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "routes",
		Short: "Show the effective routing configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			rc := cfg.RoutingConfig
			p := rc.Params()

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "sample budget (k)\t%d\t%d samples per round\n", p.SampleBudget, p.BatchSize())
			fmt.Fprintf(w, "consistency threshold (τ)\t%.3f\t\n", p.Threshold)
			fmt.Fprintln(w)
			fmt.Fprintln(w, "CAPABILITY\tADAPTER\tMODEL\tSTATUS")
			for _, t := range []struct {
				kind   capability.Kind
				target config.RouteTarget
			}{
				{capability.KindTextAnswerer, rc.Answerer},
				{capability.KindObjectLocalizer, rc.Localizer},
			} {
				status := "no key"
				if cfg.HasAdapter(t.target.Adapter) {
					status = "ready"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", t.kind, t.target.Adapter, describeModel(t.target.Model), status)
			}
			fmt.Fprintln(w)

			classifier, err := rc.IntentClassifier()
			if err != nil {
				return err
			}
			fmt.Fprintln(w, "TRIGGER\tKIND\t\t")
			for _, trig := range classifier.Triggers() {
				fmt.Fprintf(w, "%s\t%s\t\t\n", trig.Value, trig.Kind)
			}
			fmt.Fprintln(w)
			fmt.Fprintf(w, "retry\t%d retries, %d-%d ms backoff\t\t\n", rc.Retry.MaxRetries, rc.Retry.BaseBackoffMs, rc.Retry.MaxBackoffMs)

			return w.Flush()
		},
	}
}

func modelsCmd() *cobra.Command {
	var resolveFlag bool
	var validateFlag bool

	cmd := &cobra.Command{
		Use:   "models",
		Short: "List available adapters, models, and aliases",
		Long: `Lists adapters and their available models.

Use --resolve to show aliases and what they resolve to.
Use --validate to check the answerer and localizer models in routing.yaml.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			if resolveFlag {
				return showAliases()
			}

			if validateFlag {
				return validateAliases(cfg)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "PROVIDER\tMODELS\tSTATUS")

			for _, provider := range append(catalog.ProviderNames(), "mock") {
				status := "no key"
				if cfg.HasAdapter(provider) {
					status = "ready"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", provider, formatList(catalog.Models(provider)), status)
			}

			return w.Flush()
		},
	}

	cmd.Flags().BoolVar(&resolveFlag, "resolve", false, "show aliases and what they resolve to")
	cmd.Flags().BoolVar(&validateFlag, "validate", false, "check routing.yaml models against the provider lists")

	return cmd
}

func showAliases() error {
	names := catalog.AliasNames()
	if len(names) == 0 {
		fmt.Println("No model aliases configured.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ALIAS\tMODEL\tPROVIDER")
	for _, name := range names {
		model := catalog.Resolve(name)
		provider := catalog.Provider(model)
		if provider == "" {
			provider = "?"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", name, model, provider)
	}
	return w.Flush()
}

func validateAliases(cfg *config.Config) error {
	errs := catalog.CheckRouting(cfg.RoutingConfig)
	if len(errs) == 0 {
		fmt.Println("All routing models are valid.")
		return nil
	}

	for _, err := range errs {
		fmt.Fprintf(os.Stderr, "  %v\n", err)
	}
	return fmt.Errorf("%d invalid model reference(s)", len(errs))
}

func loadConfig() (*config.Config, error) {
	var cfg *config.Config
	var err error

	if configFile != "" {
		cfg, err = config.LoadWithRoutingFile(configFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}

	catalog, err = config.FindCatalog("configs/models.yaml")
	if err != nil {
		return nil, fmt.Errorf("failed to load model catalog: %w", err)
	}

	level := cfg.RoutingConfig.Logging.Level
	if logLevelFlag != "" {
		level = logLevelFlag
	}
	if err := logging.Setup(logging.Options{Level: level, File: cfg.RoutingConfig.Logging.File}); err != nil {
		return nil, err
	}

	return cfg, nil
}

func newRouter(ctx context.Context, cfg *config.Config, opts ...router.Option) (*router.Router, error) {
	answerer, localizer, err := createCapabilities(ctx, cfg, mockFlag)
	if err != nil {
		return nil, err
	}
	classifier, err := cfg.RoutingConfig.IntentClassifier()
	if err != nil {
		return nil, err
	}
	opts = append([]router.Option{
		router.WithIntent(classifier),
		router.WithLogger(log.StandardLogger()),
	}, opts...)
	return router.New(answerer, localizer, opts...), nil
}

// commandContext is cancelled on interrupt and after --timeout.
func commandContext() (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	if timeoutFlag <= 0 {
		return ctx, stop
	}
	ctx, cancel := context.WithTimeout(ctx, timeoutFlag)
	return ctx, func() {
		cancel()
		stop()
	}
}

func describeModel(model string) string {
	resolved := resolveModel(model)
	if resolved == model || model == "" {
		return model
	}
	return fmt.Sprintf("%s (%s)", model, resolved)
}

func formatKinds(kinds []capability.Kind) string {
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = string(k)
	}
	return strings.Join(names, ", ")
}

func formatList(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}

func formatNullable(v float64, valid bool) string {
	if !valid {
		return "-"
	}
	return fmt.Sprintf("%.3f", v)
}
