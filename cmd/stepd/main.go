package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/san-kum/stepd/internal/automation"
	"github.com/san-kum/stepd/internal/config"
	"github.com/san-kum/stepd/internal/dispatch"
	"github.com/san-kum/stepd/internal/journal"
	"github.com/san-kum/stepd/internal/logging"
	"github.com/san-kum/stepd/internal/metrics"
	"github.com/san-kum/stepd/internal/optim"
	"github.com/san-kum/stepd/internal/storage"
	"github.com/san-kum/stepd/internal/unit"
	"github.com/san-kum/stepd/internal/units"
	"github.com/san-kum/stepd/internal/viz"
	"github.com/san-kum/stepd/internal/wire"
	"github.com/san-kum/stepd/internal/worker"
)

var (
	configFile  string
	logLevel    string
	logFormat   string
	recordDir   string
	journalPath string
	// run and watch
	params   []string
	sweeps   []string
	testMode bool
	preset   string
	steps    int
	minimize string
	maximize string
	// plot
	fields      []string
	plotWidth   int
	plotHeight  int
	historySize int
)

// main registers the commands and runs the worker loop when no subcommand is
// given. It exits with status 1 if the command fails.
func main() {
	rootCmd := &cobra.Command{
		Use:           "stepd",
		Short:         "line-delimited JSON worker for step units",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          serve,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", config.DefaultLogLevel, "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", config.DefaultLogFormat, "log format (text, json)")
	rootCmd.PersistentFlags().StringVar(&recordDir, "record-dir", "", "directory for dynamics traces")
	rootCmd.PersistentFlags().StringVar(&journalPath, "journal", "", "sqlite job journal path")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "read jobs from stdin and write frames to stdout",
		Args:  cobra.NoArgs,
		RunE:  serve,
	}

	unitsCmd := &cobra.Command{
		Use:   "units",
		Short: "list registered units",
		Args:  cobra.NoArgs,
		RunE:  listUnits,
	}

	runCmd := &cobra.Command{
		Use:   "run [unit]",
		Short: "run one job through the worker and print its frames",
		Args:  cobra.ExactArgs(1),
		RunE:  runJob,
	}
	addJobFlags(runCmd)
	runCmd.Flags().StringArrayVar(&sweeps, "sweep", nil, "sweep axis key=v1,v2 (repeatable)")
	runCmd.Flags().BoolVar(&testMode, "test", false, "introspect the unit instead of running it")
	runCmd.Flags().StringVar(&minimize, "minimize", "", "report the sweep entry with the smallest value of this field")
	runCmd.Flags().StringVar(&maximize, "maximize", "", "report the sweep entry with the largest value of this field")

	watchCmd := &cobra.Command{
		Use:   "watch [unit]",
		Short: "stream a dynamics job into a live terminal view",
		Args:  cobra.ExactArgs(1),
		RunE:  watchJob,
	}
	addJobFlags(watchCmd)

	plotCmd := &cobra.Command{
		Use:   "plot [run_id]",
		Short: "plot a recorded dynamics trace",
		Args:  cobra.ExactArgs(1),
		RunE:  plotRun,
	}
	plotCmd.Flags().StringArrayVar(&fields, "field", nil, "column to plot (repeatable, default all)")
	plotCmd.Flags().IntVar(&plotWidth, "width", 80, "plot width")
	plotCmd.Flags().IntVar(&plotHeight, "height", 10, "plot height")

	runsCmd := &cobra.Command{
		Use:   "runs",
		Short: "list recorded traces",
		Args:  cobra.NoArgs,
		RunE:  listRuns,
	}

	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "show recent jobs from the journal",
		Args:  cobra.NoArgs,
		RunE:  showHistory,
	}
	historyCmd.Flags().IntVar(&historySize, "limit", 20, "number of jobs to show")

	presetsCmd := &cobra.Command{
		Use:   "presets [unit]",
		Short: "list available presets for a unit",
		Args:  cobra.ExactArgs(1),
		RunE:  listPresets,
	}

	scriptCmd := &cobra.Command{
		Use:   "script [scenario.yaml]",
		Short: "run every job of a scenario file and print the frames",
		Args:  cobra.ExactArgs(1),
		RunE:  runScript,
	}

	rootCmd.AddCommand(serveCmd, unitsCmd, runCmd, watchCmd, scriptCmd, plotCmd, runsCmd, historyCmd, presetsCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

func addJobFlags(cmd *cobra.Command) {
	cmd.Flags().StringArrayVarP(&params, "param", "p", nil, "fixed parameter key=value (repeatable)")
	cmd.Flags().StringVar(&preset, "preset", "", "start from a named preset")
	cmd.Flags().IntVar(&steps, "steps", 0, "target_steps for dynamics streaming")
}

// app is the configured worker environment shared by the commands.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *unit.Registry
}

func setup(cmd *cobra.Command) (*app, error) {
	cfg := config.DefaultConfig()
	if configFile != "" {
		loaded, err := config.Load(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
	}

	// CLI flags override config
	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.Log.Level = logLevel
	}
	if flags.Changed("log-format") {
		cfg.Log.Format = logFormat
	}
	if flags.Changed("record-dir") {
		cfg.RecordDir = recordDir
	}
	if flags.Changed("journal") {
		cfg.Journal = journalPath
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(logging.Config{Level: level, Format: cfg.Log.Format, Output: os.Stderr})
	if err != nil {
		return nil, err
	}

	reg := unit.NewRegistry(cfg.RegistryOptions()...)
	if err := units.Register(reg); err != nil {
		return nil, err
	}
	return &app{cfg: cfg, logger: logger, registry: reg}, nil
}

// loop builds a worker loop with the configured observers. The returned
// close function releases them.
func (a *app) loop(ctx context.Context) (*worker.Loop, func(), error) {
	opts := []worker.Option{worker.WithLogger(a.logger)}
	closers := []func(){}
	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}

	if a.cfg.RecordDir != "" {
		store := storage.New(a.cfg.RecordDir)
		if err := store.Init(); err != nil {
			return nil, nil, fmt.Errorf("record dir: %w", err)
		}
		opts = append(opts, worker.WithObserver(storage.NewRecorder(store, storage.WithLogger(a.logger))))
	}
	if a.cfg.Journal != "" {
		j, err := journal.Open(ctx, a.cfg.Journal)
		if err != nil {
			return nil, nil, err
		}
		closers = append(closers, func() {
			if err := j.Close(); err != nil {
				a.logger.Warn("close journal", "error", err)
			}
		})
		opts = append(opts, worker.WithObserver(j))
	}

	d := dispatch.New(a.registry, dispatch.WithLogger(a.logger))
	return worker.New(d, opts...), closeAll, nil
}

func serve(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	l, done, err := a.loop(cmd.Context())
	if err != nil {
		return err
	}
	defer done()

	stop := context.AfterFunc(cmd.Context(), func() { os.Stdin.Close() })
	defer stop()

	err = l.Serve(cmd.Context(), os.Stdin, os.Stdout)
	if errors.Is(err, context.Canceled) || errors.Is(err, os.ErrClosed) {
		return nil
	}
	return err
}

func listUnits(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}

	for _, info := range a.registry.Describe() {
		mode := viz.Subtle.Render("run")
		if info.CanStep {
			mode = viz.StatusRunning.Render("step")
		}
		fmt.Printf("%s  %s\n", viz.Title.Render(fmt.Sprintf("%-12s", info.Name)), mode)

		keys := make([]string, 0, len(info.Defaults))
		for k := range info.Defaults {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Printf("    %s %v\n", viz.MetricLabel.Render(k), info.Defaults[k])
		}
		if names := config.ListPresets(info.Name); len(names) > 0 {
			fmt.Printf("    %s %s\n", viz.KeyHint.Render("presets"), strings.Join(names, ", "))
		}
	}
	return nil
}

func listPresets(cmd *cobra.Command, args []string) error {
	names := config.ListPresets(args[0])
	if len(names) == 0 {
		fmt.Printf("no presets for unit: %s\n", args[0])
		return nil
	}
	fmt.Printf("presets for %s:\n", args[0])
	for _, name := range names {
		fmt.Printf("  %s %v\n", name, config.GetPreset(args[0], name))
	}
	return nil
}

func (a *app) buildSpec(name string) (jobSpec, error) {
	spec := jobSpec{Unit: name, Test: testMode, Steps: steps}
	if preset != "" {
		spec.Preset = a.cfg.Preset(a.registry.Resolve(name), preset)
		if spec.Preset == nil {
			return spec, fmt.Errorf("unknown preset: %s (available: %v)", preset, config.ListPresets(a.registry.Resolve(name)))
		}
	}
	p, err := parseParams(params)
	if err != nil {
		return spec, err
	}
	spec.Params = p
	if len(sweeps) > 0 {
		if spec.Grid, err = parseSweep(sweeps); err != nil {
			return spec, err
		}
	}
	return spec, nil
}

func runJob(cmd *cobra.Command, args []string) error {
	if minimize != "" && maximize != "" {
		return errors.New("--minimize and --maximize are exclusive")
	}
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	spec, err := a.buildSpec(args[0])
	if err != nil {
		return err
	}
	frame, err := automation.JobFrame("cli", spec.request())
	if err != nil {
		return err
	}

	l, done, err := a.loop(cmd.Context())
	if err != nil {
		return err
	}
	defer done()

	var out bytes.Buffer
	if err := l.Serve(cmd.Context(), bytes.NewReader(frame), io.MultiWriter(os.Stdout, &out)); err != nil {
		return err
	}

	metric, maximizing := minimize, false
	if maximize != "" {
		metric, maximizing = maximize, true
	}
	if metric == "" {
		return nil
	}
	return reportBest(&out, metric, maximizing)
}

// reportBest scans the printed frames for the sweep result and reports its
// best entry on stderr.
func reportBest(frames io.Reader, metric string, maximizing bool) error {
	r := wire.NewReader(frames)
	for {
		line, err := r.Next()
		if errors.Is(err, io.EOF) {
			return errors.New("no result frame")
		}
		if err != nil {
			return err
		}
		msg, err := decodeMessage(line)
		if err != nil || msg.Type != wire.TypeResult {
			continue
		}
		results, ok := msg.Data.([]any)
		if !ok {
			return errors.New("--minimize and --maximize need a sweep (--sweep)")
		}
		idx, val, err := optim.Best(results, metric, maximizing)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "best entry %d: %s=%g\n", idx, metric, val)
		return nil
	}
}

func watchJob(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	spec, err := a.buildSpec(args[0])
	if err != nil {
		return err
	}
	// the live view owns the terminal
	a.logger = logging.Discard()

	req := spec.request()
	frame, err := automation.JobFrame("watch", req)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	l, done, err := a.loop(ctx)
	if err != nil {
		return err
	}
	defer done()

	frames := make(chan wire.Message)
	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(l.Serve(ctx, bytes.NewReader(frame), pw))
	}()
	go func() {
		defer close(frames)
		r := wire.NewReader(pr)
		for {
			line, err := r.Next()
			if err != nil {
				return
			}
			msg, err := decodeMessage(line)
			if err != nil {
				continue
			}
			select {
			case frames <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()

	w, err := viz.RunWatch(ctx, a.registry.Resolve(args[0]), req.TargetSteps(), frames)
	cancel()
	pr.Close()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	switch {
	case w.Failed():
		return errors.New("job failed")
	case !w.Done():
		fmt.Fprintln(cmd.ErrOrStderr(), viz.Subtle.Render("stopped before the job finished"))
	}
	return nil
}

func runScript(cmd *cobra.Command, args []string) error {
	scenario, err := automation.LoadScenario(args[0])
	if err != nil {
		return err
	}
	a, err := setup(cmd)
	if err != nil {
		return err
	}

	var in bytes.Buffer
	if err := scenario.WriteJobs(&in); err != nil {
		return err
	}

	l, done, err := a.loop(cmd.Context())
	if err != nil {
		return err
	}
	defer done()

	a.logger.Info("running scenario", "name", scenario.Name, "jobs", len(scenario.Steps))
	return l.Serve(cmd.Context(), &in, os.Stdout)
}

func openStore(cmd *cobra.Command) (*storage.Store, error) {
	a, err := setup(cmd)
	if err != nil {
		return nil, err
	}
	if a.cfg.RecordDir == "" {
		return nil, errors.New("no record dir configured (set record_dir or --record-dir)")
	}
	return storage.New(a.cfg.RecordDir), nil
}

func listRuns(cmd *cobra.Command, args []string) error {
	store, err := openStore(cmd)
	if err != nil {
		return err
	}
	runs, err := store.List()
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("no runs found")
		return nil
	}

	fmt.Printf("%-40s %-12s %-9s %-7s %s\n", "ID", "UNIT", "MODE", "EVENTS", "STATUS")
	for _, r := range runs {
		status := viz.StatusDone.Render(r.Status)
		if r.Status != "ok" {
			status = viz.StatusFailed.Render(r.Status)
		}
		fmt.Printf("%-40s %-12s %-9s %-7d %s\n", r.ID, r.Unit, r.Mode, r.Events, status)
	}
	return nil
}

func plotRun(cmd *cobra.Command, args []string) error {
	store, err := openStore(cmd)
	if err != nil {
		return err
	}
	runID := args[0]

	meta, err := store.Load(runID)
	if err != nil {
		return err
	}
	series, err := store.LoadSeries(runID)
	if err != nil {
		return err
	}

	if len(series.Columns) == 0 {
		return fmt.Errorf("run %s has an empty trace", runID)
	}
	columns := fields
	if len(columns) == 0 {
		columns = series.Columns[1:]
	}

	// sample spacing from the time column when the unit reports one
	dt := 1.0
	if times, ok := series.Column("time"); ok && len(times) > 1 && times[1] > times[0] {
		dt = times[1] - times[0]
	}

	fmt.Printf("%s  %s  %d events\n\n", viz.Title.Render(meta.Unit), viz.Subtle.Render(meta.ID), meta.Events)
	for _, col := range columns {
		data, ok := series.Column(col)
		if !ok {
			return fmt.Errorf("run %s has no column %q (available: %v)", runID, col, series.Columns)
		}
		fmt.Println(viz.PlotSeries(col, data, plotWidth, plotHeight))

		s := metrics.Summarize(data, 0)
		fmt.Printf("%s min=%.4g max=%.4g mean=%.4g rms=%.4g drift=%.3g freq=%.4g\n\n",
			viz.MetricLabel.Render(col), s.Min, s.Max, s.Mean, s.RMS, s.Drift, metrics.DominantFrequency(data, dt))
	}
	return nil
}

func showHistory(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	if a.cfg.Journal == "" {
		return errors.New("no journal configured (set journal or --journal)")
	}
	j, err := journal.Open(cmd.Context(), a.cfg.Journal)
	if err != nil {
		return err
	}
	defer j.Close()

	entries, err := j.Recent(cmd.Context(), historySize)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("no jobs recorded")
		return nil
	}

	fmt.Printf("%-20s %-12s %-9s %-8s %8s %s\n", "STARTED", "UNIT", "MODE", "STATUS", "MS", "DETAIL")
	for _, e := range entries {
		status := viz.StatusDone.Render(fmt.Sprintf("%-8s", e.Status))
		if e.Status != journal.StatusOK {
			status = viz.StatusFailed.Render(fmt.Sprintf("%-8s", e.Status))
		}
		detail := e.Error
		switch {
		case e.Mode == dispatch.ModeSweep.String():
			detail = fmt.Sprintf("%d entries, %d failed", e.Results, e.Failures)
		case e.Events > 0 && detail == "":
			detail = fmt.Sprintf("%d events", e.Events)
		}
		fmt.Printf("%-20s %-12s %-9s %s %8d %s\n",
			e.StartedAt.Local().Format("2006-01-02 15:04:05"), e.Unit, e.Mode, status, e.DurationMs, detail)
	}
	return nil
}
