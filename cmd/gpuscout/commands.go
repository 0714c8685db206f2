package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"os/user"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/osctools/gpuscout/internal/autorun"
	"github.com/osctools/gpuscout/internal/config"
	"github.com/osctools/gpuscout/internal/domain"
	"github.com/osctools/gpuscout/internal/forecast"
	"github.com/osctools/gpuscout/internal/gateway"
	"github.com/osctools/gpuscout/internal/launch"
	"github.com/osctools/gpuscout/internal/notify"
	"github.com/osctools/gpuscout/internal/probe"
	"github.com/osctools/gpuscout/internal/queue"
	"github.com/osctools/gpuscout/internal/remote"
	"github.com/osctools/gpuscout/internal/runstore"
	"github.com/osctools/gpuscout/internal/search"
	"github.com/osctools/gpuscout/tui"
	"github.com/osctools/gpuscout/web/api"
)

var (
	searchGPUMin    int
	searchGPUMax    int
	searchTimeMin   string
	searchTimeMax   string
	searchAccount   string
	searchPartition string
	searchPhase     string
	searchFixedGPUs int
	searchDryRun    bool
	searchSimGPUs   int
	searchSimTime   string
	searchDash      bool
	searchServe     bool

	launchGPUs    int
	launchCPUs    int
	launchTime    string
	launchMem     string
	launchName    string
	launchLast    bool
	launchHold    bool
	launchPrint   bool
	launchOpen    bool
	launchAccount string

	remoteEditor string
	remotePath   string
	remoteDryRun bool

	historyLimit int

	servePort int

	forecastHorizon    string
	forecastPartition  string
	forecastInferLarge bool
)

func init() {
	searchCmd := &cobra.Command{
		Use:   "search",
		Short: "Discover the largest admissible GPU count and walltime",
		RunE:  runSearch,
	}
	searchCmd.Flags().IntVar(&searchGPUMin, "gpu-min", 0, "lower GPU bound (default from config)")
	searchCmd.Flags().IntVar(&searchGPUMax, "gpu-max", 0, "upper GPU bound (default from config)")
	searchCmd.Flags().StringVar(&searchTimeMin, "time-min", "", "lower walltime bound, e.g. 30m or 00:30:00")
	searchCmd.Flags().StringVar(&searchTimeMax, "time-max", "", "upper walltime bound, e.g. 2d or 2-00:00:00")
	searchCmd.Flags().StringVar(&searchAccount, "account", "", "Slurm account to charge")
	searchCmd.Flags().StringVar(&searchPartition, "partition", "", "Slurm partition")
	searchCmd.Flags().StringVar(&searchPhase, "phase", "both", "search phase: gpu, time or both")
	searchCmd.Flags().IntVar(&searchFixedGPUs, "gpus", 0, "fixed GPU count for a time-only search")
	searchCmd.Flags().BoolVar(&searchDryRun, "dry-run", false, "simulate instead of submitting probes")
	searchCmd.Flags().IntVar(&searchSimGPUs, "sim-gpus", 0, "simulated GPU capacity for --dry-run")
	searchCmd.Flags().StringVar(&searchSimTime, "sim-time", "", "simulated walltime capacity for --dry-run")
	searchCmd.Flags().BoolVar(&searchDash, "dash", false, "watch the search in the interactive dashboard")
	searchCmd.Flags().BoolVar(&searchServe, "serve", false, "stream search events over HTTP while the search runs")
	rootCmd.AddCommand(searchCmd)

	launchCmd := &cobra.Command{
		Use:   "launch",
		Short: "Launch an allocation sized to a discovered bound",
		RunE:  runLaunch,
	}
	launchCmd.Flags().IntVar(&launchGPUs, "gpus", 1, "GPU count")
	launchCmd.Flags().IntVar(&launchCPUs, "cpus", 0, "CPUs per task (default from config)")
	launchCmd.Flags().StringVar(&launchTime, "time", "1h", "walltime, e.g. 2h or 02:00:00")
	launchCmd.Flags().StringVar(&launchMem, "mem", "", "memory request (default from config)")
	launchCmd.Flags().StringVar(&launchName, "job-name", "gpuscout", "job name")
	launchCmd.Flags().StringVar(&launchAccount, "account", "", "Slurm account (default from config)")
	launchCmd.Flags().BoolVar(&launchLast, "last", false, "size from the most recent finished search")
	launchCmd.Flags().BoolVar(&launchHold, "hold", false, "hold the allocation in the background")
	launchCmd.Flags().BoolVar(&launchPrint, "print", false, "print the srun command instead of running it")
	launchCmd.Flags().BoolVar(&launchOpen, "open", false, "open a remote editor on the allocated node (with --hold)")
	rootCmd.AddCommand(launchCmd)

	dashCmd := &cobra.Command{
		Use:   "dash",
		Short: "Interactive queue dashboard",
		RunE:  runDash,
	}
	rootCmd.AddCommand(dashCmd)

	remoteCmd := &cobra.Command{
		Use:   "remote HOST",
		Short: "Open a remote editor window on a cluster host",
		Args:  cobra.ExactArgs(1),
		RunE:  runRemote,
	}
	remoteCmd.Flags().StringVar(&remoteEditor, "editor", "", "editor CLI or alias (code, cursor, ...)")
	remoteCmd.Flags().StringVar(&remotePath, "path", "", "folder to open (default: current directory)")
	remoteCmd.Flags().BoolVar(&remoteDryRun, "dry-run", false, "print the command without running it")
	rootCmd.AddCommand(remoteCmd)

	historyCmd := &cobra.Command{
		Use:   "history [RUN_ID]",
		Short: "Show past search runs",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runHistory,
	}
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "number of runs to show")
	rootCmd.AddCommand(historyCmd)

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve run history over HTTP",
		RunE:  runServe,
	}
	serveCmd.Flags().IntVar(&servePort, "port", 0, "port to listen on (default from config)")
	rootCmd.AddCommand(serveCmd)

	forecastCmd := &cobra.Command{
		Use:   "forecast",
		Short: "Project cluster-wide GPU availability over the next hours",
		RunE:  runForecast,
	}
	forecastCmd.Flags().StringVar(&forecastHorizon, "horizon", "8h", "how far ahead to project, e.g. 8h or 1d")
	forecastCmd.Flags().StringVar(&forecastPartition, "partition", "", "restrict the forecast to one partition")
	forecastCmd.Flags().BoolVar(&forecastInferLarge, "infer-large", false, "count partition-less jobs asking >3 GPUs toward --partition")
	rootCmd.AddCommand(forecastCmd)

	autorunCmd := &cobra.Command{
		Use:   "autorun",
		Short: "Run scheduled searches from the config file",
		RunE:  runAutorun,
	}
	rootCmd.AddCommand(autorunCmd)
}

func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = config.DefaultConfigPath()
	}
	return config.Load(path)
}

func newLogger() (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	return cfg.Build()
}

func resolveBounds(cfg *config.Config) (domain.SearchBounds, error) {
	bounds, err := cfg.Bounds()
	if err != nil {
		return domain.SearchBounds{}, err
	}
	if searchGPUMin > 0 {
		bounds.GPUMin = searchGPUMin
	}
	if searchGPUMax > 0 {
		bounds.GPUMax = searchGPUMax
	}
	if searchTimeMin != "" {
		if bounds.TimeMin, err = domain.ParseDuration(searchTimeMin); err != nil {
			return domain.SearchBounds{}, err
		}
	}
	if searchTimeMax != "" {
		if bounds.TimeMax, err = domain.ParseDuration(searchTimeMax); err != nil {
			return domain.SearchBounds{}, err
		}
	}
	if searchAccount != "" {
		bounds.Account = searchAccount
	}
	if searchPartition != "" {
		bounds.Partition = searchPartition
	}
	return bounds, nil
}

func searchOptions(cfg *config.Config) (search.Options, error) {
	opts := search.Options{
		FixedGPUs:   searchFixedGPUs,
		CPUs:        cfg.Probe.CPUs,
		Memory:      cfg.Probe.Memory,
		NotifyEmail: cfg.Cluster.Email,
	}

	var err error
	if opts.ProbeTime, err = cfg.ProbeTime(); err != nil {
		return opts, err
	}

	switch searchPhase {
	case "both":
		opts.Phases = search.PhasesBoth
	case "gpu":
		opts.Phases = search.PhasesGPU
	case "time":
		opts.Phases = search.PhasesTime
	default:
		return opts, fmt.Errorf("unknown phase %q: want gpu, time or both", searchPhase)
	}

	if searchDryRun {
		if searchSimGPUs <= 0 || searchSimTime == "" {
			return opts, fmt.Errorf("--dry-run requires --sim-gpus and --sim-time")
		}
		simTime, err := domain.ParseDuration(searchSimTime)
		if err != nil {
			return opts, err
		}
		opts.DryRun = true
		opts.Simulate = search.ThresholdSimulator(searchSimGPUs, simTime)
	}
	return opts, nil
}

// executeSearch wires the gateway, observer and store for one run. Events go
// to stdout unless quiet, and to mux when one is supplied. The returned
// result is non-nil for finished and degenerate runs.
func executeSearch(ctx context.Context, cfg *config.Config, bounds domain.SearchBounds, opts search.Options, logger *zap.Logger, mux *search.Multiplexer, quiet bool) (*domain.SearchResult, error) {
	runID := uuid.NewString()

	var store *runstore.Store
	if !opts.DryRun {
		var err error
		if err = os.MkdirAll(filepath.Dir(cfg.General.DatabasePath), 0o755); err != nil {
			return nil, err
		}
		if store, err = runstore.New(cfg.General.DatabasePath); err != nil {
			return nil, err
		}
		defer store.Close()
		if err = store.Begin(runID, bounds, time.Now()); err != nil {
			return nil, err
		}
	}

	poll, err := cfg.PollInterval()
	if err != nil {
		return nil, err
	}
	timeout, err := cfg.ObservationTimeout()
	if err != nil {
		return nil, err
	}

	gw := gateway.NewSlurm(nil, logger)
	builder := probe.NewBuilder(cfg.General.MarkerDir)
	if cfg.General.MarkerDir != "" {
		_ = os.MkdirAll(cfg.General.MarkerDir, 0o755)
	}
	observer := probe.NewObserver(gw, poll, timeout, logger)
	if cfg.General.MarkerDir != "" && !opts.DryRun {
		if markers, err := probe.NewMarkerWatcher(cfg.General.MarkerDir); err == nil {
			observer.Markers = markers
			defer markers.Close()
		}
	}

	opts.OnEvent = func(ev domain.Event) {
		if mux != nil {
			mux.Emit(ev)
		}
		if quiet {
			return
		}
		switch ev.Kind {
		case domain.EventSubmitted:
			fmt.Printf("probe %s  %s\n", ev.ProbeID, ev.Spec.Summary())
		case domain.EventResolved:
			fmt.Printf("probe %s  %s -> %s\n", ev.ProbeID, ev.Spec.Summary(), ev.Outcome)
		case domain.EventPhaseDone:
			fmt.Printf("phase %s done\n", ev.Phase)
		}
	}

	ctrl := search.New(gw, builder, observer, logger)
	res, err := ctrl.Run(ctx, bounds, opts)

	notifier := buildNotifier(cfg)
	switch {
	case err == nil:
		if !quiet {
			printResult(res)
		}
		if store != nil {
			if serr := store.Finish(runID, runstore.StatusFinished, "", res); serr != nil {
				return res, serr
			}
		}
		_ = notifier.Send(notify.ForResult(runID, res))
		return res, nil

	case isDegenerate(err):
		if !quiet {
			fmt.Println("warning: no probe was admitted; the reported bound is the unprobed minimum")
			printResult(res)
		}
		if store != nil {
			if serr := store.Finish(runID, runstore.StatusDegenerate, err.Error(), res); serr != nil {
				return res, serr
			}
		}
		_ = notifier.Send(notify.ForResult(runID, res))
		return res, nil

	default:
		if store != nil {
			partial := partialResult(err)
			_ = store.Finish(runID, runstore.StatusAborted, err.Error(), partial)
		}
		_ = notifier.Send(notify.ForAbort(runID, err))
		return nil, err
	}
}

func isDegenerate(err error) bool {
	var degen *search.DegenerateSearchError
	return errors.As(err, &degen)
}

// partialResult recovers the traces carried by an abort so they are not
// lost from history.
func partialResult(err error) *domain.SearchResult {
	var aborted *search.SearchAbortedError
	if !errors.As(err, &aborted) {
		return nil
	}
	return &domain.SearchResult{
		GPUTrace:   aborted.GPUTrace,
		TimeTrace:  aborted.TimeTrace,
		FinishedAt: time.Now(),
	}
}

func printResult(res *domain.SearchResult) {
	if res == nil {
		return
	}
	fmt.Printf("\nmax admitted: %d GPUs for %s  (%d probes, %s)\n",
		res.MaxAdmittedGPUs,
		domain.FormatCompact(res.MaxAdmittedTime),
		len(res.GPUTrace)+len(res.TimeTrace),
		res.FinishedAt.Sub(res.StartedAt).Round(time.Second))
	fmt.Printf("launch it:    gpuscout launch --last\n")
}

func buildNotifier(cfg *config.Config) notify.Notifier {
	var notifiers []notify.Notifier
	if cfg.Notifications.Desktop {
		notifiers = append(notifiers, notify.NewDesktopNotifier(true))
	}
	if cfg.Notifications.SlackWebhook != "" {
		notifiers = append(notifiers, notify.NewSlackNotifier(cfg.Notifications.SlackWebhook))
	}
	if len(notifiers) == 0 {
		return notify.NoopNotifier{}
	}
	return notify.NewMultiNotifier(notifiers...)
}

func runSearch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	bounds, err := resolveBounds(cfg)
	if err != nil {
		return err
	}
	if err := bounds.Validate(); err != nil {
		return err
	}
	opts, err := searchOptions(cfg)
	if err != nil {
		return err
	}

	// Interrupts cancel the run context so the in-flight probe is reaped
	// before the process exits.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var mux *search.Multiplexer
	if searchDash || searchServe {
		mux = search.NewMultiplexer()
	}

	if searchServe {
		if err := os.MkdirAll(filepath.Dir(cfg.General.DatabasePath), 0o755); err != nil {
			return err
		}
		store, err := runstore.New(cfg.General.DatabasePath)
		if err != nil {
			return err
		}
		defer store.Close()

		addr := fmt.Sprintf("%s:%d", cfg.Web.Host, cfg.Web.Port)
		server := api.NewServer(store, mux, addr, logger)
		go func() {
			if serr := server.Start(); serr != nil {
				logger.Warn("event server stopped", zap.Error(serr))
			}
		}()
		fmt.Printf("streaming events at ws://%s/api/events\n", addr)
	}

	if searchDash {
		return runSearchDash(ctx, cfg, bounds, opts, logger, mux)
	}

	fmt.Printf("searching gpus %d-%d, time %s-%s on account %s\n",
		bounds.GPUMin, bounds.GPUMax,
		domain.FormatCompact(bounds.TimeMin), domain.FormatCompact(bounds.TimeMax),
		bounds.Account)
	_, err = executeSearch(ctx, cfg, bounds, opts, logger, mux, false)
	if mux != nil {
		mux.Close()
	}
	return err
}

// runSearchDash runs the search in the background and follows it in the
// interactive dashboard, queue tab included.
func runSearchDash(ctx context.Context, cfg *config.Config, bounds domain.SearchBounds, opts search.Options, logger *zap.Logger, mux *search.Multiplexer) error {
	current, err := user.Current()
	if err != nil {
		return err
	}
	svc := queue.New(nil, logger)

	events, unsubscribe := mux.Subscribe()
	defer unsubscribe()

	model := tui.NewModel(tui.ModelConfig{
		Bounds: bounds,
		Events: events,
		FetchJobs: func() ([]queue.Job, error) {
			return svc.List(context.Background(), current.Username)
		},
		CancelJob: func(id string) error {
			return svc.Cancel(context.Background(), id)
		},
	})
	p := tea.NewProgram(model, tea.WithAltScreen())

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan tui.ResultMsg, 1)
	go func() {
		res, searchErr := executeSearch(ctx, cfg, bounds, opts, logger, mux, true)
		mux.Close()
		msg := tui.ResultMsg{Result: res, Err: searchErr}
		done <- msg
		p.Send(msg)
	}()

	if _, err := p.Run(); err != nil {
		return err
	}
	// Quitting the dashboard mid-search aborts the run and reaps the
	// in-flight probe before we return.
	cancel()
	msg := <-done
	printResult(msg.Result)
	return msg.Err
}

func runLaunch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	cpus := launchCPUs
	if cpus == 0 {
		cpus = cfg.Probe.CPUs
	}
	mem := launchMem
	if mem == "" {
		mem = cfg.Probe.Memory
	}
	account := launchAccount
	if account == "" {
		account = cfg.Cluster.Account
	}

	spec := launch.Spec{
		GPUs:    launchGPUs,
		CPUs:    cpus,
		Memory:  mem,
		Account: account,
		JobName: launchName,
	}
	if spec.Time, err = domain.ParseDuration(launchTime); err != nil {
		return err
	}

	if launchLast {
		store, err := runstore.New(cfg.General.DatabasePath)
		if err != nil {
			return err
		}
		defer store.Close()
		runs, err := store.ListRuns(runstore.ListOptions{Status: runstore.StatusFinished, Limit: 1})
		if err != nil {
			return err
		}
		if len(runs) == 0 || runs[0].Result == nil {
			return fmt.Errorf("no finished search run to size from; run 'gpuscout search' first")
		}
		res := runs[0].Result
		spec.GPUs = res.MaxAdmittedGPUs
		spec.Time = res.MaxAdmittedTime
		fmt.Printf("sizing from run %s: %d GPUs for %s\n",
			runs[0].ID, spec.GPUs, domain.FormatCompact(spec.Time))
	}

	shell := os.Getenv("SHELL")
	if shell == "" {
		shell = "bash"
	}

	if launchPrint {
		argv := launch.SrunArgs(spec, shell)
		for i, a := range argv {
			if i > 0 {
				fmt.Print(" ")
			}
			fmt.Print(a)
		}
		fmt.Println()
		return nil
	}

	if launchHold {
		launcher := launch.New(nil, logger)
		alloc, err := launcher.Hold(context.Background(), spec)
		if err != nil {
			return err
		}
		fmt.Printf("allocation held: job %s\n", alloc.JobID)
		fmt.Printf("release it with: scancel %s\n", alloc.JobID)

		node, err := launcher.NodeForJob(context.Background(), alloc.JobID)
		if err == nil {
			fmt.Printf("running on: %s\n", node)
			if launchOpen {
				result := remote.Open(remote.OpenRequest{Host: node, Editor: remoteEditor})
				fmt.Println(result.Message)
			}
		}
		return nil
	}

	// Interactive: hand the terminal to srun.
	argv := launch.SrunArgs(spec, shell)
	c := exec.Command(argv[0], argv[1:]...)
	c.Stdin = os.Stdin
	c.Stdout = os.Stdout
	c.Stderr = os.Stderr
	return c.Run()
}

func runDash(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	current, err := user.Current()
	if err != nil {
		return err
	}

	svc := queue.New(nil, logger)
	bounds, _ := cfg.Bounds()

	model := tui.NewModel(tui.ModelConfig{
		Bounds: bounds,
		FetchJobs: func() ([]queue.Job, error) {
			return svc.List(context.Background(), current.Username)
		},
		CancelJob: func(id string) error {
			return svc.Cancel(context.Background(), id)
		},
	})

	p := tea.NewProgram(model, tea.WithAltScreen())
	_, err = p.Run()
	return err
}

func runRemote(cmd *cobra.Command, args []string) error {
	result := remote.Open(remote.OpenRequest{
		Host:    args[0],
		WorkDir: remotePath,
		Editor:  remoteEditor,
		DryRun:  remoteDryRun,
	})
	if remoteDryRun {
		fmt.Println(result.CommandText())
	}
	if !result.OK {
		return fmt.Errorf("%s", result.Message)
	}
	fmt.Println(result.Message)
	return nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := runstore.New(cfg.General.DatabasePath)
	if err != nil {
		return err
	}
	defer store.Close()

	if len(args) == 1 {
		return printRunDetail(store, args[0])
	}

	runs, err := store.ListRuns(runstore.ListOptions{Limit: historyLimit})
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tACCOUNT\tSTATUS\tMAX GPUS\tMAX TIME\tSTARTED")
	for _, run := range runs {
		maxGPUs, maxTime := "-", "-"
		if run.Result != nil {
			maxGPUs = fmt.Sprintf("%d", run.Result.MaxAdmittedGPUs)
			maxTime = domain.FormatCompact(run.Result.MaxAdmittedTime)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			shortID(run.ID), run.Bounds.Account, run.Status,
			maxGPUs, maxTime, run.StartedAt.Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

func printRunDetail(store *runstore.Store, id string) error {
	run, err := store.GetRun(id)
	if err != nil {
		return fmt.Errorf("run %s not found", id)
	}

	fmt.Printf("run %s  account=%s  status=%s\n", run.ID, run.Bounds.Account, run.Status)
	fmt.Printf("bounds: gpus %d-%d, time %s-%s\n",
		run.Bounds.GPUMin, run.Bounds.GPUMax,
		domain.FormatCompact(run.Bounds.TimeMin), domain.FormatCompact(run.Bounds.TimeMax))
	if run.Error != "" {
		fmt.Printf("error: %s\n", run.Error)
	}
	if run.Result == nil {
		return nil
	}

	fmt.Printf("result: %d GPUs for %s\n",
		run.Result.MaxAdmittedGPUs, domain.FormatCompact(run.Result.MaxAdmittedTime))

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PHASE\tGPUS\tTIME\tPROBE\tOUTCOME\tDETAIL")
	for _, trace := range []domain.SearchTrace{run.Result.GPUTrace, run.Result.TimeTrace} {
		for _, trial := range trace {
			fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\t%s\n",
				trial.Spec.Phase, trial.Spec.GPUCount,
				domain.FormatCompact(trial.Spec.TimeWindow),
				trial.ProbeID, trial.Outcome, trial.Detail)
		}
	}
	return w.Flush()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	store, err := runstore.New(cfg.General.DatabasePath)
	if err != nil {
		return err
	}

	port := servePort
	if port == 0 {
		port = cfg.Web.Port
	}

	addr := fmt.Sprintf("%s:%d", cfg.Web.Host, port)
	// No event source here: live events stream from the process running the
	// search, via 'gpuscout search --serve'.
	server := api.NewServer(store, nil, addr, logger)

	fmt.Printf("serving run history at http://%s\n", addr)
	return server.Start()
}

func runForecast(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	horizon, err := domain.ParseDuration(forecastHorizon)
	if err != nil {
		return err
	}
	partition := forecastPartition
	if partition == "" {
		partition = cfg.Cluster.Partition
	}

	svc := forecast.New(nil, logger)
	snap, err := svc.Take(context.Background(), forecast.Options{
		Horizon:        horizon,
		Partition:      partition,
		InferLargeJobs: forecastInferLarge,
	})
	if err != nil {
		return err
	}

	scope := "cluster"
	if partition != "" {
		scope = "partition " + partition
	}
	fmt.Printf("GPU availability for %s, generated %s\n",
		scope, snap.GeneratedAt.Format("2006-01-02 15:04"))
	fmt.Printf("capacity %d GPUs, %s\n", snap.Capacity, snap.Stats.Summary())

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "WHEN\tFREE GPUS")
	for _, p := range snap.Points {
		fmt.Fprintf(w, "%s\t%d\n", forecast.FormatOffset(p.Offset), p.Available)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Printf("min %d, max %d over the horizon\n", snap.Min(), snap.Max())
	return nil
}

func runAutorun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	if len(cfg.Autorun) == 0 {
		return fmt.Errorf("no [[autorun]] schedules configured")
	}

	var schedules []autorun.Schedule
	for _, sc := range cfg.Autorun {
		bounds, err := cfg.ScheduleBounds(sc)
		if err != nil {
			return err
		}
		schedules = append(schedules, autorun.Schedule{
			Name:   sc.Name,
			Cron:   sc.Cron,
			Bounds: bounds,
		})
	}

	sched, err := autorun.NewScheduler(schedules)
	if err != nil {
		return err
	}

	opts, err := searchOptions(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Printf("autorun watching %d schedule(s)\n", len(schedules))
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		for _, name := range sched.Due() {
			schedule, _ := sched.Get(name)
			sched.MarkRunning(name)
			fmt.Printf("schedule %s due, starting search\n", name)
			if _, err := executeSearch(ctx, cfg, schedule.Bounds, opts, logger, nil, false); err != nil {
				logger.Error("scheduled search failed", zap.String("schedule", name), zap.Error(err))
			}
			sched.MarkComplete(name)
		}
	}
}
