package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	flag "github.com/spf13/pflag"

	"github.com/bitfsorg/feerouter-go/address"
	"github.com/bitfsorg/feerouter-go/api"
	"github.com/bitfsorg/feerouter-go/config"
	"github.com/bitfsorg/feerouter-go/crank"
	"github.com/bitfsorg/feerouter-go/distribution"
	"github.com/bitfsorg/feerouter-go/feeclaim"
	"github.com/bitfsorg/feerouter-go/logger"
	"github.com/bitfsorg/feerouter-go/metrics"
	"github.com/bitfsorg/feerouter-go/policy"
	"github.com/bitfsorg/feerouter-go/store"
	"github.com/bitfsorg/feerouter-go/timing"
	"github.com/bitfsorg/feerouter-go/vesting"
)

var (
	version = "dev"
	commit  = "none"
)

const usage = `usage: feerouter <command> [flags]

commands:
  init     create a stream from a policy file
  step     advance one stream by a single page
  run      crank the current epoch of one or all streams
  status   print stream state
  serve    crank on an interval and serve /metrics and /streams
`

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" {
		fmt.Fprint(os.Stderr, usage)
		return nil
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}

	cmd, args := args[0], args[1:]
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	o := registerFlags(fs)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := o.resolve(fs)
	if err != nil {
		return err
	}
	log, closer, err := logger.Open(logger.Options{Level: cfg.LogLevel, File: cfg.LogFile})
	if err != nil {
		return err
	}
	defer closer.Close()
	metrics.BuildInfo.WithLabelValues(version, commit).Set(1)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := open(ctx, cfg, o, log)
	if err != nil {
		return err
	}
	defer a.close()

	switch cmd {
	case "init":
		return a.initStream(ctx, o.policyFile)
	case "step":
		return a.step(ctx, o.stream)
	case "run":
		return a.runEpochs(ctx, o.stream)
	case "status":
		return a.status(ctx, o.stream)
	case "serve":
		return a.serve(ctx)
	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

type options struct {
	configPath  string
	dataDir     string
	store       string
	postgresDSN string
	programID   string
	logLevel    string
	logFile     string
	verbose     bool
	metricsAddr string
	pageSize    int
	interval    time.Duration
	parallel    int

	policyFile  string
	vestingFile string
	feesFile    string
	stream      string
	now         int64
}

func registerFlags(fs *flag.FlagSet) *options {
	o := &options{}
	fs.StringVar(&o.configPath, "config", "", "config file (default <data-dir>/config.yaml)")
	fs.StringVar(&o.dataDir, "data-dir", "", "data directory (or set FEEROUTER_DATA_DIR)")
	fs.StringVar(&o.store, "store", "", "store backend: bolt, memory or postgres (or set FEEROUTER_STORE)")
	fs.StringVar(&o.postgresDSN, "postgres-dsn", "", "postgres connection string (or set FEEROUTER_POSTGRES_DSN)")
	fs.StringVar(&o.programID, "program-id", "", "program id used to derive record addresses")
	fs.StringVar(&o.logLevel, "log-level", "", "log level: debug, info, warn or error")
	fs.StringVar(&o.logFile, "log-file", "", "write logs to a rotated file instead of stdout")
	fs.BoolVarP(&o.verbose, "verbose", "v", false, "enable debug logging")
	fs.StringVar(&o.metricsAddr, "metrics-addr", "", "serve: listen address for /metrics and /streams")
	fs.IntVar(&o.pageSize, "page-size", 0, "investors per step")
	fs.DurationVar(&o.interval, "interval", 0, "serve: crank interval")
	fs.IntVar(&o.parallel, "parallel", 0, "streams cranked concurrently")

	fs.StringVar(&o.policyFile, "policy", "", "init: policy YAML file")
	fs.StringVar(&o.vestingFile, "vesting", "", "vesting schedules YAML file")
	fs.StringVar(&o.feesFile, "fees", "", "accrued fees YAML file")
	fs.StringVar(&o.stream, "stream", "", "stream id (hex); run and status default to all streams")
	fs.Int64Var(&o.now, "now", 0, "step/run: unix time to act at instead of the wall clock")
	return o
}

// resolve layers defaults, the config file, FEEROUTER_* variables and
// explicitly set flags, in that order.
func (o *options) resolve(fs *flag.FlagSet) (config.Config, error) {
	dataDir := o.dataDir
	if dataDir == "" {
		dataDir = os.Getenv("FEEROUTER_DATA_DIR")
	}
	if dataDir == "" {
		dataDir = config.DefaultDataDir()
	}
	path := o.configPath
	if path == "" {
		path = config.ConfigPath(dataDir)
	}
	cfg, err := config.LoadConfig(path)
	if err != nil && !(errors.Is(err, config.ErrConfigNotFound) && o.configPath == "") {
		return cfg, err
	}
	cfg.DataDir = dataDir

	if err := config.ApplyEnv(&cfg, environ()); err != nil {
		return cfg, err
	}

	set := func(name string, fn func()) {
		if fs.Changed(name) {
			fn()
		}
	}
	set("data-dir", func() { cfg.DataDir = o.dataDir })
	set("store", func() { cfg.Store = o.store })
	set("postgres-dsn", func() { cfg.PostgresDSN = o.postgresDSN })
	set("program-id", func() { cfg.ProgramID = o.programID })
	set("log-level", func() { cfg.LogLevel = o.logLevel })
	set("log-file", func() { cfg.LogFile = o.logFile })
	set("metrics-addr", func() { cfg.MetricsAddr = o.metricsAddr })
	set("page-size", func() { cfg.PageSize = o.pageSize })
	set("interval", func() { cfg.CrankInterval = o.interval })
	set("parallel", func() { cfg.MaxParallel = o.parallel })
	if o.verbose {
		cfg.LogLevel = "debug"
	}
	return cfg, config.ValidateConfig(cfg)
}

func environ() map[string]string {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok && strings.HasPrefix(k, "FEEROUTER_") {
			env[k] = v
		}
	}
	return env
}

// app holds the wired components of one command.
type app struct {
	cfg      config.Config
	log      *slog.Logger
	store    store.Store
	engine   *distribution.Engine
	registry *vesting.Registry
	clock    clockwork.Clock
}

func open(ctx context.Context, cfg config.Config, o *options, log *slog.Logger) (*app, error) {
	programID, err := address.ParseProgramID(cfg.ProgramID)
	if err != nil {
		return nil, err
	}
	deriver := address.NewDeriver(programID)

	var s store.Store
	switch cfg.Store {
	case config.StoreMemory:
		s = store.NewMemStore()
	case config.StorePostgres:
		s, err = store.OpenPgStore(ctx, cfg.PostgresDSN, deriver)
	default:
		s, err = store.OpenBoltStore(config.DatabasePath(cfg.DataDir), deriver)
	}
	if err != nil {
		return nil, err
	}

	registry := vesting.NewRegistry()
	if o.vestingFile != "" {
		if registry, err = vesting.LoadRegistryFile(o.vestingFile); err != nil {
			s.Close()
			return nil, err
		}
	}
	ledger := feeclaim.NewLedger()
	if o.feesFile != "" {
		if ledger, err = feeclaim.LoadLedgerFile(o.feesFile); err != nil {
			s.Close()
			return nil, err
		}
	}

	engine, err := distribution.New(distribution.Config{
		Store:     s,
		Fees:      ledger,
		Oracle:    registry,
		Sink:      distribution.LogSink{Logger: log},
		Addresses: deriver,
		Logger:    log,
	})
	if err != nil {
		s.Close()
		return nil, err
	}

	var clock clockwork.Clock = clockwork.NewRealClock()
	if o.now != 0 {
		clock = clockwork.NewFakeClockAt(time.Unix(o.now, 0))
	}
	return &app{cfg: cfg, log: log, store: s, engine: engine, registry: registry, clock: clock}, nil
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		a.log.Warn("close store", "error", err)
	}
}

func (a *app) runner() (*crank.Runner, error) {
	return crank.New(crank.Config{
		Engine:         a.engine,
		Investors:      a.registry,
		Logger:         a.log,
		Clock:          a.clock,
		PageSize:       uint32(a.cfg.PageSize),
		Retry:          crank.RetryConfig{MaxAttempts: a.cfg.RetryAttempts, BaseBackoff: 100 * time.Millisecond, MaxBackoff: 5 * time.Second},
		StepsPerSecond: a.cfg.StepsPerSecond,
		MaxParallel:    a.cfg.MaxParallel,
		Interval:       a.cfg.CrankInterval,
	})
}

func (a *app) initStream(ctx context.Context, path string) error {
	if path == "" {
		return errors.New("--policy is required for init")
	}
	p, err := config.LoadPolicyFile(path)
	if err != nil {
		return err
	}
	_, st, err := a.engine.Initialize(ctx, *p)
	if err != nil {
		return err
	}
	d := a.engine.Addresses()
	stateAddr, err := d.State(p.StreamID)
	if err != nil {
		return err
	}
	treasury, err := d.Treasury(p.StreamID)
	if err != nil {
		return err
	}
	owner, err := d.PositionOwner(p.StreamID)
	if err != nil {
		return err
	}
	return printJSON(os.Stdout, map[string]any{
		"stream":                 p.StreamID,
		"state_address":          stateAddr.Key.String(),
		"treasury_address":       treasury.Key.String(),
		"position_owner_address": owner.Key.String(),
		"state":                  st,
	})
}

func (a *app) step(ctx context.Context, id string) error {
	if id == "" {
		return errors.New("--stream is required for step")
	}
	stream, err := policy.ParseStreamID(id)
	if err != nil {
		return err
	}
	r, err := a.runner()
	if err != nil {
		return err
	}
	res, err := r.Step(ctx, stream)
	if err != nil {
		return err
	}
	return printJSON(os.Stdout, map[string]any{
		"epoch":          res.Epoch,
		"decision":       res.Decision.String(),
		"page_start":     res.PageStart,
		"page_end":       res.PageEnd,
		"transfers":      res.Transfers,
		"creator_payout": res.CreatorPayout,
		"epoch_closed":   res.EpochClosed,
		"version":        res.Version,
	})
}

func (a *app) runEpochs(ctx context.Context, id string) error {
	r, err := a.runner()
	if err != nil {
		return err
	}
	streams, err := a.streams(ctx, id)
	if err != nil {
		return err
	}
	reports, err := r.RunAll(ctx, streams)
	for _, rep := range reports {
		if rep == nil {
			continue
		}
		fmt.Fprintf(os.Stdout, "%s run=%s epoch=%d steps=%d closed=%t idle=%t investor_paid=%d creator_paid=%d dust_swept=%d\n",
			rep.Stream, rep.RunID, rep.Epoch, rep.Steps, rep.Closed, rep.Idle, rep.InvestorPaid, rep.CreatorPaid, rep.DustSwept)
	}
	return err
}

func (a *app) status(ctx context.Context, id string) error {
	streams, err := a.streams(ctx, id)
	if err != nil {
		return err
	}
	now := a.clock.Now().Unix()
	out := make([]map[string]any, 0, len(streams))
	for _, stream := range streams {
		rec, err := a.engine.State(ctx, stream)
		if err != nil {
			return err
		}
		info := timing.Describe(now, rec.State)
		out = append(out, map[string]any{
			"stream":          stream,
			"version":         rec.Version,
			"decision":        info.Decision.String(),
			"next_epoch_at":   info.NextEpochAt,
			"time_until_next": info.TimeUntilNext,
			"state":           rec.State,
		})
	}
	return printJSON(os.Stdout, out)
}

func (a *app) serve(ctx context.Context) error {
	r, err := a.runner()
	if err != nil {
		return err
	}
	listener, err := net.Listen("tcp", a.cfg.MetricsAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", a.cfg.MetricsAddr, err)
	}
	srv := &http.Server{
		Handler:      api.NewRouter(a.engine, a.clock, a.log),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	go func() {
		a.log.Info("http server listening", "address", listener.Addr().String())
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("http server failed", "error", err)
		}
	}()

	err = r.Serve(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		a.log.Warn("http shutdown", "error", serr)
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (a *app) streams(ctx context.Context, id string) ([]policy.StreamID, error) {
	if id == "" {
		return a.engine.Streams(ctx)
	}
	stream, err := policy.ParseStreamID(id)
	if err != nil {
		return nil, err
	}
	return []policy.StreamID{stream}, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
