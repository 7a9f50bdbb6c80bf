package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/partsim/partsim/sim/cluster"
	"github.com/partsim/partsim/sim/trace"
	"github.com/partsim/partsim/sim/workload"
)

var (
	configPath   string // Run configuration file
	workloadPath string // PHOLD workload file replacing the config's workload section
	partitions   int    // Number of partitions
	mode         string // Synchronization mode
	endTime      string // Simulation end time as a Go duration
	nodes        int    // PHOLD node count
	seed         int64  // Simulation seed
	greedy       bool   // Spin-wait at barriers
	traceLevel   string // Barrier trace level
	traceDB      string // SQLite trace sink
	logLevel     string // Log verbosity level

	inspectDB  string // SQLite trace database to read
	inspectRun string // Run id to summarize
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "partsim",
	Short: "Conservative parallel discrete-event simulation kernel",
}

// runCmd executes a PHOLD run using parameters from the config file and CLI flags
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a partitioned PHOLD simulation",
	Run: func(cmd *cobra.Command, args []string) {
		setLogLevel(logLevel)

		cfg, err := resolveRunConfig(cmd)
		if err != nil {
			logrus.Fatalf("%v", err)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		report, err := runSimulation(ctx, cfg)
		if err != nil {
			logrus.Fatalf("simulation failed: %v", err)
		}
		if err := printReport(os.Stdout, report); err != nil {
			logrus.Fatalf("writing summary: %v", err)
		}
		logrus.Info("Simulation complete.")
	},
}

// inspectCmd summarizes a barrier trace stored by a previous run
var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Summarize a barrier trace stored in SQLite",
	Run: func(cmd *cobra.Command, args []string) {
		setLogLevel(logLevel)
		if inspectDB == "" || inspectRun == "" {
			logrus.Fatalf("--db and --run are required")
		}
		summary, err := inspectTrace(cmd.Context(), inspectDB, inspectRun)
		if err != nil {
			logrus.Fatalf("%v", err)
		}
		if err := writeJSON(os.Stdout, "=== Barrier Trace ===", summary); err != nil {
			logrus.Fatalf("writing summary: %v", err)
		}
	},
}

func setLogLevel(name string) {
	level, err := logrus.ParseLevel(name)
	if err != nil {
		logrus.Fatalf("Invalid log level: %s", name)
	}
	logrus.SetLevel(level)
}

// resolveRunConfig layers the workload file and then explicitly set flags
// over the config file (or the defaults when no file is given).
func resolveRunConfig(cmd *cobra.Command) (*RunConfig, error) {
	cfg := defaultRunConfig()
	if configPath != "" {
		loaded, err := loadRunConfig(configPath)
		if err != nil {
			return nil, err
		}
		cfg = *loaded
	}
	if workloadPath != "" {
		spec, err := workload.LoadPHOLDSpec(workloadPath)
		if err != nil {
			return nil, err
		}
		cfg.Workload = *spec
	}

	flags := cmd.Flags()
	if flags.Changed("partitions") {
		cfg.Cluster.Partitions = partitions
	}
	if flags.Changed("mode") {
		cfg.Cluster.Mode = mode
	}
	if flags.Changed("end") {
		d, err := time.ParseDuration(endTime)
		if err != nil {
			return nil, fmt.Errorf("invalid --end %q: %w", endTime, err)
		}
		cfg.Cluster.End = workload.Duration(d.Nanoseconds())
	}
	if flags.Changed("nodes") {
		cfg.Workload.Nodes = nodes
	}
	if flags.Changed("seed") {
		cfg.Cluster.Seed = seed
	}
	if flags.Changed("greedy") {
		cfg.Cluster.Greedy = greedy
	}
	if flags.Changed("trace") {
		cfg.Trace.Level = traceLevel
	}
	if flags.Changed("trace-db") {
		cfg.Trace.DB = traceDB
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// RunReport is the printed outcome of a run.
type RunReport struct {
	Mode           string              `json:"mode"`
	Partitions     int                 `json:"partitions"`
	Nodes          int                 `json:"nodes"`
	EventsExecuted uint64              `json:"events_executed"`
	Cancelled      uint64              `json:"cancelled"`
	SentRemote     uint64              `json:"sent_remote"`
	Barriers       int                 `json:"barriers"`
	Advances       int                 `json:"horizon_advances"`
	Exchanged      uint64              `json:"exchanged"`
	LateDeliveries uint64              `json:"late_deliveries"`
	Received       uint64              `json:"jobs_received"`
	Timeouts       uint64              `json:"watchdog_timeouts"`
	MaxHops        uint32              `json:"max_hops"`
	Checksum       string              `json:"checksum"`
	WallSeconds    float64             `json:"wall_seconds"`
	Trace          *trace.TraceSummary `json:"trace,omitempty"`
	RunID          string              `json:"run_id,omitempty"`
}

// runSimulation builds the cluster, installs PHOLD and runs it to completion.
func runSimulation(ctx context.Context, cfg *RunConfig) (*RunReport, error) {
	ccfg := cfg.clusterConfig().Normalize()
	placement := cfg.placement(ccfg.Partitions)

	model, err := workload.NewPHOLD(cfg.Workload)
	if err != nil {
		return nil, err
	}

	var opts []cluster.Option
	var st *trace.SimulationTrace
	if level := cfg.traceLevel(); level != trace.TraceLevelNone {
		st = trace.NewSimulationTrace(trace.TraceConfig{Level: level})
		opts = append(opts, cluster.WithTrace(st))
	}

	cs := cluster.NewClusterSimulator(ccfg, placement, opts...)
	model.Install(cs.Partitions(), placement)

	logrus.Infof("Starting simulation: mode=%s partitions=%d nodes=%d end=%v seed=%d",
		ccfg.Mode, ccfg.Partitions, cfg.Workload.Nodes, ccfg.EndTime, ccfg.Seed)

	if err := cs.Run(ctx); err != nil {
		return nil, err
	}

	m := cs.Metrics()
	res := model.Result()
	report := &RunReport{
		Mode:           string(ccfg.Mode),
		Partitions:     m.Partitions,
		Nodes:          cfg.Workload.Nodes,
		EventsExecuted: m.Dispatched,
		Cancelled:      m.Cancelled,
		SentRemote:     m.SentRemote,
		Barriers:       m.Barriers,
		Advances:       m.Advances,
		Exchanged:      m.Exchanged,
		LateDeliveries: m.LateDeliveries,
		Received:       res.Received,
		Timeouts:       res.Timeouts,
		MaxHops:        res.MaxHops,
		Checksum:       fmt.Sprintf("%016x", res.Checksum),
		WallSeconds:    m.Wall.Seconds(),
	}
	if st != nil {
		report.Trace = trace.Summarize(st)
	}
	if cfg.Trace.DB != "" {
		id, err := saveTrace(ctx, cfg.Trace.DB, ccfg, st)
		if err != nil {
			return nil, err
		}
		report.RunID = id
		logrus.Infof("Barrier trace stored in %s as run %s", cfg.Trace.DB, id)
	}
	return report, nil
}

func saveTrace(ctx context.Context, path string, cfg cluster.Config, st *trace.SimulationTrace) (string, error) {
	store, err := trace.OpenStore(path)
	if err != nil {
		return "", err
	}
	defer store.Close()
	return store.SaveRun(ctx, trace.RunInfo{
		Mode:       string(cfg.Mode),
		Partitions: cfg.Partitions,
		Seed:       cfg.Seed,
		EndTime:    int64(cfg.EndTime),
	}, st)
}

func inspectTrace(ctx context.Context, path, runID string) (*trace.TraceSummary, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	store, err := trace.OpenStore(path)
	if err != nil {
		return nil, err
	}
	defer store.Close()
	records, err := store.LoadBarriers(ctx, runID)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("run %s has no barrier records", runID)
	}
	st := trace.NewSimulationTrace(trace.TraceConfig{Level: trace.TraceLevelBarriers})
	for _, r := range records {
		st.RecordBarrier(r)
	}
	return trace.Summarize(st), nil
}

func printReport(w io.Writer, r *RunReport) error {
	return writeJSON(w, "=== Simulation Summary ===", r)
}

func writeJSON(w io.Writer, header string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%s\n%s\n", header, data)
	return err
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// init sets up CLI flags and subcommands
func init() {
	def := defaultRunConfig()

	runCmd.Flags().StringVar(&configPath, "config", "", "Run configuration file (YAML)")
	runCmd.Flags().StringVar(&workloadPath, "workload", "", "PHOLD workload file (YAML); replaces the config's workload section")
	runCmd.Flags().IntVar(&partitions, "partitions", def.Cluster.Partitions, "Number of partitions (one goroutine each)")
	runCmd.Flags().StringVar(&mode, "mode", def.Cluster.Mode, "Synchronization mode (synchronous, real-time, best-effort)")
	runCmd.Flags().StringVar(&endTime, "end", time.Duration(def.Cluster.End).String(), "Simulation end time")
	runCmd.Flags().IntVar(&nodes, "nodes", def.Workload.Nodes, "Number of PHOLD nodes")
	runCmd.Flags().Int64Var(&seed, "seed", def.Cluster.Seed, "Seed for random event generation")
	runCmd.Flags().BoolVar(&greedy, "greedy", false, "Spin-wait at barriers instead of blocking")
	runCmd.Flags().StringVar(&traceLevel, "trace", string(trace.TraceLevelNone), "Barrier trace level (none, barriers)")
	runCmd.Flags().StringVar(&traceDB, "trace-db", "", "SQLite file receiving the barrier trace")

	inspectCmd.Flags().StringVar(&inspectDB, "db", "", "SQLite trace database")
	inspectCmd.Flags().StringVar(&inspectRun, "run", "", "Run id printed by 'partsim run --trace-db'")

	rootCmd.PersistentFlags().StringVar(&logLevel, "log", "warn", "Log level (trace, debug, info, warn, error, fatal, panic)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(inspectCmd)
}
