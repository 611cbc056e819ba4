package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/cqlops/cql-repairer/internal/cluster"
	"github.com/cqlops/cql-repairer/internal/config"
	"github.com/cqlops/cql-repairer/internal/logging"
	"github.com/cqlops/cql-repairer/internal/metrics"
	"github.com/cqlops/cql-repairer/internal/repair"
	"github.com/cqlops/cql-repairer/internal/token"
)

// Version information (set via ldflags)
var (
	Version = "v0.1.0"
	GitSHA  = "unknown"
)

// Exit codes: 0 every table repaired, 1 at least one table failed,
// 2 configuration or connection failure before/outside the sweep.
const (
	exitFailedTables = 1
	exitConfig       = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		cfg        = config.Default()
		configPath string
		hosts      string
		keyspaces  string
		tables     string
		anyFailed  bool
	)

	cmd := &cobra.Command{
		Use:           "cql-repairer",
		Short:         "Performant Cassandra/Scylla cluster read repairer using consistency level ALL",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg.Hosts = config.SplitList(hosts)
			cfg.Keyspaces = config.SplitList(keyspaces)
			cfg.Tables = config.SplitList(tables)

			if configPath != "" {
				if err := overlayFile(cmd.Flags(), &cfg, configPath); err != nil {
					return err
				}
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			var err error
			anyFailed, err = sweep(cfg)
			return err
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&hosts, "hosts", "", "comma delimited target hosts to connect to")
	flags.StringVar(&cfg.Username, "username", "", "username to login as")
	flags.StringVar(&cfg.Password, "password", "", "user password")
	flags.StringVar(&cfg.CACert, "cacert", "", "SSL CA certificates path")
	flags.IntVar(&cfg.Timeout, "timeout", cfg.Timeout, "request timeout in seconds")
	flags.IntVar(&cfg.Concurrency, "concurrency", cfg.Concurrency, "query execution concurrency per table")
	flags.IntVar(&cfg.Processes, "processes", cfg.Processes, "number of tables to repair in parallel")
	flags.IntVar(&cfg.PartitionSize, "partitionsize", cfg.PartitionSize, "target number of token ranges")
	flags.StringVar(&keyspaces, "keyspaces", "", "comma separated keyspaces to repair (default: all)")
	flags.StringVar(&tables, "tables", "", "comma separated tables to repair (default: all)")
	flags.StringVar(&configPath, "config", "", "optional YAML config file; explicit flags win")
	flags.StringVar(&cfg.MetricsAddr, "metrics-addr", "", "address to serve Prometheus metrics on (disabled when empty)")
	flags.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: debug, info, warn, error")
	flags.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "log format: text or json")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "cql-repairer:", err)
		return exitConfig
	}
	if anyFailed {
		return exitFailedTables
	}
	return 0
}

// overlayFile fills cfg from a YAML file, keeping any value the
// operator set explicitly on the command line.
func overlayFile(flags *pflag.FlagSet, cfg *config.Config, path string) error {
	fileCfg := *cfg
	if err := fileCfg.LoadFile(path); err != nil {
		return err
	}

	if !flags.Changed("hosts") {
		cfg.Hosts = fileCfg.Hosts
	}
	if !flags.Changed("username") {
		cfg.Username = fileCfg.Username
	}
	if !flags.Changed("password") {
		cfg.Password = fileCfg.Password
	}
	if !flags.Changed("cacert") {
		cfg.CACert = fileCfg.CACert
	}
	if !flags.Changed("timeout") {
		cfg.Timeout = fileCfg.Timeout
	}
	if !flags.Changed("concurrency") {
		cfg.Concurrency = fileCfg.Concurrency
	}
	if !flags.Changed("processes") {
		cfg.Processes = fileCfg.Processes
	}
	if !flags.Changed("partitionsize") {
		cfg.PartitionSize = fileCfg.PartitionSize
	}
	if !flags.Changed("keyspaces") {
		cfg.Keyspaces = fileCfg.Keyspaces
	}
	if !flags.Changed("tables") {
		cfg.Tables = fileCfg.Tables
	}
	if !flags.Changed("metrics-addr") {
		cfg.MetricsAddr = fileCfg.MetricsAddr
	}
	if !flags.Changed("log-level") {
		cfg.LogLevel = fileCfg.LogLevel
	}
	if !flags.Changed("log-format") {
		cfg.LogFormat = fileCfg.LogFormat
	}
	return nil
}

// sweep runs the full repair sweep and reports whether any table
// failed. The error return covers failures outside the sweep itself:
// partitioning, the discovery connection, or schema listing.
func sweep(cfg config.Config) (bool, error) {
	logging.Setup(logging.Config{Format: cfg.LogFormat, Level: cfg.LogLevel})
	log := logging.Component("main")
	log.Info("cql-repairer starting", "version", Version, "git_sha", GitSHA)

	metrics.Init("")
	if cfg.MetricsAddr != "" {
		go func() {
			if err := metrics.StartServer(cfg.MetricsAddr); err != nil {
				log.Error("metrics server stopped", "error", err)
			}
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Graceful shutdown handler. In-flight range queries fail fast on
	// cancellation and are counted as failures; nothing is persisted.
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		sig := <-ch
		log.Info("received signal, stopping sweep", "signal", sig.String())
		cancel()
	}()

	ranges, err := token.Partition(cfg.PartitionSize)
	if err != nil {
		return false, err
	}
	log.Info("token ranges computed", "ranges", len(ranges), "target", cfg.PartitionSize)

	base := cluster.Config{
		Hosts:    cfg.Hosts,
		Username: cfg.Username,
		Password: cfg.Password,
		CACert:   cfg.CACert,
		Timeout:  cfg.RequestTimeout(),
	}

	discovery, err := cluster.Connect(base)
	if err != nil {
		return false, err
	}
	defer discovery.Close()

	// Connection-per-worker: every table driver opens its own session
	// bound to the table's keyspace.
	sessions := func(ctx context.Context, keyspace string) (repair.Session, error) {
		sessionCfg := base
		sessionCfg.Keyspace = keyspace
		return cluster.Connect(sessionCfg)
	}

	coordinator := repair.NewCoordinator(discovery, sessions, ranges, repair.Options{
		Concurrency: cfg.Concurrency,
		Processes:   cfg.Processes,
		Timeout:     cfg.RequestTimeout(),
	})

	results, err := coordinator.Sweep(ctx, cfg.Keyspaces, cfg.Tables)
	if err != nil {
		return false, err
	}

	anyFailed := false
	for _, result := range results {
		if !result.OK() {
			anyFailed = true
		}
	}
	log.Info("sweep complete", "keyspaces", len(results), "failed", anyFailed)
	return anyFailed, nil
}
