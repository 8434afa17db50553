package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ajitpratap0/datatoolset/pkg/config"
	"github.com/ajitpratap0/datatoolset/pkg/logger"
	"github.com/ajitpratap0/datatoolset/pkg/observability"
	"github.com/ajitpratap0/datatoolset/pkg/toolkit"
)

var version = "0.1.0"

func main() {
	// DATATOOLSET_* overrides may come from a .env file
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := newRootCommand().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// cli holds the flags shared by every command
type cli struct {
	configFile string
}

func newRootCommand() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:   "datatoolset",
		Short: "Inspect, query and convert Avro and Parquet files",
		Long: `datatoolset reads Avro container files and Parquet files through one set of
commands. The format is chosen by file extension (.avro or .parquet).`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&c.configFile, "config", "", "Path to a YAML configuration file")
	pf.String("log-level", "", "Log level (debug, info, warn, error)")
	pf.String("log-format", "", "Log encoding (console, json)")
	pf.Bool("trace", false, "Export operation spans to stderr")
	pf.String("metrics-file", "", "Write prometheus text-format metrics to this file on exit")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "datatoolset v%s\n", version)
			fmt.Fprintf(w, "Go version: %s\n", runtime.Version())
			fmt.Fprintf(w, "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	root.AddCommand(
		c.headCommand("head", "Print the first rows of a file"),
		c.headCommand("tail", "Print the last rows of a file"),
		c.metaCommand(),
		c.schemaCommand(),
		c.statsCommand(),
		c.countCommand(),
		c.queryCommand(),
		c.validateCommand(),
		c.mergeCommand(),
		c.toJSONCommand(),
		c.toCSVCommand(),
		c.toContainerCommand("to_avro", "Convert a file to an Avro container"),
		c.toContainerCommand("to_parquet", "Convert a file to Parquet"),
		c.sampleCommand(),
	)
	return root
}

// run resolves configuration, sets up logging and observability for one
// invocation and hands fn a toolkit. Spans and metrics are flushed on every
// exit path.
func (c *cli) run(cmd *cobra.Command, fn func(context.Context, *toolkit.Toolkit, io.Writer) error) (err error) {
	cfg, err := config.Resolve(c.configFile, cmd.Flags())
	if err != nil {
		return err
	}

	logCfg := logger.DefaultConfig()
	logCfg.Level = cfg.Observability.LogLevel
	logCfg.Encoding = cfg.Observability.LogFormat
	if err := logger.Init(logCfg); err != nil {
		return err
	}
	log := logger.Get()
	defer func() { _ = logger.Sync() }()

	obsCfg := observability.DefaultConfig()
	obsCfg.ServiceVersion = version
	obsCfg.Trace = cfg.Observability.Trace
	obsCfg.TraceWriter = cmd.ErrOrStderr()
	obsCfg.MetricsFile = cfg.Observability.MetricsFile
	provider, err := observability.Initialize(obsCfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if serr := provider.Shutdown(context.Background()); serr != nil {
			log.Warn("observability shutdown failed", zap.Error(serr))
			if err == nil {
				err = serr
			}
		}
	}()

	log.Debug("running command", zap.String("command", cmd.Name()), zap.Strings("args", cmd.Flags().Args()))
	return fn(cmd.Context(), toolkit.New(cfg, log), cmd.OutOrStdout())
}
