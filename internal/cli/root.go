// Package cli implements the obsstore command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"obsstore/internal/config"
	"obsstore/internal/core"
)

// app carries the state shared by subcommands of one invocation.
type app struct {
	configPath string
	storage    string
	sqlitePath string
	logLevel   string
	metrics    bool

	cfg     config.Config
	logger  *slog.Logger
	svc     *core.Service
	metricz *core.PrometheusMetricsRecorder
}

var (
	okMark   = color.New(color.FgGreen).Sprint("✓")
	failMark = color.New(color.FgRed).Sprint("✗")
	idColor  = color.New(color.FgCyan)
	dimColor = color.New(color.FgHiBlack)
)

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "obsstore",
		Short:         "Store and stream sensor observations",
		SilenceUsage:  true,
		SilenceErrors: true,
		Long: `obsstore persists sensor observations into dataset series and reads
them back as lazily paged streams.`,
	}
	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", os.Getenv("OBSSTORE_CONFIG"), "YAML configuration file")
	flags.StringVar(&a.storage, "storage", "", "storage driver override (memory|sqlite|postgres)")
	flags.StringVar(&a.sqlitePath, "sqlite", "", "sqlite file override")
	flags.StringVar(&a.logLevel, "log-level", "", "log level override")
	flags.BoolVar(&a.metrics, "metrics", false, "print operation metrics after the command")

	root.AddCommand(a.registerCmd())
	root.AddCommand(a.insertCmd())
	root.AddCommand(a.streamCmd())
	root.AddCommand(a.exportCmd())
	root.AddCommand(kindsCmd())
	root.AddCommand(a.configCmd())
	return root
}

// Execute runs the command line and returns the process exit code.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := NewRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(stderr, "%s %v\n", failMark, err)
		return 1
	}
	return 0
}

func (a *app) loadConfig() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.storage != "" {
		cfg.Storage.Driver = a.storage
	}
	if a.sqlitePath != "" {
		cfg.Storage.SQLitePath = a.sqlitePath
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg
	return nil
}

func (a *app) newLogger(w io.Writer) *slog.Logger {
	level, _ := config.ParseLevel(a.cfg.Log.Level)
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(a.cfg.Log.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// withService opens the configured store around fn.
func (a *app) withService(cmd *cobra.Command, fn func(ctx context.Context, svc *core.Service) error) (err error) {
	if err := a.loadConfig(); err != nil {
		return err
	}
	a.logger = a.newLogger(cmd.ErrOrStderr())
	ctx := cmd.Context()
	gateway, err := core.OpenGateway(ctx, a.cfg.StorageSettings())
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	opts := []core.ServiceOption{
		core.WithLogger(core.NewSlogLogger(a.logger)),
		core.WithStreaming(a.cfg.StreamingSettings()),
	}
	if a.metrics {
		rec, err := core.NewPrometheusMetricsRecorder(nil)
		if err != nil {
			_ = gateway.Close()
			return err
		}
		a.metricz = rec
		opts = append(opts, core.WithMetricsRecorder(rec))
	}
	a.svc = core.NewService(gateway, opts...)
	defer func() {
		if cerr := a.svc.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close storage: %w", cerr)
		}
	}()
	if err := fn(ctx, a.svc); err != nil {
		return err
	}
	if a.metricz != nil {
		return a.printMetrics(cmd.OutOrStdout())
	}
	return nil
}

func (a *app) printMetrics(w io.Writer) error {
	families, err := a.metricz.Registry().Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	var lines []string
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			labels := make([]string, 0, len(m.GetLabel()))
			for _, l := range m.GetLabel() {
				labels = append(labels, l.GetName()+"="+l.GetValue())
			}
			var value float64
			switch {
			case m.GetCounter() != nil:
				value = m.GetCounter().GetValue()
			case m.GetHistogram() != nil:
				value = float64(m.GetHistogram().GetSampleCount())
			default:
				continue
			}
			lines = append(lines, fmt.Sprintf("%s{%s} %g", mf.GetName(), strings.Join(labels, ","), value))
		}
	}
	sort.Strings(lines)
	for _, l := range lines {
		if _, err := fmt.Fprintln(w, dimColor.Sprint(l)); err != nil {
			return err
		}
	}
	return nil
}

// openInput returns stdin for "-" or no argument, otherwise the named file.
func openInput(cmd *cobra.Command, args []string) (io.ReadCloser, error) {
	if len(args) == 0 || args[0] == "-" {
		return io.NopCloser(cmd.InOrStdin()), nil
	}
	f, err := os.Open(args[0])
	if err != nil {
		return nil, fmt.Errorf("open input: %w", err)
	}
	return f, nil
}

var errRejected = errors.New("observations rejected")
