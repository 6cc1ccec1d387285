package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/Suhaibinator/SDispatch/pkg/app"
	"github.com/Suhaibinator/SDispatch/pkg/config"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Execute runs the sdispatch command line.
func Execute(version string) error {
	return newRootCmd(version).Execute()
}

func newRootCmd(version string) *cobra.Command {
	root := &cobra.Command{
		Use:   "sdispatch",
		Short: "SDispatch - request dispatch for Go HTTP services",
		Long: `SDispatch routes HTTP requests through a layer stack to typed handlers.

This binary serves the bundled demo service and inspects its route table.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newServeCmd())
	root.AddCommand(newRoutesCmd())
	return root
}

type loadOptions struct {
	configPath string
	dotEnvPath string
}

func (o *loadOptions) bind(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&o.configPath, "config", "c", "config.yaml", "config file path")
	cmd.Flags().StringVar(&o.dotEnvPath, "env-file", ".env", "dotenv file path")
}

func (o *loadOptions) load() (*config.Config, error) {
	return config.NewLoader().WithYAMLFile(o.configPath).WithDotEnv(o.dotEnvPath).Load()
}

func newServeCmd() *cobra.Command {
	var opts loadOptions
	var address string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the demo service",
		Long:  "Load configuration from file and environment, then serve until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if address != "" {
				cfg.Server.Address = address
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}

	opts.bind(cmd)
	cmd.Flags().StringVarP(&address, "address", "a", "", "listen address, overrides the config file")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config) (err error) {
	logger, err := config.NewLogger(cfg.Logger)
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	if cfg.Tracing.Enabled {
		tp := sdktrace.NewTracerProvider()
		otel.SetTracerProvider(tp)
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{}, propagation.Baggage{}))
		defer func() {
			err = multierr.Append(err, tp.Shutdown(context.WithoutCancel(ctx)))
		}()
	}

	appConfig, err := app.FromConfig(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if appConfig.Store != nil {
		defer func() { err = multierr.Append(err, appConfig.Store.Close()) }()
	}

	logger.Info("Starting server", zap.String("address", cfg.Server.Address))
	return demoApp(appConfig).Run(ctx)
}

func newRoutesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "routes",
		Short: "Print the demo route table",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := demoApp(app.Config{Logger: zap.NewNop(), EnableMetrics: true, MetricsPath: "/metrics"})
			if _, err := a.Build(); err != nil {
				return err
			}
			return printRoutes(cmd.OutOrStdout(), a)
		},
	}
}

func printRoutes(out io.Writer, a *app.App) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "METHOD\tPATTERN\tINPUTS")
	for _, r := range a.Routes() {
		inputs := make([]string, 0, len(r.Params))
		for _, p := range r.Params {
			inputs = append(inputs, p.In+":"+p.Name)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", r.Method, r.Pattern, strings.Join(inputs, " "))
	}
	return w.Flush()
}
