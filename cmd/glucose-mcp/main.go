// Command glucose-mcp serves glucose readings to MCP clients over SSE or stdio.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/lucas-1000/mcp-glucose/internal/builder"
	"github.com/lucas-1000/mcp-glucose/internal/config"
	"github.com/lucas-1000/mcp-glucose/internal/infrastructure/logging"
)

var version = "dev"

type options struct {
	configPath string
	envFile    string
	addr       string
	logLevel   string
	stdio      bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "glucose-mcp",
		Short: "MCP server for glucose readings",
		Long: `glucose-mcp exposes a health-data API to MCP clients.

Each SSE stream carries its own credential; tools called on a stream read
only that caller's data. With --stdio a single local client is served with
the static API key from the configuration.

Examples:
  glucose-mcp --config config.yaml
  glucose-mcp --addr :3001 --log-level debug
  glucose-mcp --stdio --env-file .env`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), opts)
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "Path to a YAML or TOML configuration file")
	flags.StringVar(&opts.envFile, "env-file", "", "Path to a .env file (default: ./.env when present)")
	flags.StringVar(&opts.addr, "addr", "", "HTTP listen address, overrides server.addr")
	flags.StringVar(&opts.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flags.BoolVar(&opts.stdio, "stdio", false, "Serve a single client on stdin/stdout instead of HTTP")

	cmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the server (default)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), opts)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	})

	return cmd
}

// loadConfig resolves the configuration from the env file, the config file,
// the environment and finally the command-line flags.
func loadConfig(opts *options) (*config.Config, error) {
	if err := config.LoadEnvFile(opts.envFile); err != nil {
		return nil, err
	}
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}

	if opts.addr != "" {
		cfg.Server.Addr = opts.addr
	}
	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}
	if cfg.Server.Version == config.Default().Server.Version && version != "dev" {
		cfg.Server.Version = version
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "validating flags")
	}
	return cfg, nil
}

func run(ctx context.Context, opts *options) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	b := builder.NewServerBuilder(cfg)
	logger, err := b.Logger()
	if err != nil {
		return err
	}
	logging.SetDefault(logger)
	defer func() { _ = logger.Sync() }()

	if opts.stdio {
		return serveStdio(ctx, b, logger)
	}
	return serveHTTP(ctx, b, cfg, logger)
}

func serveStdio(ctx context.Context, b *builder.ServerBuilder, logger *logging.Logger) error {
	if b.Config().Auth.APIKey == "" {
		logger.Warn("no api key configured; tool calls will ask for authentication")
	}
	s, err := b.BuildStdioServer()
	if err != nil {
		return err
	}
	logger.Info("starting MCP server in stdio mode")
	if err := s.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func serveHTTP(ctx context.Context, b *builder.ServerBuilder, cfg *config.Config, logger *logging.Logger) error {
	mcp, err := b.BuildMCPServer()
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(mcp.Start)
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down", logging.Fields{"timeout": cfg.Server.ShutdownTimeout.String()})

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return mcp.Stop(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("server stopped")
	return nil
}
