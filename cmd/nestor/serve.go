package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/kadirpekel/nestor/pkg/config"
	"github.com/kadirpekel/nestor/pkg/config/provider"
	"github.com/kadirpekel/nestor/pkg/runtime"
)

// ServeCmd starts the HTTP server.
type ServeCmd struct {
	Host string `help:"Bind address (overrides config)."`
	Port int    `help:"Listen port (overrides config)."`

	Watch bool `help:"Watch the config source and revalidate on change."`

	Source    string   `help:"Config source (file, consul, etcd, zookeeper)." default:"file"`
	Endpoints []string `help:"Remote config source endpoints (host:port)."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, loader, err := c.loadConfig(ctx, cli.Config)
	if err != nil {
		return err
	}
	if loader != nil {
		defer loader.Close()
	}

	if c.Host != "" {
		cfg.Server.Host = c.Host
	}
	if c.Port != 0 {
		cfg.Server.Port = c.Port
	}

	rt, err := runtime.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to build runtime: %w", err)
	}
	defer rt.Close()

	srv, err := rt.Server()
	if err != nil {
		return err
	}

	printServeInfo(cfg)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Start(gctx)
	})
	if c.Watch && loader != nil {
		g.Go(func() error {
			if err := loader.Watch(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}
	return g.Wait()
}

// loadConfig builds the config from the chosen source. Without a path
// the environment defaults apply, which is enough for a single-LLM
// setup with the provider's API key exported.
func (c *ServeCmd) loadConfig(ctx context.Context, path string) (*config.Config, *config.Loader, error) {
	if path == "" {
		slog.Info("No config file given, using environment defaults")
		return &config.Config{}, nil, nil
	}

	sourceType, err := provider.ParseType(c.Source)
	if err != nil {
		return nil, nil, err
	}

	p, err := provider.New(provider.ProviderConfig{
		Type:      sourceType,
		Path:      path,
		Endpoints: c.Endpoints,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open config source: %w", err)
	}

	loader := config.NewLoader(p, config.WithOnChange(func(*config.Config) {
		slog.Info("Configuration changed and validated; restart to apply")
	}))

	cfg, err := loader.Load(ctx)
	if err != nil {
		loader.Close()
		return nil, nil, err
	}

	slog.Info("Loaded configuration", "source", sourceType, "path", path)
	return cfg, loader, nil
}

// printServeInfo prints endpoints and persistence status.
func printServeInfo(cfg *config.Config) {
	blue, reset := "", ""
	if term.IsTerminal(int(os.Stdout.Fd())) {
		blue = "\033[38;2;59;130;246m"
		reset = "\033[0m"
	}

	addr := cfg.Server.Address()
	fmt.Printf("\n%sNestor server ready%s\n", blue, reset)
	fmt.Printf("   Messages:  http://%s/v1/messages\n", addr)
	fmt.Printf("   Health:    http://%s/healthz\n", addr)
	if cfg.Server.MetricsEnabled() {
		fmt.Printf("   Metrics:   http://%s%s\n", addr, cfg.Server.Metrics.Path)
	}
	if cfg.Archive.Enabled {
		fmt.Printf("   Runs:      http://%s/v1/runs\n", addr)
	}
	if cfg.Session.IsSQL() {
		fmt.Printf("   Sessions:  persistent (%s)\n", cfg.Session.Database.Driver)
	} else {
		fmt.Printf("   Sessions:  in-memory\n")
	}
	if cfg.Server.Auth.IsEnabled() {
		fmt.Printf("   Auth:      JWT (%s)\n", cfg.Server.Auth.Issuer)
	}
	if cfg.Server.RateLimitEnabled() {
		fmt.Printf("   Limits:    enabled (%d windows)\n", len(cfg.Server.RateLimit.Limits))
	}
	fmt.Println("\nPress Ctrl+C to stop")
}
