package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/invopop/jsonschema"

	"github.com/kadirpekel/nestor"
	"github.com/kadirpekel/nestor/pkg/config"
	"github.com/kadirpekel/nestor/pkg/memory"
	"github.com/kadirpekel/nestor/pkg/runtime"
	"github.com/kadirpekel/nestor/pkg/supervisor"
)

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Println(nestor.GetVersion().String())
	return nil
}

// CallCmd runs one request through the delegation loop, streaming the
// answer to stdout.
type CallCmd struct {
	Query   []string `arg:"" help:"The request to run."`
	Session string   `short:"s" help:"Session ID for conversation continuity."`
}

func (c *CallCmd) Run(cli *CLI) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := loadFileConfig(ctx, cli.Config)
	if err != nil {
		return err
	}

	rt, err := runtime.New(cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	state, err := rt.Call(ctx, supervisor.Request{
		Query:     strings.Join(c.Query, " "),
		SessionID: c.Session,
	}, os.Stdout)
	if err != nil {
		return err
	}
	fmt.Println()

	if !state.Complete {
		return fmt.Errorf("run ended after %d iterations without an answer", state.Iteration)
	}
	return nil
}

// IngestCmd loads documents into recall memory. Only the memory stack
// is assembled, so no LLM credentials are needed.
type IngestCmd struct {
	Paths []string `arg:"" help:"Files or directories to ingest." type:"path"`
}

func (c *IngestCmd) Run(cli *CLI) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := loadFileConfig(ctx, cli.Config)
	if err != nil {
		return err
	}
	cfg.SetDefaults()

	if !cfg.Memory.IsEnabled() {
		return fmt.Errorf("memory is disabled in the configuration")
	}
	if err := cfg.Memory.Validate(); err != nil {
		return fmt.Errorf("memory: %w", err)
	}
	if cfg.Memory.Path == "" {
		fmt.Fprintln(os.Stderr, "Warning: memory.path is not set; ingested documents will not outlive this process")
	}

	store, err := memory.NewRecallStore(cfg.Memory, nil)
	if err != nil {
		return err
	}
	defer store.Close()

	ing, err := memory.NewIngestor(store)
	if err != nil {
		return err
	}

	files, chunks := 0, 0
	for _, path := range c.Paths {
		report, err := ing.IngestPath(ctx, path)
		if err != nil {
			return err
		}
		files += report.Files
		chunks += report.Chunks
		for _, skipped := range report.Skipped {
			fmt.Printf("skipped: %s\n", skipped)
		}
	}

	fmt.Printf("Ingested %d file(s), %d chunk(s)\n", files, chunks)
	return nil
}

// SchemaCmd generates JSON Schema from the config structs, for editor
// completion and the config builder.
type SchemaCmd struct {
	Compact bool `help:"Compact JSON output (no indentation)."`
}

func (c *SchemaCmd) Run(cli *CLI) error {
	reflector := &jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}

	schema := reflector.Reflect(&config.Config{})
	schema.ID = "https://github.com/kadirpekel/nestor/schemas/config.json"
	schema.Title = "Nestor Configuration Schema"
	schema.Description = "Configuration schema for the Nestor assistant"
	schema.Version = "http://json-schema.org/draft-07/schema#"

	encoder := json.NewEncoder(os.Stdout)
	if !c.Compact {
		encoder.SetIndent("", "  ")
	}
	if err := encoder.Encode(schema); err != nil {
		return fmt.Errorf("failed to encode schema: %w", err)
	}
	return nil
}

// loadFileConfig loads a config file, or returns an empty config that
// picks up environment defaults when no path is given.
func loadFileConfig(ctx context.Context, path string) (*config.Config, error) {
	if path == "" {
		return &config.Config{}, nil
	}

	cfg, loader, err := config.LoadConfigFile(ctx, path)
	if err != nil {
		return nil, err
	}
	loader.Close()
	return cfg, nil
}
