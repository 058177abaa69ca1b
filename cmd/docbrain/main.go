// Command docbrain is the CLI for the DocBrain backend.
//
// Usage:
//
//	docbrain serve --config docbrain.yaml
//	docbrain worker --config docbrain.yaml
//	docbrain ingest ./docs --kb <knowledge-base-id>
//	docbrain query "What is the refund policy?" --kb <knowledge-base-id>
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/alecthomas/kong"

	"github.com/docbrain-ai/docbrain/pkg/config"
)

// CLI defines the command-line interface.
type CLI struct {
	Version  VersionCmd  `cmd:"" help:"Show version information."`
	Serve    ServeCmd    `cmd:"" help:"Start the API server with embedded workers."`
	Worker   WorkerCmd   `cmd:"" help:"Run queue workers without the API server."`
	Ingest   IngestCmd   `cmd:"" help:"Ingest local files into a knowledge base."`
	Query    QueryCmd    `cmd:"" help:"Ask a knowledge base a question."`
	Validate ValidateCmd `cmd:"" help:"Validate a configuration file."`
	Schema   SchemaCmd   `cmd:"" help:"Generate the configuration JSON Schema."`

	Config    string `short:"c" help:"Path to config file." type:"path"`
	LogLevel  string `help:"Log level (debug, info, warn, error)."`
	LogFile   string `help:"Log file path (empty = stderr)."`
	LogFormat string `help:"Log format (text, verbose, json)."`
}

// loadConfig loads the configuration file, or the built-in defaults when
// no path is given. The returned loader is nil in default mode. A loaded
// file's logger section takes effect here, for values the flags and
// environment left unset.
func loadConfig(ctx context.Context, cli *CLI) (*config.Config, *config.Loader, error) {
	if cli.Config == "" {
		return config.Default(), nil, nil
	}

	_ = config.LoadDotEnvForConfig(cli.Config)
	cfg, loader, err := config.LoadConfigFile(ctx, cli.Config)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := initLoggerFromConfig(cli, cfg.Logger); err != nil {
		loader.Close()
		return nil, nil, err
	}
	return cfg, loader, nil
}

func main() {
	_ = config.LoadDotEnv()

	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("docbrain"),
		kong.Description("DocBrain - knowledge base question answering"),
		kong.UsageOnError(),
	)

	if err := initLoggerFromCLI(cli.LogLevel, cli.LogFile, cli.LogFormat); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if closeLogFile != nil {
			closeLogFile()
		}
	}()

	err := ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}
