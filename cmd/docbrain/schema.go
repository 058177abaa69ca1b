package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/invopop/jsonschema"

	"github.com/docbrain-ai/docbrain/pkg/config"
)

// SchemaCmd generates a JSON Schema for the configuration file, for
// editor completion and config linting. Output goes to stdout.
type SchemaCmd struct {
	Compact bool `short:"c" help:"Compact JSON output (no indentation)."`
}

func (c *SchemaCmd) Run(cli *CLI) error {
	reflector := &jsonschema.Reflector{
		// Unknown keys in a config file are almost always typos.
		AllowAdditionalProperties: false,
		// Inline definitions so the schema works without $ref support.
		DoNotReference: true,
	}

	schema := reflector.Reflect(&config.Config{})

	schema.ID = "https://docbrain.ai/schemas/config.json"
	schema.Title = "DocBrain Configuration Schema"
	schema.Description = "Configuration schema for the DocBrain knowledge base server"
	schema.Version = "http://json-schema.org/draft-07/schema#"

	schema.Examples = []interface{}{
		map[string]interface{}{
			"database": map[string]interface{}{
				"driver": "sqlite",
				"dsn":    "data/docbrain.db",
			},
			"embedder": map[string]interface{}{
				"provider": "openai",
				"model":    "text-embedding-3-small",
				"api_key":  "${OPENAI_API_KEY}",
			},
			"llm": map[string]interface{}{
				"default": "main",
				"providers": map[string]interface{}{
					"main": map[string]interface{}{
						"provider": "openai",
						"model":    "gpt-4o-mini",
						"api_key":  "${OPENAI_API_KEY}",
					},
				},
			},
			"vector_store": map[string]interface{}{
				"provider": "chromem",
			},
		},
	}

	encoder := json.NewEncoder(os.Stdout)
	if !c.Compact {
		encoder.SetIndent("", "  ")
	}

	if err := encoder.Encode(schema); err != nil {
		return fmt.Errorf("failed to encode schema: %w", err)
	}
	return nil
}
