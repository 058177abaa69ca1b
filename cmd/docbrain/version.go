package main

import (
	"encoding/json"
	"fmt"
	"os"

	docbrain "github.com/docbrain-ai/docbrain"
)

// VersionCmd shows version information.
type VersionCmd struct {
	JSON bool `help:"Output as JSON."`
}

func (c *VersionCmd) Run() error {
	info := docbrain.GetVersion()
	if c.JSON {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(info)
	}
	fmt.Println(info.String())
	return nil
}
