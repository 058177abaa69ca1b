package config

// ============================================================================
// PROMPTS
// ============================================================================

// PromptsConfig configures prompt template overrides.
//
// Every prompt ships with a built-in default. Overrides replace a default by
// (domain, name), either inline or from a YAML file; inline wins over file.
//
// Example YAML:
//
//	prompts:
//	  path: prompts.yaml
//	  overrides:
//	    query:
//	      route: |
//	        Decide which service should answer: {{question}}
type PromptsConfig struct {
	// Path to a YAML file of overrides, keyed domain -> name -> template.
	Path string `yaml:"path,omitempty"`

	// Overrides defined inline in the main config.
	Overrides map[string]map[string]string `yaml:"overrides,omitempty"`
}

// SetDefaults applies default values.
func (c *PromptsConfig) SetDefaults() {}

// Validate checks the configuration for errors.
func (c *PromptsConfig) Validate() error {
	return nil
}
