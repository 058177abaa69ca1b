// Package prompts holds every prompt template the pipelines send to a
// language model, keyed by (domain, name). Built-in defaults cover all
// call sites; operators can override any of them from YAML at startup.
// After startup the registry is read-only.
package prompts

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/docbrain-ai/docbrain/pkg/config"
)

// ============================================================================
// REGISTRY
// ============================================================================

// Registry maps (domain, name) to a prompt template. Templates use
// {{variable}} placeholders filled in by Render.
type Registry struct {
	mu        sync.RWMutex
	defaults  map[string]string
	overrides map[string]string
}

// New builds a registry preloaded with the built-in templates.
func New() *Registry {
	r := &Registry{
		defaults:  make(map[string]string),
		overrides: make(map[string]string),
	}
	r.registerDefaults()
	return r
}

func promptKey(domain, name string) string {
	return domain + "." + name
}

// Register installs or replaces a template override.
func (r *Registry) Register(domain, name, template string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.overrides[promptKey(domain, name)] = template
}

// Template returns the effective template for (domain, name). Overrides
// win over built-in defaults.
func (r *Registry) Template(domain, name string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	key := promptKey(domain, name)
	if t, ok := r.overrides[key]; ok {
		return t, true
	}
	t, ok := r.defaults[key]
	return t, ok
}

// Names lists the template names registered under a domain, sorted.
func (r *Registry) Names(domain string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	prefix := domain + "."
	seen := make(map[string]bool)
	for key := range r.defaults {
		if strings.HasPrefix(key, prefix) {
			seen[strings.TrimPrefix(key, prefix)] = true
		}
	}
	for key := range r.overrides {
		if strings.HasPrefix(key, prefix) {
			seen[strings.TrimPrefix(key, prefix)] = true
		}
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var placeholderPattern = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_]+)\s*\}\}`)

// Render substitutes vars into the (domain, name) template. An unknown
// template logs a warning and renders as the empty string; a placeholder
// with no matching var renders as empty.
func (r *Registry) Render(domain, name string, vars map[string]string) string {
	template, ok := r.Template(domain, name)
	if !ok {
		slog.Warn("Prompt template not found",
			"domain", domain,
			"name", name,
		)
		return ""
	}

	return placeholderPattern.ReplaceAllStringFunc(template, func(match string) string {
		variable := placeholderPattern.FindStringSubmatch(match)[1]
		return vars[variable]
	})
}

// ============================================================================
// YAML OVERRIDES
// ============================================================================

// LoadDir reads prompt overrides from a directory. Each *.yaml / *.yml
// file maps template names to template text, and the file name (without
// extension) is the domain. A missing directory is not an error.
func (r *Registry) LoadDir(dir string) error {
	if dir == "" {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read prompt directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read prompt file %s: %w", path, err)
		}

		var templates map[string]string
		if err := yaml.Unmarshal(data, &templates); err != nil {
			return fmt.Errorf("failed to parse prompt file %s: %w", path, err)
		}

		domain := strings.TrimSuffix(entry.Name(), ext)
		for name, template := range templates {
			r.Register(domain, name, template)
		}
		slog.Debug("Loaded prompt overrides",
			"domain", domain,
			"count", len(templates),
		)
	}
	return nil
}

// LoadFile reads prompt overrides from a single YAML file keyed
// domain -> name -> template. A missing file is not an error.
func (r *Registry) LoadFile(path string) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read prompt file %s: %w", path, err)
	}

	var domains map[string]map[string]string
	if err := yaml.Unmarshal(data, &domains); err != nil {
		return fmt.Errorf("failed to parse prompt file %s: %w", path, err)
	}

	for domain, templates := range domains {
		for name, template := range templates {
			r.Register(domain, name, template)
		}
	}
	return nil
}

// FromConfig builds a registry with the configured overrides applied.
// Inline overrides win over the file.
func FromConfig(cfg config.PromptsConfig) (*Registry, error) {
	r := New()
	if err := r.LoadFile(cfg.Path); err != nil {
		return nil, err
	}
	for domain, templates := range cfg.Overrides {
		for name, template := range templates {
			r.Register(domain, name, template)
		}
	}
	return r, nil
}
