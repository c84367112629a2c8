// Package language holds the registry of runnable languages: which container
// image runs them, what the staged source file is called, and how the
// toolchain is invoked inside the container.
package language

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

var (
	ErrNotFound    = errors.New("language not found")
	ErrInvalidSpec = errors.New("invalid language spec")
)

// Placeholders expanded in RunCommand by the sandbox launcher.
const (
	PlaceholderFile = "{file}"
	PlaceholderDir  = "{dir}"
)

// Spec describes one runnable language.
type Spec struct {
	ID          string   `yaml:"id" json:"id"`
	Name        string   `yaml:"name" json:"name"`
	Aliases     []string `yaml:"aliases,omitempty" json:"aliases,omitempty"`
	Image       string   `yaml:"image" json:"image"`
	Extension   string   `yaml:"extension" json:"extension"`
	FileName    string   `yaml:"file_name,omitempty" json:"fileName,omitempty"`
	RunCommand  string   `yaml:"run_command" json:"runCommand"`
	Compiled    bool     `yaml:"compiled" json:"compiled"`
	InputTokens []string `yaml:"input_tokens,omitempty" json:"inputTokens,omitempty"`
}

// SourceFile returns the name the submitted source is staged under.
func (s Spec) SourceFile() string {
	if s.FileName != "" {
		return s.FileName
	}
	return "main." + strings.TrimPrefix(s.Extension, ".")
}

// Validate checks that the spec can be launched.
func (s Spec) Validate() error {
	switch {
	case s.ID == "":
		return fmt.Errorf("%w: missing id", ErrInvalidSpec)
	case s.Image == "":
		return fmt.Errorf("%w: %s: missing image", ErrInvalidSpec, s.ID)
	case s.Extension == "" && s.FileName == "":
		return fmt.Errorf("%w: %s: missing extension", ErrInvalidSpec, s.ID)
	case s.RunCommand == "":
		return fmt.Errorf("%w: %s: missing run_command", ErrInvalidSpec, s.ID)
	}
	return nil
}

// Registry is a concurrent-safe set of language specs keyed by ID, with
// case-insensitive alias resolution.
type Registry struct {
	mu      sync.RWMutex
	specs   map[string]Spec
	aliases map[string]string
}

// NewRegistry creates a registry preloaded with the default languages.
func NewRegistry() *Registry {
	r := &Registry{
		specs:   make(map[string]Spec),
		aliases: make(map[string]string),
	}
	for _, s := range Defaults() {
		_ = r.register(s)
	}
	return r
}

// Register adds or replaces a language.
func (r *Registry) Register(s Spec) error {
	if err := s.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.register(s)
}

func (r *Registry) register(s Spec) error {
	id := strings.ToLower(s.ID)
	s.ID = id
	r.specs[id] = s
	for _, a := range s.Aliases {
		r.aliases[strings.ToLower(a)] = id
	}
	return nil
}

// Replace swaps the whole registry contents for the defaults overlaid with
// specs. On a validation error nothing changes.
func (r *Registry) Replace(specs []Spec) error {
	for _, s := range specs {
		if err := s.Validate(); err != nil {
			return err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.specs = make(map[string]Spec)
	r.aliases = make(map[string]string)
	for _, s := range Defaults() {
		_ = r.register(s)
	}
	for _, s := range specs {
		_ = r.register(s)
	}
	return nil
}

// Lookup resolves an ID or alias.
func (r *Registry) Lookup(id string) (Spec, bool) {
	key := strings.ToLower(strings.TrimSpace(id))

	r.mu.RLock()
	defer r.mu.RUnlock()
	if s, ok := r.specs[key]; ok {
		return s, true
	}
	if canonical, ok := r.aliases[key]; ok {
		s, ok := r.specs[canonical]
		return s, ok
	}
	return Spec{}, false
}

// Get is Lookup with an error.
func (r *Registry) Get(id string) (Spec, error) {
	s, ok := r.Lookup(id)
	if !ok {
		return Spec{}, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return s, nil
}

// List returns all languages sorted by ID.
func (r *Registry) List() []Spec {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Spec, 0, len(r.specs))
	for _, s := range r.specs {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Images returns the distinct container images in use.
func (r *Registry) Images() []string {
	seen := make(map[string]bool)
	var images []string
	for _, s := range r.List() {
		if !seen[s.Image] {
			seen[s.Image] = true
			images = append(images, s.Image)
		}
	}
	return images
}

type fileFormat struct {
	Languages []Spec `yaml:"languages"`
}

// LoadFile reads language specs from a YAML file of the form
//
//	languages:
//	  - id: ruby
//	    image: ruby:3.3-slim
//	    extension: rb
//	    run_command: ruby {file}
func LoadFile(path string) ([]Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading languages file %s: %w", path, err)
	}
	var f fileFormat
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing languages file %s: %w", path, err)
	}
	for _, s := range f.Languages {
		if err := s.Validate(); err != nil {
			return nil, fmt.Errorf("languages file %s: %w", path, err)
		}
	}
	return f.Languages, nil
}
