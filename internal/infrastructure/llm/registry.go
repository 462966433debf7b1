// Package llm selects generation and embedding backends per pipeline role.
package llm

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kirillkom/verified-rag/internal/core/ports"
)

const (
	BackendOllama = "ollama"
	BackendOpenAI = "openai"
)

const (
	RoleExtraction = "extraction"
	RoleGaps       = "gaps"
	RoleSynthesis  = "synthesis"
	RoleFactCheck  = "factcheck"
)

// Registry holds the configured backends. It is built once at startup.
type Registry struct {
	generators map[string]ports.TextGenerator
	embedders  map[string]ports.Embedder
}

func NewRegistry() *Registry {
	return &Registry{
		generators: make(map[string]ports.TextGenerator),
		embedders:  make(map[string]ports.Embedder),
	}
}

func (r *Registry) RegisterGenerator(name string, gen ports.TextGenerator) {
	r.generators[normalize(name)] = gen
}

func (r *Registry) RegisterEmbedder(name string, emb ports.Embedder) {
	r.embedders[normalize(name)] = emb
}

func (r *Registry) Generator(name string) (ports.TextGenerator, error) {
	gen, ok := r.generators[normalize(name)]
	if !ok {
		return nil, fmt.Errorf("generation backend %q not configured (have %s)", name, keys(r.generators))
	}
	return gen, nil
}

func (r *Registry) Embedder(name string) (ports.Embedder, error) {
	emb, ok := r.embedders[normalize(name)]
	if !ok {
		return nil, fmt.Errorf("embedding backend %q not configured (have %s)", name, keys(r.embedders))
	}
	return emb, nil
}

// RoleGenerators resolves one generator per pipeline role.
type RoleGenerators struct {
	Extraction ports.TextGenerator
	Gaps       ports.TextGenerator
	Synthesis  ports.TextGenerator
	FactCheck  ports.TextGenerator
}

// Resolve maps role -> backend name onto registered generators.
func (r *Registry) Resolve(roles map[string]string) (RoleGenerators, error) {
	var out RoleGenerators
	targets := map[string]*ports.TextGenerator{
		RoleExtraction: &out.Extraction,
		RoleGaps:       &out.Gaps,
		RoleSynthesis:  &out.Synthesis,
		RoleFactCheck:  &out.FactCheck,
	}
	for role, target := range targets {
		name, ok := roles[role]
		if !ok {
			return RoleGenerators{}, fmt.Errorf("no backend configured for role %q", role)
		}
		gen, err := r.Generator(name)
		if err != nil {
			return RoleGenerators{}, fmt.Errorf("role %s: %w", role, err)
		}
		*target = gen
	}
	return out, nil
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func keys[T any](m map[string]T) string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	if len(out) == 0 {
		return "none"
	}
	return strings.Join(out, ", ")
}
