package llm

import (
	"context"
	"strings"
	"testing"

	"github.com/kirillkom/verified-rag/internal/core/domain"
)

type namedGenerator string

func (g namedGenerator) Generate(context.Context, []domain.ChatMessage, domain.GenerateOptions) (*domain.Generation, error) {
	return &domain.Generation{Model: string(g)}, nil
}

func TestRegistryResolvesRoles(t *testing.T) {
	r := NewRegistry()
	r.RegisterGenerator("ollama", namedGenerator("local"))
	r.RegisterGenerator("OpenAI", namedGenerator("hosted"))

	gens, err := r.Resolve(map[string]string{
		RoleExtraction: "ollama",
		RoleGaps:       "ollama",
		RoleSynthesis:  "ollama",
		RoleFactCheck:  " openai ",
	})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if gens.FactCheck != namedGenerator("hosted") || gens.Synthesis != namedGenerator("local") {
		t.Fatalf("unexpected resolution %+v", gens)
	}
}

func TestRegistryUnknownBackend(t *testing.T) {
	r := NewRegistry()
	r.RegisterGenerator("ollama", namedGenerator("local"))

	_, err := r.Resolve(map[string]string{
		RoleExtraction: "ollama", RoleGaps: "ollama", RoleSynthesis: "ollama", RoleFactCheck: "openai",
	})
	if err == nil || !strings.Contains(err.Error(), `"openai" not configured (have ollama)`) {
		t.Fatalf("unexpected error %v", err)
	}
}
