package usecase

import (
	"context"
	"strings"
	"testing"

	"github.com/kirillkom/verified-rag/internal/core/domain"
)

func TestFactCheckerNoHallucinations(t *testing.T) {
	gen := &generatorFake{replies: []string{"NO_HALLUCINATIONS"}}
	report, err := NewFactChecker(gen, FactCheckerOptions{}).Check(context.Background(),
		domain.SynthesizedAnswer{Text: "L'importo è di 50.000 euro (CLAIM_001)."}, sampleClaims())
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if !report.IsAbsent() {
		t.Fatalf("expected no hallucinations, got %+v", report.Items())
	}
}

func TestFactCheckerFiltersBoilerplateAndCitedStatements(t *testing.T) {
	answer := strings.Join([]string{
		"In riferimento alla domanda, si comunica quanto segue:",
		"L'importo stanziato è di 50.000 euro (CLAIM_001).",
		domain.GapSentence,
		"Cordiali saluti.",
	}, " ")
	// A maximally skeptical checker flags every sentence.
	gen := &generatorFake{replies: []string{strings.Join([]string{
		"HALLUCINATION: In riferimento alla domanda, si comunica quanto segue:",
		"HALLUCINATION: L'importo stanziato è di 50.000 euro (CLAIM_001).",
		"- HALLUCINATION: " + domain.GapSentence,
		"1. HALLUCINATION: Cordiali saluti.",
	}, "\n")}}

	report, err := NewFactChecker(gen, FactCheckerOptions{}).Check(context.Background(),
		domain.SynthesizedAnswer{Text: answer, CitedClaimIDs: []string{"CLAIM_001"}}, sampleClaims())
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if !report.IsAbsent() {
		t.Fatalf("expected boilerplate and cited sentences filtered, got %+v", report.Items())
	}
}

func TestFactCheckerKeepsRealHallucinations(t *testing.T) {
	gen := &generatorFake{replies: []string{strings.Join([]string{
		"HALLUCINATION: Il contributo è erogato entro 30 giorni.",
		"HALLUCINATION: il contributo è erogato entro 30 giorni",
		"HALLUCINATION: In riferimento alla domanda il contributo è erogato dalla Regione Lazio",
	}, "\n")}}

	report, err := NewFactChecker(gen, FactCheckerOptions{}).Check(context.Background(),
		domain.SynthesizedAnswer{Text: "testo"}, sampleClaims())
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if report.Len() != 2 {
		t.Fatalf("expected 2 distinct hallucinations, got %+v", report.Items())
	}
}

func TestFactCheckerMalformedOutputExtractsNothing(t *testing.T) {
	gen := &generatorFake{replies: []string{"La risposta mi sembra corretta."}}
	report, err := NewFactChecker(gen, FactCheckerOptions{}).Check(context.Background(),
		domain.SynthesizedAnswer{Text: "testo"}, sampleClaims())
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if !report.IsAbsent() {
		t.Fatalf("expected nothing extracted from malformed output")
	}
}

func TestFactCheckerCustomBoilerplate(t *testing.T) {
	gen := &generatorFake{replies: []string{"HALLUCINATION: Ufficio Tributi informa"}}
	report, err := NewFactChecker(gen, FactCheckerOptions{Boilerplate: []string{"ufficio tributi informa"}}).Check(
		context.Background(), domain.SynthesizedAnswer{Text: "testo"}, sampleClaims())
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if !report.IsAbsent() {
		t.Fatalf("expected custom boilerplate to be filtered")
	}
}
