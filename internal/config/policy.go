package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Policy overrides pipeline thresholds and word lists from a YAML file.
// Absent keys keep the environment value.
type Policy struct {
	AcceptThreshold     *int     `yaml:"accept_threshold"`
	MinSimilarity       *float64 `yaml:"min_similarity"`
	MinRelevance        *float64 `yaml:"min_relevance"`
	GroundingMinOverlap *float64 `yaml:"grounding_min_overlap"`
	SynthesisMaxWords   *int     `yaml:"synthesis_max_words"`
	KeywordTriggers     []string `yaml:"keyword_triggers"`
	Boilerplate         []string `yaml:"boilerplate"`
}

func LoadPolicy(path string) (Policy, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("read policy file: %w", err)
	}
	var p Policy
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return Policy{}, fmt.Errorf("parse policy file: %w", err)
	}
	if err := p.validate(); err != nil {
		return Policy{}, fmt.Errorf("invalid policy %s: %w", path, err)
	}
	return p, nil
}

func (p Policy) validate() error {
	if p.AcceptThreshold != nil && (*p.AcceptThreshold < 0 || *p.AcceptThreshold > 100) {
		return fmt.Errorf("accept_threshold must be within 0..100, got %d", *p.AcceptThreshold)
	}
	if p.MinSimilarity != nil && (*p.MinSimilarity < 0 || *p.MinSimilarity > 1) {
		return fmt.Errorf("min_similarity must be within 0..1, got %v", *p.MinSimilarity)
	}
	if p.MinRelevance != nil && (*p.MinRelevance < 0 || *p.MinRelevance > 10) {
		return fmt.Errorf("min_relevance must be within 0..10, got %v", *p.MinRelevance)
	}
	if p.GroundingMinOverlap != nil && (*p.GroundingMinOverlap <= 0 || *p.GroundingMinOverlap > 1) {
		return fmt.Errorf("grounding_min_overlap must be within (0,1], got %v", *p.GroundingMinOverlap)
	}
	if p.SynthesisMaxWords != nil && *p.SynthesisMaxWords <= 0 {
		return fmt.Errorf("synthesis_max_words must be positive, got %d", *p.SynthesisMaxWords)
	}
	return nil
}

// WithPolicy returns a copy of c with the policy's present keys applied.
func (c Config) WithPolicy(p Policy) Config {
	if p.AcceptThreshold != nil {
		c.AcceptThreshold = *p.AcceptThreshold
	}
	if p.MinSimilarity != nil {
		c.VerifierMinSimilarity = *p.MinSimilarity
	}
	if p.MinRelevance != nil {
		c.ExtractionMinRelevance = *p.MinRelevance
	}
	if p.GroundingMinOverlap != nil {
		c.GroundingMinOverlap = *p.GroundingMinOverlap
	}
	if p.SynthesisMaxWords != nil {
		c.SynthesisMaxWords = *p.SynthesisMaxWords
	}
	if len(p.KeywordTriggers) > 0 {
		c.KeywordTriggers = append([]string(nil), p.KeywordTriggers...)
	}
	if len(p.Boilerplate) > 0 {
		c.Boilerplate = append([]string(nil), p.Boilerplate...)
	}
	return c
}
