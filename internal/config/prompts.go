package config

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed prompts.yaml
var defaultPromptsYAML []byte

// PromptTemplate is the text/template source used to ask a model for cards of one type.
type PromptTemplate struct {
	CardType    string `yaml:"card_type" json:"card_type"`
	Description string `yaml:"description" json:"description"`
	System      string `yaml:"system" json:"system"`
	User        string `yaml:"user" json:"user"`
}

// PromptTemplates is the set of per-card-type templates plus a fallback.
type PromptTemplates struct {
	Default   PromptTemplate   `yaml:"default"`
	Templates []PromptTemplate `yaml:"templates"`

	byType map[string]PromptTemplate
}

// LoadPromptTemplates reads templates from path, or the built-in set when path is empty.
// Entries in the file override built-in entries for the same card type.
func LoadPromptTemplates(path string) (*PromptTemplates, error) {
	base, err := ParsePromptTemplates(defaultPromptsYAML)
	if err != nil {
		return nil, fmt.Errorf("parse built-in prompt templates: %w", err)
	}
	if path == "" {
		return base, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read prompt templates: %w", err)
	}
	override, err := ParsePromptTemplates(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse prompt templates %s: %w", path, err)
	}

	if override.Default.User != "" {
		base.Default = override.Default
	}
	for cardType, tmpl := range override.byType {
		base.byType[cardType] = tmpl
	}
	base.rebuildList()
	return base, nil
}

// ParsePromptTemplates decodes a YAML template document.
func ParsePromptTemplates(data []byte) (*PromptTemplates, error) {
	var pt PromptTemplates
	if err := yaml.Unmarshal(data, &pt); err != nil {
		return nil, err
	}
	pt.byType = make(map[string]PromptTemplate, len(pt.Templates))
	for i, t := range pt.Templates {
		t.CardType = strings.TrimSpace(t.CardType)
		if t.CardType == "" {
			return nil, fmt.Errorf("template %d: card_type is required", i)
		}
		if t.User == "" {
			return nil, fmt.Errorf("template %s: user prompt is required", t.CardType)
		}
		pt.byType[t.CardType] = t
	}
	return &pt, nil
}

// Lookup returns the template for cardType, falling back to the default.
func (p *PromptTemplates) Lookup(cardType string) PromptTemplate {
	if t, ok := p.byType[cardType]; ok {
		if t.System == "" {
			t.System = p.Default.System
		}
		return t
	}
	t := p.Default
	t.CardType = cardType
	return t
}

// Has reports whether a dedicated template exists for cardType.
func (p *PromptTemplates) Has(cardType string) bool {
	_, ok := p.byType[cardType]
	return ok
}

// List returns the dedicated templates sorted by card type.
func (p *PromptTemplates) List() []PromptTemplate {
	out := make([]PromptTemplate, len(p.Templates))
	copy(out, p.Templates)
	return out
}

func (p *PromptTemplates) rebuildList() {
	p.Templates = p.Templates[:0]
	for _, t := range p.byType {
		p.Templates = append(p.Templates, t)
	}
	sort.Slice(p.Templates, func(i, j int) bool { return p.Templates[i].CardType < p.Templates[j].CardType })
}
