package ai

import (
	"bytes"
	"fmt"
	"strings"
	"sync"
	"text/template"

	"github.com/pinnlo/service_layer/internal/app/domain/card"
	"github.com/pinnlo/service_layer/internal/config"
)

// StrategyContext is the strategy summary given to the model.
type StrategyContext struct {
	Title       string `json:"title"`
	Client      string `json:"client,omitempty"`
	Description string `json:"description,omitempty"`
}

// CardContext is a card summary given to the model.
type CardContext struct {
	CardType    string `json:"card_type"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// PromptData is the input to a prompt template.
type PromptData struct {
	Count         int
	CardType      string
	CardTypeName  string
	Fields        []string
	Strategy      StrategyContext
	ExistingCards []CardContext
	Intelligence  []CardContext
	Context       string
	Instructions  string
}

// ToCardContext summarises cards for a prompt.
func ToCardContext(cards []card.Card) []CardContext {
	out := make([]CardContext, len(cards))
	for i, c := range cards {
		out[i] = CardContext{CardType: c.CardType, Title: c.Title, Description: c.Description}
	}
	return out
}

var promptFuncs = template.FuncMap{
	"join": func(items []string, sep string) string { return strings.Join(items, sep) },
	"truncate": func(s string, n int) string {
		r := []rune(s)
		if len(r) <= n {
			return s
		}
		return strings.TrimSpace(string(r[:n])) + "..."
	},
}

type compiledPrompt struct {
	system *template.Template
	user   *template.Template
}

// PromptBuilder renders per-card-type prompt templates. Compiled templates
// are cached by card type.
type PromptBuilder struct {
	templates *config.PromptTemplates

	mu    sync.Mutex
	cache map[string]compiledPrompt
}

// NewPromptBuilder creates a builder over templates.
func NewPromptBuilder(templates *config.PromptTemplates) *PromptBuilder {
	return &PromptBuilder{templates: templates, cache: make(map[string]compiledPrompt)}
}

// Templates exposes the underlying template set.
func (b *PromptBuilder) Templates() *config.PromptTemplates { return b.templates }

// Build renders the prompt for data.CardType. CardTypeName and Fields are
// filled from the card type registry when empty.
func (b *PromptBuilder) Build(data PromptData) (Prompt, error) {
	if info, ok := card.LookupType(data.CardType); ok {
		if data.CardTypeName == "" {
			data.CardTypeName = info.Name
		}
		if data.Fields == nil {
			data.Fields = info.Fields
		}
	}
	if data.CardTypeName == "" {
		data.CardTypeName = data.CardType
	}
	if data.Count <= 0 {
		data.Count = 3
	}

	compiled, err := b.compile(data.CardType)
	if err != nil {
		return Prompt{}, err
	}

	var sys, user bytes.Buffer
	if err := compiled.system.Execute(&sys, data); err != nil {
		return Prompt{}, fmt.Errorf("render system prompt for %s: %w", data.CardType, err)
	}
	if err := compiled.user.Execute(&user, data); err != nil {
		return Prompt{}, fmt.Errorf("render user prompt for %s: %w", data.CardType, err)
	}
	return Prompt{System: strings.TrimSpace(sys.String()), User: strings.TrimSpace(user.String())}, nil
}

func (b *PromptBuilder) compile(cardType string) (compiledPrompt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if c, ok := b.cache[cardType]; ok {
		return c, nil
	}
	src := b.templates.Lookup(cardType)
	system, err := template.New(cardType + ":system").Funcs(promptFuncs).Parse(src.System)
	if err != nil {
		return compiledPrompt{}, fmt.Errorf("parse system template for %s: %w", cardType, err)
	}
	user, err := template.New(cardType + ":user").Funcs(promptFuncs).Parse(src.User)
	if err != nil {
		return compiledPrompt{}, fmt.Errorf("parse user template for %s: %w", cardType, err)
	}
	c := compiledPrompt{system: system, user: user}
	b.cache[cardType] = c
	return c, nil
}
