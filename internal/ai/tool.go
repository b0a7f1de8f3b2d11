package ai

import (
	"strings"

	"github.com/pinnlo/service_layer/internal/app/domain/card"
)

// ToolInput is the argument object of the render_prompt and generate_cards
// MCP tools.
type ToolInput struct {
	CardType      string          `json:"card_type" jsonschema:"card type to generate, e.g. vision or okrs"`
	Strategy      StrategyContext `json:"strategy,omitempty" jsonschema:"strategy the cards belong to"`
	Context       string          `json:"context,omitempty" jsonschema:"free-text context from the user"`
	Instructions  string          `json:"instructions,omitempty" jsonschema:"extra instructions for the model"`
	ExistingCards []CardContext   `json:"existing_cards,omitempty" jsonschema:"cards already in the strategy"`
	Intelligence  []CardContext   `json:"intelligence,omitempty" jsonschema:"intelligence cards to ground the output in"`
	Count         int             `json:"count,omitempty" jsonschema:"number of cards, 1 to 10"`
	Provider      string          `json:"provider,omitempty" jsonschema:"openai or anthropic"`
	Model         string          `json:"model,omitempty" jsonschema:"provider model override"`
}

// GeneratedCard is the wire form of a candidate card.
type GeneratedCard struct {
	Title               string                 `json:"title"`
	Description         string                 `json:"description,omitempty"`
	Priority            string                 `json:"priority,omitempty"`
	ConfidenceLevel     string                 `json:"confidence_level,omitempty"`
	PriorityRationale   string                 `json:"priority_rationale,omitempty"`
	ConfidenceRationale string                 `json:"confidence_rationale,omitempty"`
	StrategicAlignment  string                 `json:"strategic_alignment,omitempty"`
	Tags                []string               `json:"tags,omitempty"`
	CardData            map[string]interface{} `json:"card_data,omitempty"`
}

// ToolOutput is the result of the generate_cards MCP tool.
type ToolOutput struct {
	Cards    []GeneratedCard `json:"cards"`
	Provider string          `json:"provider"`
	Model    string          `json:"model"`
}

// FromResult converts generated cards into their wire form. Ratings the
// model left unset stay empty.
func FromResult(res *GenerateResult) []GeneratedCard {
	out := make([]GeneratedCard, len(res.Cards))
	for i, c := range res.Cards {
		out[i] = GeneratedCard{
			Title:               c.Title,
			Description:         c.Description,
			Priority:            string(c.Priority),
			ConfidenceLevel:     string(c.ConfidenceLevel),
			PriorityRationale:   c.PriorityRationale,
			ConfidenceRationale: c.ConfidenceRationale,
			StrategicAlignment:  c.StrategicAlignment,
			Tags:                c.Tags,
			CardData:            c.CardData,
		}
		rated := res.RatedAt(i)
		if !rated.Priority {
			out[i].Priority = ""
		}
		if !rated.Confidence {
			out[i].ConfidenceLevel = ""
		}
	}
	return out
}

// Rated reports which ratings the wire card carries.
func (g GeneratedCard) Rated() Rated {
	return Rated{
		Priority:   strings.TrimSpace(g.Priority) != "",
		Confidence: strings.TrimSpace(g.ConfidenceLevel) != "",
	}
}

// Card converts a generated card into a card of cardType.
func (g GeneratedCard) Card(cardType string) card.Card {
	c := card.Card{
		Title:               g.Title,
		Description:         g.Description,
		CardType:            cardType,
		Priority:            card.ParseLevel(g.Priority),
		ConfidenceLevel:     card.ParseLevel(g.ConfidenceLevel),
		PriorityRationale:   g.PriorityRationale,
		ConfidenceRationale: g.ConfidenceRationale,
		StrategicAlignment:  g.StrategicAlignment,
		Tags:                g.Tags,
		CardData:            g.CardData,
	}
	c.Normalize()
	return c
}

// Data converts tool input into prompt data.
func (in ToolInput) Data() PromptData {
	return PromptData{
		Count:         in.Count,
		CardType:      in.CardType,
		Strategy:      in.Strategy,
		ExistingCards: in.ExistingCards,
		Intelligence:  in.Intelligence,
		Context:       in.Context,
		Instructions:  in.Instructions,
	}
}

// ToolInputFromData converts prompt data into tool input.
func ToolInputFromData(d PromptData, provider, model string) ToolInput {
	return ToolInput{
		CardType:      d.CardType,
		Strategy:      d.Strategy,
		Context:       d.Context,
		Instructions:  d.Instructions,
		ExistingCards: d.ExistingCards,
		Intelligence:  d.Intelligence,
		Count:         d.Count,
		Provider:      provider,
		Model:         model,
	}
}
