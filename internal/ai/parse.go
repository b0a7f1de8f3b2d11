package ai

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/PaesslerAG/jsonpath"
	"github.com/tidwall/gjson"

	"github.com/pinnlo/service_layer/internal/app/domain/card"
)

var fencePattern = regexp.MustCompile("(?s)```[a-zA-Z]*\\s*\\n?(.*?)```")

// cardPaths are tried in order against object replies.
var cardPaths = []string{"$.cards", "$.data.cards", "$.items", "$.results"}

// ParseCandidates extracts raw card objects from a model reply. Fenced blocks
// are tried in order before the whole reply, and within each text every
// top-level JSON value is tried until one holds cards.
func ParseCandidates(text string) ([]map[string]interface{}, error) {
	for _, block := range candidateTexts(text) {
		if found := scanValues(block); len(found) > 0 {
			return found, nil
		}
	}
	return nil, ErrNoCards
}

func candidateTexts(text string) []string {
	var out []string
	for _, m := range fencePattern.FindAllStringSubmatch(text, -1) {
		out = append(out, m[1])
	}
	return append(out, text)
}

// scanValues decodes successive JSON objects and arrays in text, skipping
// prose and values that hold no cards.
func scanValues(text string) []map[string]interface{} {
	for i := 0; i < len(text); i++ {
		if text[i] != '{' && text[i] != '[' {
			continue
		}
		dec := json.NewDecoder(strings.NewReader(text[i:]))
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			continue
		}
		if found := cardsIn(raw); len(found) > 0 {
			return found
		}
		i += int(dec.InputOffset()) - 1
	}
	return nil
}

func cardsIn(raw []byte) []map[string]interface{} {
	var value interface{}
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil
	}
	switch v := value.(type) {
	case []interface{}:
		return objects(v)
	case map[string]interface{}:
		return fromObject(v, raw)
	}
	return nil
}

func fromObject(obj map[string]interface{}, raw []byte) []map[string]interface{} {
	for _, path := range cardPaths {
		v, err := jsonpath.Get(path, obj)
		if err != nil {
			continue
		}
		if arr, ok := v.([]interface{}); ok {
			if cards := objects(arr); len(cards) > 0 {
				return cards
			}
		}
	}

	// gjson walks keys in document order, which a decoded map cannot.
	var byName, anyArray []map[string]interface{}
	gjson.ParseBytes(raw).ForEach(func(key, value gjson.Result) bool {
		if !value.IsArray() {
			return true
		}
		arr, ok := value.Value().([]interface{})
		if !ok {
			return true
		}
		cards := objects(arr)
		if len(cards) == 0 {
			return true
		}
		if byName == nil && strings.Contains(strings.ToLower(key.String()), "card") {
			byName = cards
			return false
		}
		if anyArray == nil {
			anyArray = cards
		}
		return true
	})
	if byName != nil {
		return byName
	}
	if anyArray != nil {
		return anyArray
	}
	if _, ok := obj["title"]; ok {
		return []map[string]interface{}{obj}
	}
	return nil
}

func objects(arr []interface{}) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(arr))
	for _, item := range arr {
		if m, ok := item.(map[string]interface{}); ok {
			out = append(out, m)
		}
	}
	return out
}

var recognisedKeys = map[string]bool{
	"title": true, "name": true, "heading": true,
	"description": true, "summary": true, "content": true,
	"priority": true, "confidence_level": true, "confidence": true,
	"priority_rationale": true, "confidence_rationale": true, "strategic_alignment": true,
	"tags": true, "card_data": true, "card_type": true, "type": true,
	"id": true, "relationships": true,
}

// Rated records which ratings a reply set. Unset ratings are still
// defaulted on the card, so callers merging into an existing card need this
// to tell a default from a real answer.
type Rated struct {
	Priority   bool
	Confidence bool
}

// NormalizeCandidates maps raw objects onto cards of cardType, keeping at
// most limit cards with a non-empty title. rated is parallel to cards.
func NormalizeCandidates(raw []map[string]interface{}, cardType string, limit int) (cards []card.Card, rated []Rated) {
	cards = make([]card.Card, 0, len(raw))
	rated = make([]Rated, 0, len(raw))
	for _, m := range raw {
		if limit > 0 && len(cards) >= limit {
			break
		}
		c, r, ok := NormalizeCandidate(m, cardType)
		if ok {
			cards = append(cards, c)
			rated = append(rated, r)
		}
	}
	return cards, rated
}

// NormalizeCandidate maps one raw object onto a card.
func NormalizeCandidate(m map[string]interface{}, cardType string) (card.Card, Rated, bool) {
	title := firstString(m, "title", "name", "heading")
	if title == "" {
		return card.Card{}, Rated{}, false
	}
	rated := Rated{
		Priority:   firstString(m, "priority") != "",
		Confidence: firstString(m, "confidence_level", "confidence") != "",
	}
	c := card.Card{
		Title:               title,
		Description:         firstString(m, "description", "summary", "content"),
		CardType:            cardType,
		Priority:            card.ParseLevel(firstString(m, "priority")),
		ConfidenceLevel:     card.ParseLevel(firstString(m, "confidence_level", "confidence")),
		PriorityRationale:   firstString(m, "priority_rationale"),
		ConfidenceRationale: firstString(m, "confidence_rationale"),
		StrategicAlignment:  firstString(m, "strategic_alignment"),
		Tags:                stringList(m["tags"]),
		Relationships:       stringList(m["relationships"]),
		CardData:            map[string]interface{}{},
	}
	for k, v := range m {
		if !recognisedKeys[k] {
			c.CardData[k] = v
		}
	}
	if explicit, ok := m["card_data"].(map[string]interface{}); ok {
		for k, v := range explicit {
			c.CardData[k] = v
		}
	}
	c.Normalize()
	return c, rated, true
}

func firstString(m map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		switch v := m[k].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case float64, bool:
			b, _ := json.Marshal(v)
			return string(b)
		}
	}
	return ""
}

func stringList(v interface{}) []string {
	var out []string
	switch t := v.(type) {
	case []interface{}:
		for _, item := range t {
			if s, ok := item.(string); ok {
				if s = strings.TrimSpace(s); s != "" {
					out = append(out, s)
				}
			}
		}
	case string:
		for _, part := range strings.Split(t, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	if out == nil {
		out = []string{}
	}
	return out
}
