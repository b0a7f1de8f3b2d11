// Package templates exposes the template card library.
package templates

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/pinnlo/service_layer/internal/app/domain/card"
	"github.com/pinnlo/service_layer/internal/app/domain/template"
	"github.com/pinnlo/service_layer/internal/app/storage"
	svcerrors "github.com/pinnlo/service_layer/internal/errors"
	"github.com/pinnlo/service_layer/internal/logging"
)

// Service reads and seeds template cards.
type Service struct {
	store storage.TemplateStore
	log   *logging.Logger
}

func New(store storage.TemplateStore, log *logging.Logger) *Service {
	if log == nil {
		log = logging.NewDefault("templates")
	}
	return &Service{store: store, log: log}
}

// List returns templates, optionally of one card type.
func (s *Service) List(ctx context.Context, cardType string) ([]template.Card, error) {
	cardType = strings.TrimSpace(cardType)
	if cardType != "" && !card.ValidType(cardType) {
		return nil, svcerrors.InvalidFormat("card_type", "unknown card type "+cardType)
	}
	return s.store.ListTemplates(ctx, cardType)
}

func (s *Service) Get(ctx context.Context, id string) (template.Card, error) {
	t, err := s.store.GetTemplate(ctx, id)
	if err != nil {
		return template.Card{}, svcerrors.FromStore(err, "template")
	}
	return t, nil
}

type seedFile struct {
	Templates []template.Card `yaml:"templates"`
}

// ParseSeed decodes a YAML template file. Templates without an id get one
// derived from their type and title so reseeding updates them in place.
func ParseSeed(data []byte) ([]template.Card, error) {
	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	for i, t := range f.Templates {
		if strings.TrimSpace(t.Title) == "" {
			return nil, fmt.Errorf("template %d: title is required", i)
		}
		if !card.ValidType(t.CardType) {
			return nil, fmt.Errorf("template %q: unknown card type %q", t.Title, t.CardType)
		}
		if t.ID == "" {
			f.Templates[i].ID = uuid.NewSHA1(uuid.NameSpaceURL, []byte("pinnlo:template:"+t.CardType+":"+t.Title)).String()
		}
		if t.Tags == nil {
			f.Templates[i].Tags = []string{}
		}
		if t.CardData == nil {
			f.Templates[i].CardData = map[string]interface{}{}
		}
	}
	return f.Templates, nil
}

// Seed upserts every template in the YAML file at path.
func (s *Service) Seed(ctx context.Context, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read templates: %w", err)
	}
	items, err := ParseSeed(data)
	if err != nil {
		return 0, err
	}
	for _, t := range items {
		if _, err := s.store.UpsertTemplate(ctx, t); err != nil {
			return 0, fmt.Errorf("upsert template %q: %w", t.Title, err)
		}
	}
	s.log.WithField("count", len(items)).WithField("path", path).Info("templates seeded")
	return len(items), nil
}
