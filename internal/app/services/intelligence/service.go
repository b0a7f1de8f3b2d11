// Package intelligence manages intelligence groups, named collections of
// cards that are fed to generation as context.
package intelligence

import (
	"context"
	"strings"

	"github.com/pinnlo/service_layer/internal/app/domain/card"
	"github.com/pinnlo/service_layer/internal/app/domain/intelligence"
	"github.com/pinnlo/service_layer/internal/app/storage"
	svcerrors "github.com/pinnlo/service_layer/internal/errors"
	"github.com/pinnlo/service_layer/internal/logging"
)

// GroupWithCards is a group and its member cards.
type GroupWithCards struct {
	intelligence.Group
	Cards []card.Card `json:"cards"`
}

// Service owns intelligence group operations.
type Service struct {
	store storage.IntelligenceStore
	log   *logging.Logger
}

// New creates an intelligence group service.
func New(store storage.IntelligenceStore, log *logging.Logger) *Service {
	if log == nil {
		log = logging.NewDefault("intelligence")
	}
	return &Service{store: store, log: log}
}

func (s *Service) Create(ctx context.Context, userID string, in intelligence.Group) (intelligence.Group, error) {
	in.ID = ""
	in.UserID = userID
	if err := in.Validate(); err != nil {
		return intelligence.Group{}, svcerrors.BadRequest(err.Error())
	}
	g, err := s.store.CreateGroup(ctx, in)
	if err != nil {
		return intelligence.Group{}, svcerrors.FromStore(err, "intelligence group")
	}
	return g, nil
}

func (s *Service) List(ctx context.Context, userID string) ([]intelligence.Group, error) {
	return s.store.ListGroups(ctx, userID)
}

// Get returns a group with its cards, most recently added first.
func (s *Service) Get(ctx context.Context, userID, id string) (GroupWithCards, error) {
	g, err := s.store.GetGroup(ctx, userID, id)
	if err != nil {
		return GroupWithCards{}, svcerrors.FromStore(err, "intelligence group")
	}
	cards, err := s.store.ListGroupCards(ctx, userID, id)
	if err != nil {
		return GroupWithCards{}, svcerrors.FromStore(err, "intelligence group")
	}
	return GroupWithCards{Group: g, Cards: cards}, nil
}

func (s *Service) Update(ctx context.Context, userID, id string, patch intelligence.Patch) (intelligence.Group, error) {
	g, err := s.store.GetGroup(ctx, userID, id)
	if err != nil {
		return intelligence.Group{}, svcerrors.FromStore(err, "intelligence group")
	}
	if patch.Empty() {
		return g, nil
	}
	patch.Apply(&g)
	if err := g.Validate(); err != nil {
		return intelligence.Group{}, svcerrors.BadRequest(err.Error())
	}
	updated, err := s.store.UpdateGroup(ctx, g)
	if err != nil {
		return intelligence.Group{}, svcerrors.FromStore(err, "intelligence group")
	}
	return updated, nil
}

func (s *Service) Delete(ctx context.Context, userID, id string) error {
	return svcerrors.FromStore(s.store.DeleteGroup(ctx, userID, id), "intelligence group")
}

// AddCards adds memberships. Cards already in the group are ignored.
func (s *Service) AddCards(ctx context.Context, userID, groupID string, cardIDs []string) (intelligence.Group, error) {
	ids := make([]string, 0, len(cardIDs))
	seen := make(map[string]bool, len(cardIDs))
	for _, id := range cardIDs {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return intelligence.Group{}, svcerrors.InvalidFormat("card_ids", "at least one card id is required")
	}
	g, err := s.store.AddGroupCards(ctx, userID, groupID, ids)
	if err != nil {
		return intelligence.Group{}, svcerrors.FromStore(err, "intelligence group or card")
	}
	s.log.WithContext(ctx).WithField("group_id", groupID).WithField("added", len(ids)).Debug("group cards added")
	return g, nil
}

func (s *Service) RemoveCard(ctx context.Context, userID, groupID, cardID string) error {
	return svcerrors.FromStore(s.store.RemoveGroupCard(ctx, userID, groupID, cardID), "group card")
}

// ContextCards returns the cards of the given groups, deduplicated, in group
// order. Every group must be owned by userID.
func (s *Service) ContextCards(ctx context.Context, userID string, groupIDs []string) ([]card.Card, error) {
	out := make([]card.Card, 0)
	seen := make(map[string]bool)
	for _, id := range groupIDs {
		cards, err := s.store.ListGroupCards(ctx, userID, id)
		if err != nil {
			return nil, svcerrors.FromStore(err, "intelligence group")
		}
		for _, c := range cards {
			if !seen[c.ID] {
				seen[c.ID] = true
				out = append(out, c)
			}
		}
	}
	return out, nil
}
