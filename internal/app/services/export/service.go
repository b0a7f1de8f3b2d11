// Package export publishes development cards to GitHub issues.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/pinnlo/service_layer/internal/app/domain/card"
	"github.com/pinnlo/service_layer/internal/app/services/cards"
	"github.com/pinnlo/service_layer/internal/app/storage"
	svcerrors "github.com/pinnlo/service_layer/internal/errors"
	"github.com/pinnlo/service_layer/internal/github"
	"github.com/pinnlo/service_layer/internal/logging"
)

// MaxIssues bounds one export request.
const MaxIssues = 50

// IssueCreator opens GitHub issues.
type IssueCreator interface {
	CreateIssue(ctx context.Context, owner, repo string, in github.IssueRequest) (github.Issue, error)
}

// Request selects the cards to export.
type Request struct {
	Repo    string   `json:"repo"`
	CardIDs []string `json:"card_ids"`
	Labels  []string `json:"labels,omitempty"`
}

// ExportedIssue links a card to the issue created for it.
type ExportedIssue struct {
	CardID string `json:"card_id"`
	Number int    `json:"number"`
	URL    string `json:"url"`
}

// Result lists created issues.
type Result struct {
	Issues []ExportedIssue `json:"issues"`
}

// Service exports cards. A nil creator means the integration is not configured.
type Service struct {
	strategies storage.StrategyStore
	cards      *cards.Service
	creator    IssueCreator
	log        *logging.Logger
}

func New(strategies storage.StrategyStore, cardSvc *cards.Service, creator IssueCreator, log *logging.Logger) *Service {
	if log == nil {
		log = logging.NewDefault("export")
	}
	return &Service{strategies: strategies, cards: cardSvc, creator: creator, log: log}
}

// ExportIssues creates one issue per card. Only development cards of the
// strategy may be exported.
func (s *Service) ExportIssues(ctx context.Context, userID, strategyID string, req Request) (Result, error) {
	if s.creator == nil {
		return Result{}, svcerrors.NotConfigured(github.ErrNotConfigured.Error())
	}
	owner, repo, err := github.ParseRepo(req.Repo)
	if err != nil {
		return Result{}, svcerrors.InvalidFormat("repo", err.Error())
	}
	ids := uniqueIDs(req.CardIDs)
	if len(ids) == 0 {
		return Result{}, svcerrors.InvalidFormat("card_ids", "at least one card id is required")
	}
	if len(ids) > MaxIssues {
		return Result{}, svcerrors.InvalidFormat("card_ids", fmt.Sprintf("at most %d cards per export", MaxIssues))
	}
	if _, err := s.strategies.GetStrategy(ctx, userID, strategyID); err != nil {
		return Result{}, svcerrors.FromStore(err, "strategy")
	}

	selected, err := s.cards.GetMany(ctx, userID, ids)
	if err != nil {
		return Result{}, err
	}
	for _, c := range selected {
		if c.StrategyID != strategyID {
			return Result{}, svcerrors.NotFound("card " + c.ID)
		}
		if !card.InSection(c.CardType, card.SectionDevelopment) {
			return Result{}, svcerrors.BadRequest(fmt.Sprintf("card %s is a %s card; only development cards can be exported", c.ID, c.CardType))
		}
	}

	out := Result{Issues: make([]ExportedIssue, 0, len(selected))}
	for _, c := range selected {
		issue, err := s.creator.CreateIssue(ctx, owner, repo, github.IssueRequest{
			Title:  c.Title,
			Body:   RenderIssueBody(c),
			Labels: req.Labels,
		})
		if err != nil {
			s.log.WithContext(ctx).WithError(err).
				WithField("card_id", c.ID).
				WithField("created", len(out.Issues)).
				Warn("github export failed")
			return Result{}, svcerrors.Upstream("github", err)
		}
		out.Issues = append(out.Issues, ExportedIssue{CardID: c.ID, Number: issue.Number, URL: issue.HTMLURL})
	}
	s.log.WithContext(ctx).WithField("repo", req.Repo).WithField("issues", len(out.Issues)).Info("cards exported to github")
	return out, nil
}

// uniqueIDs drops blank and repeated ids, keeping first-seen order.
func uniqueIDs(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// RenderIssueBody renders a card as Markdown.
func RenderIssueBody(c card.Card) string {
	var b strings.Builder
	if c.Description != "" {
		b.WriteString(c.Description)
		b.WriteString("\n\n")
	}
	fmt.Fprintf(&b, "**Priority:** %s\n", c.Priority)
	fmt.Fprintf(&b, "**Confidence:** %s\n", c.ConfidenceLevel)
	if c.StrategicAlignment != "" {
		fmt.Fprintf(&b, "**Strategic alignment:** %s\n", c.StrategicAlignment)
	}
	if len(c.Tags) > 0 {
		fmt.Fprintf(&b, "**Tags:** %s\n", strings.Join(c.Tags, ", "))
	}

	if len(c.CardData) > 0 {
		keys := make([]string, 0, len(c.CardData))
		for k := range c.CardData {
			if k != cards.AutomationRuleField {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		if len(keys) > 0 {
			b.WriteString("\n### Details\n\n")
			for _, k := range keys {
				fmt.Fprintf(&b, "- **%s:** %s\n", humanize(k), renderValue(c.CardData[k]))
			}
		}
	}
	fmt.Fprintf(&b, "\n---\n_Exported from PINNLO card `%s` (%s)._\n", c.ID, c.CardType)
	return b.String()
}

func humanize(key string) string {
	s := strings.ReplaceAll(key, "_", " ")
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func renderValue(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case []interface{}:
		parts := make([]string, len(val))
		for i, item := range val {
			parts[i] = renderValue(item)
		}
		return strings.Join(parts, ", ")
	case nil:
		return ""
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(data)
	}
}
