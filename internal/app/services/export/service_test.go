package export

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pinnlo/service_layer/internal/app/domain/card"
	"github.com/pinnlo/service_layer/internal/app/domain/strategy"
	"github.com/pinnlo/service_layer/internal/app/services/cards"
	"github.com/pinnlo/service_layer/internal/app/storage/memory"
	svcerrors "github.com/pinnlo/service_layer/internal/errors"
	"github.com/pinnlo/service_layer/internal/github"
	"github.com/pinnlo/service_layer/internal/logging"
)

type fakeCreator struct {
	requests []github.IssueRequest
	err      error
}

func (f *fakeCreator) CreateIssue(_ context.Context, owner, repo string, in github.IssueRequest) (github.Issue, error) {
	if f.err != nil {
		return github.Issue{}, f.err
	}
	f.requests = append(f.requests, in)
	n := len(f.requests)
	return github.Issue{Number: n, HTMLURL: "https://github.com/" + owner + "/" + repo + "/issues/" + string(rune('0'+n))}, nil
}

func setup(t *testing.T, creator IssueCreator) (*Service, *cards.Service, strategy.Strategy) {
	t.Helper()
	store := memory.New()
	st, err := store.CreateStrategy(context.Background(), strategy.Strategy{UserID: "u1", Title: "s"})
	require.NoError(t, err)
	cardSvc := cards.New(store, store, store, logging.Discard())
	return New(store, cardSvc, creator, logging.Discard()), cardSvc, st
}

func TestExportIssues(t *testing.T) {
	creator := &fakeCreator{}
	svc, cardSvc, st := setup(t, creator)
	ctx := context.Background()

	f, err := cardSvc.Create(ctx, "u1", st.ID, card.Card{
		Title: "SSO login", Description: "Users sign in with SSO.", CardType: "feature", Priority: card.LevelHigh,
		CardData: map[string]interface{}{"acceptance_criteria": []interface{}{"works with Okta", "works with Azure AD"}},
	})
	require.NoError(t, err)

	res, err := svc.ExportIssues(ctx, "u1", st.ID, Request{Repo: "acme/app", CardIDs: []string{f.ID}, Labels: []string{"pinnlo"}})
	require.NoError(t, err)
	require.Len(t, res.Issues, 1)
	assert.Equal(t, f.ID, res.Issues[0].CardID)
	assert.Equal(t, 1, res.Issues[0].Number)

	req := creator.requests[0]
	assert.Equal(t, "SSO login", req.Title)
	assert.Equal(t, []string{"pinnlo"}, req.Labels)
	assert.True(t, strings.Contains(req.Body, "**Priority:** High"))
	assert.True(t, strings.Contains(req.Body, "- **Acceptance criteria:** works with Okta, works with Azure AD"))
}

func TestExportOpensOneIssuePerDistinctCard(t *testing.T) {
	creator := &fakeCreator{}
	svc, cardSvc, st := setup(t, creator)
	ctx := context.Background()

	a, err := cardSvc.Create(ctx, "u1", st.ID, card.Card{Title: "SSO login", CardType: "feature"})
	require.NoError(t, err)
	b, err := cardSvc.Create(ctx, "u1", st.ID, card.Card{Title: "Audit log", CardType: "feature"})
	require.NoError(t, err)

	res, err := svc.ExportIssues(ctx, "u1", st.ID, Request{Repo: "acme/app", CardIDs: []string{b.ID, a.ID, b.ID, " ", a.ID}})
	require.NoError(t, err)
	require.Len(t, res.Issues, 2)
	assert.Equal(t, b.ID, res.Issues[0].CardID)
	assert.Equal(t, a.ID, res.Issues[1].CardID)
	assert.Len(t, creator.requests, 2)

	_, err = svc.ExportIssues(ctx, "u1", st.ID, Request{Repo: "acme/app", CardIDs: []string{"", " "}})
	assert.Equal(t, svcerrors.CodeInvalidFormat, svcerrors.GetServiceError(err).Code)
}

func TestExportRejectsNonDevelopmentCards(t *testing.T) {
	svc, cardSvc, st := setup(t, &fakeCreator{})
	ctx := context.Background()
	v, _ := cardSvc.Create(ctx, "u1", st.ID, card.Card{Title: "Vision", CardType: "vision"})

	_, err := svc.ExportIssues(ctx, "u1", st.ID, Request{Repo: "acme/app", CardIDs: []string{v.ID}})
	assert.Equal(t, 400, svcerrors.HTTPStatus(err))

	_, err = svc.ExportIssues(ctx, "u1", st.ID, Request{Repo: "nope", CardIDs: []string{v.ID}})
	assert.Equal(t, 400, svcerrors.HTTPStatus(err))

	_, err = svc.ExportIssues(ctx, "u2", st.ID, Request{Repo: "acme/app", CardIDs: []string{v.ID}})
	assert.True(t, svcerrors.IsNotFound(err))
}

func TestExportNotConfigured(t *testing.T) {
	svc, _, st := setup(t, nil)
	_, err := svc.ExportIssues(context.Background(), "u1", st.ID, Request{Repo: "acme/app", CardIDs: []string{"x"}})
	require.Error(t, err)
	assert.Equal(t, 500, svcerrors.HTTPStatus(err))
	assert.Equal(t, "github integration not configured", svcerrors.GetServiceError(err).Message)
}

func TestExportSurfacesGitHubError(t *testing.T) {
	svc, cardSvc, st := setup(t, &fakeCreator{err: errors.New("GitHub API error (422): Validation Failed")})
	ctx := context.Background()
	f, _ := cardSvc.Create(ctx, "u1", st.ID, card.Card{Title: "f", CardType: "epic"})

	_, err := svc.ExportIssues(ctx, "u1", st.ID, Request{Repo: "acme/app", CardIDs: []string{f.ID}})
	assert.Equal(t, "GitHub API error (422): Validation Failed", svcerrors.GetServiceError(err).Message)
}
