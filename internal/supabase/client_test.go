package supabase

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := New(Config{URL: srv.URL + "/", APIKey: "service-key", HTTPClient: srv.Client()})
	require.NoError(t, err)
	return c
}

func TestNewRequiresURLAndKey(t *testing.T) {
	_, err := New(Config{APIKey: "k"})
	assert.Error(t, err)
	_, err = New(Config{URL: "http://x"})
	assert.Error(t, err)
}

func TestQueryBuilderEncodesFilters(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rest/v1/cards", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "id,title", q.Get("select"))
		assert.Equal(t, "eq.u1", q.Get("user_id"))
		assert.Equal(t, "created_at.desc,id.desc", q.Get("order"))
		assert.Equal(t, "10", q.Get("limit"))
		assert.Equal(t, `in.(a,"b,c")`, q.Get("id"))
		assert.Equal(t, "service-key", r.Header.Get("apikey"))
		assert.Equal(t, "Bearer service-key", r.Header.Get("Authorization"))
		assert.Equal(t, "count=exact", r.Header.Get("Prefer"))
		w.Header().Set("Content-Range", "0-0/7")
		_, _ = w.Write([]byte(`[{"id":"a","title":"Vision"}]`))
	})

	var rows []struct {
		ID    string `json:"id"`
		Title string `json:"title"`
	}
	resp, err := c.From("cards").
		Select("id,title").
		Eq("user_id", "u1").
		In("id", []string{"a", "b,c"}).
		Order("created_at", false).
		Order("id", false).
		Limit(10).
		Count("exact").
		Execute(context.Background(), &rows)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Vision", rows[0].Title)
	assert.Equal(t, 7, resp.Count())
}

func TestInsertSendsRepresentationPreference(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "return=representation", r.Header.Get("Prefer"))
		body, _ := io.ReadAll(r.Body)
		var rows []map[string]interface{}
		require.NoError(t, json.Unmarshal(body, &rows))
		assert.Equal(t, "Growth", rows[0]["title"])
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write(body)
	})

	var out []map[string]interface{}
	_, err := c.From("strategies").Insert(context.Background(), []map[string]string{{"title": "Growth"}}, &out)
	require.NoError(t, err)
	assert.Len(t, out, 1)
}

func TestUpsertUsesOnConflict(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "id", r.URL.Query().Get("on_conflict"))
		assert.Contains(t, r.Header.Get("Prefer"), "resolution=merge-duplicates")
		_, _ = w.Write([]byte(`[]`))
	})
	_, err := c.From("template_cards").Upsert(context.Background(), []map[string]string{{"id": "t1"}}, "id", nil)
	require.NoError(t, err)
}

func TestErrorResponsesDecode(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"code":"23505","message":"duplicate key value"}`))
	})

	_, err := c.From("intelligence_groups").Insert(context.Background(), map[string]string{"name": "x"}, nil)
	var apiErr *Error
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
	assert.Equal(t, "23505", apiErr.Code)
}

func TestGetUser(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth/v1/user", r.URL.Path)
		if r.Header.Get("Authorization") != "Bearer user-token" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"invalid_token","error_description":"token expired"}`))
			return
		}
		_, _ = w.Write([]byte(`{"id":"u1","email":"a@b.c","role":"authenticated"}`))
	})

	user, err := c.GetUser(context.Background(), "user-token")
	require.NoError(t, err)
	assert.Equal(t, "u1", user.ID)

	_, err = c.GetUser(context.Background(), "bad")
	var apiErr *Error
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "token expired", apiErr.Message)
}

func TestResponseCountWithoutHeader(t *testing.T) {
	r := &Response{Headers: http.Header{}}
	assert.Equal(t, -1, r.Count())
	r.Headers.Set("Content-Range", "*/0")
	assert.Equal(t, 0, r.Count())
}
