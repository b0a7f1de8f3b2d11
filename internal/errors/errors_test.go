package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/pinnlo/service_layer/internal/app/storage"
)

func TestGetServiceErrorUnwraps(t *testing.T) {
	base := NotFound("card")
	wrapped := fmt.Errorf("load: %w", base)

	se := GetServiceError(wrapped)
	if se == nil || se.Code != CodeNotFound {
		t.Fatalf("expected NOT_FOUND, got %#v", se)
	}
	if !IsNotFound(wrapped) {
		t.Fatal("IsNotFound should be true")
	}
	if HTTPStatus(wrapped) != http.StatusNotFound {
		t.Fatalf("status = %d", HTTPStatus(wrapped))
	}
	if GetServiceError(stderrors.New("plain")) != nil {
		t.Fatal("plain error should not convert")
	}
	if HTTPStatus(stderrors.New("plain")) != http.StatusInternalServerError {
		t.Fatal("plain error should be 500")
	}
}

func TestWithDetailsCopies(t *testing.T) {
	a := BadRequest("bad")
	b := a.WithDetails("field", "title")
	if a.Details != nil {
		t.Fatal("original should be unchanged")
	}
	if b.Details["field"] != "title" {
		t.Fatalf("details = %v", b.Details)
	}
}

func TestUpstreamKeepsMessageVerbatim(t *testing.T) {
	err := Upstream("openai", stderrors.New("openai: 401 invalid api key"))
	if err.Message != "openai: 401 invalid api key" {
		t.Fatalf("message = %q", err.Message)
	}
	if err.HTTPStatus != http.StatusInternalServerError {
		t.Fatalf("status = %d", err.HTTPStatus)
	}
	if !stderrors.Is(err, err.Err) {
		t.Fatal("should unwrap to cause")
	}
}

func TestRateLimitExceeded(t *testing.T) {
	err := RateLimitExceeded(5, "1s")
	if err.HTTPStatus != http.StatusTooManyRequests || err.Details["limit"] != 5 {
		t.Fatalf("unexpected %#v", err)
	}
}

func TestFromStore(t *testing.T) {
	err := FromStore(fmt.Errorf("card c1: %w", storage.ErrNotFound), "card")
	if !IsNotFound(err) || HTTPStatus(err) != http.StatusNotFound {
		t.Fatalf("not found not mapped: %v", err)
	}
	if !stderrors.Is(err, storage.ErrNotFound) {
		t.Fatal("sentinel lost")
	}
	if HTTPStatus(FromStore(storage.ErrConflict, "intelligence group")) != http.StatusConflict {
		t.Fatal("conflict not mapped")
	}
	plain := fmt.Errorf("boom")
	if FromStore(plain, "card") != plain || FromStore(nil, "card") != nil {
		t.Fatal("unrelated errors must pass through")
	}
}
