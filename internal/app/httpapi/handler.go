package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	app "github.com/pinnlo/service_layer/internal/app"
	"github.com/pinnlo/service_layer/internal/app/domain/card"
	"github.com/pinnlo/service_layer/internal/app/system"
	"github.com/pinnlo/service_layer/internal/errors"
	"github.com/pinnlo/service_layer/internal/httputil"
	"github.com/pinnlo/service_layer/internal/logging"
	"github.com/pinnlo/service_layer/internal/middleware"
)

// writeError logs server-side failures and writes the error envelope.
func (h *handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	se := errors.GetServiceError(err)
	if se == nil || se.HTTPStatus >= http.StatusInternalServerError {
		h.log.WithContext(r.Context()).WithError(err).
			WithField("method", r.Method).
			WithField("path", r.URL.Path).
			Error("request failed")
	}
	httputil.WriteError(w, r, err)
}

func (h *handler) notFound(w http.ResponseWriter, r *http.Request) {
	httputil.WriteError(w, r, errors.NotFound("route"))
}

func (h *handler) methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	httputil.WriteErrorResponse(w, r, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed", nil)
}

func pathID(r *http.Request, name string) string {
	return mux.Vars(r)[name]
}

type healthResponse struct {
	Status        string           `json:"status"`
	Version       string           `json:"version"`
	UptimeSeconds int64            `json:"uptime_seconds"`
	Store         string           `json:"store"`
	StoreError    string           `json:"store_error,omitempty"`
	Providers     []string         `json:"ai_providers"`
	Services      []string         `json:"services"`
	Host          system.HostStats `json:"host"`
	Time          time.Time        `json:"time"`
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	resp := healthResponse{
		Status:        "ok",
		Version:       app.Version,
		UptimeSeconds: int64(h.app.Uptime().Seconds()),
		Store:         h.app.Config.StoreBackend,
		Providers:     h.app.AI.Providers(),
		Services:      h.app.Services(),
		Host:          system.ReadHostStats(ctx),
		Time:          time.Now().UTC(),
	}
	status := http.StatusOK
	if err := h.app.Ping(ctx); err != nil {
		resp.Status = "degraded"
		resp.StoreError = err.Error()
		status = http.StatusServiceUnavailable
	}
	httputil.WriteRaw(w, status, resp)
}

func (h *handler) me(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.RequireUserID(w, r)
	if !ok {
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{
		"id":    userID,
		"email": logging.GetEmail(r.Context()),
		"role":  logging.GetRole(r.Context()),
	})
}

func (h *handler) cardTypes(w http.ResponseWriter, r *http.Request) {
	types := card.Types()
	httputil.WriteList(w, types, len(types))
}

func (h *handler) listTemplates(w http.ResponseWriter, r *http.Request) {
	items, err := h.app.Templates.List(r.Context(), r.URL.Query().Get("card_type"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteList(w, items, len(items))
}

func (h *handler) listAudit(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.RequireUserID(w, r)
	if !ok {
		return
	}
	limit, err := httputil.QueryInt(r, "limit", 50, 1, 500)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	entries := h.audit.forUser(userID, limit)
	httputil.WriteList(w, entries, len(entries))
}
