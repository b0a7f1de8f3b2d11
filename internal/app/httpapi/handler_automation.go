package httpapi

import (
	"net/http"

	"github.com/pinnlo/service_layer/internal/app/domain/automation"
	automationsvc "github.com/pinnlo/service_layer/internal/app/services/automation"
	"github.com/pinnlo/service_layer/internal/httputil"
	"github.com/pinnlo/service_layer/internal/middleware"
)

func (h *handler) listRules(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.RequireUserID(w, r)
	if !ok {
		return
	}
	items, err := h.app.Automation.ListRules(r.Context(), userID, r.URL.Query().Get("strategy_id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteList(w, items, len(items))
}

func (h *handler) createRule(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.RequireUserID(w, r)
	if !ok {
		return
	}
	var in automation.Rule
	if !httputil.DecodeJSON(w, r, &in) {
		return
	}
	created, err := h.app.Automation.CreateRule(r.Context(), userID, in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, created)
}

func (h *handler) getRule(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.RequireUserID(w, r)
	if !ok {
		return
	}
	rule, err := h.app.Automation.GetRule(r.Context(), userID, pathID(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, rule)
}

func (h *handler) updateRule(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.RequireUserID(w, r)
	if !ok {
		return
	}
	var patch automation.Patch
	if !httputil.DecodeJSON(w, r, &patch) {
		return
	}
	rule, err := h.app.Automation.UpdateRule(r.Context(), userID, pathID(r, "id"), patch)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, rule)
}

func (h *handler) deleteRule(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.RequireUserID(w, r)
	if !ok {
		return
	}
	if err := h.app.Automation.DeleteRule(r.Context(), userID, pathID(r, "id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.NoContent(w)
}

func (h *handler) runRule(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.RequireUserID(w, r)
	if !ok {
		return
	}
	exec, err := h.app.Automation.RunRule(r.Context(), userID, pathID(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, exec)
}

func (h *handler) listExecutions(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.RequireUserID(w, r)
	if !ok {
		return
	}
	limit, err := httputil.QueryInt(r, "limit", automationsvc.DefaultExecutionLimit, 1, automationsvc.MaxExecutionLimit)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	items, err := h.app.Automation.ListExecutions(r.Context(), userID, pathID(r, "id"), limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteList(w, items, len(items))
}
