package httpapi

import (
	"net/http"

	"github.com/pinnlo/service_layer/internal/app/domain/card"
	"github.com/pinnlo/service_layer/internal/app/domain/strategy"
	"github.com/pinnlo/service_layer/internal/app/services/cards"
	"github.com/pinnlo/service_layer/internal/app/services/export"
	"github.com/pinnlo/service_layer/internal/errors"
	"github.com/pinnlo/service_layer/internal/httputil"
	"github.com/pinnlo/service_layer/internal/middleware"
)

func (h *handler) listStrategies(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.RequireUserID(w, r)
	if !ok {
		return
	}
	items, err := h.app.Strategies.List(r.Context(), userID, r.URL.Query().Get("status"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteList(w, items, len(items))
}

func (h *handler) createStrategy(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.RequireUserID(w, r)
	if !ok {
		return
	}
	var in strategy.Strategy
	if !httputil.DecodeJSON(w, r, &in) {
		return
	}
	created, err := h.app.Strategies.Create(r.Context(), userID, in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, created)
}

func (h *handler) getStrategy(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.RequireUserID(w, r)
	if !ok {
		return
	}
	summary, err := h.app.Strategies.Get(r.Context(), userID, pathID(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, summary)
}

func (h *handler) updateStrategy(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.RequireUserID(w, r)
	if !ok {
		return
	}
	var patch strategy.Patch
	if !httputil.DecodeJSON(w, r, &patch) {
		return
	}
	updated, err := h.app.Strategies.Update(r.Context(), userID, pathID(r, "id"), patch)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, updated)
}

func (h *handler) deleteStrategy(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.RequireUserID(w, r)
	if !ok {
		return
	}
	if err := h.app.Strategies.Delete(r.Context(), userID, pathID(r, "id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.NoContent(w)
}

func (h *handler) listCards(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.RequireUserID(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	limit, err := httputil.QueryInt(r, "limit", 0, 0, cards.MaxListLimit)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	offset, err := httputil.QueryInt(r, "offset", 0, 0, 1<<30)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	filter := card.Filter{
		CardType: q.Get("card_type"),
		Search:   q.Get("search"),
		Limit:    limit,
		Offset:   offset,
	}
	items, err := h.app.Cards.List(r.Context(), userID, pathID(r, "id"), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteList(w, items, len(items))
}

func (h *handler) createCard(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.RequireUserID(w, r)
	if !ok {
		return
	}
	var in card.Card
	if !httputil.DecodeJSON(w, r, &in) {
		return
	}
	created, err := h.app.Cards.Create(r.Context(), userID, pathID(r, "id"), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, created)
}

type fromTemplateRequest struct {
	TemplateID string `json:"template_id"`
	card.Patch
}

func (h *handler) createCardFromTemplate(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.RequireUserID(w, r)
	if !ok {
		return
	}
	var in fromTemplateRequest
	if !httputil.DecodeJSON(w, r, &in) {
		return
	}
	if in.TemplateID == "" {
		h.writeError(w, r, errors.InvalidFormat("template_id", "is required"))
		return
	}
	created, err := h.app.Cards.CreateFromTemplate(r.Context(), userID, pathID(r, "id"), in.TemplateID, in.Patch)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, created)
}

func (h *handler) exportIssues(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.RequireUserID(w, r)
	if !ok {
		return
	}
	if h.app.Export == nil {
		h.writeError(w, r, errors.NotConfigured("github integration not configured"))
		return
	}
	var in export.Request
	if !httputil.DecodeJSON(w, r, &in) {
		return
	}
	res, err := h.app.Export.ExportIssues(r.Context(), userID, pathID(r, "id"), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, res)
}
