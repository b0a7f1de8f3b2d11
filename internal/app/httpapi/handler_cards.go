package httpapi

import (
	"net/http"

	"github.com/pinnlo/service_layer/internal/app/domain/card"
	"github.com/pinnlo/service_layer/internal/app/services/generation"
	"github.com/pinnlo/service_layer/internal/httputil"
	"github.com/pinnlo/service_layer/internal/middleware"
)

func (h *handler) getCard(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.RequireUserID(w, r)
	if !ok {
		return
	}
	c, err := h.app.Cards.Get(r.Context(), userID, pathID(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, c)
}

func (h *handler) updateCard(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.RequireUserID(w, r)
	if !ok {
		return
	}
	var patch card.Patch
	if !httputil.DecodeJSON(w, r, &patch) {
		return
	}
	updated, err := h.app.Cards.Update(r.Context(), userID, pathID(r, "id"), patch)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, updated)
}

func (h *handler) deleteCard(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.RequireUserID(w, r)
	if !ok {
		return
	}
	if err := h.app.Cards.Delete(r.Context(), userID, pathID(r, "id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.NoContent(w)
}

func (h *handler) generateCards(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.RequireUserID(w, r)
	if !ok {
		return
	}
	var in generation.Request
	if !httputil.DecodeJSON(w, r, &in) {
		return
	}
	res, err := h.app.Generation.Generate(r.Context(), userID, in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if res.Committed {
		status = http.StatusCreated
	}
	httputil.WriteJSON(w, status, res)
}

type commitRequest struct {
	PreviewID  string `json:"preview_id"`
	StrategyID string `json:"strategy_id"`
}

func (h *handler) commitPreview(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.RequireUserID(w, r)
	if !ok {
		return
	}
	var in commitRequest
	if !httputil.DecodeJSON(w, r, &in) {
		return
	}
	created, err := h.app.Generation.Commit(r.Context(), userID, in.PreviewID, in.StrategyID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, generation.Result{Committed: true, Cards: created})
}

func (h *handler) enhanceCard(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.RequireUserID(w, r)
	if !ok {
		return
	}
	var in generation.EnhanceRequest
	if !httputil.DecodeJSON(w, r, &in) {
		return
	}
	c, err := h.app.Generation.Enhance(r.Context(), userID, pathID(r, "id"), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, c)
}
