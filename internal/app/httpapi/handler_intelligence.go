package httpapi

import (
	"net/http"

	"github.com/pinnlo/service_layer/internal/app/domain/intelligence"
	"github.com/pinnlo/service_layer/internal/httputil"
	"github.com/pinnlo/service_layer/internal/middleware"
)

func (h *handler) listGroups(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.RequireUserID(w, r)
	if !ok {
		return
	}
	items, err := h.app.Intelligence.List(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteList(w, items, len(items))
}

func (h *handler) createGroup(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.RequireUserID(w, r)
	if !ok {
		return
	}
	var in intelligence.Group
	if !httputil.DecodeJSON(w, r, &in) {
		return
	}
	created, err := h.app.Intelligence.Create(r.Context(), userID, in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, created)
}

func (h *handler) getGroup(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.RequireUserID(w, r)
	if !ok {
		return
	}
	g, err := h.app.Intelligence.Get(r.Context(), userID, pathID(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, g)
}

func (h *handler) updateGroup(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.RequireUserID(w, r)
	if !ok {
		return
	}
	var patch intelligence.Patch
	if !httputil.DecodeJSON(w, r, &patch) {
		return
	}
	g, err := h.app.Intelligence.Update(r.Context(), userID, pathID(r, "id"), patch)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, g)
}

func (h *handler) deleteGroup(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.RequireUserID(w, r)
	if !ok {
		return
	}
	if err := h.app.Intelligence.Delete(r.Context(), userID, pathID(r, "id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.NoContent(w)
}

type addCardsRequest struct {
	CardIDs []string `json:"card_ids"`
}

func (h *handler) addGroupCards(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.RequireUserID(w, r)
	if !ok {
		return
	}
	var in addCardsRequest
	if !httputil.DecodeJSON(w, r, &in) {
		return
	}
	g, err := h.app.Intelligence.AddCards(r.Context(), userID, pathID(r, "id"), in.CardIDs)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, g)
}

func (h *handler) removeGroupCard(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.RequireUserID(w, r)
	if !ok {
		return
	}
	if err := h.app.Intelligence.RemoveCard(r.Context(), userID, pathID(r, "id"), pathID(r, "cardId")); err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.NoContent(w)
}
