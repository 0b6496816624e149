package accounts

import (
	"errors"
	"net/http"

	"fx-backoffice/internal/httputil"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request, userID string) {
	accounts, err := h.svc.List(r.Context(), userID)
	if err != nil {
		httputil.WriteJSON(w, http.StatusInternalServerError, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	if accounts == nil {
		accounts = []TradingAccount{}
	}
	httputil.WriteJSON(w, http.StatusOK, accounts)
}

func (h *Handler) Link(w http.ResponseWriter, r *http.Request, userID string) {
	var req struct {
		AccountRef string `json:"account_ref"`
		Name       string `json:"name"`
		Currency   string `json:"currency"`
	}
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	acc, err := h.svc.Link(r.Context(), userID, req.AccountRef, req.Name, req.Currency)
	if err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, acc)
}

func (h *Handler) Rename(w http.ResponseWriter, r *http.Request, userID string) {
	var req struct {
		AccountID string `json:"account_id"`
		Name      string `json:"name"`
	}
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	acc, err := h.svc.Rename(r.Context(), userID, req.AccountID, req.Name)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			httputil.WriteJSON(w, http.StatusNotFound, httputil.ErrorResponse{Error: err.Error()})
			return
		}
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	httputil.WriteJSON(w, http.StatusOK, acc)
}
