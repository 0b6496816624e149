package funding

import (
	"errors"
	"net/http"

	"fx-backoffice/internal/httputil"
	"fx-backoffice/internal/types"
)

// AdminHandler serves the operator review queue. Routes behind it carry the
// internal token, not user JWTs, so the reviewer identity comes from the
// request body.
type AdminHandler struct {
	engine *Engine
}

func NewAdminHandler(engine *Engine) *AdminHandler {
	return &AdminHandler{engine: engine}
}

func parseStatus(r *http.Request) types.SettlementStatus {
	s := types.SettlementStatus(r.URL.Query().Get("status"))
	switch s {
	case types.StatusPending, types.StatusApproved, types.StatusCompleted, types.StatusFailed, types.StatusRejected:
		return s
	default:
		return types.StatusPending
	}
}

func (h *AdminHandler) Deposits(w http.ResponseWriter, r *http.Request) {
	list, err := h.engine.DepositsByStatus(r.Context(), parseStatus(r), 0)
	if err != nil {
		writeError(w, err)
		return
	}
	if list == nil {
		list = []Deposit{}
	}
	httputil.WriteJSON(w, http.StatusOK, list)
}

func (h *AdminHandler) Withdrawals(w http.ResponseWriter, r *http.Request) {
	list, err := h.engine.WithdrawalsByStatus(r.Context(), parseStatus(r), 0)
	if err != nil {
		writeError(w, err)
		return
	}
	if list == nil {
		list = []Withdrawal{}
	}
	httputil.WriteJSON(w, http.StatusOK, list)
}

type reviewRequest struct {
	Reviewer string `json:"reviewer"`
	Reason   string `json:"reason"`
}

func readReview(r *http.Request, requireReason bool) (reviewRequest, error) {
	var req reviewRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		return req, err
	}
	if req.Reviewer == "" {
		return req, errors.New("reviewer is required")
	}
	if requireReason && req.Reason == "" {
		return req, errors.New("reason is required")
	}
	return req, nil
}

func (h *AdminHandler) ApproveDeposit(w http.ResponseWriter, r *http.Request, id string) {
	req, err := readReview(r, false)
	if err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	d, err := h.engine.ApproveDeposit(r.Context(), id, req.Reviewer)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, d)
}

func (h *AdminHandler) RetryDepositCredit(w http.ResponseWriter, r *http.Request, id string) {
	req, err := readReview(r, false)
	if err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	d, err := h.engine.RetryDepositCredit(r.Context(), id, req.Reviewer)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, d)
}

func (h *AdminHandler) RejectDeposit(w http.ResponseWriter, r *http.Request, id string) {
	req, err := readReview(r, true)
	if err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	d, err := h.engine.RejectDeposit(r.Context(), id, req.Reviewer, req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, d)
}

func (h *AdminHandler) ApproveWithdrawal(w http.ResponseWriter, r *http.Request, id string) {
	req, err := readReview(r, false)
	if err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	wd, err := h.engine.ApproveWithdrawal(r.Context(), id, req.Reviewer)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, wd)
}

func (h *AdminHandler) RejectWithdrawal(w http.ResponseWriter, r *http.Request, id string) {
	req, err := readReview(r, true)
	if err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	wd, err := h.engine.RejectWithdrawal(r.Context(), id, req.Reviewer, req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, wd)
}
