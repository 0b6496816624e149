package funding

import (
	"errors"
	"net/http"

	"github.com/shopspring/decimal"

	"fx-backoffice/internal/accounts"
	"fx-backoffice/internal/httputil"
	"fx-backoffice/internal/types"
)

type Handler struct {
	engine *Engine
}

func NewHandler(engine *Engine) *Handler {
	return &Handler{engine: engine}
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrValidation):
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
	case errors.Is(err, ErrNotFound), errors.Is(err, accounts.ErrNotFound):
		httputil.WriteJSON(w, http.StatusNotFound, httputil.ErrorResponse{Error: "not found"})
	case errors.Is(err, ErrInsufficientFunds):
		httputil.WriteJSON(w, http.StatusUnprocessableEntity, httputil.ErrorResponse{Error: err.Error()})
	case errors.Is(err, ErrDuplicateRequest):
		httputil.WriteJSON(w, http.StatusConflict, httputil.ErrorResponse{Error: err.Error()})
	case errors.Is(err, ErrInvalidState):
		httputil.WriteJSON(w, http.StatusConflict, httputil.ErrorResponse{Error: err.Error()})
	case errors.Is(err, ErrUnknownOutcome), IsCritical(err):
		// Not a definite failure: the caller must not retry blindly.
		httputil.WriteJSON(w, http.StatusBadGateway, httputil.ErrorResponse{Error: err.Error()})
	default:
		var rej *GatewayRejection
		if errors.As(err, &rej) {
			httputil.WriteJSON(w, http.StatusUnprocessableEntity, httputil.ErrorResponse{Error: rej.Error()})
			return
		}
		httputil.WriteJSON(w, http.StatusInternalServerError, httputil.ErrorResponse{Error: err.Error()})
	}
}

func (h *Handler) RequestDeposit(w http.ResponseWriter, r *http.Request, userID string) {
	var req struct {
		AccountRef string          `json:"account_ref"`
		Amount     decimal.Decimal `json:"amount"`
		Currency   string          `json:"currency"`
		Method     string          `json:"method"`
	}
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	d, err := h.engine.RequestDeposit(r.Context(), userID, req.AccountRef, req.Amount, req.Currency, types.DepositMethod(req.Method))
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, d)
}

func (h *Handler) Deposits(w http.ResponseWriter, r *http.Request, userID string) {
	list, err := h.engine.Deposits(r.Context(), userID, 0)
	if err != nil {
		writeError(w, err)
		return
	}
	if list == nil {
		list = []Deposit{}
	}
	httputil.WriteJSON(w, http.StatusOK, list)
}

func (h *Handler) GetDeposit(w http.ResponseWriter, r *http.Request, userID, id string) {
	d, err := h.engine.Deposit(r.Context(), userID, id)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, d)
}

func (h *Handler) RequestWithdrawal(w http.ResponseWriter, r *http.Request, userID string) {
	var req struct {
		AccountRef    string          `json:"account_ref"`
		Amount        decimal.Decimal `json:"amount"`
		Currency      string          `json:"currency"`
		PayoutDetails string          `json:"payout_details"`
		FromWallet    bool            `json:"from_wallet"`
	}
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	wd, err := h.engine.RequestWithdrawal(r.Context(), userID, req.AccountRef, req.Amount, req.Currency, req.PayoutDetails, req.FromWallet)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, wd)
}

func (h *Handler) Withdrawals(w http.ResponseWriter, r *http.Request, userID string) {
	list, err := h.engine.Withdrawals(r.Context(), userID, 0)
	if err != nil {
		writeError(w, err)
		return
	}
	if list == nil {
		list = []Withdrawal{}
	}
	httputil.WriteJSON(w, http.StatusOK, list)
}

func (h *Handler) GetWithdrawal(w http.ResponseWriter, r *http.Request, userID, id string) {
	wd, err := h.engine.Withdrawal(r.Context(), userID, id)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, wd)
}

func (h *Handler) Transfer(w http.ResponseWriter, r *http.Request, userID string) {
	var req struct {
		FromAccount string          `json:"from_account"`
		ToAccount   string          `json:"to_account"`
		Amount      decimal.Decimal `json:"amount"`
	}
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	token := r.Header.Get("X-Idempotency-Key")
	t, err := h.engine.InternalTransfer(r.Context(), userID, req.FromAccount, req.ToAccount, req.Amount, token)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, t)
}

func (h *Handler) Wallet(w http.ResponseWriter, r *http.Request, userID string) {
	view, err := h.engine.WalletSummary(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	if view.Transactions == nil {
		view.Transactions = []WalletTransaction{}
	}
	httputil.WriteJSON(w, http.StatusOK, view)
}

func (h *Handler) WalletTopUp(w http.ResponseWriter, r *http.Request, userID string) {
	var req struct {
		AccountRef string          `json:"account_ref"`
		Amount     decimal.Decimal `json:"amount"`
	}
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	tx, err := h.engine.TransferMT5ToWallet(r.Context(), userID, req.AccountRef, req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, tx)
}

func (h *Handler) WalletPayout(w http.ResponseWriter, r *http.Request, userID string) {
	var req struct {
		AccountRef string          `json:"account_ref"`
		Amount     decimal.Decimal `json:"amount"`
	}
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	tx, err := h.engine.TransferWalletToMT5(r.Context(), userID, req.AccountRef, req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, tx)
}
