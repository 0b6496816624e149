package funding

import (
	"errors"
	"net/http"

	"fx-backoffice/internal/cregis"
	"fx-backoffice/internal/httputil"
)

// CallbackHandler receives payment-provider webhooks. The provider keeps
// retrying anything that is not acknowledged, so every delivery we managed to
// classify gets the success ack, including unmatched and parked ones; only a
// bad signature or an undecodable body is refused.
type CallbackHandler struct {
	engine *Engine
}

func NewCallbackHandler(engine *Engine) *CallbackHandler {
	return &CallbackHandler{engine: engine}
}

type callbackAck struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}

func (h *CallbackHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var cb cregis.Callback
	if err := httputil.ReadJSON(r, &cb); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "invalid payload"})
		return
	}
	err := h.engine.HandleCallback(r.Context(), cb)
	if errors.Is(err, ErrCallbackSignature) {
		httputil.WriteJSON(w, http.StatusForbidden, httputil.ErrorResponse{Error: "signature verification failed"})
		return
	}
	// Unmatched or parked callbacks were recorded and alerted on; a retry
	// from the provider would not produce anything new.
	httputil.WriteJSON(w, http.StatusOK, callbackAck{Code: "00000", Msg: "success"})
}
