package callback

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/VictoriaMetrics/metrics"
	"github.com/google/uuid"

	"mpesa-push/internal/logcontext"
)

var (
	receivedSuccessCounter = metrics.GetOrCreateCounter(`callback_received_total{result="success"}`)
	receivedFailureCounter = metrics.GetOrCreateCounter(`callback_received_total{result="failure"}`)
	receivedInvalidCounter = metrics.GetOrCreateCounter(`callback_received_total{result="invalid"}`)
)

// ack is the body the provider expects back from a callback receiver.
var ack = []byte(`{"ResultCode":0,"ResultDesc":"Accepted"}`)

// Handler receives provider notifications over HTTP, decodes them and
// hands the result to the configured consumer.
type Handler struct {
	logger     *slog.Logger
	onCallback func(ctx context.Context, cb *Callback)
}

// NewHandler creates a Handler. onCallback may be nil when the caller
// only wants decoded callbacks logged.
func NewHandler(logger *slog.Logger, onCallback func(ctx context.Context, cb *Callback)) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, onCallback: onCallback}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := logcontext.AppendCtx(r.Context(), slog.String("correlationId", uuid.NewString()))

	body, err := io.ReadAll(r.Body)
	if err != nil {
		receivedInvalidCounter.Inc()
		h.logger.ErrorContext(ctx, "Failed to read callback body", "error", err.Error())
		http.Error(w, "cannot read body", http.StatusBadRequest)
		return
	}

	cb, err := Parse(body)
	if err != nil {
		receivedInvalidCounter.Inc()
		h.logger.ErrorContext(ctx, "Failed to parse callback", "error", err.Error())
		http.Error(w, "invalid callback payload", http.StatusBadRequest)
		return
	}

	ctx = logcontext.AppendCtx(ctx, slog.String("checkoutRequestId", cb.CheckoutRequestID))

	if cb.ResultCode.Success() {
		receivedSuccessCounter.Inc()
		receipt, _ := cb.MpesaReceiptNumber()
		h.logger.InfoContext(ctx, "Payment completed", "receipt", receipt, "resultDesc", cb.ResultDesc)
	} else {
		receivedFailureCounter.Inc()
		h.logger.WarnContext(ctx, "Payment failed",
			"resultCode", int(cb.ResultCode),
			"resultDesc", cb.ResultDesc,
			"description", cb.ResultCode.Description())
	}

	if h.onCallback != nil {
		h.onCallback(ctx, cb)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(ack); err != nil {
		h.logger.ErrorContext(ctx, "Failed to write callback ack", "error", err.Error())
	}
}
