package payments

import (
	"fmt"
	"io"
	"mime"
	"net/http"
	"time"

	json "github.com/goccy/go-json"

	"github.com/wolfman30/clinic-scheduler/internal/http/respond"
	"github.com/wolfman30/clinic-scheduler/internal/observability/metrics"
	"github.com/wolfman30/clinic-scheduler/internal/payhere"
	"github.com/wolfman30/clinic-scheduler/internal/validation"
	"github.com/wolfman30/clinic-scheduler/pkg/logging"
)

const maxNotificationBytes = 64 << 10

var requiredNotificationFields = []string{
	"merchant_id", "order_id", "payment_id", "md5sig", "payhere_amount", "payhere_currency", "status_code",
}

// WebhookHandler receives PayHere notifications on the notify URL.
type WebhookHandler struct {
	creds      payhere.Credentials
	reconciler *Reconciler
	metrics    *metrics.BookingMetrics
	logger     *logging.Logger
}

// NewWebhookHandler creates a PayHere webhook handler.
func NewWebhookHandler(creds payhere.Credentials, reconciler *Reconciler, m *metrics.BookingMetrics, logger *logging.Logger) *WebhookHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &WebhookHandler{creds: creds, reconciler: reconciler, metrics: m, logger: logger}
}

// Handle processes POST /webhooks/payhere. Once the signature checks out the
// gateway always gets 200; processing failures are logged so PayHere does
// not retry into the same error.
func (h *WebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	observe := func(outcome string) {
		h.metrics.ObserveWebhook(outcome, time.Since(started).Seconds())
	}

	n, err := decodeNotification(r)
	if err != nil {
		h.logger.Error("payhere notification unreadable", "error", err, "remote_addr", r.RemoteAddr)
		observe("unreadable")
		respond.JSON(w, http.StatusInternalServerError, map[string]any{"status": "error", "message": "unable to read notification"})
		return
	}

	if missing := validation.MissingFields(n.values(), requiredNotificationFields); len(missing) > 0 {
		h.logger.Warn("payhere notification missing fields", "missing", missing, "order_id", n.OrderID)
		observe("missing_fields")
		respond.JSON(w, http.StatusBadRequest, map[string]any{
			"status":  "error",
			"message": "missing required fields",
			"missing": missing,
		})
		return
	}

	if !h.creds.Verify(n.MerchantID, n.OrderID, n.Amount, n.Currency, n.StatusCode, n.MD5Sig) {
		h.logger.Warn("payhere signature mismatch", "order_id", n.OrderID, "remote_addr", r.RemoteAddr)
		observe("invalid_signature")
		respond.JSON(w, http.StatusBadRequest, map[string]any{"status": "error", "message": "invalid signature"})
		return
	}

	outcome, err := h.reconciler.Reconcile(r.Context(), n)
	if err != nil {
		h.logger.Error("payhere notification processing failed",
			"error", err,
			"order_id", n.OrderID,
			"key", n.Key(),
			"status_code", n.StatusCode,
		)
		observe("error")
	} else {
		h.logger.Info("payhere notification processed", "order_id", n.OrderID, "key", n.Key(), "outcome", outcome)
		observe(string(outcome))
	}
	respond.JSON(w, http.StatusOK, map[string]any{"status": "success"})
}

func decodeNotification(r *http.Request) (Notification, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxNotificationBytes))
		if err != nil {
			return Notification{}, fmt.Errorf("payments: read body: %w", err)
		}
		var n Notification
		if err := json.Unmarshal(body, &n); err != nil {
			return Notification{}, fmt.Errorf("payments: decode json: %w", err)
		}
		return n, nil
	}

	r.Body = http.MaxBytesReader(nil, r.Body, maxNotificationBytes)
	if err := r.ParseForm(); err != nil {
		return Notification{}, fmt.Errorf("payments: parse form: %w", err)
	}
	f := r.PostForm
	return Notification{
		MerchantID: f.Get("merchant_id"),
		OrderID:    f.Get("order_id"),
		PaymentID:  f.Get("payment_id"),
		MD5Sig:     f.Get("md5sig"),
		Amount:     f.Get("payhere_amount"),
		Currency:   f.Get("payhere_currency"),
		StatusCode: f.Get("status_code"),
		Custom1:    f.Get("custom_1"),
		Custom2:    f.Get("custom_2"),
		Method:     f.Get("method"),
		StatusMsg:  f.Get("status_message"),
	}, nil
}
