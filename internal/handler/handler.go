package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/sharmaji847401-hue/myapi/internal/infrastructure/auth"
	"github.com/sharmaji847401-hue/myapi/internal/models"
	service "github.com/sharmaji847401-hue/myapi/internal/services"
	"github.com/sharmaji847401-hue/myapi/internal/upstream"
	pkgerrors "github.com/sharmaji847401-hue/myapi/pkg/errors"
)

const (
	HeaderRequestID     = "X-Request-ID"
	HeaderReference     = "X-Transaction-Reference"
	HeaderAmountCharged = "X-Amount-Charged"

	maxReferenceLength = 128
)

type Billing interface {
	Execute(ctx context.Context, req service.Request) (*service.Outcome, error)
	Transaction(ctx context.Context, reference string) (*models.Transaction, error)
}

type Reconciler interface {
	Sweep(ctx context.Context) (int, error)
}

type Handler struct {
	billing    Billing
	reconciler Reconciler
}

func NewHandler(billing Billing, reconciler Reconciler) *Handler {
	return &Handler{billing: billing, reconciler: reconciler}
}

type failureResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

func writeFailure(w http.ResponseWriter, status int, message, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(failureResponse{Status: false, Message: message, Error: detail})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps a billing error to its status code and public message.
// Storage details never reach the caller.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var failure *service.UpstreamFailure
	switch {
	case errors.As(err, &failure):
		if failure.Reference != "" {
			w.Header().Set(HeaderReference, failure.Reference)
		}
		detail := failure.Error()
		if failure.Kind == upstream.KindTimeout {
			writeFailure(w, http.StatusGatewayTimeout, "Upstream Provider Timed Out", detail)
			return
		}
		writeFailure(w, http.StatusBadGateway, "Upstream Provider Failed", detail)
	case errors.Is(err, pkgerrors.ErrInvalidCredentials):
		writeFailure(w, http.StatusUnauthorized, "Invalid API Key", "")
	case errors.Is(err, pkgerrors.ErrAccountDisabled):
		writeFailure(w, http.StatusUnauthorized, "Account Disabled", "")
	case errors.Is(err, pkgerrors.ErrInsufficientFunds):
		writeFailure(w, http.StatusPaymentRequired, "Insufficient Wallet Balance", "")
	case errors.Is(err, pkgerrors.ErrServiceNotFound), errors.Is(err, pkgerrors.ErrServiceDisabled):
		writeFailure(w, http.StatusNotFound, "Service not found or disabled", "")
	case errors.Is(err, pkgerrors.ErrInvalidInput):
		writeFailure(w, http.StatusBadRequest, "Invalid request", err.Error())
	case errors.Is(err, pkgerrors.ErrDuplicateReference):
		writeFailure(w, http.StatusConflict, "Duplicate request reference", "")
	case errors.Is(err, pkgerrors.ErrTransactionNotFound):
		writeFailure(w, http.StatusNotFound, "Transaction not found", "")
	default:
		slog.Error("request failed", "error", err)
		writeFailure(w, http.StatusInternalServerError, "Internal Server Error", "")
	}
}

func (h *Handler) RegisterGatewayRoutes(r *mux.Router) {
	r.HandleFunc("/fetch", h.Fetch).Methods(http.MethodGet)
}

func (h *Handler) RegisterOperatorRoutes(r *mux.Router) {
	r.HandleFunc("/transactions/{reference}", h.GetTransaction).Methods(http.MethodGet)
	r.HandleFunc("/reconcile", h.Reconcile).Methods(http.MethodPost)
}

// Fetch proxies one billed provider call for the authenticated account.
func (h *Handler) Fetch(w http.ResponseWriter, r *http.Request) {
	acc := auth.AccountFromCtx(r.Context())
	if acc == nil {
		writeFailure(w, http.StatusUnauthorized, "API Key Missing", "")
		return
	}

	q := r.URL.Query()
	slug, data := q.Get("type"), q.Get("data")
	if strings.TrimSpace(slug) == "" || strings.TrimSpace(data) == "" {
		writeFailure(w, http.StatusBadRequest, "Missing parameters (type or data)", "")
		return
	}

	reference := strings.TrimSpace(r.Header.Get(HeaderRequestID))
	if len(reference) > maxReferenceLength {
		writeFailure(w, http.StatusBadRequest, "Invalid request", "X-Request-ID is too long")
		return
	}

	out, err := h.billing.Execute(r.Context(), service.Request{
		AccountID:   acc.ID,
		ServiceSlug: slug,
		Data:        data,
		BillerID:    q.Get("biller_id"),
		Reference:   reference,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	contentType := out.ContentType
	if contentType == "" {
		contentType = "application/json"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set(HeaderReference, out.Reference)
	w.Header().Set(HeaderAmountCharged, out.Charged.StringFixed(2))
	w.WriteHeader(http.StatusOK)
	w.Write(out.Body)
}

func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	reference := mux.Vars(r)["reference"]
	tx, err := h.billing.Transaction(r.Context(), reference)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	if h.reconciler == nil {
		writeFailure(w, http.StatusServiceUnavailable, "Reconciliation disabled", "")
		return
	}
	n, err := h.reconciler.Sweep(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	slog.Info("manual reconciliation", "operator", auth.OperatorFromCtx(r.Context()), "settled", n)
	writeJSON(w, http.StatusOK, map[string]any{"status": true, "settled": n})
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
