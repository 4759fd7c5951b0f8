package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"reflect"
	"strings"
	"time"

	"L402Paywall/internal/models"
	"L402Paywall/internal/observability"
	"L402Paywall/internal/payments"
	"L402Paywall/internal/services"
	"L402Paywall/internal/store"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

const maxWebhookBody = 1 << 20

type Handler struct {
	Store          store.Store
	Accounts       services.Accounts
	Gate           *services.Gate
	Orchestrator   *services.Orchestrator
	Reconciler     *services.Reconciler
	Verifier       *payments.Verifier
	Blocks         BlockSource
	CostPerRequest int64
	Logger         *slog.Logger

	validate *validator.Validate
}

type paymentRequest struct {
	OfferID             string `json:"offer_id" validate:"required,max=64"`
	PaymentMethod       string `json:"payment_method" validate:"required,max=32"`
	PaymentContextToken string `json:"payment_context_token"`
	Chain               string `json:"chain" validate:"omitempty,max=32"`
	Asset               string `json:"asset" validate:"omitempty,max=16"`
}

type webhookResponse struct {
	Status  string           `json:"status"`
	Outcome services.Outcome `json:"outcome"`
}

func NewHandler(h Handler) *Handler {
	if h.Logger == nil {
		h.Logger = slog.Default()
	}
	if h.CostPerRequest <= 0 {
		h.CostPerRequest = 1
	}
	h.validate = validator.New()
	h.validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &h
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.Store.Ping(ctx); err != nil {
		h.Logger.Error("health check failed", "err", err)
		writeError(w, http.StatusServiceUnavailable, services.KindStorage, "storage unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) Signup(w http.ResponseWriter, r *http.Request) {
	user, err := h.Accounts.Signup(r.Context())
	if err != nil {
		h.Logger.Error("signup failed", "err", err)
		writeServiceError(w, err)
		return
	}
	h.Logger.Info("user created", "user", observability.UserRef(user.ID), "credits", user.Credits)
	writeJSON(w, http.StatusOK, user)
}

func (h *Handler) Info(w http.ResponseWriter, r *http.Request) {
	user, err := h.Accounts.Get(r.Context(), userIDFrom(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// Block is the protected resource. The credit is taken before the upstream
// call and handed back if the upstream fails.
func (h *Handler) Block(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r)
	decision, err := h.Gate.TryConsume(r.Context(), userID, h.CostPerRequest)
	if err != nil {
		if services.KindOf(err) == services.KindStorage {
			h.Logger.Error("paywall debit failed", "user", observability.UserRef(userID), "err", err)
		}
		writeServiceError(w, err)
		return
	}
	if !decision.Allowed {
		h.Logger.Info("user out of credits", "user", observability.UserRef(userID))
		writePaymentRequired(w, decision.Challenge)
		return
	}

	block, err := h.Blocks.LatestBlock(r.Context())
	if err != nil {
		h.Logger.Error("fetch latest block failed", "user", observability.UserRef(userID), "err", err)
		if rerr := h.Gate.Refund(context.WithoutCancel(r.Context()), userID, h.CostPerRequest); rerr != nil {
			h.Logger.Error("refund failed", "user", observability.UserRef(userID), "credits", h.CostPerRequest, "err", rerr)
		}
		writeError(w, http.StatusServiceUnavailable, services.KindProvider, "failed to fetch latest block hash")
		return
	}
	h.Logger.Info("credit used", "user", observability.UserRef(userID), "remaining", decision.Remaining)
	writeJSON(w, http.StatusOK, block)
}

func (h *Handler) PaymentOptions(w http.ResponseWriter, r *http.Request) {
	ch, err := h.Gate.Challenge(r.Context(), userIDFrom(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ch)
}

func (h *Handler) CreatePaymentRequest(w http.ResponseWriter, r *http.Request) {
	var req paymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, services.KindValidation, "invalid json body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, services.KindValidation, validationMessage(err))
		return
	}

	desc, err := h.Orchestrator.CreatePayment(r.Context(), services.PaymentInput{
		OfferID:      req.OfferID,
		Method:       req.PaymentMethod,
		ContextToken: req.PaymentContextToken,
		Chain:        req.Chain,
		Asset:        req.Asset,
	})
	if err != nil {
		if kind := services.KindOf(err); kind == services.KindProvider || kind == services.KindStorage {
			h.Logger.Error("payment request failed", "offer_id", req.OfferID, "method", req.PaymentMethod, "err", err)
		}
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, desc)
}

func (h *Handler) GetPayment(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	if token == "" {
		writeError(w, http.StatusBadRequest, services.KindValidation, "missing intent token")
		return
	}
	intent, err := h.Orchestrator.GetIntent(r.Context(), token)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, intent)
}

func (h *Handler) Webhook(provider models.Provider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := h.Logger.With("provider", provider)
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
		if err != nil {
			writeError(w, http.StatusRequestEntityTooLarge, services.KindValidation, "webhook body too large")
			return
		}

		ev, err := h.Verifier.Verify(body, r.Header, provider)
		if err != nil {
			if errors.Is(err, payments.ErrMalformedEvent) {
				log.Warn("malformed webhook", "err", err)
				writeError(w, http.StatusBadRequest, services.KindValidation, "malformed event")
				return
			}
			log.Warn("webhook verification failed", "err", err)
			writeError(w, http.StatusUnauthorized, services.KindAuthentication, "webhook verification failed")
			return
		}

		res, err := h.Reconciler.Reconcile(r.Context(), ev)
		if err != nil {
			log.Error("reconcile failed", "reference", ev.Reference, "err", err)
			writeError(w, http.StatusInternalServerError, services.KindOf(err), "reconciliation failed")
			return
		}
		writeJSON(w, http.StatusOK, webhookResponse{Status: "ok", Outcome: res.Outcome})
	}
}

func writePaymentRequired(w http.ResponseWriter, ch *services.Challenge) {
	w.Header().Set("WWW-Authenticate", `L402 realm="Payment Required", payment_request_url="`+ch.PaymentRequestURL+`"`)
	w.Header().Set("X-Payment-Required", "true")
	writeJSON(w, http.StatusPaymentRequired, ch)
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return "invalid request"
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fe.Field()+" "+fe.Tag())
	}
	return "invalid fields: " + strings.Join(fields, ", ")
}
