package webhook

import (
	"context"
	"crypto/subtle"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	observemetrics "github.com/wolfman30/converse-ai-platform/internal/observability/metrics"
	"github.com/wolfman30/converse-ai-platform/pkg/logging"
)

var ingressTracer = otel.Tracer("converse.internal.webhook")

type normalizePublisher interface {
	EnqueueNormalize(ctx context.Context, rawEventID uuid.UUID) error
}

// Handler receives provider webhook callbacks. It persists the raw delivery
// before any parsing and answers 200 as soon as the record is durable, so a
// slow pipeline never causes provider-side retry storms.
type Handler struct {
	store       *Store
	verifier    *Verifier
	publisher   normalizePublisher
	verifyToken string
	logger      *logging.Logger
	metrics     *observemetrics.IngressMetrics
}

type HandlerConfig struct {
	Store       *Store
	Verifier    *Verifier
	Publisher   normalizePublisher
	VerifyToken string
	Logger      *logging.Logger
	Metrics     *observemetrics.IngressMetrics
}

func NewHandler(cfg HandlerConfig) *Handler {
	if cfg.Store == nil {
		panic("webhook: store required")
	}
	if cfg.Verifier == nil {
		panic("webhook: verifier required")
	}
	if cfg.Publisher == nil {
		panic("webhook: publisher required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &Handler{
		store:       cfg.Store,
		verifier:    cfg.Verifier,
		publisher:   cfg.Publisher,
		verifyToken: cfg.VerifyToken,
		logger:      cfg.Logger,
		metrics:     cfg.Metrics,
	}
}

// Receive handles POST /webhook.
func (h *Handler) Receive(w http.ResponseWriter, r *http.Request) {
	ctx, span := ingressTracer.Start(r.Context(), "webhook.receive")
	defer span.End()
	start := time.Now()

	body, err := io.ReadAll(r.Body)
	if err != nil || len(body) == 0 {
		h.logger.Error("unreadable webhook body", "error", err)
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	reject, verr := h.verifier.Admit(body, r.Header.Get(SignatureHeader))
	if verr != nil {
		h.logger.Warn("webhook signature verification failed", "error", verr, "rejected", reject)
		if h.metrics != nil {
			h.metrics.ObserveSignatureFailure(reject)
		}
	}
	if reject {
		span.RecordError(verr)
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	id, err := h.store.Insert(ctx, body)
	if err != nil {
		h.logger.Error("failed to persist raw event", "error", err)
		span.RecordError(err)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	span.SetAttributes(attribute.String("converse.raw_event_id", id.String()))

	if err := h.publisher.EnqueueNormalize(ctx, id); err != nil {
		// The event is durable; normalization can be replayed from the
		// raw_events table, so the provider still gets a 200.
		h.logger.Error("failed to enqueue normalization", "error", err, "raw_event_id", id)
		span.RecordError(err)
	}

	if h.metrics != nil {
		h.metrics.ObserveReceive(time.Since(start).Seconds())
	}
	w.WriteHeader(http.StatusOK)
}

// Handshake handles GET /webhook per the provider's subscription contract:
// the challenge is echoed back verbatim only when mode is "subscribe" and
// the verify token matches.
func (h *Handler) Handshake(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	mode := q.Get("mode")
	token := q.Get("verify_token")
	challenge := q.Get("challenge")

	if mode != "subscribe" || h.verifyToken == "" ||
		subtle.ConstantTimeCompare([]byte(token), []byte(h.verifyToken)) != 1 {
		h.logger.Warn("webhook handshake rejected", "mode", mode)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(challenge))
}
