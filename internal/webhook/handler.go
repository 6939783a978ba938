// Package webhook exposes the payment notification endpoint and the service
// health check over fiber.
package webhook

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	sentryfiber "github.com/getsentry/sentry-go/fiber"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/BatmanBruc/subpay-bot/internal/logging"
	"github.com/BatmanBruc/subpay-bot/internal/metrics"
	"github.com/BatmanBruc/subpay-bot/internal/reconcile"
	"github.com/BatmanBruc/subpay-bot/internal/signature"
)

const (
	PathBTCPay = "/webhook/btcpay"
	PathHealth = "/health"

	bodyLimit     = 1 << 20
	healthTimeout = 3 * time.Second
)

var errActivation = errors.New("subscription activation failed after payment was marked paid")

type Processor interface {
	Process(ctx context.Context, n reconcile.Notification) (reconcile.Result, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type GatewayHealth interface {
	Health(ctx context.Context) error
}

type ModeReporter interface {
	Mode() string
}

type Handler struct {
	engine  Processor
	secret  string
	ledger  ModeReporter
	db      Pinger
	gateway GatewayHealth
	now     func() time.Time
}

// NewHandler wires the webhook endpoints. gateway may be nil when no payment
// processor is configured; an empty secret rejects every notification.
func NewHandler(engine Processor, secret string, ledger ModeReporter, db Pinger, gateway GatewayHealth) *Handler {
	return &Handler{
		engine:  engine,
		secret:  secret,
		ledger:  ledger,
		db:      db,
		gateway: gateway,
		now:     time.Now,
	}
}

func NewApp(h *Handler) *fiber.App {
	app := fiber.New(fiber.Config{
		BodyLimit:             bodyLimit,
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          30 * time.Second,
	})
	app.Use(recover.New())
	app.Use(sentryfiber.New(sentryfiber.Options{Repanic: true}))
	h.Register(app)
	return app
}

func (h *Handler) Register(r fiber.Router) {
	r.Post(PathBTCPay, h.BTCPay)
	r.Get(PathHealth, h.Health)
}

// BTCPay authenticates the raw body before anything else touches it, then
// hands the notification to the reconciliation engine.
func (h *Handler) BTCPay(c *fiber.Ctx) error {
	start := time.Now()
	event := "unknown"
	defer func() {
		metrics.WebhookDuration.WithLabelValues(event).Observe(time.Since(start).Seconds())
		metrics.WebhookRequestsTotal.WithLabelValues(event, strconv.Itoa(c.Response().StatusCode())).Inc()
	}()

	raw := c.Body()
	if h.secret == "" || !signature.Verify(raw, c.Get(signature.HeaderName), h.secret) {
		log.Warn().Str("ip", c.IP()).Msg("webhook rejected: invalid signature")
		return h.fail(c, reconcile.AuthenticationFailure(), reconcile.Result{})
	}

	payload, err := parsePayload(raw)
	if err != nil {
		log.Warn().Err(err).Msg("webhook rejected: malformed payload")
		return h.fail(c, reconcile.MalformedPayload("malformed payload"), reconcile.Result{})
	}
	event = eventLabel(payload.Type)
	log.Info().Str("event_type", payload.Type).Str("invoice", logging.InvoicePrefix(payload.InvoiceID)).Msg("webhook received")

	res, err := h.engine.Process(c.UserContext(), reconcile.Notification{
		EventType: payload.Type,
		InvoiceID: payload.InvoiceID,
	})
	if err != nil {
		return h.fail(c, err, res)
	}

	switch res.Outcome {
	case reconcile.OutcomeInsufficientAmount:
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"status":          "error",
			"reason":          string(res.Outcome),
			"amount_paid":     res.AmountPaid.StringFixed(2),
			"amount_required": res.AmountRequired.StringFixed(2),
		})
	case reconcile.OutcomeActivationFailed:
		h.capture(c, reconcile.TransientFailure(res.ErrorID, errActivation), res.ErrorID)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"status":   "error",
			"reason":   string(res.Outcome),
			"error_id": res.ErrorID,
		})
	case reconcile.OutcomeSuccess:
		body := fiber.Map{"status": string(res.Outcome)}
		if res.EndDate != nil {
			body["end_date"] = res.EndDate.UTC().Format(time.RFC3339)
		}
		if res.Overpayment.IsPositive() {
			body["overpayment"] = res.Overpayment.StringFixed(2)
		}
		return c.JSON(body)
	default:
		return c.JSON(fiber.Map{"status": string(res.Outcome)})
	}
}

func (h *Handler) fail(c *fiber.Ctx, err error, res reconcile.Result) error {
	rich := reconcile.Classify(err)
	code := rich.Code
	if code == 0 {
		code = fiber.StatusInternalServerError
	}
	body := fiber.Map{
		"status": "error",
		"reason": strings.ToLower(rich.TextCode),
	}
	if code >= fiber.StatusInternalServerError {
		errorID := res.ErrorID
		if errorID == "" {
			errorID = uuid.NewString()
		}
		body["error_id"] = errorID
		h.capture(c, err, errorID)
	} else {
		body["message"] = rich.Message
	}
	return c.Status(code).JSON(body)
}

func (h *Handler) capture(c *fiber.Ctx, err error, errorID string) {
	hub := sentryfiber.GetHubFromContext(c)
	if hub == nil {
		hub = sentry.CurrentHub()
	}
	hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("error_id", errorID)
		hub.CaptureException(err)
	})
}

type dependencyStatus string

const (
	statusOK            dependencyStatus = "ok"
	statusUnreachable   dependencyStatus = "unreachable"
	statusNotConfigured dependencyStatus = "not_configured"
)

// Health reports dependency reachability without exposing configuration.
func (h *Handler) Health(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), healthTimeout)
	defer cancel()

	database := statusOK
	if h.db == nil || h.db.Ping(ctx) != nil {
		database = statusUnreachable
	}
	processor := statusNotConfigured
	if h.gateway != nil {
		processor = statusOK
		if err := h.gateway.Health(ctx); err != nil {
			log.Warn().Err(err).Msg("payment processor health check failed")
			processor = statusUnreachable
		}
	}

	status, code := "ok", fiber.StatusOK
	if database == statusUnreachable || processor == statusUnreachable {
		status, code = "degraded", fiber.StatusServiceUnavailable
	}
	mode := "memory"
	if h.ledger != nil {
		mode = h.ledger.Mode()
	}
	return c.Status(code).JSON(fiber.Map{
		"status":    status,
		"timestamp": h.now().UTC().Format(time.RFC3339),
		"checks": fiber.Map{
			"database":          database,
			"payment_processor": processor,
		},
		"idempotency": mode,
	})
}
