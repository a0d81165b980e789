package webhooks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-backend/internal/payments"
	"github.com/angelmondragon/marketplace-backend/pkg/db"
	"github.com/angelmondragon/marketplace-backend/pkg/db/models"
	"github.com/angelmondragon/marketplace-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-backend/pkg/errors"
	"github.com/angelmondragon/marketplace-backend/pkg/logger"
	"github.com/angelmondragon/marketplace-backend/pkg/metrics"
	"github.com/angelmondragon/marketplace-backend/pkg/pagination"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type paymentApplier interface {
	ApplyExternal(ctx context.Context, tx *gorm.DB, update payments.ExternalUpdate) (*payments.ExternalResult, error)
}

// SecretSource resolves the signing secret of a provider.
type SecretSource interface {
	SecretFor(provider string) string
}

// Result is what the processor did with one delivery.
type Result struct {
	Provider        enums.PaymentProvider
	EventID         string
	EventType       string
	Outcome         enums.WebhookOutcome
	Duplicate       bool
	PaymentIntentID *uint
	Detail          string
}

// Processor verifies, de-duplicates and applies provider callbacks.
type Processor interface {
	Process(ctx context.Context, provider, signature string, body []byte) (*Result, error)
	Reconciliation(ctx context.Context, params pagination.Params) ([]models.WebhookEvent, string, error)
}

type Deps struct {
	Tx       txRunner
	Repo     Repository
	Payments paymentApplier
	Secrets  SecretSource
	Guard    *IdempotencyGuard
	Metrics  *metrics.DomainMetrics
	Logger   *logger.Logger
}

type processor struct {
	tx       txRunner
	repo     Repository
	payments paymentApplier
	secrets  SecretSource
	guard    *IdempotencyGuard
	metrics  *metrics.DomainMetrics
	logg     *logger.Logger
}

var errDuplicateEvent = errors.New("webhook event already recorded")

// NewProcessor wires the webhook processor. The Redis guard is optional.
func NewProcessor(d Deps) (Processor, error) {
	if d.Tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if d.Repo == nil {
		return nil, fmt.Errorf("webhook repository required")
	}
	if d.Payments == nil {
		return nil, fmt.Errorf("payments service required")
	}
	if d.Secrets == nil {
		return nil, fmt.Errorf("secret source required")
	}
	logg := d.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	return &processor{
		tx:       d.Tx,
		repo:     d.Repo,
		payments: d.Payments,
		secrets:  d.Secrets,
		guard:    d.Guard,
		metrics:  d.Metrics,
		logg:     logg,
	}, nil
}

func (p *processor) Process(ctx context.Context, rawProvider, signature string, body []byte) (*Result, error) {
	provider, err := enums.ParsePaymentProvider(strings.ToLower(strings.TrimSpace(rawProvider)))
	if err != nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "unknown webhook provider")
	}
	decode, ok := decoders[provider]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "unknown webhook provider")
	}

	if !VerifySignature(body, p.secrets.SecretFor(string(provider)), signature) {
		p.metrics.WebhookOutcome(string(provider), "invalid_signature")
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid webhook signature")
	}

	note, err := decode(body)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode webhook payload")
	}
	if note.EventID == "" {
		note.EventID = contentHash(body)
	}
	payload := map[string]any{}
	if err := json.Unmarshal(body, &payload); err == nil {
		note.Payload = payload
	}

	ctx = p.logg.WithFields(ctx, map[string]any{
		"provider":   provider,
		"event_id":   note.EventID,
		"event_type": note.EventType,
	})

	result := &Result{Provider: provider, EventID: note.EventID, EventType: note.EventType}

	if p.guard != nil {
		seen, err := p.guard.CheckAndMark(ctx, string(provider), note.EventID)
		switch {
		case err != nil:
			p.logg.Warn(ctx, fmt.Sprintf("webhook dedupe guard unavailable: %v", err))
		case seen:
			result.Duplicate = true
			p.metrics.WebhookOutcome(string(provider), "duplicate")
			return result, nil
		}
	}

	err = p.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := p.repo.WithTx(tx)
		exists, err := repo.Exists(ctx, provider, note.EventID)
		if err != nil {
			return err
		}
		if exists {
			return errDuplicateEvent
		}

		outcome, detail, intentID, err := p.apply(ctx, tx, provider, note)
		if err != nil {
			return err
		}
		result.Outcome = outcome
		result.Detail = detail
		result.PaymentIntentID = intentID

		row := &models.WebhookEvent{
			Provider:        provider,
			EventID:         note.EventID,
			EventType:       note.EventType,
			PaymentIntentID: intentID,
			Outcome:         outcome,
			Payload:         string(body),
		}
		if detail != "" {
			row.Detail = &detail
		}
		if err := repo.Create(ctx, row); err != nil {
			if db.IsUniqueViolation(err, "") {
				return errDuplicateEvent
			}
			return err
		}
		return nil
	})
	if errors.Is(err, errDuplicateEvent) {
		result.Duplicate = true
		result.Outcome = ""
		result.Detail = ""
		result.PaymentIntentID = nil
		p.metrics.WebhookOutcome(string(provider), "duplicate")
		return result, nil
	}
	if err != nil {
		if p.guard != nil {
			if relErr := p.guard.Release(ctx, string(provider), note.EventID); relErr != nil {
				p.logg.Warn(ctx, fmt.Sprintf("release webhook dedupe key: %v", relErr))
			}
		}
		if pkgerrors.As(err) != nil {
			return nil, err
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "ingest webhook")
	}

	p.metrics.WebhookOutcome(string(provider), string(result.Outcome))
	ctx = p.logg.WithField(ctx, "outcome", result.Outcome)
	switch result.Outcome {
	case enums.WebhookOutcomeRejected:
		p.logg.Error(ctx, "webhook rejected, queued for reconciliation", errors.New(result.Detail))
	case enums.WebhookOutcomeUnmapped:
		p.logg.Warn(ctx, "webhook event not mapped")
	default:
		p.logg.Info(ctx, "webhook processed")
	}
	return result, nil
}

func (p *processor) apply(ctx context.Context, tx *gorm.DB, provider enums.PaymentProvider, note *Notification) (enums.WebhookOutcome, string, *uint, error) {
	if !note.Mapped() {
		return enums.WebhookOutcomeUnmapped, fmt.Sprintf("no mapping for event type %q", note.EventType), nil, nil
	}
	res, err := p.payments.ApplyExternal(ctx, tx, payments.ExternalUpdate{
		Provider:    provider,
		Reference:   note.Reference,
		Action:      note.Action,
		AmountCents: note.AmountCents,
		RefundID:    note.RefundID,
		Reason:      note.Reason,
		Payload:     note.Payload,
	})
	if err != nil {
		return "", "", nil, err
	}
	var intentID *uint
	if res.Intent != nil {
		id := res.Intent.ID
		intentID = &id
	}
	return res.Outcome, res.Detail, intentID, nil
}

// Reconciliation lists rejected deliveries, newest first.
func (p *processor) Reconciliation(ctx context.Context, params pagination.Params) ([]models.WebhookEvent, string, error) {
	rows, next, err := p.repo.ListByOutcome(ctx, enums.WebhookOutcomeRejected, params)
	if err != nil {
		if errors.Is(err, pagination.ErrInvalidCursor) {
			return nil, "", pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
		}
		return nil, "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list reconciliation queue")
	}
	return rows, next, nil
}
