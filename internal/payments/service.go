package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-backend/pkg/auth"
	"github.com/angelmondragon/marketplace-backend/pkg/db"
	"github.com/angelmondragon/marketplace-backend/pkg/db/models"
	"github.com/angelmondragon/marketplace-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-backend/pkg/errors"
	"github.com/angelmondragon/marketplace-backend/pkg/logger"
	"github.com/angelmondragon/marketplace-backend/pkg/metrics"
	"github.com/angelmondragon/marketplace-backend/pkg/outbox"
	"github.com/angelmondragon/marketplace-backend/pkg/outbox/payloads"
)

// Failure reasons written to failure_reason and the payment event.
const (
	ReasonGatewayTimeout   = "gateway_timeout"
	ReasonGatewayError     = "gateway_error"
	ReasonThreeDSAbandoned = "three_ds_abandoned"
	ReasonOrderCancelled   = "order_cancelled"
)

const defaultGatewayTimeout = 10 * time.Second

// Service drives payment intents through their state machine.
type Service interface {
	CreateIntent(ctx context.Context, caller auth.Caller, input CreateIntentInput) (*models.PaymentIntent, error)
	Authorize(ctx context.Context, caller auth.Caller, intentID uint, input AuthorizeInput) (*models.PaymentIntent, error)
	Initialize3DS(ctx context.Context, caller auth.Caller, intentID uint, paymentToken string) (*ThreeDSStart, error)
	Complete3DSecure(ctx context.Context, reference string, payload map[string]any) (*models.PaymentIntent, error)
	Confirm3DS(ctx context.Context, caller auth.Caller, intentID uint, payload map[string]any) (*models.PaymentIntent, error)
	Capture(ctx context.Context, caller auth.Caller, intentID uint) (*models.PaymentIntent, error)
	Cancel(ctx context.Context, caller auth.Caller, intentID uint, reason string) (*models.PaymentIntent, error)
	Refund(ctx context.Context, caller auth.Caller, intentID uint, input RefundInput) (*models.PaymentIntent, error)
	Get(ctx context.Context, caller auth.Caller, intentID uint) (*models.PaymentIntent, error)
	ListEvents(ctx context.Context, caller auth.Caller, intentID uint) ([]models.PaymentEvent, error)
	ApplyExternal(ctx context.Context, tx *gorm.DB, update ExternalUpdate) (*ExternalResult, error)
	CancelForOrder(ctx context.Context, tx *gorm.DB, orderID uint, caller auth.Caller) (func(context.Context), error)
	ExpireStale(ctx context.Context, cutoff time.Time, limit int) (int, error)
}

// Deps groups the collaborators of the payments service.
type Deps struct {
	Tx             txRunner
	Repo           Repository
	Gateway        Gateway
	Orders         OrderEffects
	Fulfillment    FulfillmentStarter
	Outbox         outboxPublisher
	Metrics        *metrics.DomainMetrics
	Logger         *logger.Logger
	GatewayTimeout time.Duration
}

type service struct {
	tx          txRunner
	repo        Repository
	gateway     Gateway
	orders      OrderEffects
	fulfillment FulfillmentStarter
	outbox      outboxPublisher
	metrics     *metrics.DomainMetrics
	logg        *logger.Logger
	timeout     time.Duration
}

// NewService validates deps and builds the payments service.
func NewService(d Deps) (Service, error) {
	if d.Tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if d.Repo == nil {
		return nil, fmt.Errorf("payments repository required")
	}
	if d.Gateway == nil {
		return nil, fmt.Errorf("payment gateway required")
	}
	if d.Orders == nil {
		return nil, fmt.Errorf("order effects required")
	}
	if d.Fulfillment == nil {
		return nil, fmt.Errorf("fulfillment starter required")
	}
	if d.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if d.Logger == nil {
		d.Logger = logger.Nop()
	}
	if d.GatewayTimeout <= 0 {
		d.GatewayTimeout = defaultGatewayTimeout
	}
	return &service{
		tx:          d.Tx,
		repo:        d.Repo,
		gateway:     d.Gateway,
		orders:      d.Orders,
		fulfillment: d.Fulfillment,
		outbox:      d.Outbox,
		metrics:     d.Metrics,
		logg:        d.Logger,
		timeout:     d.GatewayTimeout,
	}, nil
}

func (s *service) CreateIntent(ctx context.Context, caller auth.Caller, input CreateIntentInput) (*models.PaymentIntent, error) {
	if caller.UserID == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "caller required")
	}
	if input.OrderID == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order_id required")
	}
	method := input.Method
	if method == "" {
		method = enums.PaymentMethodCard
	}
	if !method.IsValid() {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "unsupported payment method %q", method)
	}

	var intent *models.PaymentIntent
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := repo.FindOrder(ctx, input.OrderID)
		if err != nil {
			if db.IsNotFound(err) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load order")
		}
		if !caller.IsAdmin() && order.BuyerID != caller.UserID {
			return pkgerrors.New(pkgerrors.CodeForbidden, "order belongs to another buyer")
		}
		if order.Status != enums.OrderStatusPending {
			return pkgerrors.New(pkgerrors.CodeConflict, "order is not awaiting payment").WithDetails(map[string]any{
				"order_id": order.ID,
				"status":   order.Status,
			})
		}

		created := &models.PaymentIntent{
			OrderID:     order.ID,
			BuyerID:     order.BuyerID,
			AmountCents: order.TotalCents,
			Currency:    order.Currency,
			Status:      enums.PaymentStatusCreated,
			Method:      method,
			Provider:    s.gateway.Provider(),
		}
		if err := repo.Create(ctx, created); err != nil {
			if db.IsUniqueViolation(err, "") {
				return pkgerrors.New(pkgerrors.CodeConflict, "order already has a payment intent").WithDetails(map[string]any{
					"order_id": order.ID,
				})
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create payment intent")
		}
		if err := repo.CreateEvent(ctx, &models.PaymentEvent{
			PaymentIntentID: created.ID,
			Status:          enums.PaymentStatusCreated,
			Source:          sourceFor(caller),
			AmountCents:     created.AmountCents,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record payment event")
		}
		intent = created
		return nil
	})
	if err != nil {
		return nil, err
	}
	return intent, nil
}

func (s *service) Authorize(ctx context.Context, caller auth.Caller, intentID uint, input AuthorizeInput) (*models.PaymentIntent, error) {
	if strings.TrimSpace(input.PaymentToken) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment_token required")
	}
	intent, err := s.loadOwned(ctx, caller, intentID)
	if err != nil {
		return nil, err
	}
	if intent.Status != enums.PaymentStatusCreated {
		return nil, illegalTransition(intent, enums.PaymentStatusAuthorized)
	}

	var result *AuthorizeResult
	callErr := s.callGateway(ctx, "authorize", func(gctx context.Context) error {
		var err error
		result, err = s.gateway.Authorize(gctx, AuthorizeRequest{
			IntentID:          intent.ID,
			OrderID:           intent.OrderID,
			AmountCents:       intent.AmountCents,
			Currency:          intent.Currency,
			PaymentToken:      input.PaymentToken,
			VerificationToken: input.VerificationToken,
			IdempotencyKey:    fmt.Sprintf("pi_%d_authorize", intent.ID),
		})
		return err
	})
	return s.applyAuthorization(ctx, caller, intent, result, callErr, sourceFor(caller))
}

func (s *service) Initialize3DS(ctx context.Context, caller auth.Caller, intentID uint, paymentToken string) (*ThreeDSStart, error) {
	intent, err := s.loadOwned(ctx, caller, intentID)
	if err != nil {
		return nil, err
	}
	if intent.Status != enums.PaymentStatusCreated {
		return nil, illegalTransition(intent, enums.PaymentStatusRequires3DS)
	}

	var session *ThreeDSSession
	callErr := s.callGateway(ctx, "initialize_3ds", func(gctx context.Context) error {
		var err error
		session, err = s.gateway.Initialize3DS(gctx, ThreeDSRequest{
			IntentID:     intent.ID,
			AmountCents:  intent.AmountCents,
			Currency:     intent.Currency,
			PaymentToken: paymentToken,
		})
		return err
	})
	if callErr != nil {
		if rejected := validationError(callErr); rejected != nil {
			return nil, rejected
		}
		updated, err := s.transition(ctx, transition{
			intent:  intent,
			to:      enums.PaymentStatusFailed,
			source:  enums.PaymentEventSourceGateway,
			reason:  gatewayFailureReason(callErr),
			payload: map[string]any{"error": callErr.Error()},
			actor:   actorRef(caller),
		})
		if err != nil {
			return nil, err
		}
		return &ThreeDSStart{Intent: *updated}, nil
	}

	updated, err := s.transition(ctx, transition{
		intent: intent,
		to:     enums.PaymentStatusRequires3DS,
		source: enums.PaymentEventSourceGateway,
		updates: map[string]any{
			"external_reference": session.Reference,
			"requires_3ds":       true,
			"redirect_url":       session.RedirectURL,
		},
		payload: session.Raw,
		actor:   actorRef(caller),
	})
	if err != nil {
		return nil, err
	}
	return &ThreeDSStart{Intent: *updated, Reference: session.Reference, RedirectURL: session.RedirectURL}, nil
}

// Complete3DSecure handles the bank callback. There is no caller; the gateway
// reference must identify exactly one intent.
func (s *service) Complete3DSecure(ctx context.Context, reference string, payload map[string]any) (*models.PaymentIntent, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "reference required")
	}
	matches, err := s.repo.FindByExternalReference(ctx, reference)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "resolve payment reference")
	}
	if len(matches) != 1 {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment intent not found for reference")
	}
	return s.complete3DS(ctx, auth.Caller{}, &matches[0], payload, enums.PaymentEventSourceGateway)
}

func (s *service) Confirm3DS(ctx context.Context, caller auth.Caller, intentID uint, payload map[string]any) (*models.PaymentIntent, error) {
	intent, err := s.loadOwned(ctx, caller, intentID)
	if err != nil {
		return nil, err
	}
	return s.complete3DS(ctx, caller, intent, payload, enums.PaymentEventSourceAPI)
}

func (s *service) complete3DS(ctx context.Context, caller auth.Caller, intent *models.PaymentIntent, payload map[string]any, source enums.PaymentEventSource) (*models.PaymentIntent, error) {
	if intent.Status != enums.PaymentStatusRequires3DS {
		return nil, illegalTransition(intent, enums.PaymentStatusAuthorized)
	}
	if intent.ExternalReference == nil {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "payment intent has no 3-D Secure session")
	}

	var result *AuthorizeResult
	callErr := s.callGateway(ctx, "complete_3ds", func(gctx context.Context) error {
		var err error
		result, err = s.gateway.Complete3DS(gctx, *intent.ExternalReference, payload)
		return err
	})
	return s.applyAuthorization(ctx, caller, intent, result, callErr, source)
}

// applyAuthorization turns a gateway verdict into the matching transition.
// Gateway failures are Failed transitions, not errors.
func (s *service) applyAuthorization(ctx context.Context, caller auth.Caller, intent *models.PaymentIntent, result *AuthorizeResult, callErr error, source enums.PaymentEventSource) (*models.PaymentIntent, error) {
	if callErr != nil {
		if rejected := validationError(callErr); rejected != nil {
			return nil, rejected
		}
		return s.transition(ctx, transition{
			intent:  intent,
			to:      enums.PaymentStatusFailed,
			source:  enums.PaymentEventSourceGateway,
			reason:  gatewayFailureReason(callErr),
			payload: map[string]any{"error": callErr.Error()},
			actor:   actorRef(caller),
		})
	}

	updates := map[string]any{}
	if result.Reference != "" {
		updates["external_reference"] = result.Reference
	}
	t := transition{
		intent:  intent,
		source:  source,
		payload: result.Raw,
		updates: updates,
		actor:   actorRef(caller),
	}
	switch result.Outcome {
	case OutcomeApproved:
		t.to = enums.PaymentStatusAuthorized
		t.amount = intent.AmountCents
	case OutcomeRequires3DS:
		t.to = enums.PaymentStatusRequires3DS
		updates["requires_3ds"] = true
		if result.RedirectURL != "" {
			updates["redirect_url"] = result.RedirectURL
		}
	default:
		t.to = enums.PaymentStatusFailed
		t.reason = result.DeclineReason
		if t.reason == "" {
			t.reason = "declined"
		}
	}
	return s.transition(ctx, t)
}

func (s *service) Capture(ctx context.Context, caller auth.Caller, intentID uint) (*models.PaymentIntent, error) {
	if !caller.IsAdmin() {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only admins can capture payments")
	}
	intent, err := s.load(ctx, intentID)
	if err != nil {
		return nil, err
	}
	if intent.Status != enums.PaymentStatusAuthorized {
		return nil, illegalTransition(intent, enums.PaymentStatusCaptured)
	}

	var receipt *Receipt
	callErr := s.callGateway(ctx, "capture", func(gctx context.Context) error {
		var err error
		receipt, err = s.gateway.Capture(gctx, reference(intent), intent.AmountCents, intent.Currency)
		return err
	})
	if callErr != nil {
		return nil, gatewayError(callErr, "capture failed", intent)
	}
	return s.transition(ctx, transition{
		intent:  intent,
		to:      enums.PaymentStatusCaptured,
		source:  enums.PaymentEventSourceAPI,
		amount:  intent.AmountCents,
		payload: receipt.Raw,
		actor:   actorRef(caller),
	})
}

func (s *service) Cancel(ctx context.Context, caller auth.Caller, intentID uint, reason string) (*models.PaymentIntent, error) {
	intent, err := s.loadOwned(ctx, caller, intentID)
	if err != nil {
		return nil, err
	}
	if !CanTransition(intent.Status, enums.PaymentStatusCancelled) {
		return nil, illegalTransition(intent, enums.PaymentStatusCancelled)
	}

	payload := map[string]any{}
	if intent.Status == enums.PaymentStatusAuthorized {
		var receipt *Receipt
		callErr := s.callGateway(ctx, "cancel", func(gctx context.Context) error {
			var err error
			receipt, err = s.gateway.Cancel(gctx, reference(intent))
			return err
		})
		if callErr != nil {
			return nil, gatewayError(callErr, "cancel failed", intent)
		}
		payload = receipt.Raw
	}
	return s.transition(ctx, transition{
		intent:  intent,
		to:      enums.PaymentStatusCancelled,
		source:  sourceFor(caller),
		reason:  strings.TrimSpace(reason),
		payload: payload,
		actor:   actorRef(caller),
	})
}

func (s *service) Refund(ctx context.Context, caller auth.Caller, intentID uint, input RefundInput) (*models.PaymentIntent, error) {
	if !caller.IsAdmin() {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only admins can refund payments")
	}
	if input.AmountCents < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount_cents must be positive")
	}
	intent, err := s.load(ctx, intentID)
	if err != nil {
		return nil, err
	}
	if intent.Status != enums.PaymentStatusCaptured && intent.Status != enums.PaymentStatusPartiallyRefunded {
		return nil, illegalTransition(intent, enums.PaymentStatusRefunded)
	}
	amount := input.AmountCents
	if amount == 0 {
		amount = intent.RefundableCents()
	}
	if amount > intent.RefundableCents() {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "refund exceeds the remaining captured amount").WithDetails(map[string]any{
			"requested_cents":  amount,
			"refundable_cents": intent.RefundableCents(),
		})
	}

	var receipt *Receipt
	callErr := s.callGateway(ctx, "refund", func(gctx context.Context) error {
		var err error
		receipt, err = s.gateway.Refund(gctx, RefundRequest{
			Reference:      reference(intent),
			AmountCents:    amount,
			Currency:       intent.Currency,
			Reason:         input.Reason,
			IdempotencyKey: fmt.Sprintf("pi_%d_refund_%d", intent.ID, intent.RefundedAmountCents),
		})
		return err
	})
	if callErr != nil {
		return nil, gatewayError(callErr, "refund failed", intent)
	}
	t := refundTransition(intent, amount, input.Reason, enums.PaymentEventSourceAPI, receipt.Raw, actorRef(caller))
	t.refundID = receipt.RefundID
	updated, err := s.transition(ctx, t)
	if err != nil && t.refundID != "" && pkgerrors.IsCode(err, pkgerrors.CodeConflict) {
		// The provider's refund webhook can land before this transition commits.
		if recorded, rerr := s.repo.RefundRecorded(ctx, intent.ID, t.refundID); rerr == nil && recorded {
			return s.load(ctx, intent.ID)
		}
	}
	return updated, err
}

func refundTransition(intent *models.PaymentIntent, amount int64, reason string, source enums.PaymentEventSource, payload map[string]any, actor *outbox.ActorRef) transition {
	total := intent.RefundedAmountCents + amount
	to := enums.PaymentStatusPartiallyRefunded
	if total == intent.AmountCents {
		to = enums.PaymentStatusRefunded
	}
	return transition{
		intent:      intent,
		to:          to,
		source:      source,
		amount:      amount,
		reason:      strings.TrimSpace(reason),
		payload:     payload,
		updates:     map[string]any{"refunded_amount_cents": total},
		actor:       actor,
		guardRefund: true,
	}
}

func (s *service) Get(ctx context.Context, caller auth.Caller, intentID uint) (*models.PaymentIntent, error) {
	return s.loadOwned(ctx, caller, intentID)
}

func (s *service) ListEvents(ctx context.Context, caller auth.Caller, intentID uint) ([]models.PaymentEvent, error) {
	intent, err := s.loadOwned(ctx, caller, intentID)
	if err != nil {
		return nil, err
	}
	events, err := s.repo.ListEvents(ctx, intent.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load payment events")
	}
	return events, nil
}

// ApplyExternal applies a provider-reported update inside tx without calling
// the gateway. Replays of the current or an earlier state are ignored and
// contradictory updates are rejected; neither is an error.
func (s *service) ApplyExternal(ctx context.Context, tx *gorm.DB, update ExternalUpdate) (*ExternalResult, error) {
	repo := s.repo.WithTx(tx)
	matches, err := repo.FindByExternalReference(ctx, update.Reference)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "resolve payment reference")
	}
	if len(matches) != 1 {
		return &ExternalResult{Outcome: enums.WebhookOutcomeRejected, Detail: "payment intent not found for reference"}, nil
	}
	intent := &matches[0]
	if update.Provider != "" && update.Provider != intent.Provider {
		return &ExternalResult{Intent: intent, Outcome: enums.WebhookOutcomeRejected, Detail: "provider does not own this payment"}, nil
	}

	var t transition
	switch update.Action {
	case ActionRefund:
		if update.RefundID != "" {
			recorded, err := repo.RefundRecorded(ctx, intent.ID, update.RefundID)
			if err != nil {
				return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "check recorded refund")
			}
			if recorded {
				return &ExternalResult{Intent: intent, Outcome: enums.WebhookOutcomeIgnored, Detail: "refund already recorded"}, nil
			}
		}
		if intent.Status == enums.PaymentStatusRefunded {
			return &ExternalResult{Intent: intent, Outcome: enums.WebhookOutcomeIgnored, Detail: "already refunded"}, nil
		}
		if intent.Status != enums.PaymentStatusCaptured && intent.Status != enums.PaymentStatusPartiallyRefunded {
			return s.rejected(ctx, intent, enums.PaymentStatusRefunded), nil
		}
		amount := update.AmountCents
		if amount <= 0 {
			amount = intent.RefundableCents()
		}
		if amount > intent.RefundableCents() {
			return &ExternalResult{Intent: intent, Outcome: enums.WebhookOutcomeRejected, Detail: "refund exceeds the remaining captured amount"}, nil
		}
		t = refundTransition(intent, amount, update.Reason, enums.PaymentEventSourceWebhook, update.Payload, nil)
		t.refundID = update.RefundID
	default:
		to, ok := targetFor(update.Action)
		if !ok {
			return &ExternalResult{Intent: intent, Outcome: enums.WebhookOutcomeUnmapped, Detail: fmt.Sprintf("unknown action %q", update.Action)}, nil
		}
		if Reachable(to, intent.Status) {
			return &ExternalResult{Intent: intent, Outcome: enums.WebhookOutcomeIgnored, Detail: fmt.Sprintf("already %s", intent.Status)}, nil
		}
		if !CanTransition(intent.Status, to) {
			return s.rejected(ctx, intent, to), nil
		}
		t = transition{
			intent:  intent,
			to:      to,
			source:  enums.PaymentEventSourceWebhook,
			reason:  strings.TrimSpace(update.Reason),
			payload: update.Payload,
		}
		switch to {
		case enums.PaymentStatusAuthorized, enums.PaymentStatusCaptured:
			t.amount = intent.AmountCents
		case enums.PaymentStatusRequires3DS:
			t.updates = map[string]any{"requires_3ds": true}
		}
	}

	const savepoint = "apply_external"
	if err := tx.SavePoint(savepoint).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "open savepoint")
	}
	updated, err := s.applyTx(ctx, tx, t)
	if err != nil {
		if !pkgerrors.IsCode(err, pkgerrors.CodeConflict) {
			return nil, err
		}
		if rbErr := tx.RollbackTo(savepoint).Error; rbErr != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, rbErr, "rollback savepoint")
		}
		return &ExternalResult{Intent: intent, Outcome: enums.WebhookOutcomeRejected, Detail: pkgerrors.As(err).Message()}, nil
	}
	return &ExternalResult{Intent: updated, Outcome: enums.WebhookOutcomeApplied}, nil
}

func (s *service) rejected(ctx context.Context, intent *models.PaymentIntent, to enums.PaymentStatus) *ExternalResult {
	detail := fmt.Sprintf("illegal transition %s -> %s", intent.Status, to)
	s.logg.Error(s.logg.WithFields(ctx, map[string]any{
		"payment_intent_id": intent.ID,
		"from":              intent.Status,
		"to":                to,
	}), "contradictory provider update", errors.New(detail))
	return &ExternalResult{Intent: intent, Outcome: enums.WebhookOutcomeRejected, Detail: detail}
}

func targetFor(action ExternalAction) (enums.PaymentStatus, bool) {
	switch action {
	case ActionAuthorize:
		return enums.PaymentStatusAuthorized, true
	case ActionRequire3DS:
		return enums.PaymentStatusRequires3DS, true
	case ActionCapture:
		return enums.PaymentStatusCaptured, true
	case ActionFail:
		return enums.PaymentStatusFailed, true
	case ActionCancel:
		return enums.PaymentStatusCancelled, true
	}
	return "", false
}

// CancelForOrder settles the intent of an order being cancelled, inside the
// order's transaction. The returned func voids an authorization at the gateway
// and must run after commit.
func (s *service) CancelForOrder(ctx context.Context, tx *gorm.DB, orderID uint, caller auth.Caller) (func(context.Context), error) {
	repo := s.repo.WithTx(tx)
	intent, err := repo.FindByOrderID(ctx, orderID)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load payment intent")
	}

	t := transition{
		intent: intent,
		source: sourceFor(caller),
		actor:  actorRef(caller),
		reason: ReasonOrderCancelled,
	}
	switch intent.Status {
	case enums.PaymentStatusFailed, enums.PaymentStatusCancelled:
		return nil, nil
	case enums.PaymentStatusCreated:
		t.to = enums.PaymentStatusFailed
	case enums.PaymentStatusRequires3DS, enums.PaymentStatusAuthorized:
		t.to = enums.PaymentStatusCancelled
	default:
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "order payment was already captured; refund it instead").WithDetails(map[string]any{
			"payment_intent_id": intent.ID,
			"status":            intent.Status,
		})
	}
	if _, err := s.applyTx(ctx, tx, t); err != nil {
		return nil, err
	}
	if intent.Status != enums.PaymentStatusAuthorized {
		return nil, nil
	}

	ref := reference(intent)
	return func(ctx context.Context) {
		err := s.callGateway(ctx, "cancel", func(gctx context.Context) error {
			_, err := s.gateway.Cancel(gctx, ref)
			return err
		})
		if err != nil {
			s.logg.Error(s.logg.WithField(ctx, "payment_intent_id", intent.ID), "failed to void authorization for cancelled order", err)
		}
	}, nil
}

// ExpireStale fails Created and Requires3DS intents untouched since cutoff.
// Intents that moved on meanwhile are skipped.
func (s *service) ExpireStale(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	stale, err := s.repo.FindStale(ctx, cutoff, []enums.PaymentStatus{
		enums.PaymentStatusCreated,
		enums.PaymentStatusRequires3DS,
	}, limit)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "find stale payment intents")
	}

	var (
		expired int
		errs    error
	)
	for i := range stale {
		intent := &stale[i]
		reason := ReasonGatewayTimeout
		if intent.Status == enums.PaymentStatusRequires3DS {
			reason = ReasonThreeDSAbandoned
		}
		_, err := s.transition(ctx, transition{
			intent: intent,
			to:     enums.PaymentStatusFailed,
			source: enums.PaymentEventSourceSystem,
			reason: reason,
			actor:  actorRef(auth.Caller{}),
		})
		if err != nil {
			if pkgerrors.IsCode(err, pkgerrors.CodeConflict) {
				s.logg.Warn(s.logg.WithField(ctx, "payment_intent_id", intent.ID), "payment intent changed state before expiry")
				continue
			}
			errs = multierr.Append(errs, fmt.Errorf("expire payment intent %d: %w", intent.ID, err))
			continue
		}
		expired++
	}
	return expired, errs
}

type transition struct {
	intent      *models.PaymentIntent
	to          enums.PaymentStatus
	source      enums.PaymentEventSource
	amount      int64
	reason      string
	payload     map[string]any
	updates     map[string]any
	actor       *outbox.ActorRef
	guardRefund bool
	refundID    string
}

func (s *service) transition(ctx context.Context, t transition) (*models.PaymentIntent, error) {
	var updated *models.PaymentIntent
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		updated, err = s.applyTx(ctx, tx, t)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// applyTx performs one transition: guarded status update, payment event,
// order and fulfillment side effects, outbox row.
func (s *service) applyTx(ctx context.Context, tx *gorm.DB, t transition) (*models.PaymentIntent, error) {
	from := t.intent.Status
	if !CanTransition(from, t.to) {
		return nil, illegalTransition(t.intent, t.to)
	}

	repo := s.repo.WithTx(tx)
	now := repo.Now()
	updates := map[string]any{}
	for k, v := range t.updates {
		updates[k] = v
	}
	if col := timestampColumn(t.to); col != "" {
		updates[col] = now
	}
	if t.to == enums.PaymentStatusFailed && t.reason != "" {
		updates["failure_reason"] = t.reason
	}

	guard := Guard{Status: from}
	if t.guardRefund {
		refunded := t.intent.RefundedAmountCents
		guard.RefundedCents = &refunded
	}
	ok, err := repo.Transition(ctx, t.intent.ID, guard, t.to, updates)
	if err != nil {
		if db.IsUniqueViolation(err, "") {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "gateway reference already belongs to another payment")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update payment intent")
	}
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "payment intent changed concurrently").WithDetails(map[string]any{
			"payment_intent_id": t.intent.ID,
			"expected_status":   from,
		})
	}

	raw, err := json.Marshal(payloadOrEmpty(t.payload))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode payment payload")
	}
	fromStatus := from
	event := &models.PaymentEvent{
		PaymentIntentID: t.intent.ID,
		FromStatus:      &fromStatus,
		Status:          t.to,
		Source:          t.source,
		AmountCents:     t.amount,
		Payload:         string(raw),
	}
	if t.reason != "" {
		reason := t.reason
		event.Reason = &reason
	}
	if t.refundID != "" {
		refundID := t.refundID
		event.GatewayRefundID = &refundID
	}
	if err := repo.CreateEvent(ctx, event); err != nil {
		if db.IsUniqueViolation(err, "") {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "refund already recorded")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record payment event")
	}

	switch t.to {
	case enums.PaymentStatusCaptured:
		if err := s.orders.MarkPaid(ctx, tx, t.intent.OrderID); err != nil {
			return nil, err
		}
		if err := s.fulfillment.CreateForOrder(ctx, tx, t.intent.OrderID); err != nil {
			return nil, err
		}
	case enums.PaymentStatusRefunded, enums.PaymentStatusPartiallyRefunded:
		if err := s.orders.MarkRefunded(ctx, tx, t.intent.OrderID, t.to == enums.PaymentStatusRefunded, t.amount); err != nil {
			return nil, err
		}
	}

	if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventPaymentStatusChanged,
		AggregateType: enums.AggregatePaymentIntent,
		AggregateID:   t.intent.ID,
		Actor:         t.actor,
		OccurredAt:    now,
		Data: payloads.PaymentStatusChangedEvent{
			PaymentIntentID: t.intent.ID,
			OrderID:         t.intent.OrderID,
			From:            from,
			To:              t.to,
			Source:          t.source,
			AmountCents:     t.amount,
		},
	}); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "emit payment event")
	}

	updated, err := repo.FindByID(ctx, t.intent.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reload payment intent")
	}
	s.metrics.PaymentTransition(string(from), string(t.to), string(t.source))
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"payment_intent_id": t.intent.ID,
		"from":              from,
		"to":                t.to,
		"source":            t.source,
	}), "payment intent transitioned")
	return updated, nil
}

// callGateway bounds fn by the gateway timeout and records its latency.
func (s *service) callGateway(ctx context.Context, op string, fn func(context.Context) error) error {
	gctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	start := time.Now()
	err := fn(gctx)
	outcome := "ok"
	if err != nil {
		outcome = gatewayFailureReason(err)
	}
	s.metrics.ObserveGatewayCall(string(s.gateway.Provider()), op, outcome, time.Since(start))
	if err != nil && errors.Is(gctx.Err(), context.DeadlineExceeded) && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
	}
	return err
}

func (s *service) load(ctx context.Context, intentID uint) (*models.PaymentIntent, error) {
	intent, err := s.repo.FindByID(ctx, intentID)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment intent not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load payment intent")
	}
	return intent, nil
}

func (s *service) loadOwned(ctx context.Context, caller auth.Caller, intentID uint) (*models.PaymentIntent, error) {
	if caller.UserID == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "caller required")
	}
	intent, err := s.load(ctx, intentID)
	if err != nil {
		return nil, err
	}
	if !caller.IsAdmin() && intent.BuyerID != caller.UserID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "payment intent belongs to another buyer")
	}
	return intent, nil
}

func illegalTransition(intent *models.PaymentIntent, to enums.PaymentStatus) *pkgerrors.Error {
	return pkgerrors.Newf(pkgerrors.CodeConflict, "illegal payment transition %s -> %s", intent.Status, to).WithDetails(map[string]any{
		"payment_intent_id": intent.ID,
		"status":            intent.Status,
	})
}

func gatewayError(err error, msg string, intent *models.PaymentIntent) error {
	if rejected := validationError(err); rejected != nil {
		return rejected
	}
	return pkgerrors.Wrap(pkgerrors.CodeGateway, err, msg).WithDetails(map[string]any{
		"payment_intent_id": intent.ID,
		"reason":            gatewayFailureReason(err),
		"retryable":         pkgerrors.IsRetryable(err),
	})
}

// validationError returns err when the gateway refused the request itself,
// which is the caller's problem rather than a payment failure.
func validationError(err error) *pkgerrors.Error {
	if typed := pkgerrors.As(err); typed != nil && typed.Code() == pkgerrors.CodeValidation {
		return typed
	}
	return nil
}

func gatewayFailureReason(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return ReasonGatewayTimeout
	}
	return ReasonGatewayError
}

func reference(intent *models.PaymentIntent) string {
	if intent.ExternalReference == nil {
		return ""
	}
	return *intent.ExternalReference
}

func payloadOrEmpty(payload map[string]any) map[string]any {
	if payload == nil {
		return map[string]any{}
	}
	return payload
}

func sourceFor(caller auth.Caller) enums.PaymentEventSource {
	if caller.UserID == 0 {
		return enums.PaymentEventSourceSystem
	}
	return enums.PaymentEventSourceAPI
}

func actorRef(caller auth.Caller) *outbox.ActorRef {
	if caller.UserID == 0 {
		return &outbox.ActorRef{Role: "system"}
	}
	return &outbox.ActorRef{UserID: caller.UserID, Role: string(caller.Role)}
}
