package payments

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-backend/internal/orders"
	"github.com/angelmondragon/marketplace-backend/pkg/auth"
	"github.com/angelmondragon/marketplace-backend/pkg/db"
	"github.com/angelmondragon/marketplace-backend/pkg/db/dbtest"
	"github.com/angelmondragon/marketplace-backend/pkg/db/models"
	"github.com/angelmondragon/marketplace-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-backend/pkg/errors"
	"github.com/angelmondragon/marketplace-backend/pkg/outbox"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func clock() time.Time { return fixedNow }

var orderSeq atomic.Int64

type stubFulfillment struct {
	orderIDs []uint
}

func (s *stubFulfillment) CreateForOrder(_ context.Context, _ *gorm.DB, orderID uint) error {
	s.orderIDs = append(s.orderIDs, orderID)
	return nil
}

type fixture struct {
	client      *db.Client
	svc         Service
	repo        Repository
	gateway     *SandboxGateway
	fulfillment *stubFulfillment
}

func newFixture(t *testing.T, timeout time.Duration) fixture {
	t.Helper()
	client := dbtest.New(t)
	repo := NewRepositoryWithClock(client.DB(), clock)
	lifecycle, err := orders.NewLifecycle(orders.NewRepositoryWithClock(client.DB(), clock))
	require.NoError(t, err)
	gateway := NewSandboxGateway("https://shop.test/3ds/return")
	fulfillment := &stubFulfillment{}

	svc, err := NewService(Deps{
		Tx:             client,
		Repo:           repo,
		Gateway:        gateway,
		Orders:         lifecycle,
		Fulfillment:    fulfillment,
		Outbox:         outbox.NewService(outbox.NewRepository(client.DB()), nil),
		GatewayTimeout: timeout,
	})
	require.NoError(t, err)
	return fixture{client: client, svc: svc, repo: repo, gateway: gateway, fulfillment: fulfillment}
}

func (f fixture) order(t *testing.T, buyerID uint, totalCents int64) models.Order {
	t.Helper()
	order := models.Order{
		BuyerID:         buyerID,
		OrderNumber:     fmt.Sprintf("ORD-20260301-%06d", orderSeq.Add(1)),
		Status:          enums.OrderStatusPending,
		Currency:        "USD",
		SubtotalCents:   totalCents,
		TotalCents:      totalCents,
		ShippingAddress: "1 Main St",
		BillingAddress:  "1 Main St",
		CreatedAt:       fixedNow,
		UpdatedAt:       fixedNow,
	}
	require.NoError(t, f.client.DB().Create(&order).Error)
	for _, sellerID := range []uint{1, 2} {
		so := models.SellerOrder{
			OrderID:       order.ID,
			SellerID:      sellerID,
			Status:        enums.SellerOrderStatusPlaced,
			SubtotalCents: totalCents / 2,
			CreatedAt:     fixedNow,
			UpdatedAt:     fixedNow,
		}
		require.NoError(t, f.client.DB().Create(&so).Error)
	}
	return order
}

func (f fixture) intent(t *testing.T, buyerID uint, totalCents int64) models.PaymentIntent {
	t.Helper()
	order := f.order(t, buyerID, totalCents)
	intent, err := f.svc.CreateIntent(context.Background(), buyer(buyerID), CreateIntentInput{OrderID: order.ID})
	require.NoError(t, err)
	return *intent
}

func (f fixture) reloadOrder(t *testing.T, id uint) models.Order {
	t.Helper()
	var order models.Order
	require.NoError(t, f.client.DB().First(&order, id).Error)
	return order
}

func (f fixture) sellerStatuses(t *testing.T, orderID uint) []enums.SellerOrderStatus {
	t.Helper()
	var rows []models.SellerOrder
	require.NoError(t, f.client.DB().Where("order_id = ?", orderID).Order("id").Find(&rows).Error)
	out := make([]enums.SellerOrderStatus, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.Status)
	}
	return out
}

func buyer(id uint) auth.Caller { return auth.Caller{UserID: id, Role: enums.RoleBuyer} }

var admin = auth.Caller{UserID: 900, Role: enums.RoleAdmin}

func requireCode(t *testing.T, err error, code pkgerrors.Code) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, code, pkgerrors.As(err).Code(), err.Error())
}

func TestAuthorizeThenCaptureMarksOrderPaid(t *testing.T) {
	f := newFixture(t, time.Second)
	ctx := context.Background()
	intent := f.intent(t, 42, 22500)
	assert.Equal(t, enums.PaymentStatusCreated, intent.Status)
	assert.Equal(t, int64(22500), intent.AmountCents)
	assert.Equal(t, enums.PaymentProviderSandbox, intent.Provider)

	authorized, err := f.svc.Authorize(ctx, buyer(42), intent.ID, AuthorizeInput{PaymentToken: SandboxTokenApprove})
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusAuthorized, authorized.Status)
	require.NotNil(t, authorized.ExternalReference)
	require.NotNil(t, authorized.AuthorizedAt)

	captured, err := f.svc.Capture(ctx, admin, intent.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusCaptured, captured.Status)
	require.NotNil(t, captured.CapturedAt)

	order := f.reloadOrder(t, intent.OrderID)
	assert.Equal(t, enums.OrderStatusPaid, order.Status)
	require.NotNil(t, order.PaidAt)
	assert.Equal(t, []enums.SellerOrderStatus{enums.SellerOrderStatusReadyToShip, enums.SellerOrderStatusReadyToShip}, f.sellerStatuses(t, order.ID))
	assert.Equal(t, []uint{order.ID}, f.fulfillment.orderIDs)

	_, err = f.svc.Authorize(ctx, buyer(42), intent.ID, AuthorizeInput{PaymentToken: SandboxTokenApprove})
	requireCode(t, err, pkgerrors.CodeConflict)

	events, err := f.svc.ListEvents(ctx, buyer(42), intent.ID)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Nil(t, events[0].FromStatus)
	assert.Equal(t, enums.PaymentStatusAuthorized, events[1].Status)
	assert.Equal(t, enums.PaymentStatusCaptured, events[2].Status)
	assert.Equal(t, enums.PaymentStatusAuthorized, *events[2].FromStatus)

	var outboxRows int64
	require.NoError(t, f.client.DB().Model(&models.OutboxEvent{}).Where("event_type = ?", enums.EventPaymentStatusChanged).Count(&outboxRows).Error)
	assert.Equal(t, int64(2), outboxRows)
}

func TestIllegalTransitionsLeaveStatusUnchanged(t *testing.T) {
	f := newFixture(t, time.Second)
	ctx := context.Background()
	intent := f.intent(t, 42, 1000)

	_, err := f.svc.Capture(ctx, admin, intent.ID)
	requireCode(t, err, pkgerrors.CodeConflict)
	_, err = f.svc.Refund(ctx, admin, intent.ID, RefundInput{AmountCents: 100})
	requireCode(t, err, pkgerrors.CodeConflict)
	_, err = f.svc.Cancel(ctx, buyer(42), intent.ID, "")
	requireCode(t, err, pkgerrors.CodeConflict)
	_, err = f.svc.Complete3DSecure(ctx, "sbx_unknown", nil)
	requireCode(t, err, pkgerrors.CodeNotFound)

	reloaded, err := f.svc.Get(ctx, buyer(42), intent.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusCreated, reloaded.Status)
}

func TestCaptureAndRefundRequireAdmin(t *testing.T) {
	f := newFixture(t, time.Second)
	ctx := context.Background()
	intent := f.intent(t, 42, 1000)

	_, err := f.svc.Capture(ctx, buyer(42), intent.ID)
	requireCode(t, err, pkgerrors.CodeForbidden)
	_, err = f.svc.Refund(ctx, buyer(42), intent.ID, RefundInput{})
	requireCode(t, err, pkgerrors.CodeForbidden)
	_, err = f.svc.Get(ctx, buyer(7), intent.ID)
	requireCode(t, err, pkgerrors.CodeForbidden)
}

func TestCreateIntentGuards(t *testing.T) {
	f := newFixture(t, time.Second)
	ctx := context.Background()
	order := f.order(t, 42, 1000)

	_, err := f.svc.CreateIntent(ctx, buyer(7), CreateIntentInput{OrderID: order.ID})
	requireCode(t, err, pkgerrors.CodeForbidden)

	_, err = f.svc.CreateIntent(ctx, buyer(42), CreateIntentInput{OrderID: order.ID, Method: enums.PaymentMethodWallet})
	require.NoError(t, err)
	_, err = f.svc.CreateIntent(ctx, buyer(42), CreateIntentInput{OrderID: order.ID})
	requireCode(t, err, pkgerrors.CodeConflict)

	_, err = f.svc.CreateIntent(ctx, buyer(42), CreateIntentInput{OrderID: 9999})
	requireCode(t, err, pkgerrors.CodeNotFound)
}

func TestAuthorizationFailuresBecomeFailedTransitions(t *testing.T) {
	cases := []struct {
		token  string
		reason string
	}{
		{token: SandboxTokenDecline, reason: "card_declined"},
		{token: SandboxTokenInsufficient, reason: "insufficient_funds"},
		{token: SandboxTokenError, reason: ReasonGatewayError},
		{token: SandboxTokenTimeout, reason: ReasonGatewayTimeout},
	}
	for _, tc := range cases {
		t.Run(tc.token, func(t *testing.T) {
			f := newFixture(t, 20*time.Millisecond)
			intent := f.intent(t, 42, 1000)

			failed, err := f.svc.Authorize(context.Background(), buyer(42), intent.ID, AuthorizeInput{PaymentToken: tc.token})
			require.NoError(t, err)
			assert.Equal(t, enums.PaymentStatusFailed, failed.Status)
			require.NotNil(t, failed.FailureReason)
			assert.Equal(t, tc.reason, *failed.FailureReason)
			require.NotNil(t, failed.FailedAt)
		})
	}
}

func TestThreeDSChallengeFromAuthorize(t *testing.T) {
	f := newFixture(t, time.Second)
	ctx := context.Background()
	intent := f.intent(t, 42, 5000)

	pending, err := f.svc.Authorize(ctx, buyer(42), intent.ID, AuthorizeInput{PaymentToken: SandboxToken3DS})
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusRequires3DS, pending.Status)
	assert.True(t, pending.Requires3DS)
	require.NotNil(t, pending.RedirectURL)
	assert.Contains(t, *pending.RedirectURL, "https://shop.test/3ds/return?reference=sbx_")
	require.NotNil(t, pending.ThreeDSStartedAt)

	authorized, err := f.svc.Complete3DSecure(ctx, *pending.ExternalReference, map[string]any{"result": "success"})
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusAuthorized, authorized.Status)

	_, err = f.svc.Complete3DSecure(ctx, *pending.ExternalReference, nil)
	requireCode(t, err, pkgerrors.CodeConflict)
}

func TestInitialize3DSThenFailedChallenge(t *testing.T) {
	f := newFixture(t, time.Second)
	ctx := context.Background()
	intent := f.intent(t, 42, 5000)

	start, err := f.svc.Initialize3DS(ctx, buyer(42), intent.ID, "tok_card")
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusRequires3DS, start.Intent.Status)
	assert.NotEmpty(t, start.Reference)
	assert.NotEmpty(t, start.RedirectURL)

	failed, err := f.svc.Confirm3DS(ctx, buyer(42), intent.ID, map[string]any{"result": "failed"})
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusFailed, failed.Status)
	assert.Equal(t, "three_ds_failed", *failed.FailureReason)
}

func TestRefundSequenceNeverExceedsAmount(t *testing.T) {
	f := newFixture(t, time.Second)
	ctx := context.Background()
	intent := f.intent(t, 42, 10000)
	_, err := f.svc.Authorize(ctx, buyer(42), intent.ID, AuthorizeInput{PaymentToken: SandboxTokenApprove})
	require.NoError(t, err)
	_, err = f.svc.Capture(ctx, admin, intent.ID)
	require.NoError(t, err)

	partial, err := f.svc.Refund(ctx, admin, intent.ID, RefundInput{AmountCents: 3000, Reason: "damaged"})
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusPartiallyRefunded, partial.Status)
	assert.Equal(t, int64(3000), partial.RefundedAmountCents)
	assert.Equal(t, enums.OrderStatusPaid, f.reloadOrder(t, intent.OrderID).Status)

	_, err = f.svc.Refund(ctx, admin, intent.ID, RefundInput{AmountCents: 7001})
	requireCode(t, err, pkgerrors.CodeConflict)

	partial, err = f.svc.Refund(ctx, admin, intent.ID, RefundInput{AmountCents: 2000})
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusPartiallyRefunded, partial.Status)
	assert.Equal(t, int64(5000), partial.RefundedAmountCents)

	full, err := f.svc.Refund(ctx, admin, intent.ID, RefundInput{})
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusRefunded, full.Status)
	assert.Equal(t, full.AmountCents, full.RefundedAmountCents)

	_, err = f.svc.Refund(ctx, admin, intent.ID, RefundInput{AmountCents: 1})
	requireCode(t, err, pkgerrors.CodeConflict)

	order := f.reloadOrder(t, intent.OrderID)
	assert.Equal(t, enums.OrderStatusRefunded, order.Status)
	assert.Equal(t, []enums.SellerOrderStatus{enums.SellerOrderStatusRefunded, enums.SellerOrderStatusRefunded}, f.sellerStatuses(t, order.ID))
}

func TestCaptureGatewayFailureKeepsAuthorization(t *testing.T) {
	f := newFixture(t, time.Second)
	ctx := context.Background()
	intent := f.intent(t, 42, 1000)
	_, err := f.svc.Authorize(ctx, buyer(42), intent.ID, AuthorizeInput{PaymentToken: SandboxTokenApprove})
	require.NoError(t, err)

	f.gateway.FailNext("capture", errors.New("processor unavailable"))
	_, err = f.svc.Capture(ctx, admin, intent.ID)
	requireCode(t, err, pkgerrors.CodeGateway)
	details, ok := pkgerrors.As(err).Details().(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, details["retryable"])

	reloaded, err := f.svc.Get(ctx, admin, intent.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusAuthorized, reloaded.Status)
	assert.Equal(t, enums.OrderStatusPending, f.reloadOrder(t, intent.OrderID).Status)

	_, err = f.svc.Capture(ctx, admin, intent.ID)
	require.NoError(t, err)
}

func TestCancelAuthorizedIntent(t *testing.T) {
	f := newFixture(t, time.Second)
	ctx := context.Background()
	intent := f.intent(t, 42, 1000)
	_, err := f.svc.Authorize(ctx, buyer(42), intent.ID, AuthorizeInput{PaymentToken: SandboxTokenApprove})
	require.NoError(t, err)

	cancelled, err := f.svc.Cancel(ctx, buyer(42), intent.ID, "changed my mind")
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusCancelled, cancelled.Status)
	require.NotNil(t, cancelled.CancelledAt)

	_, err = f.svc.Capture(ctx, admin, intent.ID)
	requireCode(t, err, pkgerrors.CodeConflict)
}

func TestApplyExternalClassifiesUpdates(t *testing.T) {
	f := newFixture(t, time.Second)
	ctx := context.Background()
	intent := f.intent(t, 42, 1000)
	authorized, err := f.svc.Authorize(ctx, buyer(42), intent.ID, AuthorizeInput{PaymentToken: SandboxTokenApprove})
	require.NoError(t, err)
	ref := *authorized.ExternalReference

	apply := func(update ExternalUpdate) *ExternalResult {
		var res *ExternalResult
		require.NoError(t, f.client.WithTx(ctx, func(tx *gorm.DB) error {
			var err error
			res, err = f.svc.ApplyExternal(ctx, tx, update)
			return err
		}))
		return res
	}

	capture := ExternalUpdate{Provider: enums.PaymentProviderSandbox, Reference: ref, Action: ActionCapture, Payload: map[string]any{"id": "evt_1"}}
	res := apply(capture)
	assert.Equal(t, enums.WebhookOutcomeApplied, res.Outcome)
	assert.Equal(t, enums.PaymentStatusCaptured, res.Intent.Status)

	res = apply(capture)
	assert.Equal(t, enums.WebhookOutcomeIgnored, res.Outcome)
	res = apply(ExternalUpdate{Provider: enums.PaymentProviderSandbox, Reference: ref, Action: ActionAuthorize})
	assert.Equal(t, enums.WebhookOutcomeIgnored, res.Outcome)

	res = apply(ExternalUpdate{Provider: enums.PaymentProviderSandbox, Reference: ref, Action: ActionFail})
	assert.Equal(t, enums.WebhookOutcomeRejected, res.Outcome)
	assert.Contains(t, res.Detail, "captured -> failed")

	res = apply(ExternalUpdate{Provider: enums.PaymentProviderSquare, Reference: ref, Action: ActionRefund})
	assert.Equal(t, enums.WebhookOutcomeRejected, res.Outcome)

	res = apply(ExternalUpdate{Provider: enums.PaymentProviderSandbox, Reference: "sbx_missing", Action: ActionCapture})
	assert.Equal(t, enums.WebhookOutcomeRejected, res.Outcome)
	assert.Nil(t, res.Intent)

	events, err := f.repo.ListEvents(ctx, intent.ID)
	require.NoError(t, err)
	assert.Len(t, events, 3)
	assert.Equal(t, enums.PaymentEventSourceWebhook, events[2].Source)
	assert.Equal(t, enums.OrderStatusPaid, f.reloadOrder(t, intent.OrderID).Status)
}

func TestRefundCallbackForRecordedRefundIsIgnored(t *testing.T) {
	f := newFixture(t, time.Second)
	ctx := context.Background()
	intent := f.intent(t, 42, 10000)
	authorized, err := f.svc.Authorize(ctx, buyer(42), intent.ID, AuthorizeInput{PaymentToken: SandboxTokenApprove})
	require.NoError(t, err)
	_, err = f.svc.Capture(ctx, admin, intent.ID)
	require.NoError(t, err)

	refunded, err := f.svc.Refund(ctx, admin, intent.ID, RefundInput{AmountCents: 3000, Reason: "damaged"})
	require.NoError(t, err)
	assert.Equal(t, int64(3000), refunded.RefundedAmountCents)

	events, err := f.repo.ListEvents(ctx, intent.ID)
	require.NoError(t, err)
	last := events[len(events)-1]
	require.NotNil(t, last.GatewayRefundID)

	apply := func(update ExternalUpdate) *ExternalResult {
		var res *ExternalResult
		require.NoError(t, f.client.WithTx(ctx, func(tx *gorm.DB) error {
			var err error
			res, err = f.svc.ApplyExternal(ctx, tx, update)
			return err
		}))
		return res
	}

	res := apply(ExternalUpdate{
		Provider:    enums.PaymentProviderSandbox,
		Reference:   *authorized.ExternalReference,
		Action:      ActionRefund,
		AmountCents: 3000,
		RefundID:    *last.GatewayRefundID,
	})
	assert.Equal(t, enums.WebhookOutcomeIgnored, res.Outcome)

	reloaded, err := f.repo.FindByID(ctx, intent.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusPartiallyRefunded, reloaded.Status)
	assert.Equal(t, int64(3000), reloaded.RefundedAmountCents)

	// A refund issued from the provider dashboard carries its own id.
	res = apply(ExternalUpdate{
		Provider:    enums.PaymentProviderSandbox,
		Reference:   *authorized.ExternalReference,
		Action:      ActionRefund,
		AmountCents: 2000,
		RefundID:    "sbx_rf_dashboard",
	})
	assert.Equal(t, enums.WebhookOutcomeApplied, res.Outcome)
	assert.Equal(t, int64(5000), res.Intent.RefundedAmountCents)

	res = apply(ExternalUpdate{
		Provider:    enums.PaymentProviderSandbox,
		Reference:   *authorized.ExternalReference,
		Action:      ActionRefund,
		AmountCents: 2000,
		RefundID:    "sbx_rf_dashboard",
	})
	assert.Equal(t, enums.WebhookOutcomeIgnored, res.Outcome)
}

func TestApplyExternalRejectsWhenOrderEffectsConflict(t *testing.T) {
	f := newFixture(t, time.Second)
	ctx := context.Background()
	intent := f.intent(t, 42, 1000)
	authorized, err := f.svc.Authorize(ctx, buyer(42), intent.ID, AuthorizeInput{PaymentToken: SandboxTokenApprove})
	require.NoError(t, err)
	require.NoError(t, f.client.DB().Model(&models.Order{}).Where("id = ?", intent.OrderID).Update("status", enums.OrderStatusCancelled).Error)

	var res *ExternalResult
	require.NoError(t, f.client.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		res, err = f.svc.ApplyExternal(ctx, tx, ExternalUpdate{Provider: enums.PaymentProviderSandbox, Reference: *authorized.ExternalReference, Action: ActionCapture})
		return err
	}))
	assert.Equal(t, enums.WebhookOutcomeRejected, res.Outcome)

	reloaded, err := f.repo.FindByID(ctx, intent.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusAuthorized, reloaded.Status)
}

func TestCancelForOrder(t *testing.T) {
	f := newFixture(t, time.Second)
	ctx := context.Background()

	created := f.intent(t, 42, 1000)
	authorizedIntent := f.intent(t, 42, 2000)
	_, err := f.svc.Authorize(ctx, buyer(42), authorizedIntent.ID, AuthorizeInput{PaymentToken: SandboxTokenApprove})
	require.NoError(t, err)

	var release func(context.Context)
	require.NoError(t, f.client.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		release, err = f.svc.CancelForOrder(ctx, tx, created.OrderID, buyer(42))
		return err
	}))
	assert.Nil(t, release)
	reloaded, err := f.repo.FindByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusFailed, reloaded.Status)
	assert.Equal(t, ReasonOrderCancelled, *reloaded.FailureReason)

	require.NoError(t, f.client.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		release, err = f.svc.CancelForOrder(ctx, tx, authorizedIntent.OrderID, buyer(42))
		return err
	}))
	require.NotNil(t, release)
	release(ctx)
	reloaded, err = f.repo.FindByID(ctx, authorizedIntent.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusCancelled, reloaded.Status)

	order := f.order(t, 42, 500)
	require.NoError(t, f.client.WithTx(ctx, func(tx *gorm.DB) error {
		release, err = f.svc.CancelForOrder(ctx, tx, order.ID, buyer(42))
		return err
	}))
	assert.Nil(t, release)
}

func TestExpireStale(t *testing.T) {
	f := newFixture(t, time.Second)
	ctx := context.Background()
	created := f.intent(t, 42, 1000)
	challenged := f.intent(t, 42, 1000)
	_, err := f.svc.Authorize(ctx, buyer(42), challenged.ID, AuthorizeInput{PaymentToken: SandboxToken3DS})
	require.NoError(t, err)
	fresh := f.intent(t, 42, 1000)
	require.NoError(t, f.client.DB().Model(&models.PaymentIntent{}).Where("id = ?", fresh.ID).Update("updated_at", fixedNow.Add(time.Hour)).Error)

	n, err := f.svc.ExpireStale(ctx, fixedNow.Add(time.Minute), 10)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	reloaded, err := f.repo.FindByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, ReasonGatewayTimeout, *reloaded.FailureReason)
	reloaded, err = f.repo.FindByID(ctx, challenged.ID)
	require.NoError(t, err)
	assert.Equal(t, ReasonThreeDSAbandoned, *reloaded.FailureReason)
	reloaded, err = f.repo.FindByID(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusCreated, reloaded.Status)
}
