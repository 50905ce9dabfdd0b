package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"estancias/internal/app/availability"
	"estancias/internal/app/charge"
	"estancias/internal/app/ledger"
	"estancias/internal/app/policies"
	"estancias/internal/app/schedule"
	"estancias/internal/domain/booking"
	"estancias/internal/domain/payment"
	"estancias/internal/domain/property"
	"estancias/internal/domain/shared/daterange"
	"estancias/internal/domain/shared/money"
	"estancias/internal/infra/storage/memory"
)

var testNow = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

type fakeGateway struct {
	policies.Gateway

	mu              sync.Mutex
	session         policies.CheckoutSession
	sessionCalls    int
	lastSession     policies.CheckoutSessionParams
	refund          policies.RefundResult
	refundErr       error
	refundCalls     int
	lastRefund      policies.RefundParams
	expiredSessions []string
}

func (g *fakeGateway) CreateCheckoutSession(ctx context.Context, params policies.CheckoutSessionParams) (policies.CheckoutSession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sessionCalls++
	g.lastSession = params
	return g.session, nil
}

func (g *fakeGateway) CreateRefund(ctx context.Context, params policies.RefundParams) (policies.RefundResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.refundCalls++
	g.lastRefund = params
	if g.refundErr != nil {
		return policies.RefundResult{}, g.refundErr
	}
	return g.refund, nil
}

func (g *fakeGateway) ExpireSession(ctx context.Context, sessionID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.expiredSessions = append(g.expiredSessions, sessionID)
	return nil
}

type fakeScheduler struct {
	mu       sync.Mutex
	tasks    []string
	payloads []any
	revoked  []string
	seq      int
}

func (s *fakeScheduler) Enqueue(ctx context.Context, task string, payload any, eta time.Time) (schedule.Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	s.tasks = append(s.tasks, task)
	s.payloads = append(s.payloads, payload)
	return schedule.Handle{ID: fmt.Sprintf("task-%d", s.seq), ETA: eta}, nil
}

func (s *fakeScheduler) Revoke(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revoked = append(s.revoked, id)
	return nil
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []policies.Notification
}

func (n *fakeNotifier) Send(ctx context.Context, note policies.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, note)
	return nil
}

type fixture struct {
	store *memory.Store
	svc   *Service
	gw    *fakeGateway
	sched *fakeScheduler
	notif *fakeNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewStore()
	gw := &fakeGateway{session: policies.CheckoutSession{
		ID: "cs_1", URL: "https://pay.example.com/cs_1", IntentID: "pi_cs1",
		ExpiresAt: testNow.Add(24 * time.Hour),
	}}
	sched := &fakeScheduler{}
	notif := &fakeNotifier{}
	factory := memory.Factory{Store: store}
	led := ledger.New(nil).WithClock(func() time.Time { return testNow })
	oracle := availability.NewOracle(store.Bookings, nil, nil).
		WithClock(func() time.Time { return testNow })
	seq := 0
	svc := NewService(ServiceParams{
		UnitOfWork: factory,
		Oracle:     oracle,
		Ledger:     led,
		Gateway:    gw,
		Scheduler:  sched,
		Notifier:   notif,
		URLs:       charge.URLs{Success: "https://example.com/ok", Cancel: "https://example.com/ko"},
	}).WithClock(func() time.Time { return testNow }).
		WithIDGenerator(func() string {
			seq++
			return fmt.Sprintf("id-%03d", seq)
		})
	return &fixture{store: store, svc: svc, gw: gw, sched: sched, notif: notif}
}

func (f *fixture) seedProperty(t *testing.T) *property.Property {
	t.Helper()
	p, err := property.New(property.CreateParams{
		ID:          "prop-1",
		Name:        "Casa Azul",
		Capacity:    4,
		NightlyRate: money.MXN(100_000),
		CleaningFee: money.MXN(35_000),
	})
	require.NoError(t, err)
	require.NoError(t, f.store.Properties.Save(context.Background(), p))
	return p
}

func (f *fixture) seedStay(t *testing.T, id string, arrival time.Time, status booking.Status, paidDeposit int64) *booking.Booking {
	t.Helper()
	stay, err := daterange.NewStay(arrival, arrival.AddDate(0, 0, 3), time.UTC)
	require.NoError(t, err)
	b, err := booking.NewBooking(booking.CreateParams{
		ID:         booking.BookingID(id),
		PropertyID: "prop-1",
		GuestID:    "guest-1",
		GuestEmail: "guest@example.com",
		Range:      stay,
		PartySize:  2,
		Total:      money.MXN(100_000),
		Deposit:    money.MXN(30_000),
		CreatedAt:  testNow.Add(-time.Hour),
	})
	require.NoError(t, err)
	if status == booking.StatusConfirmed {
		require.NoError(t, b.Confirm("cus_1", "pm_1", testNow.Add(-time.Hour)))
	}
	require.NoError(t, f.store.Bookings.Save(context.Background(), b))
	if paidDeposit > 0 {
		p := payment.New(payment.CreateParams{
			ID:        payment.PaymentID("dep-" + id),
			BookingID: id,
			Type:      payment.TypeDeposit,
			Amount:    money.MXN(paidDeposit),
			CreatedAt: testNow.Add(-time.Hour),
		})
		p.MarkPaid("pi_dep_"+id, testNow.Add(-time.Hour))
		require.NoError(t, f.store.Payments.Save(context.Background(), p))
	}
	return b
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestCreateBooking(t *testing.T) {
	f := newFixture(t)
	f.seedProperty(t)

	b, err := f.svc.CreateBooking(context.Background(), CreateBookingParams{
		PropertyID: "prop-1",
		GuestID:    "guest-1",
		GuestEmail: "guest@example.com",
		CheckIn:    day(2026, 3, 10),
		CheckOut:   day(2026, 3, 13),
		PartySize:  2,
	})
	require.NoError(t, err)
	assert.Equal(t, booking.StatusPending, b.Status)
	assert.Equal(t, int64(388_600), b.TotalAmount.Cents)
	assert.Equal(t, int64(116_580), b.DepositAmount.Cents)
	assert.Equal(t, int64(272_020), b.BalanceDue.Cents)
	assert.Equal(t, testNow.Add(booking.HoldDuration), b.HoldExpiresAt)

	// The hold blocks a second overlapping create.
	_, err = f.svc.CreateBooking(context.Background(), CreateBookingParams{
		PropertyID: "prop-1",
		GuestID:    "guest-2",
		CheckIn:    day(2026, 3, 12),
		CheckOut:   day(2026, 3, 15),
		PartySize:  2,
	})
	assert.ErrorIs(t, err, ErrNotAvailable)

	events, err := f.store.Events.Fetch(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "booking.requested", events[0].Name)
}

func TestCreateBookingRejectsInvalidWindow(t *testing.T) {
	f := newFixture(t)
	f.seedProperty(t)

	_, err := f.svc.CreateBooking(context.Background(), CreateBookingParams{
		PropertyID: "prop-1",
		GuestID:    "guest-1",
		CheckIn:    day(2026, 3, 10),
		CheckOut:   day(2026, 3, 11),
		PartySize:  2,
	})
	assert.ErrorIs(t, err, ErrNotAvailable, "single night is below the minimum stay")

	_, err = f.svc.CreateBooking(context.Background(), CreateBookingParams{
		PropertyID: "prop-1",
		GuestID:    "guest-1",
		CheckIn:    day(2026, 3, 10),
		CheckOut:   day(2026, 3, 13),
		PartySize:  9,
	})
	assert.ErrorIs(t, err, ErrNotAvailable, "party exceeds capacity")
}

func TestCreateBookingConcurrentOverlapExactlyOneWins(t *testing.T) {
	f := newFixture(t)
	f.seedProperty(t)

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.svc.CreateBooking(context.Background(), CreateBookingParams{
				PropertyID: "prop-1",
				GuestID:    fmt.Sprintf("guest-%d", i),
				CheckIn:    day(2026, 3, 10),
				CheckOut:   day(2026, 3, 13),
				PartySize:  2,
			})
			results[i] = err
		}(i)
	}
	wg.Wait()

	okCount := 0
	for _, err := range results {
		if err == nil {
			okCount++
		} else {
			assert.ErrorIs(t, err, ErrNotAvailable)
		}
	}
	assert.Equal(t, 1, okCount)
}

func TestStartCheckout(t *testing.T) {
	f := newFixture(t)
	f.seedProperty(t)
	b, err := f.svc.CreateBooking(context.Background(), CreateBookingParams{
		PropertyID: "prop-1",
		GuestID:    "guest-1",
		GuestEmail: "guest@example.com",
		CheckIn:    day(2026, 3, 10),
		CheckOut:   day(2026, 3, 13),
		PartySize:  2,
	})
	require.NoError(t, err)

	info, err := f.svc.StartCheckout(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://pay.example.com/cs_1", info.CheckoutURL)
	assert.Equal(t, 1, f.gw.sessionCalls)
	assert.True(t, f.gw.lastSession.SaveMethod, "deposit checkout stores the payment method")
	assert.Equal(t, int64(116_580), f.gw.lastSession.Amount.Cents)

	p, err := f.store.Payments.ByID(context.Background(), info.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, payment.TypeDeposit, p.Type)
	assert.Equal(t, "cs_1", p.CheckoutSessionID)

	// A repeat attempt reuses the unexpired session and re-arms the hold.
	again, err := f.svc.StartCheckout(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, info.PaymentID, again.PaymentID)
	assert.Equal(t, info.CheckoutURL, again.CheckoutURL)
	assert.Equal(t, 1, f.gw.sessionCalls)
}

func TestStartCheckoutRejectsNonPending(t *testing.T) {
	f := newFixture(t)
	f.seedProperty(t)
	f.seedStay(t, "bk-1", day(2026, 3, 10), booking.StatusConfirmed, 30_000)

	_, err := f.svc.StartCheckout(context.Background(), "bk-1")
	assert.ErrorIs(t, err, booking.ErrNotPayable)
}

func TestCancelFreeWindowRefundsDeposit(t *testing.T) {
	f := newFixture(t)
	f.seedProperty(t)
	f.seedStay(t, "bk-1", day(2026, 3, 11), booking.StatusConfirmed, 30_000)
	f.gw.refund = policies.RefundResult{RefundID: "re_1", Status: payment.RefundPaid}

	res, err := f.svc.Cancel(context.Background(), "bk-1")
	require.NoError(t, err)
	assert.False(t, res.AlreadyCancelled)
	assert.Equal(t, booking.WindowFree, res.Plan.Window)
	assert.Equal(t, 10, res.Plan.DaysBefore)
	require.Len(t, res.Plan.Refunds, 1)
	assert.Equal(t, int64(30_000), res.Plan.Refunds[0].Amount.Cents)
	assert.True(t, res.Plan.Penalty.IsZero())

	b, err := f.store.Bookings.ByID(context.Background(), "bk-1")
	require.NoError(t, err)
	assert.Equal(t, booking.StatusCancelled, b.Status)

	assert.Equal(t, 1, f.gw.refundCalls)
	assert.Equal(t, "pi_dep_bk-1", f.gw.lastRefund.IntentID)
	dep, err := f.store.Payments.ByID(context.Background(), "dep-bk-1")
	require.NoError(t, err)
	assert.Equal(t, int64(30_000), dep.RefundedAmount.Cents)
	assert.Equal(t, payment.RefundPaid, dep.RefundStatus)

	assert.Empty(t, f.sched.tasks, "no penalty in the free window")
	require.Len(t, f.notif.sent, 1)
	assert.Equal(t, policies.TemplateBookingCancelled, f.notif.sent[0].Template)
}

func TestCancelLateWindowQueuesPenalty(t *testing.T) {
	f := newFixture(t)
	f.seedProperty(t)
	f.seedStay(t, "bk-1", day(2026, 3, 4), booking.StatusConfirmed, 30_000)

	res, err := f.svc.Cancel(context.Background(), "bk-1")
	require.NoError(t, err)
	assert.Equal(t, booking.WindowLate, res.Plan.Window)
	assert.Equal(t, payment.TypeCancellationFee, res.Plan.PenaltyType)
	assert.Equal(t, int64(20_000), res.Plan.Penalty.Cents)
	assert.Empty(t, res.Plan.Refunds)

	require.Len(t, f.sched.tasks, 1)
	assert.Equal(t, schedule.TaskChargePenalty, f.sched.tasks[0])
	payload, ok := f.sched.payloads[0].(charge.PenaltyChargePayload)
	require.True(t, ok)
	assert.Equal(t, "bk-1", payload.BookingID)
	assert.Equal(t, string(payment.TypeCancellationFee), payload.Type)
	assert.Equal(t, int64(20_000), payload.AmountCents)
	assert.Zero(t, f.gw.refundCalls)
}

func TestCancelNoShowPenalty(t *testing.T) {
	f := newFixture(t)
	f.seedProperty(t)
	f.seedStay(t, "bk-1", day(2026, 2, 27), booking.StatusConfirmed, 30_000)

	res, err := f.svc.Cancel(context.Background(), "bk-1")
	require.NoError(t, err)
	assert.Equal(t, booking.WindowNoShow, res.Plan.Window)
	assert.Equal(t, payment.TypeNoShow, res.Plan.PenaltyType)
	assert.Equal(t, int64(70_000), res.Plan.Penalty.Cents)
	assert.Empty(t, res.Plan.Refunds)
}

func TestCancelAlreadyCancelledIsNoOp(t *testing.T) {
	f := newFixture(t)
	f.seedProperty(t)
	f.seedStay(t, "bk-1", day(2026, 3, 11), booking.StatusConfirmed, 30_000)
	f.gw.refund = policies.RefundResult{RefundID: "re_1", Status: payment.RefundPaid}

	_, err := f.svc.Cancel(context.Background(), "bk-1")
	require.NoError(t, err)
	res, err := f.svc.Cancel(context.Background(), "bk-1")
	require.NoError(t, err)
	assert.True(t, res.AlreadyCancelled)
	assert.Equal(t, 1, f.gw.refundCalls, "side effects must not run twice")
}

func TestCancelRevokesScheduledBalanceCharge(t *testing.T) {
	f := newFixture(t)
	f.seedProperty(t)
	b := f.seedStay(t, "bk-1", day(2026, 3, 11), booking.StatusConfirmed, 30_000)
	b.SetBalanceChargeTask("task-42", testNow.Add(48*time.Hour), testNow)
	require.NoError(t, f.store.Bookings.Save(context.Background(), b))
	f.gw.refund = policies.RefundResult{RefundID: "re_1", Status: payment.RefundPaid}

	_, err := f.svc.Cancel(context.Background(), "bk-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"task-42"}, f.sched.revoked)
}

func TestExpireDepartures(t *testing.T) {
	f := newFixture(t)
	f.seedProperty(t)
	f.seedStay(t, "bk-old", day(2026, 2, 20), booking.StatusConfirmed, 30_000)
	f.seedStay(t, "bk-future", day(2026, 3, 11), booking.StatusConfirmed, 30_000)

	count, err := f.svc.ExpireDepartures(context.Background(), testNow)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	old, err := f.store.Bookings.ByID(context.Background(), "bk-old")
	require.NoError(t, err)
	assert.Equal(t, booking.StatusExpired, old.Status)
	future, err := f.store.Bookings.ByID(context.Background(), "bk-future")
	require.NoError(t, err)
	assert.Equal(t, booking.StatusConfirmed, future.Status)

	// Idempotent: the second pass finds nothing.
	count, err = f.svc.ExpireDepartures(context.Background(), testNow)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestExpireHolds(t *testing.T) {
	f := newFixture(t)
	f.seedProperty(t)
	f.seedStay(t, "bk-stale", day(2026, 3, 10), booking.StatusPending, 0)

	dep := payment.New(payment.CreateParams{
		ID: "dep-open", BookingID: "bk-stale", Type: payment.TypeDeposit,
		Amount: money.MXN(30_000), CreatedAt: testNow.Add(-time.Hour),
	})
	dep.AttachSession("cs_stale", "pi_stale", "https://pay.example.com/cs_stale", testNow.Add(-30*time.Minute), testNow.Add(-time.Hour))
	require.NoError(t, f.store.Payments.Save(context.Background(), dep))

	count, err := f.svc.ExpireHolds(context.Background(), testNow)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	b, err := f.store.Bookings.ByID(context.Background(), "bk-stale")
	require.NoError(t, err)
	assert.Equal(t, booking.StatusExpired, b.Status)
	p, err := f.store.Payments.ByID(context.Background(), "dep-open")
	require.NoError(t, err)
	assert.Equal(t, payment.StatusExpired, p.Status)
	assert.Equal(t, []string{"cs_stale"}, f.gw.expiredSessions)

	count, err = f.svc.ExpireHolds(context.Background(), testNow)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestExpireHoldsSparesPaidDeposit(t *testing.T) {
	f := newFixture(t)
	f.seedProperty(t)
	// Hold lapsed but the deposit is already paid: the confirmation webhook
	// must win, not the sweep.
	f.seedStay(t, "bk-race", day(2026, 3, 10), booking.StatusPending, 30_000)

	count, err := f.svc.ExpireHolds(context.Background(), testNow)
	require.NoError(t, err)
	assert.Zero(t, count)

	b, err := f.store.Bookings.ByID(context.Background(), "bk-race")
	require.NoError(t, err)
	assert.Equal(t, booking.StatusPending, b.Status)
}

func TestRemake(t *testing.T) {
	f := newFixture(t)
	f.seedProperty(t)
	old := f.seedStay(t, "bk-1", day(2026, 3, 10), booking.StatusConfirmed, 30_000)
	_, err := old.Cancel(testNow)
	require.NoError(t, err)
	require.NoError(t, f.store.Bookings.Save(context.Background(), old))

	fresh, err := f.svc.Remake(context.Background(), "bk-1")
	require.NoError(t, err)
	assert.Equal(t, booking.StatusPending, fresh.Status)
	assert.NotEqual(t, old.ID, fresh.ID)
	assert.Equal(t, old.Range, fresh.Range)
	assert.Equal(t, old.TotalAmount, fresh.TotalAmount)

	stored, err := f.store.Bookings.ByID(context.Background(), fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, booking.StatusPending, stored.Status)
}

func TestQuoteStay(t *testing.T) {
	f := newFixture(t)
	f.seedProperty(t)

	q, err := f.svc.QuoteStay(context.Background(), "prop-1", day(2026, 3, 10), day(2026, 3, 13))
	require.NoError(t, err)
	assert.Equal(t, 3, q.Nights)
	assert.Equal(t, int64(388_600), q.Total.Cents)
}
