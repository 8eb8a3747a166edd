package handler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"gorm.io/gorm"

	"partnerhub/internal/database/models"
	"partnerhub/internal/events"
	"partnerhub/internal/observability"
	settingshandler "partnerhub/internal/services/settings/handler"
	statshandler "partnerhub/internal/services/stats/handler"
	"partnerhub/internal/testutil"
)

const day = 24 * time.Hour

type recordingInvalidator struct {
	mu  sync.Mutex
	ids []string
}

func (r *recordingInvalidator) InvalidateAffiliate(_ context.Context, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, id)
}

type ledgerFixture struct {
	db          *gorm.DB
	settings    *settingshandler.SettingsHandler
	handler     *CommissionHandler
	publisher   *events.MemoryPublisher
	invalidator *recordingInvalidator
	now         time.Time
}

func newLedgerFixture(t *testing.T) *ledgerFixture {
	t.Helper()
	db := testutil.NewTestDB(t)
	f := &ledgerFixture{
		db:          db,
		settings:    settingshandler.NewSettingsHandler(db, nil, nil),
		publisher:   events.NewMemoryPublisher(),
		invalidator: &recordingInvalidator{},
		now:         time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC),
	}
	f.handler = NewCommissionHandler(db, f.settings, f.publisher, observability.MustNewMetrics(prometheus.NewRegistry()), nil)
	f.handler.SetClock(func() time.Time { return f.now })
	f.handler.SetStatsInvalidator(f.invalidator)
	return f
}

func (f *ledgerFixture) affiliate(t *testing.T, id, code, rate string) {
	t.Helper()
	require.NoError(t, f.db.Create(&models.Affiliate{
		ID:              id,
		Name:            id,
		ReferralCode:    code,
		CommissionRate:  decimal.RequireFromString(rate),
		TotalCommission: decimal.Zero,
		IsApproved:      true,
		IsActive:        true,
	}).Error)
}

func (f *ledgerFixture) reload(t *testing.T, id string) models.Affiliate {
	t.Helper()
	var a models.Affiliate
	require.NoError(t, f.db.First(&a, "id = ?", id).Error)
	return a
}

func (f *ledgerFixture) book(t *testing.T, code string) models.Appointment {
	t.Helper()
	res, err := f.handler.RecordBooking(context.Background(), BookingRequest{
		AffiliateCode: &code,
		CustomerEmail: "client@example.com",
		ScheduledAt:   f.now.Add(day),
	})
	require.NoError(t, err)
	return res.Appointment
}

// heldSale inserts a held sale commission whose hold started at holdStart.
func (f *ledgerFixture) heldSale(t *testing.T, affiliateID string, amount string, holdStart time.Time) models.AffiliateConversion {
	t.Helper()
	c := models.AffiliateConversion{
		AffiliateID:      affiliateID,
		ConversionType:   models.ConversionSale,
		SaleValue:        decimal.NewNullDecimal(decimal.RequireFromString(amount).Mul(decimal.NewFromInt(5))),
		CommissionRate:   decimal.NewNullDecimal(decimal.NewFromFloat(0.2)),
		CommissionAmount: decimal.NewNullDecimal(decimal.RequireFromString(amount)),
		CommissionStatus: models.CommissionHeld,
		HoldStartsAt:     &holdStart,
		CreatedAt:        holdStart,
	}
	require.NoError(t, f.db.Create(&c).Error)
	return c
}

func sale(v int64) *decimal.Decimal {
	d := decimal.NewFromInt(v)
	return &d
}

func TestCommissionScenario(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	f.affiliate(t, "aff_123", "abc", "0.2")

	appointment := f.book(t, "ABC")
	require.NotNil(t, appointment.AffiliateID)
	assert.Equal(t, int64(1), f.reload(t, "aff_123").TotalBookings)

	res, err := f.handler.UpdateOutcome(ctx, appointment.ID, OutcomeUpdate{Outcome: models.OutcomeConverted, SaleValue: sale(1000)})
	require.NoError(t, err)
	require.Empty(t, res.CommissionError)
	require.NotNil(t, res.Commission)
	assert.True(t, res.Commission.Credited)
	assert.True(t, res.Commission.Amount.Equal(decimal.NewFromInt(200)))
	assert.Equal(t, models.CommissionHeld, res.Commission.Status)
	assert.True(t, f.reload(t, "aff_123").TotalCommission.Equal(decimal.NewFromInt(200)))
	closedAt := f.now

	for _, d := range []time.Duration{0, day, 29 * day, 30*day - time.Millisecond} {
		f.now = closedAt.Add(d)
		view, err := f.handler.CommissionForAppointment(ctx, appointment.ID)
		require.NoError(t, err)
		assert.Equal(t, models.CommissionHeld, view.Status, "after %s", d)
	}

	f.now = closedAt.Add(30 * day)
	view, err := f.handler.CommissionForAppointment(ctx, appointment.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CommissionAvailable, view.Status)
	assert.False(t, view.Released)

	f.now = closedAt.Add(31 * day)
	ready, err := f.handler.ReleaseReady(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), ready.ReadyForRelease)
	assert.Equal(t, int64(1), ready.TotalHeld)
	assert.Equal(t, int64(0), ready.TotalAvailable)

	released, err := f.handler.ProcessReleases(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), released.ReleasedCount)
	assert.True(t, released.ReleasedAmount.Equal(decimal.NewFromInt(200)))
	assert.False(t, released.HasMore)

	again, err := f.handler.ProcessReleases(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), again.ReleasedCount)

	ready, err = f.handler.ReleaseReady(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), ready.ReadyForRelease)
	assert.Equal(t, int64(0), ready.TotalHeld)
	assert.Equal(t, int64(1), ready.TotalAvailable)

	assert.Equal(t, 1, f.publisher.Count(events.CommissionCredited))
	assert.Equal(t, 1, f.publisher.Count(events.CommissionsReleased))
	assert.Contains(t, f.invalidator.ids, "aff_123")
}

func TestComputeCommissionIsIdempotent(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	f.affiliate(t, "aff_1", "abc", "0.2")
	appointment := f.book(t, "abc")
	_, err := f.handler.UpdateOutcome(ctx, appointment.ID, OutcomeUpdate{Outcome: models.OutcomeConverted, SaleValue: sale(1000)})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		res, err := f.handler.ComputeCommission(ctx, appointment.ID)
		require.NoError(t, err)
		assert.False(t, res.Credited)
		assert.Equal(t, ReasonAlreadyCredited, res.Reason)
		assert.True(t, res.Amount.Equal(decimal.NewFromInt(200)))
	}

	// Re-entering the success outcome does not credit again either.
	_, err = f.handler.UpdateOutcome(ctx, appointment.ID, OutcomeUpdate{Outcome: models.OutcomeConverted})
	require.NoError(t, err)

	assert.True(t, f.reload(t, "aff_1").TotalCommission.Equal(decimal.NewFromInt(200)))
	var sales int64
	require.NoError(t, f.db.Model(&models.AffiliateConversion{}).Where("conversion_type = ?", models.ConversionSale).Count(&sales).Error)
	assert.Equal(t, int64(1), sales)
	assert.Equal(t, 1, f.publisher.Count(events.CommissionCredited))
}

func TestCommissionAmountSurvivesRateChange(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	f.affiliate(t, "aff_1", "abc", "0.2")
	first := f.book(t, "abc")
	_, err := f.handler.UpdateOutcome(ctx, first.ID, OutcomeUpdate{Outcome: models.OutcomeConverted, SaleValue: sale(1000)})
	require.NoError(t, err)

	require.NoError(t, f.db.Model(&models.Affiliate{}).Where("id = ?", "aff_1").Update("commission_rate", decimal.NewFromFloat(0.5)).Error)

	view, err := f.handler.CommissionForAppointment(ctx, first.ID)
	require.NoError(t, err)
	assert.True(t, view.CommissionAmount.Equal(decimal.NewFromInt(200)))
	assert.True(t, view.CommissionRate.Equal(decimal.NewFromFloat(0.2)))

	second := f.book(t, "abc")
	res, err := f.handler.UpdateOutcome(ctx, second.ID, OutcomeUpdate{Outcome: models.OutcomeConverted, SaleValue: sale(1000)})
	require.NoError(t, err)
	assert.True(t, res.Commission.Amount.Equal(decimal.NewFromInt(500)))

	view, err = f.handler.CommissionForAppointment(ctx, first.ID)
	require.NoError(t, err)
	assert.True(t, view.CommissionAmount.Equal(decimal.NewFromInt(200)))
	assert.True(t, f.reload(t, "aff_1").TotalCommission.Equal(decimal.NewFromInt(700)))
}

func TestCalculateCommissionRounds(t *testing.T) {
	got := CalculateCommission(decimal.RequireFromString("333.33"), decimal.RequireFromString("0.15"))
	assert.Equal(t, "50.00", got.StringFixed(2))
	got = CalculateCommission(decimal.RequireFromString("99.99"), decimal.RequireFromString("0.125"))
	assert.Equal(t, "12.50", got.StringFixed(2))
}

func TestHoldBoundaries(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	f.affiliate(t, "aff_1", "abc", "0.2")
	settings, err := f.settings.Get(ctx)
	require.NoError(t, err)
	hold := settings.HoldPeriod()

	young := f.heldSale(t, "aff_1", "10", f.now.Add(-hold+day))
	old := f.heldSale(t, "aff_1", "20", f.now.Add(-hold-day))

	assert.Equal(t, models.CommissionHeld, StatusOf(young, hold, f.now))
	assert.Equal(t, models.CommissionAvailable, StatusOf(old, hold, f.now))

	ready, err := f.handler.ReleaseReady(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), ready.ReadyForRelease)
	assert.True(t, ready.ReadyAmount.Equal(decimal.NewFromInt(20)))
	assert.Equal(t, int64(2), ready.TotalHeld)

	// Shortening the hold applies on the next read.
	days := 7
	_, err = f.settings.Update(ctx, settingshandler.Patch{CommissionHoldDays: &days})
	require.NoError(t, err)
	ready, err = f.handler.ReleaseReady(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), ready.ReadyForRelease)
	assert.Equal(t, 7, ready.HoldDays)
}

func TestProcessReleasesConvergesInBatches(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	f.affiliate(t, "aff_1", "abc", "0.2")
	f.affiliate(t, "aff_2", "xyz", "0.2")
	f.handler.SetReleaseBatchSize(2)

	for i := 0; i < 5; i++ {
		aff := "aff_1"
		if i%2 == 1 {
			aff = "aff_2"
		}
		f.heldSale(t, aff, "10", f.now.Add(-40*day+time.Duration(i)*time.Minute))
	}
	f.heldSale(t, "aff_1", "99", f.now.Add(-day))

	var counts []int64
	total := decimal.Zero
	for i := 0; i < 5; i++ {
		res, err := f.handler.ProcessReleases(ctx)
		require.NoError(t, err)
		assert.Empty(t, res.Errors)
		counts = append(counts, res.ReleasedCount)
		total = total.Add(res.ReleasedAmount)
		if i < 2 {
			assert.True(t, res.HasMore)
		} else {
			assert.False(t, res.HasMore)
		}
	}
	assert.Equal(t, []int64{2, 2, 1, 0, 0}, counts)
	assert.True(t, total.Equal(decimal.NewFromInt(50)))

	ready, err := f.handler.ReleaseReady(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), ready.TotalHeld, "commissions still in hold are untouched")
	assert.Equal(t, int64(5), ready.TotalAvailable)
}

func TestNonSaleOutcomesNeverCredit(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	f.affiliate(t, "aff_1", "abc", "0.2")
	appointment := f.book(t, "abc")

	for _, outcome := range []string{models.OutcomeFollowUp, models.OutcomeNotInterested, models.OutcomeCancelled, models.OutcomeNoShow} {
		res, err := f.handler.UpdateOutcome(ctx, appointment.ID, OutcomeUpdate{Outcome: outcome, SaleValue: sale(1000)})
		require.NoError(t, err)
		assert.Nil(t, res.Commission)

		computed, err := f.handler.ComputeCommission(ctx, appointment.ID)
		require.NoError(t, err)
		assert.False(t, computed.Credited)
		assert.Equal(t, ReasonNotSale, computed.Reason)
	}
	assert.True(t, f.reload(t, "aff_1").TotalCommission.IsZero())
}

func TestOrganicAppointmentHasNoCommission(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	res, err := f.handler.RecordBooking(ctx, BookingRequest{CustomerEmail: "a@example.com", ScheduledAt: f.now})
	require.NoError(t, err)
	assert.False(t, res.Attributed)

	out, err := f.handler.UpdateOutcome(ctx, res.Appointment.ID, OutcomeUpdate{Outcome: models.OutcomeConverted, SaleValue: sale(500)})
	require.NoError(t, err)
	require.NotNil(t, out.Commission)
	assert.Equal(t, ReasonOrganic, out.Commission.Reason)
}

func TestUpdateOutcomeValidationAndClosedAt(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	f.affiliate(t, "aff_1", "abc", "0.2")
	appointment := f.book(t, "abc")

	_, err := f.handler.UpdateOutcome(ctx, appointment.ID, OutcomeUpdate{Outcome: "ghosted"})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
	_, err = f.handler.UpdateOutcome(ctx, appointment.ID, OutcomeUpdate{Outcome: models.OutcomeConverted})
	assert.Equal(t, codes.InvalidArgument, status.Code(err), "a sale needs a sale value")
	_, err = f.handler.UpdateOutcome(ctx, appointment.ID, OutcomeUpdate{Outcome: models.OutcomePending, SaleValue: sale(-5)})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
	_, err = f.handler.UpdateOutcome(ctx, "apt_missing", OutcomeUpdate{Outcome: models.OutcomePending})
	assert.Equal(t, codes.NotFound, status.Code(err))

	res, err := f.handler.UpdateOutcome(ctx, appointment.ID, OutcomeUpdate{Outcome: models.OutcomeNotInterested})
	require.NoError(t, err)
	require.NotNil(t, res.Appointment.ClosedAt)
	assert.True(t, res.Appointment.ClosedAt.Equal(f.now))

	f.now = f.now.Add(time.Hour)
	res, err = f.handler.UpdateOutcome(ctx, appointment.ID, OutcomeUpdate{Outcome: models.OutcomeFollowUp})
	require.NoError(t, err)
	assert.Nil(t, res.Appointment.ClosedAt)

	f.now = f.now.Add(time.Hour)
	res, err = f.handler.UpdateOutcome(ctx, appointment.ID, OutcomeUpdate{Outcome: models.OutcomeConverted, SaleValue: sale(100)})
	require.NoError(t, err)
	require.NotNil(t, res.Commission)
	require.NotNil(t, res.Commission.HoldUntil)
	assert.True(t, res.Commission.HoldUntil.Equal(f.now.Add(30*day)), "hold counts from the close")
}

func TestComputeCommissionRequiresSaleValue(t *testing.T) {
	f := newLedgerFixture(t)
	f.affiliate(t, "aff_1", "abc", "0.2")
	aff := "aff_1"
	appointment := models.Appointment{AffiliateID: &aff, CustomerEmail: "c@example.com", ScheduledAt: f.now, Outcome: models.OutcomeConverted}
	require.NoError(t, f.db.Create(&appointment).Error)

	_, err := f.handler.ComputeCommission(context.Background(), appointment.ID)
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))

	_, err = f.handler.ComputeCommission(context.Background(), "apt_missing")
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestCommissionFailureIsFlagged(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	f.affiliate(t, "aff_1", "abc", "0.2")
	appointment := f.book(t, "abc")
	require.NoError(t, f.db.Migrator().DropTable(&models.AffiliateConversion{}))

	res, err := f.handler.UpdateOutcome(ctx, appointment.ID, OutcomeUpdate{Outcome: models.OutcomeConverted, SaleValue: sale(1000)})
	require.NoError(t, err)
	assert.NotEmpty(t, res.CommissionError)
	assert.Nil(t, res.Commission)

	var stored models.Appointment
	require.NoError(t, f.db.First(&stored, "id = ?", appointment.ID).Error)
	assert.Equal(t, models.OutcomeConverted, stored.Outcome, "the outcome change stands")
	assert.True(t, f.reload(t, "aff_1").TotalCommission.IsZero())
}

func TestRecordBookingIdempotent(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	f.affiliate(t, "aff_1", "abc", "0.2")
	code := "abc"
	req := BookingRequest{ID: "apt_fixed", AffiliateCode: &code, CustomerEmail: "c@example.com", ScheduledAt: f.now}

	first, err := f.handler.RecordBooking(ctx, req)
	require.NoError(t, err)
	assert.False(t, first.Duplicate)
	assert.True(t, first.Attributed)

	second, err := f.handler.RecordBooking(ctx, req)
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.ConversionID, second.ConversionID)
	assert.Equal(t, int64(1), f.reload(t, "aff_1").TotalBookings)

	_, err = f.handler.RecordBooking(ctx, BookingRequest{CustomerEmail: "nope", ScheduledAt: f.now})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	unknown := "zzz"
	res, err := f.handler.RecordBooking(ctx, BookingRequest{AffiliateCode: &unknown, CustomerEmail: "c@example.com", ScheduledAt: f.now})
	require.NoError(t, err)
	assert.False(t, res.Attributed)
	require.NotNil(t, res.Appointment.AffiliateCode)
	assert.Equal(t, "zzz", *res.Appointment.AffiliateCode)
}

func TestRecordLead(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	f.affiliate(t, "aff_1", "abc", "0.2")
	code, unknown := "ABC", "zzz"
	attributed := models.QuizSession{AffiliateCode: &code, Status: models.SessionInProgress, CreatedAt: f.now}
	organic := models.QuizSession{Status: models.SessionInProgress, CreatedAt: f.now}
	stray := models.QuizSession{AffiliateCode: &unknown, Status: models.SessionInProgress, CreatedAt: f.now}
	require.NoError(t, f.db.Create(&attributed).Error)
	require.NoError(t, f.db.Create(&organic).Error)
	require.NoError(t, f.db.Create(&stray).Error)

	res, err := f.handler.RecordLead(ctx, attributed.ID)
	require.NoError(t, err)
	assert.True(t, res.Counted)
	assert.Equal(t, "aff_1", res.AffiliateID)

	res, err = f.handler.RecordLead(ctx, attributed.ID)
	require.NoError(t, err)
	assert.False(t, res.Counted)
	assert.Equal(t, LeadReasonAlreadyCount, res.Reason)
	assert.Equal(t, int64(1), f.reload(t, "aff_1").TotalLeads)

	res, err = f.handler.RecordLead(ctx, organic.ID)
	require.NoError(t, err)
	assert.Equal(t, LeadReasonOrganic, res.Reason)

	res, err = f.handler.RecordLead(ctx, stray.ID)
	require.NoError(t, err)
	assert.Equal(t, LeadReasonUnknownCode, res.Reason)

	_, err = f.handler.RecordLead(ctx, "qs_missing")
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestRecountAgreesWithRecordLead(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	f.affiliate(t, "aff_1", "abc", "0.2")
	stats := statshandler.NewStatsHandler(f.db, nil, f.settings, time.UTC, nil)
	stats.SetClock(func() time.Time { return f.now })

	code := "abc"
	session := models.QuizSession{AffiliateCode: &code, Status: models.SessionInProgress, CreatedAt: f.now.Add(-time.Hour)}
	require.NoError(t, f.db.Create(&session).Error)

	results, err := stats.Recount(ctx, "aff_1")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.False(t, results[0].Drifted)
	assert.Equal(t, int64(0), f.reload(t, "aff_1").TotalLeads)

	completed := f.now
	require.NoError(t, f.db.Model(&session).Updates(map[string]interface{}{
		"status":       models.SessionCompleted,
		"completed_at": completed,
	}).Error)
	res, err := f.handler.RecordLead(ctx, session.ID)
	require.NoError(t, err)
	require.True(t, res.Counted)
	assert.Equal(t, int64(1), f.reload(t, "aff_1").TotalLeads)

	results, err = stats.Recount(ctx, "aff_1")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.False(t, results[0].Drifted)
	assert.Equal(t, int64(1), results[0].After.Leads)
	assert.Equal(t, int64(1), f.reload(t, "aff_1").TotalLeads)
}

func TestPayoutSummary(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	f.affiliate(t, "aff_1", "abc", "0.2")
	f.heldSale(t, "aff_1", "30", f.now.Add(-40*day))
	f.heldSale(t, "aff_1", "40", f.now.Add(-45*day))
	f.heldSale(t, "aff_1", "15", f.now.Add(-2*day))

	summary, err := f.handler.PayoutSummary(ctx, "aff_1")
	require.NoError(t, err)
	assert.True(t, summary.ReadyForRelease.Equal(decimal.NewFromInt(70)))
	assert.True(t, summary.Held.Equal(decimal.NewFromInt(15)))
	assert.True(t, summary.Available.IsZero())
	assert.False(t, summary.PayoutEligible)

	_, err = f.handler.ProcessReleases(ctx)
	require.NoError(t, err)
	summary, err = f.handler.PayoutSummary(ctx, "aff_1")
	require.NoError(t, err)
	assert.True(t, summary.Available.Equal(decimal.NewFromInt(70)))
	assert.True(t, summary.Lifetime.Equal(decimal.NewFromInt(85)))
	assert.True(t, summary.PayoutEligible, "70 clears the default minimum of 50")
	assert.Equal(t, time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC), summary.NextPayoutDate)

	views, err := f.handler.ListCommissions(ctx, "aff_1")
	require.NoError(t, err)
	require.Len(t, views, 3)
	assert.Equal(t, models.CommissionHeld, views[0].Status)

	_, err = f.handler.PayoutSummary(ctx, "aff_missing")
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestNextPayoutDate(t *testing.T) {
	wednesday := time.Date(2026, 4, 1, 15, 0, 0, 0, time.UTC)
	monday := time.Date(2026, 4, 6, 8, 0, 0, 0, time.UTC)

	assert.Equal(t, time.Date(2026, 4, 6, 0, 0, 0, 0, time.UTC), NextPayoutDate(models.PayoutWeekly, wednesday))
	assert.Equal(t, time.Date(2026, 4, 13, 0, 0, 0, 0, time.UTC), NextPayoutDate(models.PayoutWeekly, monday))
	assert.Equal(t, time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC), NextPayoutDate(models.PayoutMonthly, wednesday))
	assert.Equal(t, time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC), NextPayoutDate(models.PayoutMonthly, time.Date(2026, 12, 31, 23, 0, 0, 0, time.UTC)))

	biweekly := NextPayoutDate(models.PayoutBiweekly, wednesday)
	_, week := biweekly.ISOWeek()
	assert.Equal(t, time.Monday, biweekly.Weekday())
	assert.Equal(t, 0, week%2)
	assert.True(t, biweekly.After(wednesday))
	assert.True(t, biweekly.Before(wednesday.Add(15*day)))
}
