package handler

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"gorm.io/gorm"

	"partnerhub/internal/database"
	"partnerhub/internal/database/models"
)

type PayoutSummary struct {
	AffiliateID     string          `json:"affiliate_id"`
	Held            decimal.Decimal `json:"held"`
	ReadyForRelease decimal.Decimal `json:"ready_for_release"`
	Available       decimal.Decimal `json:"available"`
	Lifetime        decimal.Decimal `json:"lifetime"`
	MinimumPayout   decimal.Decimal `json:"minimum_payout"`
	PayoutEligible  bool            `json:"payout_eligible"`
	PayoutSchedule  string          `json:"payout_schedule"`
	NextPayoutDate  time.Time       `json:"next_payout_date"`
}

// NextPayoutDate is the next scheduled payout strictly after now's calendar day: the
// following Monday for weekly, the following Monday of an even ISO week for biweekly and
// the first of next month for monthly.
func NextPayoutDate(schedule string, now time.Time) time.Time {
	now = now.UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	switch schedule {
	case models.PayoutWeekly, models.PayoutBiweekly:
		days := (int(time.Monday) - int(today.Weekday()) + 7) % 7
		if days == 0 {
			days = 7
		}
		next := today.AddDate(0, 0, days)
		if schedule == models.PayoutBiweekly {
			if _, week := next.ISOWeek(); week%2 != 0 {
				next = next.AddDate(0, 0, 7)
			}
		}
		return next
	default:
		return time.Date(today.Year(), today.Month()+1, 1, 0, 0, 0, 0, time.UTC)
	}
}

func (c *CommissionHandler) loadSales(ctx context.Context, affiliateID string) ([]models.AffiliateConversion, error) {
	var affiliate models.Affiliate
	if err := c.db.WithContext(ctx).Select("id").First(&affiliate, "id = ?", affiliateID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, status.Errorf(codes.NotFound, "Affiliate %s not found", affiliateID)
		}
		return nil, database.StoreError("get affiliate", err)
	}

	var sales []models.AffiliateConversion
	err := c.db.WithContext(ctx).
		Where("affiliate_id = ? AND conversion_type = ?", affiliateID, models.ConversionSale).
		Order("created_at desc").Order("id asc").
		Find(&sales).Error
	if err != nil {
		return nil, database.StoreError("list commissions", err)
	}
	return sales, nil
}

// PayoutSummary splits the affiliate's commissions by payout state. Ready commissions
// have served their hold but have not been released yet.
func (c *CommissionHandler) PayoutSummary(ctx context.Context, affiliateID string) (*PayoutSummary, error) {
	if affiliateID == "" {
		return nil, status.Errorf(codes.InvalidArgument, "Affiliate ID is required")
	}
	settings, err := c.settings.Get(ctx)
	if err != nil {
		return nil, err
	}
	sales, err := c.loadSales(ctx, affiliateID)
	if err != nil {
		return nil, err
	}
	now := c.now().UTC()
	hold := settings.HoldPeriod()

	summary := &PayoutSummary{
		AffiliateID:     affiliateID,
		Held:            decimal.Zero,
		ReadyForRelease: decimal.Zero,
		Available:       decimal.Zero,
		Lifetime:        decimal.Zero,
		MinimumPayout:   settings.MinimumPayout,
		PayoutSchedule:  settings.PayoutSchedule,
		NextPayoutDate:  NextPayoutDate(settings.PayoutSchedule, now),
	}
	for _, s := range sales {
		amount := s.CommissionAmount.Decimal
		summary.Lifetime = summary.Lifetime.Add(amount)
		switch {
		case s.CommissionStatus == models.CommissionAvailable:
			summary.Available = summary.Available.Add(amount)
		case StatusOf(s, hold, now) == models.CommissionAvailable:
			summary.ReadyForRelease = summary.ReadyForRelease.Add(amount)
		default:
			summary.Held = summary.Held.Add(amount)
		}
	}
	summary.PayoutEligible = summary.Available.IsPositive() && summary.Available.GreaterThanOrEqual(settings.MinimumPayout)
	return summary, nil
}

func (c *CommissionHandler) ListCommissions(ctx context.Context, affiliateID string) ([]CommissionView, error) {
	if affiliateID == "" {
		return nil, status.Errorf(codes.InvalidArgument, "Affiliate ID is required")
	}
	settings, err := c.settings.Get(ctx)
	if err != nil {
		return nil, err
	}
	sales, err := c.loadSales(ctx, affiliateID)
	if err != nil {
		return nil, err
	}
	now := c.now().UTC()
	views := make([]CommissionView, 0, len(sales))
	for _, s := range sales {
		views = append(views, toView(s, settings.HoldPeriod(), now))
	}
	return views, nil
}

// CommissionForAppointment returns the sale commission of an appointment with its status
// evaluated now.
func (c *CommissionHandler) CommissionForAppointment(ctx context.Context, appointmentID string) (*CommissionView, error) {
	settings, err := c.settings.Get(ctx)
	if err != nil {
		return nil, err
	}
	var conv models.AffiliateConversion
	err = c.db.WithContext(ctx).
		Where("appointment_id = ? AND conversion_type = ?", appointmentID, models.ConversionSale).
		Take(&conv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, status.Errorf(codes.NotFound, "No commission recorded for appointment %s", appointmentID)
	}
	if err != nil {
		return nil, database.StoreError("get commission", err)
	}
	view := toView(conv, settings.HoldPeriod(), c.now().UTC())
	return &view, nil
}
