package handler

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"partnerhub/internal/database/models"
	"partnerhub/internal/events"
	"partnerhub/internal/observability"
	settingshandler "partnerhub/internal/services/settings/handler"
)

const DefaultReleaseBatchSize = 500

const (
	ReasonCredited        = "credited"
	ReasonAlreadyCredited = "already credited"
	ReasonNotSale         = "outcome is not a sale"
	ReasonOrganic         = "no affiliate attributed"
)

// StatsInvalidator drops cached dashboard reports after ledger writes.
type StatsInvalidator interface {
	InvalidateAffiliate(ctx context.Context, affiliateID string)
}

type CommissionHandler struct {
	db               *gorm.DB
	settings         settingshandler.Provider
	publisher        events.Publisher
	metrics          *observability.Metrics
	stats            StatsInvalidator
	logger           *slog.Logger
	now              func() time.Time
	releaseBatchSize int
}

func NewCommissionHandler(db *gorm.DB, settings settingshandler.Provider, publisher events.Publisher, metrics *observability.Metrics, logger *slog.Logger) *CommissionHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &CommissionHandler{
		db:               db,
		settings:         settings,
		publisher:        publisher,
		metrics:          metrics,
		logger:           logger,
		now:              time.Now,
		releaseBatchSize: DefaultReleaseBatchSize,
	}
}

func (c *CommissionHandler) SetClock(now func() time.Time) {
	c.now = now
}

func (c *CommissionHandler) SetReleaseBatchSize(n int) {
	if n > 0 {
		c.releaseBatchSize = n
	}
}

func (c *CommissionHandler) SetStatsInvalidator(stats StatsInvalidator) {
	c.stats = stats
}

func (c *CommissionHandler) invalidate(ctx context.Context, affiliateIDs ...string) {
	if c.stats == nil {
		return
	}
	for _, id := range affiliateIDs {
		c.stats.InvalidateAffiliate(ctx, id)
	}
}

// StatusOf reports a sale commission as held while now is before its hold start plus
// hold. Commissions already released stay available.
func StatusOf(conv models.AffiliateConversion, hold time.Duration, now time.Time) string {
	if conv.CommissionStatus == models.CommissionAvailable {
		return models.CommissionAvailable
	}
	if now.Before(HoldUntil(conv, hold)) {
		return models.CommissionHeld
	}
	return models.CommissionAvailable
}

func HoldUntil(conv models.AffiliateConversion, hold time.Duration) time.Time {
	start := conv.CreatedAt
	if conv.HoldStartsAt != nil {
		start = *conv.HoldStartsAt
	}
	return start.Add(hold)
}

// CommissionView is a sale commission with its status evaluated at read time.
type CommissionView struct {
	ID               string          `json:"id"`
	AffiliateID      string          `json:"affiliate_id"`
	AppointmentID    string          `json:"appointment_id,omitempty"`
	SaleValue        decimal.Decimal `json:"sale_value"`
	CommissionRate   decimal.Decimal `json:"commission_rate"`
	CommissionAmount decimal.Decimal `json:"commission_amount"`
	Status           string          `json:"status"`
	Released         bool            `json:"released"`
	HoldStartsAt     time.Time       `json:"hold_starts_at"`
	HoldUntil        time.Time       `json:"hold_until"`
	ReleasedAt       *time.Time      `json:"released_at,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
}

func toView(conv models.AffiliateConversion, hold time.Duration, now time.Time) CommissionView {
	v := CommissionView{
		ID:               conv.ID,
		AffiliateID:      conv.AffiliateID,
		SaleValue:        conv.SaleValue.Decimal,
		CommissionRate:   conv.CommissionRate.Decimal,
		CommissionAmount: conv.CommissionAmount.Decimal,
		Status:           StatusOf(conv, hold, now),
		Released:         conv.CommissionStatus == models.CommissionAvailable,
		HoldStartsAt:     conv.CreatedAt,
		HoldUntil:        HoldUntil(conv, hold),
		ReleasedAt:       conv.ReleasedAt,
		CreatedAt:        conv.CreatedAt,
	}
	if conv.AppointmentID != nil {
		v.AppointmentID = *conv.AppointmentID
	}
	if conv.HoldStartsAt != nil {
		v.HoldStartsAt = *conv.HoldStartsAt
	}
	return v
}
