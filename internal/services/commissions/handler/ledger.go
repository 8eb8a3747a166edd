package handler

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"partnerhub/internal/database"
	"partnerhub/internal/database/models"
	"partnerhub/internal/events"
	"partnerhub/internal/observability"
)

var errAlreadyCredited = errors.New("commission already credited")

type ComputeResult struct {
	AppointmentID string          `json:"appointment_id"`
	AffiliateID   string          `json:"affiliate_id,omitempty"`
	ConversionID  string          `json:"conversion_id,omitempty"`
	Credited      bool            `json:"credited"`
	Reason        string          `json:"reason"`
	SaleValue     decimal.Decimal `json:"sale_value"`
	Rate          decimal.Decimal `json:"commission_rate"`
	Amount        decimal.Decimal `json:"commission_amount"`
	Status        string          `json:"status,omitempty"`
	HoldUntil     *time.Time      `json:"hold_until,omitempty"`
}

type CommissionCreditedEvent struct {
	ConversionID  string          `json:"conversion_id"`
	AffiliateID   string          `json:"affiliate_id"`
	AppointmentID string          `json:"appointment_id"`
	SaleValue     decimal.Decimal `json:"sale_value"`
	Rate          decimal.Decimal `json:"commission_rate"`
	Amount        decimal.Decimal `json:"commission_amount"`
	HoldUntil     time.Time       `json:"hold_until"`
}

// CalculateCommission is saleValue x rate rounded to cents.
func CalculateCommission(saleValue, rate decimal.Decimal) decimal.Decimal {
	return saleValue.Mul(rate).Round(2)
}

// ComputeCommission credits the sale commission of an appointment that reached the
// success outcome. The affiliate's current rate is snapshotted onto the conversion, so
// later rate changes never alter it. Re-running it for the same appointment returns the
// existing credit instead of crediting twice.
func (c *CommissionHandler) ComputeCommission(ctx context.Context, appointmentID string) (*ComputeResult, error) {
	if appointmentID == "" {
		return nil, status.Errorf(codes.InvalidArgument, "Appointment ID is required")
	}
	settings, err := c.settings.Get(ctx)
	if err != nil {
		return nil, err
	}
	hold := settings.HoldPeriod()
	now := c.now().UTC()

	result := &ComputeResult{AppointmentID: appointmentID}
	var conv models.AffiliateConversion

	err = c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var appointment models.Appointment
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&appointment, "id = ?", appointmentID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return status.Errorf(codes.NotFound, "Appointment %s not found", appointmentID)
			}
			return err
		}

		if appointment.Outcome != settings.SuccessOutcome {
			result.Reason = ReasonNotSale
			return nil
		}

		affiliate, err := appointmentAffiliate(tx, appointment)
		if err != nil {
			return err
		}
		if affiliate == nil {
			result.Reason = ReasonOrganic
			return nil
		}
		result.AffiliateID = affiliate.ID

		err = tx.Where("appointment_id = ? AND conversion_type = ?", appointmentID, models.ConversionSale).Take(&conv).Error
		if err == nil {
			return errAlreadyCredited
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		if !appointment.SaleValue.Valid || !appointment.SaleValue.Decimal.IsPositive() {
			return status.Errorf(codes.FailedPrecondition, "Appointment %s has no sale value", appointmentID)
		}

		saleValue := appointment.SaleValue.Decimal
		rate := affiliate.CommissionRate
		amount := CalculateCommission(saleValue, rate)
		holdStart := appointment.HoldClock().UTC()
		aptID := appointment.ID

		conv = models.AffiliateConversion{
			AffiliateID:      affiliate.ID,
			AppointmentID:    &aptID,
			ConversionType:   models.ConversionSale,
			SaleValue:        decimal.NewNullDecimal(saleValue),
			CommissionRate:   decimal.NewNullDecimal(rate),
			CommissionAmount: decimal.NewNullDecimal(amount),
			CommissionStatus: models.CommissionHeld,
			HoldStartsAt:     &holdStart,
			CreatedAt:        now,
		}
		if err := tx.Create(&conv).Error; err != nil {
			if database.IsUniqueViolation(err) {
				return errAlreadyCredited
			}
			return err
		}

		return tx.Model(&models.Affiliate{}).Where("id = ?", affiliate.ID).
			UpdateColumn("total_commission", gorm.Expr("total_commission + ?", amount)).Error
	})

	if errors.Is(err, errAlreadyCredited) {
		return c.alreadyCredited(ctx, result, hold, now)
	}
	if err != nil {
		c.metrics.ObserveCommission(observability.CommissionFailed)
		return nil, database.StoreError("compute commission", err)
	}
	if result.Reason != "" {
		c.metrics.ObserveCommission(observability.CommissionSkipped)
		return result, nil
	}

	fill(result, conv, hold, now)
	result.Credited = true
	result.Reason = ReasonCredited

	c.metrics.ObserveCommission(observability.CommissionCredited)
	c.logger.InfoContext(ctx, "commission credited",
		"appointment_id", appointmentID,
		"affiliate_id", conv.AffiliateID,
		"amount", result.Amount.StringFixed(2))
	events.Emit(ctx, c.publisher, c.logger, events.CommissionCredited, conv.AffiliateID, CommissionCreditedEvent{
		ConversionID:  conv.ID,
		AffiliateID:   conv.AffiliateID,
		AppointmentID: appointmentID,
		SaleValue:     result.SaleValue,
		Rate:          result.Rate,
		Amount:        result.Amount,
		HoldUntil:     *result.HoldUntil,
	})
	c.invalidate(ctx, conv.AffiliateID)
	return result, nil
}

func (c *CommissionHandler) alreadyCredited(ctx context.Context, result *ComputeResult, hold time.Duration, now time.Time) (*ComputeResult, error) {
	var conv models.AffiliateConversion
	err := c.db.WithContext(ctx).
		Where("appointment_id = ? AND conversion_type = ?", result.AppointmentID, models.ConversionSale).
		Take(&conv).Error
	if err != nil {
		return nil, database.StoreError("load existing commission", err)
	}
	c.metrics.ObserveCommission(observability.CommissionDuplicate)
	fill(result, conv, hold, now)
	result.AffiliateID = conv.AffiliateID
	result.Reason = ReasonAlreadyCredited
	return result, nil
}

func fill(result *ComputeResult, conv models.AffiliateConversion, hold time.Duration, now time.Time) {
	until := HoldUntil(conv, hold)
	result.ConversionID = conv.ID
	result.SaleValue = conv.SaleValue.Decimal
	result.Rate = conv.CommissionRate.Decimal
	result.Amount = conv.CommissionAmount.Decimal
	result.Status = StatusOf(conv, hold, now)
	result.HoldUntil = &until
}

// appointmentAffiliate returns the affiliate credited for the appointment, or nil when
// the booking was organic or its referral code no longer exists.
func appointmentAffiliate(tx *gorm.DB, appointment models.Appointment) (*models.Affiliate, error) {
	query := tx.Clauses(clause.Locking{Strength: "UPDATE"})
	switch {
	case appointment.AffiliateID != nil && *appointment.AffiliateID != "":
		query = query.Where("id = ?", *appointment.AffiliateID)
	case appointment.AffiliateCode != nil && *appointment.AffiliateCode != "":
		query = query.Where("referral_code = ?", strings.ToLower(*appointment.AffiliateCode))
	default:
		return nil, nil
	}

	var affiliate models.Affiliate
	if err := query.Take(&affiliate).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &affiliate, nil
}
