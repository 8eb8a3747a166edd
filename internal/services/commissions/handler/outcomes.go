package handler

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"partnerhub/internal/database"
	"partnerhub/internal/database/models"
)

const (
	LeadReasonCounted      = "counted"
	LeadReasonAlreadyCount = "already counted"
	LeadReasonOrganic      = "organic"
	LeadReasonUnknownCode  = "unknown referral code"
)

type BookingRequest struct {
	ID            string    `json:"id"`
	AffiliateCode *string   `json:"affiliate_code"`
	CustomerEmail string    `json:"customer_email"`
	ScheduledAt   time.Time `json:"scheduled_at"`
}

type BookingResult struct {
	Appointment  models.Appointment `json:"appointment"`
	Attributed   bool               `json:"attributed"`
	ConversionID string             `json:"conversion_id,omitempty"`
	Duplicate    bool               `json:"duplicate"`
}

type LeadResult struct {
	SessionID    string `json:"session_id"`
	AffiliateID  string `json:"affiliate_id,omitempty"`
	ConversionID string `json:"conversion_id,omitempty"`
	Counted      bool   `json:"counted"`
	Reason       string `json:"reason"`
}

type OutcomeUpdate struct {
	Outcome   string           `json:"outcome"`
	SaleValue *decimal.Decimal `json:"sale_value"`
}

// OutcomeResult carries the updated appointment. When the commission could not be
// computed the outcome change still stands and CommissionError explains the failure.
type OutcomeResult struct {
	Appointment     models.Appointment `json:"appointment"`
	Commission      *ComputeResult     `json:"commission,omitempty"`
	CommissionError string             `json:"commission_error,omitempty"`
}

func normalizeCode(code *string) *string {
	if code == nil {
		return nil
	}
	v := strings.ToLower(strings.TrimSpace(*code))
	if v == "" {
		return nil
	}
	return &v
}

// RecordBooking stores a booked call and credits the booking to the referring affiliate.
// Replaying a booking with the same ID returns the stored appointment unchanged.
func (c *CommissionHandler) RecordBooking(ctx context.Context, req BookingRequest) (*BookingResult, error) {
	email := strings.ToLower(strings.TrimSpace(req.CustomerEmail))
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "Customer email %q is invalid", req.CustomerEmail)
	}
	if req.ScheduledAt.IsZero() {
		return nil, status.Errorf(codes.InvalidArgument, "Scheduled time is required")
	}

	if req.ID != "" {
		existing, err := c.existingBooking(ctx, req.ID)
		if err != nil || existing != nil {
			return existing, err
		}
	}

	code := normalizeCode(req.AffiliateCode)
	result := &BookingResult{}
	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var affiliate *models.Affiliate
		if code != nil {
			var a models.Affiliate
			err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("referral_code = ?", *code).Take(&a).Error
			switch {
			case err == nil:
				affiliate = &a
			case !errors.Is(err, gorm.ErrRecordNotFound):
				return err
			}
		}

		appointment := models.Appointment{
			ID:            req.ID,
			AffiliateCode: code,
			CustomerEmail: email,
			ScheduledAt:   req.ScheduledAt.UTC(),
			Outcome:       models.OutcomePending,
		}
		if affiliate != nil {
			appointment.AffiliateID = &affiliate.ID
		}
		if err := tx.Create(&appointment).Error; err != nil {
			return err
		}
		result.Appointment = appointment

		if affiliate == nil {
			return nil
		}
		conv := models.AffiliateConversion{
			AffiliateID:    affiliate.ID,
			AppointmentID:  &appointment.ID,
			ConversionType: models.ConversionBooking,
			CreatedAt:      c.now().UTC(),
		}
		if err := tx.Create(&conv).Error; err != nil {
			return err
		}
		result.Attributed = true
		result.ConversionID = conv.ID
		return tx.Model(&models.Affiliate{}).Where("id = ?", affiliate.ID).
			UpdateColumn("total_bookings", gorm.Expr("total_bookings + ?", 1)).Error
	})
	if err != nil {
		if req.ID != "" && database.IsUniqueViolation(err) {
			return c.existingBooking(ctx, req.ID)
		}
		return nil, database.StoreError("record booking", err)
	}

	if result.Attributed {
		c.invalidate(ctx, *result.Appointment.AffiliateID)
	}
	c.logger.InfoContext(ctx, "booking recorded",
		"appointment_id", result.Appointment.ID,
		"attributed", result.Attributed)
	return result, nil
}

func (c *CommissionHandler) existingBooking(ctx context.Context, id string) (*BookingResult, error) {
	var appointment models.Appointment
	err := c.db.WithContext(ctx).First(&appointment, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, database.StoreError("load appointment", err)
	}

	result := &BookingResult{Appointment: appointment, Duplicate: true}
	var conv models.AffiliateConversion
	err = c.db.WithContext(ctx).Where("appointment_id = ? AND conversion_type = ?", id, models.ConversionBooking).Take(&conv).Error
	if err == nil {
		result.Attributed = true
		result.ConversionID = conv.ID
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, database.StoreError("load booking conversion", err)
	}
	return result, nil
}

// RecordLead credits a quiz session to its referring affiliate once. The funnel may call
// it whenever the session is touched; only the first call increments totalLeads.
func (c *CommissionHandler) RecordLead(ctx context.Context, sessionID string) (*LeadResult, error) {
	if sessionID == "" {
		return nil, status.Errorf(codes.InvalidArgument, "Quiz session ID is required")
	}

	result := &LeadResult{SessionID: sessionID}
	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var session models.QuizSession
		if err := tx.First(&session, "id = ?", sessionID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return status.Errorf(codes.NotFound, "Quiz session %s not found", sessionID)
			}
			return err
		}
		code := normalizeCode(session.AffiliateCode)
		if code == nil {
			result.Reason = LeadReasonOrganic
			return nil
		}

		var affiliate models.Affiliate
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("referral_code = ?", *code).Take(&affiliate).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			result.Reason = LeadReasonUnknownCode
			return nil
		}
		if err != nil {
			return err
		}
		result.AffiliateID = affiliate.ID

		var existing models.AffiliateConversion
		err = tx.Where("quiz_session_id = ? AND conversion_type = ?", sessionID, models.ConversionLead).Take(&existing).Error
		if err == nil {
			result.ConversionID = existing.ID
			result.Reason = LeadReasonAlreadyCount
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		conv := models.AffiliateConversion{
			AffiliateID:    affiliate.ID,
			QuizSessionID:  &session.ID,
			ConversionType: models.ConversionLead,
			CreatedAt:      c.now().UTC(),
		}
		if err := tx.Create(&conv).Error; err != nil {
			return err
		}
		result.ConversionID = conv.ID
		result.Counted = true
		result.Reason = LeadReasonCounted
		return tx.Model(&models.Affiliate{}).Where("id = ?", affiliate.ID).
			UpdateColumn("total_leads", gorm.Expr("total_leads + ?", 1)).Error
	})
	if err != nil {
		if database.IsUniqueViolation(err) {
			return &LeadResult{SessionID: sessionID, AffiliateID: result.AffiliateID, Reason: LeadReasonAlreadyCount}, nil
		}
		return nil, database.StoreError("record lead", err)
	}

	if result.Counted {
		c.invalidate(ctx, result.AffiliateID)
	}
	return result, nil
}

// UpdateOutcome applies a closer's outcome to an appointment. Entering a terminal
// outcome stamps ClosedAt, which starts the commission hold clock; leaving one clears it.
// Reaching the success outcome computes the commission after the outcome is committed.
func (c *CommissionHandler) UpdateOutcome(ctx context.Context, appointmentID string, update OutcomeUpdate) (*OutcomeResult, error) {
	if appointmentID == "" {
		return nil, status.Errorf(codes.InvalidArgument, "Appointment ID is required")
	}
	outcome := strings.ToLower(strings.TrimSpace(update.Outcome))
	if !models.IsKnownOutcome(outcome) {
		return nil, status.Errorf(codes.InvalidArgument, "Unknown outcome %q", update.Outcome)
	}
	if update.SaleValue != nil && update.SaleValue.IsNegative() {
		return nil, status.Errorf(codes.InvalidArgument, "Sale value must not be negative")
	}

	settings, err := c.settings.Get(ctx)
	if err != nil {
		return nil, err
	}
	now := c.now().UTC()

	var appointment models.Appointment
	err = c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&appointment, "id = ?", appointmentID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return status.Errorf(codes.NotFound, "Appointment %s not found", appointmentID)
			}
			return err
		}

		saleValue := appointment.SaleValue
		if update.SaleValue != nil {
			saleValue = decimal.NewNullDecimal(*update.SaleValue)
		}
		if outcome == settings.SuccessOutcome && (!saleValue.Valid || !saleValue.Decimal.IsPositive()) {
			return status.Errorf(codes.InvalidArgument, "A sale value greater than zero is required for outcome %q", outcome)
		}

		closedAt := appointment.ClosedAt
		switch {
		case !settings.IsTerminal(outcome):
			closedAt = nil
		case closedAt == nil || appointment.Outcome != outcome:
			closedAt = &now
		}

		updates := map[string]interface{}{
			"outcome":    outcome,
			"sale_value": saleValue,
			"closed_at":  closedAt,
			"updated_at": now,
		}
		if err := tx.Model(&appointment).Updates(updates).Error; err != nil {
			return err
		}
		appointment.Outcome = outcome
		appointment.SaleValue = saleValue
		appointment.ClosedAt = closedAt
		appointment.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, database.StoreError("update outcome", err)
	}

	c.logger.InfoContext(ctx, "appointment outcome updated", "appointment_id", appointmentID, "outcome", outcome)
	result := &OutcomeResult{Appointment: appointment}
	if outcome != settings.SuccessOutcome {
		return result, nil
	}

	commission, err := c.ComputeCommission(ctx, appointmentID)
	if err != nil {
		result.CommissionError = err.Error()
		c.logger.ErrorContext(ctx, "commission computation failed, payout needs review",
			"appointment_id", appointmentID, "error", err)
		return result, nil
	}
	result.Commission = commission
	return result, nil
}
