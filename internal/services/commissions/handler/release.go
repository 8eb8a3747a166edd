package handler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"partnerhub/internal/database"
	"partnerhub/internal/database/models"
	"partnerhub/internal/events"
)

type ReleaseStatus struct {
	ReadyForRelease int64           `json:"ready_for_release"`
	ReadyAmount     decimal.Decimal `json:"ready_amount"`
	TotalHeld       int64           `json:"total_held"`
	TotalAvailable  int64           `json:"total_available"`
	HoldDays        int             `json:"hold_days"`
	CheckedAt       time.Time       `json:"checked_at"`
}

type ReleaseResult struct {
	ReleasedCount  int64           `json:"released_count"`
	ReleasedAmount decimal.Decimal `json:"released_amount"`
	HasMore        bool            `json:"has_more"`
	Errors         []string        `json:"errors,omitempty"`
}

type CommissionsReleasedEvent struct {
	ReleasedCount  int64           `json:"released_count"`
	ReleasedAmount decimal.Decimal `json:"released_amount"`
	AffiliateIDs   []string        `json:"affiliate_ids"`
	ReleasedAt     time.Time       `json:"released_at"`
}

type releaseCandidate struct {
	ID               string
	AffiliateID      string
	CommissionAmount decimal.NullDecimal
}

// ReleaseReady counts stored-held commissions whose hold has elapsed, against the hold
// days configured right now. It changes nothing.
func (c *CommissionHandler) ReleaseReady(ctx context.Context) (*ReleaseStatus, error) {
	settings, err := c.settings.Get(ctx)
	if err != nil {
		return nil, err
	}
	now := c.now().UTC()
	cutoff := now.Add(-settings.HoldPeriod())

	st := &ReleaseStatus{HoldDays: settings.CommissionHoldDays, CheckedAt: now, ReadyAmount: decimal.Zero}
	err = c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sales := func() *gorm.DB {
			return tx.Model(&models.AffiliateConversion{}).Where("conversion_type = ?", models.ConversionSale)
		}
		var ready []decimal.NullDecimal
		if err := sales().Where("commission_status = ? AND hold_starts_at <= ?", models.CommissionHeld, cutoff).
			Pluck("commission_amount", &ready).Error; err != nil {
			return err
		}
		st.ReadyForRelease = int64(len(ready))
		for _, a := range ready {
			if a.Valid {
				st.ReadyAmount = st.ReadyAmount.Add(a.Decimal)
			}
		}
		if err := sales().Where("commission_status = ?", models.CommissionHeld).Count(&st.TotalHeld).Error; err != nil {
			return err
		}
		return sales().Where("commission_status = ?", models.CommissionAvailable).Count(&st.TotalAvailable).Error
	}, database.SnapshotTxOptions(c.db))
	if err != nil {
		return nil, database.StoreError("release status", err)
	}
	return st, nil
}

// ProcessReleases moves up to one batch of eligible commissions from held to available.
// Each commission flips in its own conditional update, so a commission is either
// released and counted or left untouched. HasMore reports eligible rows beyond the batch;
// calling again makes progress until nothing is left and then returns zero.
func (c *CommissionHandler) ProcessReleases(ctx context.Context) (*ReleaseResult, error) {
	settings, err := c.settings.Get(ctx)
	if err != nil {
		return nil, err
	}
	now := c.now().UTC()
	cutoff := now.Add(-settings.HoldPeriod())

	var candidates []releaseCandidate
	err = c.db.WithContext(ctx).Model(&models.AffiliateConversion{}).
		Select("id", "affiliate_id", "commission_amount").
		Where("conversion_type = ? AND commission_status = ? AND hold_starts_at <= ?", models.ConversionSale, models.CommissionHeld, cutoff).
		Order("hold_starts_at asc").Order("id asc").
		Limit(c.releaseBatchSize + 1).
		Find(&candidates).Error
	if err != nil {
		return nil, database.StoreError("load releasable commissions", err)
	}

	result := &ReleaseResult{ReleasedAmount: decimal.Zero}
	if len(candidates) > c.releaseBatchSize {
		result.HasMore = true
		candidates = candidates[:c.releaseBatchSize]
	}

	affected := make(map[string]bool)
	var affiliateIDs []string
	for _, cand := range candidates {
		res := c.db.WithContext(ctx).Model(&models.AffiliateConversion{}).
			Where("id = ? AND commission_status = ?", cand.ID, models.CommissionHeld).
			Updates(map[string]interface{}{
				"commission_status": models.CommissionAvailable,
				"released_at":       now,
				"updated_at":        now,
			})
		if res.Error != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("Commission %s: %v", cand.ID, res.Error))
			continue
		}
		if res.RowsAffected != 1 {
			continue
		}
		result.ReleasedCount++
		if cand.CommissionAmount.Valid {
			result.ReleasedAmount = result.ReleasedAmount.Add(cand.CommissionAmount.Decimal)
		}
		if !affected[cand.AffiliateID] {
			affected[cand.AffiliateID] = true
			affiliateIDs = append(affiliateIDs, cand.AffiliateID)
		}
	}

	if len(result.Errors) > 0 {
		c.logger.ErrorContext(ctx, "commission release incomplete", "failed", len(result.Errors), "released", result.ReleasedCount)
		if result.ReleasedCount == 0 {
			return nil, database.StoreError("release commissions", errors.New(result.Errors[0]))
		}
	}
	if result.ReleasedCount == 0 {
		return result, nil
	}

	amount, _ := result.ReleasedAmount.Float64()
	c.metrics.ObserveRelease(int(result.ReleasedCount), amount)
	c.logger.InfoContext(ctx, "commissions released",
		"count", result.ReleasedCount,
		"amount", result.ReleasedAmount.StringFixed(2),
		"has_more", result.HasMore)
	events.Emit(ctx, c.publisher, c.logger, events.CommissionsReleased, "release", CommissionsReleasedEvent{
		ReleasedCount:  result.ReleasedCount,
		ReleasedAmount: result.ReleasedAmount,
		AffiliateIDs:   affiliateIDs,
		ReleasedAt:     now,
	})
	c.invalidate(ctx, affiliateIDs...)
	return result, nil
}
