package handler

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"partnerhub/internal/database"
	"partnerhub/internal/database/models"
)

// Counters mirrors the denormalized totals on Affiliate. Leads is the number of credited
// lead conversions, which is what RecordLead increments; dashboards count leads by lead
// time through CountLeads instead.
type Counters struct {
	Clicks     int64           `json:"clicks"`
	Leads      int64           `json:"leads"`
	Bookings   int64           `json:"bookings"`
	Commission decimal.Decimal `json:"commission"`
}

func (c Counters) Equal(o Counters) bool {
	return c.Clicks == o.Clicks && c.Leads == o.Leads && c.Bookings == o.Bookings && c.Commission.Equal(o.Commission)
}

type RecountResult struct {
	AffiliateID string   `json:"affiliate_id"`
	Before      Counters `json:"before"`
	After       Counters `json:"after"`
	Drifted     bool     `json:"drifted"`
}

// Recount recomputes the cached counters from raw rows and overwrites them. It is a
// maintenance tool; regular traffic only ever increments the counters.
func (h *StatsHandler) Recount(ctx context.Context, affiliateID string) ([]RecountResult, error) {
	var ids []string
	if affiliateID != "" {
		ids = []string{affiliateID}
	} else if err := h.db.WithContext(ctx).Model(&models.Affiliate{}).Order("id asc").Pluck("id", &ids).Error; err != nil {
		return nil, database.StoreError("list affiliates", err)
	}

	results := make([]RecountResult, 0, len(ids))
	for _, id := range ids {
		res, err := h.recountOne(ctx, id)
		if err != nil {
			return results, err
		}
		if res.Drifted {
			h.logger.WarnContext(ctx, "affiliate counters drifted",
				"affiliate_id", id,
				"clicks", res.Before.Clicks, "clicks_actual", res.After.Clicks,
				"leads", res.Before.Leads, "leads_actual", res.After.Leads,
				"bookings", res.Before.Bookings, "bookings_actual", res.After.Bookings,
				"commission", res.Before.Commission.String(), "commission_actual", res.After.Commission.String())
			h.InvalidateAffiliate(ctx, id)
		}
		results = append(results, res)
	}
	return results, nil
}

func (h *StatsHandler) recountOne(ctx context.Context, affiliateID string) (RecountResult, error) {
	result := RecountResult{AffiliateID: affiliateID}

	err := h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var affiliate models.Affiliate
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&affiliate, "id = ?", affiliateID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return status.Errorf(codes.NotFound, "Affiliate %s not found", affiliateID)
			}
			return err
		}
		result.Before = Counters{
			Clicks:     affiliate.TotalClicks,
			Leads:      affiliate.TotalLeads,
			Bookings:   affiliate.TotalBookings,
			Commission: affiliate.TotalCommission,
		}

		var actual Counters
		if err := tx.Model(&models.AffiliateClick{}).Where("affiliate_id = ?", affiliateID).Count(&actual.Clicks).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.AffiliateConversion{}).
			Where("affiliate_id = ? AND conversion_type = ?", affiliateID, models.ConversionLead).
			Count(&actual.Leads).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.AffiliateConversion{}).
			Where("affiliate_id = ? AND conversion_type = ?", affiliateID, models.ConversionBooking).
			Count(&actual.Bookings).Error; err != nil {
			return err
		}
		var amounts []decimal.NullDecimal
		if err := tx.Model(&models.AffiliateConversion{}).
			Where("affiliate_id = ? AND conversion_type = ?", affiliateID, models.ConversionSale).
			Pluck("commission_amount", &amounts).Error; err != nil {
			return err
		}
		actual.Commission = decimal.Zero
		for _, a := range amounts {
			if a.Valid {
				actual.Commission = actual.Commission.Add(a.Decimal)
			}
		}
		result.After = actual
		result.Drifted = !result.Before.Equal(actual)
		if !result.Drifted {
			return nil
		}

		return tx.Model(&models.Affiliate{}).Where("id = ?", affiliateID).UpdateColumns(map[string]interface{}{
			"total_clicks":     actual.Clicks,
			"total_leads":      actual.Leads,
			"total_bookings":   actual.Bookings,
			"total_commission": actual.Commission,
		}).Error
	})
	if err != nil {
		return result, database.StoreError("recount affiliate", err)
	}
	return result, nil
}
