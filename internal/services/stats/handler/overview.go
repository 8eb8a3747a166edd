package handler

import (
	"context"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"partnerhub/internal/database"
	"partnerhub/internal/database/models"
	"partnerhub/internal/timewindow"
)

const overviewConcurrency = 4

type AffiliateOverview struct {
	AffiliateID  string  `json:"affiliate_id"`
	Name         string  `json:"name"`
	ReferralCode string  `json:"referral_code"`
	IsApproved   bool    `json:"is_approved"`
	IsActive     bool    `json:"is_active"`
	Summary      Summary `json:"summary"`
}

type Overview struct {
	Range      timewindow.RangeKey `json:"range"`
	Totals     Summary             `json:"totals"`
	Affiliates []AffiliateOverview `json:"affiliates"`
}

// Overview summarizes every affiliate for the admin CRM view using the same report as
// the per-affiliate dashboards.
func (h *StatsHandler) Overview(ctx context.Context, key timewindow.RangeKey) (*Overview, error) {
	var affiliates []models.Affiliate
	if err := h.db.WithContext(ctx).Order("created_at asc").Order("id asc").Find(&affiliates).Error; err != nil {
		return nil, database.StoreError("list affiliates", err)
	}

	rows := make([]AffiliateOverview, len(affiliates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(overviewConcurrency)
	for i, a := range affiliates {
		i, a := i, a
		g.Go(func() error {
			report, err := h.Report(gctx, a.ID, key)
			if err != nil {
				return err
			}
			rows[i] = AffiliateOverview{
				AffiliateID:  a.ID,
				Name:         a.Name,
				ReferralCode: a.ReferralCode,
				IsApproved:   a.IsApproved,
				IsActive:     a.IsActive,
				Summary:      report.Summary,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	totals := Summary{Commission: decimal.Zero}
	for _, r := range rows {
		totals.Clicks += r.Summary.Clicks
		totals.Leads += r.Summary.Leads
		totals.QualifiedLeads += r.Summary.QualifiedLeads
		totals.BookedCalls += r.Summary.BookedCalls
		totals.Sales += r.Summary.Sales
		totals.Commission = totals.Commission.Add(r.Summary.Commission)
	}
	totals.ConversionRate = ConversionRate(totals.Leads, totals.Clicks)

	return &Overview{Range: key, Totals: totals, Affiliates: rows}, nil
}

type Pipeline struct {
	AffiliateID      string           `json:"affiliate_id,omitempty"`
	OpenAppointments int64            `json:"open_appointments"`
	ByOutcome        map[string]int64 `json:"by_outcome"`
	DealPotential    decimal.Decimal  `json:"deal_potential"`
	PipelineAmount   decimal.Decimal  `json:"pipeline_amount"`
	WonDeals         int64            `json:"won_deals"`
	WonRevenue       decimal.Decimal  `json:"won_revenue"`
}

type outcomeRow struct {
	Outcome   string
	SaleValue decimal.NullDecimal
}

// Pipeline values the appointments that have not reached a terminal outcome. An empty
// affiliateID covers every appointment.
func (h *StatsHandler) Pipeline(ctx context.Context, affiliateID string) (*Pipeline, error) {
	settings, err := h.settings.Get(ctx)
	if err != nil {
		return nil, err
	}

	query := h.db.WithContext(ctx).Model(&models.Appointment{}).Select("outcome", "sale_value")
	if affiliateID != "" {
		query = query.Where("affiliate_id = ?", affiliateID)
	}
	var rows []outcomeRow
	if err := query.Find(&rows).Error; err != nil {
		return nil, database.StoreError("load appointments", err)
	}

	p := &Pipeline{
		AffiliateID:   affiliateID,
		ByOutcome:     make(map[string]int64),
		DealPotential: settings.NewDealAmountPotential,
		WonRevenue:    decimal.Zero,
	}
	for _, r := range rows {
		p.ByOutcome[r.Outcome]++
		if !settings.IsTerminal(r.Outcome) {
			p.OpenAppointments++
			continue
		}
		if r.Outcome == settings.SuccessOutcome {
			p.WonDeals++
			if r.SaleValue.Valid {
				p.WonRevenue = p.WonRevenue.Add(r.SaleValue.Decimal)
			}
		}
	}
	p.PipelineAmount = settings.NewDealAmountPotential.Mul(decimal.NewFromInt(p.OpenAppointments))
	return p, nil
}
