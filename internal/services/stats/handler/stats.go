package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"gorm.io/gorm"

	"partnerhub/internal/database"
	"partnerhub/internal/database/models"
	settingshandler "partnerhub/internal/services/settings/handler"
	"partnerhub/internal/timewindow"
)

const (
	AFFILIATE_STATS_CACHE_PREFIX = "affiliate_stats:"
	AFFILIATE_STATS_CACHE_TTL    = 60 * time.Second
)

var allRanges = []timewindow.RangeKey{
	timewindow.Range24h,
	timewindow.Range7d,
	timewindow.Range30d,
	timewindow.Range90d,
	timewindow.Range1y,
	timewindow.RangeAll,
}

type SeriesPoint struct {
	Label       string          `json:"label"`
	Start       time.Time       `json:"start"`
	End         time.Time       `json:"end"`
	Clicks      int64           `json:"clicks"`
	Leads       int64           `json:"leads"`
	BookedCalls int64           `json:"booked_calls"`
	Commission  decimal.Decimal `json:"commission"`
}

type Summary struct {
	Clicks         int64           `json:"clicks"`
	Leads          int64           `json:"leads"`
	QualifiedLeads int64           `json:"qualified_leads"`
	BookedCalls    int64           `json:"booked_calls"`
	Sales          int64           `json:"sales"`
	Commission     decimal.Decimal `json:"commission"`
	ConversionRate float64         `json:"conversion_rate"`
}

type Report struct {
	AffiliateID  string              `json:"affiliate_id"`
	ReferralCode string              `json:"referral_code"`
	Range        timewindow.RangeKey `json:"range"`
	Window       timewindow.Window   `json:"window"`
	Summary      Summary             `json:"summary"`
	Series       []SeriesPoint       `json:"series"`
	GeneratedAt  time.Time           `json:"generated_at"`
}

type StatsHandler struct {
	db       *gorm.DB
	redis    *redis.Client
	settings settingshandler.Provider
	location *time.Location
	logger   *slog.Logger
	now      func() time.Time
}

func NewStatsHandler(db *gorm.DB, redisClient *redis.Client, settings settingshandler.Provider, location *time.Location, logger *slog.Logger) *StatsHandler {
	if location == nil {
		location = time.UTC
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &StatsHandler{
		db:       db,
		redis:    redisClient,
		settings: settings,
		location: location,
		logger:   logger,
		now:      time.Now,
	}
}

func (h *StatsHandler) SetClock(now func() time.Time) {
	h.now = now
}

func cacheKey(affiliateID string, key timewindow.RangeKey) string {
	return fmt.Sprintf("%s%s:%s", AFFILIATE_STATS_CACHE_PREFIX, affiliateID, key)
}

// InvalidateAffiliate drops every cached report of the affiliate.
func (h *StatsHandler) InvalidateAffiliate(ctx context.Context, affiliateID string) {
	if h.redis == nil {
		return
	}
	keys := make([]string, 0, len(allRanges))
	for _, key := range allRanges {
		keys = append(keys, cacheKey(affiliateID, key))
	}
	if err := h.redis.Del(ctx, keys...).Err(); err != nil {
		h.logger.WarnContext(ctx, "stats cache invalidation failed", "affiliate_id", affiliateID, "error", err)
	}
}

// SettingsChanged drops every cached report, since qualification counts depend on the
// current settings.
func (h *StatsHandler) SettingsChanged(ctx context.Context) {
	if h.redis == nil {
		return
	}
	var keys []string
	iter := h.redis.Scan(ctx, 0, AFFILIATE_STATS_CACHE_PREFIX+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		h.logger.WarnContext(ctx, "stats cache scan failed", "error", err)
		return
	}
	if len(keys) == 0 {
		return
	}
	if err := h.redis.Del(ctx, keys...).Err(); err != nil {
		h.logger.WarnContext(ctx, "stats cache invalidation failed", "keys", len(keys), "error", err)
	}
}

func (h *StatsHandler) affiliate(ctx context.Context, db *gorm.DB, affiliateID string) (*models.Affiliate, error) {
	if affiliateID == "" {
		return nil, status.Errorf(codes.InvalidArgument, "Affiliate ID is required")
	}
	var affiliate models.Affiliate
	if err := db.WithContext(ctx).First(&affiliate, "id = ?", affiliateID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, status.Errorf(codes.NotFound, "Affiliate %s not found", affiliateID)
		}
		return nil, database.StoreError("get affiliate", err)
	}
	return &affiliate, nil
}

// BuildSeries returns the chronological per-bucket series for the range.
func (h *StatsHandler) BuildSeries(ctx context.Context, affiliateID string, key timewindow.RangeKey) ([]SeriesPoint, error) {
	report, err := h.Report(ctx, affiliateID, key)
	if err != nil {
		return nil, err
	}
	return report.Series, nil
}

func (h *StatsHandler) Summary(ctx context.Context, affiliateID string, key timewindow.RangeKey) (Summary, error) {
	report, err := h.Report(ctx, affiliateID, key)
	if err != nil {
		return Summary{}, err
	}
	return report.Summary, nil
}

// Report returns the summary and series of one affiliate, served from Redis when a fresh
// copy exists.
func (h *StatsHandler) Report(ctx context.Context, affiliateID string, key timewindow.RangeKey) (*Report, error) {
	ck := cacheKey(affiliateID, key)
	if h.redis != nil {
		val, err := h.redis.Get(ctx, ck).Result()
		if err == nil {
			var cached Report
			if err := json.Unmarshal([]byte(val), &cached); err == nil {
				return &cached, nil
			}
		} else if err != redis.Nil {
			h.logger.WarnContext(ctx, "stats cache read failed", "key", ck, "error", err)
		}
	}

	report, err := h.buildReport(ctx, affiliateID, key)
	if err != nil {
		return nil, err
	}

	if h.redis != nil {
		if data, err := json.Marshal(report); err == nil {
			if err := h.redis.Set(ctx, ck, data, AFFILIATE_STATS_CACHE_TTL).Err(); err != nil {
				h.logger.WarnContext(ctx, "stats cache write failed", "key", ck, "error", err)
			}
		}
	}
	return report, nil
}

type saleRow struct {
	CreatedAt        time.Time
	ConversionType   string
	CommissionAmount decimal.NullDecimal
}

// buildReport reads every row inside one snapshot so clicks, leads and commissions are
// mutually consistent.
func (h *StatsHandler) buildReport(ctx context.Context, affiliateID string, key timewindow.RangeKey) (*Report, error) {
	settings, err := h.settings.Get(ctx)
	if err != nil {
		return nil, err
	}

	now := h.now()
	buckets := timewindow.Buckets(key, now, h.location)
	span := timewindow.Span(buckets)
	start, until := span.Start.UTC(), span.Until().UTC()

	var (
		affiliate   *models.Affiliate
		clickTimes  []time.Time
		conversions []saleRow
		sessions    []models.QuizSession
	)
	err = h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if affiliate, err = h.affiliate(ctx, tx, affiliateID); err != nil {
			return err
		}
		if err := tx.Model(&models.AffiliateClick{}).
			Where("affiliate_id = ? AND created_at >= ? AND created_at < ?", affiliateID, start, until).
			Pluck("created_at", &clickTimes).Error; err != nil {
			return database.StoreError("load clicks", err)
		}
		if err := tx.Model(&models.AffiliateConversion{}).
			Select("created_at", "conversion_type", "commission_amount").
			Where("affiliate_id = ? AND conversion_type IN ? AND created_at >= ? AND created_at < ?",
				affiliateID, []string{models.ConversionBooking, models.ConversionSale}, start, until).
			Find(&conversions).Error; err != nil {
			return database.StoreError("load conversions", err)
		}
		sessions, err = loadSessions(ctx, tx, affiliate.ReferralCode, span)
		return err
	}, database.SnapshotTxOptions(h.db))
	if err != nil {
		return nil, err
	}

	series := make([]SeriesPoint, 0, len(buckets))
	for _, b := range buckets {
		point := SeriesPoint{
			Label:      b.Label,
			Start:      b.Start,
			End:        b.End,
			Leads:      CountSessions(sessions, affiliate.ReferralCode, b.Window),
			Commission: decimal.Zero,
		}
		for _, t := range clickTimes {
			if b.Contains(t) {
				point.Clicks++
			}
		}
		for _, c := range conversions {
			if !b.Contains(c.CreatedAt) {
				continue
			}
			switch c.ConversionType {
			case models.ConversionBooking:
				point.BookedCalls++
			case models.ConversionSale:
				if c.CommissionAmount.Valid {
					point.Commission = point.Commission.Add(c.CommissionAmount.Decimal)
				}
			}
		}
		series = append(series, point)
	}

	summary := Summary{
		Clicks:     int64(len(clickTimes)),
		Leads:      CountSessions(sessions, affiliate.ReferralCode, span),
		Commission: decimal.Zero,
	}
	for _, s := range sessions {
		if s.Score != nil && *s.Score >= settings.QualificationThreshold && span.Contains(LeadTime(s)) {
			summary.QualifiedLeads++
		}
	}
	for _, c := range conversions {
		switch c.ConversionType {
		case models.ConversionBooking:
			summary.BookedCalls++
		case models.ConversionSale:
			summary.Sales++
			if c.CommissionAmount.Valid {
				summary.Commission = summary.Commission.Add(c.CommissionAmount.Decimal)
			}
		}
	}
	summary.ConversionRate = ConversionRate(summary.Leads, summary.Clicks)

	return &Report{
		AffiliateID:  affiliate.ID,
		ReferralCode: affiliate.ReferralCode,
		Range:        key,
		Window:       span,
		Summary:      summary,
		Series:       series,
		GeneratedAt:  now.UTC(),
	}, nil
}

// ConversionRate is leads per click as a percentage with two decimals.
func ConversionRate(leads, clicks int64) float64 {
	if clicks == 0 {
		return 0
	}
	rate, _ := decimal.NewFromInt(leads).Mul(decimal.NewFromInt(100)).Div(decimal.NewFromInt(clicks)).Round(2).Float64()
	return rate
}
