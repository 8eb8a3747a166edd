package handler

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"partnerhub/internal/database"
	"partnerhub/internal/database/models"
	"partnerhub/internal/events"
	"partnerhub/internal/observability"
)

const (
	CLICK_DEDUP_CACHE_PREFIX = "click_dedup:"

	// DedupWindow is the rolling window in which one (affiliate, user agent) pair counts
	// at most one click.
	DedupWindow = time.Hour
)

type Kind string

const (
	KindReferral Kind = "referral"
	KindCustom   Kind = "custom"
)

const (
	ReasonAttributed  = "attributed"
	ReasonNotFound    = "not found"
	ReasonSuperseded  = "superseded by custom link"
	ReasonUnavailable = "affiliate unavailable"
)

// Resolution is the attribution decision for one inbound path segment.
type Resolution struct {
	Attributable bool   `json:"attributable"`
	AffiliateID  string `json:"affiliate_id,omitempty"`
	ReferralCode string `json:"referral_code,omitempty"`
	Reason       string `json:"reason"`
}

type Fingerprint struct {
	IPAddress string
	UserAgent string
}

type UTM struct {
	Source   *string `json:"utm_source,omitempty"`
	Medium   *string `json:"utm_medium,omitempty"`
	Campaign *string `json:"utm_campaign,omitempty"`
}

func UTMFromQuery(q url.Values) UTM {
	get := func(key string) *string {
		v := strings.TrimSpace(q.Get(key))
		if v == "" {
			return nil
		}
		return &v
	}
	return UTM{Source: get("utm_source"), Medium: get("utm_medium"), Campaign: get("utm_campaign")}
}

type ClickResult struct {
	Counted bool   `json:"counted"`
	ClickID string `json:"click_id"`
}

// VisitResult combines the attribution decision with the click ledger outcome. A click
// recording failure is carried in ClickError; the visit itself still succeeds.
type VisitResult struct {
	Resolution
	Click      *ClickResult `json:"click,omitempty"`
	ClickError error        `json:"-"`
}

type ClickRecordedEvent struct {
	ClickID      string    `json:"click_id"`
	AffiliateID  string    `json:"affiliate_id"`
	ReferralCode string    `json:"referral_code"`
	UTM          UTM       `json:"utm"`
	CreatedAt    time.Time `json:"created_at"`
}

type AttributionHandler struct {
	db        *gorm.DB
	redis     *redis.Client
	publisher events.Publisher
	metrics   *observability.Metrics
	logger    *slog.Logger
	now       func() time.Time
}

func NewAttributionHandler(db *gorm.DB, redisClient *redis.Client, publisher events.Publisher, metrics *observability.Metrics, logger *slog.Logger) *AttributionHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AttributionHandler{
		db:        db,
		redis:     redisClient,
		publisher: publisher,
		metrics:   metrics,
		logger:    logger,
		now:       time.Now,
	}
}

func (h *AttributionHandler) SetClock(now func() time.Time) {
	h.now = now
}

// Resolve decides whether a referral code or custom link segment attributes the visit.
// Every expected outcome is a Resolution; only store failures are errors.
func (h *AttributionHandler) Resolve(ctx context.Context, kind Kind, segment string) (Resolution, error) {
	segment = strings.ToLower(strings.Trim(strings.TrimSpace(segment), "/"))
	if segment == "" {
		return Resolution{Reason: ReasonNotFound}, nil
	}

	column := "referral_code"
	switch kind {
	case KindReferral:
	case KindCustom:
		column = "custom_tracking_link"
	default:
		return Resolution{}, status.Errorf(codes.InvalidArgument, "Unknown attribution kind %q", kind)
	}

	var affiliate models.Affiliate
	err := h.db.WithContext(ctx).Where(column+" = ?", segment).First(&affiliate).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Resolution{Reason: ReasonNotFound}, nil
	}
	if err != nil {
		return Resolution{}, database.StoreError("resolve attribution", err)
	}

	res := Resolution{AffiliateID: affiliate.ID, ReferralCode: affiliate.ReferralCode}
	switch {
	case kind == KindReferral && affiliate.HasCustomLink():
		res.Reason = ReasonSuperseded
	case !affiliate.IsAvailable():
		res.Reason = ReasonUnavailable
	default:
		res.Attributable = true
		res.Reason = ReasonAttributed
	}
	return res, nil
}

// RecordClick records a visit for the affiliate unless the same user agent already
// produced a counted click within DedupWindow. The insert and the totalClicks increment
// happen in one transaction holding the affiliate row lock.
func (h *AttributionHandler) RecordClick(ctx context.Context, affiliateID string, fp Fingerprint, utm UTM) (ClickResult, error) {
	if affiliateID == "" {
		return ClickResult{}, status.Errorf(codes.InvalidArgument, "Affiliate ID is required")
	}
	now := h.now().UTC()
	cacheKey := dedupKey(affiliateID, fp.UserAgent)

	if h.redis != nil {
		clickID, err := h.redis.Get(ctx, cacheKey).Result()
		if err == nil && clickID != "" {
			h.metrics.ObserveClick(observability.ClickDeduplicated)
			return ClickResult{Counted: false, ClickID: clickID}, nil
		}
		if err != nil && err != redis.Nil {
			h.logger.WarnContext(ctx, "click dedup cache read failed", "error", err)
		}
	}

	var (
		result ClickResult
		click  models.AffiliateClick
	)
	err := h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var affiliate models.Affiliate
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&affiliate, "id = ?", affiliateID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return status.Errorf(codes.NotFound, "Affiliate %s not found", affiliateID)
			}
			return err
		}

		var existing models.AffiliateClick
		err := tx.Where("affiliate_id = ? AND user_agent = ? AND created_at >= ?", affiliateID, fp.UserAgent, now.Add(-DedupWindow)).
			Order("created_at desc").
			Take(&existing).Error
		if err == nil {
			click = existing
			result = ClickResult{Counted: false, ClickID: existing.ID}
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		click = models.AffiliateClick{
			AffiliateID:  affiliateID,
			ReferralCode: affiliate.ReferralCode,
			IPAddress:    fp.IPAddress,
			UserAgent:    fp.UserAgent,
			UTMSource:    utm.Source,
			UTMMedium:    utm.Medium,
			UTMCampaign:  utm.Campaign,
			CreatedAt:    now,
		}
		if err := tx.Create(&click).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.Affiliate{}).Where("id = ?", affiliateID).
			UpdateColumn("total_clicks", gorm.Expr("total_clicks + ?", 1)).Error; err != nil {
			return err
		}
		result = ClickResult{Counted: true, ClickID: click.ID}
		return nil
	})
	if err != nil {
		h.metrics.ObserveClick(observability.ClickFailed)
		return ClickResult{}, database.StoreError("record click", err)
	}

	h.rememberClick(ctx, cacheKey, click, now)

	if !result.Counted {
		h.metrics.ObserveClick(observability.ClickDeduplicated)
		return result, nil
	}

	h.metrics.ObserveClick(observability.ClickCounted)
	events.Emit(ctx, h.publisher, h.logger, events.ClickRecorded, affiliateID, ClickRecordedEvent{
		ClickID:      click.ID,
		AffiliateID:  affiliateID,
		ReferralCode: click.ReferralCode,
		UTM:          utm,
		CreatedAt:    click.CreatedAt,
	})
	return result, nil
}

func (h *AttributionHandler) rememberClick(ctx context.Context, key string, click models.AffiliateClick, now time.Time) {
	if h.redis == nil {
		return
	}
	ttl := click.CreatedAt.Add(DedupWindow).Sub(now)
	if ttl <= 0 {
		return
	}
	if err := h.redis.Set(ctx, key, click.ID, ttl).Err(); err != nil {
		h.logger.WarnContext(ctx, "click dedup cache write failed", "error", err)
	}
}

func dedupKey(affiliateID, userAgent string) string {
	sum := sha256.Sum256([]byte(userAgent))
	return fmt.Sprintf("%s%s:%s", CLICK_DEDUP_CACHE_PREFIX, affiliateID, hex.EncodeToString(sum[:]))
}

// Visit resolves the segment and, when attributable, records the click. Click recording
// failures never fail the visit: the page still renders and the cookie is still set.
func (h *AttributionHandler) Visit(ctx context.Context, kind Kind, segment string, query url.Values, fp Fingerprint) (VisitResult, error) {
	res, err := h.Resolve(ctx, kind, segment)
	if err != nil {
		return VisitResult{}, err
	}
	h.metrics.ObserveResolution(res.Reason)

	out := VisitResult{Resolution: res}
	if !res.Attributable {
		h.logger.DebugContext(ctx, "visit not attributable", "kind", kind, "segment", segment, "reason", res.Reason)
		return out, nil
	}

	click, err := h.RecordClick(ctx, res.AffiliateID, fp, UTMFromQuery(query))
	if err != nil {
		h.logger.WarnContext(ctx, "click not recorded, totals undercounted",
			"affiliate_id", res.AffiliateID, "error", err)
		out.ClickError = err
		return out, nil
	}
	out.Click = &click
	return out, nil
}
