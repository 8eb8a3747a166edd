package handler

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"gorm.io/gorm"

	"partnerhub/internal/database"
	"partnerhub/internal/database/models"
)

const (
	referralCodeLength   = 8
	referralCodeAlphabet = "abcdefghjkmnpqrstuvwxyz23456789"
	maxCodeAttempts      = 5
)

var (
	DefaultCommissionRate = decimal.NewFromFloat(0.2)
	slugPattern           = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{2,31}$`)
)

type CreateAffiliateRequest struct {
	Name           string           `json:"name"`
	Email          string           `json:"email"`
	ReferralCode   string           `json:"referral_code"`
	CommissionRate *decimal.Decimal `json:"commission_rate"`
}

type ListAffiliatesFilter struct {
	OnlyAvailable bool
}

type AffiliateHandler struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewAffiliateHandler(db *gorm.DB, logger *slog.Logger) *AffiliateHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AffiliateHandler{db: db, logger: logger}
}

// NormalizeSlug lower-cases and trims a referral code or custom link segment.
func NormalizeSlug(raw string) string {
	return strings.ToLower(strings.Trim(strings.TrimSpace(raw), "/"))
}

func ValidateCommissionRate(rate decimal.Decimal) error {
	if rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(1)) {
		return status.Errorf(codes.InvalidArgument, "Commission rate must be between 0 and 1, got %s", rate.String())
	}
	return nil
}

func (h *AffiliateHandler) CreateAffiliate(ctx context.Context, req CreateAffiliateRequest) (*models.Affiliate, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, status.Errorf(codes.InvalidArgument, "Affiliate name is required")
	}

	rate := DefaultCommissionRate
	if req.CommissionRate != nil {
		rate = *req.CommissionRate
	}
	if err := ValidateCommissionRate(rate); err != nil {
		return nil, err
	}

	code := NormalizeSlug(req.ReferralCode)
	generated := code == ""
	if !generated && !slugPattern.MatchString(code) {
		return nil, status.Errorf(codes.InvalidArgument, "Referral code %q must be 3-32 characters of a-z, 0-9, '-' or '_'", req.ReferralCode)
	}

	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		if generated {
			var err error
			if code, err = generateReferralCode(); err != nil {
				return nil, status.Errorf(codes.Internal, "Failed to generate referral code: %v", err)
			}
		}

		affiliate := &models.Affiliate{
			Name:            name,
			Email:           strings.ToLower(strings.TrimSpace(req.Email)),
			ReferralCode:    code,
			CommissionRate:  rate,
			TotalCommission: decimal.Zero,
			IsActive:        true,
		}
		err := h.db.WithContext(ctx).Create(affiliate).Error
		if err == nil {
			h.logger.InfoContext(ctx, "affiliate created", "affiliate_id", affiliate.ID, "referral_code", code)
			return affiliate, nil
		}
		if !database.IsUniqueViolation(err) {
			return nil, database.StoreError("create affiliate", err)
		}
		if !generated {
			return nil, status.Errorf(codes.AlreadyExists, "Referral code %q is already taken", code)
		}
	}
	return nil, status.Errorf(codes.Internal, "Failed to allocate a unique referral code")
}

func generateReferralCode() (string, error) {
	b := make([]byte, referralCodeLength)
	max := big.NewInt(int64(len(referralCodeAlphabet)))
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b[i] = referralCodeAlphabet[n.Int64()]
	}
	return string(b), nil
}

func (h *AffiliateHandler) GetAffiliate(ctx context.Context, id string) (*models.Affiliate, error) {
	if id == "" {
		return nil, status.Errorf(codes.InvalidArgument, "Affiliate ID is required")
	}
	var affiliate models.Affiliate
	if err := h.db.WithContext(ctx).First(&affiliate, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, status.Errorf(codes.NotFound, "Affiliate %s not found", id)
		}
		return nil, database.StoreError("get affiliate", err)
	}
	return &affiliate, nil
}

func (h *AffiliateHandler) ListAffiliates(ctx context.Context, filter ListAffiliatesFilter) ([]models.Affiliate, error) {
	query := h.db.WithContext(ctx).Model(&models.Affiliate{})
	if filter.OnlyAvailable {
		query = query.Where("is_approved = ? AND is_active = ?", true, true)
	}

	var affiliates []models.Affiliate
	if err := query.Order("created_at asc").Order("id asc").Find(&affiliates).Error; err != nil {
		return nil, database.StoreError("list affiliates", err)
	}
	return affiliates, nil
}

func (h *AffiliateHandler) ApproveAffiliate(ctx context.Context, id string) (*models.Affiliate, error) {
	return h.update(ctx, id, "approve affiliate", map[string]interface{}{"is_approved": true})
}

// SetActive soft-enables or soft-disables an affiliate. Affiliates are never deleted.
func (h *AffiliateHandler) SetActive(ctx context.Context, id string, active bool) (*models.Affiliate, error) {
	return h.update(ctx, id, "set affiliate active", map[string]interface{}{"is_active": active})
}

// SetCommissionRate changes the rate used for future sales only; recorded conversions keep
// the rate and amount they were credited with.
func (h *AffiliateHandler) SetCommissionRate(ctx context.Context, id string, rate decimal.Decimal) (*models.Affiliate, error) {
	if err := ValidateCommissionRate(rate); err != nil {
		return nil, err
	}
	return h.update(ctx, id, "set commission rate", map[string]interface{}{"commission_rate": rate})
}

// SetCustomTrackingLink assigns or replaces the affiliate's custom link. Once set, the
// referral code path stops attributing for this affiliate; the link cannot be cleared.
func (h *AffiliateHandler) SetCustomTrackingLink(ctx context.Context, id, slug string) (*models.Affiliate, error) {
	slug = NormalizeSlug(slug)
	if slug == "" {
		return nil, status.Errorf(codes.InvalidArgument, "Custom tracking link cannot be empty")
	}
	if !slugPattern.MatchString(slug) {
		return nil, status.Errorf(codes.InvalidArgument, "Custom tracking link %q must be 3-32 characters of a-z, 0-9, '-' or '_'", slug)
	}

	var clash int64
	if err := h.db.WithContext(ctx).Model(&models.Affiliate{}).Where("referral_code = ?", slug).Count(&clash).Error; err != nil {
		return nil, database.StoreError("check custom link", err)
	}
	if clash > 0 {
		return nil, status.Errorf(codes.AlreadyExists, "Custom tracking link %q collides with a referral code", slug)
	}

	affiliate, err := h.update(ctx, id, "set custom link", map[string]interface{}{"custom_tracking_link": slug})
	if err != nil {
		if database.IsUniqueViolation(err) {
			return nil, status.Errorf(codes.AlreadyExists, "Custom tracking link %q is already taken", slug)
		}
		return nil, err
	}
	h.logger.InfoContext(ctx, "custom tracking link set", "affiliate_id", id, "slug", slug)
	return affiliate, nil
}

func (h *AffiliateHandler) update(ctx context.Context, id, op string, updates map[string]interface{}) (*models.Affiliate, error) {
	if id == "" {
		return nil, status.Errorf(codes.InvalidArgument, "Affiliate ID is required")
	}

	res := h.db.WithContext(ctx).Model(&models.Affiliate{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		if database.IsUniqueViolation(res.Error) {
			return nil, res.Error
		}
		return nil, database.StoreError(op, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, status.Errorf(codes.NotFound, "Affiliate %s not found", id)
	}
	return h.GetAffiliate(ctx, id)
}

// EffectiveLink is the share URL the affiliate should hand out.
func EffectiveLink(a models.Affiliate, baseURL string) string {
	baseURL = strings.TrimRight(baseURL, "/")
	if a.HasCustomLink() {
		return fmt.Sprintf("%s/go/%s", baseURL, *a.CustomTrackingLink)
	}
	return fmt.Sprintf("%s/r/%s", baseURL, a.ReferralCode)
}
