package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"partnerhub/internal/database"
	"partnerhub/internal/database/models"
)

const (
	SETTINGS_CACHE_KEY = "affiliate_settings"
	SETTINGS_CACHE_TTL = 30 * time.Second
)

const (
	MaxCommissionHoldDays = 365
	MaxQualification      = 100
)

// Provider is how the ledgers read settings. Values are read on every call so admin
// changes take effect without a restart.
type Provider interface {
	Get(ctx context.Context) (models.Settings, error)
}

// Patch carries the fields an admin submitted; nil fields keep their stored value.
type Patch struct {
	CommissionHoldDays     *int             `json:"commission_hold_days"`
	MinimumPayout          *decimal.Decimal `json:"minimum_payout"`
	PayoutSchedule         *string          `json:"payout_schedule"`
	QualificationThreshold *int             `json:"qualification_threshold"`
	NewDealAmountPotential *decimal.Decimal `json:"new_deal_amount_potential"`
	TerminalOutcomes       []string         `json:"terminal_outcomes"`
	SuccessOutcome         *string          `json:"success_outcome"`
}

// ChangeListener is told after a settings write commits.
type ChangeListener interface {
	SettingsChanged(ctx context.Context)
}

type SettingsHandler struct {
	db        *gorm.DB
	redis     *redis.Client
	logger    *slog.Logger
	listeners []ChangeListener
}

func NewSettingsHandler(db *gorm.DB, redisClient *redis.Client, logger *slog.Logger) *SettingsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SettingsHandler{db: db, redis: redisClient, logger: logger}
}

func (s *SettingsHandler) AddChangeListener(l ChangeListener) {
	s.listeners = append(s.listeners, l)
}

// Get returns the stored settings, or the defaults when the row was never written.
func (s *SettingsHandler) Get(ctx context.Context) (models.Settings, error) {
	if s.redis != nil {
		val, err := s.redis.Get(ctx, SETTINGS_CACHE_KEY).Result()
		if err == nil {
			var cached models.Settings
			if err := json.Unmarshal([]byte(val), &cached); err == nil {
				return cached, nil
			}
		} else if err != redis.Nil {
			s.logger.WarnContext(ctx, "settings cache read failed", "error", err)
		}
	}

	settings, err := s.load(ctx, s.db)
	if err != nil {
		return models.Settings{}, err
	}

	s.fill(ctx, settings)
	return settings, nil
}

func (s *SettingsHandler) load(ctx context.Context, db *gorm.DB) (models.Settings, error) {
	var row models.Settings
	err := db.WithContext(ctx).First(&row, models.SettingsRowID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.DefaultSettings(), nil
	}
	if err != nil {
		return models.Settings{}, database.StoreError("load settings", err)
	}
	return row, nil
}

// Update merges patch into the stored settings, validates the result and writes it in
// one statement. Invalid input leaves the stored row untouched.
func (s *SettingsHandler) Update(ctx context.Context, patch Patch) (models.Settings, error) {
	current, err := s.load(ctx, s.db)
	if err != nil {
		return models.Settings{}, err
	}

	next := Merge(current, patch)
	if err := Validate(next); err != nil {
		return models.Settings{}, status.Errorf(codes.InvalidArgument, "Invalid settings: %v", err)
	}

	next.ID = models.SettingsRowID
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(&next).Error
	if err != nil {
		return models.Settings{}, database.StoreError("save settings", err)
	}

	s.store(ctx, next)
	for _, l := range s.listeners {
		l.SettingsChanged(ctx)
	}
	s.logger.InfoContext(ctx, "settings updated",
		"commission_hold_days", next.CommissionHoldDays,
		"payout_schedule", next.PayoutSchedule,
		"terminal_outcomes", []string(next.TerminalOutcomes))
	return next, nil
}

func Merge(current models.Settings, patch Patch) models.Settings {
	next := current
	if patch.CommissionHoldDays != nil {
		next.CommissionHoldDays = *patch.CommissionHoldDays
	}
	if patch.MinimumPayout != nil {
		next.MinimumPayout = *patch.MinimumPayout
	}
	if patch.PayoutSchedule != nil {
		next.PayoutSchedule = strings.ToLower(strings.TrimSpace(*patch.PayoutSchedule))
	}
	if patch.QualificationThreshold != nil {
		next.QualificationThreshold = *patch.QualificationThreshold
	}
	if patch.NewDealAmountPotential != nil {
		next.NewDealAmountPotential = *patch.NewDealAmountPotential
	}
	if patch.TerminalOutcomes != nil {
		next.TerminalOutcomes = normalizeOutcomes(patch.TerminalOutcomes)
	}
	if patch.SuccessOutcome != nil {
		next.SuccessOutcome = strings.ToLower(strings.TrimSpace(*patch.SuccessOutcome))
	}
	return next
}

func normalizeOutcomes(in []string) models.StringArray {
	out := make(models.StringArray, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, o := range in {
		o = strings.ToLower(strings.TrimSpace(o))
		if o == "" || seen[o] {
			continue
		}
		seen[o] = true
		out = append(out, o)
	}
	return out
}

func Validate(s models.Settings) error {
	if s.CommissionHoldDays < 0 || s.CommissionHoldDays > MaxCommissionHoldDays {
		return fmt.Errorf("commission_hold_days must be between 0 and %d, got %d", MaxCommissionHoldDays, s.CommissionHoldDays)
	}
	if s.MinimumPayout.IsNegative() {
		return fmt.Errorf("minimum_payout must not be negative")
	}
	switch s.PayoutSchedule {
	case models.PayoutWeekly, models.PayoutBiweekly, models.PayoutMonthly:
	default:
		return fmt.Errorf("payout_schedule must be one of weekly, biweekly, monthly, got %q", s.PayoutSchedule)
	}
	if s.QualificationThreshold < 0 || s.QualificationThreshold > MaxQualification {
		return fmt.Errorf("qualification_threshold must be between 0 and %d, got %d", MaxQualification, s.QualificationThreshold)
	}
	if s.NewDealAmountPotential.IsNegative() {
		return fmt.Errorf("new_deal_amount_potential must not be negative")
	}
	if len(s.TerminalOutcomes) == 0 {
		return fmt.Errorf("terminal_outcomes must not be empty")
	}
	for _, o := range s.TerminalOutcomes {
		if !models.IsKnownOutcome(o) {
			return fmt.Errorf("unknown outcome %q in terminal_outcomes", o)
		}
	}
	if !models.IsKnownOutcome(s.SuccessOutcome) {
		return fmt.Errorf("unknown success_outcome %q", s.SuccessOutcome)
	}
	if !s.TerminalOutcomes.Contains(s.SuccessOutcome) {
		return fmt.Errorf("success_outcome %q must be one of terminal_outcomes", s.SuccessOutcome)
	}
	return nil
}

// fill caches a value read from the database. It never replaces a cached value, so a
// read that raced an Update cannot put the old row back.
func (s *SettingsHandler) fill(ctx context.Context, settings models.Settings) {
	if s.redis == nil {
		return
	}
	data, err := json.Marshal(settings)
	if err != nil {
		return
	}
	if err := s.redis.SetNX(ctx, SETTINGS_CACHE_KEY, data, SETTINGS_CACHE_TTL).Err(); err != nil {
		s.logger.WarnContext(ctx, "settings cache write failed", "error", err)
	}
}

// store writes the committed settings through to the cache. When that fails the key is
// dropped so the next read goes to the database.
func (s *SettingsHandler) store(ctx context.Context, settings models.Settings) {
	if s.redis == nil {
		return
	}
	data, err := json.Marshal(settings)
	if err == nil {
		err = s.redis.Set(ctx, SETTINGS_CACHE_KEY, data, SETTINGS_CACHE_TTL).Err()
	}
	if err == nil {
		return
	}
	s.logger.WarnContext(ctx, "settings cache write failed, dropping key", "error", err)
	if err := s.redis.Del(ctx, SETTINGS_CACHE_KEY).Err(); err != nil {
		s.logger.ErrorContext(ctx, "settings cache delete failed", "error", err)
	}
}
