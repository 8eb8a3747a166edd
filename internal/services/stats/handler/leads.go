package handler

import (
	"context"
	"strings"
	"time"

	"gorm.io/gorm"

	"partnerhub/internal/database"
	"partnerhub/internal/database/models"
	"partnerhub/internal/timewindow"
)

// LeadTime is the instant a quiz session counts as a lead: completion for completed
// sessions, creation otherwise.
func LeadTime(s models.QuizSession) time.Time {
	if s.Status == models.SessionCompleted && s.CompletedAt != nil {
		return *s.CompletedAt
	}
	return s.CreatedAt
}

// CountSessions is the one definition of a lead count. Every statistics surface counts
// leads through it, so bucket sums always equal the whole-range count.
func CountSessions(sessions []models.QuizSession, referralCode string, w timewindow.Window) int64 {
	code := strings.ToLower(referralCode)
	var n int64
	for _, s := range sessions {
		if s.AffiliateCode == nil || strings.ToLower(*s.AffiliateCode) != code {
			continue
		}
		if w.Contains(LeadTime(s)) {
			n++
		}
	}
	return n
}

// CountLeads counts the affiliate's leads whose lead time falls in w.
func (h *StatsHandler) CountLeads(ctx context.Context, affiliateID string, w timewindow.Window) (int64, error) {
	affiliate, err := h.affiliate(ctx, h.db, affiliateID)
	if err != nil {
		return 0, err
	}
	sessions, err := loadSessions(ctx, h.db, affiliate.ReferralCode, w)
	if err != nil {
		return 0, err
	}
	return CountSessions(sessions, affiliate.ReferralCode, w), nil
}

// loadSessions fetches every session whose lead time could fall in w. The exact rule is
// applied afterwards by CountSessions.
func loadSessions(ctx context.Context, db *gorm.DB, referralCode string, w timewindow.Window) ([]models.QuizSession, error) {
	start, until := w.Start.UTC(), w.Until().UTC()

	var sessions []models.QuizSession
	err := db.WithContext(ctx).
		Where("LOWER(affiliate_code) = ?", strings.ToLower(referralCode)).
		Where("(created_at >= ? AND created_at < ?) OR (completed_at >= ? AND completed_at < ?)", start, until, start, until).
		Find(&sessions).Error
	if err != nil {
		return nil, database.StoreError("load quiz sessions", err)
	}
	return sessions, nil
}
