package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const (
	ConversionLead    = "lead"
	ConversionBooking = "booking"
	ConversionSale    = "sale"
)

const (
	CommissionHeld      = "held"
	CommissionAvailable = "available"
)

const (
	SessionInProgress = "in_progress"
	SessionCompleted  = "completed"
)

func newID(prefix string) string {
	return prefix + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Affiliate is a referral partner. The Total* counters are a cache maintained only
// through atomic increments by the click and commission ledgers.
type Affiliate struct {
	ID                 string          `gorm:"primaryKey;type:varchar(64)" json:"id"`
	Name               string          `gorm:"not null" json:"name"`
	Email              string          `gorm:"type:varchar(255);index" json:"email"`
	ReferralCode       string          `gorm:"type:varchar(32);uniqueIndex;not null" json:"referral_code"`
	CustomTrackingLink *string         `gorm:"type:varchar(64);uniqueIndex" json:"custom_tracking_link,omitempty"`
	CommissionRate     decimal.Decimal `gorm:"type:decimal(5,4);not null" json:"commission_rate"`
	TotalClicks        int64           `gorm:"not null;default:0" json:"total_clicks"`
	TotalLeads         int64           `gorm:"not null;default:0" json:"total_leads"`
	TotalBookings      int64           `gorm:"not null;default:0" json:"total_bookings"`
	TotalCommission    decimal.Decimal `gorm:"type:decimal(18,2);not null;default:0" json:"total_commission"`
	IsApproved         bool            `gorm:"not null" json:"is_approved"`
	IsActive           bool            `gorm:"not null" json:"is_active"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

func (a *Affiliate) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = newID("aff")
	}
	return nil
}

// IsAvailable reports whether the affiliate may receive attributed traffic.
func (a Affiliate) IsAvailable() bool {
	return a.IsApproved && a.IsActive
}

func (a Affiliate) HasCustomLink() bool {
	return a.CustomTrackingLink != nil && *a.CustomTrackingLink != ""
}

type AffiliateClick struct {
	ID           string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	AffiliateID  string    `gorm:"type:varchar(64);not null;index:idx_click_affiliate_created,priority:1" json:"affiliate_id"`
	ReferralCode string    `gorm:"type:varchar(32);not null" json:"referral_code"`
	IPAddress    string    `gorm:"type:varchar(64)" json:"ip_address"`
	UserAgent    string    `gorm:"type:varchar(1024)" json:"user_agent"`
	UTMSource    *string   `gorm:"type:varchar(255)" json:"utm_source,omitempty"`
	UTMMedium    *string   `gorm:"type:varchar(255)" json:"utm_medium,omitempty"`
	UTMCampaign  *string   `gorm:"type:varchar(255)" json:"utm_campaign,omitempty"`
	CreatedAt    time.Time `gorm:"not null;index:idx_click_affiliate_created,priority:2" json:"created_at"`
}

func (c *AffiliateClick) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = newID("clk")
	}
	return nil
}

// AffiliateConversion is a lead, booking or sale attributed to an affiliate. Sale
// conversions carry the commission snapshot; CommissionAmount never changes once written.
type AffiliateConversion struct {
	ID               string              `gorm:"primaryKey;type:varchar(64)" json:"id"`
	AffiliateID      string              `gorm:"type:varchar(64);not null;index" json:"affiliate_id"`
	AppointmentID    *string             `gorm:"type:varchar(64);uniqueIndex:idx_conversion_appointment_type,priority:1" json:"appointment_id,omitempty"`
	QuizSessionID    *string             `gorm:"type:varchar(64);uniqueIndex:idx_conversion_session_type,priority:1" json:"quiz_session_id,omitempty"`
	ConversionType   string              `gorm:"type:varchar(16);not null;index;uniqueIndex:idx_conversion_appointment_type,priority:2;uniqueIndex:idx_conversion_session_type,priority:2" json:"conversion_type"`
	SaleValue        decimal.NullDecimal `gorm:"type:decimal(18,2)" json:"sale_value"`
	CommissionRate   decimal.NullDecimal `gorm:"type:decimal(5,4)" json:"commission_rate"`
	CommissionAmount decimal.NullDecimal `gorm:"type:decimal(18,2)" json:"commission_amount"`
	CommissionStatus string              `gorm:"type:varchar(16);index" json:"commission_status,omitempty"`
	HoldStartsAt     *time.Time          `gorm:"index" json:"hold_starts_at,omitempty"`
	ReleasedAt       *time.Time          `json:"released_at,omitempty"`
	CreatedAt        time.Time           `gorm:"not null;index" json:"created_at"`
	UpdatedAt        time.Time           `json:"updated_at"`
}

func (c *AffiliateConversion) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = newID("cnv")
	}
	return nil
}

// Appointment is a booked call. ClosedAt is stamped when the outcome first enters a
// terminal outcome and drives the commission hold clock.
type Appointment struct {
	ID            string              `gorm:"primaryKey;type:varchar(64)" json:"id"`
	AffiliateCode *string             `gorm:"type:varchar(32);index" json:"affiliate_code,omitempty"`
	AffiliateID   *string             `gorm:"type:varchar(64);index" json:"affiliate_id,omitempty"`
	CustomerEmail string              `gorm:"type:varchar(255);not null" json:"customer_email"`
	ScheduledAt   time.Time           `gorm:"not null" json:"scheduled_at"`
	Outcome       string              `gorm:"type:varchar(32);not null;index" json:"outcome"`
	SaleValue     decimal.NullDecimal `gorm:"type:decimal(18,2)" json:"sale_value"`
	ClosedAt      *time.Time          `json:"closed_at,omitempty"`
	CreatedAt     time.Time           `json:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at"`
}

func (a *Appointment) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = newID("apt")
	}
	return nil
}

// HoldClock is the instant the commission hold period starts counting from.
func (a Appointment) HoldClock() time.Time {
	if a.ClosedAt != nil {
		return *a.ClosedAt
	}
	return a.UpdatedAt
}

// QuizSession rows are written by the quiz funnel; this service only reads them.
type QuizSession struct {
	ID            string     `gorm:"primaryKey;type:varchar(64)" json:"id"`
	AffiliateCode *string    `gorm:"type:varchar(32);index" json:"affiliate_code,omitempty"`
	Status        string     `gorm:"type:varchar(16);not null" json:"status"`
	Score         *int       `json:"score,omitempty"`
	CreatedAt     time.Time  `gorm:"not null;index" json:"created_at"`
	CompletedAt   *time.Time `gorm:"index" json:"completed_at,omitempty"`
}

func (s *QuizSession) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = newID("qs")
	}
	return nil
}
