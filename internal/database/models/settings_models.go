package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const (
	OutcomePending       = "pending"
	OutcomeFollowUp      = "follow_up"
	OutcomeRescheduled   = "rescheduled"
	OutcomeNoShow        = "no_show"
	OutcomeConverted     = "converted"
	OutcomeNotInterested = "not_interested"
	OutcomeCancelled     = "cancelled"
)

var AllOutcomes = []string{
	OutcomePending,
	OutcomeFollowUp,
	OutcomeRescheduled,
	OutcomeNoShow,
	OutcomeConverted,
	OutcomeNotInterested,
	OutcomeCancelled,
}

func IsKnownOutcome(outcome string) bool {
	for _, o := range AllOutcomes {
		if o == outcome {
			return true
		}
	}
	return false
}

const (
	PayoutWeekly   = "weekly"
	PayoutBiweekly = "biweekly"
	PayoutMonthly  = "monthly"
)

const SettingsRowID = 1

type StringArray []string

func (a *StringArray) Scan(value interface{}) error {
	if value == nil {
		*a = []string{}
		return nil
	}

	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("failed to scan StringArray: %v", value)
	}

	return json.Unmarshal(raw, a)
}

func (a StringArray) Value() (driver.Value, error) {
	if a == nil {
		return "[]", nil
	}
	b, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (a StringArray) Contains(s string) bool {
	for _, v := range a {
		if v == s {
			return true
		}
	}
	return false
}

// Settings is the admin-editable singleton (row id 1).
type Settings struct {
	ID                     uint            `gorm:"primaryKey" json:"-"`
	CommissionHoldDays     int             `gorm:"not null" json:"commission_hold_days"`
	MinimumPayout          decimal.Decimal `gorm:"type:decimal(18,2);not null" json:"minimum_payout"`
	PayoutSchedule         string          `gorm:"type:varchar(16);not null" json:"payout_schedule"`
	QualificationThreshold int             `gorm:"not null" json:"qualification_threshold"`
	NewDealAmountPotential decimal.Decimal `gorm:"type:decimal(18,2);not null" json:"new_deal_amount_potential"`
	TerminalOutcomes       StringArray     `gorm:"type:text;not null" json:"terminal_outcomes"`
	SuccessOutcome         string          `gorm:"type:varchar(32);not null" json:"success_outcome"`
	UpdatedAt              time.Time       `json:"updated_at"`
}

func DefaultSettings() Settings {
	return Settings{
		ID:                     SettingsRowID,
		CommissionHoldDays:     30,
		MinimumPayout:          decimal.NewFromInt(50),
		PayoutSchedule:         PayoutMonthly,
		QualificationThreshold: 70,
		NewDealAmountPotential: decimal.NewFromInt(1000),
		TerminalOutcomes:       StringArray{OutcomeConverted, OutcomeNotInterested, OutcomeCancelled},
		SuccessOutcome:         OutcomeConverted,
	}
}

func (s Settings) IsTerminal(outcome string) bool {
	return s.TerminalOutcomes.Contains(outcome)
}

func (s Settings) HoldPeriod() time.Duration {
	return time.Duration(s.CommissionHoldDays) * 24 * time.Hour
}
