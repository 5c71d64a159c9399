package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// OracleRun is one append-only record per pipeline run, successful or not.
type OracleRun struct {
	ID    uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	RunAt time.Time `gorm:"type:timestamptz;not null;index" json:"run_at"`

	FetchOK   bool    `gorm:"not null" json:"fetch_ok"`
	FailStage *string `gorm:"type:varchar(20)" json:"fail_stage,omitempty"`

	IndexValue *float64 `json:"index_value,omitempty"`
	IndexText  *string  `gorm:"type:varchar(50)" json:"index_text,omitempty"`

	FeeRateBps     *int                `json:"fee_rate_bps,omitempty"`
	FeePercent     decimal.NullDecimal `gorm:"type:numeric(10,4)" json:"fee_percent,omitempty"`
	FeeExplanation string              `gorm:"type:varchar(200)" json:"fee_explanation,omitempty"`

	CommitStatus string  `gorm:"type:varchar(20);not null;index" json:"commit_status"`
	TxHash       *string `gorm:"type:varchar(80)" json:"tx_hash,omitempty"`
	BlockNumber  *uint64 `json:"block_number,omitempty"`
	CommitReason *string `gorm:"type:varchar(500)" json:"commit_reason,omitempty"`

	SessionAgeMinutes float64        `gorm:"not null" json:"session_age_minutes"`
	Detail            datatypes.JSON `gorm:"type:jsonb" json:"detail,omitempty"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime" json:"created_at"`
}

func (OracleRun) TableName() string {
	return "oracle_runs"
}
