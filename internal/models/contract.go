package models

import "time"

// ContractStatus is the lifecycle state of an uploaded contract.
type ContractStatus string

const (
	StatusPending ContractStatus = "PENDING"
	StatusSuccess ContractStatus = "SUCCESS"
	StatusError   ContractStatus = "ERROR"
)

// Terminal reports whether no further transition is allowed.
func (s ContractStatus) Terminal() bool {
	return s == StatusSuccess || s == StatusError
}

// Contract is one upload and, once analysed, its structured extraction.
type Contract struct {
	ID              int64          `json:"id"`
	Filename        string         `json:"filename"`
	Status          ContractStatus `json:"status"`
	ExtractedData   map[string]any `json:"extracted_data,omitempty"`
	AnalysisSummary *string        `json:"analysis_summary,omitempty"`
	Provider        string         `json:"provider"`
	StorageKey      *string        `json:"storage_key,omitempty"`
	UserID          *int64         `json:"user_id,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	IsDeleted       bool           `json:"is_deleted"`
	DeletedAt       *time.Time     `json:"deleted_at,omitempty"`
	DeletedByID     *int64         `json:"deleted_by_id,omitempty"`
}

// ContractStats counts visible contracts per status.
type ContractStats struct {
	Analyzed int64 `json:"analyzed"`
	Pending  int64 `json:"pending"`
	Error    int64 `json:"error"`
}
