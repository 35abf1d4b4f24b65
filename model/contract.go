package model

import (
	"time"
)

// Contract represents an uploaded contract document and its analysis state
type Contract struct {
	ID               string          `json:"id"`
	OrganizationID   string          `json:"organizationId"`
	UploadedByUserID string          `json:"uploadedByUserId"`
	Name             string          `json:"name"`
	StorageKey       string          `json:"storageKey"`
	MIMEType         string          `json:"mimeType"`
	SizeBytes        int64           `json:"sizeBytes"`
	Status           Status          `json:"status"`
	AnalysisResults  *AnalysisResult `json:"analysisResults"`
	AnalysisError    *string         `json:"analysisError"`

	// Derived from AnalysisResults once the contract is active
	Title         *string    `json:"title,omitempty"`
	Counterparty  *string    `json:"counterparty,omitempty"`
	ContractType  *string    `json:"contractType,omitempty"`
	RiskLevel     *string    `json:"riskLevel,omitempty"`
	Value         *string    `json:"value,omitempty"`
	EffectiveDate *time.Time `json:"effectiveDate,omitempty"`
	ExpiryDate    *time.Time `json:"expiryDate,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Status is the lifecycle state of a contract
type Status string

// Contract status constants
const (
	StatusProcessing Status = "processing"
	StatusActive     Status = "active"
	StatusFailed     Status = "failed"
	StatusArchived   Status = "archived"
	StatusExpired    Status = "expired"
	StatusDraft      Status = "draft"
	StatusExpiring   Status = "expiring"
)

// IsTerminal reports whether the pipeline will not move the contract again.
func (s Status) IsTerminal() bool {
	return s == StatusActive || s == StatusFailed
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusProcessing, StatusActive, StatusFailed, StatusArchived,
		StatusExpired, StatusDraft, StatusExpiring:
		return true
	}
	return false
}

// ApplyResult moves the contract to active with the given result and fills
// the derived columns. It clears any previous analysis error.
func (c *Contract) ApplyResult(result *AnalysisResult, now time.Time) {
	c.Status = StatusActive
	c.AnalysisResults = result
	c.AnalysisError = nil
	c.Title = result.Title
	c.Counterparty = result.Counterparty
	c.ContractType = result.ContractType
	level := string(result.RiskLevel)
	c.RiskLevel = &level
	c.Value = result.Value
	c.EffectiveDate = ParseDate(result.EffectiveDate)
	c.ExpiryDate = ParseDate(result.ExpiryDate)
	c.UpdatedAt = now
}

// ApplyFailure moves the contract to failed with a diagnostic message.
func (c *Contract) ApplyFailure(diagnostic string, now time.Time) {
	c.Status = StatusFailed
	c.AnalysisResults = nil
	c.AnalysisError = &diagnostic
	c.UpdatedAt = now
}

// ParseDate parses a YYYY-MM-DD string. Anything else yields nil.
func ParseDate(s *string) *time.Time {
	if s == nil {
		return nil
	}
	t, err := time.Parse(DateLayout, *s)
	if err != nil {
		return nil
	}
	return &t
}
