package store

import (
	"strings"
	"time"
)

// Execution status constants.
const (
	StatusPassed = "passed"
	StatusFailed = "failed"
)

// Project groups test cases sharing one Playwright project directory.
type Project struct {
	ID        uint       `gorm:"primaryKey" json:"id"`
	Name      string     `gorm:"uniqueIndex;not null" json:"name"`
	BaseURL   string     `json:"base_url"`
	Status    string     `json:"status"`
	LastRun   *time.Time `json:"last_run"`
	LastRunBy string     `json:"last_run_by"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// TestCase is a user-authored browser test composed of ordered steps.
// Status and LastRun are a fast-path cache for list views; the Execution
// history is authoritative.
type TestCase struct {
	ID        uint       `gorm:"primaryKey" json:"id"`
	ProjectID uint       `gorm:"index;not null" json:"project_id"`
	Name      string     `gorm:"not null" json:"name"`
	Tags      string     `json:"tags"` // comma-separated
	Status    string     `json:"status"`
	LastRun   *time.Time `json:"last_run"`
	LastRunBy string     `json:"last_run_by"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Fixture is a reusable, named step group.
type Fixture struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	ProjectID uint      `gorm:"index;not null" json:"project_id"`
	Name      string    `gorm:"not null" json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Step is one ordered unit of test intent. Exactly one of TestCaseID and
// FixtureID is set. RefFixtureID is a weak link to a reusable step group;
// it is resolved at materialization time, never owned.
type Step struct {
	ID           uint   `gorm:"primaryKey" json:"id"`
	TestCaseID   *uint  `gorm:"index" json:"test_case_id,omitempty"`
	FixtureID    *uint  `gorm:"index" json:"fixture_id,omitempty"`
	Order        int    `gorm:"column:step_order;not null" json:"order"`
	Action       string `gorm:"not null" json:"action"`
	Data         string `json:"data,omitempty"`
	Expected     string `json:"expected,omitempty"`
	Selector     string `json:"selector,omitempty"`
	Disabled     bool   `json:"disabled"`
	RefFixtureID *uint  `json:"ref_fixture_id,omitempty"`
}

// Execution is one immutable history row per orchestrated run. Rows are
// inserted exactly once and never updated or deleted by this subsystem.
type Execution struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	ProjectID       uint      `gorm:"index;not null" json:"project_id"`
	TestCaseID      *uint     `gorm:"index" json:"test_case_id,omitempty"` // nil for whole-project sweeps
	Success         bool      `json:"success"`
	Status          string    `gorm:"not null" json:"status"`
	ExecutionTimeMS *int64    `json:"execution_time_ms,omitempty"` // absent on process-launch failure
	Output          string    `gorm:"type:text" json:"output"`
	ErrorMessage    *string   `json:"error_message,omitempty"`
	ResultData      *string   `gorm:"type:text" json:"result_data,omitempty"` // nil when the report failed to parse
	Browser         string    `json:"browser"`
	InitiatorID     string    `json:"initiator_id"`
	VideoRef        *string   `json:"video_ref,omitempty"`
	SystemInfo      *string   `gorm:"type:text" json:"system_info,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// TagList splits the comma-separated tag field into a slice.
func (tc *TestCase) TagList() []string {
	if tc.Tags == "" {
		return nil
	}

	parts := strings.Split(tc.Tags, ",")
	tags := make([]string, 0, len(parts))

	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			tags = append(tags, t)
		}
	}

	return tags
}
