// Package core holds the domain model shared by the API, storage, analysis,
// and triage layers: anomaly records, log file records, risk banding, and the
// detection-method classification.
package core

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// Anomaly statuses. An anomaly starts as pending and is only moved by analyst
// action (single or bulk update) or by reprocessing the source file.
const (
	StatusPending       = "pending"
	StatusUnderReview   = "under_review"
	StatusConfirmed     = "confirmed"
	StatusFalsePositive = "false_positive"
	StatusDismissed     = "dismissed"
)

// Anomaly priorities, set only through the review workflow.
const (
	PriorityLow      = "low"
	PriorityMedium   = "medium"
	PriorityHigh     = "high"
	PriorityCritical = "critical"
)

// Risk score bounds. Scores are clamped into this range on write.
const (
	MinRiskScore = 0.0
	MaxRiskScore = 10.0
)

// Anomaly represents one detected suspicious event extracted from a log file.
// JSON field names follow the dashboard wire contract (camelCase).
type Anomaly struct {
	ID              string                 `json:"id"`
	LogFileID       string                 `json:"logFileId,omitempty"`
	Timestamp       time.Time              `json:"timestamp"`
	AnomalyType     string                 `json:"anomalyType"`
	Description     string                 `json:"description"`
	RiskScore       float64                `json:"riskScore"`
	DetectionMethod string                 `json:"detectionMethod"`
	Status          string                 `json:"status"`
	SourceData      map[string]interface{} `json:"sourceData,omitempty"`
	RawLogEntry     string                 `json:"rawLogEntry,omitempty"`
	LogLineNumber   int                    `json:"logLineNumber,omitempty"`
	AIAnalysis      map[string]interface{} `json:"aiAnalysis,omitempty"`
	Priority        string                 `json:"priority,omitempty"`
	AnalystNotes    string                 `json:"analystNotes,omitempty"`
	ReviewedAt      *time.Time             `json:"reviewedAt,omitempty"`
	CreatedAt       time.Time              `json:"createdAt"`
}

// AnomalyUpdate carries the mutable review fields for a partial update.
// Nil fields are left untouched.
type AnomalyUpdate struct {
	Status       *string    `json:"status,omitempty"`
	Priority     *string    `json:"priority,omitempty"`
	AnalystNotes *string    `json:"analystNotes,omitempty"`
	ReviewedAt   *time.Time `json:"reviewedAt,omitempty"`
}

// Validate checks that the update carries only known status/priority values.
func (u *AnomalyUpdate) Validate() error {
	if u.Status != nil && !ValidStatus(*u.Status) {
		return fmt.Errorf("invalid status: %s", *u.Status)
	}
	if u.Priority != nil && !ValidPriority(*u.Priority) {
		return fmt.Errorf("invalid priority: %s", *u.Priority)
	}
	return nil
}

// Empty reports whether the update would change nothing.
func (u *AnomalyUpdate) Empty() bool {
	return u.Status == nil && u.Priority == nil && u.AnalystNotes == nil
}

// ValidStatus reports whether s is a known anomaly status.
func ValidStatus(s string) bool {
	switch s {
	case StatusPending, StatusUnderReview, StatusConfirmed, StatusFalsePositive, StatusDismissed:
		return true
	}
	return false
}

// ValidPriority reports whether p is a known priority.
func ValidPriority(p string) bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// StatusLabel returns the human-readable label for a status.
func StatusLabel(status string) string {
	switch status {
	case StatusPending:
		return "Pending Review"
	case StatusUnderReview:
		return "Under Review"
	case StatusConfirmed:
		return "Confirmed"
	case StatusFalsePositive:
		return "False Positive"
	case StatusDismissed:
		return "Dismissed"
	default:
		return DisplayType(status)
	}
}

// Risk level bands derived from the risk score.
const (
	RiskLow      = "Low"
	RiskMedium   = "Medium"
	RiskHigh     = "High"
	RiskCritical = "Critical"
)

// RiskLevel maps a score to its severity band: <4 Low, [4,7) Medium,
// [7,9) High, >=9 Critical. Non-finite input is treated as zero so callers
// never see a band derived from NaN.
func RiskLevel(score float64) string {
	if math.IsNaN(score) || math.IsInf(score, 0) {
		score = 0
	}
	switch {
	case score < 4:
		return RiskLow
	case score < 7:
		return RiskMedium
	case score < 9:
		return RiskHigh
	default:
		return RiskCritical
	}
}

// ClampRiskScore forces a score into [0, 10]; non-finite values become 0.
func ClampRiskScore(score float64) float64 {
	if math.IsNaN(score) || math.IsInf(score, 0) {
		return 0
	}
	if score < MinRiskScore {
		return MinRiskScore
	}
	if score > MaxRiskScore {
		return MaxRiskScore
	}
	return score
}

// FormatRiskScore renders a score with one decimal of display precision.
func FormatRiskScore(score float64) string {
	if math.IsNaN(score) || math.IsInf(score, 0) {
		score = 0
	}
	return strconv.FormatFloat(score, 'f', 1, 64)
}

// RiskBadge renders the "9.4 Critical" style badge text.
func RiskBadge(score float64) string {
	return FormatRiskScore(score) + " " + RiskLevel(score)
}

// DisplayType derives the display label for an anomaly type tag by replacing
// underscores with spaces and title-casing each word.
func DisplayType(anomalyType string) string {
	words := strings.Split(strings.ReplaceAll(anomalyType, "_", " "), " ")
	for i, w := range words {
		if w == "" {
			continue
		}
		r, size := utf8.DecodeRuneInString(w)
		words[i] = string(unicode.ToUpper(r)) + w[size:]
	}
	return strings.Join(words, " ")
}

// SourceString extracts a string field from the source data bag, returning
// fallback when the key is absent or not a string.
func (a *Anomaly) SourceString(key, fallback string) string {
	if a.SourceData == nil {
		return fallback
	}
	v, ok := a.SourceData[key]
	if !ok || v == nil {
		return fallback
	}
	if s, ok := v.(string); ok {
		if s == "" {
			return fallback
		}
		return s
	}
	return fmt.Sprintf("%v", v)
}
