package cmd

import (
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"

	"logguard/core"
	"logguard/triage"
)

func TestApplyFilters(t *testing.T) {
	s := &triageSession{}

	s.applyFilters([]string{"status=pending", "min=7.5", "method=advanced_ml", "limit=50"})

	assert.Equal(t, "pending", s.query.Status)
	assert.Equal(t, 7.5, s.query.MinRiskScore)
	assert.Equal(t, "advanced_ml", s.query.DetectionMethod)
	assert.Equal(t, 50, s.query.Limit)
}

func TestApplyFiltersClearsWithNoArgs(t *testing.T) {
	s := &triageSession{query: triage.AnomalyQuery{Status: "confirmed", MinRiskScore: 5}}

	s.applyFilters(nil)

	assert.Equal(t, triage.AnomalyQuery{}, s.query)
}

func TestApplyFiltersIgnoresMalformed(t *testing.T) {
	s := &triageSession{}

	s.applyFilters([]string{"status", "min=abc", "bogus=1"})

	assert.Equal(t, triage.AnomalyQuery{}, s.query)
}

func TestResolveRow(t *testing.T) {
	s := &triageSession{rows: []core.Anomaly{{ID: "first"}, {ID: "second"}}}

	row, ok := s.resolveRow("2")
	assert.True(t, ok)
	assert.Equal(t, "second", row.ID)

	_, ok = s.resolveRow("0")
	assert.False(t, ok)
	_, ok = s.resolveRow("3")
	assert.False(t, ok)
	_, ok = s.resolveRow("x")
	assert.False(t, ok)
}

func TestShortID(t *testing.T) {
	assert.Equal(t, "12345678", shortID("123456789abc"))
	assert.Equal(t, "abc", shortID("abc"))
}

func TestFormatRiskBadgePlain(t *testing.T) {
	prev := color.NoColor
	color.NoColor = true
	defer func() { color.NoColor = prev }()

	assert.Equal(t, "9.4 Critical", formatRiskBadge(9.4))
	assert.Equal(t, "2.0 Low", formatRiskBadge(2))
}

func TestFormatTimeSince(t *testing.T) {
	assert.Equal(t, "Never", formatTimeSince(time.Time{}))
	assert.Equal(t, "1 day ago", formatTimeSince(time.Now().Add(-25*time.Hour)))
	assert.Contains(t, formatTimeSince(time.Now().Add(-5*time.Minute)), "m ago")
}
