package analyze

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"logguard/core"
	"logguard/ingest"
)

func newTraditional(t *testing.T) *TraditionalAnalyzer {
	t.Helper()
	analyzer, err := NewTraditionalAnalyzer("", time.Second, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	return analyzer
}

func parseLines(t *testing.T, lines ...string) []ingest.ParsedEntry {
	t.Helper()
	entries, err := ingest.NewParser(0).Parse(strings.NewReader(strings.Join(lines, "\n")))
	require.NoError(t, err)
	return entries
}

func TestTraditionalAnalyzer_DetectsFailedLogins(t *testing.T) {
	analyzer := newTraditional(t)
	entries := parseLines(t,
		"Mar  1 12:00:00 host sshd[991]: Failed password for root from 203.0.113.9",
		"Mar  1 12:00:05 host sshd[991]: Accepted password for alice",
	)

	result := analyzer.Analyze("file-1", entries)

	assert.Equal(t, core.MethodTraditional, result.Method)
	assert.Equal(t, 2, result.LogEntriesAnalyzed)
	require.GreaterOrEqual(t, result.AnomaliesFound, 1)

	found := result.Anomalies[0]
	assert.Equal(t, "file-1", found.LogFileID)
	assert.Equal(t, "suspicious_access", found.AnomalyType)
	assert.Equal(t, core.MethodTraditional, found.DetectionMethod)
	assert.Equal(t, core.StatusPending, found.Status)
	assert.Equal(t, 1, found.LogLineNumber)
	assert.InDelta(t, 5.5, found.RiskScore, 0.01)
}

func TestTraditionalAnalyzer_FieldScopedRule(t *testing.T) {
	analyzer := newTraditional(t)
	entries := parseLines(t,
		`10.0.0.1 - - [10/Oct/2024:13:55:36 -0700] "GET /products?id=1%27%20OR%201=1 HTTP/1.1" 200 512`,
		`10.0.0.2 - - [10/Oct/2024:13:55:40 -0700] "GET /index.html HTTP/1.1" 200 512`,
	)

	result := analyzer.Analyze("file-1", entries)

	var injection *core.Anomaly
	for i := range result.Anomalies {
		if result.Anomalies[i].AnomalyType == "injection_attempt" {
			injection = &result.Anomalies[i]
		}
	}
	require.NotNil(t, injection, "sql injection in url field must be flagged")
	assert.InDelta(t, 8.5, injection.RiskScore, 0.01)
}

func TestTraditionalAnalyzer_CleanFileFindsNothing(t *testing.T) {
	analyzer := newTraditional(t)
	entries := parseLines(t,
		"Mar  1 09:00:00 host cron[12]: job started",
		"Mar  1 09:05:00 host cron[12]: job finished",
	)

	result := analyzer.Analyze("file-1", entries)
	assert.Zero(t, result.AnomaliesFound)
	assert.Empty(t, result.Anomalies)
}

func TestTraditionalAnalyzer_EmptyInput(t *testing.T) {
	analyzer := newTraditional(t)
	result := analyzer.Analyze("file-1", nil)

	assert.Zero(t, result.AnomaliesFound)
	assert.Zero(t, result.LogEntriesAnalyzed)
}

func TestNewTraditionalAnalyzer_BadRulesFile(t *testing.T) {
	_, err := NewTraditionalAnalyzer("/nonexistent/rules.yaml", time.Second, zaptest.NewLogger(t).Sugar())
	assert.Error(t, err)
}
