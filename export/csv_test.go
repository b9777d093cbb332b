package export

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"logguard/core"
)

func exportAnomaly() core.Anomaly {
	return core.Anomaly{
		ID:              "a1",
		Timestamp:       time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC),
		AnomalyType:     "suspicious_access",
		Description:     "Failed logins",
		RiskScore:       8.2,
		DetectionMethod: "traditional",
		Status:          core.StatusPending,
		SourceData: map[string]interface{}{
			"sourceIP": "203.0.113.9",
			"user":     "alice",
		},
	}
}

func TestEncodeCSV_HeaderAndRowCount(t *testing.T) {
	anomalies := []core.Anomaly{exportAnomaly(), exportAnomaly(), exportAnomaly()}

	out := EncodeCSV(anomalies)
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	require.Len(t, lines, 4, "header plus one line per anomaly")
	assert.Equal(t, strings.Join(Columns, ","), lines[0])
}

func TestEncodeCSV_Empty(t *testing.T) {
	assert.Equal(t, "", EncodeCSV(nil))
	assert.Equal(t, "", EncodeCSV([]core.Anomaly{}))
}

func TestEncodeCSV_FieldValues(t *testing.T) {
	out := EncodeCSV([]core.Anomaly{exportAnomaly()})
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	require.Len(t, lines, 2)

	cells := strings.Split(lines[1], ",")
	require.Len(t, cells, len(Columns))
	assert.Equal(t, "2024-03-01T12:30:00Z", cells[0], "timestamp is ISO-8601")
	assert.Equal(t, "suspicious_access", cells[1])
	assert.Equal(t, "8.2", cells[3], "risk score uses default numeric coercion")
	assert.Equal(t, "traditional", cells[4])
	assert.Equal(t, "Traditional", cells[5], "derived category sits next to raw method")
	assert.Equal(t, "203.0.113.9", cells[7])
	assert.Equal(t, "N/A", cells[8], "missing sourceData fields render as N/A")
	assert.Equal(t, "alice", cells[9])
	assert.Equal(t, "N/A", cells[12])
}

func TestEncodeCSV_AsymmetricQuoting(t *testing.T) {
	a := exportAnomaly()
	a.Description = `He said "hi", ok`

	out := EncodeCSV([]core.Anomaly{a})
	assert.Contains(t, out, `"He said ""hi"", ok"`)
}

func TestEncodeCSV_PlainStringsUnquoted(t *testing.T) {
	a := exportAnomaly()
	a.Description = "no special characters here"

	out := EncodeCSV([]core.Anomaly{a})
	assert.NotContains(t, out, `"no special characters here"`)
	assert.Contains(t, out, "no special characters here")
}

func TestEncodeCSV_CommaOnlyTriggersQuoting(t *testing.T) {
	a := exportAnomaly()
	a.Description = "first, second"

	out := EncodeCSV([]core.Anomaly{a})
	assert.Contains(t, out, `"first, second"`)
}

func TestEncodeCSV_DoesNotMutateInput(t *testing.T) {
	a := exportAnomaly()
	original := a.Description

	_ = EncodeCSV([]core.Anomaly{a})
	assert.Equal(t, original, a.Description)
	assert.Equal(t, "203.0.113.9", a.SourceData["sourceIP"])
}

func TestFilename(t *testing.T) {
	now := time.Date(2024, 7, 9, 23, 59, 0, 0, time.UTC)
	assert.Equal(t, "anomalies-export-2024-07-09.csv", Filename(now))
}
