// Package export renders anomaly result sets as downloadable CSV.
package export

import (
	"fmt"
	"strings"
	"time"

	"logguard/core"
)

// MIMEType is the content type sent with CSV downloads.
const MIMEType = "text/csv;charset=utf-8"

// Columns is the fixed export schema; the header row is exactly these names.
var Columns = []string{
	"timestamp",
	"anomalyType",
	"description",
	"riskScore",
	"detectionMethod",
	"detectionCategory",
	"status",
	"sourceIP",
	"destinationIP",
	"user",
	"action",
	"url",
	"category",
}

// Filename returns the download filename for an export generated at now.
func Filename(now time.Time) string {
	return "anomalies-export-" + now.Format("2006-01-02") + ".csv"
}

// field is one CSV cell; only string-typed values are candidates for quoting.
type field struct {
	value    string
	isString bool
}

// escape applies the encoder's quoting rule: a cell is quoted, with interior
// double quotes doubled, if and only if it is a string containing a comma or
// a double quote. Everything else is emitted verbatim. Deliberately not full
// RFC 4180: newlines inside fields are not treated specially, matching what
// downstream consumers of these exports already parse.
func escape(f field) string {
	if !f.isString {
		return f.value
	}
	if strings.ContainsAny(f.value, `,"`) {
		return `"` + strings.ReplaceAll(f.value, `"`, `""`) + `"`
	}
	return f.value
}

func str(v string) field          { return field{value: v, isString: true} }
func num(v float64) field         { return field{value: fmt.Sprintf("%g", v), isString: false} }
func sourceField(a *core.Anomaly, key string) field {
	return str(a.SourceString(key, "N/A"))
}

// row renders one anomaly into the fixed column order.
func row(a *core.Anomaly) []field {
	return []field{
		str(a.Timestamp.Format(time.RFC3339)),
		str(a.AnomalyType),
		str(a.Description),
		num(a.RiskScore),
		str(a.DetectionMethod),
		str(string(core.ClassifyDetectionMethod(a.DetectionMethod))),
		str(a.Status),
		sourceField(a, "sourceIP"),
		sourceField(a, "destinationIP"),
		sourceField(a, "user"),
		sourceField(a, "action"),
		sourceField(a, "url"),
		sourceField(a, "category"),
	}
}

// EncodeCSV serializes the full result set: one header line plus one line per
// anomaly. An empty or nil set encodes to the empty string so callers can
// treat it as "nothing to export". The input is never mutated.
func EncodeCSV(anomalies []core.Anomaly) string {
	if len(anomalies) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString(strings.Join(Columns, ","))
	b.WriteString("\n")

	for i := range anomalies {
		cells := row(&anomalies[i])
		for j, cell := range cells {
			if j > 0 {
				b.WriteString(",")
			}
			b.WriteString(escape(cell))
		}
		b.WriteString("\n")
	}
	return b.String()
}
