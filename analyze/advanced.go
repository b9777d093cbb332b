package analyze

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"logguard/core"
	"logguard/ingest"
)

// Model names reported in AdvancedMLResult.ModelsUsed.
const (
	modelFrequency = "frequency_zscore"
	modelRareValue = "rare_value"
	modelOffHours  = "off_hours"
)

// AdvancedMLAnalyzer is a statistical ensemble: per-source-IP frequency
// z-scores, rare field values, and off-hours activity. Each model votes with
// a confidence; an entry flagged by multiple models scores higher.
type AdvancedMLAnalyzer struct {
	logger *zap.SugaredLogger
}

func NewAdvancedMLAnalyzer(logger *zap.SugaredLogger) *AdvancedMLAnalyzer {
	return &AdvancedMLAnalyzer{logger: logger}
}

type finding struct {
	model       string
	anomalyType string
	description string
	confidence  float64
}

// Analyze runs the ensemble over the parsed entries.
func (a *AdvancedMLAnalyzer) Analyze(logFileID string, entries []ingest.ParsedEntry) *AdvancedMLResult {
	findings := make(map[int][]finding)

	a.frequencyModel(entries, findings)
	a.rareValueModel(entries, findings)
	a.offHoursModel(entries, findings)

	var anomalies []core.Anomaly
	for i := range entries {
		fs := findings[i]
		if len(fs) == 0 {
			continue
		}
		anomalies = append(anomalies, a.buildAnomaly(logFileID, &entries[i], fs))
	}

	return &AdvancedMLResult{
		Method:             core.MethodAdvancedML,
		AnomaliesFound:     len(anomalies),
		LogEntriesAnalyzed: len(entries),
		ModelsUsed:         []string{modelFrequency, modelRareValue, modelOffHours},
		Anomalies:          anomalies,
	}
}

// frequencyModel flags source IPs whose event count is a z-score outlier.
func (a *AdvancedMLAnalyzer) frequencyModel(entries []ingest.ParsedEntry, findings map[int][]finding) {
	counts := make(map[string]int)
	for i := range entries {
		if ip := sourceIP(&entries[i]); ip != "" {
			counts[ip]++
		}
	}
	if len(counts) < 3 {
		// Too few distinct sources for a meaningful distribution.
		return
	}

	var sum, sumSq float64
	for _, c := range counts {
		sum += float64(c)
		sumSq += float64(c) * float64(c)
	}
	n := float64(len(counts))
	mean := sum / n
	variance := sumSq/n - mean*mean
	if variance <= 0 {
		return
	}
	stddev := math.Sqrt(variance)

	outliers := make(map[string]float64)
	for ip, c := range counts {
		z := (float64(c) - mean) / stddev
		if z >= 2.0 {
			// Confidence grows with the z-score, saturating at z=5.
			outliers[ip] = math.Min(z/5.0, 1.0)
		}
	}
	if len(outliers) == 0 {
		return
	}

	// Attach the finding to each outlier IP's last entry so one anomaly is
	// raised per source, not per line.
	lastIndex := make(map[string]int)
	for i := range entries {
		if ip := sourceIP(&entries[i]); ip != "" {
			if _, flagged := outliers[ip]; flagged {
				lastIndex[ip] = i
			}
		}
	}
	for ip, idx := range lastIndex {
		findings[idx] = append(findings[idx], finding{
			model:       modelFrequency,
			anomalyType: "traffic_spike",
			description: fmt.Sprintf("Source %s produced an outlier volume of events (%d)", ip, counts[ip]),
			confidence:  outliers[ip],
		})
	}
}

// rareValueModel flags users and actions that appear exactly once in a file
// with enough repetition to make singletons notable.
func (a *AdvancedMLAnalyzer) rareValueModel(entries []ingest.ParsedEntry, findings map[int][]finding) {
	if len(entries) < 20 {
		return
	}

	for _, field := range []string{"user", "action"} {
		counts := make(map[string]int)
		firstIndex := make(map[string]int)
		for i := range entries {
			v := entries[i].Field(field, "")
			if v == "" || v == "-" {
				continue
			}
			if _, seen := counts[v]; !seen {
				firstIndex[v] = i
			}
			counts[v]++
		}
		if len(counts) < 2 {
			continue
		}

		for v, c := range counts {
			if c == 1 {
				idx := firstIndex[v]
				findings[idx] = append(findings[idx], finding{
					model:       modelRareValue,
					anomalyType: "rare_activity",
					description: fmt.Sprintf("Value %q for %s appears only once in this file", v, field),
					confidence:  0.6,
				})
			}
		}
	}
}

// offHoursModel flags entries timestamped between 00:00 and 05:00.
func (a *AdvancedMLAnalyzer) offHoursModel(entries []ingest.ParsedEntry, findings map[int][]finding) {
	for i := range entries {
		ts := entries[i].Timestamp
		if ts.IsZero() {
			continue
		}
		hour := ts.Hour()
		if hour < 5 {
			findings[i] = append(findings[i], finding{
				model:       modelOffHours,
				anomalyType: "off_hours_activity",
				description: fmt.Sprintf("Activity at %02d:%02d, outside working hours", hour, ts.Minute()),
				confidence:  0.5,
			})
		}
	}
}

func (a *AdvancedMLAnalyzer) buildAnomaly(logFileID string, entry *ingest.ParsedEntry, fs []finding) core.Anomaly {
	// Combine votes: P(anomaly) = 1 - prod(1 - confidence_i).
	miss := 1.0
	models := make([]string, 0, len(fs))
	for _, f := range fs {
		miss *= 1.0 - f.confidence
		models = append(models, f.model)
	}
	confidence := 1.0 - miss

	primary := fs[0]
	for _, f := range fs[1:] {
		if f.confidence > primary.confidence {
			primary = f
		}
	}

	ts := entry.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	return core.Anomaly{
		ID:              uuid.NewString(),
		LogFileID:       logFileID,
		Timestamp:       ts,
		AnomalyType:     primary.anomalyType,
		Description:     primary.description,
		RiskScore:       core.ClampRiskScore(confidence * core.MaxRiskScore),
		DetectionMethod: core.MethodAdvancedML,
		Status:          core.StatusPending,
		SourceData: map[string]interface{}{
			"confidence": confidence,
			"models":     models,
			"sourceIP":   sourceIP(entry),
			"user":       entry.Field("user", ""),
			"action":     entry.Field("action", ""),
			"url":        entry.Field("url", ""),
		},
		RawLogEntry:   entry.Raw,
		LogLineNumber: entry.LineNumber,
		CreatedAt:     time.Now().UTC(),
	}
}

func sourceIP(entry *ingest.ParsedEntry) string {
	if ip := entry.Field("source_ip", ""); ip != "" {
		return ip
	}
	return entry.Field("src", "")
}
