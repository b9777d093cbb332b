package analyze

import (
	"fmt"
	"os"
	"time"

	"github.com/dlclark/regexp2"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"logguard/core"
	"logguard/ingest"
)

// Rule is one pattern-based detection rule.
type Rule struct {
	Name        string  `yaml:"name"`
	AnomalyType string  `yaml:"anomaly_type"`
	Description string  `yaml:"description"`
	Pattern     string  `yaml:"pattern"`
	// Field restricts matching to one parsed field; empty matches the raw line.
	Field     string  `yaml:"field,omitempty"`
	RiskScore float64 `yaml:"risk_score"`
}

type ruleFile struct {
	Rules []Rule `yaml:"rules"`
}

// defaultRules ships a baseline rule set so the strategy works out of the box.
const defaultRules = `
rules:
  - name: failed-password
    anomaly_type: suspicious_access
    description: Failed password attempt
    pattern: '(?i)failed password|authentication failure|invalid user'
    risk_score: 5.5
  - name: root-login
    anomaly_type: privilege_escalation
    description: Direct root login or su to root
    pattern: '(?i)(session opened for user root|su[:\s].*root|sudo.*COMMAND)'
    risk_score: 6.5
  - name: sql-injection
    anomaly_type: injection_attempt
    description: SQL injection pattern in request
    pattern: '(?i)(union\s+select|or\s+1\s*=\s*1|;\s*drop\s+table|%27|\x27\s*or)'
    field: url
    risk_score: 8.5
  - name: path-traversal
    anomaly_type: injection_attempt
    description: Path traversal sequence in request
    pattern: '(\.\./){2,}|%2e%2e%2f'
    field: url
    risk_score: 7.5
  - name: web-auth-failure
    anomaly_type: suspicious_access
    description: Repeated 401/403 on sensitive paths
    pattern: '(?i)(/admin|/wp-login|/\.env|/config)'
    field: url
    risk_score: 6.0
  - name: malware-indicator
    anomaly_type: malware_detection
    description: Known malware or dropper indicator
    pattern: '(?i)(mimikatz|meterpreter|cobalt\s*strike|powershell\s+-enc)'
    risk_score: 9.5
  - name: firewall-deny-burst
    anomaly_type: network_scan
    description: Firewall deny from external source
    pattern: '(?i)(deny|denied|drop|blocked)'
    field: action
    risk_score: 4.5
`

type compiledRule struct {
	Rule
	re *regexp2.Regexp
}

// TraditionalAnalyzer is the rule-based strategy.
type TraditionalAnalyzer struct {
	rules  []compiledRule
	logger *zap.SugaredLogger
}

// NewTraditionalAnalyzer compiles the rule set. rulesFile optionally overrides
// the embedded defaults. regexTimeout bounds each pattern evaluation so one
// pathological rule cannot stall an analysis run.
func NewTraditionalAnalyzer(rulesFile string, regexTimeout time.Duration, logger *zap.SugaredLogger) (*TraditionalAnalyzer, error) {
	data := []byte(defaultRules)
	if rulesFile != "" {
		fileData, err := os.ReadFile(rulesFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read rules file: %w", err)
		}
		data = fileData
	}

	var rf ruleFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("failed to parse rules: %w", err)
	}
	if len(rf.Rules) == 0 {
		return nil, fmt.Errorf("rule set is empty")
	}

	compiled := make([]compiledRule, 0, len(rf.Rules))
	for _, r := range rf.Rules {
		re, err := regexp2.Compile(r.Pattern, 0)
		if err != nil {
			return nil, fmt.Errorf("rule %s: invalid pattern: %w", r.Name, err)
		}
		re.MatchTimeout = regexTimeout
		compiled = append(compiled, compiledRule{Rule: r, re: re})
	}

	logger.Infow("Traditional analyzer ready", "rules", len(compiled))
	return &TraditionalAnalyzer{rules: compiled, logger: logger}, nil
}

// Analyze runs every rule over every entry. One anomaly is emitted per
// (entry, rule) match; risk scores come from the rule, clamped into range.
func (t *TraditionalAnalyzer) Analyze(logFileID string, entries []ingest.ParsedEntry) *TraditionalResult {
	var anomalies []core.Anomaly

	for i := range entries {
		entry := &entries[i]
		for _, rule := range t.rules {
			subject := entry.Raw
			if rule.Field != "" {
				subject = entry.Field(rule.Field, "")
				if subject == "" {
					continue
				}
			}

			matched, err := rule.re.MatchString(subject)
			if err != nil {
				// regexp2 returns an error on MatchTimeout; skip, don't abort.
				t.logger.Warnw("Rule evaluation timed out",
					"rule", rule.Name, "line", entry.LineNumber, "error", err)
				continue
			}
			if !matched {
				continue
			}

			anomalies = append(anomalies, t.buildAnomaly(logFileID, entry, &rule.Rule))
		}
	}

	return &TraditionalResult{
		Method:             core.MethodTraditional,
		AnomaliesFound:     len(anomalies),
		LogEntriesAnalyzed: len(entries),
		Anomalies:          anomalies,
	}
}

func (t *TraditionalAnalyzer) buildAnomaly(logFileID string, entry *ingest.ParsedEntry, rule *Rule) core.Anomaly {
	ts := entry.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	sourceData := map[string]interface{}{
		"rule":     rule.Name,
		"sourceIP": entry.Field("source_ip", entry.Field("src", "")),
		"user":     entry.Field("user", ""),
		"action":   entry.Field("action", ""),
		"url":      entry.Field("url", ""),
	}
	return core.Anomaly{
		ID:              uuid.NewString(),
		LogFileID:       logFileID,
		Timestamp:       ts,
		AnomalyType:     rule.AnomalyType,
		Description:     rule.Description,
		RiskScore:       core.ClampRiskScore(rule.RiskScore),
		DetectionMethod: core.MethodTraditional,
		Status:          core.StatusPending,
		SourceData:      sourceData,
		RawLogEntry:     entry.Raw,
		LogLineNumber:   entry.LineNumber,
		CreatedAt:       time.Now().UTC(),
	}
}
