// Package ingest turns uploaded log files into structured entries that the
// analysis strategies can score.
package ingest

import (
	"bufio"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const maxFieldLength = 50000
const maxSanitizeDepth = 20

// ParsedEntry is one structured log line.
type ParsedEntry struct {
	LineNumber int                    `json:"lineNumber"`
	Raw        string                 `json:"raw"`
	Format     string                 `json:"format"`
	Timestamp  time.Time              `json:"timestamp"`
	Fields     map[string]interface{} `json:"fields"`
}

// Field returns a string field with a fallback for absent or non-string values.
func (e *ParsedEntry) Field(key, fallback string) string {
	if v, ok := e.Fields[key]; ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return fallback
}

// sanitizeFields escapes string values and caps their length so a hostile log
// file cannot smuggle markup into the dashboard or blow up storage.
func sanitizeFields(fields map[string]interface{}, depth int) error {
	if depth > maxSanitizeDepth {
		return fmt.Errorf("maximum sanitization depth exceeded")
	}
	for k, v := range fields {
		switch val := v.(type) {
		case string:
			sanitized := html.EscapeString(val)
			if len(sanitized) > maxFieldLength {
				sanitized = sanitized[:maxFieldLength] + "..."
			}
			fields[k] = sanitized
		case map[string]interface{}:
			if err := sanitizeFields(val, depth+1); err != nil {
				return err
			}
		case []interface{}:
			for i, elem := range val {
				if elemMap, ok := elem.(map[string]interface{}); ok {
					if err := sanitizeFields(elemMap, depth+1); err != nil {
						return err
					}
				} else if elemStr, ok := elem.(string); ok {
					sanitized := html.EscapeString(elemStr)
					if len(sanitized) > maxFieldLength {
						sanitized = sanitized[:maxFieldLength] + "..."
					}
					val[i] = sanitized
				}
			}
		}
	}
	return nil
}

// combinedRe matches the Apache/Nginx combined log format.
var combinedRe = regexp.MustCompile(`^(\S+) \S+ (\S+) \[([^\]]+)\] "(\S+) (\S+)[^"]*" (\d{3}) (\S+)(?: "([^"]*)" "([^"]*)")?`)

// syslogRe matches RFC3164: <pri>MMM dd hh:mm:ss hostname message
var syslogRe = regexp.MustCompile(`^<(\d+)>(\w{3}\s+\d+\s+\d+:\d+:\d+)\s+(\S+)\s+(.+)$`)

// kvRe matches a key=value token, with optional quoting on the value.
var kvRe = regexp.MustCompile(`(\w[\w.-]*)=("(?:[^"\\]|\\.)*"|\S+)`)

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"02/Jan/2006:15:04:05 -0700",
	"Jan _2 15:04:05",
}

func parseTimestamp(value string) (time.Time, bool) {
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, value); err == nil {
			// Syslog timestamps carry no year; assume the current one.
			if ts.Year() == 0 {
				now := time.Now()
				ts = ts.AddDate(now.Year(), 0, 0)
			}
			return ts, true
		}
	}
	return time.Time{}, false
}

// extractTimestamp pulls a timestamp out of parsed fields under the usual
// names, falling back to the zero time.
func extractTimestamp(fields map[string]interface{}) time.Time {
	for _, key := range []string{"timestamp", "time", "ts", "@timestamp", "datetime", "date"} {
		v, ok := fields[key]
		if !ok {
			continue
		}
		switch val := v.(type) {
		case string:
			if ts, ok := parseTimestamp(val); ok {
				return ts
			}
		case float64:
			// Epoch seconds or milliseconds.
			if val > 1e12 {
				return time.UnixMilli(int64(val)).UTC()
			}
			if val > 1e9 {
				return time.Unix(int64(val), 0).UTC()
			}
		}
	}
	return time.Time{}
}

// ParseJSONLine parses one JSON object log line.
func ParseJSONLine(raw string) (*ParsedEntry, error) {
	var data map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return nil, fmt.Errorf("invalid JSON line: %w", err)
	}
	if err := sanitizeFields(data, 0); err != nil {
		return nil, err
	}
	return &ParsedEntry{
		Raw:       raw,
		Format:    "json",
		Timestamp: extractTimestamp(data),
		Fields:    data,
	}, nil
}

// ParseCombined parses an Apache/Nginx combined access log line.
func ParseCombined(raw string) (*ParsedEntry, error) {
	matches := combinedRe.FindStringSubmatch(raw)
	if matches == nil {
		return nil, fmt.Errorf("not a combined log line")
	}

	status, _ := strconv.Atoi(matches[6])
	fields := map[string]interface{}{
		"source_ip": matches[1],
		"user":      matches[2],
		"timestamp": matches[3],
		"action":    matches[4],
		"url":       matches[5],
		"status":    status,
	}
	if matches[7] != "-" {
		if size, err := strconv.Atoi(matches[7]); err == nil {
			fields["bytes"] = size
		}
	}
	if len(matches) > 9 && matches[9] != "" {
		fields["referrer"] = matches[8]
		fields["user_agent"] = matches[9]
	}
	if err := sanitizeFields(fields, 0); err != nil {
		return nil, err
	}

	ts, _ := parseTimestamp(matches[3])
	return &ParsedEntry{
		Raw:       raw,
		Format:    "combined",
		Timestamp: ts,
		Fields:    fields,
	}, nil
}

// ParseSyslogLine parses an RFC3164 syslog line.
func ParseSyslogLine(raw string) (*ParsedEntry, error) {
	matches := syslogRe.FindStringSubmatch(raw)
	if matches == nil {
		return nil, fmt.Errorf("not a syslog line")
	}

	pri, err := strconv.Atoi(matches[1])
	if err != nil {
		return nil, fmt.Errorf("invalid syslog priority: %w", err)
	}
	fields := map[string]interface{}{
		"priority":      pri,
		"facility":      pri / 8,
		"severity_code": pri % 8,
		"timestamp":     matches[2],
		"hostname":      matches[3],
		"message":       matches[4],
	}
	if err := sanitizeFields(fields, 0); err != nil {
		return nil, err
	}

	ts, _ := parseTimestamp(matches[2])
	return &ParsedEntry{
		Raw:       raw,
		Format:    "syslog",
		Timestamp: ts,
		Fields:    fields,
	}, nil
}

// ParseKeyValue parses a line of key=value tokens (auditd, firewall exports).
func ParseKeyValue(raw string) (*ParsedEntry, error) {
	matches := kvRe.FindAllStringSubmatch(raw, -1)
	if len(matches) < 2 {
		return nil, fmt.Errorf("not a key=value line")
	}

	fields := make(map[string]interface{}, len(matches))
	for _, m := range matches {
		value := m[2]
		if strings.HasPrefix(value, `"`) && strings.HasSuffix(value, `"`) && len(value) >= 2 {
			value = value[1 : len(value)-1]
		}
		fields[m[1]] = value
	}
	if err := sanitizeFields(fields, 0); err != nil {
		return nil, err
	}

	return &ParsedEntry{
		Raw:       raw,
		Format:    "kv",
		Timestamp: extractTimestamp(fields),
		Fields:    fields,
	}, nil
}

// ParseLine sniffs the line format and dispatches to the matching parser.
// Lines that match no structured format come back as plain entries with the
// raw text under "message"; ParseLine never fails on well-formed UTF-8 input.
func ParseLine(raw string) *ParsedEntry {
	trimmed := strings.TrimSpace(raw)

	if strings.HasPrefix(trimmed, "{") {
		if entry, err := ParseJSONLine(trimmed); err == nil {
			return entry
		}
	}
	if strings.HasPrefix(trimmed, "<") {
		if entry, err := ParseSyslogLine(trimmed); err == nil {
			return entry
		}
	}
	if entry, err := ParseCombined(trimmed); err == nil {
		return entry
	}
	if entry, err := ParseKeyValue(trimmed); err == nil {
		return entry
	}

	fields := map[string]interface{}{"message": trimmed}
	_ = sanitizeFields(fields, 0)
	return &ParsedEntry{
		Raw:    raw,
		Format: "plain",
		Fields: fields,
	}
}

// Parser streams a log file into parsed entries.
type Parser struct {
	maxLineLength int
}

// NewParser creates a parser. Lines longer than maxLineLength bytes are
// truncated rather than dropped.
func NewParser(maxLineLength int) *Parser {
	if maxLineLength <= 0 {
		maxLineLength = 64 * 1024
	}
	return &Parser{maxLineLength: maxLineLength}
}

// Parse reads the file line by line, skipping blank lines. Line numbers are
// 1-based and count every physical line, blank or not.
func (p *Parser) Parse(r io.Reader) ([]ParsedEntry, error) {
	scanner := bufio.NewScanner(r)
	// Buffer past the truncation limit so oversized lines are read whole and
	// trimmed instead of aborting the scan.
	bufMax := p.maxLineLength * 4
	if bufMax < 1024*1024 {
		bufMax = 1024 * 1024
	}
	scanner.Buffer(make([]byte, 64*1024), bufMax)

	var entries []ParsedEntry
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		if len(line) > p.maxLineLength {
			line = line[:p.maxLineLength]
		}
		entry := ParseLine(line)
		entry.LineNumber = lineNo
		entries = append(entries, *entry)
	}
	if err := scanner.Err(); err != nil {
		return entries, fmt.Errorf("failed to read log stream: %w", err)
	}
	return entries, nil
}
