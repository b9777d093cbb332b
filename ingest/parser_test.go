package ingest

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseJSONLine(t *testing.T) {
	entry, err := ParseJSONLine(`{"timestamp":"2024-03-01T12:30:00Z","source_ip":"10.0.0.4","action":"login","user":"alice"}`)
	require.NoError(t, err)

	assert.Equal(t, "json", entry.Format)
	assert.Equal(t, "10.0.0.4", entry.Fields["source_ip"])
	assert.Equal(t, 2024, entry.Timestamp.Year())
}

func TestParseJSONLine_Invalid(t *testing.T) {
	_, err := ParseJSONLine(`{"broken":`)
	assert.Error(t, err)
}

func TestParseJSONLine_SanitizesHTML(t *testing.T) {
	entry, err := ParseJSONLine(`{"user":"<script>alert(1)</script>"}`)
	require.NoError(t, err)
	assert.NotContains(t, entry.Fields["user"], "<script>")
}

func TestParseCombined(t *testing.T) {
	line := `192.168.1.50 - bob [10/Oct/2024:13:55:36 -0700] "GET /admin/login HTTP/1.1" 401 2326 "-" "Mozilla/5.0"`
	entry, err := ParseCombined(line)
	require.NoError(t, err)

	assert.Equal(t, "combined", entry.Format)
	assert.Equal(t, "192.168.1.50", entry.Fields["source_ip"])
	assert.Equal(t, "bob", entry.Fields["user"])
	assert.Equal(t, "GET", entry.Fields["action"])
	assert.Equal(t, "/admin/login", entry.Fields["url"])
	assert.Equal(t, 401, entry.Fields["status"])
	assert.Equal(t, 2024, entry.Timestamp.Year())
}

func TestParseSyslogLine(t *testing.T) {
	entry, err := ParseSyslogLine(`<34>Oct 11 22:14:15 fw01 su: 'su root' failed for lonvick on /dev/pts/8`)
	require.NoError(t, err)

	assert.Equal(t, "syslog", entry.Format)
	assert.Equal(t, 34, entry.Fields["priority"])
	assert.Equal(t, 4, entry.Fields["facility"])
	assert.Equal(t, 2, entry.Fields["severity_code"])
	assert.Equal(t, "fw01", entry.Fields["hostname"])
}

func TestParseKeyValue(t *testing.T) {
	entry, err := ParseKeyValue(`type=USER_LOGIN user=root src=203.0.113.9 result="failed login" timestamp=2024-03-01T08:00:00Z`)
	require.NoError(t, err)

	assert.Equal(t, "kv", entry.Format)
	assert.Equal(t, "root", entry.Fields["user"])
	assert.Equal(t, "203.0.113.9", entry.Fields["src"])
	assert.Equal(t, "failed login", entry.Fields["result"])
	assert.Equal(t, 2024, entry.Timestamp.Year())
}

func TestParseLine_FallsBackToPlain(t *testing.T) {
	entry := ParseLine("something unstructured happened here")

	assert.Equal(t, "plain", entry.Format)
	assert.Equal(t, "something unstructured happened here", entry.Fields["message"])
}

func TestParseLine_BadJSONFallsThrough(t *testing.T) {
	entry := ParseLine(`{not json at all`)
	assert.Equal(t, "plain", entry.Format)
}

func TestParsedEntry_Field(t *testing.T) {
	entry := &ParsedEntry{Fields: map[string]interface{}{
		"user":   "alice",
		"status": 401,
	}}

	assert.Equal(t, "alice", entry.Field("user", "N/A"))
	assert.Equal(t, "N/A", entry.Field("status", "N/A"), "non-string values fall back")
	assert.Equal(t, "N/A", entry.Field("missing", "N/A"))
}

func TestParser_Parse(t *testing.T) {
	input := strings.Join([]string{
		`{"timestamp":"2024-03-01T12:00:00Z","action":"login","user":"alice"}`,
		``,
		`<34>Oct 11 22:14:15 fw01 sshd: failed password`,
		`plain text line`,
	}, "\n")

	entries, err := NewParser(0).Parse(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, entries, 3, "blank lines are skipped")

	assert.Equal(t, 1, entries[0].LineNumber)
	assert.Equal(t, 3, entries[1].LineNumber, "line numbers count blank lines")
	assert.Equal(t, 4, entries[2].LineNumber)
	assert.Equal(t, "json", entries[0].Format)
	assert.Equal(t, "syslog", entries[1].Format)
	assert.Equal(t, "plain", entries[2].Format)
}

func TestParser_TruncatesLongLines(t *testing.T) {
	p := NewParser(32)
	long := strings.Repeat("x", 100)

	entries, err := p.Parse(strings.NewReader(long))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.LessOrEqual(t, len(entries[0].Raw), 33)
}
