package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"

	"logguard/analyze"
	"logguard/core"
	"logguard/triage"
)

// renderAnomalyTable displays anomalies in a formatted table with selection
// and expansion markers.
func renderAnomalyTable(rows []core.Anomaly, selection *triage.Selection) {
	if len(rows) == 0 {
		warningColor.Println("No anomalies found")
		return
	}

	headerColor.Println("ANOMALIES")
	headerColor.Println(strings.Repeat("=", 120))
	fmt.Printf("%-4s %-3s %-10s %-25s %-14s %-13s %-16s %s\n",
		"Row", "Sel", "ID", "Type", "Risk", "Category", "Status", "Detected")
	fmt.Println(strings.Repeat("-", 120))

	for i, row := range rows {
		selected := " "
		if selection.Selected(row.ID) {
			selected = "*"
		}

		anomalyType := core.DisplayType(row.AnomalyType)
		if len(anomalyType) > 24 {
			anomalyType = anomalyType[:21] + "..."
		}

		category := core.ClassifyDetectionMethod(row.DetectionMethod)

		fmt.Printf("%-4d %-3s %-10s %-25s %-14s %-13s %-16s %s\n",
			i+1,
			selected,
			shortID(row.ID),
			anomalyType,
			formatRiskBadge(row.RiskScore),
			categoryLabel(category),
			core.StatusLabel(row.Status),
			formatTimeSince(row.Timestamp))

		if selection.Expanded(row.ID) {
			renderRawEntry(&row)
		}
	}

	fmt.Println(strings.Repeat("=", 120))
	fmt.Printf("%d anomalies, %d selected\n", len(rows), selection.Count())
}

// renderRawEntry prints the raw log line for an expanded row.
func renderRawEntry(a *core.Anomaly) {
	raw := a.RawLogEntry
	if raw == "" {
		raw = "(no raw entry)"
	}
	if a.LogLineNumber > 0 {
		fmt.Printf("     │ line %d: %s\n", a.LogLineNumber, raw)
	} else {
		fmt.Printf("     │ %s\n", raw)
	}
}

// renderAnomalyDetails displays the full detail view for one anomaly.
func renderAnomalyDetails(a *core.Anomaly) {
	headerColor.Println("═══════════════════════════════════════════════════════════════")
	headerColor.Printf("  Anomaly: %s\n", core.DisplayType(a.AnomalyType))
	headerColor.Println("═══════════════════════════════════════════════════════════════")
	fmt.Println()

	printSection("Detection")
	printField("ID", a.ID)
	printField("Risk", formatRiskBadge(a.RiskScore))
	printField("Category", categoryLabel(core.ClassifyDetectionMethod(a.DetectionMethod)))
	printField("Method", a.DetectionMethod)
	printField("Description", a.Description)
	printField("Detected", formatTime(a.Timestamp))
	if a.LogFileID != "" {
		printField("Log File", a.LogFileID)
	}
	fmt.Println()

	printSection("Review")
	printField("Status", core.StatusLabel(a.Status))
	if a.Priority != "" {
		printField("Priority", a.Priority)
	}
	if a.AnalystNotes != "" {
		printField("Notes", a.AnalystNotes)
	}
	if a.ReviewedAt != nil {
		printField("Reviewed At", formatTime(*a.ReviewedAt))
	}
	fmt.Println()

	if a.RawLogEntry != "" {
		printSection("Raw Entry")
		if a.LogLineNumber > 0 {
			fmt.Printf("  line %d: %s\n", a.LogLineNumber, a.RawLogEntry)
		} else {
			fmt.Printf("  %s\n", a.RawLogEntry)
		}
		fmt.Println()
	}

	if len(a.AIAnalysis) > 0 {
		printSection("AI Analysis")
		for key, value := range a.AIAnalysis {
			printField(core.DisplayType(key), fmt.Sprintf("%v", value))
		}
		fmt.Println()
	}
}

// renderSummary displays an analysis run result.
func renderSummary(summary analyze.Summary) {
	if summary.Async {
		successColor.Printf("✓ %s analysis started\n", summary.Strategy)
		if summary.Message != "" {
			fmt.Printf("  %s\n", summary.Message)
		}
		fmt.Println("  Results will appear in the anomaly list when processing completes.")
		return
	}

	successColor.Printf("✓ %s analysis completed\n", summary.Strategy)
	fmt.Printf("  Entries analyzed: %d\n", summary.LogEntriesAnalyzed)
	fmt.Printf("  Anomalies found:  %d\n", summary.AnomaliesFound)
	if len(summary.ModelsUsed) > 0 {
		fmt.Printf("  Models used:      %s\n", strings.Join(summary.ModelsUsed, ", "))
	}
}

// renderLogFilesTable displays the upload history.
func renderLogFilesTable(files []core.LogFile) {
	if len(files) == 0 {
		warningColor.Println("No log files uploaded")
		return
	}

	headerColor.Println("LOG FILES")
	headerColor.Println(strings.Repeat("=", 100))
	fmt.Printf("%-38s %-30s %-12s %-10s %s\n",
		"ID", "Name", "Status", "Entries", "Uploaded")
	fmt.Println(strings.Repeat("-", 100))

	for _, f := range files {
		name := f.OriginalName
		if len(name) > 29 {
			name = name[:26] + "..."
		}
		fmt.Printf("%-38s %-30s %-12s %-10d %s\n",
			f.ID, name, formatFileStatus(f.Status), f.TotalEntries, formatTimeSince(f.UploadedAt))
	}

	fmt.Println(strings.Repeat("=", 100))
}

// renderProviderStatus displays AI key configuration and availability.
func renderProviderStatus(status core.KeyStatus, availability map[string]bool) {
	headerColor.Println("AI PROVIDERS")
	headerColor.Println(strings.Repeat("=", 60))
	fmt.Printf("%-12s %-14s %-10s %s\n", "Provider", "Key", "Working", "Available")
	fmt.Println(strings.Repeat("-", 60))

	printProviderRow("openai", status.OpenAI, availability["openai"])
	printProviderRow("gemini", status.Gemini, availability["gcp_gemini"])

	fmt.Println(strings.Repeat("=", 60))
}

func printProviderRow(name string, s core.ProviderKeyStatus, available bool) {
	fmt.Printf("%-12s %-14s %-10s %s\n", name,
		formatConfigured(s.Configured), formatBool(s.Working), formatBool(available))
	if s.Error != "" {
		warningColor.Printf("%-12s %s\n", "", s.Error)
	}
}

// printSection prints a section header.
func printSection(title string) {
	headerColor.Printf("  %s\n", title)
	headerColor.Println("  " + strings.Repeat("─", len(title)))
}

// printField prints a key-value field.
func printField(key, value string) {
	if value == "" {
		value = "(not set)"
	}
	fmt.Printf("  %-15s %s\n", key+":", value)
}

// formatRiskBadge returns the colored "9.4 Critical" badge for a score.
func formatRiskBadge(score float64) string {
	badge := core.RiskBadge(score)
	switch core.RiskLevel(score) {
	case core.RiskCritical:
		return color.New(color.FgRed, color.Bold).Sprint(badge)
	case core.RiskHigh:
		return color.New(color.FgRed).Sprint(badge)
	case core.RiskMedium:
		return color.New(color.FgYellow).Sprint(badge)
	default:
		return color.New(color.FgGreen).Sprint(badge)
	}
}

// categoryLabel returns the colored category name. The terminal palette maps
// the category style colors onto the nearest ANSI color.
func categoryLabel(category core.DetectionCategory) string {
	switch category.Style().Color {
	case "blue":
		return color.New(color.FgBlue).Sprint(string(category))
	case "purple":
		return color.New(color.FgMagenta).Sprint(string(category))
	case "green":
		return color.New(color.FgGreen).Sprint(string(category))
	default:
		return string(category)
	}
}

func formatFileStatus(status string) string {
	switch status {
	case core.FileStatusCompleted:
		return color.New(color.FgGreen).Sprint(status)
	case core.FileStatusProcessing:
		return color.New(color.FgCyan).Sprint(status)
	case core.FileStatusFailed:
		return color.New(color.FgRed).Sprint(status)
	default:
		return status
	}
}

func formatConfigured(configured bool) string {
	if configured {
		return color.New(color.FgGreen).Sprint("configured")
	}
	return color.New(color.FgYellow).Sprint("not set")
}

// formatBool returns a colored boolean string.
func formatBool(b bool) string {
	if b {
		return color.New(color.FgGreen).Sprint("Yes")
	}
	return color.New(color.FgRed).Sprint("No")
}

// shortID returns the first 8 characters of an id.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// formatTime formats a timestamp.
func formatTime(t time.Time) string {
	if t.IsZero() {
		return "Never"
	}
	return t.Format("2006-01-02 15:04:05")
}

// formatTimeSince formats time since a timestamp.
func formatTimeSince(t time.Time) string {
	if t.IsZero() {
		return "Never"
	}

	duration := time.Since(t)
	if duration < time.Minute {
		return fmt.Sprintf("%ds ago", int(duration.Seconds()))
	}
	if duration < time.Hour {
		return fmt.Sprintf("%dm ago", int(duration.Minutes()))
	}
	if duration < 24*time.Hour {
		return fmt.Sprintf("%dh ago", int(duration.Hours()))
	}
	days := int(duration.Hours() / 24)
	if days == 1 {
		return "1 day ago"
	}
	return fmt.Sprintf("%d days ago", days)
}
