package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"logguard/analyze"
	"logguard/core"
	"logguard/triage"
)

// CLI output formatters
var (
	successColor = color.New(color.FgGreen, color.Bold)
	errorColor   = color.New(color.FgRed, color.Bold)
	warningColor = color.New(color.FgYellow)
	infoColor    = color.New(color.FgCyan)
	headerColor  = color.New(color.FgBlue, color.Bold)
)

// Global flags for the triage command
var (
	serverURL  string
	outputJSON bool
	noColor    bool
	quiet      bool
)

const defaultTimeout = 5 * time.Minute

// triageSession holds the state of one interactive review loop.
type triageSession struct {
	client    *triage.Client
	selection *triage.Selection
	bulk      *triage.BulkUpdater
	gateway   *triage.Gateway
	reader    *bufio.Reader

	query triage.AnomalyQuery
	rows  []core.Anomaly

	// review keeps a failed submit's entries so the analyst can retry.
	review *triage.ReviewForm
}

// NewTriageCmd creates the interactive triage command.
func NewTriageCmd() *cobra.Command {
	triageCmd := &cobra.Command{
		Use:   "triage",
		Short: "Review detected anomalies interactively",
		Long: `Interactive anomaly review against a running LogGuard server.

Supports listing and filtering anomalies, row selection, bulk status updates,
CSV export, and dispatching any analysis strategy.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if noColor {
				color.NoColor = true
			}
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			client := triage.NewClient(serverURL, 30*time.Second, zap.NewNop().Sugar())
			selection := triage.NewSelection()

			session := &triageSession{
				client:    client,
				selection: selection,
				bulk:      triage.NewBulkUpdater(client, selection, nil),
				gateway:   triage.NewGateway(client, nil),
				reader:    bufio.NewReader(os.Stdin),
			}

			return session.run(cmd.Context())
		},
	}

	triageCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "LogGuard server URL")
	triageCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "Output in JSON format")
	triageCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	triageCmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "Suppress non-essential output")

	return triageCmd
}

// run is the interactive event loop. Single goroutine: the selection state
// needs no locking.
func (s *triageSession) run(ctx context.Context) error {
	if !quiet {
		headerColor.Println("LogGuard Triage")
		infoColor.Printf("Server: %s\n", serverURL)
		fmt.Println("Type 'help' for commands.")
		fmt.Println()
	}

	if err := s.refresh(ctx); err != nil {
		errorColor.Printf("Failed to load anomalies: %v\n", err)
	} else {
		renderAnomalyTable(s.rows, s.selection)
	}

	for {
		fmt.Printf("triage> ")
		line, err := s.reader.ReadString('\n')
		if err != nil {
			fmt.Println()
			return nil
		}

		fields := strings.Fields(strings.TrimSpace(line))
		if len(fields) == 0 {
			continue
		}
		command, args := fields[0], fields[1:]

		opCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
		done := s.execute(opCtx, command, args)
		cancel()
		if done {
			return nil
		}
	}
}

// execute runs one command and reports whether the session should end.
func (s *triageSession) execute(ctx context.Context, command string, args []string) bool {
	switch command {
	case "quit", "q", "exit":
		return true
	case "help", "h", "?":
		printTriageHelp()
	case "list", "ls", "l":
		if err := s.refresh(ctx); err != nil {
			errorColor.Printf("Failed to load anomalies: %v\n", err)
			break
		}
		renderAnomalyTable(s.rows, s.selection)
	case "filter", "f":
		s.applyFilters(args)
		if err := s.refresh(ctx); err != nil {
			errorColor.Printf("Failed to load anomalies: %v\n", err)
			break
		}
		renderAnomalyTable(s.rows, s.selection)
	case "toggle", "t":
		s.toggleRows(args)
	case "all", "a":
		ids := make([]string, len(s.rows))
		for i, row := range s.rows {
			ids[i] = row.ID
		}
		s.selection.SelectAll(ids)
		infoColor.Printf("%d selected\n", s.selection.Count())
	case "clear", "c":
		s.selection.ClearAll()
		infoColor.Println("Selection cleared")
	case "expand", "x":
		s.expandRows(args)
	case "show":
		s.showRow(ctx, args)
	case "review", "u":
		s.reviewRow(ctx, args)
	case "bulk", "b":
		s.bulkUpdate(ctx, args)
	case "export", "e":
		s.export(ctx, args)
	case "run", "r":
		s.dispatch(ctx, args)
	case "files":
		s.listFiles(ctx)
	case "providers", "p":
		s.showProviders(ctx)
	case "key", "k":
		s.setKey(ctx, args)
	default:
		warningColor.Printf("Unknown command: %s (try 'help')\n", command)
	}
	return false
}

// refresh refetches the list and prunes selection/expansion to the visible
// rows.
func (s *triageSession) refresh(ctx context.Context) error {
	rows, err := s.client.ListAnomalies(ctx, s.query)
	if err != nil {
		return err
	}
	s.rows = rows

	visible := make([]string, len(rows))
	for i, row := range rows {
		visible[i] = row.ID
	}
	s.selection.Prune(visible)
	return nil
}

// applyFilters parses key=value filter arguments into the list query.
func (s *triageSession) applyFilters(args []string) {
	if len(args) == 0 {
		s.query = triage.AnomalyQuery{}
		infoColor.Println("Filters cleared")
		return
	}

	for _, arg := range args {
		key, value, found := strings.Cut(arg, "=")
		if !found {
			warningColor.Printf("Ignoring malformed filter %q (want key=value)\n", arg)
			continue
		}
		switch key {
		case "status":
			s.query.Status = value
		case "method":
			s.query.DetectionMethod = value
		case "file":
			s.query.LogFileID = value
		case "min":
			if score, err := strconv.ParseFloat(value, 64); err == nil {
				s.query.MinRiskScore = score
			} else {
				warningColor.Printf("Invalid minimum risk score %q\n", value)
			}
		case "search":
			s.query.Search = value
		case "limit":
			if limit, err := strconv.Atoi(value); err == nil {
				s.query.Limit = limit
			}
		default:
			warningColor.Printf("Unknown filter key %q (status, method, file, min, search, limit)\n", key)
		}
	}
}

func (s *triageSession) toggleRows(args []string) {
	if len(args) == 0 {
		warningColor.Println("Usage: toggle <row> [row...]")
		return
	}
	for _, arg := range args {
		row, ok := s.resolveRow(arg)
		if !ok {
			continue
		}
		if s.selection.ToggleRow(row.ID) {
			infoColor.Printf("Selected #%s %s\n", arg, shortID(row.ID))
		} else {
			infoColor.Printf("Deselected #%s %s\n", arg, shortID(row.ID))
		}
	}
}

func (s *triageSession) expandRows(args []string) {
	if len(args) == 0 {
		warningColor.Println("Usage: expand <row> [row...]")
		return
	}
	for _, arg := range args {
		row, ok := s.resolveRow(arg)
		if !ok {
			continue
		}
		if s.selection.ToggleExpand(row.ID) {
			renderRawEntry(&row)
		}
	}
}

func (s *triageSession) showRow(ctx context.Context, args []string) {
	if len(args) != 1 {
		warningColor.Println("Usage: show <row>")
		return
	}
	row, ok := s.resolveRow(args[0])
	if !ok {
		return
	}
	anomaly, err := s.client.GetAnomaly(ctx, row.ID)
	if err != nil {
		errorColor.Printf("Failed to fetch anomaly: %v\n", err)
		return
	}
	if outputJSON {
		_ = outputAsJSON(anomaly)
		return
	}
	renderAnomalyDetails(anomaly)
}

// reviewRow walks the analyst through a status/priority/notes update and
// submits it as one partial PATCH. A failed submit keeps every entry; running
// review again on the same row offers them as defaults.
func (s *triageSession) reviewRow(ctx context.Context, args []string) {
	if len(args) != 1 {
		warningColor.Println("Usage: review <row>")
		return
	}
	row, ok := s.resolveRow(args[0])
	if !ok {
		return
	}

	form := s.review
	if form == nil || form.AnomalyID() != row.ID {
		form = triage.NewReviewForm(row.ID)
	}

	infoColor.Printf("Reviewing #%s %s (%s)\n", args[0], shortID(row.ID), core.DisplayType(row.AnomalyType))
	if status := s.promptLine("Status (pending|under_review|confirmed|false_positive|dismissed)", form.Status()); status != "" {
		if err := form.SetStatus(status); err != nil {
			errorColor.Printf("%v\n", err)
			s.review = form
			return
		}
	}
	if priority := s.promptLine("Priority (low|medium|high|critical, blank to skip)", form.Priority()); priority != "" {
		if err := form.SetPriority(priority); err != nil {
			errorColor.Printf("%v\n", err)
			s.review = form
			return
		}
	}
	if notes := s.promptLine("Notes (blank to skip)", form.Notes()); notes != "" {
		form.SetNotes(notes)
	}

	if !form.Ready() {
		warningColor.Println("A status must be chosen before submitting")
		s.review = form
		return
	}

	sp := startSpinner(" Submitting review...")
	updated, err := form.Submit(ctx, s.client, nil)
	stopSpinner(sp)
	if err != nil {
		s.review = form
		errorColor.Printf("Update failed: %v\n", err)
		warningColor.Printf("Your entries are kept; run 'review %s' to retry\n", args[0])
		return
	}

	s.review = nil
	successColor.Printf("✓ %s is now %s\n", shortID(updated.ID), core.StatusLabel(updated.Status))
	if err := s.refresh(ctx); err == nil {
		renderAnomalyTable(s.rows, s.selection)
	}
}

// promptLine reads one line, offering defaultValue when the input is blank.
func (s *triageSession) promptLine(prompt, defaultValue string) string {
	if defaultValue != "" {
		fmt.Printf("%s [%s]: ", prompt, defaultValue)
	} else {
		fmt.Printf("%s: ", prompt)
	}
	input, err := s.reader.ReadString('\n')
	if err != nil {
		return defaultValue
	}
	input = strings.TrimSpace(input)
	if input == "" {
		return defaultValue
	}
	return input
}

// resolveRow maps a 1-based row number from the rendered table to its
// anomaly.
func (s *triageSession) resolveRow(arg string) (core.Anomaly, bool) {
	index, err := strconv.Atoi(arg)
	if err != nil || index < 1 || index > len(s.rows) {
		warningColor.Printf("No such row: %s (1-%d)\n", arg, len(s.rows))
		return core.Anomaly{}, false
	}
	return s.rows[index-1], true
}

func (s *triageSession) bulkUpdate(ctx context.Context, args []string) {
	if len(args) != 1 {
		warningColor.Println("Usage: bulk <pending|under_review|confirmed|false_positive|dismissed>")
		return
	}
	status := args[0]
	if !core.ValidStatus(status) {
		errorColor.Printf("Invalid status: %s\n", status)
		return
	}

	count := s.selection.Count()
	if count == 0 {
		warningColor.Println("Nothing selected")
		return
	}

	sp := startSpinner(fmt.Sprintf(" Updating %d anomalies...", count))
	updated, err := s.bulk.Run(ctx, status)
	stopSpinner(sp)

	if err != nil {
		errorColor.Printf("Bulk update failed: %v\n", err)
		infoColor.Printf("Selection preserved (%d rows), retry when ready\n", s.selection.Count())
		return
	}

	successColor.Printf("✓ Updated %d anomalies to %s\n", updated, core.StatusLabel(status))
	if err := s.refresh(ctx); err == nil {
		renderAnomalyTable(s.rows, s.selection)
	}
}

func (s *triageSession) export(ctx context.Context, args []string) {
	sp := startSpinner(" Exporting...")
	filename, data, err := s.client.ExportCSV(ctx, s.query)
	stopSpinner(sp)

	if err != nil {
		errorColor.Printf("Export failed: %v\n", err)
		return
	}

	if len(args) > 0 {
		filename = args[0]
	}
	if filename == "" {
		filename = "anomalies-export.csv"
	}

	if err := os.WriteFile(filename, data, 0640); err != nil {
		errorColor.Printf("Failed to write %s: %v\n", filename, err)
		return
	}
	successColor.Printf("✓ Exported to %s (%d bytes)\n", filename, len(data))
}

func (s *triageSession) dispatch(ctx context.Context, args []string) {
	if len(args) < 2 {
		warningColor.Println("Usage: run <traditional|advanced|ai> <log-file-id> [provider]")
		return
	}
	strategy, logFileID := args[0], args[1]

	var summary analyze.Summary
	var err error

	sp := startSpinner(" Running analysis...")
	switch strategy {
	case "traditional":
		summary, err = s.gateway.RunTraditional(ctx, logFileID)
	case "advanced", "advanced_ml":
		summary, err = s.gateway.RunAdvancedML(ctx, logFileID)
	case "ai":
		provider := core.ProviderOpenAI
		if len(args) > 2 {
			provider = args[2]
		}
		summary, err = s.gateway.RunAI(ctx, logFileID, analyze.AIConfig{Provider: provider})
	default:
		stopSpinner(sp)
		warningColor.Printf("Unknown strategy: %s\n", strategy)
		return
	}
	stopSpinner(sp)

	if err != nil {
		errorColor.Printf("Analysis failed: %v\n", err)
		return
	}

	if outputJSON {
		_ = outputAsJSON(summary)
		return
	}
	renderSummary(summary)

	if !summary.Async {
		if err := s.refresh(ctx); err == nil {
			renderAnomalyTable(s.rows, s.selection)
		}
	}
}

func (s *triageSession) listFiles(ctx context.Context) {
	files, err := s.client.ListLogFiles(ctx)
	if err != nil {
		errorColor.Printf("Failed to list log files: %v\n", err)
		return
	}
	if outputJSON {
		_ = outputAsJSON(files)
		return
	}
	renderLogFilesTable(files)
}

func (s *triageSession) showProviders(ctx context.Context) {
	status, err := s.client.KeyStatus(ctx)
	if err != nil {
		errorColor.Printf("Failed to fetch key status: %v\n", err)
		return
	}
	availability, err := s.client.Providers(ctx)
	if err != nil {
		errorColor.Printf("Failed to fetch provider availability: %v\n", err)
		return
	}
	renderProviderStatus(status, availability)
}

func (s *triageSession) setKey(ctx context.Context, args []string) {
	if len(args) != 2 {
		warningColor.Println("Usage: key <openai|gemini> <api-key>")
		return
	}
	provider, apiKey := args[0], args[1]
	if !core.ValidProvider(provider) {
		errorColor.Printf("Unknown provider: %s\n", provider)
		return
	}
	if err := s.client.SetAPIKey(ctx, provider, apiKey); err != nil {
		errorColor.Printf("Failed to store key: %v\n", err)
		return
	}
	successColor.Printf("✓ API key stored for %s\n", core.NormalizeProvider(provider))
}

func printTriageHelp() {
	headerColor.Println("Commands")
	fmt.Println("  list                       Refresh and render the anomaly table")
	fmt.Println("  filter [key=value...]      Set list filters (status, method, file, min, search, limit); no args clears")
	fmt.Println("  toggle <row...>            Toggle row selection")
	fmt.Println("  all / clear                Select all visible rows / clear selection")
	fmt.Println("  expand <row...>            Toggle the raw log line for a row")
	fmt.Println("  show <row>                 Full detail view for a row")
	fmt.Println("  review <row>               Update one row's status, priority, and notes")
	fmt.Println("  bulk <status>              Apply a status to every selected row in one request")
	fmt.Println("  export [file]              Download the filtered list as CSV")
	fmt.Println("  run <strategy> <file-id>   Dispatch traditional, advanced, or ai analysis")
	fmt.Println("  files                      List uploaded log files")
	fmt.Println("  providers                  Show AI provider keys and availability")
	fmt.Println("  key <provider> <api-key>   Store an AI provider key")
	fmt.Println("  quit                       Exit")
}

func startSpinner(suffix string) *spinner.Spinner {
	if outputJSON || quiet {
		return nil
	}
	sp := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	sp.Suffix = suffix
	sp.Start()
	return sp
}

func stopSpinner(sp *spinner.Spinner) {
	if sp != nil {
		sp.Stop()
	}
}

func outputAsJSON(data interface{}) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}
