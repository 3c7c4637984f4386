package telegram

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"diet-plan-delivery/internal/metrics"
)

// maxAlertDetail is the number of characters of error detail kept in an alert.
const maxAlertDetail = 300

// FormatFailureAlert renders an operator alert for a run that stopped in a
// failure state.
func FormatFailureAlert(correlationID, state, errorKind, detail string) string {
	var sb strings.Builder
	sb.WriteString("🚨 *Pipeline failure*\n\n")
	sb.WriteString(fmt.Sprintf("• *State*: %s\n", EscapeMarkdown(state)))
	sb.WriteString(fmt.Sprintf("• *Kind*: %s\n", EscapeMarkdown(errorKind)))
	sb.WriteString(fmt.Sprintf("• *Correlation*: `%s`\n", strings.ReplaceAll(correlationID, "`", "")))
	if detail != "" {
		detail = truncate(detail, maxAlertDetail)
		sb.WriteString(fmt.Sprintf("\n_%s_", EscapeMarkdown(detail)))
	}
	return sb.String()
}

// FormatUsageReport renders recent model usage and system health.
func FormatUsageReport(usage []metrics.DailyUsage, health metrics.SysHealth) string {
	var sb strings.Builder
	sb.WriteString("📊 *Usage & Health Report*\n\n")

	sb.WriteString("🗓 *Recent LLM Activity*\n")
	if len(usage) == 0 {
		sb.WriteString("_No data yet_\n")
	}
	for _, d := range usage {
		sb.WriteString(fmt.Sprintf("• *%s*: %d tokens (%d execs)\n", d.Date, d.TotalPrompt+d.TotalCompletion, d.TotalExecution))
	}

	sb.WriteString("\n🧠 *System Health*\n")
	sb.WriteString(fmt.Sprintf("• RAM: %dMB (Alloc) / %dMB (Sys)\n", health.AllocMB, health.SysMB))
	sb.WriteString(fmt.Sprintf("• Goroutines: %d\n", health.Goroutines))
	sb.WriteString(fmt.Sprintf("• Documents: %s\n", health.DataDiskSize))
	return sb.String()
}

// truncate shortens s to at most n runes, never splitting a character.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n]) + "..."
}
