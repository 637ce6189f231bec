// Package reporter renders the performance and memory report shown by the
// report command.
package reporter

import (
	"fmt"
	"io"
	"sort"

	"github.com/jedib0t/go-pretty/v6/table"

	"mt5-session-bot/internal/journal"
	"mt5-session-bot/internal/memory"
)

// GenerateReport prints the memory statistics and the recent session history
// to w.
func GenerateReport(store *memory.Store, jn *journal.Journal, w io.Writer) {
	stats := store.Stats()

	winRate := 0.0
	if decided := stats.Wins + stats.Losses; decided > 0 {
		winRate = float64(stats.Wins) / float64(decided) * 100
	}

	summary := table.NewWriter()
	summary.SetOutputMirror(w)
	summary.SetStyle(table.StyleLight)
	summary.SetTitle("Trading Memory")
	summary.AppendRows([]table.Row{
		{"Lessons", stats.Total},
		{"Last lesson id", fmt.Sprintf("L%03d", stats.LastLessonID)},
		{"Wins", stats.Wins},
		{"Losses", stats.Losses},
		{"Win rate", fmt.Sprintf("%.1f%%", winRate)},
		{"Total pips", fmt.Sprintf("%+.1f", stats.TotalPips)},
	})
	summary.Render()

	byType := table.NewWriter()
	byType.SetOutputMirror(w)
	byType.SetStyle(table.StyleLight)
	byType.SetTitle("Lessons by Type")
	byType.AppendHeader(table.Row{"Type", "Count"})
	for _, name := range sortedKeys(stats.ByType) {
		byType.AppendRow(table.Row{name, stats.ByType[name]})
	}
	byType.Render()

	entries := jn.Entries()
	sessions := table.NewWriter()
	sessions.SetOutputMirror(w)
	sessions.SetStyle(table.StyleLight)
	sessions.SetTitle("Recent Sessions")
	sessions.AppendHeader(table.Row{"Time", "Session", "Phase", "Command", "Outcome", "Pips"})
	// Newest first, capped so the report stays readable.
	const maxRows = 20
	start := 0
	if len(entries) > maxRows {
		start = len(entries) - maxRows
	}
	for i := len(entries) - 1; i >= start; i-- {
		e := entries[i]
		cmd := ""
		if e.Decision != nil {
			cmd = string(e.Decision.Command)
		}
		pips := ""
		if e.Pips != 0 {
			pips = fmt.Sprintf("%+.1f", e.Pips)
		}
		sessions.AppendRow(table.Row{
			e.Timestamp.Format("2006-01-02 15:04"),
			e.SessionID,
			e.Phase,
			cmd,
			e.Outcome,
			pips,
		})
	}
	sessions.Render()
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
