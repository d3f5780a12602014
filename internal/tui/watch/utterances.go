package watch

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/hearken/internal/bus"
)

const maxUtterances = 8

// UtteranceState summarises one utterance.context event.
type UtteranceState struct {
	ID           string
	DurationMs   int64
	Keys         int
	Contributors []string
	Failed       []string
	At           time.Time
}

// parseUtterance returns false for anything other than a well formed
// utterance.context event.
func parseUtterance(e bus.Event) (UtteranceState, bool) {
	if e.Type != bus.TypeUtteranceContext {
		return UtteranceState{}, false
	}
	var data struct {
		ID           string         `json:"id"`
		Context      map[string]any `json:"context"`
		Contributors []string       `json:"contributors"`
		Failed       []string       `json:"failed"`
		DurationMs   int64          `json:"duration_ms"`
	}
	if err := json.Unmarshal(e.Data, &data); err != nil || data.ID == "" {
		return UtteranceState{}, false
	}
	return UtteranceState{
		ID:           data.ID,
		DurationMs:   data.DurationMs,
		Keys:         len(data.Context),
		Contributors: data.Contributors,
		Failed:       data.Failed,
		At:           e.At,
	}, true
}

func renderUtterances(utts []UtteranceState, theme Theme, width int) string {
	if len(utts) == 0 {
		return theme.Border.Width(width - 4).Render(lipgloss.JoinVertical(lipgloss.Left,
			theme.Title.Render("UTTERANCES"),
			theme.Dim.Render("  No utterances yet..."),
		))
	}

	lines := make([]string, 0, len(utts))
	for _, u := range utts {
		id := u.ID
		if len(id) > 8 {
			id = id[:8]
		}
		line := fmt.Sprintf("%s %s %6dms  %2d keys  %s",
			theme.Dim.Render(u.At.Format("15:04:05")),
			theme.Highlight.Render(id),
			u.DurationMs,
			u.Keys,
			strings.Join(u.Contributors, ","),
		)
		if len(u.Failed) > 0 {
			line += " " + theme.StatusFailed.Render("failed: "+strings.Join(u.Failed, ","))
		}
		lines = append(lines, line)
	}

	return theme.Border.Width(width - 4).Render(lipgloss.JoinVertical(lipgloss.Left,
		theme.Title.Render("UTTERANCES"),
		lipgloss.NewStyle().Padding(0, 1).Render(strings.Join(lines, "\n")),
	))
}
