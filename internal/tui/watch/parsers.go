package watch

import (
	"cmp"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/hearken/internal/bus"
	"github.com/mattjoyce/hearken/internal/parsers/hotword"
)

// ParserState is what the watch knows about one parser, built from events.
type ParserState struct {
	Name         string
	Kind         string
	Priority     int
	Contributed  int // utterances the parser contributed to
	Failures     int
	Hotwords     int
	LastError    string
	FailedRecent bool // failed during the most recent utterance
}

func getOrCreateParser(parsers map[string]*ParserState, name string) *ParserState {
	p, ok := parsers[name]
	if !ok {
		p = &ParserState{Name: name}
		parsers[name] = p
	}
	return p
}

// updateParserState folds one bus event into the per-parser view.
func updateParserState(parsers map[string]*ParserState, e bus.Event) {
	var data struct {
		Parser       string   `json:"parser"`
		Kind         string   `json:"kind"`
		Priority     *int     `json:"priority"`
		Error        string   `json:"error"`
		Contributors []string `json:"contributors"`
		Failed       []string `json:"failed"`
	}
	if err := json.Unmarshal(e.Data, &data); err != nil {
		return
	}

	switch e.Type {
	case bus.TypeParserLoaded:
		if data.Parser == "" {
			return
		}
		p := getOrCreateParser(parsers, data.Parser)
		p.Kind = data.Kind
		if data.Priority != nil {
			p.Priority = *data.Priority
		}

	case bus.TypeParserFailed:
		if data.Parser == "" {
			return
		}
		p := getOrCreateParser(parsers, data.Parser)
		p.Failures++
		p.LastError = data.Error

	case bus.TypeUtteranceContext:
		for _, p := range parsers {
			p.FailedRecent = false
		}
		for _, name := range data.Contributors {
			getOrCreateParser(parsers, name).Contributed++
		}
		for _, name := range data.Failed {
			getOrCreateParser(parsers, name).FailedRecent = true
		}

	case hotword.EventDetected:
		if data.Parser != "" {
			getOrCreateParser(parsers, data.Parser).Hotwords++
		}
	}
}

func newParserTable(theme Theme) table.Model {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "ST", Width: 2},
			{Title: "Parser", Width: 16},
			{Title: "Prio", Width: 5},
			{Title: "Utts", Width: 6},
			{Title: "Fails", Width: 6},
			{Title: "Last error", Width: 40},
		}),
		table.WithFocused(true),
		table.WithHeight(8),
	)
	t.SetStyles(theme.Table)
	return t
}

// parserRows orders parsers the way dispatch runs them: ascending priority,
// then name.
func parserRows(parsers map[string]*ParserState, theme Theme) []table.Row {
	list := make([]*ParserState, 0, len(parsers))
	for _, p := range parsers {
		list = append(list, p)
	}
	slices.SortFunc(list, func(a, b *ParserState) int {
		if c := cmp.Compare(a.Priority, b.Priority); c != 0 {
			return c
		}
		return cmp.Compare(a.Name, b.Name)
	})

	rows := make([]table.Row, 0, len(list))
	for _, p := range list {
		status := theme.StatusOK.Render("●")
		switch {
		case p.FailedRecent:
			status = theme.StatusFailed.Render("✗")
		case p.Failures > 0:
			status = theme.StatusWarn.Render("◑")
		case p.Kind == "" && p.Contributed == 0:
			status = theme.StatusIdle.Render("○")
		}
		name := p.Name
		if p.Hotwords > 0 {
			name = fmt.Sprintf("%s (%d)", p.Name, p.Hotwords)
		}
		rows = append(rows, table.Row{
			status,
			name,
			strconv.Itoa(p.Priority),
			strconv.Itoa(p.Contributed),
			strconv.Itoa(p.Failures),
			p.LastError,
		})
	}
	return rows
}

func renderParsers(t table.Model, theme Theme, width int) string {
	return theme.Border.Width(width - 4).Render(
		lipgloss.JoinVertical(lipgloss.Left,
			theme.Title.Render("PARSERS"),
			t.View(),
		),
	)
}
