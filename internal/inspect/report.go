// Package inspect renders a finalized utterance from the ledger for the
// `hearken inspect` command.
package inspect

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/mattjoyce/hearken/internal/state"
)

// Getter loads one utterance; *state.UtteranceStore implements it.
type Getter interface {
	Get(ctx context.Context, id string) (*state.Utterance, error)
}

// Report is the structured JSON representation of an utterance report.
type Report struct {
	ID           string   `json:"id"`
	Source       string   `json:"source"`
	CreatedAt    string   `json:"created_at"`
	AudioBytes   int      `json:"audio_bytes"`
	DurationMs   int64    `json:"duration_ms"`
	Contributors []string `json:"contributors"`
	Failed       []string `json:"failed"`
	Entries      []Entry  `json:"entries"`
}

// Entry is one key of the merged context.
type Entry struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

// BuildReport renders a terminal-friendly report for one utterance.
func BuildReport(ctx context.Context, store Getter, id string) (string, error) {
	report, err := gatherReportData(ctx, store, id)
	if err != nil {
		return "", err
	}

	var out strings.Builder
	fmt.Fprintf(&out, "Utterance Report\n")
	fmt.Fprintf(&out, "ID           : %s\n", report.ID)
	fmt.Fprintf(&out, "Source       : %s\n", report.Source)
	fmt.Fprintf(&out, "Recorded     : %s\n", report.CreatedAt)
	fmt.Fprintf(&out, "Audio        : %d bytes, %s\n", report.AudioBytes, time.Duration(report.DurationMs)*time.Millisecond)
	fmt.Fprintf(&out, "Contributors : %s\n", renderList(report.Contributors))
	fmt.Fprintf(&out, "Failed       : %s\n", renderList(report.Failed))
	fmt.Fprintf(&out, "\n")

	if len(report.Entries) == 0 {
		fmt.Fprintf(&out, "context      : <empty>\n")
		return out.String(), nil
	}

	width := 0
	for _, e := range report.Entries {
		width = max(width, len(e.Key))
	}
	fmt.Fprintf(&out, "context      :\n")
	for _, e := range report.Entries {
		fmt.Fprintf(&out, "  %-*s = %s\n", width, e.Key, e.Value)
	}
	return out.String(), nil
}

// BuildJSONReport returns the machine-readable JSON report.
func BuildJSONReport(ctx context.Context, store Getter, id string) (string, error) {
	report, err := gatherReportData(ctx, store, id)
	if err != nil {
		return "", err
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal json report: %w", err)
	}
	return string(data), nil
}

func gatherReportData(ctx context.Context, store Getter, id string) (*Report, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("utterance id is required")
	}

	u, err := store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load utterance %q: %w", id, err)
	}

	var merged map[string]json.RawMessage
	if len(u.Context) > 0 {
		if err := json.Unmarshal(u.Context, &merged); err != nil {
			return nil, fmt.Errorf("decode context of utterance %q: %w", id, err)
		}
	}
	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	report := &Report{
		ID:           u.ID,
		Source:       u.Source,
		CreatedAt:    u.CreatedAt.UTC().Format(time.RFC3339),
		AudioBytes:   u.AudioBytes,
		DurationMs:   u.DurationMs,
		Contributors: nonNil(u.Contributors),
		Failed:       nonNil(u.Failed),
		Entries:      make([]Entry, 0, len(keys)),
	}
	for _, k := range keys {
		report.Entries = append(report.Entries, Entry{Key: k, Value: merged[k]})
	}
	return report, nil
}

func renderList(s []string) string {
	if len(s) == 0 {
		return "<none>"
	}
	return strings.Join(s, ", ")
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
