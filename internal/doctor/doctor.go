// Package doctor validates hearken configuration against the parser catalog
// and, optionally, by trial-loading every parser.
package doctor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"strings"

	"github.com/mattjoyce/hearken/internal/config"
	"github.com/mattjoyce/hearken/internal/parser"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor validates configuration against the parser catalog.
type Doctor struct {
	cfg     *config.Config
	catalog *parser.Catalog
}

// New creates a Doctor from a loaded config and the build's parser catalog.
func New(cfg *config.Config, catalog *parser.Catalog) *Doctor {
	return &Doctor{cfg: cfg, catalog: catalog}
}

// Validate runs the static checks. With probe set, every candidate parser is
// also constructed and initialized, then shut down again.
func (d *Doctor) Validate(ctx context.Context, probe bool) *Result {
	r := &Result{Valid: true}

	d.validateServiceConfig(r)
	d.validateAPIConfig(r)
	known := d.validateManifests(r)
	d.validateParserRefs(r, known)
	if probe && len(r.Errors) == 0 {
		d.probeParsers(ctx, r)
	}

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) validateServiceConfig(r *Result) {
	if d.cfg.State.Path == "" {
		d.addError(r, "service", "state.path", "state.path is required")
	}
	if d.cfg.AudioParsers.Concurrent && d.cfg.AudioParsers.MaxConcurrency == 1 {
		d.addWarning(r, "dispatch", "audio_parsers.max_concurrency",
			"concurrent fan-out with max_concurrency 1 behaves like sequential dispatch")
	}
}

// validateAPIConfig checks API server settings. The API has no
// authentication, so binding beyond loopback is flagged.
func (d *Doctor) validateAPIConfig(r *Result) {
	if !d.cfg.API.Enabled {
		return
	}
	host, _, err := net.SplitHostPort(d.cfg.API.Listen)
	if err != nil {
		d.addError(r, "api", "api.listen", fmt.Sprintf("invalid listen address %q: %v", d.cfg.API.Listen, err))
		return
	}
	if ip := net.ParseIP(host); host == "" || (ip != nil && !ip.IsLoopback()) {
		d.addWarning(r, "api", "api.listen",
			fmt.Sprintf("API listens on %q without authentication", d.cfg.API.Listen))
	}
}

// validateManifests returns the set of parser names that loading could
// produce: manifest names when a dir is set, catalog kinds otherwise.
func (d *Doctor) validateManifests(r *Result) map[string]struct{} {
	known := make(map[string]struct{})
	if d.cfg.AudioParsers.Dir == "" {
		for _, reg := range d.catalog.All() {
			known[reg.Name] = struct{}{}
		}
		return known
	}

	manifests, err := parser.DiscoverManifests(d.cfg.AudioParsers.Dir, nil)
	if err != nil {
		d.addError(r, "manifests", "audio_parsers.dir", err.Error())
		return known
	}
	if len(manifests) == 0 {
		d.addWarning(r, "manifests", "audio_parsers.dir",
			fmt.Sprintf("no manifest.yaml files under %s", d.cfg.AudioParsers.Dir))
	}
	for _, m := range manifests {
		known[m.Name] = struct{}{}
		if _, ok := d.catalog.Lookup(m.Kind); !ok {
			d.addError(r, "manifests", m.Path,
				fmt.Sprintf("parser %q has unknown kind %q", m.Name, m.Kind))
		}
	}
	return known
}

// validateParserRefs checks that configured and blacklisted names exist.
func (d *Doctor) validateParserRefs(r *Result, known map[string]struct{}) {
	for name := range d.cfg.AudioParsers.Parsers {
		if _, ok := known[name]; !ok {
			d.addError(r, "parser_refs", fmt.Sprintf("audio_parsers.parsers.%s", name),
				fmt.Sprintf("parser %q is configured but never discovered", name))
		}
	}
	for i, name := range d.cfg.AudioParsers.Blacklist {
		if _, ok := known[name]; !ok {
			d.addWarning(r, "parser_refs", fmt.Sprintf("audio_parsers.blacklist[%d]", i),
				fmt.Sprintf("blacklisted parser %q is never discovered", name))
		}
	}
}

// probeParsers trial-loads the configured set without a bus.
func (d *Doctor) probeParsers(ctx context.Context, r *Result) {
	opts := d.cfg.AudioParsers.LoaderOptions()
	opts.Logger = slog.New(slog.DiscardHandler)
	loader := parser.NewLoader(d.catalog, nil, opts)

	loaded, err := loader.Load(ctx)
	if err != nil {
		d.addError(r, "probe", "audio_parsers.dir", err.Error())
		return
	}
	defer loader.Shutdown(ctx)

	for name, lerr := range loader.Failures() {
		d.addError(r, "probe", fmt.Sprintf("audio_parsers.parsers.%s", name),
			fmt.Sprintf("%s failed: %v", lerr.Stage, lerr.Err))
	}
	if len(loaded) == 0 {
		d.addWarning(r, "probe", "audio_parsers", "no parser would be loaded")
	}

	byPriority := make(map[int][]string)
	for _, inst := range loaded {
		byPriority[inst.Priority()] = append(byPriority[inst.Priority()], inst.Name())
	}
	for prio, names := range byPriority {
		if len(names) > 1 {
			d.addWarning(r, "priority", "audio_parsers.parsers",
				fmt.Sprintf("parsers %s share priority %d; discovery order decides", strings.Join(names, ", "), prio))
		}
	}
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	switch {
	case r.Valid && len(r.Warnings) == 0:
		b.WriteString("Configuration valid.\n")
		return b.String()
	case r.Valid:
		fmt.Fprintf(&b, "Configuration valid (%d warning(s))\n", len(r.Warnings))
	default:
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	writeIssues(&b, "ERROR", r.Errors)
	writeIssues(&b, "WARN ", r.Warnings)
	return b.String()
}

func writeIssues(b *strings.Builder, label string, issues []Issue) {
	for _, is := range issues {
		if is.Field != "" {
			fmt.Fprintf(b, "  %s [%s] %s: %s\n", label, is.Category, is.Field, is.Message)
		} else {
			fmt.Fprintf(b, "  %s [%s] %s\n", label, is.Category, is.Message)
		}
	}
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
