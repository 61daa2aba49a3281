// Package render provides centralized output rendering for the mender CLI.
//
// Format selection rules:
//   - If output is a TTY, default to table
//   - If output is not a TTY, default to json
//   - --format flag always overrides defaults
//   - Invalid formats are errors
package render

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/justapithecus/mender/memory"
	"github.com/justapithecus/mender/monitor"
	"github.com/justapithecus/mender/types"
)

// Format represents an output format.
type Format string

// Supported formats.
const (
	FormatJSON  Format = "json"
	FormatTable Format = "table"
	FormatYAML  Format = "yaml"
)

// ParseFormat parses a format string, returning an error for invalid formats.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "json":
		return FormatJSON, nil
	case "table":
		return FormatTable, nil
	case "yaml":
		return FormatYAML, nil
	case "":
		return "", nil // Let caller decide default
	default:
		return "", fmt.Errorf("invalid format: %q (must be json, table, or yaml)", s)
	}
}

// Renderer handles output formatting.
type Renderer struct {
	format Format
	out    io.Writer
}

// NewRenderer creates a renderer from CLI context, applying the TTY
// default when no --format is given.
func NewRenderer(c *cli.Context) (*Renderer, error) {
	format, err := ParseFormat(c.String("format"))
	if err != nil {
		return nil, err
	}
	if format == "" {
		if isTTY(os.Stdout) {
			format = FormatTable
		} else {
			format = FormatJSON
		}
	}
	return &Renderer{format: format, out: os.Stdout}, nil
}

// NewRendererWithWriter creates a renderer with a custom writer (for testing).
func NewRendererWithWriter(format Format, out io.Writer) *Renderer {
	return &Renderer{format: format, out: out}
}

// Render outputs the data in the configured format.
func (r *Renderer) Render(data any) error {
	switch r.format {
	case FormatJSON:
		enc := json.NewEncoder(r.out)
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	case FormatYAML:
		enc := yaml.NewEncoder(r.out)
		enc.SetIndent(2)
		return enc.Encode(data)
	case FormatTable:
		return r.renderTable(data)
	default:
		return fmt.Errorf("unknown format: %s", r.format)
	}
}

// renderTable dispatches on the domain types the CLI actually prints.
// Anything else falls back to indented JSON.
func (r *Renderer) renderTable(data any) error {
	switch v := data.(type) {
	case []*types.Finding:
		return r.findingsTable(v)
	case []*types.Wave:
		return r.wavesTable(v)
	case []types.RunIndexEntry:
		return r.runsTable(v)
	case []memory.Retrieved:
		return r.memoryTable(v)
	case monitor.Summary:
		return r.summary(v)
	case *monitor.Summary:
		return r.summary(*v)
	default:
		enc := json.NewEncoder(r.out)
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	}
}

func (r *Renderer) findingsTable(findings []*types.Finding) error {
	if len(findings) == 0 {
		fmt.Fprintln(r.out, "(no findings)")
		return nil
	}

	w := tabwriter.NewWriter(r.out, 0, 0, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintln(w, "PRIORITY\tFINDING\tSEVERITY\tCATEGORY\tSERVICE\tTITLE")
	for _, f := range findings {
		fmt.Fprintf(w, "%g\t%s\t%s\t%s\t%s\t%s\n",
			f.PriorityScore, f.FindingID, f.Severity, f.Category, f.ServiceName, truncate(f.Title, 48))
	}
	return nil
}

func (r *Renderer) wavesTable(waves []*types.Wave) error {
	if len(waves) == 0 {
		fmt.Fprintln(r.out, "(no waves)")
		return nil
	}

	w := tabwriter.NewWriter(r.out, 0, 0, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintln(w, "WAVE\tSTATUS\tSESSIONS\tSUCCESS\tFAILED\tFINDINGS")
	for _, wave := range waves {
		ids := make([]string, 0, len(wave.Sessions))
		for _, s := range wave.Sessions {
			ids = append(ids, s.Finding.FindingID)
		}
		fmt.Fprintf(w, "%d\t%s\t%d\t%d\t%d\t%s\n",
			wave.WaveNumber, wave.Status, wave.TotalCount(), wave.SuccessCount, wave.FailureCount,
			truncate(strings.Join(ids, ","), 60))
	}
	return nil
}

func (r *Renderer) runsTable(runs []types.RunIndexEntry) error {
	if len(runs) == 0 {
		fmt.Fprintln(r.out, "(no runs)")
		return nil
	}

	w := tabwriter.NewWriter(r.out, 0, 0, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintln(w, "RUN\tSTARTED\tSTATUS\tFINDINGS\tSOURCE")
	for _, e := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
			e.RunID, e.StartedAt.Format(time.RFC3339), e.Status, e.TotalFindings, e.DataSource)
	}
	return nil
}

func (r *Renderer) memoryTable(hits []memory.Retrieved) error {
	if len(hits) == 0 {
		fmt.Fprintln(r.out, "(no relevant memories)")
		return nil
	}

	w := tabwriter.NewWriter(r.out, 0, 0, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintln(w, "MEMORY\tSCORE\tOUTCOME\tCATEGORY\tSERVICE\tFIX")
	for _, h := range hits {
		fmt.Fprintf(w, "%s\t%.1f\t%s\t%s\t%s\t%s\n",
			h.Entry.ItemID, h.Score, h.Entry.Outcome, h.Entry.Category, h.Entry.Service,
			truncate(h.Entry.FixApproachSummary, 48))
	}
	return nil
}

func (r *Renderer) summary(s monitor.Summary) error {
	w := tabwriter.NewWriter(r.out, 0, 0, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintf(w, "Run:\t%s\n", s.RunID)
	fmt.Fprintf(w, "Status:\t%s\n", s.Status)
	fmt.Fprintf(w, "Source:\t%s\n", s.DataSource)
	fmt.Fprintf(w, "Started:\t%s\n", s.StartedAt.Format(time.RFC3339))
	fmt.Fprintf(w, "Wave:\t%d/%d\n", s.CurrentWave, s.TotalWaves)
	fmt.Fprintf(w, "Findings:\t%d\n", s.TotalFindings)
	fmt.Fprintf(w, "Completed:\t%d (%d ok, %d failed)\n", s.Completed, s.Successful, s.Failed)
	fmt.Fprintf(w, "Active:\t%d\n", s.ActiveSessions)
	fmt.Fprintf(w, "PRs:\t%d awaiting review\n", s.PRsCreated)
	fmt.Fprintf(w, "Success rate:\t%.0f%%\n", s.SuccessRate*100)
	return nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

// isTTY returns true if the writer is a TTY.
func isTTY(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
