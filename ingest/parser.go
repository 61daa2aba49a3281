// Package ingest loads scanner findings from CSV, deduplicates them, and
// assigns priority scores that drive wave ordering.
package ingest

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/justapithecus/mender/fsx"
	"github.com/justapithecus/mender/log"
	"github.com/justapithecus/mender/types"
)

// ParseFile reads findings from a CSV export at path. Rows with an invalid
// category or severity are skipped with a warning rather than failing the
// whole batch; scanners emit junk rows routinely.
func ParseFile(path string, logger *log.Logger) ([]*types.Finding, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open findings csv: %w", err)
	}
	defer fsx.DiscardClose(f)

	return Parse(f, logger)
}

// Parse reads findings from CSV data with a header row.
func Parse(r io.Reader, logger *log.Logger) ([]*types.Finding, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.TrimSpace(strings.ToLower(name))] = i
	}
	for _, required := range []string{"finding_id", "category", "severity", "service_name"} {
		if _, ok := col[required]; !ok {
			return nil, fmt.Errorf("findings csv missing required column %q", required)
		}
	}

	field := func(row []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	var findings []*types.Finding
	line := 1
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			logger.Warn("skipping malformed csv row", map[string]any{
				"line":  line,
				"error": err.Error(),
			})
			continue
		}

		finding := &types.Finding{
			FindingID:      field(row, "finding_id"),
			Scanner:        field(row, "scanner"),
			Category:       types.FindingCategory(field(row, "category")),
			Severity:       types.Severity(field(row, "severity")),
			Title:          field(row, "title"),
			Description:    field(row, "description"),
			ServiceName:    field(row, "service_name"),
			RepoURL:        field(row, "repo_url"),
			FilePath:       field(row, "file_path"),
			CWEID:          field(row, "cwe_id"),
			DependencyName: field(row, "dependency_name"),
			CurrentVersion: field(row, "current_version"),
			FixedVersion:   field(row, "fixed_version"),
			Language:       field(row, "language"),
		}

		if !finding.Category.Valid() {
			logger.Warn("skipping finding with unknown category", map[string]any{
				"line":       line,
				"finding_id": finding.FindingID,
				"category":   string(finding.Category),
			})
			continue
		}
		if !finding.Severity.Valid() {
			logger.Warn("skipping finding with unknown severity", map[string]any{
				"line":       line,
				"finding_id": finding.FindingID,
				"severity":   string(finding.Severity),
			})
			continue
		}

		if raw := field(row, "line_number"); raw != "" {
			if n, convErr := strconv.Atoi(raw); convErr == nil {
				finding.LineNumber = &n
			}
		}

		findings = append(findings, finding)
	}

	return findings, nil
}
