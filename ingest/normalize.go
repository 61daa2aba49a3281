package ingest

import (
	"fmt"

	"github.com/justapithecus/mender/types"
)

// dedupKey identifies a finding location: two scanner rows pointing at the
// same (service, file, line, category) are the same underlying issue.
func dedupKey(f *types.Finding) string {
	line := -1
	if f.LineNumber != nil {
		line = *f.LineNumber
	}
	return fmt.Sprintf("%s|%s|%d|%s", f.ServiceName, f.FilePath, line, f.Category)
}

// Deduplicate collapses findings that share a location, keeping the one
// with the higher severity. Order of first occurrence is preserved.
func Deduplicate(findings []*types.Finding) []*types.Finding {
	seen := make(map[string]int, len(findings))
	out := make([]*types.Finding, 0, len(findings))

	for _, f := range findings {
		key := dedupKey(f)
		if i, ok := seen[key]; ok {
			if f.Severity.Rank() > out[i].Severity.Rank() {
				out[i] = f
			}
			continue
		}
		seen[key] = len(out)
		out = append(out, f)
	}
	return out
}
