package session

import (
	"fmt"
	"strings"

	"github.com/justapithecus/mender/fsx"
	"github.com/justapithecus/mender/types"
)

// PromptInput carries everything the prompt builder needs beyond the
// finding itself.
type PromptInput struct {
	Finding *types.Finding
	RunID   string
	// MemoryContext is the retriever's rendering of relevant past fixes.
	// Empty when no memories scored above the relevance gate.
	MemoryContext string
	// ServiceOverride is extra per-service guidance from the overrides file.
	ServiceOverride string
}

// BuildPrompt renders the dispatch prompt for one finding. The mock client
// and operators both read these, so the "Key: value" header block is part
// of the contract.
func BuildPrompt(in PromptInput) string {
	f := in.Finding
	var b strings.Builder

	fmt.Fprintf(&b, "Fix the following security finding in %s.\n\n", f.ServiceName)
	fmt.Fprintf(&b, "Finding ID: %s\n", f.FindingID)
	fmt.Fprintf(&b, "Category: %s\n", f.Category)
	fmt.Fprintf(&b, "Severity: %s\n", f.Severity)
	fmt.Fprintf(&b, "Service: %s\n", f.ServiceName)
	fmt.Fprintf(&b, "Title: %s\n", f.Title)
	if f.RepoURL != "" {
		fmt.Fprintf(&b, "Repository: %s\n", f.RepoURL)
	}
	if f.FilePath != "" {
		if f.LineNumber != nil {
			fmt.Fprintf(&b, "Location: %s:%d\n", f.FilePath, *f.LineNumber)
		} else {
			fmt.Fprintf(&b, "Location: %s\n", f.FilePath)
		}
	}
	if f.CWEID != "" {
		fmt.Fprintf(&b, "CWE: %s\n", f.CWEID)
	}

	if f.Description != "" {
		fmt.Fprintf(&b, "\nDescription:\n%s\n", f.Description)
	}

	if f.Category == types.CategoryDependencyVulnerability && f.DependencyName != "" {
		b.WriteString("\nDependency details:\n")
		fmt.Fprintf(&b, "- Dependency: %s\n", f.DependencyName)
		if f.CurrentVersion != "" {
			fmt.Fprintf(&b, "- Current version: %s\n", f.CurrentVersion)
		}
		if f.FixedVersion != "" {
			fmt.Fprintf(&b, "- Fixed version: %s\n", f.FixedVersion)
		}
	}

	if in.ServiceOverride != "" {
		fmt.Fprintf(&b, "\nService-specific guidance:\n%s\n", in.ServiceOverride)
	}

	if in.MemoryContext != "" {
		fmt.Fprintf(&b, "\nRelevant past fixes:\n%s\n", in.MemoryContext)
	}

	b.WriteString(`
Instructions:
1. Locate the vulnerable code and apply a minimal, targeted fix.
2. Do not refactor unrelated code.
3. Run the existing test suite and add a regression test for the fix.
4. Open a pull request with a description referencing the finding ID.
5. Report progress through the structured output channel after every step,
   including status, progress_pct, and current_step.
`)
	fmt.Fprintf(&b, "\nOrchestration run: %s\n", in.RunID)

	return b.String()
}

// LoadServiceOverrides reads per-service prompt guidance from a JSON file
// mapping service name to instruction text. A missing file is an empty map.
func LoadServiceOverrides(path string) (map[string]string, error) {
	overrides := make(map[string]string)
	if err := fsx.ReadJSON(path, &overrides); err != nil {
		if isNotExist(err) {
			return overrides, nil
		}
		return nil, fmt.Errorf("load service overrides: %w", err)
	}
	return overrides, nil
}
