package types

// Severity is the severity level assigned to a finding by the scanner.
type Severity string

// Severity constants, ordered from most to least severe.
const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Rank returns a comparable rank for the severity (higher = more severe).
// Unknown severities rank below low.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// Valid reports whether s is a known severity value.
func (s Severity) Valid() bool {
	return s.Rank() > 0
}

// FindingCategory classifies the kind of security issue.
type FindingCategory string

// Finding category constants.
const (
	CategoryDependencyVulnerability FindingCategory = "dependency_vulnerability"
	CategorySQLInjection            FindingCategory = "sql_injection"
	CategoryHardcodedSecret         FindingCategory = "hardcoded_secret"
	CategoryPIILogging              FindingCategory = "pii_logging"
	CategoryMissingEncryption       FindingCategory = "missing_encryption"
	CategoryAccessLogging           FindingCategory = "access_logging"
	CategoryXSS                     FindingCategory = "xss"
	CategoryPathTraversal           FindingCategory = "path_traversal"
	CategoryOther                   FindingCategory = "other"
)

// Categories lists all known finding categories.
func Categories() []FindingCategory {
	return []FindingCategory{
		CategoryDependencyVulnerability,
		CategorySQLInjection,
		CategoryHardcodedSecret,
		CategoryPIILogging,
		CategoryMissingEncryption,
		CategoryAccessLogging,
		CategoryXSS,
		CategoryPathTraversal,
		CategoryOther,
	}
}

// Valid reports whether c is a known category value.
func (c FindingCategory) Valid() bool {
	for _, known := range Categories() {
		if c == known {
			return true
		}
	}
	return false
}

// Finding is one security issue ingested from an upstream scanner.
// Findings are immutable once ingested; identity is FindingID.
type Finding struct {
	FindingID   string          `json:"finding_id"`
	Scanner     string          `json:"scanner"`
	Category    FindingCategory `json:"category"`
	Severity    Severity        `json:"severity"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	ServiceName string          `json:"service_name"`
	RepoURL     string          `json:"repo_url"`
	FilePath    string          `json:"file_path"`
	// LineNumber is nil when the scanner did not report a line.
	LineNumber *int `json:"line_number"`
	// Dependency fields are set only for dependency_vulnerability findings.
	CWEID          string `json:"cwe_id,omitempty"`
	DependencyName string `json:"dependency_name,omitempty"`
	CurrentVersion string `json:"current_version,omitempty"`
	FixedVersion   string `json:"fixed_version,omitempty"`
	Language       string `json:"language,omitempty"`
	// PriorityScore is assigned by the prioritizer, not the scanner.
	PriorityScore float64 `json:"priority_score"`
}
