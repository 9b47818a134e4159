// Package dataset turns raw instruction entries into typed records.
//
// Normalization is pure: it never touches storage and never logs. Fatal problems are
// returned as typed errors (MissingFieldError, InvalidFieldError, MalformedTimestampError);
// everything else that looks off is reported as an Anomaly and the entry is kept.
package dataset

import "time"

// Entry is one raw element of the instruction_dataset array, decoded with UseNumber.
type Entry = map[string]any

// Document is the decoded input file.
type Document struct {
	Entries     []Entry
	Metadata    map[string]any
	HasMetadata bool
}

// Record is a normalized instruction entry.
type Record struct {
	Index           int
	InstructionID   string
	InstructionType string
	Instruction     string
	InputCode       string
	OutputCode      string
	Language        string
	UserPrompt      Option[string]
	Timestamp       Option[time.Time]
	ModelUsed       string

	Context       Option[Context]
	Dependencies  []Dependency
	LintingErrors []LintingError
	Feedback      Option[Feedback]
}

// Context is the execution context of an entry. It is only set when at least one of its
// fields was present in the source.
type Context struct {
	UserPrompt          Option[string]
	ErrorMessage        Option[string]
	TerminalOutput      Option[string]
	SuccessfulExecution Option[bool]
	ExecutionTime       Option[float64]
	ExecutionDate       Option[time.Time]
	FileContext         Option[string]
	FilePath            Option[string]
	FileContent         Option[string]
	Framework           Option[string]
}

// Empty reports whether no field of c is set.
func (c Context) Empty() bool {
	return !c.UserPrompt.IsSet() && !c.ErrorMessage.IsSet() && !c.TerminalOutput.IsSet() &&
		!c.SuccessfulExecution.IsSet() && !c.ExecutionTime.IsSet() && !c.ExecutionDate.IsSet() &&
		!c.FileContext.IsSet() && !c.FilePath.IsSet() && !c.FileContent.IsSet() && !c.Framework.IsSet()
}

// Empty reports whether no field of f is set.
func (f Feedback) Empty() bool {
	return !f.Rating.IsSet() && !f.Comment.IsSet() && !f.WasHelpful.IsSet() && !f.HelpedSolveProblem.IsSet()
}

type Dependency struct {
	Name    string
	Version Option[string]
}

type LintingError struct {
	Line     Option[int64]
	Column   Option[int64]
	Message  string
	Severity string
	Rule     Option[string]
}

type Feedback struct {
	Rating             Option[int64]
	Comment            Option[string]
	WasHelpful         Option[bool]
	HelpedSolveProblem Option[bool]
}

// Metadata is the normalized dataset_metadata object.
type Metadata struct {
	Version             string
	CreatedAt           Option[time.Time]
	DeclaredSampleCount Option[int64]
	License             string
	Source              string
}

type AnomalyKind string

const (
	AnomalyUnknownLanguage      AnomalyKind = "unknown_language"
	AnomalyUnrecognizedType     AnomalyKind = "unrecognized_instruction_type"
	AnomalyRatingOutOfRange     AnomalyKind = "rating_out_of_range"
	AnomalyUnrecognizedSeverity AnomalyKind = "unrecognized_severity"
	AnomalyInvalidType          AnomalyKind = "invalid_type"
	AnomalySampleCountMismatch  AnomalyKind = "sample_count_mismatch"
	AnomalySkippedElement       AnomalyKind = "skipped_element"
)

// Anomaly is a non-fatal finding about one entry (Index -1 means dataset_metadata).
type Anomaly struct {
	Index         int         `json:"index"`
	InstructionID string      `json:"instruction_id,omitempty"`
	Field         string      `json:"field"`
	Kind          AnomalyKind `json:"kind"`
	Message       string      `json:"message"`
}

// KnownInstructionTypes are the documented instruction categories. Other values are
// accepted and stored verbatim.
var KnownInstructionTypes = []string{
	"bug_fixing",
	"code_completion",
	"algorithm_implementation",
	"code_refactoring",
	"unit_test_generation",
	"documentation_generation",
	"memory_leak_fix",
	"performance_optimization",
	"configuration_setup",
	"security_fix",
	"code_review",
	"api_implementation",
	"debugging",
	"data_processing",
	"pattern_implementation",
	"style_enforcement",
	"type_definition",
	"api_integration",
	"dependency_management",
	"code_explanation",
	"database_query_optimization",
	"frontend_component",
	"devops_automation",
	"architecture_design",
}

var knownTypes = func() map[string]bool {
	m := make(map[string]bool, len(KnownInstructionTypes))
	for _, t := range KnownInstructionTypes {
		m[t] = true
	}
	return m
}()

func KnownInstructionType(s string) bool { return knownTypes[s] }

// Severities recognized for linting errors.
var knownSeverities = map[string]bool{"error": true, "warning": true, "info": true}
