package dataset

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

const (
	UnknownLanguage  = "unknown"
	UnknownModel     = "unknown"
	DefaultSeverity  = "error"
	DefaultVersion   = "1.0.0"
	DefaultLicense   = "Unknown"
	DefaultSource    = "Unknown"
	metadataEntryIdx = -1
)

// Accepted timestamp layouts, tried in order. Layouts without a zone are read as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Fields whose presence makes a context_metadata row. language and user_prompt live on
// the instruction row and do not create a context row on their own.
var contextFields = []string{
	"error_message",
	"terminal_output",
	"successful_execution",
	"execution_time",
	"execution_date",
	"file_context",
	"file_path",
	"file_content",
	"framework",
}

// lower folds case without locale-specific rules. A Caser is stateful, so each call
// gets its own.
func lower(s string) string {
	return cases.Lower(language.Und).String(s)
}

// ParseTimestamp parses s with the accepted ISO-8601 layouts and returns it in UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if ts, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported timestamp %q", s)
}

type normalizer struct {
	index     int
	id        string
	anomalies []Anomaly
}

func (n *normalizer) note(field string, kind AnomalyKind, format string, args ...any) {
	n.anomalies = append(n.anomalies, Anomaly{
		Index:         n.index,
		InstructionID: n.id,
		Field:         field,
		Kind:          kind,
		Message:       fmt.Sprintf(format, args...),
	})
}

// Normalize converts one raw entry into a Record.
//
// Errors:
//   - *MissingFieldError when id, instruction_type or instruction is absent (id and
//     instruction_type must also be non-blank).
//   - *InvalidFieldError when a required field is not a string (a number is accepted for id).
//   - *MalformedTimestampError when timestamp or context.execution_date cannot be parsed.
//
// Wrong-typed optional fields are treated as absent and reported as anomalies.
func Normalize(entry Entry, index int) (Record, []Anomaly, error) {
	n := &normalizer{index: index}

	id, err := n.requiredID(entry)
	if err != nil {
		return Record{}, nil, err
	}
	n.id = id

	instrType, err := n.requiredString(entry, "instruction_type", true)
	if err != nil {
		return Record{}, nil, err
	}
	instruction, err := n.requiredString(entry, "instruction", false)
	if err != nil {
		return Record{}, nil, err
	}

	rec := Record{
		Index:           index,
		InstructionID:   id,
		InstructionType: instrType,
		Instruction:     instruction,
	}
	if !KnownInstructionType(instrType) {
		n.note("instruction_type", AnomalyUnrecognizedType, "instruction_type %q is not a recognized category", instrType)
	}

	rec.InputCode = n.firstString(entry, "input", "input_code").OrElse("")
	rec.OutputCode = n.firstString(entry, "output", "output_code").OrElse("")

	ctx := n.object(entry, "context")

	lang := n.optString(ctx, "context.language", "language")
	if !lang.IsSet() {
		lang = n.optString(entry, "language", "language")
	}
	rec.Language = normalizeLanguage(lang.OrElse(""))
	if rec.Language == UnknownLanguage {
		n.note("language", AnomalyUnknownLanguage, "language is absent or blank")
	}

	rec.UserPrompt = n.optString(ctx, "context.user_prompt", "user_prompt")
	if !rec.UserPrompt.IsSet() {
		rec.UserPrompt = n.optString(entry, "user_prompt", "user_prompt")
	}

	if rec.Timestamp, err = n.optTime(entry, "timestamp", "timestamp"); err != nil {
		return Record{}, nil, err
	}

	rec.ModelUsed = UnknownModel
	if m, ok := n.optString(entry, "model_used", "model_used").Get(); ok && strings.TrimSpace(m) != "" {
		rec.ModelUsed = m
	}

	if rec.Context, err = n.context(ctx, rec.UserPrompt); err != nil {
		return Record{}, nil, err
	}
	rec.Dependencies = n.dependencies(ctx, entry)
	rec.LintingErrors = n.lintingErrors(ctx, entry)
	rec.Feedback = n.feedback(ctx, entry)

	return rec, n.anomalies, nil
}

// NormalizeMetadata applies defaults to the dataset_metadata object. raw may be nil.
//
// Errors:
//   - *MalformedTimestampError (Index -1) when created_at cannot be parsed.
func NormalizeMetadata(raw map[string]any) (Metadata, []Anomaly, error) {
	n := &normalizer{index: metadataEntryIdx}
	meta := Metadata{
		Version: nonBlank(n.optString(raw, "version", "version"), DefaultVersion),
		License: nonBlank(n.optString(raw, "license", "license"), DefaultLicense),
		Source:  nonBlank(n.optString(raw, "source", "source"), DefaultSource),
	}

	var err error
	if meta.CreatedAt, err = n.optTime(raw, "created_at", "created_at"); err != nil {
		return Metadata{}, nil, err
	}
	meta.DeclaredSampleCount = n.optInt(raw, "sample_count", "sample_count")
	return meta, n.anomalies, nil
}

func (n *normalizer) requiredID(entry Entry) (string, error) {
	v, ok := entry["id"]
	if !ok || v == nil {
		return "", &MissingFieldError{Index: n.index, Field: "id"}
	}
	var id string
	switch t := v.(type) {
	case string:
		id = t
	case json.Number:
		id = t.String()
	case float64:
		id = strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return "", &InvalidFieldError{Index: n.index, Field: "id", Want: "a string", Got: jsonType(v)}
	}
	if strings.TrimSpace(id) == "" {
		return "", &MissingFieldError{Index: n.index, Field: "id"}
	}
	return norm.NFC.String(id), nil
}

func (n *normalizer) requiredString(entry Entry, field string, needText bool) (string, error) {
	v, ok := entry[field]
	if !ok || v == nil {
		return "", &MissingFieldError{Index: n.index, ID: n.id, Field: field}
	}
	s, ok := v.(string)
	if !ok {
		return "", &InvalidFieldError{Index: n.index, ID: n.id, Field: field, Want: "a string", Got: jsonType(v)}
	}
	if needText && strings.TrimSpace(s) == "" {
		return "", &MissingFieldError{Index: n.index, ID: n.id, Field: field}
	}
	return s, nil
}

func (n *normalizer) context(ctx map[string]any, userPrompt Option[string]) (Option[Context], error) {
	present := false
	for _, f := range contextFields {
		if v, ok := ctx[f]; ok && v != nil {
			present = true
			break
		}
	}
	if !present {
		return None[Context](), nil
	}

	c := Context{
		UserPrompt:          userPrompt,
		ErrorMessage:        n.optString(ctx, "context.error_message", "error_message"),
		TerminalOutput:      n.optString(ctx, "context.terminal_output", "terminal_output"),
		SuccessfulExecution: n.optBool(ctx, "context.successful_execution", "successful_execution"),
		ExecutionTime:       n.optFloat(ctx, "context.execution_time", "execution_time"),
		FileContext:         n.optText(ctx, "context.file_context", "file_context"),
		FilePath:            n.optString(ctx, "context.file_path", "file_path"),
		FileContent:         n.optString(ctx, "context.file_content", "file_content"),
		Framework:           n.optString(ctx, "context.framework", "framework"),
	}
	var err error
	if c.ExecutionDate, err = n.optTime(ctx, "context.execution_date", "execution_date"); err != nil {
		return None[Context](), err
	}
	return Some(c), nil
}

func (n *normalizer) dependencies(ctx, entry map[string]any) []Dependency {
	var out []Dependency
	sources := []struct {
		obj   map[string]any
		field string
		key   string
	}{
		{ctx, "context.dependencies", "dependencies"},
		{ctx, "context.project_dependencies", "project_dependencies"},
		{entry, "dependencies", "dependencies"},
		{entry, "project_dependencies", "project_dependencies"},
	}
	for _, src := range sources {
		v, ok := src.obj[src.key]
		if !ok || v == nil {
			continue
		}
		switch t := v.(type) {
		case []any:
			for i, el := range t {
				field := fmt.Sprintf("%s[%d]", src.field, i)
				obj, ok := el.(map[string]any)
				if !ok {
					n.note(field, AnomalySkippedElement, "dependency is %s, not an object", jsonType(el))
					continue
				}
				name := strings.TrimSpace(n.optString(obj, field+".name", "name").OrElse(""))
				if name == "" {
					n.note(field, AnomalySkippedElement, "dependency has no name")
					continue
				}
				out = append(out, Dependency{Name: name, Version: n.optString(obj, field+".version", "version")})
			}
		case map[string]any:
			// {"name": "version"} as found in package manifests.
			names := make([]string, 0, len(t))
			for k := range t {
				names = append(names, k)
			}
			sort.Strings(names)
			for _, name := range names {
				if strings.TrimSpace(name) == "" {
					continue
				}
				out = append(out, Dependency{Name: name, Version: n.optString(t, src.field+"."+name, name)})
			}
		default:
			n.note(src.field, AnomalyInvalidType, "expected an array, got %s", jsonType(v))
		}
	}
	return out
}

func (n *normalizer) lintingErrors(ctx, entry map[string]any) []LintingError {
	field := "context.linting_errors"
	v, ok := ctx["linting_errors"]
	if !ok || v == nil {
		field = "linting_errors"
		v = entry["linting_errors"]
	}
	if v == nil {
		return nil
	}
	arr, ok := v.([]any)
	if !ok {
		n.note(field, AnomalyInvalidType, "expected an array, got %s", jsonType(v))
		return nil
	}

	out := make([]LintingError, 0, len(arr))
	for i, el := range arr {
		f := fmt.Sprintf("%s[%d]", field, i)
		obj, ok := el.(map[string]any)
		if !ok {
			n.note(f, AnomalySkippedElement, "linting error is %s, not an object", jsonType(el))
			continue
		}
		le := LintingError{
			Line:     n.optInt(obj, f+".line", "line"),
			Column:   n.optInt(obj, f+".column", "column"),
			Message:  n.optString(obj, f+".message", "message").OrElse(""),
			Severity: DefaultSeverity,
			Rule:     n.optString(obj, f+".rule", "rule"),
		}
		if s, ok := n.optString(obj, f+".severity", "severity").Get(); ok && strings.TrimSpace(s) != "" {
			le.Severity = lower(strings.TrimSpace(s))
		}
		if !knownSeverities[le.Severity] {
			n.note(f+".severity", AnomalyUnrecognizedSeverity, "severity %q is not one of error, warning, info", le.Severity)
		}
		out = append(out, le)
	}
	return out
}

func (n *normalizer) feedback(ctx, entry map[string]any) Option[Feedback] {
	field := "context.user_feedback"
	v, ok := ctx["user_feedback"]
	if !ok || v == nil {
		field = "user_feedback"
		v = entry["user_feedback"]
	}
	if v == nil {
		return None[Feedback]()
	}
	obj, ok := v.(map[string]any)
	if !ok {
		n.note(field, AnomalyInvalidType, "expected an object, got %s", jsonType(v))
		return None[Feedback]()
	}
	if len(obj) == 0 {
		return None[Feedback]()
	}
	fb := Feedback{
		Rating:             n.optInt(obj, field+".rating", "rating"),
		Comment:            n.optString(obj, field+".comment", "comment"),
		WasHelpful:         n.optBool(obj, field+".was_helpful", "was_helpful"),
		HelpedSolveProblem: n.optBool(obj, field+".helped_solve_problem", "helped_solve_problem"),
	}
	if fb.Empty() {
		n.note(field, AnomalySkippedElement, "no usable feedback fields; row omitted")
		return None[Feedback]()
	}
	return Some(fb)
}

// object returns obj[key] as an object, or nil when absent or of another type.
func (n *normalizer) object(obj map[string]any, key string) map[string]any {
	v, ok := obj[key]
	if !ok || v == nil {
		return nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		n.note(key, AnomalyInvalidType, "expected an object, got %s", jsonType(v))
		return nil
	}
	return m
}

func (n *normalizer) firstString(obj map[string]any, keys ...string) Option[string] {
	for _, k := range keys {
		if s := n.optString(obj, k, k); s.IsSet() {
			return s
		}
	}
	return None[string]()
}

func (n *normalizer) optString(obj map[string]any, field, key string) Option[string] {
	v, ok := obj[key]
	if !ok || v == nil {
		return None[string]()
	}
	switch t := v.(type) {
	case string:
		return Some(t)
	case json.Number:
		return Some(t.String())
	default:
		n.note(field, AnomalyInvalidType, "expected a string, got %s", jsonType(v))
		return None[string]()
	}
}

// optText accepts a string as-is and re-encodes objects and arrays as compact JSON text.
func (n *normalizer) optText(obj map[string]any, field, key string) Option[string] {
	v, ok := obj[key]
	if !ok || v == nil {
		return None[string]()
	}
	switch v.(type) {
	case map[string]any, []any:
		b, err := json.Marshal(v)
		if err != nil {
			n.note(field, AnomalyInvalidType, "cannot encode value: %v", err)
			return None[string]()
		}
		return Some(string(b))
	}
	return n.optString(obj, field, key)
}

func (n *normalizer) optInt(obj map[string]any, field, key string) Option[int64] {
	v, ok := obj[key]
	if !ok || v == nil {
		return None[int64]()
	}
	var f float64
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return Some(i)
		}
		parsed, err := t.Float64()
		if err != nil {
			n.note(field, AnomalyInvalidType, "expected an integer, got %q", t.String())
			return None[int64]()
		}
		f = parsed
	case float64:
		f = t
	case int:
		return Some(int64(t))
	case int64:
		return Some(t)
	default:
		n.note(field, AnomalyInvalidType, "expected an integer, got %s", jsonType(v))
		return None[int64]()
	}
	if f != math.Trunc(f) || math.IsInf(f, 0) || math.Abs(f) > math.MaxInt64 {
		n.note(field, AnomalyInvalidType, "expected an integer, got %v", f)
		return None[int64]()
	}
	return Some(int64(f))
}

func (n *normalizer) optFloat(obj map[string]any, field, key string) Option[float64] {
	v, ok := obj[key]
	if !ok || v == nil {
		return None[float64]()
	}
	switch t := v.(type) {
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			n.note(field, AnomalyInvalidType, "expected a number, got %q", t.String())
			return None[float64]()
		}
		return Some(f)
	case float64:
		return Some(t)
	default:
		n.note(field, AnomalyInvalidType, "expected a number, got %s", jsonType(v))
		return None[float64]()
	}
}

func (n *normalizer) optBool(obj map[string]any, field, key string) Option[bool] {
	v, ok := obj[key]
	if !ok || v == nil {
		return None[bool]()
	}
	b, ok := v.(bool)
	if !ok {
		n.note(field, AnomalyInvalidType, "expected a boolean, got %s", jsonType(v))
		return None[bool]()
	}
	return Some(b)
}

// optTime parses obj[key]. An absent key, null or empty string is None.
func (n *normalizer) optTime(obj map[string]any, field, key string) (Option[time.Time], error) {
	v, ok := obj[key]
	if !ok || v == nil {
		return None[time.Time](), nil
	}
	s, ok := v.(string)
	if !ok {
		return None[time.Time](), &MalformedTimestampError{Index: n.index, ID: n.id, Field: field, Value: fmt.Sprint(v)}
	}
	if strings.TrimSpace(s) == "" {
		return None[time.Time](), nil
	}
	ts, err := ParseTimestamp(s)
	if err != nil {
		return None[time.Time](), &MalformedTimestampError{Index: n.index, ID: n.id, Field: field, Value: s}
	}
	return Some(ts), nil
}

func normalizeLanguage(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return UnknownLanguage
	}
	return lower(s)
}

func nonBlank(o Option[string], def string) string {
	if s, ok := o.Get(); ok && strings.TrimSpace(s) != "" {
		return s
	}
	return def
}

func jsonType(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "a string"
	case bool:
		return "a boolean"
	case json.Number, float64, int, int64:
		return "a number"
	case []any:
		return "an array"
	case map[string]any:
		return "an object"
	default:
		return fmt.Sprintf("%T", v)
	}
}
