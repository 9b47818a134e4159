package dataset

import "fmt"

func where(index int, id string) string {
	switch {
	case index < 0:
		return "dataset_metadata"
	case id != "":
		return fmt.Sprintf("entry %d (id %q)", index, id)
	default:
		return fmt.Sprintf("entry %d", index)
	}
}

// MissingFieldError reports an absent or blank required field.
type MissingFieldError struct {
	Index int
	ID    string
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("dataset: %s: missing required field %q", where(e.Index, e.ID), e.Field)
}

// InvalidFieldError reports a required field of the wrong JSON type.
type InvalidFieldError struct {
	Index int
	ID    string
	Field string
	Want  string
	Got   string
}

func (e *InvalidFieldError) Error() string {
	return fmt.Sprintf("dataset: %s: field %q must be %s, got %s", where(e.Index, e.ID), e.Field, e.Want, e.Got)
}

// MalformedTimestampError reports a timestamp that matches none of the accepted layouts.
type MalformedTimestampError struct {
	Index int
	ID    string
	Field string
	Value string
}

func (e *MalformedTimestampError) Error() string {
	return fmt.Sprintf("dataset: %s: malformed timestamp in %q: %q", where(e.Index, e.ID), e.Field, e.Value)
}

// DuplicateIDError reports two entries sharing an instruction_id.
type DuplicateIDError struct {
	ID     string
	First  int
	Second int
}

func (e *DuplicateIDError) Error() string {
	return fmt.Sprintf("dataset: duplicate instruction id %q at entries %d and %d", e.ID, e.First, e.Second)
}
