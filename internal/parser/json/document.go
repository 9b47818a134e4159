// Package json decodes refiner input files.
package json

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"refiner/internal/dataset"
)

const (
	datasetKey  = "instruction_dataset"
	metadataKey = "dataset_metadata"
)

// ErrNoInput is returned by FirstJSONFile when dir holds no *.json file.
var ErrNoInput = errors.New("json: no input file")

// DecodeDocument reads one input document from r.
//
// The root must be an object. instruction_dataset is decoded one element at a time, so
// a malformed entry is reported with its index. Numbers are kept as json.Number.
// Unknown top-level keys are skipped. A missing or null dataset_metadata leaves
// HasMetadata false.
//
// Errors:
//   - root is not an object, or instruction_dataset is missing or not an array
//   - an instruction_dataset element is not an object (null included)
//   - any syntax error, wrapped with the position it was found at
func DecodeDocument(ctx context.Context, r io.Reader) (dataset.Document, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	var doc dataset.Document

	tok, err := dec.Token()
	if err != nil {
		if err == io.EOF {
			return doc, fmt.Errorf("json: empty input")
		}
		return doc, fmt.Errorf("json: read first token: %w", err)
	}
	if tok != json.Delim('{') {
		return doc, fmt.Errorf("json: root must be an object, got %v", tok)
	}

	sawDataset := false
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return doc, fmt.Errorf("json: read key: %w", err)
		}
		key, _ := keyTok.(string)

		switch key {
		case datasetKey:
			entries, err := decodeEntries(ctx, dec)
			if err != nil {
				return doc, err
			}
			doc.Entries = entries
			sawDataset = true

		case metadataKey:
			var meta map[string]any
			if err := dec.Decode(&meta); err != nil {
				return doc, fmt.Errorf("json: decode %s: %w", metadataKey, err)
			}
			doc.Metadata = meta
			doc.HasMetadata = meta != nil

		default:
			var skip json.RawMessage
			if err := dec.Decode(&skip); err != nil {
				return doc, fmt.Errorf("json: skip %q: %w", key, err)
			}
		}
	}

	if end, err := dec.Token(); err != nil {
		return doc, fmt.Errorf("json: read object end: %w", err)
	} else if end != json.Delim('}') {
		return doc, fmt.Errorf("json: expected object end '}', got %v", end)
	}
	if !sawDataset {
		return doc, fmt.Errorf("json: missing %s", datasetKey)
	}
	return doc, nil
}

// decodeEntries streams the array value of instruction_dataset.
func decodeEntries(ctx context.Context, dec *json.Decoder) ([]dataset.Entry, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("json: read %s: %w", datasetKey, err)
	}
	if tok != json.Delim('[') {
		return nil, fmt.Errorf("json: %s must be an array, got %v", datasetKey, tok)
	}

	entries := []dataset.Entry{}
	for i := 0; dec.More(); i++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		var raw any
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("json: decode %s[%d] (offset %d): %w", datasetKey, i, dec.InputOffset(), err)
		}
		obj, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("json: %s[%d] is not an object (got %T)", datasetKey, i, raw)
		}
		entries = append(entries, obj)
	}

	if end, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("json: read array end: %w", err)
	} else if end != json.Delim(']') {
		return nil, fmt.Errorf("json: expected array end ']', got %v", end)
	}
	return entries, nil
}

// DecodeFile opens path and decodes it with DecodeDocument.
func DecodeFile(ctx context.Context, path string) (dataset.Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return dataset.Document{}, fmt.Errorf("json: open input: %w", err)
	}
	defer f.Close()

	doc, err := DecodeDocument(ctx, f)
	if err != nil {
		return doc, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return doc, nil
}

// FirstJSONFile returns the first *.json regular file in dir, in lexical order.
// Only the first file is processed per run.
func FirstJSONFile(dir string) (string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("json: read input dir: %w", err)
	}
	var names []string
	for _, e := range ents {
		if e.Type().IsRegular() && strings.EqualFold(filepath.Ext(e.Name()), ".json") {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return "", fmt.Errorf("%w in %s", ErrNoInput, dir)
	}
	sort.Strings(names)
	return filepath.Join(dir, names[0]), nil
}
