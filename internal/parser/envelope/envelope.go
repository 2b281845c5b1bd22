// Package envelope streams the elements of vendor corpus files shaped as
// {"data": [ ... ], ...}.
//
// Both schema files (source tree) and annotation files (label tree) use this
// envelope. Elements are handed out raw so the caller decides how to decode
// them; nothing outside the data array is materialized.
package envelope

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// DataKey is the envelope field holding the element array.
const DataKey = "data"

// ErrNoData reports a well-formed file that is not an envelope: the root is
// not an object, or it has no array-valued "data" field. Callers skip such
// files silently.
var ErrNoData = errors.New("envelope: no data array")

// Stream reads one envelope from r and calls emit for every element of its
// data array, in order. index counts elements from 0.
//
// Streaming behavior:
//   - Keys before "data" are skipped token by token.
//   - Keys after "data" are skipped without decoding.
//   - A null element is passed through; the caller decides what it means.
//
// Errors:
//   - ErrNoData when the file is valid JSON but not an envelope.
//   - A decode error for malformed JSON or trailing content after the root
//     value. Elements emitted before the error have already been delivered.
//   - The error returned by emit, unchanged.
//   - ctx.Err() when ctx is canceled between elements.
func Stream(ctx context.Context, r io.Reader, emit func(index int, raw json.RawMessage) error) error {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		if err == io.EOF {
			return fmt.Errorf("envelope: empty input: %w", io.ErrUnexpectedEOF)
		}
		return fmt.Errorf("envelope: read first token: %w", err)
	}

	if d, ok := tok.(json.Delim); !ok || d != '{' {
		// Not an object: make sure the rest is still valid JSON before
		// classifying the file as "not an envelope".
		if err := skipValueFromFirstToken(dec, tok); err != nil {
			return err
		}
		if err := expectEOF(dec); err != nil {
			return err
		}
		return ErrNoData
	}

	found := false
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("envelope: read object key: %w", err)
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("envelope: object key not a string (got %T)", keyTok)
		}

		valTok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("envelope: read value of %q: %w", key, err)
		}

		delim, isDelim := valTok.(json.Delim)
		if key != DataKey || found || !isDelim || delim != '[' {
			if err := skipValueFromFirstToken(dec, valTok); err != nil {
				return err
			}
			continue
		}

		found = true
		if err := streamArray(ctx, dec, emit); err != nil {
			return err
		}
	}

	end, err := dec.Token()
	if err != nil {
		return fmt.Errorf("envelope: read object end: %w", err)
	}
	if end != json.Delim('}') {
		return fmt.Errorf("envelope: expected '}', got %v", end)
	}
	if err := expectEOF(dec); err != nil {
		return err
	}
	if !found {
		return ErrNoData
	}
	return nil
}

// streamArray emits the elements of the current array ('[' consumed) and
// consumes the closing ']'.
func streamArray(ctx context.Context, dec *json.Decoder, emit func(int, json.RawMessage) error) error {
	i := 0
	for dec.More() {
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("envelope: decode %s[%d]: %w", DataKey, i, err)
		}
		if err := emit(i, raw); err != nil {
			return err
		}
		i++

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
	end, err := dec.Token()
	if err != nil {
		return fmt.Errorf("envelope: read %s end: %w", DataKey, err)
	}
	if end != json.Delim(']') {
		return fmt.Errorf("envelope: expected ']' after %s, got %v", DataKey, end)
	}
	return nil
}

// ReadAll reads a whole envelope and returns its elements. On any error no
// elements are returned, so a malformed file contributes nothing.
func ReadAll(ctx context.Context, b []byte) ([]json.RawMessage, error) {
	var out []json.RawMessage
	err := Stream(ctx, bytes.NewReader(b), func(_ int, raw json.RawMessage) error {
		out = append(out, raw)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func expectEOF(dec *json.Decoder) error {
	if _, err := dec.Token(); err != io.EOF {
		if err == nil {
			return errors.New("envelope: trailing data after root value")
		}
		return fmt.Errorf("envelope: trailing data: %w", err)
	}
	return nil
}

// skipNextValue skips the next JSON value from the decoder, without materializing it.
func skipNextValue(dec *json.Decoder) error {
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("envelope: skip value token: %w", err)
	}
	return skipValueFromFirstToken(dec, tok)
}

func skipValueFromFirstToken(dec *json.Decoder, tok any) error {
	d, ok := tok.(json.Delim)
	if !ok {
		return nil
	}

	switch d {
	case '{':
		for dec.More() {
			if _, err := dec.Token(); err != nil {
				return fmt.Errorf("envelope: skip object key: %w", err)
			}
			if err := skipNextValue(dec); err != nil {
				return err
			}
		}
		end, err := dec.Token()
		if err != nil {
			return fmt.Errorf("envelope: skip object end: %w", err)
		}
		if end != json.Delim('}') {
			return fmt.Errorf("envelope: expected '}', got %v", end)
		}
		return nil

	case '[':
		for dec.More() {
			if err := skipNextValue(dec); err != nil {
				return err
			}
		}
		end, err := dec.Token()
		if err != nil {
			return fmt.Errorf("envelope: skip array end: %w", err)
		}
		if end != json.Delim(']') {
			return fmt.Errorf("envelope: expected ']', got %v", end)
		}
		return nil

	default:
		return fmt.Errorf("envelope: unexpected delimiter %q", d)
	}
}
