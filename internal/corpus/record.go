package corpus

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Raw annotation keys, as delivered by the labeling vendors.
const (
	keyUtteranceID   = "utterance_id"
	keyHardness      = "hardness"
	keyUtteranceType = "utterance_type"
	keyQuery         = "query"
	keyUtterance     = "utterance"
)

// ErrMissingField reports a raw record without one of the required keys.
var ErrMissingField = errors.New("corpus: raw record is missing a required field")

// RawRecord is one labeled utterance from the label tree.
//
// DBID, Query and Utterance are required and read as text whatever their
// JSON type. The metadata fields are copied verbatim: a null, a number or an
// absent key comes out of the canonical record exactly as it went in (absent
// becomes null).
type RawRecord struct {
	DBID      string
	Query     string
	Utterance string

	UtteranceID   json.RawMessage
	Hardness      json.RawMessage
	UtteranceType json.RawMessage

	// Missing lists required keys that were absent (or null) in the source.
	Missing []string
}

func (r *RawRecord) UnmarshalJSON(b []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(b, &fields); err != nil {
		return fmt.Errorf("raw record: %w", err)
	}
	*r = RawRecord{}
	required := []struct {
		key string
		dst *string
	}{
		{keyDBID, &r.DBID},
		{keyQuery, &r.Query},
		{keyUtterance, &r.Utterance},
	}
	for _, t := range required {
		raw, ok := fields[t.key]
		if !ok {
			r.Missing = append(r.Missing, t.key)
			continue
		}
		v, present, err := decodeText(raw)
		if err != nil {
			return fmt.Errorf("raw record %s: %w", t.key, err)
		}
		if !present {
			r.Missing = append(r.Missing, t.key)
			continue
		}
		*t.dst = v
	}

	r.UtteranceID = passThrough(fields[keyUtteranceID])
	r.Hardness = passThrough(fields[keyHardness])
	r.UtteranceType = passThrough(fields[keyUtteranceType])
	return nil
}

// passThrough returns raw trimmed, or nil (encoded as null) when absent.
func passThrough(raw json.RawMessage) json.RawMessage {
	t := bytes.TrimSpace(raw)
	if len(t) == 0 {
		return nil
	}
	return append(json.RawMessage(nil), t...)
}

// Validate returns ErrMissingField (wrapped with the key names) when a
// required key was absent.
func (r RawRecord) Validate() error {
	if len(r.Missing) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrMissingField, strings.Join(r.Missing, ", "))
}

// MetaText renders a pass-through metadata value for text columns: JSON
// strings unquoted, other scalars in their literal spelling. ok is false for
// null or an absent value.
func MetaText(raw json.RawMessage) (text string, ok bool) {
	if len(raw) == 0 {
		return "", false
	}
	v, present, err := decodeText(raw)
	if err != nil {
		// Arrays and objects keep their JSON text.
		return string(raw), true
	}
	return v, present
}

// Record is the canonical (Spider-style) record.
//
// Field order matches the reference output files. QueryToks,
// QueryToksNoValue, Values and Cols are reserved and always empty.
type Record struct {
	DBID             string          `json:"db_id"`
	UtteranceID      json.RawMessage `json:"utterance_id"`
	Hardness         json.RawMessage `json:"hardness"`
	UtteranceType    json.RawMessage `json:"utterance_type"`
	Query            string          `json:"query"`
	QueryToks        []string        `json:"query_toks"`
	QueryToksNoValue []string        `json:"query_toks_no_value"`
	Question         string          `json:"question"`
	QuestionToks     []string        `json:"question_toks"`
	Values           []any           `json:"values"`
	Cols             []any           `json:"cols"`
	SQL              any             `json:"sql"`
}

// NewRecord builds the canonical record for raw with the decomposed query
// tree sql. The question is tokenized on whitespace.
func NewRecord(raw RawRecord, sql any) Record {
	toks := strings.Fields(raw.Utterance)
	if toks == nil {
		toks = []string{}
	}
	return Record{
		DBID:             raw.DBID,
		UtteranceID:      raw.UtteranceID,
		Hardness:         raw.Hardness,
		UtteranceType:    raw.UtteranceType,
		Query:            raw.Query,
		QueryToks:        []string{},
		QueryToksNoValue: []string{},
		Question:         raw.Utterance,
		QuestionToks:     toks,
		Values:           []any{},
		Cols:             []any{},
		SQL:              sql,
	}
}

// GoldLine pairs a reference query with its database id.
type GoldLine struct {
	Query string
	DBID  string
}

// String renders the line as "<query>\t<db_id>\n".
func (g GoldLine) String() string {
	return g.Query + "\t" + g.DBID + "\n"
}

// Gold returns the gold line paired with r.
func (r Record) Gold() GoldLine {
	return GoldLine{Query: r.Query, DBID: r.DBID}
}
