package corpus

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchema_UnmarshalCoercesScalars(t *testing.T) {
	t.Parallel()

	in := `{
		"db_id": "shop",
		"table_names_original": "Orders",
		"table_names": "orders",
		"column_names_original": [-1, "*"],
		"column_types": "text",
		"foreign_keys": [[1, 2]],
		"vendor": {"k": "v"}
	}`

	var s Schema
	require.NoError(t, json.Unmarshal([]byte(in), &s))

	assert.Equal(t, "shop", s.DBID)
	assert.Equal(t, Strings{"Orders"}, s.TableNamesOriginal)
	assert.Equal(t, Strings{"orders"}, s.TableNames)
	assert.Equal(t, Columns{{TableID: -1, Name: "*"}}, s.ColumnNamesOriginal)
	assert.Equal(t, Strings{"text"}, s.ColumnTypes)
	assert.Equal(t, []string{"foreign_keys", "vendor"}, s.ExtraKeys())
}

func TestSchema_RoundTripKeepsExtrasAndNonASCII(t *testing.T) {
	t.Parallel()

	in := `{"db_id":"상점","table_names_original":["주문"],"column_names_original":[[-1,"*"],[0,"금액<원>"]],"column_types":["text","number"],"primary_keys":[1]}`

	var s Schema
	require.NoError(t, json.Unmarshal([]byte(in), &s))

	out, err := Marshal(s)
	require.NoError(t, err)

	got := string(out)
	assert.Contains(t, got, `"db_id":"상점"`)
	assert.Contains(t, got, `"금액<원>"`)
	assert.Contains(t, got, `"primary_keys":[1]`)
	assert.NotContains(t, got, `"column_names"`, "absent optional keys must stay absent")

	var back Schema
	require.NoError(t, json.Unmarshal(out, &back))
	assert.Equal(t, s.ColumnNamesOriginal, back.ColumnNamesOriginal)
}

func TestSchema_MissingDBIDIsNotSchema(t *testing.T) {
	t.Parallel()

	var s Schema
	err := json.Unmarshal([]byte(`{"utterance": "hello"}`), &s)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotSchema), "err=%v", err)
}

func TestColumn_TableIDForms(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		in      string
		want    Column
		wantErr bool
	}{
		{name: "int", in: `[2, "name"]`, want: Column{TableID: 2, Name: "name"}},
		{name: "float", in: `[2.0, "name"]`, want: Column{TableID: 2, Name: "name"}},
		{name: "string", in: `["3", "x"]`, want: Column{TableID: 3, Name: "x"}},
		{name: "wildcard", in: `[-1, "*"]`, want: Column{TableID: -1, Name: "*"}},
		{name: "fraction", in: `[1.5, "x"]`, wantErr: true},
		{name: "short", in: `[1]`, wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			var c Column
			err := json.Unmarshal([]byte(tc.in), &c)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, c)
		})
	}
}

func TestRawRecord_TracksMissingFields(t *testing.T) {
	t.Parallel()

	var r RawRecord
	require.NoError(t, json.Unmarshal([]byte(`{"db_id":"shop","utterance_id":17,"query":null}`), &r))

	assert.ElementsMatch(t, []string{"query", "utterance"}, r.Missing)

	err := r.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMissingField))
}

func TestRawRecord_MetadataPassesThrough(t *testing.T) {
	t.Parallel()

	var r RawRecord
	require.NoError(t, json.Unmarshal([]byte(`{
		"db_id": "shop",
		"utterance_id": 17,
		"hardness": null,
		"query": "SELECT * FROM t",
		"utterance": "list all"
	}`), &r))
	require.NoError(t, r.Validate())

	rec := NewRecord(r, map[string]any{})
	b, err := Marshal(rec)
	require.NoError(t, err)

	var got map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(b, &got))
	assert.Equal(t, "17", string(got["utterance_id"]))
	assert.Equal(t, "null", string(got["hardness"]))
	assert.Equal(t, "null", string(got["utterance_type"]), "absent key")

	text, ok := MetaText(r.UtteranceID)
	assert.True(t, ok)
	assert.Equal(t, "17", text)
	_, ok = MetaText(r.Hardness)
	assert.False(t, ok)
	text, ok = MetaText(json.RawMessage(`"easy"`))
	assert.True(t, ok)
	assert.Equal(t, "easy", text)
}

func TestNewRecord_QuestionToksAndGold(t *testing.T) {
	t.Parallel()

	raw := RawRecord{DBID: "shop", Query: "SELECT * FROM t", Utterance: "list  all\t"}
	rec := NewRecord(raw, map[string]any{"limit": nil})

	assert.Equal(t, []string{"list", "all"}, rec.QuestionToks)
	assert.Equal(t, "SELECT * FROM t\tshop\n", rec.Gold().String())

	b, err := Marshal(rec)
	require.NoError(t, err)
	s := string(b)
	assert.True(t, strings.HasPrefix(s, `{"db_id":"shop","utterance_id":""`), s)
	assert.Contains(t, s, `"query_toks":[]`)
	assert.Contains(t, s, `"values":[]`)
}
