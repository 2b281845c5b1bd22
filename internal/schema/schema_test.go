package schema

import (
	"errors"
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nl2sql/internal/corpus"
)

func shopSchema() *corpus.Schema {
	return &corpus.Schema{
		DBID:               "shop",
		TableNamesOriginal: corpus.Strings{"Customer", "Orders", "Item"},
		ColumnNamesOriginal: corpus.Columns{
			{TableID: -1, Name: "*"},
			{TableID: 0, Name: "Id"},
			{TableID: 0, Name: "Name"},
			{TableID: 1, Name: "Id"},
			{TableID: 1, Name: "Customer_Id"},
			{TableID: 2, Name: "Price"},
		},
		ColumnTypes: corpus.Strings{"text", "number", "text", "number", "number", "number"},
	}
}

func TestCheck(t *testing.T) {
	t.Parallel()

	wide := shopSchema()
	wide.ColumnNamesOriginal = corpus.Columns{{TableID: -1, Name: "*"}}
	wide.ColumnTypes = corpus.Strings{"text"}
	for i := 0; i < 50; i++ {
		wide.ColumnNamesOriginal = append(wide.ColumnNamesOriginal, corpus.Column{TableID: 0, Name: fmt.Sprintf("c%d", i)})
		wide.ColumnTypes = append(wide.ColumnTypes, "text")
	}

	foldedDupes := shopSchema()
	foldedDupes.ColumnNamesOriginal = append(corpus.Columns{}, wide.ColumnNamesOriginal[:50]...)
	foldedDupes.ColumnNamesOriginal = append(foldedDupes.ColumnNamesOriginal, corpus.Column{TableID: 0, Name: "C1"})
	foldedDupes.ColumnTypes = append(corpus.Strings{}, wide.ColumnTypes[:51]...)

	shortTypes := shopSchema()
	shortTypes.ColumnTypes = shortTypes.ColumnTypes[:len(shortTypes.ColumnTypes)-1]

	caseTables := shopSchema()
	caseTables.TableNamesOriginal = corpus.Strings{"Orders", "ORDERS", "Item"}

	tests := []struct {
		name string
		in   *corpus.Schema
		max  int
		want error
	}{
		{name: "valid", in: shopSchema()},
		{name: "types_one_short", in: shortTypes, want: ErrColumnTypesMismatch},
		{name: "51_distinct", in: wide, want: ErrTooManyColumns},
		{name: "51_distinct_custom_limit_ok", in: wide, max: 60},
		{name: "case_folded_duplicates_count_once", in: foldedDupes},
		{name: "ambiguous_tables", in: caseTables, want: ErrAmbiguousTable},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := Check(tc.in, tc.max)
			if tc.want == nil {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, tc.want), "err=%v want %v", err, tc.want)
		})
	}
}

func TestNewMapper_ShopLayout(t *testing.T) {
	t.Parallel()

	m, err := NewMapper(shopSchema())
	require.NoError(t, err)

	assert.Equal(t, map[string]int{
		"*":                  0,
		"customer.id":        1,
		"customer.name":      2,
		"orders.id":          3,
		"orders.customer_id": 4,
		"item.price":         5,
		"customer":           0,
		"orders":             1,
		"item":               2,
	}, m.Map())
	assert.Equal(t, 0, m.Wildcard())

	id, ok := m.Column("ORDERS", "customer_ID")
	require.True(t, ok)
	assert.Equal(t, 4, id)

	id, ok = m.Table("Item")
	require.True(t, ok)
	assert.Equal(t, 2, id)
}

func TestNewMapper_Errors(t *testing.T) {
	t.Parallel()

	noWildcard := shopSchema()
	noWildcard.ColumnNamesOriginal = noWildcard.ColumnNamesOriginal[1:]

	lateWildcard := shopSchema()
	lateWildcard.ColumnNamesOriginal = append(lateWildcard.ColumnNamesOriginal[1:], corpus.Column{TableID: -1, Name: "*"})

	badRef := shopSchema()
	badRef.ColumnNamesOriginal[5].TableID = 9

	dupCol := shopSchema()
	dupCol.ColumnNamesOriginal[2].Name = "ID"

	tests := []struct {
		name string
		in   *corpus.Schema
		want error
	}{
		{name: "no_wildcard", in: noWildcard, want: ErrWildcardMissing},
		{name: "wildcard_not_first", in: lateWildcard, want: ErrWildcardMissing},
		{name: "empty", in: &corpus.Schema{DBID: "x"}, want: ErrWildcardMissing},
		{name: "bad_table_ref", in: badRef, want: ErrTableRef},
		{name: "case_folded_column_collision", in: dupCol, want: ErrKeyCollision},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := NewMapper(tc.in)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tc.want), "err=%v", err)
		})
	}
}

func TestNewView(t *testing.T) {
	t.Parallel()

	v := NewView(shopSchema())
	assert.Equal(t, []string{"customer", "orders", "item"}, v.Tables)
	assert.Equal(t, []string{"id", "customer_id"}, v.Columns["orders"])
	assert.True(t, v.HasColumn("item", "price"))
	assert.False(t, v.HasColumn("item", "*"))
	assert.False(t, v.HasTable("Item"), "view keys are lower-cased")
}

// TestProperty_MapperColumnIDsAreBijective checks that for any generated
// schema the wildcard and "table.column" keys carry each id 0..N-1 once.
func TestProperty_MapperColumnIDsAreBijective(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("column ids are a permutation of 0..N-1", prop.ForAll(
		func(tables int, perTable []int) bool {
			s := &corpus.Schema{DBID: "gen"}
			s.ColumnNamesOriginal = corpus.Columns{{TableID: -1, Name: "*"}}
			for ti := 0; ti < tables; ti++ {
				s.TableNamesOriginal = append(s.TableNamesOriginal, fmt.Sprintf("T%d", ti))
				n := 1
				if ti < len(perTable) {
					n = perTable[ti]
				}
				for ci := 0; ci < n; ci++ {
					s.ColumnNamesOriginal = append(s.ColumnNamesOriginal, corpus.Column{TableID: ti, Name: fmt.Sprintf("Col%d", ci)})
				}
			}

			m, err := NewMapper(s)
			if err != nil {
				return false
			}
			ids := m.ColumnIDs()
			if len(ids) != len(s.ColumnNamesOriginal) || m.NumColumns() != len(ids) {
				return false
			}
			for i, id := range ids {
				if id != i {
					return false
				}
			}
			return m.Wildcard() == 0
		},
		gen.IntRange(1, 8),
		gen.SliceOfN(8, gen.IntRange(0, 6)),
	))

	properties.TestingRun(t)
}
