package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"web/clustermap/geo"
)

func TestSQL(t *testing.T) {
	tests := []struct {
		name  string
		pred  Predicate
		start int
		want  string
		args  []any
	}{
		{"nil", nil, 1, "TRUE", nil},
		{"range", Between("lat", -1, 2), 1, `"lat" BETWEEN $1 AND $2`, []any{-1.0, 2.0}},
		{"offset", Eq("status", "open"), 3, `"status" = $3`, []any{"open"}},
		{"not equal", Compare("n", OpNe, 4), 1, `"n" <> $1`, []any{4}},
		{"negation", Not(Compare("n", OpGte, 4)), 1, `NOT ("n" >= $1)`, []any{4}},
		{"empty or", Compound{Logic: LogicOr}, 1, "FALSE", nil},
		{"empty and", Compound{Logic: LogicAnd}, 1, "TRUE", nil},
		{"quoted identifier", Eq(`we"ird`, 1), 1, `"we""ird" = $1`, []any{1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, args, err := SQL(tt.pred, tt.start)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.args, args)
		})
	}
}

func TestSQLFromBuild(t *testing.T) {
	region := geo.Region{
		Center: geo.Coordinate{Latitude: 0, Longitude: 179},
		Span:   geo.Span{LatitudeDelta: 2, LongitudeDelta: 4},
	}
	req, err := Build("Place", "lat", "lon", region, Eq("open", true))
	require.NoError(t, err)

	got, args, err := SQL(req.Predicate, 1)
	require.NoError(t, err)
	assert.Equal(t,
		`((("lat" BETWEEN $1 AND $2) AND ("lon" BETWEEN $3 AND $4)) OR (("lat" BETWEEN $5 AND $6) AND ("lon" BETWEEN $7 AND $8))) AND ("open" = $9)`,
		got)
	assert.Len(t, args, 9)
	assert.Equal(t, true, args[8])
}

type custom struct{}

func (custom) Match(FieldSource) bool { return true }
func (custom) String() string         { return "custom" }

func TestSQLUnsupported(t *testing.T) {
	_, _, err := SQL(And(Eq("a", 1), custom{}), 1)
	assert.Error(t, err)

	_, _, err = SQL(Compare("a", Op("~"), 1), 1)
	assert.Error(t, err)
}
