package query

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestApplyOrdinalOperators(t *testing.T) {
	rows := []Row{{"age": 25}, {"age": 31}, {"age": 40}}

	got := Apply(rows, Filters{"age": Gte(30)})
	require.Len(t, got, 2)
	require.Equal(t, 31, got[0]["age"])
	require.Equal(t, 40, got[1]["age"])

	require.Len(t, Apply(rows, Filters{"age": Gt(31)}), 1)
	require.Len(t, Apply(rows, Filters{"age": Lte(31)}), 2)
	require.Len(t, Apply(rows, Filters{"age": Lt(25)}), 0)
}

func TestApplySetMembershipShorthand(t *testing.T) {
	rows := []Row{{"status": "a"}, {"status": "c"}}

	// A bare slice value means set membership without naming an operator.
	got := Apply(rows, Filters{"status": {Value: []any{"a", "b"}}})
	require.Len(t, got, 1)
	require.Equal(t, "a", got[0]["status"])

	got = Apply(rows, Filters{"status": In("a", "b")})
	require.Len(t, got, 1)
}

func TestApplyEqualityShorthand(t *testing.T) {
	rows := []Row{{"name": "Acme"}, {"name": "Globex"}}

	got := Apply(rows, Filters{"name": {Value: "Acme"}})
	require.Len(t, got, 1)

	got = Apply(rows, Filters{"name": Neq("Acme")})
	require.Len(t, got, 1)
	require.Equal(t, "Globex", got[0]["name"])
}

func TestApplyNumericCoercion(t *testing.T) {
	// Rows decoded from JSON carry float64 values; predicates often carry ints.
	rows := []Row{{"total": float64(100)}, {"total": float64(250)}}

	require.Len(t, Apply(rows, Filters{"total": Eq(100)}), 1)
	require.Len(t, Apply(rows, Filters{"total": Gte(101)}), 1)
}

func TestLikeAndILikeMatchIdentically(t *testing.T) {
	rows := []Row{{"name": "Acme Rockets"}, {"name": "Globex"}}

	for _, f := range []Filter{Like("%acme%"), ILike("%acme%"), Like("ACME")} {
		got := Apply(rows, Filters{"name": f})
		require.Len(t, got, 1, "operator %s", f.Operator)
		require.Equal(t, "Acme Rockets", got[0]["name"])
	}
}

func TestMatchesMissingColumn(t *testing.T) {
	require.False(t, Filters{"missing": Eq("x")}.Matches(Row{"present": "x"}))
}

func TestApplyEmptyFilters(t *testing.T) {
	rows := []Row{{"a": 1}, {"a": 2}}
	require.Equal(t, rows, Apply(rows, nil))
	require.Equal(t, rows, Apply(rows, Filters{}))
}

func TestValidateRejectsUnknownOperator(t *testing.T) {
	require.Error(t, Filters{"age": {Operator: "regex", Value: ".*"}}.Validate())
	require.NoError(t, Filters{"age": Gte(1), "status": {Value: []any{"a"}}}.Validate())
}

func TestOperatorValid(t *testing.T) {
	for _, op := range []Operator{OpEq, OpNeq, OpIn, OpGt, OpGte, OpLt, OpLte, OpLike, OpILike} {
		require.True(t, op.Valid(), "operator %s", op)
	}
	require.False(t, Operator("exec").Valid())
}
