package match

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gyaneshwarpardhi/eventrelay/internal/event"
)

func sample() event.Event {
	return event.Event{
		ID:     "01J0000000000000000000000",
		UserID: "U1",
		ItemID: "P9",
		Type:   event.TypePurchase,
		Value:  42,
		Meta: map[string]any{
			"coldStart": true,
			"source":    "homepage-carousel",
			"bandit":    map[string]any{"arm": float64(3)},
		},
		DeliveryState: event.StatePending,
	}
}

func TestEval(t *testing.T) {
	cases := []struct {
		name string
		expr string
		want bool
	}{
		{"bool meta", `meta.coldStart == true`, true},
		{"missing meta is null", `meta.cold_start == true`, false},
		{"default cold start rule", `meta.coldStart == true OR meta.cold_start == true`, true},
		{"type equality", `type == "purchase"`, true},
		{"type inequality", `type != "purchase"`, false},
		{"numeric gt", `value > 10`, true},
		{"numeric lte", `value <= 41.5`, false},
		{"nested meta", `meta.bandit.arm == 3`, true},
		{"contains", `meta.source contains "carousel"`, true},
		{"matches", `user_id matches "^U[0-9]+$"`, true},
		{"camelCase alias", `userId == "U1"`, true},
		{"not", `NOT type == "view"`, true},
		{"parens", `(type == "view" OR type == "purchase") AND value >= 42`, true},
		{"and short circuit", `type == "view" AND value > "x"`, false},
		{"missing is null", `meta.nope == null`, true},
		{"ordered on missing", `meta.nope > 1`, false},
		{"string order", `item_id > "P1"`, true},
		{"state", `state == "pending"`, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			expr, err := Parse(tc.expr)
			require.NoError(t, err)
			got, err := Eval(expr, EventFields(sample()))
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestEvalTypeMismatch(t *testing.T) {
	expr := MustParse(`value > "abc"`)
	_, err := Eval(expr, EventFields(sample()))
	assert.Error(t, err)
}

func TestParseErrors(t *testing.T) {
	for _, src := range []string{
		``,
		`type = "view"`,
		`type == "view`,
		`(type == "view"`,
		`type == "view" extra`,
		`type`,
		`user_id matches "("`,
		`type == #`,
	} {
		t.Run(src, func(t *testing.T) {
			_, err := Parse(src)
			assert.Error(t, err)
		})
	}
}

func TestMustParsePanics(t *testing.T) {
	assert.Panics(t, func() { MustParse(`AND`) })
}
