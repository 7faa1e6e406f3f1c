package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRebind(t *testing.T) {
	q := `UPDATE events SET a = ? WHERE id IN (?, ?)`
	assert.Equal(t, q, DialectSQLite.rebind(q))
	assert.Equal(t, `UPDATE events SET a = $1 WHERE id IN ($2, $3)`, DialectPostgres.rebind(q))
}

func TestChunks(t *testing.T) {
	in := []string{"a", "b", "c", "d", "e"}
	assert.Equal(t, [][]string{{"a", "b"}, {"c", "d"}, {"e"}}, chunks(in, 2))
	assert.Nil(t, chunks(nil, 2))
}

func TestParseDialect(t *testing.T) {
	for in, want := range map[string]Dialect{"": DialectSQLite, "SQLite": DialectSQLite, "postgresql": DialectPostgres, "pq": DialectPostgres} {
		got, err := ParseDialect(in)
		assert.NoError(t, err)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseDialect("mysql")
	assert.Error(t, err)
}
