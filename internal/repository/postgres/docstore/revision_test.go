package docstore

import (
	"strings"
	"testing"

	"docstore/internal/repository/postgres"
)

func TestRevisionInsertQuery(t *testing.T) {
	repo := &PostgresRevisionRepository{tables: postgres.NewTableNames("test_")}
	query := repo.insertQuery()

	tests := []struct {
		name string
		want string
	}{
		{"bumps the counter", "UPDATE test_counters SET value = value + 1 WHERE name = 'sequence' RETURNING value"},
		{"writes the sequence explicitly", "INSERT INTO test_revs (sequence, doc_id,"},
		{"takes the sequence from the counter", "SELECT next.value, $1, $2, $3, $4, $5, $6, $7 FROM next"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !strings.Contains(query, tt.want) {
				t.Errorf("insert query missing %q:\n%s", tt.want, query)
			}
		})
	}
}
