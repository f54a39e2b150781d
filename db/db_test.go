package db

import "testing"

func TestQualifiedTableSplit(t *testing.T) {
	tests := []struct {
		qualified string
		schema    string
		table     string
	}{
		{"acct10001.reporting_ocpusagelineitem_daily_summary", "acct10001", "reporting_ocpusagelineitem_daily_summary"},
		{"bare_table", "public", "bare_table"},
	}
	for _, tt := range tests {
		if got := schemaOf(tt.qualified); got != tt.schema {
			t.Errorf("schemaOf(%q) = %q, want %q", tt.qualified, got, tt.schema)
		}
		if got := tableOf(tt.qualified); got != tt.table {
			t.Errorf("tableOf(%q) = %q, want %q", tt.qualified, got, tt.table)
		}
	}
}

func TestInsertQuery(t *testing.T) {
	got := insertQuery("acct.t", []string{"a", "b"})
	want := "INSERT INTO acct.t (a, b) VALUES ($1, $2)"
	if got != want {
		t.Errorf("insertQuery = %q, want %q", got, want)
	}
}

func TestNullable(t *testing.T) {
	if nullable("") != nil {
		t.Error("empty string should map to NULL")
	}
	if nullable("x") != "x" {
		t.Error("non-empty string should pass through")
	}
}
