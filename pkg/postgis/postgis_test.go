package postgis

import (
	"context"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewStore(db, nil), mock
}

func TestTableFor(t *testing.T) {
	tests := []struct {
		layer  string
		schema string
		table  string
		ok     bool
	}{
		{"roads", "public", "tbl_roads_pcmc", true},
		{"waterbody", "public", "tbl_rivers_pcmc", true},
		{"landuse", "public", "tbl_landuse", true},
		{"landmarks", "public", "tbl_landmarks", true},
		{"buildings", "", "", false},
		{"", "", "", false},
		{"ROADS", "", "", false},
	}

	for _, tc := range tests {
		ref, ok := TableFor(tc.layer)
		if ok != tc.ok {
			t.Errorf("TableFor(%q) ok = %v, want %v", tc.layer, ok, tc.ok)
			continue
		}
		if ok && (ref.Schema != tc.schema || ref.Table != tc.table) {
			t.Errorf("TableFor(%q) = %+v, want %s.%s", tc.layer, ref, tc.schema, tc.table)
		}
	}
}

func TestValidIdent(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"name", true},
		{"lu_class", true},
		{"_hidden", true},
		{"Col9", true},
		{"", false},
		{"9lives", false},
		{"a-b", false},
		{"a b", false},
		{`a"b`, false},
		{"schema.table", false},
		{"name; DROP TABLE x", false},
		{"naïve", false},
	}

	for _, tc := range tests {
		if got := ValidIdent(tc.in); got != tc.want {
			t.Errorf("ValidIdent(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestQuoteIdent(t *testing.T) {
	if got := quoteIdent("lu_class"); got != `"lu_class"` {
		t.Errorf("quoteIdent = %q", got)
	}
	// Grammar-checked inputs cannot carry quotes, but the doubling must
	// hold regardless.
	if got := quoteIdent(`a"b`); got != `"a""b"` {
		t.Errorf("quoteIdent = %q", got)
	}
}

func TestColumnExists(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("FROM information_schema.columns").
		WithArgs("public", "tbl_roads_pcmc", "name").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	mock.ExpectQuery("FROM information_schema.columns").
		WithArgs("public", "tbl_roads_pcmc", "nope").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}))

	ref := TableRef{Schema: "public", Table: "tbl_roads_pcmc"}

	ok, err := store.columnExists(context.Background(), ref, "name")
	if err != nil || !ok {
		t.Errorf("columnExists(name) = %v, %v, want true", ok, err)
	}
	ok, err = store.columnExists(context.Background(), ref, "nope")
	if err != nil || ok {
		t.Errorf("columnExists(nope) = %v, %v, want false", ok, err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
