package model

import (
	"errors"
	"testing"
)

func TestInferColumnType(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		values []string
		want   ColumnType
	}{
		{name: "integers", values: []string{"1", "-2", " 3 "}, want: ColumnTypeInteger},
		{name: "integers and reals", values: []string{"1", "2.5"}, want: ColumnTypeReal},
		{name: "datetimes", values: []string{"2024-01-01", "2024-01-02 10:00:00"}, want: ColumnTypeDatetime},
		{name: "datetime mixed with number", values: []string{"2024-01-01", "3"}, want: ColumnTypeText},
		{name: "text", values: []string{"1", "abc"}, want: ColumnTypeText},
		{name: "empty values ignored", values: []string{"", "7", ""}, want: ColumnTypeInteger},
		{name: "all empty", values: []string{"", ""}, want: ColumnTypeText},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := InferColumnType(tt.values); got != tt.want {
				t.Errorf("InferColumnType(%v) = %v, want %v", tt.values, got, tt.want)
			}
		})
	}
}

func TestColumnType_String(t *testing.T) {
	t.Parallel()

	want := map[ColumnType]string{
		ColumnTypeText:     "TEXT",
		ColumnTypeInteger:  "INTEGER",
		ColumnTypeReal:     "REAL",
		ColumnTypeDatetime: "TEXT",
	}
	for ct, s := range want {
		if ct.String() != s {
			t.Errorf("%d.String() = %q, want %q", ct, ct.String(), s)
		}
	}
}

func TestInferColumnsInfo(t *testing.T) {
	t.Parallel()

	info := InferColumnsInfo(
		[]string{"id", "price", "name"},
		[][]string{{"1", "9.5", "tea"}, {"2", "10"}},
	)
	want := []ColumnInfo{
		{Name: "id", Type: ColumnTypeInteger},
		{Name: "price", Type: ColumnTypeReal},
		{Name: "name", Type: ColumnTypeText},
	}
	if len(info) != len(want) {
		t.Fatalf("len = %d, want %d", len(info), len(want))
	}
	for i := range want {
		if info[i] != want[i] {
			t.Errorf("info[%d] = %+v, want %+v", i, info[i], want[i])
		}
	}
}

func TestValidateColumnNames(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		columns []string
		wantErr error
	}{
		{name: "valid", columns: []string{"id", "name"}},
		{name: "case differs", columns: []string{"id", "ID"}},
		{name: "duplicate", columns: []string{"id", "name", "id"}, wantErr: ErrDuplicateColumnName},
		{name: "duplicate after trim", columns: []string{"id", " id "}, wantErr: ErrDuplicateColumnName},
		{name: "empty", columns: []string{"id", " "}, wantErr: ErrInvalidColumnName},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := ValidateColumnNames(tt.columns)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestColumnNames(t *testing.T) {
	t.Parallel()

	got := ColumnNames([]Column{{Name: "a"}, {Name: "b"}})
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("ColumnNames() = %v", got)
	}
}
