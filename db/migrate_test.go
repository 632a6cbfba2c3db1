package db

import (
	"strings"
	"testing"
)

func TestConvertToMigrateURL(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{
			name: "postgres scheme",
			in:   "postgres://docsage:pw@localhost:5432/docsage?sslmode=disable",
			want: "pgx5://docsage:pw@localhost:5432/docsage?sslmode=disable",
		},
		{
			name: "postgresql scheme",
			in:   "postgresql://docsage@db/docsage",
			want: "pgx5://docsage@db/docsage",
		},
		{
			name: "scheme case insensitive",
			in:   "POSTGRES://docsage@db/docsage",
			want: "pgx5://docsage@db/docsage",
		},
		{
			name:    "rejects other schemes",
			in:      "mysql://root@db/app",
			wantErr: true,
		},
		{
			name:    "rejects schemeless",
			in:      "localhost:5432/docsage",
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := convertToMigrateURL(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("convertToMigrateURL(%q) error = nil, want failure", tt.in)
				}
				return
			}
			if err != nil {
				t.Fatalf("convertToMigrateURL(%q) unexpected error: %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("convertToMigrateURL(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

// Migrate must reject a bad URL before touching the network, and a nil
// logger must not panic.
func TestMigrate_InvalidURL(t *testing.T) {
	err := Migrate("mysql://root@db/app", nil)
	if err == nil {
		t.Fatal("Migrate() error = nil for unsupported scheme, want failure")
	}
	if !strings.Contains(err.Error(), "unsupported database URL scheme") {
		t.Errorf("error = %v, want scheme rejection", err)
	}
}
