package datasource

import (
	"testing"

	"smartetl/internal/datasource/file"
	"smartetl/internal/datasource/httpds"
)

func TestNew_PicksByScheme(t *testing.T) {
	if _, ok := New("https://example.org/a.csv", nil).(*httpds.Remote); !ok {
		t.Fatalf("https location should be remote")
	}
	if _, ok := New("/tmp/a.csv", nil).(*file.Local); !ok {
		t.Fatalf("path should be local")
	}
	if got := New("uploads/a.xlsx", nil).Name(); got != "uploads/a.xlsx" {
		t.Fatalf("Name() = %q", got)
	}
}
