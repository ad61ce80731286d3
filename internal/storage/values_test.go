package storage

import (
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smartetl/internal/aggregate"
	"smartetl/internal/interchange"
	"smartetl/internal/schema"
)

func TestValues(t *testing.T) {
	l := interchange.LayoutFor(schema.Default())
	recs := []aggregate.Record{{
		PrimaryID: "110001",
		Date:      "2024-01-15",
		Text:      map[string]string{schema.FieldState: "Delhi"},
		Numeric:   map[string]float64{schema.FieldAge0to5: 9, schema.FieldAge18Plus: 2.5},
	}}

	rows, err := Values(l, recs, DateAsString)
	require.NoError(t, err)
	assert.Equal(t, [][]any{{"110001", "2024-01-15", "Delhi", "Unknown", 9.0, 0.0, 2.5}}, rows)

	rows, err = Values(l, recs, DateAsTime)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), rows[0][1])

	recs[0].Date = "15/01/2024"
	_, err = Values(l, recs, DateAsTime)
	assert.Error(t, err)
}

func TestKeyAndUpdateColumns(t *testing.T) {
	l := interchange.LayoutFor(schema.Default())
	if got := KeyColumns(l); !slices.Equal(got, []string{"pincode", "record_date"}) {
		t.Fatalf("KeyColumns() = %v", got)
	}
	want := []string{"state", "district", "age_0_5", "age_5_18", "age_18_plus"}
	if got := UpdateColumns(l); !slices.Equal(got, want) {
		t.Fatalf("UpdateColumns() = %v, want %v", got, want)
	}
}
