package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smartetl/internal/aggregate"
	"smartetl/internal/interchange"
	"smartetl/internal/schema"
	"smartetl/internal/storage"
)

func rec(id string, n float64) aggregate.Record {
	return aggregate.Record{PrimaryID: id, Date: "2024-01-15", Numeric: map[string]float64{schema.FieldAge0to5: n}}
}

func TestSink_AppendsBatches(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out", "uploads")
	l := interchange.LayoutFor(schema.Default())
	cfg := storage.Config{Kind: "file", Dir: dir, AutoCreate: true, DataType: storage.DataBiometric, BatchID: "b1", Layout: l}

	s, err := storage.New(context.Background(), cfg)
	require.NoError(t, err)
	require.NoError(t, storage.EnsureTable(context.Background(), cfg, s))

	loaded, err := storage.LoadBatches(context.Background(), s, []aggregate.Record{rec("110001", 1), rec("110002", 2), rec("110003", 3)}, 2, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 3, loaded.Written)
	assert.Equal(t, 2, loaded.Batches)

	fs := s.(*Sink)
	assert.Equal(t, filepath.Join(dir, "upload_b1_biometric.csv"), fs.Path())
	assert.Equal(t, 3, fs.Stats().Records)
	s.Close()

	f, err := os.Open(fs.Path())
	require.NoError(t, err)
	defer f.Close()
	got, err := interchange.Read(f, l)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "110003", got[2].PrimaryID)
	assert.Equal(t, aggregate.DefaultText, got[0].Text[schema.FieldState])
	assert.InDelta(t, 2, got[1].Numeric[schema.FieldAge0to5], 1e-9)
}

func TestSink_MissingDirIsNotABatchError(t *testing.T) {
	cfg := storage.Config{Kind: "file", Dir: filepath.Join(t.TempDir(), "missing"), Layout: interchange.LayoutFor(schema.Default())}
	s, err := New(cfg)
	require.NoError(t, err)

	_, err = storage.LoadBatches(context.Background(), s, []aggregate.Record{rec("110001", 1)}, 10, nil)
	require.Error(t, err, "every batch failed, so the load fails")
}

func TestNew_RequiresDir(t *testing.T) {
	_, err := New(storage.Config{Kind: "file"})
	assert.ErrorContains(t, err, "storage.dir")
}

func TestName(t *testing.T) {
	assert.Equal(t, "upload_abc_enrollment.csv", Name("abc", "enrollment"))
	assert.Equal(t, "upload_demographic.csv", Name("", "demographic"))
}
