package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smartetl/internal/aggregate"
	"smartetl/internal/config"
	"smartetl/internal/interchange"
	"smartetl/internal/mapping"
	"smartetl/internal/oracle"
	"smartetl/internal/schema"
	"smartetl/internal/storage"
)

const uploadCSV = "Pin,State,District,Male_0_5,Female_0_5,Age_5_18,Age_18_Plus,date\n" +
	"110001,Delhi,New Delhi,3,4,10,20,2024-01-15\n" +
	"110001,Delhi,New Delhi,1,1,1,1,2024-01-15\n" +
	"7102,Bihar,Patna,1,,x,2.5,15-01-2024\n"

func writeUpload(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write upload: %v", err)
	}
	return p
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRun_FileSink(t *testing.T) {
	src := writeUpload(t, "jan.csv", uploadCSV)
	out := filepath.Join(t.TempDir(), "out")
	archive := filepath.Join(t.TempDir(), "archive.csv")

	got, err := execute(t, "run", src, "--out-dir", out, "--data-type", "demographic", "--batch-size", "1", "--archive", archive)
	require.NoError(t, err, got)
	assert.Contains(t, got, "complete")
	assert.Contains(t, got, "heuristic")

	files, err := filepath.Glob(filepath.Join(out, "upload_*_demographic.csv"))
	require.NoError(t, err)
	require.Len(t, files, 1)

	f, err := os.Open(files[0])
	require.NoError(t, err)
	defer f.Close()
	recs, err := interchange.Read(f, interchange.LayoutFor(schema.Default()))
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "007102", recs[0].PrimaryID)
	assert.InDelta(t, 9, recs[1].Numeric[schema.FieldAge0to5], 1e-9)

	a, err := os.ReadFile(archive)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(a), "pincode,record_date,"), string(a))
}

func TestRun_UploadList(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.csv"), []byte(uploadCSV), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.csv"), []byte("Region,Kids\nDelhi,3\n"), 0o644))
	list := filepath.Join(dir, "uploads.txt")
	require.NoError(t, os.WriteFile(list, []byte("# january\na.csv\n\nb.csv\n"), 0o644))
	out := filepath.Join(dir, "out")

	_, err := execute(t, "run", "--list", list, "--out-dir", out)
	var ve *mapping.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("err = %v, want the second upload's *mapping.ValidationError", err)
	}
	assert.Contains(t, err.Error(), "b.csv")

	files, err := filepath.Glob(filepath.Join(out, "upload_*_enrollment.csv"))
	require.NoError(t, err)
	assert.Len(t, files, 1, "the first upload is still imported")
}

func TestRun_InvalidConfig(t *testing.T) {
	_, err := execute(t, "run", "--storage", "postgres")
	if err == nil || err.Error() != "configuration is invalid" {
		t.Fatalf("run without source or dsn: err = %v, want configuration is invalid", err)
	}
}

func TestRun_MappingFileWithoutIdentifier(t *testing.T) {
	src := writeUpload(t, "jan.csv", uploadCSV)
	mf := writeUpload(t, "m.yaml", "state:\n  sources: [State]\nage_0_5:\n  sources: [Male_0_5]\n")

	_, err := execute(t, "run", src, "--mapping", mf, "--out-dir", t.TempDir())
	var ve *mapping.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("err = %v, want *mapping.ValidationError", err)
	}
	assert.Equal(t, []string{"PIN Code"}, ve.MissingRequired)
}

// failingSink rejects every batch as if the connection were gone.
type failingSink struct{}

func (failingSink) UpsertBatch(context.Context, []aggregate.Record) (int64, error) {
	return 0, errors.New("connection refused")
}

func (failingSink) Close() {}

func TestRun_SinkFailureIsReported(t *testing.T) {
	var gotCfg storage.Config
	orig := newSinkFn
	newSinkFn = func(_ context.Context, cfg storage.Config) (storage.Sink, error) {
		gotCfg = cfg
		return failingSink{}, nil
	}
	t.Cleanup(func() { newSinkFn = orig })

	src := writeUpload(t, "jan.csv", uploadCSV)
	got, err := execute(t, "run", src, "--out-dir", "unused", "--table", "etl.custom")
	require.Error(t, err)
	assert.ErrorContains(t, err, "connection refused")
	assert.Contains(t, got, "error")
	assert.Equal(t, "etl.custom", gotCfg.Table)
	assert.Equal(t, storage.DataEnrollment, gotCfg.DataType)
	assert.NotEmpty(t, gotCfg.BatchID)
}

func TestInfer_OutputAndProfile(t *testing.T) {
	src := writeUpload(t, "jan.csv", uploadCSV)
	dir := t.TempDir()
	mf := filepath.Join(dir, "jan.mapping.yaml")
	profiles := filepath.Join(dir, "profiles")

	got, err := execute(t, "infer", src, "--output", mf, "--profile-dir", profiles, "--save-profile")
	require.NoError(t, err, got)
	assert.Contains(t, got, "pincode")
	assert.Contains(t, got, "profile saved to")

	cfg, err := mapping.LoadConfig(mf)
	require.NoError(t, err)
	assert.Equal(t, []string{"Pin"}, cfg.Sources(schema.FieldPincode))

	saved, err := filepath.Glob(filepath.Join(profiles, "*.yaml"))
	require.NoError(t, err)
	assert.Len(t, saved, 1)

	// the saved profile answers the next inference for the same headers
	got, err = execute(t, "infer", src, "--profile-dir", profiles, "--json")
	require.NoError(t, err, got)
	var doc struct {
		Method     string         `json:"method"`
		Mapping    mapping.Config `json:"mapping"`
		Validation mapping.Result `json:"validation"`
	}
	require.NoError(t, json.Unmarshal([]byte(got), &doc))
	assert.Equal(t, mapping.MethodProfile, doc.Method)
	assert.True(t, doc.Validation.Valid)
}

func TestInfer_MissingIdentifier(t *testing.T) {
	src := writeUpload(t, "jan.csv", "Region,Kids\nDelhi,3\n")
	_, err := execute(t, "infer", src)
	var ve *mapping.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("err = %v, want *mapping.ValidationError", err)
	}
}

func TestInfer_SaveProfileNeedsDir(t *testing.T) {
	src := writeUpload(t, "jan.csv", uploadCSV)
	_, err := execute(t, "infer", src, "--save-profile")
	assert.ErrorContains(t, err, "--profile-dir")
}

func TestValidate(t *testing.T) {
	got, err := execute(t, "validate", "--no-source")
	require.NoError(t, err, got)
	assert.Contains(t, got, "configuration is valid (job=smartetl storage=file)")

	got, err = execute(t, "validate", "--no-source", "--storage", "bogus")
	require.Error(t, err)
	assert.Contains(t, got, "storage.kind")

	_, err = execute(t, "validate")
	require.Error(t, err, "source.location is required by default")
}

type stubOracle struct{}

func (stubOracle) Suggest(context.Context, []string, string) (mapping.Config, error) {
	return nil, errors.New("unused")
}

func TestBuildInferencer(t *testing.T) {
	cat := schema.Default()
	orig := newOracleFn
	t.Cleanup(func() { newOracleFn = orig })

	p := &config.Pipeline{}
	if _, ok := buildInferencer(p, cat).(*mapping.Heuristic); !ok {
		t.Fatalf("default inferencer is not the heuristic")
	}

	p.Mapping.UseOracle = true
	newOracleFn = func(oracle.Config, *schema.Catalog) (mapping.Oracle, error) {
		return nil, errors.New("oracle: api key not set")
	}
	if _, ok := buildInferencer(p, cat).(*mapping.Heuristic); !ok {
		t.Fatalf("an oracle that cannot be built must fall back to the heuristic")
	}

	var gotCfg oracle.Config
	newOracleFn = func(cfg oracle.Config, _ *schema.Catalog) (mapping.Oracle, error) {
		gotCfg = cfg
		return stubOracle{}, nil
	}
	p.Oracle.APIKey, p.Oracle.Model = "k", "m"
	if _, ok := buildInferencer(p, cat).(*mapping.Assisted); !ok {
		t.Fatalf("oracle enabled: want *mapping.Assisted")
	}
	assert.Equal(t, oracle.Config{APIKey: "k", Model: "m"}, gotCfg)

	p.Mapping.ProfileDir = t.TempDir()
	inf, ok := buildInferencer(p, cat).(*mapping.Profiled)
	require.True(t, ok)
	assert.IsType(t, &mapping.Assisted{}, inf.Next)
}

func TestStorageConfig(t *testing.T) {
	p := &config.Pipeline{DataType: "biometric"}
	p.Storage = config.Storage{Kind: "sqlite", DSN: "file:x.db", Table: "t", Dir: "d", AutoCreate: true}
	got := storageConfig(p, schema.Default(), "b1")

	assert.Equal(t, "sqlite", got.Kind)
	assert.Equal(t, "file:x.db", got.DSN)
	assert.Equal(t, "t", got.TargetTable())
	assert.Equal(t, "d", got.Dir)
	assert.True(t, got.AutoCreate)
	assert.Equal(t, "b1", got.BatchID)
	assert.Equal(t, interchange.LayoutFor(schema.Default()).Columns(), got.Layout.Columns())

	p.Storage.Table = ""
	assert.Equal(t, "biometric_updates", storageConfig(p, schema.Default(), "").TargetTable())
}

func TestSetupMetrics_NoneAndUnknown(t *testing.T) {
	for _, backend := range []string{"", "none", "carrier-pigeon"} {
		flush := setupMetrics(config.Metrics{Backend: backend}, "job", true)
		if flush == nil {
			t.Fatalf("setupMetrics(%q) returned nil flush", backend)
		}
		flush()
	}
}
