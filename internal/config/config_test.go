package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/spf13/pflag"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", p, err)
	}
	return p
}

func TestLoad_DefaultsOnly(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")

	p, err := Load("", nil)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if p.Job != "smartetl" || p.DataType != "enrollment" {
		t.Fatalf("job/data_type = %q/%q", p.Job, p.DataType)
	}
	if p.Storage.Kind != "file" || p.Storage.Dir != "out" || !p.Storage.AutoCreate {
		t.Fatalf("storage = %+v", p.Storage)
	}
	if p.Source.Timeout != 60*time.Second {
		t.Fatalf("source.timeout = %s, want 60s", p.Source.Timeout)
	}
	if p.Runtime.BatchSize != 2000 || p.Runtime.ProgressEvery != 50000 {
		t.Fatalf("runtime = %+v", p.Runtime)
	}
	if p.Parser.Options == nil {
		t.Fatalf("parser.options is nil, want empty map")
	}
	if issues := ValidatePipeline(*p, false); HasErrors(issues) {
		t.Fatalf("defaults do not validate: %+v", issues)
	}
}

func TestLoad_Precedence(t *testing.T) {
	path := writeFile(t, "pipeline.yaml", `
job: nightly
data_type: biometric
source:
  location: uploads/jan.csv
parser:
  kind: csv
  options:
    comma: ";"
    lazy_quotes: true
    scrub:
      "\u00a0": " "
storage:
  kind: postgres
  dsn: postgresql://file@localhost/db
  table: public.bio
runtime:
  batch_size: 1000
`)
	t.Setenv("SMARTETL_STORAGE__DSN", "postgresql://env@localhost/db")
	t.Setenv("SMARTETL_RUNTIME__BATCH_SIZE", "1500")
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")

	fs := pflag.NewFlagSet("run", pflag.ContinueOnError)
	fs.Int("batch-size", 0, "")
	fs.String("table", "", "")
	fs.Bool("verbose", false, "")
	if err := fs.Parse([]string{"--batch-size=500", "--verbose"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}

	p, err := Load(path, fs)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if p.Job != "nightly" || p.DataType != "biometric" {
		t.Fatalf("job/data_type = %q/%q", p.Job, p.DataType)
	}
	if p.Source.Location != "uploads/jan.csv" {
		t.Fatalf("source.location = %q", p.Source.Location)
	}
	if got := p.Storage.DSN; got != "postgresql://env@localhost/db" {
		t.Fatalf("storage.dsn = %q, env should beat the file", got)
	}
	if got := p.Storage.Table; got != "public.bio" {
		t.Fatalf("storage.table = %q, an unset flag must not override", got)
	}
	if got := p.Runtime.BatchSize; got != 500 {
		t.Fatalf("runtime.batch_size = %d, flag should beat env", got)
	}
	if got := p.Runtime.ProgressEvery; got != 50000 {
		t.Fatalf("runtime.progress_every = %d, want default", got)
	}
	if got := p.Parser.Options.Rune("comma", ','); got != ';' {
		t.Fatalf("parser.options.comma = %q", got)
	}
	if !p.Parser.Options.Bool("lazy_quotes", false) {
		t.Fatalf("parser.options.lazy_quotes not decoded")
	}
	if got := p.Parser.Options.StringMap("scrub"); got["\u00a0"] != " " {
		t.Fatalf("parser.options.scrub = %q", got)
	}
	if p.Oracle.APIKey != "sk-test" {
		t.Fatalf("oracle.api_key = %q, want ANTHROPIC_API_KEY fallback", p.Oracle.APIKey)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), nil); err == nil {
		t.Fatalf("Load() error = nil for a missing file")
	}
}

func TestEnvKey(t *testing.T) {
	cases := map[string]string{
		"SMARTETL_JOB":                  "job",
		"SMARTETL_STORAGE__AUTO_CREATE": "storage.auto_create",
		"SMARTETL_METRICS__BACKEND":     "metrics.backend",
	}
	for in, want := range cases {
		if got := envKey(in); got != want {
			t.Fatalf("envKey(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRuntimeResolved(t *testing.T) {
	t.Setenv("SMARTETL_BATCH_SIZE", "300")
	t.Setenv("SMARTETL_PROGRESS_EVERY", "bogus")
	t.Setenv("SMARTETL_CH_BUFFER", "")

	got := RuntimeConfig{ChannelBuffer: 8}.Resolved()
	want := RuntimeConfig{BatchSize: 300, ProgressEvery: 50_000, ChannelBuffer: 8}
	if got != want {
		t.Fatalf("Resolved() = %+v, want %+v", got, want)
	}
}

func TestOptions_TypedAccessors(t *testing.T) {
	t.Parallel()

	o := Options{
		"s":   "hello",
		"b":   true,
		"f":   float64(42),
		"i":   7,
		"i64": int64(9),
		"r":   "ž;",
		"m":   map[string]any{"a": "x", "n": 1},
		"l":   []any{"a", 1, "b"},
	}
	if got := o.String("s", "def"); got != "hello" {
		t.Fatalf("String(s) = %q, want hello", got)
	}
	if got := o.String("b", "def"); got != "def" {
		t.Fatalf("String(b) = %q, want def for a non-string", got)
	}
	if got := o.Bool("b", false); !got {
		t.Fatalf("Bool(b) = %v, want true", got)
	}
	for key, want := range map[string]int{"f": 42, "i": 7, "i64": 9, "missing": -1} {
		if got := o.Int(key, -1); got != want {
			t.Fatalf("Int(%s) = %d, want %d", key, got, want)
		}
	}
	r := o.Rune("r", 'x')
	if !utf8.ValidRune(r) || string(r) != "ž" {
		t.Fatalf("Rune(r) = %#U, want ž", r)
	}
	if got := o.Rune("missing", ','); got != ',' {
		t.Fatalf("Rune(missing) = %q", got)
	}
	if got := o.StringMap("m"); len(got) != 1 || got["a"] != "x" {
		t.Fatalf("StringMap(m) = %v", got)
	}
	if got := o.StringMap("missing"); got == nil || len(got) != 0 {
		t.Fatalf("StringMap(missing) = %v, want empty map", got)
	}
	if got := o.StringSlice("l"); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("StringSlice(l) = %v", got)
	}
	if got := o.StringSlice("missing"); got != nil {
		t.Fatalf("StringSlice(missing) = %v, want nil", got)
	}
}
