// Package config defines the configuration model of a smartetl run and the
// layered loader that fills it.
//
// A pipeline file is YAML (or JSON, which the YAML parser also reads):
//
//	job: enrollments_daily
//	data_type: enrollment
//	source:   { location: uploads/jan.csv }
//	parser:   { kind: auto, options: { comma: ",", trim_space: true } }
//	mapping:  { profile_dir: profiles, use_oracle: false }
//	storage:  { kind: postgres, dsn: "postgresql://...", auto_create: true }
//	runtime:  { batch_size: 2000, progress_every: 50000 }
//	metrics:  { backend: none }
package config

import "time"

// Pipeline is the top-level configuration object.
type Pipeline struct {
	// Job labels metrics and log lines.
	Job string `koanf:"job" json:"job"`
	// DataType is enrollment, biometric or demographic. It selects the
	// default target table and is passed to the oracle as a hint.
	DataType string `koanf:"data_type" json:"data_type"`

	Source  Source        `koanf:"source" json:"source"`
	Parser  Parser        `koanf:"parser" json:"parser"`
	Mapping Mapping       `koanf:"mapping" json:"mapping"`
	Oracle  Oracle        `koanf:"oracle" json:"oracle"`
	Storage Storage       `koanf:"storage" json:"storage"`
	Runtime RuntimeConfig `koanf:"runtime" json:"runtime"`
	Metrics Metrics       `koanf:"metrics" json:"metrics"`
	Server  Server        `koanf:"server" json:"server"`
}

// Source locates the upload: a local path or an http(s) URL.
type Source struct {
	Location   string        `koanf:"location" json:"location"`
	Timeout    time.Duration `koanf:"timeout" json:"timeout"`
	MaxRetries int           `koanf:"max_retries" json:"max_retries"`
}

// Parser selects how the upload is decoded. Kind "auto" detects CSV or
// XLSX from the file name and magic bytes.
type Parser struct {
	Kind string `koanf:"kind" json:"kind"`
	// Options is interpreted by the parser; see parser/csv and parser/xlsx.
	Options Options `koanf:"options" json:"options"`
}

// Mapping controls how the column mapping is obtained.
type Mapping struct {
	// File is an explicit mapping (field key to source headers). When set,
	// inference is skipped.
	File string `koanf:"file" json:"file"`
	// ProfileDir holds saved mappings keyed by header fingerprint.
	ProfileDir string `koanf:"profile_dir" json:"profile_dir"`
	// DateColumn is tried before the built-in date candidates.
	DateColumn string `koanf:"date_column" json:"date_column"`
	UseOracle  bool   `koanf:"use_oracle" json:"use_oracle"`
}

// Oracle configures the LLM mapping suggester.
type Oracle struct {
	APIKey     string        `koanf:"api_key" json:"-"`
	Model      string        `koanf:"model" json:"model"`
	BaseURL    string        `koanf:"base_url" json:"base_url"`
	MaxTokens  int64         `koanf:"max_tokens" json:"max_tokens"`
	MaxRetries int           `koanf:"max_retries" json:"max_retries"`
	Timeout    time.Duration `koanf:"timeout" json:"timeout"`
}

// Storage selects the sink.
type Storage struct {
	Kind string `koanf:"kind" json:"kind"`
	DSN  string `koanf:"dsn" json:"-"`
	// Table overrides the data type's default table.
	Table      string `koanf:"table" json:"table"`
	Dir        string `koanf:"dir" json:"dir"`
	AutoCreate bool   `koanf:"auto_create" json:"auto_create"`
}

// RuntimeConfig holds batching and progress knobs. Zero values fall back to
// SMARTETL_* environment variables and then built-in defaults.
type RuntimeConfig struct {
	BatchSize     int `koanf:"batch_size" json:"batch_size"`
	ProgressEvery int `koanf:"progress_every" json:"progress_every"`
	ChannelBuffer int `koanf:"channel_buffer" json:"channel_buffer"`
}

// Metrics selects the metrics backend: none, pushgateway or datadog.
type Metrics struct {
	Backend        string   `koanf:"backend" json:"backend"`
	PushgatewayURL string   `koanf:"pushgateway_url" json:"pushgateway_url"`
	DatadogAddr    string   `koanf:"datadog_addr" json:"datadog_addr"`
	Namespace      string   `koanf:"namespace" json:"namespace"`
	Tags           []string `koanf:"tags" json:"tags"`
}

// Server configures `smartetl serve`.
type Server struct {
	Addr        string `koanf:"addr" json:"addr"`
	UploadDir   string `koanf:"upload_dir" json:"upload_dir"`
	MaxUploadMB int    `koanf:"max_upload_mb" json:"max_upload_mb"`
}

// Defaults returns the lowest-precedence layer of Load.
func Defaults() map[string]any {
	return map[string]any{
		"job":                    "smartetl",
		"data_type":              "enrollment",
		"source.max_retries":     2,
		"source.timeout":         "60s",
		"parser.kind":            "auto",
		"oracle.max_retries":     2,
		"oracle.timeout":         "20s",
		"storage.kind":           "file",
		"storage.dir":            "out",
		"storage.auto_create":    true,
		"runtime.batch_size":     2000,
		"runtime.progress_every": 50000,
		"runtime.channel_buffer": 64,
		"metrics.backend":        "none",
		"server.addr":            ":8080",
		"server.upload_dir":      "uploads",
		"server.max_upload_mb":   200,
	}
}
