package config

import (
	"fmt"
	"strings"
)

// IssueSeverity represents the severity of a configuration issue.
type IssueSeverity string

const (
	// SeverityError blocks execution.
	SeverityError IssueSeverity = "error"
	// SeverityWarning is surfaced but does not block.
	SeverityWarning IssueSeverity = "warning"
)

// Issue is a single finding for a Pipeline. Path is a dotted path into the
// config, e.g. "storage.dsn".
type Issue struct {
	Severity IssueSeverity `json:"severity"`
	Path     string        `json:"path"`
	Message  string        `json:"message"`
}

func (i Issue) Error() string {
	return fmt.Sprintf("%s at %s: %s", i.Severity, i.Path, i.Message)
}

// HasErrors reports whether any issue is an error.
func HasErrors(issues []Issue) bool {
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Known kinds. Storage kinds mirror the backends under internal/storage.
var (
	knownDataTypes = []string{"enrollment", "biometric", "demographic"}
	knownParsers   = []string{"auto", "csv", "xlsx"}
	knownStorage   = []string{"file", "mssql", "mysql", "postgres", "sqlite"}
	knownMetrics   = []string{"", "none", "pushgateway", "datadog"}
)

// ValidatePipeline performs static checks over p. It does not mutate p.
//
// requireSource is false for commands that take the upload from elsewhere
// (serve, infer with a positional file).
func ValidatePipeline(p Pipeline, requireSource bool) []Issue {
	var issues []Issue

	if strings.TrimSpace(p.Job) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "job",
			Message:  "job must not be empty; it labels metrics and log lines",
		})
	}
	if !oneOf(p.DataType, knownDataTypes) {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "data_type",
			Message:  fmt.Sprintf("unknown data type %q; records go to the enrollments table", p.DataType),
		})
	}
	if requireSource && strings.TrimSpace(p.Source.Location) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "source.location",
			Message:  "source.location must be a file path or http(s) URL",
		})
	}
	if p.Source.MaxRetries < 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "source.max_retries",
			Message:  "max_retries must not be negative",
		})
	}
	issues = append(issues, validateParser(p.Parser)...)
	issues = append(issues, validateMapping(p)...)
	issues = append(issues, validateStorage(p.Storage)...)
	issues = append(issues, validateRuntime(p.Runtime)...)
	issues = append(issues, validateMetrics(p.Metrics)...)
	return issues
}

func validateParser(p Parser) []Issue {
	var issues []Issue
	if !oneOf(p.Kind, knownParsers) {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "parser.kind",
			Message:  fmt.Sprintf("unknown parser kind %q; want one of %s", p.Kind, strings.Join(knownParsers, ", ")),
		})
	}
	if c := p.Options.String("comma", ""); len([]rune(c)) > 1 {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "parser.options.comma",
			Message:  fmt.Sprintf("comma %q has more than one character; only the first is used", c),
		})
	}
	return issues
}

func validateMapping(p Pipeline) []Issue {
	var issues []Issue
	if p.Mapping.UseOracle && strings.TrimSpace(p.Oracle.APIKey) == "" {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "oracle.api_key",
			Message:  "use_oracle is set but no API key is configured; the heuristic mapper will be used",
		})
	}
	if p.Mapping.File != "" && p.Mapping.UseOracle {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "mapping.use_oracle",
			Message:  "an explicit mapping file is set; the oracle will not be asked",
		})
	}
	return issues
}

func validateStorage(s Storage) []Issue {
	var issues []Issue
	if strings.TrimSpace(s.Kind) == "" {
		return append(issues, Issue{
			Severity: SeverityError,
			Path:     "storage.kind",
			Message:  "storage.kind must not be empty",
		})
	}
	if !oneOf(s.Kind, knownStorage) {
		return append(issues, Issue{
			Severity: SeverityError,
			Path:     "storage.kind",
			Message:  fmt.Sprintf("unknown storage kind %q; want one of %s", s.Kind, strings.Join(knownStorage, ", ")),
		})
	}
	switch s.Kind {
	case "file":
		if strings.TrimSpace(s.Dir) == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "storage.dir",
				Message:  "file storage requires a directory",
			})
		}
	default:
		if strings.TrimSpace(s.DSN) == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "storage.dsn",
				Message:  fmt.Sprintf("%s storage requires a DSN", s.Kind),
			})
		}
		if strings.Count(s.Table, ".") > 2 {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "storage.table",
				Message:  fmt.Sprintf("table %q has too many dotted parts", s.Table),
			})
		}
	}
	return issues
}

func validateRuntime(r RuntimeConfig) []Issue {
	var issues []Issue
	check := func(path string, v int) {
		if v < 0 {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     path,
				Message:  fmt.Sprintf("%s must not be negative", path[strings.LastIndex(path, ".")+1:]),
			})
		}
	}
	check("runtime.batch_size", r.BatchSize)
	check("runtime.progress_every", r.ProgressEvery)
	check("runtime.channel_buffer", r.ChannelBuffer)

	if r.BatchSize > 50_000 {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "runtime.batch_size",
			Message:  fmt.Sprintf("batch_size=%d; very large batches make a single failure expensive", r.BatchSize),
		})
	}
	return issues
}

func validateMetrics(m Metrics) []Issue {
	var issues []Issue
	if !oneOf(m.Backend, knownMetrics) {
		return append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "metrics.backend",
			Message:  fmt.Sprintf("unknown metrics backend %q; metrics disabled", m.Backend),
		})
	}
	if m.Backend == "datadog" && m.DatadogAddr == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "metrics.datadog_addr",
			Message:  "datadog backend requires datadog_addr",
		})
	}
	return issues
}

func oneOf(s string, set []string) bool {
	for _, v := range set {
		if s == v {
			return true
		}
	}
	return false
}
