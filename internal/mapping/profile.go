package mapping

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/zeebo/xxh3"
	"gopkg.in/yaml.v3"

	"smartetl/internal/normalize"
	"smartetl/internal/schema"
)

// Fingerprint identifies a header set independent of column order, case and
// punctuation.
func Fingerprint(headers []string) string {
	ns := make([]string, 0, len(headers))
	for _, h := range headers {
		if n := normalize.Header(h); n != "" {
			ns = append(ns, n)
		}
	}
	sort.Strings(ns)
	return fmt.Sprintf("%016x", xxh3.HashString(strings.Join(ns, "\x1f")))
}

// Profile is a confirmed mapping remembered for files with the same headers.
type Profile struct {
	Fingerprint string    `yaml:"fingerprint"`
	DataType    string    `yaml:"data_type,omitempty"`
	Headers     []string  `yaml:"headers"`
	Mapping     Config    `yaml:"mapping"`
	SavedAt     time.Time `yaml:"saved_at"`
}

// ProfileStore keeps one YAML file per fingerprint in Dir.
type ProfileStore struct {
	Dir string
}

func (s ProfileStore) path(fp string) string {
	return filepath.Join(s.Dir, fp+".yaml")
}

// Save writes cfg as the profile for headers and returns the file path.
func (s ProfileStore) Save(headers []string, dataType string, cfg Config) (string, error) {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return "", fmt.Errorf("profile dir: %w", err)
	}
	p := Profile{
		Fingerprint: Fingerprint(headers),
		DataType:    dataType,
		Headers:     append([]string(nil), headers...),
		Mapping:     cfg.Clone(),
		SavedAt:     time.Now().UTC().Truncate(time.Second),
	}
	b, err := yaml.Marshal(&p)
	if err != nil {
		return "", fmt.Errorf("encode profile: %w", err)
	}
	path := s.path(p.Fingerprint)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return "", fmt.Errorf("write profile: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("write profile: %w", err)
	}
	return path, nil
}

// Load returns the profile saved for headers. The boolean is false when no
// profile exists.
func (s ProfileStore) Load(headers []string) (*Profile, bool, error) {
	b, err := os.ReadFile(s.path(Fingerprint(headers)))
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read profile: %w", err)
	}
	var p Profile
	if err := yaml.Unmarshal(b, &p); err != nil {
		return nil, false, fmt.Errorf("decode profile: %w", err)
	}
	if p.Mapping == nil {
		p.Mapping = Config{}
	}
	return &p, true, nil
}

// LoadConfig reads a bare mapping (field key to sources) from a YAML or JSON
// file, as written by hand or by `infer --output`.
func LoadConfig(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read mapping: %w", err)
	}
	var cfg Config
	// YAML is a superset of JSON.
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("decode mapping %s: %w", path, err)
	}
	if cfg == nil {
		cfg = Config{}
	}
	return cfg, nil
}

// Profiled answers from Store when a profile exists for the header set and
// still fits it, and asks Next otherwise.
type Profiled struct {
	Store   ProfileStore
	Next    Inferencer
	Catalog *schema.Catalog
}

var _ Inferencer = (*Profiled)(nil)

// Infer implements Inferencer.
func (p *Profiled) Infer(ctx context.Context, headers []string, hint string) Proposal {
	prof, ok, err := p.Store.Load(headers)
	if err != nil {
		log.Printf("mapping: profile lookup: %v", err)
	}
	if ok {
		cfg, err := Accept(prof.Mapping, headers, p.Catalog)
		if err == nil {
			for k, fm := range cfg {
				if len(fm.Sources) > 0 {
					fm.Confidence = 1
					cfg[k] = fm
				}
			}
			log.Printf("mapping: profile %s reused", prof.Fingerprint)
			return Proposal{Config: cfg, Method: MethodProfile}
		}
		log.Printf("mapping: profile %s ignored: %v", prof.Fingerprint, err)
	}
	return p.Next.Infer(ctx, headers, hint)
}
