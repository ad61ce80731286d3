package mapping

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"smartetl/internal/schema"
)

// OracleConfidence is the confidence assigned to every entry of an accepted
// oracle suggestion.
const OracleConfidence = 0.9

// DefaultOracleTimeout bounds a single Suggest call.
const DefaultOracleTimeout = 20 * time.Second

// Oracle is an external mapping suggester, for example an LLM. Its output is
// never used without being checked by Assisted.
type Oracle interface {
	Suggest(ctx context.Context, headers []string, hint string) (Config, error)
}

// ErrUnusableSuggestion marks oracle output that failed the acceptance check.
var ErrUnusableSuggestion = errors.New("mapping: unusable oracle suggestion")

// Assisted asks Oracle first and falls back to Fallback when the oracle is
// missing, fails, times out or returns something unusable.
type Assisted struct {
	Oracle   Oracle
	Fallback *Heuristic
	Catalog  *schema.Catalog
	Timeout  time.Duration
}

var _ Inferencer = (*Assisted)(nil)

// Infer implements Inferencer.
func (a *Assisted) Infer(ctx context.Context, headers []string, hint string) Proposal {
	if a.Oracle == nil || len(headers) == 0 {
		return a.Fallback.Infer(ctx, headers, hint)
	}

	timeout := a.Timeout
	if timeout <= 0 {
		timeout = DefaultOracleTimeout
	}
	octx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	raw, err := a.Oracle.Suggest(octx, headers, hint)
	if err == nil {
		var cfg Config
		cfg, err = Accept(raw, headers, a.Catalog)
		if err == nil {
			log.Printf("mapping: oracle accepted headers=%d elapsed=%s", len(headers), time.Since(start).Truncate(time.Millisecond))
			return Proposal{Config: cfg, Method: MethodOracle}
		}
	}

	log.Printf("mapping: oracle fallback: %v", err)
	p := a.Fallback.Infer(ctx, headers, hint)
	p.Fallback = err.Error()
	return p
}

// Accept sanitizes an oracle suggestion against the real header set and the
// catalog, then checks it is usable.
//
// Sanitizing drops unknown field keys and headers that do not exist in the
// file (names are matched exactly, then by normalized form), trims
// single-source fields to their first source, and lets each header be
// claimed by the first field in catalog order only. The result is usable
// when the required field is mapped and at least one other field is too.
func Accept(raw Config, headers []string, cat *schema.Catalog) (Config, error) {
	idx := newHeaderIndex(headers)
	out := Empty(cat)
	claimed := map[string]bool{}
	others := 0

	for _, f := range cat.Fields() {
		fm, ok := raw[f.Key]
		if !ok {
			continue
		}
		var srcs []string
		for _, name := range fm.Sources {
			h, ok := idx.resolve(name)
			if !ok || claimed[h] {
				continue
			}
			srcs = append(srcs, h)
			claimed[h] = true
			if !f.AllowMultiple {
				break
			}
		}
		if len(srcs) == 0 {
			continue
		}
		out[f.Key] = FieldMapping{Sources: srcs, Confidence: OracleConfidence, AutoMatched: true}
		if !f.Required {
			others++
		}
	}

	req := cat.Required()
	if len(out[req.Key].Sources) == 0 {
		return nil, fmt.Errorf("%w: required field %q not mapped", ErrUnusableSuggestion, req.Key)
	}
	if others == 0 {
		return nil, fmt.Errorf("%w: no mapping besides %q", ErrUnusableSuggestion, req.Key)
	}
	return out, nil
}
