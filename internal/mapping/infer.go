package mapping

import (
	"context"
	"sort"
	"strings"

	"smartetl/internal/normalize"
	"smartetl/internal/schema"
)

// Method names reported in a Proposal.
const (
	MethodHeuristic = "heuristic"
	MethodOracle    = "oracle"
	MethodProfile   = "profile"
)

// Proposal is an inferred mapping plus how it was obtained.
type Proposal struct {
	Config Config `json:"mapping"`
	Method string `json:"method"`
	// Fallback explains why an oracle suggestion was not used, if one was tried.
	Fallback string `json:"fallback,omitempty"`
}

// Inferencer proposes a mapping for a header set. hint names the kind of data
// (enrollment, biometric, demographic) and may be ignored.
type Inferencer interface {
	Infer(ctx context.Context, headers []string, hint string) Proposal
}

// Heuristic infers mappings from alias similarity alone. It needs no network
// and never fails.
type Heuristic struct {
	cat      *schema.Catalog
	matchers []matcher
}

var _ Inferencer = (*Heuristic)(nil)

// NewHeuristic prepares alias matchers for cat.
func NewHeuristic(cat *schema.Catalog) *Heuristic {
	h := &Heuristic{cat: cat}
	for _, f := range cat.Fields() {
		h.matchers = append(h.matchers, newMatcher(f))
	}
	return h
}

// Infer implements Inferencer.
func (h *Heuristic) Infer(_ context.Context, headers []string, _ string) Proposal {
	return Proposal{Config: h.InferHeaders(headers), Method: MethodHeuristic}
}

// candidate is one distinct source header with its normalized form.
type candidate struct {
	header  string
	norm    string
	claimed bool
}

type match struct {
	header string
	score  float64
}

// InferHeaders maps headers onto the catalog.
//
// Fields are visited in catalog order and a header is claimed by at most one
// field. A single-source field takes its best unclaimed header; a
// multi-source field takes every unclaimed header at or above MatchThreshold.
// Fields sharing a Group are resolved together: each header goes to the
// member scoring it highest, ties going to the lower MatchOrder, and is not
// offered to the other members.
func (h *Heuristic) InferHeaders(headers []string) Config {
	cfg := Empty(h.cat)

	cands := make([]*candidate, 0, len(headers))
	seen := make(map[string]struct{}, len(headers))
	for _, hd := range headers {
		if _, dup := seen[hd]; dup {
			continue
		}
		seen[hd] = struct{}{}
		cands = append(cands, &candidate{header: hd, norm: normalize.Header(hd)})
	}

	matched := make(map[string][]match, len(h.matchers))
	groupsDone := map[string]bool{}

	for _, m := range h.matchers {
		f := m.field
		switch {
		case f.Group != "":
			if groupsDone[f.Group] {
				continue
			}
			groupsDone[f.Group] = true
			h.resolveGroup(f.Group, cands, matched)

		case f.AllowMultiple:
			for _, c := range cands {
				if c.claimed {
					continue
				}
				if s := m.score(c.norm); s >= MatchThreshold {
					matched[f.Key] = append(matched[f.Key], match{c.header, s})
					c.claimed = true
				}
			}

		default:
			var best *candidate
			bestScore := 0.0
			for _, c := range cands {
				if c.claimed {
					continue
				}
				if s := m.score(c.norm); s >= MatchThreshold && s > bestScore {
					best, bestScore = c, s
				}
			}
			if best != nil {
				matched[f.Key] = []match{{best.header, bestScore}}
				best.claimed = true
			}
		}
	}

	for key, ms := range matched {
		fm := FieldMapping{Sources: make([]string, 0, len(ms))}
		sum := 0.0
		for _, x := range ms {
			fm.Sources = append(fm.Sources, x.header)
			sum += x.score
		}
		if len(ms) > 0 {
			fm.Confidence = sum / float64(len(ms))
		}
		fm.AutoMatched = len(fm.Sources) > 0
		cfg[key] = fm
	}
	return cfg
}

func (h *Heuristic) resolveGroup(group string, cands []*candidate, matched map[string][]match) {
	var members []matcher
	for _, m := range h.matchers {
		if m.field.Group == group {
			members = append(members, m)
		}
	}
	sort.SliceStable(members, func(i, j int) bool {
		return members[i].field.MatchOrder < members[j].field.MatchOrder
	})

	for _, c := range cands {
		if c.claimed {
			continue
		}
		var winner *matcher
		bestScore := 0.0
		for i := range members {
			m := &members[i]
			if !m.field.AllowMultiple && len(matched[m.field.Key]) > 0 {
				continue
			}
			if s := m.score(c.norm); s >= MatchThreshold && s > bestScore {
				winner, bestScore = m, s
			}
		}
		if winner != nil {
			matched[winner.field.Key] = append(matched[winner.field.Key], match{c.header, bestScore})
			c.claimed = true
		}
	}
}

// headerIndex resolves loosely spelled header names back to the exact source
// header, first by identity and then by normalized form.
type headerIndex struct {
	exact map[string]string
	norm  map[string]string
}

func newHeaderIndex(headers []string) headerIndex {
	idx := headerIndex{exact: map[string]string{}, norm: map[string]string{}}
	for _, h := range headers {
		if _, ok := idx.exact[h]; !ok {
			idx.exact[h] = h
		}
		n := normalize.Header(h)
		if _, ok := idx.norm[n]; !ok && n != "" {
			idx.norm[n] = h
		}
	}
	return idx
}

func (idx headerIndex) resolve(name string) (string, bool) {
	if h, ok := idx.exact[name]; ok {
		return h, true
	}
	if h, ok := idx.exact[strings.TrimSpace(name)]; ok {
		return h, true
	}
	h, ok := idx.norm[normalize.Header(name)]
	return h, ok
}
