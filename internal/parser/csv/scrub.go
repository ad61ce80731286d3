package csv

import (
	"bufio"
	"bytes"
	"io"
	"sort"
)

// Replacement is a literal byte sequence rewritten before CSV decoding. It
// repairs recurring breakage in exports, such as a stray quote inside an
// unquoted district name, that would otherwise cost whole rows.
type Replacement struct {
	From []byte
	To   []byte
}

// scrubber applies replacements on the fly. The last maxFrom-1 bytes of each
// block are carried into the next one so matches spanning a read boundary are
// still found.
type scrubber struct {
	br    *bufio.Reader
	reps  []Replacement
	keep  int
	carry []byte
	out   bytes.Buffer
	chunk []byte
	eof   bool
}

func newScrubber(r io.Reader, reps []Replacement) io.Reader {
	var live []Replacement
	keep := 0
	for _, rp := range reps {
		if len(rp.From) == 0 || bytes.Equal(rp.From, rp.To) {
			continue
		}
		live = append(live, rp)
		keep = max(keep, len(rp.From)-1)
	}
	if len(live) == 0 {
		return r
	}
	// longest first so overlapping patterns behave predictably
	sort.SliceStable(live, func(i, j int) bool { return len(live[i].From) > len(live[j].From) })
	return &scrubber{
		br:    bufio.NewReaderSize(r, 64*1024),
		reps:  live,
		keep:  keep,
		chunk: make([]byte, 64*1024),
	}
}

func (s *scrubber) Read(p []byte) (int, error) {
	for s.out.Len() == 0 {
		if s.eof {
			return 0, io.EOF
		}
		n, err := s.br.Read(s.chunk)
		block := append(s.carry, s.chunk[:n]...)
		for _, rp := range s.reps {
			block = bytes.ReplaceAll(block, rp.From, rp.To)
		}
		switch {
		case err == io.EOF:
			s.out.Write(block)
			s.carry = nil
			s.eof = true
		case err != nil:
			return 0, err
		case len(block) > s.keep:
			cut := len(block) - s.keep
			s.out.Write(block[:cut])
			s.carry = append([]byte(nil), block[cut:]...)
		default:
			s.carry = block
		}
	}
	return s.out.Read(p)
}
