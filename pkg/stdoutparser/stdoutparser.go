package stdoutparser

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/multiscale/costeer/pkg/types"
)

const (
	markerSimulator = "LOCAL_MINIMUM_STEP_SIZE"
	markerHub       = "MPI_CONNECTION_INFO"
)

// Scanner incrementally reads a payload's stdout and pulls out INIT-time
// response literals as they appear, tolerating arbitrary log noise before,
// between, and after them (spec §8 scenario 5).
type Scanner struct {
	src *bufio.Reader
	buf strings.Builder
	eof bool
}

// NewScanner wraps r, typically the read end of a payload's stdout pipe.
func NewScanner(r io.Reader) *Scanner {
	return &Scanner{src: bufio.NewReader(r)}
}

// fill reads one more line into the internal buffer, returning false once
// the underlying reader is exhausted.
func (s *Scanner) fill() bool {
	if s.eof {
		return false
	}
	line, err := s.src.ReadString('\n')
	s.buf.WriteString(line)
	if err != nil {
		s.eof = true
	}
	return len(line) > 0
}

// nextLiteral returns the next brace-delimited literal containing marker,
// consuming everything up to and including it from the internal buffer. It
// reads more input as needed and returns ok=false once the payload's
// output is exhausted without producing another match.
func (s *Scanner) nextLiteral(marker string) (literal string, ok bool) {
	for {
		text := s.buf.String()
		if start, end, found := findLiteral(text, marker); found {
			literal = text[start:end]
			s.buf.Reset()
			s.buf.WriteString(text[end:])
			return literal, true
		}
		if !s.fill() {
			return "", false
		}
	}
}

// findLiteral locates marker in text and expands outward to the nearest
// enclosing '{'...'}' pair, per spec §6 ("the parser locates every such
// literal by finding each ... token and matching to the next }"). A log
// line may mention marker in prose before the literal itself repeats it
// as a key, so occurrences not enclosed by a brace pair are skipped in
// favor of the next one.
func findLiteral(text, marker string) (start, end int, ok bool) {
	searchFrom := 0
	for {
		rel := strings.Index(text[searchFrom:], marker)
		if rel < 0 {
			return 0, 0, false
		}
		idx := searchFrom + rel

		open := strings.LastIndexByte(text[:idx], '{')
		if open >= 0 && strings.IndexByte(text[open:idx], '}') < 0 {
			closeRel := strings.IndexByte(text[idx:], '}')
			if closeRel >= 0 {
				return open, idx + closeRel + 1, true
			}
		}
		searchFrom = idx + len(marker)
	}
}

// decodeLiteral turns a Python-style single-quoted object literal into a
// generic field map. The protocol never embeds a quote character inside a
// string value, so a blanket quote substitution is sufficient without a
// full expression parser.
func decodeLiteral(literal string) (map[string]interface{}, error) {
	jsonish := strings.ReplaceAll(literal, "'", `"`)
	var fields map[string]interface{}
	if err := json.Unmarshal([]byte(jsonish), &fields); err != nil {
		return nil, fmt.Errorf("stdoutparser: decode literal %q: %w", literal, err)
	}
	return fields, nil
}

// NextSimulatorInit scans forward for the simulator's LOCAL_MINIMUM_STEP_SIZE
// literal, returning ok=false once the stream ends without one.
func (s *Scanner) NextSimulatorInit() (*types.SimulatorInit, bool, error) {
	literal, found := s.nextLiteral(markerSimulator)
	if !found {
		return nil, false, nil
	}
	fields, err := decodeLiteral(literal)
	if err != nil {
		return nil, false, err
	}

	init := &types.SimulatorInit{}
	if v, ok := fields["PID"].(float64); ok {
		init.PID = int(v)
	}
	if v, ok := fields["LOCAL_MINIMUM_STEP_SIZE"].(float64); ok {
		init.LocalMinimumStepSize = v
	} else {
		return nil, false, fmt.Errorf("stdoutparser: literal missing LOCAL_MINIMUM_STEP_SIZE: %q", literal)
	}
	if raw, ok := fields["SPIKE_DETECTORS"].([]interface{}); ok {
		init.SpikeDetectors = make([]int, 0, len(raw))
		for _, v := range raw {
			if f, ok := v.(float64); ok {
				init.SpikeDetectors = append(init.SpikeDetectors, int(f))
			}
		}
	}
	return init, true, nil
}

// NextHubEndpoint scans forward for the next per-rank MPI_CONNECTION_INFO
// literal, returning ok=false once the stream ends without one. Callers
// call it repeatedly to collect every rank's record (spec §6 "scan for all
// occurrences, one per MPI rank").
func (s *Scanner) NextHubEndpoint() (*types.HubEndpoint, bool, error) {
	literal, found := s.nextLiteral(markerHub)
	if !found {
		return nil, false, nil
	}
	fields, err := decodeLiteral(literal)
	if err != nil {
		return nil, false, err
	}

	ep := &types.HubEndpoint{}
	if v, ok := fields["PID"].(float64); ok {
		ep.PID = int(v)
	}
	if v, ok := fields["DATA_EXCHANGE_DIRECTION"].(string); ok {
		ep.Direction = types.Direction(v)
	}
	if v, ok := fields["MPI_CONNECTION_INFO"].(string); ok {
		ep.ConnInfo = v
	}
	if v, ok := fields["INTERCOMM_TYPE"].(string); ok {
		ep.Role = types.IntercommRole(v)
	} else {
		return nil, false, fmt.Errorf("stdoutparser: literal missing INTERCOMM_TYPE: %q", literal)
	}
	return ep, true, nil
}

// HubEndpoints drains count hub literals from s, returning an error if the
// payload's stdout ends before count records are found.
func HubEndpoints(s *Scanner, count int) ([]types.HubEndpoint, error) {
	out := make([]types.HubEndpoint, 0, count)
	for len(out) < count {
		ep, ok, err := s.NextHubEndpoint()
		if err != nil {
			return out, err
		}
		if !ok {
			return out, fmt.Errorf("stdoutparser: payload output ended after %d of %d expected endpoints", len(out), count)
		}
		out = append(out, *ep)
	}
	return out, nil
}
