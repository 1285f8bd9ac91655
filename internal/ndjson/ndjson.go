// Package ndjson implements the newline-delimited JSON framer (spec.md
// §4.2, component C2): a byte stream of JSON objects, one per line, turned
// into a sequence of decoded records under configured size limits.
package ndjson

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sqd-community/portal-evm-gateway/internal/errs"
)

// LinesTotal counts every successfully parsed NDJSON line, process-wide.
var LinesTotal = prometheus.NewCounter(prometheus.CounterOpts{
	Name: "ndjson_lines_total",
	Help: "Total NDJSON lines parsed from Portal stream responses.",
})

func init() {
	prometheus.MustRegister(LinesTotal)
}

// Limits bounds a single framing pass.
type Limits struct {
	MaxLineBytes int
	MaxBytes     int
}

// Decode reads r as NDJSON and invokes fn for every decoded record, in
// order. A missing trailing newline on the final record is tolerated;
// blank/whitespace-only lines are skipped without counting as records.
// Exceeding MaxLineBytes or MaxBytes, or malformed JSON on any line, aborts
// the whole stream with a server_error.
func Decode(r io.Reader, limits Limits, fn func(raw json.RawMessage) error) error {
	lr := &io.LimitedReader{R: r, N: int64(limits.MaxBytes) + 1}
	reader := bufio.NewReaderSize(lr, 64*1024)
	var totalRead int
	var line []byte

	for {
		chunk, isPrefix, err := reader.ReadLine()
		if lr.N == 0 {
			return errs.Newf(errs.CategoryServerError, "server error: ndjson payload exceeds max bytes (%d)", limits.MaxBytes)
		}
		if err != nil {
			if err == io.EOF {
				if len(line) > 0 {
					if ferr := decodeLine(line, fn); ferr != nil {
						return ferr
					}
				}
				return nil
			}
			return errs.New(errs.CategoryServerError, "server error: failed reading portal stream: "+err.Error())
		}

		totalRead += len(chunk)
		if totalRead > limits.MaxBytes {
			return errs.Newf(errs.CategoryServerError, "server error: ndjson payload exceeds max bytes (%d)", limits.MaxBytes)
		}

		line = append(line, chunk...)
		if isPrefix {
			if len(line) > limits.MaxLineBytes {
				return errs.Newf(errs.CategoryServerError, "server error: ndjson line exceeds max bytes (%d)", limits.MaxLineBytes)
			}
			continue
		}

		if len(line) > limits.MaxLineBytes {
			return errs.Newf(errs.CategoryServerError, "server error: ndjson line exceeds max bytes (%d)", limits.MaxLineBytes)
		}

		if ferr := decodeLine(line, fn); ferr != nil {
			return ferr
		}
		line = nil
	}
}

func decodeLine(line []byte, fn func(raw json.RawMessage) error) error {
	trimmed := trimSpace(line)
	if len(trimmed) == 0 {
		return nil
	}
	if !json.Valid(trimmed) {
		return errs.New(errs.CategoryServerError, fmt.Sprintf("server error: malformed ndjson line: %s", truncate(trimmed, 120)))
	}
	LinesTotal.Inc()
	return fn(json.RawMessage(append([]byte(nil), trimmed...)))
}

func trimSpace(b []byte) []byte {
	start, end := 0, len(b)
	for start < end && isSpace(b[start]) {
		start++
	}
	for end > start && isSpace(b[end-1]) {
		end--
	}
	return b[start:end]
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\r' || c == '\n'
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
