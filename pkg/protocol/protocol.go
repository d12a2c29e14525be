// Package protocol implements the line-oriented wire format: UTF-8 text,
// one message per line. Incoming lines may end in LF or CRLF; outgoing lines
// always end in CRLF.
package protocol

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

// MaxLineLength bounds a single incoming line in bytes.
const MaxLineLength = 16 * 1024

// Delimiter terminates every outgoing line.
const Delimiter = "\r\n"

// ErrInvalidEncoding is returned for a line that is not valid UTF-8. The
// reader stays usable; callers skip the line.
var ErrInvalidEncoding = errors.New("protocol: line is not valid UTF-8")

// ErrLineTooLong is returned for a line longer than MaxLineLength. The rest of
// the line is discarded and the reader stays usable; callers skip the line.
var ErrLineTooLong = errors.New("protocol: line too long")

// LineReader splits a byte stream into trimmed text lines.
type LineReader struct {
	r *bufio.Reader
}

// NewLineReader wraps r.
func NewLineReader(r io.Reader) *LineReader {
	return &LineReader{r: bufio.NewReaderSize(r, MaxLineLength)}
}

// ReadLine returns the next line with surrounding whitespace removed. It
// returns io.EOF at a clean end of stream. A final line without a newline is
// still returned.
func (lr *LineReader) ReadLine() (string, error) {
	raw, err := lr.r.ReadSlice('\n')
	switch {
	case errors.Is(err, bufio.ErrBufferFull):
		if err := lr.discardLine(); err != nil && !errors.Is(err, io.EOF) {
			return "", fmt.Errorf("protocol: read line: %w", err)
		}
		return "", ErrLineTooLong
	case errors.Is(err, io.EOF):
		if len(raw) == 0 {
			return "", io.EOF
		}
	case err != nil:
		return "", fmt.Errorf("protocol: read line: %w", err)
	}
	if !utf8.Valid(raw) {
		return "", ErrInvalidEncoding
	}
	return strings.TrimSpace(string(raw)), nil
}

// discardLine skips input up to and including the next newline.
func (lr *LineReader) discardLine() error {
	for {
		_, err := lr.r.ReadSlice('\n')
		if !errors.Is(err, bufio.ErrBufferFull) {
			return err
		}
	}
}

// WriteLine writes line followed by Delimiter.
func WriteLine(w io.Writer, line string) error {
	if _, err := io.WriteString(w, line+Delimiter); err != nil {
		return fmt.Errorf("protocol: write line: %w", err)
	}
	return nil
}
