// Package classfile parses a class artifact's bytes into ClassMetadata
// (spec.md §4.2 "Metadata Extractor"). The container format below is a
// compact constant-pool-indexed layout: a magic number, a version pair, a
// string constant pool, then this-class/super-class/interface/field/method
// tables referencing pool entries by index.
package classfile

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/redefinecore/agent/internal/event"
)

// MagicNumber identifies the container format at byte offset 0.
const MagicNumber uint32 = 0xC0DEC1A5

// CurrentMajorVersion is the only major version this extractor accepts.
// A container with a different major version is UnsupportedFormat rather
// than Malformed: the bytes are well-formed, just for a format revision
// this build does not understand.
const CurrentMajorVersion uint16 = 1

// ExtractionError pairs a stable failure reason with a human-readable
// detail, matching the ExtractionFailed event payload (spec.md §4.2).
type ExtractionError struct {
	Reason event.ExtractionFailureReason
	Detail string
}

func (e *ExtractionError) Error() string {
	return string(e.Reason) + ": " + e.Detail
}

func truncated(detail string) *ExtractionError {
	return &ExtractionError{Reason: event.ReasonTruncated, Detail: detail}
}

func unsupported(detail string) *ExtractionError {
	return &ExtractionError{Reason: event.ReasonUnsupportedForm, Detail: detail}
}

func malformed(detail string) *ExtractionError {
	return &ExtractionError{Reason: event.ReasonMalformed, Detail: detail}
}

func tooLarge(detail string) *ExtractionError {
	return &ExtractionError{Reason: event.ReasonTooLarge, Detail: detail}
}

// reader is a small sequential binary cursor over a class artifact's
// bytes, in the same spirit as the offset-accumulating ReadUintN helpers
// used to walk a PE/CLR header: every read either advances the cursor or
// returns the unwrapped read error (io.EOF or io.ErrUnexpectedEOF).
type reader struct {
	r *bytes.Reader
}

func newReader(b []byte) *reader {
	return &reader{r: bytes.NewReader(b)}
}

func (rd *reader) u16() (uint16, error) {
	var v uint16
	if err := binary.Read(rd.r, binary.BigEndian, &v); err != nil {
		return 0, err
	}
	return v, nil
}

func (rd *reader) u32() (uint32, error) {
	var v uint32
	if err := binary.Read(rd.r, binary.BigEndian, &v); err != nil {
		return 0, err
	}
	return v, nil
}

func (rd *reader) bytesN(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(rd.r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// str reads a uint16-length-prefixed UTF-8 string, the constant pool's
// entry format.
func (rd *reader) str() (string, error) {
	n, err := rd.u16()
	if err != nil {
		return "", err
	}
	b, err := rd.bytesN(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}
