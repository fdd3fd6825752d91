// Package encoding provides the streaming binary primitives the snapshot
// format is built from: length-prefixed byte blocks, vectors, and
// JSON-encoded payloads written directly to an io.Writer instead of
// through an intermediate buffer, so a whole collection can be streamed
// to disk without materializing it in memory first.
package encoding

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
)

// ErrInvalidVector is returned when a vector fails validation: nil, empty,
// or containing a NaN/Inf component.
var ErrInvalidVector = errors.New("encoding: invalid vector")

// ValidateVector rejects nil/empty vectors and any non-finite component.
func ValidateVector(v []float32) error {
	if len(v) == 0 {
		return ErrInvalidVector
	}
	for _, x := range v {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return ErrInvalidVector
		}
	}
	return nil
}

// WriteVector writes a length-prefixed little-endian float32 vector.
func WriteVector(w io.Writer, v []float32) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(v))); err != nil {
		return fmt.Errorf("encoding: write vector length: %w", err)
	}
	for _, x := range v {
		if err := binary.Write(w, binary.LittleEndian, x); err != nil {
			return fmt.Errorf("encoding: write vector value: %w", err)
		}
	}
	return nil
}

// ReadVector reads a vector written by WriteVector.
func ReadVector(r io.Reader) ([]float32, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, fmt.Errorf("encoding: read vector length: %w", err)
	}
	v := make([]float32, n)
	for i := range v {
		if err := binary.Read(r, binary.LittleEndian, &v[i]); err != nil {
			return nil, fmt.Errorf("encoding: read vector value at %d: %w", i, err)
		}
	}
	return v, nil
}

// WriteString writes a length-prefixed UTF-8 string.
func WriteString(w io.Writer, s string) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(s))); err != nil {
		return fmt.Errorf("encoding: write string length: %w", err)
	}
	if _, err := io.WriteString(w, s); err != nil {
		return fmt.Errorf("encoding: write string: %w", err)
	}
	return nil
}

// ReadString reads a string written by WriteString.
func ReadString(r io.Reader) (string, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", fmt.Errorf("encoding: read string length: %w", err)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", fmt.Errorf("encoding: read string: %w", err)
	}
	return string(buf), nil
}

// WriteBlock writes a length-prefixed raw byte block.
func WriteBlock(w io.Writer, b []byte) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(b))); err != nil {
		return fmt.Errorf("encoding: write block length: %w", err)
	}
	if _, err := w.Write(b); err != nil {
		return fmt.Errorf("encoding: write block: %w", err)
	}
	return nil
}

// ReadBlock reads a byte block written by WriteBlock.
func ReadBlock(r io.Reader) ([]byte, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, fmt.Errorf("encoding: read block length: %w", err)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("encoding: read block: %w", err)
	}
	return buf, nil
}

// WritePayload JSON-encodes an arbitrary payload value as a length-prefixed
// block. A nil payload writes an empty block.
func WritePayload(w io.Writer, payload any) error {
	if payload == nil {
		return WriteBlock(w, nil)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding: marshal payload: %w", err)
	}
	return WriteBlock(w, data)
}

// ReadPayload reads a payload written by WritePayload. An empty block
// decodes to a nil payload.
func ReadPayload(r io.Reader) (any, error) {
	data, err := ReadBlock(r)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("encoding: unmarshal payload: %w", err)
	}
	return v, nil
}
