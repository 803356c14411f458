// Package wire implements the control-plane wire format (spec §4.3, §6):
// every frame is a 4-byte big-endian length prefix followed by a
// JSON-encoded payload. Publish frames additionally carry a leading topic
// frame ("the literal topic bytes `steering` followed by the command
// frame").
package wire

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// MaxFrameSize bounds a single frame to guard against a corrupt or
// malicious length prefix driving an unbounded allocation.
const MaxFrameSize = 64 << 20 // 64 MiB

// WriteFrame writes a single length-prefixed frame containing payload.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameSize {
		return fmt.Errorf("wire: frame of %d bytes exceeds max %d", len(payload), MaxFrameSize)
	}
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(payload)))
	if _, err := w.Write(prefix[:]); err != nil {
		return fmt.Errorf("wire: write length prefix: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("wire: write payload: %w", err)
	}
	return nil
}

// ReadFrame reads a single length-prefixed frame from r.
func ReadFrame(r io.Reader) ([]byte, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(prefix[:])
	if n > MaxFrameSize {
		return nil, fmt.Errorf("wire: frame of %d bytes exceeds max %d", n, MaxFrameSize)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("wire: read payload: %w", err)
	}
	return buf, nil
}

// WriteMessage JSON-encodes v and writes it as a single frame. Receivers
// must round-trip identically (spec §4.3 serialization requirement).
func WriteMessage(w io.Writer, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("wire: marshal message: %w", err)
	}
	return WriteFrame(w, data)
}

// ReadMessage reads one frame and JSON-decodes it into v.
func ReadMessage(r io.Reader, v interface{}) error {
	data, err := ReadFrame(r)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("wire: unmarshal message: %w", err)
	}
	return nil
}

// WritePublish writes a publish message: a leading topic frame followed by
// the JSON-encoded command frame, exactly as spec §4.3/§6 describe.
func WritePublish(w io.Writer, topic string, v interface{}) error {
	if err := WriteFrame(w, []byte(topic)); err != nil {
		return err
	}
	return WriteMessage(w, v)
}

// ReadPublish reads a publish message, returning the topic and leaving v
// populated from the command frame.
func ReadPublish(r io.Reader, v interface{}) (string, error) {
	topicFrame, err := ReadFrame(r)
	if err != nil {
		return "", err
	}
	if err := ReadMessage(r, v); err != nil {
		return "", err
	}
	return string(topicFrame), nil
}
