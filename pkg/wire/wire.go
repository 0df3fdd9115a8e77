// Package wire implements the length-framed byte protocol FluxGate
// speaks to the optimization backend and on streamed action responses:
// each frame is a 4-byte little-endian payload length followed by the
// payload, and a zero length marks the end of the sequence.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MaxFrameSize caps a single frame payload. Frames above this are
// rejected before allocation so a corrupt length prefix cannot ask for
// gigabytes.
const MaxFrameSize = 1 << 30

// WriteFrame writes one length-prefixed payload.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) == 0 {
		return fmt.Errorf("frame payload must not be empty")
	}
	if len(payload) > MaxFrameSize {
		return fmt.Errorf("frame of %d bytes exceeds limit", len(payload))
	}

	var header [4]byte
	binary.LittleEndian.PutUint32(header[:], uint32(len(payload)))
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("failed to write frame header: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("failed to write frame payload: %w", err)
	}
	return nil
}

// WriteTerminator writes the zero-length frame that ends a sequence.
func WriteTerminator(w io.Writer) error {
	var header [4]byte
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("failed to write terminator: %w", err)
	}
	return nil
}

// WriteAll writes every payload as a frame and closes the sequence
// with the terminator.
func WriteAll(w io.Writer, payloads [][]byte) error {
	for _, payload := range payloads {
		if err := WriteFrame(w, payload); err != nil {
			return err
		}
	}
	return WriteTerminator(w)
}

// ReadFrame reads one frame. It returns io.EOF when the terminator
// frame is read, and an error for truncated or oversized frames. A
// short read inside a frame is reported as io.ErrUnexpectedEOF.
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if err == io.EOF {
			return nil, fmt.Errorf("stream ended before terminator: %w", io.ErrUnexpectedEOF)
		}
		return nil, fmt.Errorf("failed to read frame header: %w", err)
	}

	length := binary.LittleEndian.Uint32(header[:])
	if length == 0 {
		return nil, io.EOF
	}
	if length > MaxFrameSize {
		return nil, fmt.Errorf("frame of %d bytes exceeds limit", length)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("failed to read frame payload: %w", err)
	}
	return payload, nil
}

// ReadAll reads frames until the terminator and returns the payloads
// in order. An empty sequence (terminator first) returns no payloads.
func ReadAll(r io.Reader) ([][]byte, error) {
	var frames [][]byte
	for {
		payload, err := ReadFrame(r)
		if err == io.EOF {
			return frames, nil
		}
		if err != nil {
			return nil, err
		}
		frames = append(frames, payload)
	}
}
