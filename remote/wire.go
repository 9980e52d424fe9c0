// Package remote implements the push transport pair: a Sink that pushes
// events from a Subject over a persistent connection, and a Server that
// binds one endpoint, fans in pushes from many senders, and invokes a
// callback per decoded event. Delivery is one-way and unacknowledged.
package remote

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"reflect"

	"github.com/fxamacker/cbor/v2"
	"github.com/gobwas/ws"

	"github.com/semlog/semlog"
)

// DefaultPort is the well-known receiver port.
const DefaultPort = 9000

// maxFrameSize caps a single message payload. A sender claiming a larger
// frame is broken or hostile; reject before allocating.
const maxFrameSize = 1 << 20

// Mode selects the wire encoding for events in flight. Sender and
// receiver must be configured with matching modes.
type Mode string

const (
	// ModeJSON sends each event as one JSON text frame. The default.
	ModeJSON Mode = "json"

	// ModeCBOR sends each event as one CBOR binary frame, preserving
	// native numeric and nested types across the wire.
	ModeCBOR Mode = "cbor"

	// ModeText sends formatted text, one newline-terminated record per
	// frame.
	ModeText Mode = "text"

	// ModeLegacy is the byte-stream fallback: a raw TCP connection
	// carrying 4-byte big-endian length-prefixed CBOR payloads.
	ModeLegacy Mode = "legacy"
)

// ParseMode resolves a mode name; empty selects ModeJSON.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "":
		return ModeJSON, nil
	case ModeJSON, ModeCBOR, ModeText, ModeLegacy:
		return Mode(s), nil
	}
	return "", fmt.Errorf("remote: unknown wire mode %q", s)
}

var cborEnc = func() cbor.EncMode {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

var cborDec = func() cbor.DecMode {
	dm, err := cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
		IntDec:         cbor.IntDecConvertSigned,
	}.DecMode()
	if err != nil {
		panic(err)
	}
	return dm
}()

// encode serializes one event per the mode, returning the payload and
// the WebSocket frame type it travels in.
func encode(mode Mode, f *semlog.TextFormatter, ev semlog.Event) ([]byte, ws.OpCode, error) {
	switch mode {
	case ModeCBOR, ModeLegacy:
		b, err := cborEnc.Marshal(ev)
		if err != nil {
			return nil, 0, fmt.Errorf("remote: encoding event: %w", err)
		}
		return b, ws.OpBinary, nil
	case ModeText:
		s, err := f.Format(ev)
		if err != nil {
			return nil, 0, err
		}
		return []byte(s + semlog.RecSep), ws.OpText, nil
	default:
		b, err := json.Marshal(ev)
		if err != nil {
			return nil, 0, fmt.Errorf("remote: encoding event: %w", err)
		}
		return b, ws.OpText, nil
	}
}

// decode parses one structured payload back into an event. Text-mode
// payloads are not events and are handled by the server directly.
func decode(mode Mode, payload []byte) (semlog.Event, error) {
	var ev semlog.Event
	switch mode {
	case ModeCBOR, ModeLegacy:
		if err := cborDec.Unmarshal(payload, &ev); err != nil {
			return nil, fmt.Errorf("remote: decoding event: %w", err)
		}
	default:
		if err := json.Unmarshal(payload, &ev); err != nil {
			return nil, fmt.Errorf("remote: decoding event: %w", err)
		}
	}
	return ev, nil
}

// writeFrame writes a legacy frame: 4-byte big-endian payload length,
// then the payload, in a single write.
func writeFrame(w io.Writer, payload []byte) error {
	buf := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(buf, uint32(len(payload)))
	copy(buf[4:], payload)
	_, err := w.Write(buf)
	return err
}

// readFrame reads one legacy frame.
func readFrame(r io.Reader) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n > maxFrameSize {
		return nil, fmt.Errorf("remote: frame too large: %d bytes (max %d)", n, maxFrameSize)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}
