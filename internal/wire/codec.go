// Package wire implements the ByteCodec component (spec.md §4.1, §6): a
// length-delimited, type-tagged, checksummed, EOM-delimited framed
// protocol over an arbitrary byte stream. It knows nothing about what
// a frame's payload means — that's internal/hostproto's job.
//
// Marshaling is explicit field-by-field encoding/binary, not
// reflection, following the teacher's internal/uapi/marshal.go idiom
// of hand-written (un)marshal functions per wire struct.
package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/mars-low/scoppy-pico/internal/constants"
)

// decodeState is the ByteCodec parser state (spec.md §4.1).
type decodeState int

const (
	stateSeekingSOM decodeState = iota
	stateSizeHi
	stateSizeLo
	stateType
	stateTypeChecksum
	stateVersion
	statePayload
	stateEOM
)

// Frame is a fully decoded, complete message.
type Frame struct {
	Type       byte
	Version    byte
	Payload    []byte
}

// ProtocolError is a non-fatal frame-decode error (spec.md §7): the
// parser resets and resyncs on the next SOM. It is never escalated to
// a fatal error.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("wire: protocol error: %s", e.Reason)
}

// Event is one outcome of feeding bytes to the Decoder: either a
// completed Frame, or a ProtocolError describing why the parser
// resynced. Exactly one of the two is set.
type Event struct {
	Frame *Frame
	Err   error
}

// Decoder is a restartable ByteCodec parser: Feed may be called
// repeatedly as bytes arrive piecemeal (e.g. partial serial reads);
// the state machine always picks up where it left off.
type Decoder struct {
	state      decodeState
	size       uint16
	msgType    byte
	version    byte
	payloadLen int
	payload    []byte
}

// NewDecoder returns a Decoder ready to seek the first SOM.
func NewDecoder() *Decoder {
	return &Decoder{state: stateSeekingSOM}
}

func (d *Decoder) reset() {
	d.state = stateSeekingSOM
	d.size = 0
	d.msgType = 0
	d.version = 0
	d.payloadLen = 0
	d.payload = nil
}

// Feed advances the parser by one buffer of input bytes, returning
// zero or more Events in arrival order. Protocol errors never stop
// the stream: the parser resets and keeps scanning for the next SOM
// within the same call.
func (d *Decoder) Feed(data []byte) []Event {
	var events []Event
	for _, b := range data {
		if ev := d.step(b); ev != nil {
			events = append(events, *ev)
		}
	}
	return events
}

func (d *Decoder) step(b byte) *Event {
	switch d.state {
	case stateSeekingSOM:
		if b == constants.SOM {
			d.state = stateSizeHi
		}
		return nil

	case stateSizeHi:
		d.size = uint16(b) << 8
		d.state = stateSizeLo
		return nil

	case stateSizeLo:
		d.size |= uint16(b)
		if d.size < constants.MinFrameSize || d.size > constants.MaxIncomingFrameSize {
			d.reset()
			return protoErr("size %d out of range [%d,%d]", d.size, constants.MinFrameSize, constants.MaxIncomingFrameSize)
		}
		d.payloadLen = int(d.size) - constants.MinFrameSize
		d.state = stateType
		return nil

	case stateType:
		d.msgType = b
		d.state = stateTypeChecksum
		return nil

	case stateTypeChecksum:
		if b != byte(d.msgType+5) {
			reset := d.msgType
			d.reset()
			return protoErr("type checksum mismatch for type %d", reset)
		}
		d.state = stateVersion
		return nil

	case stateVersion:
		if b < 1 {
			d.reset()
			return protoErr("version %d < 1", b)
		}
		d.version = b
		d.payload = make([]byte, 0, d.payloadLen)
		if d.payloadLen == 0 {
			d.state = stateEOM
		} else {
			d.state = statePayload
		}
		return nil

	case statePayload:
		d.payload = append(d.payload, b)
		if len(d.payload) == d.payloadLen {
			d.state = stateEOM
		}
		return nil

	case stateEOM:
		if b != constants.EOM {
			d.reset()
			return protoErr("missing EOM, got 0x%02x", b)
		}
		f := &Frame{Type: d.msgType, Version: d.version, Payload: d.payload}
		d.reset()
		return &Event{Frame: f}

	default:
		d.reset()
		return protoErr("unreachable decoder state")
	}
}

func protoErr(format string, args ...interface{}) *Event {
	return &Event{Err: &ProtocolError{Reason: fmt.Sprintf(format, args...)}}
}

// Encode produces the bit-exact wire bytes for (type, version, payload)
// per spec.md §6: SOM, size_hi, size_lo, type, type+5, version,
// payload..., EOM. `size` covers SOM through the last payload byte
// inclusive; EOM is appended after, uncounted.
func Encode(msgType, version byte, payload []byte) ([]byte, error) {
	if len(payload) > constants.MaxOutgoingPayload {
		return nil, &ProtocolError{Reason: fmt.Sprintf("payload %d exceeds max %d", len(payload), constants.MaxOutgoingPayload)}
	}
	size := constants.MinFrameSize + len(payload)
	buf := make([]byte, 0, size+1)
	buf = append(buf, constants.SOM)
	var sizeBytes [2]byte
	binary.BigEndian.PutUint16(sizeBytes[:], uint16(size))
	buf = append(buf, sizeBytes[0], sizeBytes[1])
	buf = append(buf, msgType, byte(msgType+5), version)
	buf = append(buf, payload...)
	buf = append(buf, constants.EOM)
	return buf, nil
}
