// Package frame defines the messages exchanged between a terminal client and
// the gateway over one WebSocket channel.
//
// Every message carries exactly one frame encoded as a JSON object tagged by
// "type":
//
//	{"type":"input","data":"ls\r"}          client → gateway
//	{"type":"output","data":"total 0\r\n"}  gateway → client
//	{"type":"resize","cols":80,"rows":24}    client → gateway
//	{"type":"error","data":"auth failed"}    gateway → client
//
// Peers that stream raw bytes without framing are still displayed: the client
// decoder renders anything it cannot decode as literal output.
package frame

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Type is the frame tag.
type Type string

const (
	TypeInput  Type = "input"
	TypeOutput Type = "output"
	TypeResize Type = "resize"
	TypeError  Type = "error"
)

// controlPrefix is the optional leading byte older gateways put in front of
// JSON control messages sent as binary frames.
const controlPrefix = 0x00

var ErrUnknownType = errors.New("frame: unknown type")

// Frame is one typed message. Data carries the payload of input, output and
// error frames; Cols and Rows are only meaningful for resize frames.
type Frame struct {
	Type Type   `json:"type"`
	Data string `json:"data,omitempty"`
	Cols uint16 `json:"cols,omitempty"`
	Rows uint16 `json:"rows,omitempty"`
}

// Input returns an input frame carrying keystroke data.
func Input(data string) Frame { return Frame{Type: TypeInput, Data: data} }

// Output returns an output frame carrying text to render verbatim.
func Output(data string) Frame { return Frame{Type: TypeOutput, Data: data} }

// Resize returns a resize frame for a cols×rows grid.
func Resize(cols, rows uint16) Frame { return Frame{Type: TypeResize, Cols: cols, Rows: rows} }

// Error returns an error frame carrying a human-readable message.
func Error(message string) Frame { return Frame{Type: TypeError, Data: message} }

func (f Frame) String() string {
	switch f.Type {
	case TypeResize:
		return fmt.Sprintf("resize{%dx%d}", f.Cols, f.Rows)
	default:
		return fmt.Sprintf("%s{%d bytes}", f.Type, len(f.Data))
	}
}

// Encode serializes f as one message payload.
func Encode(f Frame) ([]byte, error) {
	switch f.Type {
	case TypeInput, TypeOutput, TypeResize, TypeError:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, f.Type)
	}
	return json.Marshal(f)
}

// wireFrame accepts "message" as an alias for the error text, which is how
// the gateway's control messages used to spell it.
type wireFrame struct {
	Type    Type    `json:"type"`
	Data    *string `json:"data"`
	Message *string `json:"message"`
	Cols    uint16  `json:"cols"`
	Rows    uint16  `json:"rows"`
}

// Parse strictly decodes one message payload. It fails when the payload is
// not a JSON object or the tag is not one of the four frame types.
func Parse(raw []byte) (Frame, error) {
	if len(raw) > 0 && raw[0] == controlPrefix {
		raw = raw[1:]
	}
	var w wireFrame
	if err := json.Unmarshal(raw, &w); err != nil {
		return Frame{}, fmt.Errorf("frame: decode: %w", err)
	}
	f := Frame{Type: w.Type, Cols: w.Cols, Rows: w.Rows}
	switch {
	case w.Data != nil:
		f.Data = *w.Data
	case w.Message != nil:
		f.Data = *w.Message
	}
	switch f.Type {
	case TypeInput, TypeOutput, TypeResize, TypeError:
		return f, nil
	default:
		return Frame{}, fmt.Errorf("%w: %q", ErrUnknownType, w.Type)
	}
}

// DecodeInbound decodes a message received by the client. Only output and
// error frames are valid in that direction; any other payload, including
// undecodable bytes, is returned unchanged as an output frame so that it is
// rendered rather than dropped.
func DecodeInbound(raw []byte) Frame {
	f, err := Parse(raw)
	if err == nil && (f.Type == TypeOutput || f.Type == TypeError) {
		return f
	}
	return Output(string(raw))
}
