package realtime

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
)

// FrameType discriminates wire frames.
type FrameType string

const (
	FrameInvoke     FrameType = "invoke"
	FrameSend       FrameType = "send"
	FrameCompletion FrameType = "completion"
	FrameEvent      FrameType = "event"
)

// Frame is one JSON message on the hub connection.
//
// Invoke frames carry an ID that the matching completion echoes. Send frames
// expect no completion. Event frames are server pushes named by Target.
type Frame struct {
	Type      FrameType         `json:"type"`
	ID        string            `json:"id,omitempty"`
	Target    string            `json:"target,omitempty"`
	Arguments []json.RawMessage `json:"arguments,omitempty"`
	Result    json.RawMessage   `json:"result,omitempty"`
	Error     string            `json:"error,omitempty"`
}

// NewFrame builds a frame whose arguments are the JSON encodings of args.
func NewFrame(typ FrameType, id, target string, args ...any) (Frame, error) {
	f := Frame{Type: typ, ID: id, Target: target}
	for i, arg := range args {
		raw, err := json.Marshal(arg)
		if err != nil {
			return Frame{}, fmt.Errorf("encode argument %d of %s: %w", i, target, err)
		}
		f.Arguments = append(f.Arguments, raw)
	}
	return f, nil
}

// Payload returns the first argument, or JSON null when there is none.
func (f Frame) Payload() json.RawMessage {
	if len(f.Arguments) == 0 {
		return json.RawMessage("null")
	}
	return f.Arguments[0]
}

// Encode returns the wire bytes of f.
func (f Frame) Encode() ([]byte, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	return data, nil
}

// DecodeFrame parses wire bytes.
func DecodeFrame(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("decode frame: %w", err)
	}
	return f, nil
}

// PeekType reads the frame type without decoding the rest of the frame.
func PeekType(data []byte) FrameType {
	return FrameType(gjson.GetBytes(data, "type").String())
}
