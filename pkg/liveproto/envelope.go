// Package liveproto provides encoding and decoding for the Target control
// protocol: newline-delimited JSON envelopes over TCP for acknowledged
// operations, and the same envelope as a single UDP datagram for
// fire-and-forget writes.
package liveproto

import (
	"encoding/json"
	"fmt"
)

const (
	// DefaultTCPPort is the standard port for the reliable request/response channel.
	DefaultTCPPort = 9001
	// DefaultUDPPort is the standard port for the unreliable fire-and-forget channel.
	DefaultUDPPort = 9002
	// DefaultHost is where the Target listens by default.
	DefaultHost = "127.0.0.1"
)

// Status values carried in a Response.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Request is one command envelope sent to the Target.
type Request struct {
	Type   string                 `json:"type"`
	Params map[string]interface{} `json:"params,omitempty"`
}

// Response is the Target's reply on the reliable channel.
type Response struct {
	Status  string                 `json:"status"`
	Result  map[string]interface{} `json:"result,omitempty"`
	Message string                 `json:"message,omitempty"`
}

// EncodeRequest serializes a request envelope with a trailing newline,
// ready to write to either channel.
func EncodeRequest(op string, params map[string]interface{}) ([]byte, error) {
	if op == "" {
		return nil, fmt.Errorf("liveproto: empty operation type")
	}
	data, err := json.Marshal(Request{Type: op, Params: params})
	if err != nil {
		return nil, fmt.Errorf("liveproto: encode %q: %w", op, err)
	}
	return append(data, '\n'), nil
}

// DecodeResponse parses one response line. A response that does not carry a
// known status value is malformed; callers treat that like a transport error.
func DecodeResponse(line []byte) (*Response, error) {
	var resp Response
	if err := json.Unmarshal(line, &resp); err != nil {
		return nil, fmt.Errorf("liveproto: malformed response: %w", err)
	}
	if resp.Status != StatusSuccess && resp.Status != StatusError {
		return nil, fmt.Errorf("liveproto: unknown response status %q", resp.Status)
	}
	return &resp, nil
}

// IsError reports whether the response carries an application-level rejection.
func (r *Response) IsError() bool {
	return r.Status == StatusError
}
