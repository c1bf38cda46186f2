package hub

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// recordSeparator terminates every JSON record on the wire.
const recordSeparator = 0x1e

type frameType int

const (
	invocationFrame frameType = 1
	streamItemFrame frameType = 2
	completionFrame frameType = 3
	pingFrame       frameType = 6
	closeFrame      frameType = 7
)

type frame struct {
	Type           frameType         `json:"type"`
	InvocationID   string            `json:"invocationId,omitempty"`
	Target         string            `json:"target,omitempty"`
	Arguments      []json.RawMessage `json:"arguments,omitempty"`
	Result         json.RawMessage   `json:"result,omitempty"`
	Error          string            `json:"error,omitempty"`
	AllowReconnect bool              `json:"allowReconnect,omitempty"`
}

type handshakeRequest struct {
	Protocol string `json:"protocol"`
	Version  int    `json:"version"`
}

type handshakeResponse struct {
	Error string `json:"error,omitempty"`
}

func encodeRecord(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return append(data, recordSeparator), nil
}

// splitRecords breaks one websocket message into its JSON records.
func splitRecords(data []byte) [][]byte {
	var out [][]byte
	for _, rec := range bytes.Split(data, []byte{recordSeparator}) {
		if len(bytes.TrimSpace(rec)) == 0 {
			continue
		}
		out = append(out, rec)
	}
	return out
}

func marshalArguments(args []any) ([]json.RawMessage, error) {
	out := make([]json.RawMessage, len(args))
	for i, a := range args {
		data, err := json.Marshal(a)
		if err != nil {
			return nil, fmt.Errorf("marshal argument %d: %w", i, err)
		}
		out[i] = data
	}
	return out, nil
}
