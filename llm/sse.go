package llm

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
)

// MaxSSEFrameSize bounds a single SSE line and the joined data of one event.
const MaxSSEFrameSize = 1 << 20

// SSEEvent is one dispatched Server-Sent Event.
type SSEEvent struct {
	Event string
	Data  []byte
}

// SSEReader parses Server-Sent Events from a stream.
type SSEReader struct {
	scanner *bufio.Scanner
}

// NewSSEReader creates a new SSE reader from an io.Reader.
func NewSSEReader(r io.Reader) *SSEReader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), MaxSSEFrameSize)
	return &SSEReader{scanner: sc}
}

// Next reads the next event. Data lines are joined with "\n". Comments and
// the id: and retry: fields are ignored. Returns io.EOF when the stream ends.
func (s *SSEReader) Next() (SSEEvent, error) {
	var ev SSEEvent
	var data [][]byte
	size := 0

	for s.scanner.Scan() {
		line := bytes.TrimRight(s.scanner.Bytes(), "\r")

		// Empty line dispatches the event.
		if len(line) == 0 {
			if len(data) > 0 {
				ev.Data = bytes.Join(data, []byte("\n"))
				return ev, nil
			}
			ev.Event = ""
			continue
		}
		if line[0] == ':' {
			continue
		}

		field, value, _ := bytes.Cut(line, []byte(":"))
		value = bytes.TrimPrefix(value, []byte(" "))
		switch string(field) {
		case "event":
			ev.Event = string(value)
		case "data":
			size += len(value) + 1
			if size > MaxSSEFrameSize {
				return SSEEvent{}, &StreamError{SDKError: SDKError{
					Message: fmt.Sprintf("sse event exceeds %d bytes", MaxSSEFrameSize),
				}}
			}
			data = append(data, append([]byte(nil), value...))
		}
	}
	if err := s.scanner.Err(); err != nil {
		return SSEEvent{}, err
	}
	// A final event without a trailing blank line is still delivered.
	if len(data) > 0 {
		ev.Data = bytes.Join(data, []byte("\n"))
		return ev, nil
	}
	return SSEEvent{}, io.EOF
}
