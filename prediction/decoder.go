package prediction

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/linesmerrill/casecraft-api/models"
)

// MaxFrameSize bounds a single event frame
const MaxFrameSize = 8 << 20

// ErrStreamDecode is returned for a frame that is not a JSON object
var ErrStreamDecode = errors.New("malformed stream frame")

var dataPrefix = []byte("data:")

// sseFields are event-stream fields the relay does not need
var sseFields = [][]byte{[]byte("event"), []byte("id"), []byte("retry")}

// Decoder reads newline-delimited event frames. A frame split across network reads is
// held until its newline arrives. Blank lines, ':' comments and the SSE event, id and
// retry fields are skipped; a "data:" prefix is stripped. Any other line must be JSON.
type Decoder struct {
	r *bufio.Reader
}

// NewDecoder creates a Decoder reading from r
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReaderSize(r, 64<<10)}
}

// Next returns the next frame. It returns io.EOF once the stream has ended cleanly.
func (d *Decoder) Next() (models.StreamEvent, error) {
	for {
		line, readErr := d.readLine()
		if readErr != nil && len(line) == 0 {
			return models.StreamEvent{}, readErr
		}

		frame, ok := framePayload(line)
		if !ok {
			if readErr != nil {
				return models.StreamEvent{}, readErr
			}
			continue
		}

		ev, err := decodeFrame(frame)
		if err != nil {
			return models.StreamEvent{}, err
		}
		return ev, nil
	}
}

func (d *Decoder) readLine() ([]byte, error) {
	var line []byte
	for {
		chunk, isPrefix, err := d.r.ReadLine()
		line = append(line, chunk...)
		if len(line) > MaxFrameSize {
			return nil, fmt.Errorf("%w: frame exceeds %d bytes", ErrStreamDecode, MaxFrameSize)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return line, io.EOF
			}
			return line, fmt.Errorf("failed to read stream: %w", err)
		}
		if !isPrefix {
			return line, nil
		}
	}
}

func framePayload(line []byte) ([]byte, bool) {
	frame := bytes.TrimSpace(line)
	if len(frame) == 0 || frame[0] == ':' {
		return nil, false
	}
	if bytes.HasPrefix(frame, dataPrefix) {
		frame = bytes.TrimSpace(frame[len(dataPrefix):])
		return frame, len(frame) > 0
	}
	if isSSEField(frame) {
		return nil, false
	}
	return frame, true
}

func isSSEField(line []byte) bool {
	name := line
	if i := bytes.IndexByte(line, ':'); i >= 0 {
		name = line[:i]
	}
	for _, f := range sseFields {
		if bytes.Equal(name, f) {
			return true
		}
	}
	return false
}

func decodeFrame(frame []byte) (models.StreamEvent, error) {
	var ev models.StreamEvent
	if err := json.Unmarshal(frame, &ev); err != nil {
		return ev, fmt.Errorf("%w: %v", ErrStreamDecode, err)
	}
	ev.Raw = append(json.RawMessage(nil), frame...)
	return ev, nil
}
