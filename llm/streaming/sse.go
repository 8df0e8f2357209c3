package streaming

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"strings"
)

// DefaultMaxFrameBytes bounds a single event frame.
const DefaultMaxFrameBytes = 1 << 20

var (
	// ErrTruncatedFrame is returned when the stream ends inside a frame.
	ErrTruncatedFrame = errors.New("sse: stream ended inside a frame")
	// ErrFrameTooLarge is returned when a frame exceeds the configured bound.
	ErrFrameTooLarge = errors.New("sse: frame too large")
)

// Frame is one dispatched server-sent event.
type Frame struct {
	Event string
	Data  string
	ID    string
}

// FrameReader splits a text/event-stream body into frames. It is not safe
// for concurrent use.
type FrameReader struct {
	r        *bufio.Reader
	maxBytes int
	err      error
}

// NewFrameReader wraps r. maxFrameBytes <= 0 selects DefaultMaxFrameBytes.
func NewFrameReader(r io.Reader, maxFrameBytes int) *FrameReader {
	if maxFrameBytes <= 0 {
		maxFrameBytes = DefaultMaxFrameBytes
	}
	return &FrameReader{r: bufio.NewReaderSize(r, 16*1024), maxBytes: maxFrameBytes}
}

// Next returns the next frame. It returns io.EOF at a clean end of stream,
// ErrTruncatedFrame when the body stops mid-frame, and ErrFrameTooLarge when
// a frame outgrows the bound. After any error every later call returns the
// same error.
func (f *FrameReader) Next() (Frame, error) {
	if f.err != nil {
		return Frame{}, f.err
	}

	var (
		frame   Frame
		data    strings.Builder
		hasData bool
		pending bool // a field was seen since the last dispatch
		size    int
	)

	for {
		line, err := f.readLine(f.maxBytes - size)
		if err != nil {
			if errors.Is(err, io.EOF) {
				if pending || len(line) > 0 {
					err = ErrTruncatedFrame
				}
			}
			f.err = err
			return Frame{}, err
		}
		size += len(line)

		if len(line) == 0 {
			if !pending {
				continue
			}
			frame.Data = data.String()
			return frame, nil
		}
		if line[0] == ':' {
			continue
		}

		field, value := line, []byte(nil)
		if i := bytes.IndexByte(line, ':'); i >= 0 {
			field, value = line[:i], line[i+1:]
			value = bytes.TrimPrefix(value, []byte(" "))
		}

		switch string(field) {
		case "event":
			frame.Event = string(value)
			pending = true
		case "data":
			if hasData {
				data.WriteByte('\n')
			}
			data.Write(value)
			hasData = true
			pending = true
		case "id":
			frame.ID = string(value)
			pending = true
		}
	}
}

// readLine returns one line without its terminator. At EOF the partial line
// is returned together with io.EOF. Terminators do not count against budget.
func (f *FrameReader) readLine(budget int) ([]byte, error) {
	var line []byte
	for {
		chunk, err := f.r.ReadSlice('\n')
		line = append(line, chunk...)
		if len(trimEOL(line)) > budget {
			return nil, ErrFrameTooLarge
		}
		switch {
		case err == nil:
			return trimEOL(line), nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		default:
			return trimEOL(line), err
		}
	}
}

func trimEOL(b []byte) []byte {
	b = bytes.TrimSuffix(b, []byte("\n"))
	return bytes.TrimSuffix(b, []byte("\r"))
}
