package protocol

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
)

// Writer encodes typed values to terminator-delimited text fields.
//
// Every Write* call issues exactly one Write on the underlying stream,
// serialised by an internal lock, so records from concurrent senders can
// never interleave partial fields.
type Writer struct {
	mu sync.Mutex
	w  io.Writer
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// WriteField renders value to its wire form and writes it, terminator
// included, as one atomic write.
func (w *Writer) WriteField(value interface{}) error {
	return w.WriteRecord(value)
}

// WriteRecord renders every field in order into a single buffer and writes
// the whole record with one atomic write.
func (w *Writer) WriteRecord(fields ...interface{}) error {
	var buf []byte

	for _, field := range fields {
		var err error

		buf, err = AppendField(buf, field)
		if err != nil {
			return err
		}
	}

	w.mu.Lock()
	_, err := w.w.Write(buf)
	w.mu.Unlock()

	return err
}

// AppendField appends the wire form of value, terminator included, to buf.
func AppendField(buf []byte, value interface{}) ([]byte, error) {
	switch v := value.(type) {
	case string:
		if strings.IndexByte(v, Terminator) >= 0 {
			return nil, fmt.Errorf("Failed to render '%s': %w", v, ErrTerminatorInField)
		}

		buf = append(buf, v...)

	case int:
		buf = strconv.AppendInt(buf, int64(v), 10)

	case int64:
		buf = strconv.AppendInt(buf, v, 10)

	case float64:
		buf = strconv.AppendFloat(buf, v, 'g', -1, 64)

	case bool:
		if v {
			buf = append(buf, '1')
		} else {
			buf = append(buf, '0')
		}

	default:
		return nil, fmt.Errorf("Failed to render %T value: %w", value, ErrUnsupportedWireType)
	}

	return append(buf, Terminator), nil
}
