package wire

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
)

// Writer frames one JSON value per line and flushes after every line.
type Writer struct {
	mu  sync.Mutex
	buf *bufio.Writer
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{buf: bufio.NewWriter(w)}
}

// Encode marshals v before touching the output, so an unencodable value never
// leaves a partial frame behind.
func Encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// WriteFrame writes a pre-encoded frame produced by Encode.
func (w *Writer) WriteFrame(frame []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.buf.Write(frame); err != nil {
		return fmt.Errorf("wire: write: %w", err)
	}
	if err := w.buf.Flush(); err != nil {
		return fmt.Errorf("wire: flush: %w", err)
	}
	return nil
}

// Write encodes and writes msg as one frame.
func (w *Writer) Write(msg Message) error {
	frame, err := Encode(msg)
	if err != nil {
		return fmt.Errorf("wire: encode %s: %w", msg.Type, err)
	}
	return w.WriteFrame(frame)
}

// Reader yields newline-delimited frames of any length.
type Reader struct {
	buf *bufio.Reader
}

func NewReader(r io.Reader) *Reader {
	return &Reader{buf: bufio.NewReader(r)}
}

// Next returns the next frame without its line terminator. A final line
// without a newline is returned before io.EOF.
func (r *Reader) Next() ([]byte, error) {
	line, err := r.buf.ReadBytes('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && len(line) > 0 {
			return bytes.TrimRight(line, "\r"), nil
		}
		return nil, err
	}
	line = bytes.TrimSuffix(line, []byte{'\n'})
	return bytes.TrimSuffix(line, []byte{'\r'}), nil
}
