package sink

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/bytedance/sonic"

	"github.com/GriffinCanCode/assemblyline/internal/pipeline"
	"github.com/GriffinCanCode/assemblyline/internal/transport"
)

// JSONL writes one JSON document per line
type JSONL struct {
	api sonic.API

	mu     sync.Mutex
	w      *bufio.Writer
	closer io.Closer
	count  int64
}

// NewJSONL creates or truncates path. "-" writes to stdout.
func NewJSONL(path string) (*JSONL, error) {
	if path == "-" {
		return NewJSONLWriter(os.Stdout), nil
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("open jsonl output: %w", err)
	}
	j := NewJSONLWriter(f)
	j.closer = f
	return j, nil
}

// NewJSONLWriter writes lines to w
func NewJSONLWriter(w io.Writer) *JSONL {
	return &JSONL{
		api: sonic.ConfigStd,
		w:   bufio.NewWriter(w),
	}
}

// Write encodes v as one line
func (j *JSONL) Write(v any) error {
	data, err := j.api.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode line: %w", err)
	}
	return j.writeLine(data)
}

// WriteRaw writes an already encoded JSON document as one line
func (j *JSONL) WriteRaw(data []byte) error {
	if !j.api.Valid(data) {
		return fmt.Errorf("invalid json document (%d bytes)", len(data))
	}
	return j.writeLine(data)
}

func (j *JSONL) writeLine(data []byte) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if _, err := j.w.Write(data); err != nil {
		return fmt.Errorf("write line: %w", err)
	}
	if err := j.w.WriteByte('\n'); err != nil {
		return fmt.Errorf("write line: %w", err)
	}
	j.count++
	return nil
}

// Count returns the number of lines written
func (j *JSONL) Count() int64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.count
}

// Flush writes buffered lines to the underlying writer
func (j *JSONL) Flush() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.w.Flush()
}

// Close flushes and closes the output
func (j *JSONL) Close() error {
	if err := j.Flush(); err != nil {
		return err
	}
	if j.closer != nil {
		return j.closer.Close()
	}
	return nil
}

// Handle is the sink message hook. Structured payloads are written as they
// are; raw payloads are written as JSON strings.
func (j *JSONL) Handle(ctx context.Context, w *pipeline.Worker, msg *pipeline.Message) (any, error) {
	if msg.Encoding == transport.EncodingJSON {
		return nil, j.WriteRaw(msg.Bytes())
	}
	return nil, j.Write(msg.String())
}
