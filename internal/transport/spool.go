package transport

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/GriffinCanCode/assemblyline/internal/shared/paths"
	"github.com/klauspost/compress/zstd"
)

// Compression selects how spill files are stored
type Compression string

const (
	CompressionNone Compression = "none"
	CompressionZstd Compression = "zstd"
)

// ParseCompression validates a compression name. An empty name means none.
func ParseCompression(s string) (Compression, error) {
	switch Compression(strings.ToLower(s)) {
	case "", CompressionNone:
		return CompressionNone, nil
	case CompressionZstd:
		return CompressionZstd, nil
	default:
		return "", fmt.Errorf("unknown compression %q", s)
	}
}

// Spool is the overflow store shared by every channel of one pipeline.
//
// Each spill file has exactly one writer (the sending worker) and one reader
// (the receiving worker), so no locking is needed; names are envelope IDs.
type Spool struct {
	dir         string
	compression Compression
	encoder     *zstd.Encoder
	decoder     *zstd.Decoder
}

// NewSpool creates the spill directory for queueName under root
func NewSpool(root, queueName string, compression Compression) (*Spool, error) {
	if !paths.IsSafeName(queueName) {
		return nil, fmt.Errorf("invalid queue name %q", queueName)
	}

	dir := paths.QueueDir(root, queueName)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create spool dir: %w", err)
	}

	s := &Spool{dir: dir, compression: compression}

	if compression == CompressionZstd {
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
		if err != nil {
			return nil, fmt.Errorf("create zstd encoder: %w", err)
		}
		dec, err := zstd.NewReader(nil)
		if err != nil {
			enc.Close()
			return nil, fmt.Errorf("create zstd decoder: %w", err)
		}
		s.encoder = enc
		s.decoder = dec
	}

	return s, nil
}

// Dir returns the spill directory
func (s *Spool) Dir() string {
	return s.dir
}

// Write stores data for the envelope and returns its reference. The file is
// written under a temporary name and renamed so readers never see a partial
// payload.
func (s *Spool) Write(envelopeID string, data []byte) (string, error) {
	final := paths.SpillFile(s.dir, envelopeID)
	tmp := strings.TrimSuffix(final, paths.SpillExt) + paths.SpillTempExt

	if s.encoder != nil {
		data = s.encoder.EncodeAll(data, make([]byte, 0, len(data)/2))
	}

	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		_ = os.Remove(tmp)
		return "", &OverflowIOError{Op: "write", EnvelopeID: envelopeID, Path: tmp, Err: err}
	}
	if err := os.Rename(tmp, final); err != nil {
		_ = os.Remove(tmp)
		return "", &OverflowIOError{Op: "write", EnvelopeID: envelopeID, Path: final, Err: err}
	}

	return final, nil
}

// Read loads a spilled payload
func (s *Spool) Read(ref string) ([]byte, error) {
	data, err := os.ReadFile(ref)
	if err != nil {
		return nil, &OverflowIOError{Op: "read", EnvelopeID: envelopeIDOf(ref), Path: ref, Err: err}
	}

	if s.decoder != nil {
		out, err := s.decoder.DecodeAll(data, nil)
		if err != nil {
			return nil, &OverflowIOError{Op: "read", EnvelopeID: envelopeIDOf(ref), Path: ref, Err: err}
		}
		return out, nil
	}

	return data, nil
}

// Remove deletes a spilled payload. Removing a missing file is not an error.
func (s *Spool) Remove(ref string) error {
	if err := os.Remove(ref); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return &OverflowIOError{Op: "remove", EnvelopeID: envelopeIDOf(ref), Path: ref, Err: err}
	}
	return nil
}

// Sweep removes every spill file in the directory, including files abandoned
// by a forced stop. It returns the number of files removed.
func (s *Spool) Sweep() (int, error) {
	files, err := s.list()
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, f := range files {
		if err := os.Remove(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return removed, fmt.Errorf("sweep %s: %w", f, err)
		}
		removed++
	}
	return removed, nil
}

// Count returns the number of spill files currently on disk
func (s *Spool) Count() (int, error) {
	files, err := s.list()
	return len(files), err
}

// Close releases compression resources
func (s *Spool) Close() error {
	if s.encoder != nil {
		_ = s.encoder.Close()
	}
	if s.decoder != nil {
		s.decoder.Close()
	}
	return nil
}

func (s *Spool) list() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list spool dir: %w", err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := filepath.Ext(e.Name())
		if ext == paths.SpillExt || ext == paths.SpillTempExt {
			files = append(files, filepath.Join(s.dir, e.Name()))
		}
	}
	return files, nil
}

func envelopeIDOf(ref string) string {
	return strings.TrimSuffix(filepath.Base(ref), paths.SpillExt)
}
