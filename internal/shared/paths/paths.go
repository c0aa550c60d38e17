package paths

import (
	"os"
	"path/filepath"
	"regexp"
)

// Mount points
const (
	SharedMemory = "/dev/shm"
)

// Spill file naming
const (
	SpillExt     = ".ovf"
	SpillTempExt = ".tmp"
)

// safeNamePattern allows alphanumeric, dots, hyphens, underscores
var safeNamePattern = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

// OverflowRoot returns the default root directory for spill files:
// /dev/shm when it exists and is a directory, otherwise the OS temp dir.
func OverflowRoot() string {
	if info, err := os.Stat(SharedMemory); err == nil && info.IsDir() {
		return SharedMemory
	}
	return os.TempDir()
}

// QueueDir returns the spill directory of one queue under root
func QueueDir(root, queueName string) string {
	return filepath.Join(root, "assemblyline", queueName)
}

// SpillFile returns the final spill path of an envelope
func SpillFile(dir, envelopeID string) string {
	return filepath.Join(dir, envelopeID+SpillExt)
}

// IsSafeName reports whether name can be used as a single path segment
func IsSafeName(name string) bool {
	return name != "." && name != ".." && safeNamePattern.MatchString(name)
}
