package pipeline

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/assemblyline/internal/shared/paths"
)

func testConfig(t *testing.T) Config {
	t.Helper()

	pool := func(n int) PoolConfig {
		return PoolConfig{Processes: n, QueueCapacity: 16}
	}

	cfg := DefaultConfig()
	cfg.QueueName = "test"
	cfg.OverflowDir = t.TempDir()
	cfg.Source = pool(1)
	cfg.Transform = pool(1)
	cfg.Sink = pool(1)
	cfg.DrainTimeout = 10 * time.Second
	return cfg
}

// spillFiles lists spill files left in the queue directory of cfg
func spillFiles(t *testing.T, cfg Config) []string {
	t.Helper()

	dir := paths.QueueDir(cfg.OverflowDir, cfg.QueueName)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)

	var files []string
	for _, e := range entries {
		if ext := filepath.Ext(e.Name()); ext == paths.SpillExt || ext == paths.SpillTempExt {
			files = append(files, e.Name())
		}
	}
	return files
}
