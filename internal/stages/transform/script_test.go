package transform

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/GriffinCanCode/assemblyline/internal/pipeline"
)

func newVM(t *testing.T, cfg ScriptConfig) *VM {
	t.Helper()
	s, err := NewScript(cfg)
	require.NoError(t, err)
	vm, err := s.NewVM(nil)
	require.NoError(t, err)
	return vm
}

func TestScriptApply(t *testing.T) {
	tests := []struct {
		name   string
		source string
		record any
		want   []any
	}{
		{
			name:   "modify record",
			source: `function transform(r) { r.upper = r.name.toUpperCase(); return r; }`,
			record: map[string]any{"name": "ada"},
			want:   []any{map[string]any{"name": "ada", "upper": "ADA"}},
		},
		{
			name:   "drop with null",
			source: `function transform(r) { return r.keep ? r : null; }`,
			record: map[string]any{"keep": false},
			want:   nil,
		},
		{
			name:   "drop with undefined",
			source: `function transform(r) {}`,
			record: map[string]any{},
			want:   nil,
		},
		{
			name:   "fan out",
			source: `function transform(s) { return s.split(","); }`,
			record: "a,b,c",
			want:   []any{"a", "b", "c"},
		},
		{
			name:   "helpers in script body",
			source: `const prefix = "id-"; function transform(r) { return prefix + r; }`,
			record: "7",
			want:   []any{"id-7"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vm := newVM(t, ScriptConfig{Source: tt.source})
			got, err := vm.Apply(context.Background(), tt.record)
			require.NoError(t, err)
			if tt.want == nil {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestScriptErrors(t *testing.T) {
	t.Run("syntax error", func(t *testing.T) {
		_, err := NewScript(ScriptConfig{Source: `function transform( {`})
		assert.Error(t, err)
	})

	t.Run("missing function", func(t *testing.T) {
		s, err := NewScript(ScriptConfig{Source: `function other() {}`})
		require.NoError(t, err)
		_, err = s.NewVM(nil)
		assert.ErrorContains(t, err, "does not define function transform")
	})

	t.Run("custom function name", func(t *testing.T) {
		vm := newVM(t, ScriptConfig{Source: `function enrich(r) { return r + 1; }`, Function: "enrich"})
		got, err := vm.Apply(context.Background(), 1)
		require.NoError(t, err)
		assert.Equal(t, []any{int64(2)}, got)
	})

	t.Run("thrown exception", func(t *testing.T) {
		vm := newVM(t, ScriptConfig{Source: `function transform(r) { throw new Error("bad record"); }`})
		_, err := vm.Apply(context.Background(), 1)
		assert.ErrorContains(t, err, "bad record")

		// the runtime stays usable
		_, err = vm.Apply(context.Background(), 2)
		assert.ErrorContains(t, err, "bad record")
	})

	t.Run("node globals are removed", func(t *testing.T) {
		vm := newVM(t, ScriptConfig{Source: `function transform(r) { return typeof require; }`})
		got, err := vm.Apply(context.Background(), nil)
		require.NoError(t, err)
		assert.Equal(t, []any{"undefined"}, got)
	})
}

func TestScriptTimeout(t *testing.T) {
	vm := newVM(t, ScriptConfig{
		Source:  `function transform(r) { if (r) { for (;;) {} } return "ok"; }`,
		Timeout: 50 * time.Millisecond,
	})

	_, err := vm.Apply(context.Background(), true)
	assert.ErrorContains(t, err, "timeout exceeded")

	// the interrupt does not leak into the next call
	got, err := vm.Apply(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, []any{"ok"}, got)
}

func TestScriptContextCancelled(t *testing.T) {
	vm := newVM(t, ScriptConfig{Source: `function transform(r) { for (;;) {} }`})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := vm.Apply(ctx, nil)
	assert.ErrorContains(t, err, "interrupted")
}

func TestScriptConsole(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)

	s, err := NewScript(ScriptConfig{Source: `function transform(r) { console.warn("saw", r); return r; }`})
	require.NoError(t, err)
	vm, err := s.NewVM(zap.New(core))
	require.NoError(t, err)

	_, err = vm.Apply(context.Background(), "x")
	require.NoError(t, err)

	entries := logs.FilterMessage("saw x").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zap.WarnLevel, entries[0].Level)
}

func TestScriptInPipeline(t *testing.T) {
	cfg := pipeline.DefaultConfig()
	cfg.QueueName = "script"
	cfg.OverflowDir = t.TempDir()
	cfg.Transform.Processes = 3
	cfg.DrainTimeout = 10 * time.Second

	c, err := pipeline.New(cfg)
	require.NoError(t, err)

	s, err := NewScript(ScriptConfig{Source: `
function transform(r) {
  if (r.n % 2 === 0) { return null; }
  return [{ n: r.n, copy: 1 }, { n: r.n, copy: 2 }];
}`})
	require.NoError(t, err)

	var (
		mu   sync.Mutex
		seen []string
	)

	require.NoError(t, c.OnStart(pipeline.RoleSource, func(ctx context.Context, w *pipeline.Worker) error {
		for i := 0; i < 10; i++ {
			if err := w.Send(ctx, map[string]int{"n": i}); err != nil {
				return err
			}
		}
		return nil
	}))
	require.NoError(t, c.Use(pipeline.RoleTransform, s.Hooks()))
	require.NoError(t, c.OnMessage(pipeline.RoleSink, func(ctx context.Context, w *pipeline.Worker, msg *pipeline.Message) (any, error) {
		mu.Lock()
		seen = append(seen, msg.String())
		mu.Unlock()
		return nil, nil
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	require.NoError(t, c.Run(ctx))

	sort.Strings(seen)
	require.Len(t, seen, 10)
	assert.Equal(t, `{"copy":1,"n":1}`, seen[0])
	assert.Equal(t, `{"copy":2,"n":9}`, seen[9])
}
