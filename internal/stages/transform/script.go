package transform

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/assemblyline/internal/pipeline"
	"github.com/GriffinCanCode/assemblyline/internal/transport"
)

const (
	// DefaultFunction is the script function applied to each record
	DefaultFunction = "transform"
	// DefaultScriptTimeout bounds one function call
	DefaultScriptTimeout = 5 * time.Second

	vmKey = "transform.script.vm"
)

// ScriptConfig configures a script transform
type ScriptConfig struct {
	Source   string
	Name     string
	Function string
	Timeout  time.Duration
}

// Script applies a JavaScript function to every record. The function gets
// the decoded record and returns a record, an array of records, or
// null/undefined to drop it.
type Script struct {
	cfg     ScriptConfig
	program *goja.Program
}

// NewScript compiles the script
func NewScript(cfg ScriptConfig) (*Script, error) {
	if cfg.Name == "" {
		cfg.Name = "script.js"
	}
	if cfg.Function == "" {
		cfg.Function = DefaultFunction
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultScriptTimeout
	}

	program, err := goja.Compile(cfg.Name, cfg.Source, true)
	if err != nil {
		return nil, fmt.Errorf("compile %s: %w", cfg.Name, err)
	}
	return &Script{cfg: cfg, program: program}, nil
}

// VM is one runtime of a script. It is not safe for concurrent use.
type VM struct {
	vm      *goja.Runtime
	fn      goja.Callable
	timeout time.Duration
}

// NewVM creates a runtime, runs the script body and resolves the function
func (s *Script) NewVM(logger *zap.Logger) (*VM, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))
	vm.SetMaxCallStackSize(1024)

	if err := setupGlobals(vm, logger); err != nil {
		return nil, err
	}
	if _, err := vm.RunProgram(s.program); err != nil {
		return nil, fmt.Errorf("run %s: %w", s.cfg.Name, err)
	}

	fn, ok := goja.AssertFunction(vm.Get(s.cfg.Function))
	if !ok {
		return nil, fmt.Errorf("%s does not define function %s", s.cfg.Name, s.cfg.Function)
	}
	return &VM{vm: vm, fn: fn, timeout: s.cfg.Timeout}, nil
}

func setupGlobals(vm *goja.Runtime, logger *zap.Logger) error {
	for _, name := range []string{"require", "process", "module", "exports"} {
		if err := vm.Set(name, goja.Undefined()); err != nil {
			return err
		}
	}

	console := vm.NewObject()
	levels := map[string]func(string, ...zap.Field){
		"log":   logger.Info,
		"info":  logger.Info,
		"warn":  logger.Warn,
		"error": logger.Error,
		"debug": logger.Debug,
	}
	for name, log := range levels {
		log := log
		if err := console.Set(name, func(call goja.FunctionCall) goja.Value {
			parts := make([]string, len(call.Arguments))
			for i, arg := range call.Arguments {
				parts[i] = arg.String()
			}
			log(strings.Join(parts, " "), zap.String("source", "script"))
			return goja.Undefined()
		}); err != nil {
			return err
		}
	}
	return vm.Set("console", console)
}

// Apply calls the function with record and returns the records it produced
func (v *VM) Apply(ctx context.Context, record any) ([]any, error) {
	v.vm.ClearInterrupt()
	timer := time.AfterFunc(v.timeout, func() {
		v.vm.Interrupt("timeout exceeded")
	})
	stop := context.AfterFunc(ctx, func() {
		v.vm.Interrupt(ctx.Err())
	})
	defer func() {
		timer.Stop()
		stop()
		v.vm.ClearInterrupt()
	}()

	res, err := v.fn(goja.Undefined(), v.vm.ToValue(record))
	if err != nil {
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			return nil, fmt.Errorf("script interrupted: %v", interrupted.Value())
		}
		return nil, fmt.Errorf("script: %w", err)
	}

	if res == nil || goja.IsUndefined(res) || goja.IsNull(res) {
		return nil, nil
	}

	switch out := res.Export().(type) {
	case []any:
		records := out[:0]
		for _, r := range out {
			if r != nil {
				records = append(records, r)
			}
		}
		return records, nil
	default:
		return []any{out}, nil
	}
}

// Start is the transform start hook. It builds the worker's VM.
func (s *Script) Start(ctx context.Context, w *pipeline.Worker) error {
	_, err := s.vmFor(w)
	return err
}

// Handle is the transform message hook
func (s *Script) Handle(ctx context.Context, w *pipeline.Worker, msg *pipeline.Message) (any, error) {
	var record any
	if msg.Encoding == transport.EncodingJSON {
		if err := msg.Decode(&record); err != nil {
			return nil, err
		}
	} else {
		record = msg.String()
	}

	return s.Process(ctx, w, record)
}

// Process applies the worker's VM to record. A single result is returned
// for forwarding; several results are sent one by one.
func (s *Script) Process(ctx context.Context, w *pipeline.Worker, record any) (any, error) {
	vm, err := s.vmFor(w)
	if err != nil {
		return nil, err
	}

	out, err := vm.Apply(ctx, record)
	if err != nil {
		return nil, err
	}

	switch len(out) {
	case 0:
		return nil, nil
	case 1:
		return out[0], nil
	}
	for _, r := range out {
		if err := w.Send(ctx, r); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

// Hooks returns the start and message hooks
func (s *Script) Hooks() pipeline.Hooks {
	return pipeline.Hooks{Start: s.Start, Message: s.Handle}
}

func (s *Script) vmFor(w *pipeline.Worker) (*VM, error) {
	if vm, ok := w.Value(vmKey).(*VM); ok {
		return vm, nil
	}
	vm, err := s.NewVM(w.Logger())
	if err != nil {
		return nil, err
	}
	w.Set(vmKey, vm)
	return vm, nil
}
