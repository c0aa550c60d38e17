package run

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/bytedance/sonic"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/assemblyline/internal/admin"
	"github.com/GriffinCanCode/assemblyline/internal/infrastructure/config"
	"github.com/GriffinCanCode/assemblyline/internal/infrastructure/logging"
	"github.com/GriffinCanCode/assemblyline/internal/pipeline"
	"github.com/GriffinCanCode/assemblyline/internal/stages/sink"
	"github.com/GriffinCanCode/assemblyline/internal/stages/source"
	"github.com/GriffinCanCode/assemblyline/internal/stages/transform"
)

const adminShutdownTimeout = 5 * time.Second

// execute loads configuration, assembles the stages and runs the pipeline
func execute(ctx context.Context, opts options) error {
	if err := opts.validate(); err != nil {
		return err
	}

	cfg, err := config.LoadFile(opts.configPath)
	if err != nil {
		return usageError("%v", err)
	}
	if opts.admin {
		cfg.Admin.Enabled = true
	}
	if opts.adminAddr != "" {
		cfg.Admin.Addr = opts.adminAddr
	}

	pcfg, err := cfg.PipelineConfig()
	if err != nil {
		return exitError(err)
	}

	base, err := logging.New(cfg.LoggerConfig())
	if err != nil {
		return usageError("logger: %v", err)
	}
	defer func() { _ = base.Sync() }()
	if opts.logLevel != "" {
		if err := base.SetLevel(opts.logLevel); err != nil {
			return usageError("%v", err)
		}
	}
	logger := base.Pipeline(pcfg.QueueName)

	a := &assembly{opts: opts, logger: logger}
	defer func() {
		if err := a.close(); err != nil {
			logger.Error("Closing stages failed", zap.Error(err))
		}
	}()

	c, err := pipeline.New(pcfg, pipeline.WithLogger(logger))
	if err != nil {
		return exitError(err)
	}
	if err := a.wire(ctx, c); err != nil {
		return exitError(err)
	}

	if cfg.Admin.Enabled {
		srv := admin.NewServer(c, adminConfig(cfg), logger)
		go func() {
			if err := srv.Run(ctx); err != nil {
				logger.Error("Admin server failed", zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), adminShutdownTimeout)
			defer cancel()
			if err := srv.Close(shutdownCtx); err != nil {
				logger.Warn("Admin server shutdown failed", zap.Error(err))
			}
		}()
		logger.Info("Admin server enabled", zap.String("addr", cfg.Admin.Addr))
	}

	runErr := c.Run(ctx)
	if err := a.flush(); err != nil {
		runErr = multierror.Append(runErr, err).ErrorOrNil()
	}

	report := c.Report()
	fields := []zap.Field{zap.String("run_id", report.RunID), zap.Duration("duration", report.Duration)}
	for _, r := range report.Roles {
		fields = append(fields,
			zap.Int64(r.Role.String()+"_processed", r.Processed),
			zap.Int64(r.Role.String()+"_failed", r.Failed))
	}
	logger.Info("Pipeline finished", fields...)

	if err := failedRun(report); err != nil {
		runErr = multierror.Append(runErr, err).ErrorOrNil()
	}
	return exitError(runErr)
}

func adminConfig(cfg *config.Config) admin.Config {
	ac := admin.DefaultConfig()
	ac.Addr = cfg.Admin.Addr
	ac.RateLimit.RequestsPerSecond = cfg.Admin.RateLimitRPS
	ac.RateLimit.Burst = cfg.Admin.RateLimitBurst
	ac.AllowedOrigins = cfg.Admin.AllowedOrigins
	ac.Development = cfg.Logging.Development
	return ac
}

// assembly owns the resources behind the stage hooks
type assembly struct {
	opts   options
	logger *zap.Logger

	db    *sql.DB
	jsonl *sink.JSONL
}

func (a *assembly) wire(ctx context.Context, c *pipeline.Coordinator) error {
	if a.opts.postgres != "" {
		db, err := sink.OpenPostgres(ctx, a.opts.postgres)
		if err != nil {
			return err
		}
		a.db = db
	}

	if err := a.wireSource(c); err != nil {
		return err
	}
	if err := a.wireTransform(c); err != nil {
		return err
	}
	return a.wireSinks(c)
}

func (a *assembly) wireSource(c *pipeline.Coordinator) error {
	if a.opts.query != "" {
		rows := source.NewRows(source.Query(a.db, a.opts.query))
		return c.OnStart(pipeline.RoleSource, rows.Start)
	}

	files, err := source.NewFiles(source.FilesConfig{
		Root:    a.opts.root,
		Pattern: a.opts.glob,
	}, a.logger)
	if err != nil {
		return usageError("%v", err)
	}
	return c.OnStart(pipeline.RoleSource, files.Start)
}

func (a *assembly) wireTransform(c *pipeline.Coordinator) error {
	var script *transform.Script
	if a.opts.script != "" {
		src, err := os.ReadFile(a.opts.script)
		if err != nil {
			return usageError("read script: %v", err)
		}
		script, err = transform.NewScript(transform.ScriptConfig{Source: string(src), Name: a.opts.script})
		if err != nil {
			return usageError("%v", err)
		}
		if err := c.OnStart(pipeline.RoleTransform, script.Start); err != nil {
			return err
		}
	}

	var handler pipeline.MessageHandler
	switch {
	case a.opts.root != "":
		docs, err := transform.NewDocuments(transform.DocumentsConfig{
			Selector: a.opts.selector,
			XPath:    a.opts.xpath,
			MaxText:  a.opts.maxText,
		})
		if err != nil {
			return usageError("%v", err)
		}
		handler = docs.Handle
		if script != nil {
			handler = thenScript(handler, script)
		}
	case script != nil:
		handler = script.Handle
	default:
		handler = passThrough
	}
	return c.OnMessage(pipeline.RoleTransform, handler)
}

func (a *assembly) wireSinks(c *pipeline.Coordinator) error {
	var handlers []pipeline.MessageHandler

	if a.opts.table != "" {
		pg, err := sink.NewPostgres(a.db, sink.PostgresConfig{
			Table:          a.opts.table,
			SkipDuplicates: a.opts.skipDuplicates,
		}, a.logger.Named("postgres"))
		if err != nil {
			return usageError("%v", err)
		}
		handlers = append(handlers, pg.Handle)
	}

	if a.opts.webhook != "" {
		hook, err := sink.NewWebhook(sink.DefaultWebhookConfig(a.opts.webhook), a.logger.Named("webhook"))
		if err != nil {
			return usageError("%v", err)
		}
		handlers = append(handlers, hook.Handle)
	}

	out := a.opts.out
	if out == "" && len(handlers) == 0 {
		out = "-"
	}
	if out != "" {
		j, err := sink.NewJSONL(out)
		if err != nil {
			return usageError("%v", err)
		}
		a.jsonl = j
		handlers = append(handlers, j.Handle)
	}

	return c.OnMessage(pipeline.RoleSink, fanOut(handlers))
}

func (a *assembly) flush() error {
	if a.jsonl == nil {
		return nil
	}
	return a.jsonl.Flush()
}

func (a *assembly) close() error {
	var result *multierror.Error
	if a.jsonl != nil {
		if err := a.jsonl.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

func passThrough(ctx context.Context, w *pipeline.Worker, msg *pipeline.Message) (any, error) {
	return msg, nil
}

// thenScript feeds the result of first to script as a plain JSON record
func thenScript(first pipeline.MessageHandler, script *transform.Script) pipeline.MessageHandler {
	return func(ctx context.Context, w *pipeline.Worker, msg *pipeline.Message) (any, error) {
		out, err := first(ctx, w, msg)
		if err != nil || out == nil {
			return out, err
		}
		record, err := toRecord(out)
		if err != nil {
			return nil, err
		}
		return script.Process(ctx, w, record)
	}
}

func toRecord(v any) (any, error) {
	data, err := sonic.ConfigStd.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	var record any
	if err := sonic.ConfigStd.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return record, nil
}

// fanOut delivers a message to every sink in order. Every sink is tried;
// failures are combined.
func fanOut(handlers []pipeline.MessageHandler) pipeline.MessageHandler {
	if len(handlers) == 1 {
		return handlers[0]
	}
	return func(ctx context.Context, w *pipeline.Worker, msg *pipeline.Message) (any, error) {
		var result *multierror.Error
		for _, h := range handlers {
			if _, err := h(ctx, w, msg); err != nil {
				if errors.Is(err, context.Canceled) {
					return nil, err
				}
				result = multierror.Append(result, err)
			}
		}
		return nil, result.ErrorOrNil()
	}
}
