package sink

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/bytedance/sonic"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/assemblyline/internal/pipeline"
	"github.com/GriffinCanCode/assemblyline/internal/stages"
)

// Execer is the subset of *sql.DB used by the Postgres sink
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// PostgresConfig configures the Postgres sink
type PostgresConfig struct {
	// Table may be schema qualified
	Table string
	// Columns fixes the inserted columns. When empty every key of the record
	// is inserted.
	Columns []string
	// SkipDuplicates ignores unique violations instead of failing the message
	SkipDuplicates bool
}

// Postgres inserts every record as one row
type Postgres struct {
	db     Execer
	cfg    PostgresConfig
	table  string
	logger *zap.Logger

	mu      sync.RWMutex
	queries map[string]string

	inserted atomic.Int64
	skipped  atomic.Int64
}

// OpenPostgres opens and pings a database
func OpenPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// NewPostgres creates the sink
func NewPostgres(db Execer, cfg PostgresConfig, logger *zap.Logger) (*Postgres, error) {
	if db == nil {
		return nil, errors.New("postgres sink: database required")
	}
	table, err := quoteTable(cfg.Table)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Postgres{
		db:      db,
		cfg:     cfg,
		table:   table,
		logger:  logger,
		queries: make(map[string]string),
	}, nil
}

func quoteTable(table string) (string, error) {
	if table == "" {
		return "", errors.New("postgres sink: table required")
	}
	parts := strings.Split(table, ".")
	if len(parts) > 2 {
		return "", fmt.Errorf("postgres sink: invalid table %q", table)
	}
	for i, p := range parts {
		if p == "" {
			return "", fmt.Errorf("postgres sink: invalid table %q", table)
		}
		parts[i] = pq.QuoteIdentifier(p)
	}
	return strings.Join(parts, "."), nil
}

// Insert writes row. Nested values are stored as JSON text.
func (p *Postgres) Insert(ctx context.Context, row stages.Row) error {
	cols := p.cfg.Columns
	if len(cols) == 0 {
		cols = make([]string, 0, len(row))
		for k := range row {
			cols = append(cols, k)
		}
		sort.Strings(cols)
	}
	if len(cols) == 0 {
		return errors.New("insert: empty row")
	}

	args := make([]any, len(cols))
	for i, c := range cols {
		v, err := columnValue(row[c])
		if err != nil {
			return fmt.Errorf("insert column %s: %w", c, err)
		}
		args[i] = v
	}

	if _, err := p.db.ExecContext(ctx, p.query(cols), args...); err != nil {
		if p.cfg.SkipDuplicates && isUniqueViolation(err) {
			p.skipped.Add(1)
			p.logger.Debug("Skipping duplicate row", zap.Error(err))
			return nil
		}
		return fmt.Errorf("insert into %s: %w", p.cfg.Table, err)
	}
	p.inserted.Add(1)
	return nil
}

func (p *Postgres) query(cols []string) string {
	key := strings.Join(cols, "\x00")

	p.mu.RLock()
	q, ok := p.queries[key]
	p.mu.RUnlock()
	if ok {
		return q
	}

	q = insertQuery(p.table, cols)
	p.mu.Lock()
	p.queries[key] = q
	p.mu.Unlock()
	return q
}

func insertQuery(table string, cols []string) string {
	quoted := make([]string, len(cols))
	params := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pq.QuoteIdentifier(c)
		params[i] = fmt.Sprintf("$%d", i+1)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table, strings.Join(quoted, ", "), strings.Join(params, ", "))
}

func columnValue(v any) (any, error) {
	switch v.(type) {
	case map[string]any, []any, stages.Row:
		data, err := sonic.ConfigStd.Marshal(v)
		if err != nil {
			return nil, err
		}
		return string(data), nil
	default:
		return v, nil
	}
}

func isUniqueViolation(err error) bool {
	var pgErr *pq.Error
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code.Name() == "unique_violation"
}

// Inserted returns the number of rows inserted
func (p *Postgres) Inserted() int64 {
	return p.inserted.Load()
}

// Skipped returns the number of duplicate rows skipped
func (p *Postgres) Skipped() int64 {
	return p.skipped.Load()
}

// Handle is the sink message hook. The payload must be a JSON object.
func (p *Postgres) Handle(ctx context.Context, w *pipeline.Worker, msg *pipeline.Message) (any, error) {
	var row stages.Row
	if err := msg.Decode(&row); err != nil {
		return nil, err
	}
	return nil, p.Insert(ctx, row)
}
