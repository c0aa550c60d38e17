package source

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/assemblyline/internal/pipeline"
	"github.com/GriffinCanCode/assemblyline/internal/stages"
)

// RowIterator is the subset of *sql.Rows read by the rows source
type RowIterator interface {
	Columns() ([]string, error)
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}

// QueryFunc runs the source query
type QueryFunc func(ctx context.Context) (RowIterator, error)

// Query returns a QueryFunc running query against db
func Query(db *sql.DB, query string, args ...any) QueryFunc {
	return func(ctx context.Context) (RowIterator, error) {
		rows, err := db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, err
		}
		return rows, nil
	}
}

// Rows emits every row of a query as a stages.Row keyed by column name
type Rows struct {
	query QueryFunc
}

// NewRows creates the source
func NewRows(query QueryFunc) *Rows {
	return &Rows{query: query}
}

// Scan runs the query and calls emit for each row. Byte slices are returned
// as strings.
func (r *Rows) Scan(ctx context.Context, emit func(stages.Row) error) (int, error) {
	rows, err := r.query(ctx)
	if err != nil {
		return 0, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return 0, fmt.Errorf("columns: %w", err)
	}

	n := 0
	values := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return n, fmt.Errorf("scan row %d: %w", n, err)
		}

		row := make(stages.Row, len(cols))
		for i, col := range cols {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = values[i]
			}
		}
		if err := emit(row); err != nil {
			return n, err
		}
		n++
	}
	if err := rows.Err(); err != nil {
		return n, fmt.Errorf("iterate rows: %w", err)
	}
	return n, nil
}

// Start is the source start hook. The query runs on the first source
// worker only; other slots finish immediately so each row is sent once.
func (r *Rows) Start(ctx context.Context, w *pipeline.Worker) error {
	if w.PoolIndex() > 0 {
		w.Logger().Debug("Query runs on slot 0, nothing to send")
		return nil
	}
	n, err := r.Scan(ctx, func(row stages.Row) error {
		return w.Send(ctx, row)
	})
	if err != nil {
		return err
	}
	w.Logger().Info("Query complete", zap.Int("rows", n))
	return nil
}
