package publish

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/companyatlas/atlas/pkg/errors"
	"github.com/companyatlas/atlas/pkg/models"
)

// postgresColumnTypes maps published columns to their Postgres types.
var postgresColumnTypes = map[string]string{
	"company_id":         "TEXT PRIMARY KEY",
	"company_name":       "TEXT NOT NULL",
	"ticker":             "TEXT",
	"industry":           "TEXT",
	"country":            "TEXT",
	"headquarters_city":  "TEXT",
	"headquarters_state": "TEXT",
	"ceo":                "TEXT",
	"founded_year":       "BIGINT",
	"website":            "TEXT",
	"employee_count":     "BIGINT",
	"revenue":            "DOUBLE PRECISION",
	"fortune_rank":       "BIGINT",
	"source_system":      "TEXT",
	"last_updated_at":    "TIMESTAMPTZ",
}

// PostgresPublisher publishes the marts table to PostgreSQL. It loads the new
// rows into a staging table and swaps it in with a drop-and-rename inside one
// transaction, so concurrent readers never see a partially loaded table.
type PostgresPublisher struct {
	pool   *pgxpool.Pool
	table  string
	logger *zap.Logger
}

// NewPostgresPublisher connects to PostgreSQL and prepares a publisher for
// the given table name.
func NewPostgresPublisher(ctx context.Context, connString, table string, logger *zap.Logger) (*PostgresPublisher, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to create postgres pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "postgres unreachable")
	}
	return &PostgresPublisher{
		pool:   pool,
		table:  table,
		logger: logger.With(zap.String("component", "postgres_publisher"), zap.String("table", table)),
	}, nil
}

// Publish replaces the published table with the given rows.
func (p *PostgresPublisher) Publish(ctx context.Context, records []*models.UnifiedRecord) error {
	staging := p.table + "_staging"

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeTransient, "failed to begin publish transaction")
	}
	defer tx.Rollback(ctx)

	ddl := make([]string, len(Columns))
	for i, col := range Columns {
		ddl[i] = col + " " + postgresColumnTypes[col]
	}
	stmts := []string{
		fmt.Sprintf("DROP TABLE IF EXISTS %s", staging),
		fmt.Sprintf("CREATE TABLE %s (%s)", staging, strings.Join(ddl, ", ")),
	}
	for _, stmt := range stmts {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return errors.Wrap(err, errors.ErrorTypeTransient, "failed to prepare staging table").
				WithDetail("statement", stmt)
		}
	}

	rows := make([][]interface{}, len(records))
	for i, rec := range records {
		rows[i] = RowValues(rec)
	}
	copied, err := tx.CopyFrom(ctx, pgx.Identifier{staging}, Columns, pgx.CopyFromRows(rows))
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeTransient, "failed to load staging table")
	}
	if copied != int64(len(records)) {
		return errors.Newf(errors.ErrorTypeDataIntegrity, "staging load wrote %d of %d rows", copied, len(records))
	}

	// The swap itself: drop the old table and rename staging into place.
	// Both statements commit together or not at all.
	swap := []string{
		fmt.Sprintf("DROP TABLE IF EXISTS %s", p.table),
		fmt.Sprintf("ALTER TABLE %s RENAME TO %s", staging, p.table),
	}
	for _, stmt := range swap {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return errors.Wrap(err, errors.ErrorTypeTransient, "failed to swap published table").
				WithDetail("statement", stmt)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, errors.ErrorTypeTransient, "failed to commit publish")
	}

	p.logger.Info("marts table published", zap.Int("rows", len(records)))
	return nil
}

// Close releases the connection pool.
func (p *PostgresPublisher) Close() {
	p.pool.Close()
}
