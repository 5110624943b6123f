package publish

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/snowflakedb/gosnowflake"
	"go.uber.org/zap"

	"github.com/companyatlas/atlas/pkg/errors"
	"github.com/companyatlas/atlas/pkg/models"
)

// snowflakeColumnTypes maps published columns to their Snowflake types.
var snowflakeColumnTypes = map[string]string{
	"company_id":         "VARCHAR NOT NULL",
	"company_name":       "VARCHAR NOT NULL",
	"ticker":             "VARCHAR",
	"industry":           "VARCHAR",
	"country":            "VARCHAR",
	"headquarters_city":  "VARCHAR",
	"headquarters_state": "VARCHAR",
	"ceo":                "VARCHAR",
	"founded_year":       "NUMBER",
	"website":            "VARCHAR",
	"employee_count":     "NUMBER",
	"revenue":            "DOUBLE",
	"fortune_rank":       "NUMBER",
	"source_system":      "VARCHAR",
	"last_updated_at":    "TIMESTAMP_TZ",
}

// SnowflakePublisher publishes the marts table to Snowflake. It fills a
// staging table and exchanges it for the live one with ALTER TABLE SWAP WITH,
// a metadata-only operation that is atomic on the warehouse side.
type SnowflakePublisher struct {
	db        *sql.DB
	table     string
	batchSize int
	logger    *zap.Logger
}

// NewSnowflakePublisher opens a Snowflake connection for the given table.
// dsn uses the gosnowflake format (user:pass@account/db/schema?warehouse=wh).
func NewSnowflakePublisher(dsn, table string, logger *zap.Logger) (*SnowflakePublisher, error) {
	db, err := sql.Open("snowflake", dsn)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to open snowflake connection")
	}
	return &SnowflakePublisher{
		db:        db,
		table:     table,
		batchSize: 1000,
		logger:    logger.With(zap.String("component", "snowflake_publisher"), zap.String("table", table)),
	}, nil
}

// Publish replaces the published table with the given rows.
func (p *SnowflakePublisher) Publish(ctx context.Context, records []*models.UnifiedRecord) error {
	staging := p.table + "_STAGING"

	ddl := make([]string, len(Columns))
	for i, col := range Columns {
		ddl[i] = col + " " + snowflakeColumnTypes[col]
	}
	prepare := []string{
		fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", p.table, strings.Join(ddl, ", ")),
		fmt.Sprintf("CREATE OR REPLACE TABLE %s (%s)", staging, strings.Join(ddl, ", ")),
	}
	for _, stmt := range prepare {
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, errors.ErrorTypeTransient, "failed to prepare staging table").
				WithDetail("statement", stmt)
		}
	}

	if err := p.loadStaging(ctx, staging, records); err != nil {
		return err
	}

	swap := fmt.Sprintf("ALTER TABLE %s SWAP WITH %s", staging, p.table)
	if _, err := p.db.ExecContext(ctx, swap); err != nil {
		return errors.Wrap(err, errors.ErrorTypeTransient, "failed to swap published table")
	}
	// The old rows now live in the staging name; drop them.
	if _, err := p.db.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", staging)); err != nil {
		p.logger.Warn("failed to drop retired staging table", zap.Error(err))
	}

	p.logger.Info("marts table published", zap.Int("rows", len(records)))
	return nil
}

// loadStaging inserts rows in bound batches. Volume here is thousands of
// companies, not millions of events, so multi-row INSERT beats a PUT/COPY
// round-trip through an internal stage.
func (p *SnowflakePublisher) loadStaging(ctx context.Context, staging string, records []*models.UnifiedRecord) error {
	placeholders := "(" + strings.TrimSuffix(strings.Repeat("?,", len(Columns)), ",") + ")"

	for start := 0; start < len(records); start += p.batchSize {
		end := start + p.batchSize
		if end > len(records) {
			end = len(records)
		}
		batch := records[start:end]

		var args []interface{}
		rows := make([]string, len(batch))
		for i, rec := range batch {
			rows[i] = placeholders
			args = append(args, RowValues(rec)...)
		}

		stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s",
			staging, strings.Join(Columns, ", "), strings.Join(rows, ", "))
		if _, err := p.db.ExecContext(ctx, stmt, args...); err != nil {
			return errors.Wrap(err, errors.ErrorTypeTransient, "failed to load staging batch").
				WithDetail("offset", start)
		}
	}
	return nil
}

// Close releases the connection.
func (p *SnowflakePublisher) Close() error {
	return p.db.Close()
}
