package datastore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/openans/ansd/internal/errors"
	"github.com/openans/ansd/internal/logger"
	"github.com/openans/ansd/internal/observability/metrics"
)

// QueryMetrics receives one call per SQL statement.
// *metrics.DatastoreMetrics implements it.
type QueryMetrics interface {
	RecordQuery(dbType, operation, table, status string, duration time.Duration)
}

// queryLogger routes GORM output to the datastore logger. Statements are
// logged at trace level with their operation and table; failed and slow
// statements are logged at warn level and counted.
type queryLogger struct {
	log           logger.Logger
	dbType        string
	slowThreshold time.Duration
	metrics       QueryMetrics
}

var _ gormlogger.Interface = (*queryLogger)(nil)

func newQueryLogger(log logger.Logger, dbType string, slowThreshold time.Duration, m QueryMetrics) *queryLogger {
	return &queryLogger{log: log, dbType: dbType, slowThreshold: slowThreshold, metrics: m}
}

// LogMode is a no-op; levels come from the datastore module config.
func (q *queryLogger) LogMode(gormlogger.LogLevel) gormlogger.Interface { return q }

func (q *queryLogger) Info(_ context.Context, msg string, data ...any) {
	q.log.Debug(fmt.Sprintf(msg, data...))
}

func (q *queryLogger) Warn(_ context.Context, msg string, data ...any) {
	q.log.Warn(fmt.Sprintf(msg, data...))
}

func (q *queryLogger) Error(_ context.Context, msg string, data ...any) {
	q.log.Error(fmt.Sprintf(msg, data...))
}

func (q *queryLogger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	elapsed := time.Since(begin)
	sql, rows := fc()
	operation, table := statementTarget(sql)

	fields := []logger.Field{
		logger.String("operation", operation),
		logger.String("table", table),
		logger.Int64("rows_affected", rows),
		logger.Int64("duration_ms", elapsed.Milliseconds()),
	}

	status := metrics.QueryStatusOK
	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound):
		status = metrics.QueryStatusError
		q.log.Warn("Query failed", append(fields, logger.String("sql", sql), logger.Error(err))...)
	case q.slowThreshold > 0 && elapsed > q.slowThreshold:
		status = metrics.QueryStatusSlow
		q.log.Warn("Slow query", append(fields, logger.String("sql", sql), logger.Duration("threshold", q.slowThreshold))...)
	default:
		q.log.Trace("Query", append(fields, logger.String("sql", sql))...)
	}

	if q.metrics != nil {
		q.metrics.RecordQuery(q.dbType, operation, table, status, elapsed)
	}
}

// statementTarget extracts the lower-cased verb and the table a statement
// touches. Anything it cannot classify is reported as "other".
func statementTarget(sql string) (operation, table string) {
	words := strings.Fields(sql)
	if len(words) == 0 {
		return "other", "other"
	}

	operation = strings.ToLower(words[0])
	var marker string
	switch operation {
	case "select", "delete":
		marker = "from"
	case "insert", "replace":
		marker = "into"
	case "update":
		if len(words) > 1 {
			return operation, cleanTableName(words[1])
		}
		return operation, "other"
	case "create", "alter", "drop":
		marker = "table"
	default:
		return "other", "other"
	}

	for i := 1; i < len(words)-1; i++ {
		if strings.EqualFold(words[i], marker) {
			next := words[i+1]
			// CREATE TABLE IF NOT EXISTS name
			if strings.EqualFold(next, "if") && i+4 < len(words) {
				next = words[i+4]
			}
			return operation, cleanTableName(next)
		}
	}
	return operation, "other"
}

func cleanTableName(s string) string {
	s = strings.Trim(s, "`\"'()")
	if i := strings.LastIndexByte(s, '.'); i >= 0 {
		s = s[i+1:]
	}
	s = strings.Trim(s, "`\"")
	if s == "" {
		return "other"
	}
	return s
}
