package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const (
	slowQuery    = 250 * time.Millisecond
	maxSQLLogLen = 200
)

var gormLevels = map[string]gormlogger.LogLevel{
	"silent": gormlogger.Silent,
	"error":  gormlogger.Error,
	"warn":   gormlogger.Warn,
	"info":   gormlogger.Info,
}

// gormLogger routes GORM's output to slog. A missing session row is a
// lookup miss, not a failure, and is not logged.
type gormLogger struct {
	logger *slog.Logger
	level  gormlogger.LogLevel
}

func newGormLogger(logger *slog.Logger, level string) *gormLogger {
	l, ok := gormLevels[level]
	if !ok {
		l = gormlogger.Warn
	}
	return &gormLogger{logger: logger, level: l}
}

func (l *gormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	return &gormLogger{logger: l.logger, level: level}
}

func (l *gormLogger) Info(ctx context.Context, msg string, args ...any) {
	l.printf(ctx, gormlogger.Info, slog.LevelInfo, msg, args)
}

func (l *gormLogger) Warn(ctx context.Context, msg string, args ...any) {
	l.printf(ctx, gormlogger.Warn, slog.LevelWarn, msg, args)
}

func (l *gormLogger) Error(ctx context.Context, msg string, args ...any) {
	l.printf(ctx, gormlogger.Error, slog.LevelError, msg, args)
}

func (l *gormLogger) printf(ctx context.Context, threshold gormlogger.LogLevel, level slog.Level, msg string, args []any) {
	if l.level >= threshold {
		l.logger.Log(ctx, level, fmt.Sprintf(msg, args...))
	}
}

func (l *gormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= gormlogger.Silent {
		return
	}
	elapsed := time.Since(begin)

	var (
		msg   string
		level slog.Level
		attrs []slog.Attr
	)
	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound):
		if l.level < gormlogger.Error {
			return
		}
		msg, level = "session store query failed", slog.LevelError
		attrs = append(attrs, slog.String("error", err.Error()))
	case elapsed > slowQuery:
		if l.level < gormlogger.Warn {
			return
		}
		msg, level = "slow session store query", slog.LevelWarn
	default:
		if l.level < gormlogger.Info || !l.logger.Enabled(ctx, slog.LevelDebug) {
			return
		}
		msg, level = "session store query", slog.LevelDebug
	}

	sql, rows := fc()
	attrs = append(attrs,
		slog.String("sql", truncateSQL(sql)),
		slog.Int64("rows", rows),
		slog.Duration("elapsed", elapsed),
	)
	l.logger.LogAttrs(ctx, level, msg, attrs...)
}

func truncateSQL(sql string) string {
	if len(sql) <= maxSQLLogLen {
		return sql
	}
	return sql[:maxSQLLogLen] + "..."
}
