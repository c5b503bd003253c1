// Package logutil wraps zap with the same named call sites ape-dts's
// log_info!/log_error!/log_monitor!/log_position! macros give the Rust
// source, so pipeline code reads the same while emitting structured zap
// fields instead of interpolated strings. Styled after
// github.com/pingcap/log's package-level Info/Warn/Error helpers, which
// the teacher already pulls in transitively through go-mysql-org/go-mysql.
package logutil

import (
	"go.uber.org/zap"
)

var base *zap.Logger

func init() {
	l, err := zap.NewProduction()
	if err != nil {
		l = zap.NewNop()
	}
	base = l
}

// Init replaces the package logger, used by cmd/dflowd to install a
// configured logger (level, output paths) before running the pipeline.
func Init(l *zap.Logger) {
	base = l
}

func Sync() { _ = base.Sync() }

func Info(msg string, fields ...zap.Field)  { base.Info(msg, fields...) }
func Warn(msg string, fields ...zap.Field)  { base.Warn(msg, fields...) }
func Error(msg string, fields ...zap.Field) { base.Error(msg, fields...) }
func Debug(msg string, fields ...zap.Field) { base.Debug(msg, fields...) }

// Monitor logs a counter/TPS snapshot line, the equivalent of ape-dts's
// log_monitor! call sites in dt-pipeline and the parallelizers.
func Monitor(name string, fields ...zap.Field) {
	base.Info("monitor: "+name, fields...)
}

// Position logs a checkpoint advance, the equivalent of log_position!.
func Position(text string) {
	base.Info("position", zap.String("position", text))
}

// Received logs the last position pulled off the extractor's buffer,
// independent of when it was last committed to the syncer — spec.md
// §4.1 step 4's last_received_position, tracked separately from the
// checkpointed commit position.
func Received(text string) {
	base.Debug("received", zap.String("position", text))
}
