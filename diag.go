package stackz

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// diagnostics is the channel every integrity violation is downgraded
// to. The warn-level check is evaluated once at construction so the
// hot path skips field construction entirely when warnings are off,
// and skips everything when the logger is a nop.
type diagnostics struct {
	log  *zap.Logger
	warn bool
}

func newDiagnostics(log *zap.Logger) diagnostics {
	return diagnostics{
		log:  log,
		warn: log.Core().Enabled(zapcore.WarnLevel),
	}
}

func (d diagnostics) warnf(msg string, fields ...zap.Field) {
	if d.warn {
		d.log.Warn(msg, fields...)
	}
}
