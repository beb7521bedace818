// Package log provides structured logging for uemu32 using zap.
package log

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps zap.Logger with uemu32-specific helpers.
type Logger struct {
	*zap.Logger
	onStep func(eip uint32, name string) // per-instruction callback for tracing/debugger UIs
}

var (
	// L is the global logger instance.
	L    *Logger
	once sync.Once
)

// Init initializes the global logger with the given configuration.
// Safe to call multiple times; only the first call takes effect.
func Init(debug bool) {
	once.Do(func() {
		L = New(debug)
	})
}

// New creates a new Logger instance.
func New(debug bool) *Logger {
	var cfg zap.Config
	if debug {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	}

	// Shorter timestamps in development
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		// Fallback to no-op if config fails
		logger = zap.NewNop()
	}

	return &Logger{Logger: logger}
}

// NewNop creates a no-op logger for testing.
func NewNop() *Logger {
	return &Logger{Logger: zap.NewNop()}
}

// NewLevel builds a Logger at the named level ("debug", "info", "warn",
// "error", ...; anything unrecognized falls back to warn), for
// config.Config.TraceLevel-driven verbosity when --trace isn't passed to
// force debug output outright.
func NewLevel(level string) *Logger {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zap.WarnLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	logger, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		logger = zap.NewNop()
	}
	return &Logger{Logger: logger}
}

// SetOnStep sets the per-instruction callback the run loop invokes after
// every successful Step, for --trace output or the debugger's instruction
// feed.
func (l *Logger) SetOnStep(fn func(eip uint32, name string)) {
	l.onStep = fn
}

// Step logs one executed instruction at debug level and calls the step
// callback if set. This is the primary method the run loop uses per §4.7.
func (l *Logger) Step(eip uint32, name string, bytesConsumed uint32) {
	if l.onStep != nil {
		l.onStep(eip, name)
	}
	l.Debug("step",
		Addr(uint64(eip)),
		zap.String("op", name),
		zap.Uint32("len", bytesConsumed),
	)
}

// Fault logs a sticky MMU error surfaced by the run loop.
func (l *Logger) Fault(eip uint32, errno string, desc string) {
	l.Warn("fault",
		Addr(uint64(eip)),
		zap.String("errno", errno),
		zap.String("desc", desc),
	)
}

// Breakpoint logs a breakpoint hit, with its optional condition.
func (l *Logger) Breakpoint(eip uint32, cond string) {
	l.Info("breakpoint",
		Addr(uint64(eip)),
		zap.String("cond", cond),
	)
}

// CallEnter logs a CALL's call-trace push (name may be empty if the target
// resolved to no known symbol).
func (l *Logger) CallEnter(target, returnAddr uint32, name string) {
	l.Debug("call",
		Addr(uint64(target)),
		zap.String("fn", name),
		Ptr("ret", uint64(returnAddr)),
	)
}

// WithCategory returns a logger with the category field preset.
func (l *Logger) WithCategory(category string) *Logger {
	return &Logger{
		Logger: l.Logger.With(zap.String("cat", category)),
		onStep: l.onStep,
	}
}

// WithSession returns a logger tagged with a session id, so every line from
// one `uemu32 run` invocation can be correlated in aggregated logs.
func (l *Logger) WithSession(id string) *Logger {
	return &Logger{
		Logger: l.Logger.With(zap.String("session", id)),
		onStep: l.onStep,
	}
}

// Hex formats a uint64 as hex string for logging.
func Hex(addr uint64) string {
	return "0x" + hexString(addr)
}

func hexString(v uint64) string {
	const digits = "0123456789abcdef"
	if v == 0 {
		return "0"
	}
	buf := make([]byte, 16)
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = digits[v&0xf]
		v >>= 4
	}
	return string(buf[i:])
}

// Field helpers for common patterns.

// Addr creates an address field.
func Addr(addr uint64) zap.Field {
	return zap.String("addr", Hex(addr))
}

// Size creates a size field.
func Size(size uint64) zap.Field {
	return zap.Uint64("size", size)
}

// Ptr creates a pointer field.
func Ptr(name string, ptr uint64) zap.Field {
	return zap.String(name, Hex(ptr))
}

// Fn creates a function name field.
func Fn(name string) zap.Field {
	return zap.String("fn", name)
}
