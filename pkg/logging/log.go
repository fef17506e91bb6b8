package logging

import (
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"
)

var (
	logger  *zap.Logger
	sugared *zap.SugaredLogger
	level   = zap.NewAtomicLevelAt(zapcore.InfoLevel)
)

func init() {
	DevelopmentMode()
}

// SetLevel adjusts the level of the loggers.
func SetLevel(l zapcore.Level) {
	level.SetLevel(l)
}

// Level returns the current level of the loggers.
func Level() zapcore.Level {
	return level.Level()
}

// ConsoleMode switches logging output to TTY mode. Timestamps are printed as
// the time elapsed since the process switched to console mode, which makes
// round durations easy to read off a coordinator or worker log.
func ConsoleMode() {
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = level
	cfg.DisableCaller = true
	cfg.DisableStacktrace = true
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	cfg.EncoderConfig.EncodeTime = func() zapcore.TimeEncoder {
		// close over the start time to protect it.
		start := time.Now()
		return func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
			elapsed := t.Sub(start)
			enc.AppendString(strconv.FormatFloat(elapsed.Seconds(), 'f', 5, 64) + "s")
		}
	}()

	build(cfg)
}

// DevelopmentMode switches logging output to development mode.
func DevelopmentMode() {
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = level

	build(cfg)
}

func build(cfg zap.Config) {
	l, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	logger, sugared = l, l.Sugar()
}

// L returns the global raw logger.
func L() *zap.Logger {
	return logger
}

// S returns the global sugared logger.
func S() *zap.SugaredLogger {
	return sugared
}

// IsTerminal returns true if stdout is attached to a terminal.
func IsTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}
