package logger

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu     sync.Mutex
	logger *zap.SugaredLogger
)

type Logger struct {
	*zap.SugaredLogger
}

func GetLogger() Logger {
	mu.Lock()
	defer mu.Unlock()

	if logger == nil {
		zaplog, _ := zap.NewDevelopment()
		logger = zaplog.Sugar()
	}

	return Logger{SugaredLogger: logger}
}

// Configure replaces the process logger. level is a zap level name
// ("debug", "info", ...); an empty level keeps the config's default.
func Configure(level string, development bool) error {
	cfg := zap.NewProductionConfig()
	if development {
		cfg = zap.NewDevelopmentConfig()
	}

	if level != "" {
		var lvl zapcore.Level
		if err := lvl.UnmarshalText([]byte(level)); err != nil {
			return err
		}
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}

	zaplog, err := cfg.Build()
	if err != nil {
		return err
	}

	mu.Lock()
	logger = zaplog.Sugar()
	mu.Unlock()

	return nil
}

// Nop returns a logger that discards everything, for tests.
func Nop() Logger {
	return Logger{SugaredLogger: zap.NewNop().Sugar()}
}

func (l Logger) Named(name string) Logger {
	return Logger{SugaredLogger: l.SugaredLogger.Named(name)}
}
