package log

import (
	"os"

	"github.com/natefinch/lumberjack"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config controls where and how verbosely relaydns logs.
type Config struct {
	File       string // log file path, empty means no file sink
	Verbose    bool   // lowers level to debug
	MaxAge     int    // days to keep rotated files
	MaxSize    int    // megabytes per file before rotation
	MaxBackups int    // rotated files to keep
}

var (
	Logger *zap.Logger
	Sugar  *zap.SugaredLogger
)

// Init wires up the proxy's logger: progress/debug lines go to stdout, error
// and warning lines go to stderr (spec.md §6), and everything also lands in
// the rotated file when config.File is set.
func Init(config Config) error {

	level := zapcore.InfoLevel
	if config.Verbose {
		level = zapcore.DebugLevel
	}

	cfg := zapcore.EncoderConfig{
		TimeKey:        "T",
		LevelKey:       "L",
		NameKey:        "N",
		CallerKey:      "C",
		MessageKey:     "M",
		StacktraceKey:  "S",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
		EncodeName:     zapcore.FullNameEncoder,
	}
	enc := zapcore.NewConsoleEncoder(cfg)

	isProgress := zap.LevelEnablerFunc(func(l zapcore.Level) bool { return l < zapcore.WarnLevel })
	isError := zap.LevelEnablerFunc(func(l zapcore.Level) bool { return l >= zapcore.WarnLevel })

	cores := []zapcore.Core{
		zapcore.NewCore(enc, zapcore.Lock(os.Stdout), andAbove(level, isProgress)),
		zapcore.NewCore(enc, zapcore.Lock(os.Stderr), andAbove(level, isError)),
	}

	if len(config.File) > 0 {
		hook := lumberjack.Logger{
			Filename:   config.File,
			MaxSize:    config.MaxSize,
			MaxAge:     config.MaxAge,
			MaxBackups: config.MaxBackups,
			LocalTime:  false,
		}
		cores = append(cores, zapcore.NewCore(enc, zapcore.AddSync(&hook), level))
	}

	Logger = zap.New(zapcore.NewTee(cores...), zap.AddCaller())
	Sugar = Logger.Sugar()

	return nil
}

func andAbove(min zapcore.Level, and zap.LevelEnablerFunc) zap.LevelEnablerFunc {
	return func(l zapcore.Level) bool {
		return l >= min && and(l)
	}
}
