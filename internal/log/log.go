// Package log provides the module-scoped logger used throughout al-hafiz,
// mirroring the teacher's log.NewModuleLogger(module) factory.
package log

import (
	"os"
	"sync"

	"github.com/fatih/color"
	"github.com/mattn/go-colorable"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Module identifies the subsystem emitting a log line, used as a static
// "module" field the way the teacher tags loggers with log.StorageDatabase,
// log.ChainDataFetcher, etc.
type Module string

const (
	Watcher     Module = "watcher"
	Analyzer    Module = "analyzer"
	RPCPool     Module = "rpcpool"
	Fetcher     Module = "fetcher"
	Transfer    Module = "transfer"
	Crawl       Module = "crawl"
	Handler     Module = "handler"
	Queue       Module = "queue"
	Storage     Module = "storage"
	Broker      Module = "broker"
	Subscriber  Module = "subscriber"
	Supervisor  Module = "supervisor"
	Metrics     Module = "metrics"
	AdminHTTP   Module = "adminhttp"
	Migrate     Module = "migrate"
)

var (
	base  *zap.Logger
	level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	mu    sync.Mutex
)

func init() {
	base = newBase()
}

func newBase() *zap.Logger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder

	var writer zapcore.WriteSyncer
	if isatty() {
		writer = zapcore.AddSync(colorable.NewColorableStdout())
	} else {
		color.NoColor = true
		writer = zapcore.AddSync(os.Stdout)
	}

	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), writer, level)
	return zap.New(core)
}

func isatty() bool {
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) != 0
}

// SetLevel adjusts the global minimum level at process start, driven by the
// RUST_LOG-equivalent directive named in spec §6.
func SetLevel(directive string) {
	mu.Lock()
	defer mu.Unlock()
	lvl := zapcore.InfoLevel
	switch directive {
	case "debug", "trace":
		lvl = zapcore.DebugLevel
	case "warn":
		lvl = zapcore.WarnLevel
	case "error":
		lvl = zapcore.ErrorLevel
	}
	level.SetLevel(lvl)
}

// Logger is the sugared, module-tagged logger handed out to every package.
type Logger struct {
	z *zap.SugaredLogger
}

// NewModuleLogger mirrors the teacher's `log.NewModuleLogger(log.X)` idiom:
// one package-level `var logger = log.NewModuleLogger(log.Foo)` per file.
func NewModuleLogger(module Module) *Logger {
	mu.Lock()
	b := base
	mu.Unlock()
	return &Logger{z: b.Sugar().With("module", string(module))}
}

func (l *Logger) Debug(msg string, kv ...interface{}) { l.z.Debugw(msg, kv...) }
func (l *Logger) Info(msg string, kv ...interface{})  { l.z.Infow(msg, kv...) }
func (l *Logger) Warn(msg string, kv ...interface{})  { l.z.Warnw(msg, kv...) }
func (l *Logger) Error(msg string, kv ...interface{}) { l.z.Errorw(msg, kv...) }
func (l *Logger) Crit(msg string, kv ...interface{}) {
	l.z.Errorw(msg, kv...)
	os.Exit(1)
}
