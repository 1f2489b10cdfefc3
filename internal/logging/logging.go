// Package logging owns the process-wide logger. Packages dot-import it and
// call L_info, L_warn and friends without carrying a logger around.
package logging

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// Named log levels, most verbose last.
const (
	LevelFatal = "fatal"
	LevelError = "error"
	LevelWarn  = "warn"
	LevelInfo  = "info"
	LevelDebug = "debug"
	LevelTrace = "trace"
)

var (
	logger *log.Logger
	once   sync.Once
)

// Config selects level and output decoration.
type Config struct {
	Level      string `json:"level"`
	TimeFormat string `json:"timeFormat"`
	ShowCaller bool   `json:"showCaller"`
}

// DefaultConfig logs info and above with short timestamps.
func DefaultConfig() *Config {
	return &Config{
		Level:      LevelInfo,
		TimeFormat: "15:04:05",
		ShowCaller: true,
	}
}

// Init sets up the global logger once; later calls are no-ops. Passing nil
// means defaults.
func Init(cfg *Config) {
	once.Do(func() {
		if cfg == nil {
			cfg = DefaultConfig()
		}

		logger = log.NewWithOptions(os.Stderr, log.Options{
			ReportTimestamp: true,
			TimeFormat:      cfg.TimeFormat,
			ReportCaller:    cfg.ShowCaller,
			// The reported caller must be whoever called L_*, which sits
			// two frames above the underlying logger call.
			CallerOffset: 2,
		})

		logger.SetLevel(parseLevel(cfg.Level))
	})
}

func ensureInit() {
	if logger == nil {
		Init(nil)
	}
}

// SetLevel changes the level at runtime, for the loglevel console command.
func SetLevel(level string) {
	ensureInit()
	logger.SetLevel(parseLevel(level))
}

// parseLevel maps our named levels onto charmbracelet levels. Trace has no
// charmbracelet counterpart and collapses into debug.
func parseLevel(level string) log.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case LevelTrace, LevelDebug:
		return log.DebugLevel
	case LevelWarn:
		return log.WarnLevel
	case LevelError, LevelFatal:
		return log.ErrorLevel
	default:
		return log.InfoLevel
	}
}

// formatVerbs are the printf verbs that flip a message into Sprintf mode.
const formatVerbs = "vsdtfgeopqxXbcUT+#"

// looksFormatted reports whether msg contains a printf verb. Escaped %%
// does not count.
func looksFormatted(msg string) bool {
	for {
		i := strings.IndexByte(msg, '%')
		if i < 0 || i == len(msg)-1 {
			return false
		}
		if c := msg[i+1]; c != '%' && strings.IndexByte(formatVerbs, c) >= 0 {
			return true
		}
		msg = msg[i+2:]
	}
}

// emit accepts the three call shapes the L_* helpers take:
//
//	L_info("plain message")
//	L_info("found %d rows", n)            printf when the message has verbs
//	L_info("loaded", "path", p, "n", n)   key-value pairs otherwise
//
// Formatting happens here rather than through the logger's *f variants so
// both shapes report the caller from the same stack depth.
func emit(level log.Level, msg string, args []any) {
	ensureInit()

	keyvals := args
	if len(args) > 0 && looksFormatted(msg) {
		msg = fmt.Sprintf(msg, args...)
		keyvals = nil
	}

	switch level {
	case log.DebugLevel:
		logger.Debug(msg, keyvals...)
	case log.InfoLevel:
		logger.Info(msg, keyvals...)
	case log.WarnLevel:
		logger.Warn(msg, keyvals...)
	case log.ErrorLevel:
		logger.Error(msg, keyvals...)
	case log.FatalLevel:
		logger.Fatal(msg, keyvals...)
	}
}

// L_trace logs at trace level, which renders as debug.
func L_trace(msg string, args ...any) {
	emit(log.DebugLevel, msg, args)
}

// L_debug logs at debug level.
func L_debug(msg string, args ...any) {
	emit(log.DebugLevel, msg, args)
}

// L_info logs at info level.
func L_info(msg string, args ...any) {
	emit(log.InfoLevel, msg, args)
}

// L_warn logs at warn level.
func L_warn(msg string, args ...any) {
	emit(log.WarnLevel, msg, args)
}

// L_error logs at error level.
func L_error(msg string, args ...any) {
	emit(log.ErrorLevel, msg, args)
}

// L_fatal logs at fatal level and exits the process.
func L_fatal(msg string, args ...any) {
	emit(log.FatalLevel, msg, args)
}

// L_elapsed logs at debug level with the time since start appended. Used by
// the watchdog handler instrumentation, where per-handler timings are wanted
// but would drown info-level output.
func L_elapsed(start time.Time, msg string, args ...any) {
	emit(log.DebugLevel, msg, append(args, "elapsed", time.Since(start).String()))
}
