package cli

import (
	"os"
	"path/filepath"
	"sync"

	cli "github.com/peterebden/go-cli-init/v5/logging"
	"github.com/peterebden/go-deferred-regex"
	"golang.org/x/term"
	"gopkg.in/op/go-logging.v1"

	logger "github.com/thought-machine/docker-linter/src/cli/logging"
)

var log = logger.Log

// StdErrIsATerminal is true if the process' stderr is an interactive TTY.
var StdErrIsATerminal = IsATerminal(os.Stderr)

// StripAnsi is a regex to find & replace ANSI console escape sequences.
var StripAnsi = deferredregex.DeferredRegex{Re: "\x1b[^m]+m"}

// A Verbosity is used as a flag to define logging verbosity.
type Verbosity = cli.Verbosity

// A logConfig holds the current logging configuration. Stdout is never a log destination
// because it carries the protocol stream.
type logConfig struct {
	mutex     sync.Mutex
	level     logging.Level
	file      logging.Backend
	fileLevel logging.Level
}

var backends = &logConfig{
	level:     logging.WARNING,
	fileLevel: logging.WARNING,
}

// InitLogging initialises logging to stderr at the given verbosity.
func InitLogging(verbosity Verbosity) {
	backends.mutex.Lock()
	defer backends.mutex.Unlock()
	backends.level = logging.Level(verbosity)
	backends.apply()
}

// InitFileLogging additionally sends logs to a file, which is useful because editors tend to
// swallow a language server's stderr. The file is closed by RunExitHandlers.
func InitFileLogging(logFile string, logFileLevel Verbosity, append bool) {
	if err := os.MkdirAll(filepath.Dir(logFile), os.ModeDir|0775); err != nil {
		log.Fatalf("Error creating log file directory: %s", err)
	}
	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if append {
		flags = os.O_WRONLY | os.O_CREATE | os.O_APPEND
	}
	file, err := os.OpenFile(logFile, flags, 0644)
	if err != nil {
		log.Fatalf("Error opening log file: %s", err)
	}
	backends.mutex.Lock()
	backends.fileLevel = logging.Level(logFileLevel)
	backends.file = logging.NewBackendFormatter(logging.NewLogBackend(file, "", 0), logFormatter(false))
	backends.apply()
	backends.mutex.Unlock()
	AtExit(func() {
		backends.mutex.Lock()
		backends.file = nil
		backends.apply()
		backends.mutex.Unlock()
		file.Close()
	})
}

func logFormatter(coloured bool) logging.Formatter {
	formatStr := "%{time:15:04:05.000} %{level:7s}: %{module}: %{message}"
	if coloured {
		formatStr = "%{color}" + formatStr + "%{color:reset}"
	}
	return logging.MustStringFormatter(formatStr)
}

// apply installs the configured backends. The mutex must be held.
func (c *logConfig) apply() {
	stderr := logging.AddModuleLevel(logging.NewBackendFormatter(logging.NewLogBackend(os.Stderr, "", 0), logFormatter(StdErrIsATerminal)))
	stderr.SetLevel(c.level, "")
	if c.file == nil {
		logging.SetBackend(stderr)
		return
	}
	file := logging.AddModuleLevel(c.file)
	file.SetLevel(c.fileLevel, "")
	logging.SetBackend(logging.MultiLogger(stderr, file))
}

// IsATerminal returns true if the given file is an interactive TTY.
func IsATerminal(file *os.File) bool {
	return term.IsTerminal(int(file.Fd()))
}
