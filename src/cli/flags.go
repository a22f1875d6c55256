// Package cli contains helper functions related to flag parsing, logging and process lifetime.
package cli

import (
	"os"
	"path/filepath"

	cli "github.com/peterebden/go-cli-init/v5/flags"
	clilogging "github.com/peterebden/go-cli-init/v5/logging"
	"github.com/thought-machine/go-flags"
)

// MinVerbosity is the minimum verbosity we support.
const MinVerbosity = clilogging.MinVerbosity

// MaxVerbosity is the maximum verbosity we support.
const MaxVerbosity = clilogging.MaxVerbosity

// ParseFlagsOrDie parses the app's flags and dies if unsuccessful.
// The server takes no positional arguments, so any it's given are fatal too.
func ParseFlagsOrDie(appname string, data interface{}) {
	cli.ParseFlagsOrDie(appname, data, nil)
}

// ParseFlags parses the given arguments into data and returns any left over.
func ParseFlags(appname string, data interface{}, args []string) ([]string, error) {
	_, extraArgs, err := cli.ParseFlags(appname, data, args, flags.HelpFlag|flags.PassDoubleDash, nil, nil)
	return extraArgs, err
}

// A Duration is used for flags that represent a time duration.
type Duration = cli.Duration

// A Filepath is a flag naming a file, which completes to paths on the local filesystem.
type Filepath string

// Complete implements the flags.Completer interface.
func (f *Filepath) Complete(match string) []flags.Completion {
	matches, _ := filepath.Glob(match + "*")
	// A single directory completes to its contents, so the user can keep tabbing down into it.
	if len(matches) == 1 {
		if info, err := os.Stat(matches[0]); err == nil && info.IsDir() {
			matches, _ = filepath.Glob(filepath.Join(matches[0], "*"))
		}
	}
	ret := make([]flags.Completion, len(matches))
	for i, match := range matches {
		ret[i].Item = match
	}
	return ret
}
