// Package lint runs a linter inside a container and turns its output into diagnostics.
package lint

import (
	"context"

	"github.com/alessio/shellescape"
	"github.com/dustin/go-humanize"
	"github.com/sourcegraph/go-lsp"
	"gopkg.in/op/go-logging.v1"

	"github.com/thought-machine/docker-linter/src/cli"
	"github.com/thought-machine/docker-linter/src/process"
	"github.com/thought-machine/docker-linter/src/settings"
)

var log = logging.MustGetLogger("lint")

// An Executor runs a subprocess with some input.
type Executor interface {
	ExecWithStdin(ctx context.Context, env []string, stdin []byte, argv ...string) (*process.Result, error)
}

// A Runner invokes linters through a container runtime's exec command.
type Runner struct {
	runtime  string
	executor Executor
}

// NewRunner returns a new Runner using the given container runtime binary (typically docker).
func NewRunner(runtime string, executor Executor) *Runner {
	return &Runner{runtime: runtime, executor: executor}
}

// A Result is the outcome of one linter run.
type Result struct {
	// Diagnostics found in stdout followed by those found in stderr.
	// It's nil if Failure is set.
	Diagnostics []lsp.Diagnostic
	ExitCode    int
	Stdout      []byte
	Stderr      []byte
	// Failure is set if the container runtime couldn't run the linter.
	Failure error
}

// Command returns the command line used to run the linter.
func (r *Runner) Command(s *settings.LinterSettings) []string {
	return append([]string{r.runtime, "exec", "-i", s.Container}, s.CommandArgs()...)
}

// Run runs the linter over the given text and parses its output.
// The settings are used for the whole run, including parsing, even if newer ones arrive meanwhile.
// An error is returned only if the runtime couldn't be invoked at all; a linter that exits
// non-zero is normal.
func (r *Runner) Run(ctx context.Context, s *settings.LinterSettings, env []string, text string) (*Result, error) {
	argv := r.Command(s)
	log.Debug("Running %s", shellescape.QuoteCommand(argv))
	result, err := r.executor.ExecWithStdin(ctx, env, []byte(text), argv...)
	if err != nil {
		return nil, err
	}
	log.Debug("%s exited with code %d, %s of stdout and %s of stderr", s.Name, result.ExitCode,
		humanize.Bytes(uint64(len(result.Stdout))), humanize.Bytes(uint64(len(result.Stderr))))
	// Some linters colour their output regardless of whether they're writing to a terminal.
	stdout := []byte(cli.StripAnsi.ReplaceAllString(string(result.Stdout), ""))
	stderr := []byte(cli.StripAnsi.ReplaceAllString(string(result.Stderr), ""))
	ret := &Result{
		ExitCode: result.ExitCode,
		Stdout:   result.Stdout,
		Stderr:   result.Stderr,
		Failure:  ClassifyFailure(stderr),
	}
	if ret.Failure == nil {
		ret.Diagnostics = append(ParseOutput(s, stdout), ParseOutput(s, stderr)...)
	}
	return ret, nil
}
