package environment

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/shlex"
	"gopkg.in/op/go-logging.v1"

	"github.com/thought-machine/docker-linter/src/process"
)

var log = logging.MustGetLogger("environment")

// ErrProvisioning is matched by any failure to provision a machine's environment.
var ErrProvisioning = errors.New("environment provisioning failed")

// A ProvisioningError describes a failed run of the environment tool.
type ProvisioningError struct {
	Tool    string
	Machine string
	Output  string
}

func (err *ProvisioningError) Error() string {
	return fmt.Sprintf("Could not get %s environment: '%s'", err.Tool, err.Output)
}

// Is implements errors.Is so callers can test against ErrProvisioning.
func (err *ProvisioningError) Is(target error) bool {
	return target == ErrProvisioning
}

// An Executor runs the environment tool.
type Executor interface {
	Exec(ctx context.Context, env []string, argv ...string) (*process.Result, error)
}

// A Provisioner resolves the environment needed to reach a remote container host
// (e.g. DOCKER_HOST and TLS settings) and writes it into a Context.
type Provisioner struct {
	tool     string
	executor Executor
	env      *Context
}

// NewProvisioner returns a new Provisioner that runs the given tool (typically docker-machine).
func NewProvisioner(tool string, executor Executor, env *Context) *Provisioner {
	return &Provisioner{tool: tool, executor: executor, env: env}
}

// Provision runs `<tool> env <machine> --shell bash` and applies every exported variable to
// the context. An empty machine means the container host is local and nothing is run.
// Nothing is applied if the tool fails.
func (p *Provisioner) Provision(ctx context.Context, machine string) error {
	if machine == "" {
		return nil
	}
	log.Debug("Provisioning environment for machine %s", machine)
	result, err := p.executor.Exec(ctx, nil, p.tool, "env", machine, "--shell", "bash")
	if err != nil {
		return &ProvisioningError{Tool: p.tool, Machine: machine, Output: err.Error()}
	} else if result.ExitCode != 0 {
		return &ProvisioningError{Tool: p.tool, Machine: machine, Output: strings.TrimSpace(string(result.Stderr))}
	}
	vars := ParseExports(string(result.Stdout))
	for name, value := range vars {
		p.env.Set(name, value)
	}
	log.Info("Applied %d environment variables for machine %s", len(vars), machine)
	return nil
}

// ParseExports extracts variables from shell output of the form `export NAME="VALUE"`.
// Lines that aren't exports are ignored.
func ParseExports(output string) map[string]string {
	vars := map[string]string{}
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "export ") {
			continue
		}
		words, err := shlex.Split(line)
		if err != nil {
			log.Warning("Failed to parse environment line %q: %s", line, err)
			continue
		}
		for _, word := range words[1:] {
			if name, value, found := strings.Cut(word, "="); found && name != "" {
				vars[name] = value
			}
		}
	}
	return vars
}
