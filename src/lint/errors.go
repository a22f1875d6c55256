package lint

import (
	"errors"
	"strings"

	"github.com/peterebden/go-deferred-regex"
)

// ErrContainerNotRunning is matched when the container runtime reports the container can't be used.
var ErrContainerNotRunning = errors.New("container is not running")

// ErrHostUnreachable is matched when the container runtime can't reach its daemon.
var ErrHostUnreachable = errors.New("container host is unreachable")

// An InfrastructureError means the linter never ran, so its output isn't diagnostics.
type InfrastructureError struct {
	Kind   error
	Output string
}

func (err *InfrastructureError) Error() string {
	if err.Kind == ErrHostUnreachable {
		return "Is your machine correctly configured? Error: " + err.Output
	}
	return "Is your container running? Error: " + err.Output
}

func (err *InfrastructureError) Unwrap() error {
	return err.Kind
}

var daemonError = deferredregex.DeferredRegex{Re: `^Error response from daemon`}
var connectionError = deferredregex.DeferredRegex{Re: `^(?:An error occurred trying to connect|Cannot connect to the Docker daemon|error during connect)`}

// ClassifyFailure inspects the error stream of a run for messages the container runtime
// prints when it couldn't run the linter at all. It returns nil if there are none.
// This is a heuristic based on the text the docker CLI prints; it has no structured
// signal to go on.
func ClassifyFailure(stderr []byte) error {
	output := strings.TrimSpace(string(stderr))
	if daemonError.FindStringSubmatch(output) != nil {
		return &InfrastructureError{Kind: ErrContainerNotRunning, Output: output}
	} else if connectionError.FindStringSubmatch(output) != nil {
		return &InfrastructureError{Kind: ErrHostUnreachable, Output: output}
	}
	return nil
}
