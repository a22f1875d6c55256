// Package server implements the document-diagnostics service independently of the
// protocol used to talk to the editor.
package server

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/go-lsp"
	"gopkg.in/op/go-logging.v1"

	"github.com/thought-machine/docker-linter/src/environment"
	"github.com/thought-machine/docker-linter/src/lint"
	"github.com/thought-machine/docker-linter/src/metrics"
	"github.com/thought-machine/docker-linter/src/process"
	"github.com/thought-machine/docker-linter/src/settings"
	"github.com/thought-machine/docker-linter/src/validate"
)

var log = logging.MustGetLogger("server")

// A Client receives everything the server sends to the editor.
type Client interface {
	// PublishDiagnostics replaces the diagnostics shown for a document.
	PublishDiagnostics(ctx context.Context, uri lsp.DocumentURI, diagnostics []lsp.Diagnostic)
	// ShowMessage shows a message to the user.
	ShowMessage(ctx context.Context, typ lsp.MessageType, message string)
	// LogMessage writes a line to the editor's log for this server.
	LogMessage(ctx context.Context, message string)
}

// Documents provides the currently open documents.
type Documents interface {
	All() []validate.Document
}

// An Executor runs subprocesses.
type Executor interface {
	Exec(ctx context.Context, env []string, argv ...string) (*process.Result, error)
	ExecWithStdin(ctx context.Context, env []string, stdin []byte, argv ...string) (*process.Result, error)
}

// Options configures a Server.
type Options struct {
	// Runtime is the container runtime binary.
	Runtime string
	// EnvTool is the tool used to provision the environment for remote machines.
	EnvTool string
	// Linter pins the linter to use regardless of what the editor configures.
	Linter string
	// DefaultsFile is an optional file of linter defaults.
	DefaultsFile string
	Executor     Executor
}

// A Server validates documents as they change.
type Server struct {
	opts        Options
	client      Client
	docs        Documents
	coordinator *validate.Coordinator
	runner      *lint.Runner
	env         *environment.Context
	provisioner *environment.Provisioner
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup

	mutex      sync.Mutex
	defaults   *settings.Defaults
	raw        interface{}
	configured bool
	settings   *settings.LinterSettings
	configErr  error
	debug      bool
	linterName string
	generation uint64
	stopped    bool

	// defaultsErr is an error reading the defaults file at startup, held until the
	// editor is connected to be shown to it.
	defaultsErr error
}

// New creates a new Server. It reads the defaults file, if there is one; if that
// fails the builtin defaults are used and the error is shown once the editor has connected.
func New(opts Options, client Client, docs Documents) *Server {
	defaults, err := settings.ReadDefaultsFile(opts.DefaultsFile, settings.BuiltinDefaults())
	if err != nil {
		log.Error("Failed to read defaults, using builtin ones: %s", err)
		defaults = settings.BuiltinDefaults()
	}
	ctx, cancel := context.WithCancel(context.Background())
	env := environment.NewContext()
	s := &Server{
		opts:        opts,
		client:      client,
		docs:        docs,
		runner:      lint.NewRunner(opts.Runtime, opts.Executor),
		env:         env,
		provisioner: environment.NewProvisioner(opts.EnvTool, opts.Executor, env),
		ctx:         ctx,
		cancel:      cancel,
		defaults:    defaults,
		defaultsErr: err,
	}
	s.coordinator = validate.New(s)
	s.coordinator.Logf = s.debugf
	s.coordinator.OnError = func(uri lsp.DocumentURI, err error) {
		s.client.ShowMessage(s.ctx, lsp.MTError, validate.Message(err, uri))
	}
	return s
}

// Initialized is called once the editor has connected. It shows any error from
// reading the defaults file at startup.
func (s *Server) Initialized() {
	s.mutex.Lock()
	err := s.defaultsErr
	s.defaultsErr = nil
	s.mutex.Unlock()
	if err != nil {
		s.client.ShowMessage(s.ctx, lsp.MTError, err.Error())
	}
}

// CheckRuntime checks that the container runtime can be run at all.
func (s *Server) CheckRuntime(ctx context.Context) error {
	result, err := s.opts.Executor.Exec(ctx, nil, s.opts.Runtime, "-v")
	if err != nil {
		return &RuntimeError{Runtime: s.opts.Runtime, Output: err.Error()}
	} else if result.ExitCode != 0 {
		return &RuntimeError{Runtime: s.opts.Runtime, Output: string(result.Stderr)}
	}
	log.Info("Found %s", strings.TrimSpace(string(result.Stdout)))
	return nil
}

// OnDocumentChanged validates a document that's been opened or changed.
func (s *Server) OnDocumentChanged(uri lsp.DocumentURI, text string) {
	if err := s.coordinator.Request(validate.Document{URI: uri, Text: text}); err != nil {
		s.client.ShowMessage(s.ctx, lsp.MTError, validate.Message(err, uri))
	}
}

// OnDocumentClosed forgets a closed document and clears its diagnostics.
func (s *Server) OnDocumentClosed(uri lsp.DocumentURI) {
	s.coordinator.Forget(uri)
	s.client.PublishDiagnostics(s.ctx, uri, []lsp.Diagnostic{})
}

// OnWatchedFilesChanged revalidates every open document.
func (s *Server) OnWatchedFilesChanged() {
	s.ValidateAll()
}

// OnConfigurationChanged applies a new configuration payload from the editor.
// Validation is suspended until the environment for the new settings is provisioned,
// after which every open document is revalidated.
func (s *Server) OnConfigurationChanged(raw interface{}) {
	s.mutex.Lock()
	s.raw = raw
	s.configured = true
	s.mutex.Unlock()
	s.applyConfiguration()
}

// ReloadDefaults rereads the defaults file and reapplies the last configuration.
func (s *Server) ReloadDefaults() {
	defaults, err := settings.ReadDefaultsFile(s.opts.DefaultsFile, settings.BuiltinDefaults())
	if err != nil {
		log.Error("Failed to reload defaults: %s", err)
		s.client.ShowMessage(s.ctx, lsp.MTError, err.Error())
		return
	}
	s.mutex.Lock()
	s.defaults = defaults
	s.defaultsErr = nil
	configured := s.configured
	s.mutex.Unlock()
	log.Notice("Reloaded linter defaults from %s", s.opts.DefaultsFile)
	if configured {
		s.applyConfiguration()
	}
}

// ValidateAll requests validation of every open document.
// Any errors are reported to the user as a single message.
func (s *Server) ValidateAll() {
	if err := s.coordinator.RequestAll(s.docs.All()); err != nil {
		s.client.ShowMessage(s.ctx, lsp.MTError, err.Error())
	}
}

// Wait waits until any provisioning and validations in flight have completed.
func (s *Server) Wait() {
	s.wg.Wait()
	s.coordinator.Wait()
}

// Shutdown stops the server, terminating anything in flight.
func (s *Server) Shutdown() {
	s.mutex.Lock()
	s.stopped = true
	s.mutex.Unlock()
	s.cancel()
	s.coordinator.Shutdown()
	s.wg.Wait()
}

func (s *Server) applyConfiguration() {
	s.mutex.Lock()
	if s.stopped {
		s.mutex.Unlock()
		return
	}
	res, err := settings.Resolve(s.raw, s.defaults, s.opts.Linter)
	if res != nil {
		s.debug = res.Debug
	}
	s.generation++
	generation := s.generation
	s.coordinator.SetReady(false)
	if err != nil {
		s.settings = nil
		s.configErr = err
		s.mutex.Unlock()
		log.Error("%s", err)
		s.client.ShowMessage(s.ctx, lsp.MTError, err.Error())
		return
	}
	s.settings = res.Settings
	s.configErr = nil
	s.linterName = res.Settings.Name
	s.wg.Add(1)
	s.mutex.Unlock()
	s.debugf("Settings updated: %s", res.Settings)
	go s.provision(generation, res.Settings.Machine)
}

// provision provisions the environment for a machine and, if the settings haven't changed
// meanwhile, opens the gate for validations.
func (s *Server) provision(generation uint64, machine string) {
	defer s.wg.Done()
	err := s.provisioner.Provision(s.ctx, machine)
	s.mutex.Lock()
	if s.stopped || s.ctx.Err() != nil {
		s.mutex.Unlock()
		log.Debug("Shut down while provisioning %s", machine)
		return
	} else if generation != s.generation {
		s.mutex.Unlock()
		log.Debug("Settings changed while provisioning %s, not marking ready", machine)
		return
	} else if err != nil {
		s.mutex.Unlock()
		log.Warning("%s", err)
		s.client.ShowMessage(s.ctx, lsp.MTWarning, err.Error())
		return
	}
	s.coordinator.SetReady(true)
	s.mutex.Unlock()
	s.ValidateAll()
}

// Prepare implements validate.Validator.
func (s *Server) Prepare(doc validate.Document) (validate.Job, error) {
	s.mutex.Lock()
	ls, configErr := s.settings, s.configErr
	s.mutex.Unlock()
	if ls == nil {
		if configErr != nil {
			return nil, configErr
		}
		return nil, validate.ErrNotConfigured
	}
	env := s.env.Environ()
	return func(ctx context.Context) func() {
		return s.run(ctx, ls, env, doc)
	}, nil
}

func (s *Server) run(ctx context.Context, ls *settings.LinterSettings, env []string, doc validate.Document) func() {
	id := uuid.New()
	s.debugf("Running command: '%s' [%s]", strings.Join(s.runner.Command(ls), " "), id)
	start := time.Now()
	result, err := s.runner.Run(ctx, ls, env, doc.Text)
	if err != nil {
		metrics.RecordValidation(ls.Name, metrics.ExecFailure, time.Since(start), 0)
		if ctx.Err() != nil {
			return nil
		}
		msg := fmt.Sprintf("Could not run %s: %s", s.opts.Runtime, err)
		return func() { s.client.ShowMessage(s.ctx, lsp.MTError, msg) }
	}
	s.debugf("Command exited with code: %d [%s]", result.ExitCode, id)
	s.debugOutput(result)
	if result.Failure != nil {
		metrics.RecordValidation(ls.Name, metrics.InfrastructureFailure, time.Since(start), 0)
		return func() { s.client.ShowMessage(s.ctx, lsp.MTError, result.Failure.Error()) }
	}
	metrics.RecordValidation(ls.Name, metrics.Success, time.Since(start), len(result.Diagnostics))
	return func() { s.client.PublishDiagnostics(s.ctx, doc.URI, result.Diagnostics) }
}

// debugf logs a line, and mirrors it to the editor if debugging is enabled in its configuration.
// It must not be called with the mutex held.
func (s *Server) debugf(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	log.Debug("%s", msg)
	s.mutex.Lock()
	debug, name := s.debug, s.linterName
	s.mutex.Unlock()
	if debug {
		s.client.LogMessage(s.ctx, name+": "+msg)
	}
}

// debugOutput mirrors the raw output of a run to the editor if debugging is enabled.
func (s *Server) debugOutput(result *lint.Result) {
	s.mutex.Lock()
	debug := s.debug
	s.mutex.Unlock()
	if debug && (len(result.Stdout) > 0 || len(result.Stderr) > 0) {
		s.client.LogMessage(s.ctx, string(result.Stdout)+string(result.Stderr))
	}
}

// A RuntimeError means the container runtime couldn't be found or run.
type RuntimeError struct {
	Runtime string
	Output  string
}

func (err *RuntimeError) Error() string {
	return fmt.Sprintf("Could not find %s: '%s'", err.Runtime, err.Output)
}
