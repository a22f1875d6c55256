// Package validate coordinates validation runs so that each document has at most one
// in flight, and a document that changes mid-run is validated again with its latest text.
package validate

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/sourcegraph/go-lsp"
	"gopkg.in/op/go-logging.v1"

	"github.com/thought-machine/docker-linter/src/cmap"
)

var log = logging.MustGetLogger("validate")

// ErrNotConfigured is returned by validators that have no usable settings yet.
var ErrNotConfigured = errors.New("no linter is configured")

// State is the validation state of a single document.
type State int

const (
	// Idle documents have no validation in flight.
	Idle State = iota
	// Running documents have a validation in flight.
	Running
)

func (s State) String() string {
	if s == Running {
		return "running"
	}
	return "idle"
}

// A Document is a snapshot of an open document.
type Document struct {
	URI  lsp.DocumentURI
	Text string
}

// A Job performs one validation. It returns a function that publishes the result, or nil
// if there is nothing to publish. The publish function is only called if the document
// hasn't been forgotten in the meantime, and must not call back into the Coordinator.
type Job func(ctx context.Context) (publish func())

// A Validator prepares validation jobs for documents.
// Prepare is called synchronously when a run starts; an error from it means the run never started.
type Validator interface {
	Prepare(doc Document) (Job, error)
}

type docState struct {
	state      State
	pending    *Document
	generation uint64
	closed     bool
}

// A Coordinator tracks the validation state of every document.
type Coordinator struct {
	// OnError is called with errors from re-validations that start when a previous run
	// finishes, since there is no caller to return them to.
	OnError func(uri lsp.DocumentURI, err error)
	// Logf receives a line for each state change of interest.
	Logf func(format string, args ...interface{})

	validator Validator
	docs      *cmap.Map[lsp.DocumentURI, docState]
	ready     atomic.Bool
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// New returns a new Coordinator. It starts out not ready.
func New(validator Validator) *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		OnError: func(uri lsp.DocumentURI, err error) {
			log.Error("Failed to validate %s: %s", uri, err)
		},
		Logf:      log.Debugf,
		validator: validator,
		docs: cmap.New[lsp.DocumentURI, docState](cmap.DefaultShardCount, func(uri lsp.DocumentURI) uint64 {
			return cmap.XXHash(string(uri))
		}),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Request asks for a document to be validated.
// If the coordinator isn't ready, or the document is already being validated, the snapshot is
// kept (replacing any earlier one) and validated later. Otherwise a run starts immediately.
func (c *Coordinator) Request(doc Document) error {
	c.Logf("Validation requested for: %s", doc.URI)
	start := false
	var generation uint64
	c.docs.Compute(doc.URI, func(s docState, present bool) docState {
		s.closed = false
		if !c.ready.Load() || s.state == Running {
			s.pending = &doc
			return s
		}
		s.state = Running
		s.pending = nil
		start = true
		generation = s.generation
		return s
	})
	if !start {
		return nil
	}
	return c.launch(doc, generation)
}

// RequestAll requests validation of a set of documents, then starts any other deferred
// validations that can now run.
// Errors for individual documents don't stop the others; they are combined into one error.
func (c *Coordinator) RequestAll(docs []Document) error {
	errs := newErrorList()
	for _, doc := range docs {
		if err := c.Request(doc); err != nil {
			errs.Add(err, doc.URI)
		}
	}
	for _, uri := range c.docs.Keys() {
		if err := c.startPending(uri); err != nil {
			errs.Add(err, uri)
		}
	}
	return errs.ErrorOrNil()
}

// SetReady opens or closes the gate that defers validations.
// Opening it doesn't start anything by itself; callers follow up with RequestAll.
func (c *Coordinator) SetReady(ready bool) {
	c.ready.Store(ready)
}

// Ready returns true if validations can currently start.
func (c *Coordinator) Ready() bool {
	return c.ready.Load()
}

// Forget discards the state of a document, typically because it's been closed.
// Any deferred snapshot is dropped and the output of any run in flight won't be published.
func (c *Coordinator) Forget(uri lsp.DocumentURI) {
	c.docs.Compute(uri, func(s docState, present bool) docState {
		s.pending = nil
		s.generation++
		s.closed = true
		return s
	})
	c.docs.DeleteIf(uri, forgotten)
}

// State returns the current state of a document and whether it has a deferred snapshot.
func (c *Coordinator) State(uri lsp.DocumentURI) (State, bool) {
	s, _ := c.docs.Get(uri)
	return s.state, s.pending != nil
}

// Wait waits for all runs in flight, including any re-validations they trigger.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// Shutdown terminates any runs in flight and waits for them.
func (c *Coordinator) Shutdown() {
	c.ready.Store(false)
	c.cancel()
	c.wg.Wait()
}

// launch starts a run for a document that has already been marked as running.
func (c *Coordinator) launch(doc Document, generation uint64) error {
	job, err := c.validator.Prepare(doc)
	if err != nil {
		c.finish(doc.URI, generation, nil)
		return err
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.finish(doc.URI, generation, job(c.ctx))
	}()
	return nil
}

// finish records the end of a run, publishing its result unless the document was forgotten
// since it started, and chains a run for any deferred snapshot.
func (c *Coordinator) finish(uri lsp.DocumentURI, generation uint64, publish func()) {
	var next *Document
	var nextGeneration uint64
	c.docs.Compute(uri, func(s docState, present bool) docState {
		if publish != nil && s.generation == generation {
			publish()
		}
		s.state = Idle
		if s.pending != nil && c.ready.Load() {
			next = s.pending
			s.pending = nil
			s.state = Running
			nextGeneration = s.generation
		}
		return s
	})
	if next == nil {
		c.docs.DeleteIf(uri, forgotten)
		c.Logf("Validation finished for: %s", uri)
		return
	}
	c.Logf("Re-validating: %s", uri)
	if err := c.launch(*next, nextGeneration); err != nil {
		c.OnError(uri, err)
	}
}

// startPending starts a run for a document's deferred snapshot, if it has one and is idle.
func (c *Coordinator) startPending(uri lsp.DocumentURI) error {
	var next *Document
	var generation uint64
	c.docs.Compute(uri, func(s docState, present bool) docState {
		if present && s.state == Idle && s.pending != nil && c.ready.Load() {
			next = s.pending
			s.pending = nil
			s.state = Running
			generation = s.generation
		}
		return s
	})
	if next == nil {
		// Compute stores a value even for a key that has gone away meanwhile; don't leak it.
		c.docs.DeleteIf(uri, func(s docState) bool { return s == docState{} })
		return nil
	}
	return c.launch(*next, generation)
}

func forgotten(s docState) bool {
	return s.closed && s.state == Idle && s.pending == nil
}
