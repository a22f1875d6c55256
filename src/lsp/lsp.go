// Package lsp implements the Language Server Protocol for the docker linter.
package lsp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/sourcegraph/go-lsp"
	"github.com/sourcegraph/jsonrpc2"
	"gopkg.in/op/go-logging.v1"

	"github.com/thought-machine/docker-linter/src/server"
	"github.com/thought-machine/docker-linter/src/validate"
)

var log = logging.MustGetLogger("lsp")

// codeRuntimeNotFound is the error code returned from initialize when the container runtime can't be run.
// The client is invited to retry.
const codeRuntimeNotFound = 99

// A Handler is a handler suitable for use with jsonrpc2.
type Handler struct {
	Conn   Conn
	docs   map[lsp.DocumentURI]string
	mutex  sync.Mutex // guards docs
	server *server.Server
}

// A Conn is a minimal set of the jsonrpc2.Conn that we need.
type Conn interface {
	io.Closer
	// Notify sends an asynchronous notification.
	Notify(ctx context.Context, method string, params interface{}, opts ...jsonrpc2.CallOption) error
}

// NewHandler returns a new Handler.
func NewHandler(opts server.Options) *Handler {
	h := &Handler{
		docs: map[lsp.DocumentURI]string{},
	}
	h.server = server.New(opts, h, h)
	return h
}

// Server returns the server that this handler drives.
func (h *Handler) Server() *server.Server {
	return h.server
}

// Handle implements the jsonrpc2.Handler interface
func (h *Handler) Handle(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	resp, err := h.handle(ctx, req.Method, req.Params)
	if req.Notif {
		if err != nil {
			log.Warning("Error handling %s notification: %s", req.Method, err)
		}
		return
	} else if err != nil {
		if err := conn.ReplyWithError(ctx, req.ID, err.(*jsonrpc2.Error)); err != nil {
			log.Error("Failed to send error response: %s", err)
		}
	} else if err := conn.Reply(ctx, req.ID, resp); err != nil {
		log.Error("Failed to send response: %s", err)
	}
}

// handle is the slightly higher-level handler that deals with individual methods.
func (h *Handler) handle(ctx context.Context, method string, params *json.RawMessage) (res interface{}, err error) {
	start := time.Now()
	log.Debug("Received %s message", method)
	defer func() {
		if r := recover(); r != nil {
			log.Error("Panic in handler for %s: %s", method, r)
			log.Debug("%s\n%v", r, string(debug.Stack()))
			err = &jsonrpc2.Error{
				Code:    jsonrpc2.CodeInternalError,
				Message: fmt.Sprintf("%s", r),
			}
		} else {
			log.Debug("Handled %s message in %s", method, time.Since(start))
		}
	}()

	switch method {
	case "initialize":
		return h.initialize(ctx)
	case "initialized":
		h.server.Initialized()
		return nil, nil
	case "shutdown":
		h.server.Shutdown()
		return nil, nil
	case "exit":
		// exit is a request to terminate the process. We do this preferably by shutting
		// down the RPC connection but if we can't we just die.
		if h.Conn != nil {
			if err := h.Conn.Close(); err != nil {
				log.Fatalf("Failed to close connection: %s", err)
			}
		} else {
			log.Fatalf("No active connection to shut down")
		}
		return nil, nil
	case "textDocument/didOpen":
		didOpenParams := &lsp.DidOpenTextDocumentParams{}
		if err := unmarshal(params, didOpenParams); err != nil {
			return nil, err
		}
		return nil, h.didOpen(didOpenParams)
	case "textDocument/didChange":
		didChangeParams := &lsp.DidChangeTextDocumentParams{}
		if err := unmarshal(params, didChangeParams); err != nil {
			return nil, err
		}
		return nil, h.didChange(didChangeParams)
	case "textDocument/didSave":
		// Saving doesn't change the contents we were sent, so there's nothing new to validate.
		return nil, nil
	case "textDocument/didClose":
		didCloseParams := &lsp.DidCloseTextDocumentParams{}
		if err := unmarshal(params, didCloseParams); err != nil {
			return nil, err
		}
		return nil, h.didClose(didCloseParams)
	case "workspace/didChangeConfiguration":
		configParams := &lsp.DidChangeConfigurationParams{}
		if err := unmarshal(params, configParams); err != nil {
			return nil, err
		}
		h.server.OnConfigurationChanged(configParams.Settings)
		return nil, nil
	case "workspace/didChangeWatchedFiles":
		h.server.OnWatchedFilesChanged()
		return nil, nil
	default:
		return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeMethodNotFound}
	}
}

func unmarshal(params *json.RawMessage, v interface{}) error {
	if params == nil {
		return &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidParams}
	} else if err := json.Unmarshal(*params, v); err != nil {
		return &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidParams, Message: err.Error()}
	}
	return nil
}

func (h *Handler) initialize(ctx context.Context) (*lsp.InitializeResult, error) {
	if err := h.server.CheckRuntime(ctx); err != nil {
		log.Error("%s", err)
		data := json.RawMessage(`{"retry":true}`)
		return nil, &jsonrpc2.Error{
			Code:    codeRuntimeNotFound,
			Message: err.Error(),
			Data:    &data,
		}
	}
	return &lsp.InitializeResult{
		Capabilities: lsp.ServerCapabilities{
			TextDocumentSync: &lsp.TextDocumentSyncOptionsOrKind{
				Options: &lsp.TextDocumentSyncOptions{
					OpenClose: true,
					Change:    lsp.TDSKFull,
				},
			},
		},
	}, nil
}

func (h *Handler) didOpen(params *lsp.DidOpenTextDocumentParams) error {
	h.mutex.Lock()
	h.docs[params.TextDocument.URI] = params.TextDocument.Text
	h.mutex.Unlock()
	h.server.OnDocumentChanged(params.TextDocument.URI, params.TextDocument.Text)
	return nil
}

func (h *Handler) didChange(params *lsp.DidChangeTextDocumentParams) error {
	if len(params.ContentChanges) == 0 {
		return nil
	}
	for _, change := range params.ContentChanges {
		if change.Range != nil {
			return &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidParams, Message: "non-incremental change received"}
		}
	}
	uri := params.TextDocument.URI
	text := params.ContentChanges[len(params.ContentChanges)-1].Text
	h.mutex.Lock()
	h.docs[uri] = text
	h.mutex.Unlock()
	h.server.OnDocumentChanged(uri, text)
	return nil
}

func (h *Handler) didClose(params *lsp.DidCloseTextDocumentParams) error {
	h.mutex.Lock()
	delete(h.docs, params.TextDocument.URI)
	h.mutex.Unlock()
	h.server.OnDocumentClosed(params.TextDocument.URI)
	return nil
}

// All returns all the currently open documents, ordered by URI.
func (h *Handler) All() []validate.Document {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	docs := make([]validate.Document, 0, len(h.docs))
	for uri, text := range h.docs {
		docs = append(docs, validate.Document{URI: uri, Text: text})
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].URI < docs[j].URI })
	return docs
}

// PublishDiagnostics sends the diagnostics for a document to the client.
func (h *Handler) PublishDiagnostics(ctx context.Context, uri lsp.DocumentURI, diagnostics []lsp.Diagnostic) {
	if diagnostics == nil {
		diagnostics = []lsp.Diagnostic{} // Must be sent as [], not null
	}
	h.notify(ctx, "textDocument/publishDiagnostics", &lsp.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: diagnostics,
	})
}

// ShowMessage shows a message to the user.
func (h *Handler) ShowMessage(ctx context.Context, typ lsp.MessageType, message string) {
	h.notify(ctx, "window/showMessage", &lsp.ShowMessageParams{Type: typ, Message: message})
}

// LogMessage writes a message to the client's log.
func (h *Handler) LogMessage(ctx context.Context, message string) {
	h.notify(ctx, "window/logMessage", &lsp.LogMessageParams{Type: lsp.Log, Message: message})
}

func (h *Handler) notify(ctx context.Context, method string, params interface{}) {
	if h.Conn == nil {
		log.Warning("No connection to send %s on", method)
		return
	}
	if err := h.Conn.Notify(ctx, method, params); err != nil {
		log.Error("Failed to send %s: %s", method, err)
	}
}

// A Logger provides an interface to our logger.
type Logger struct{}

// Printf implements the jsonrpc2.Logger interface.
func (l Logger) Printf(tmpl string, args ...interface{}) {
	log.Info(tmpl, args...)
}
