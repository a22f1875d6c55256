package validate

import (
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/peterebden/go-deferred-regex"
	"github.com/sourcegraph/go-lsp"
)

var newlines = deferredregex.DeferredRegex{Re: `\r?\n`}

// Message returns the user-facing text for an error that occurred validating a document.
// Newlines are collapsed so it fits in a single notification.
func Message(err error, uri lsp.DocumentURI) string {
	if err == nil || err.Error() == "" {
		return "An unknown error occurred while validating file: " + strings.TrimPrefix(string(uri), "file://")
	}
	return strings.TrimPrefix(newlines.ReplaceAllString(err.Error(), " "), "CLI: ")
}

// errorList collects the errors from validating a batch of documents, dropping any whose
// message duplicates one already seen (typically the same configuration problem for every document).
type errorList struct {
	errs *multierror.Error
	seen map[string]bool
}

func newErrorList() *errorList {
	return &errorList{seen: map[string]bool{}}
}

// Add adds an error for a document.
func (l *errorList) Add(err error, uri lsp.DocumentURI) {
	msg := Message(err, uri)
	if l.seen[msg] {
		return
	}
	l.seen[msg] = true
	l.errs = multierror.Append(l.errs, &documentError{msg: msg, err: err})
	l.errs.ErrorFormat = formatErrors
}

// ErrorOrNil returns the combined error, or nil if nothing was added.
func (l *errorList) ErrorOrNil() error {
	return l.errs.ErrorOrNil()
}

func formatErrors(errs []error) string {
	if len(errs) == 1 {
		return errs[0].Error()
	}
	msgs := make([]string, len(errs))
	for i, err := range errs {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("%d errors occurred while validating: %s", len(errs), strings.Join(msgs, "; "))
}

// documentError carries the normalised message while keeping the original error for errors.Is.
type documentError struct {
	msg string
	err error
}

func (err *documentError) Error() string {
	return err.msg
}

func (err *documentError) Unwrap() error {
	return err.err
}
