package lint

import (
	"fmt"
	"math"
	"strconv"

	"github.com/sourcegraph/go-lsp"

	"github.com/thought-machine/docker-linter/src/settings"
)

// EndOfLine is the column used for the end of a diagnostic that spans its whole line.
const EndOfLine = math.MaxInt32

// ParseOutput converts the output of a linter into diagnostics.
// Every non-overlapping match of the pattern produces one diagnostic, in the order they
// appear in the output. Matches whose line or column isn't a number are skipped.
func ParseOutput(s *settings.LinterSettings, out []byte) []lsp.Diagnostic {
	matches := s.Regexp.FindAllStringSubmatch(string(out), -1)
	diagnostics := make([]lsp.Diagnostic, 0, len(matches))
	for _, match := range matches {
		d, err := parseMatch(s, match)
		if err != nil {
			log.Debug("Skipping output from %s: %s", s.Name, err)
			continue
		}
		diagnostics = append(diagnostics, d)
	}
	return diagnostics
}

func parseMatch(s *settings.LinterSettings, match []string) (lsp.Diagnostic, error) {
	line, err := position("line", s.Line.Of(match))
	if err != nil {
		return lsp.Diagnostic{}, err
	}
	start, end := 0, EndOfLine
	if s.Column.IsSet() {
		if start, err = position("column", s.Column.Of(match)); err != nil {
			return lsp.Diagnostic{}, err
		}
		end = start
	}
	return lsp.Diagnostic{
		Range: lsp.Range{
			Start: lsp.Position{Line: line, Character: start},
			End:   lsp.Position{Line: line, Character: end},
		},
		Severity: Severity(s.Severity.Of(match)),
		Code:     s.Code.Of(match),
		Source:   s.Name,
		Message:  s.Message.Of(match),
	}, nil
}

// position converts a 1-based position from linter output to a 0-based one.
// Linters that report line or column 0 are clamped to the start.
func position(name, s string) (int, error) {
	i, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", name, s)
	} else if i < 1 {
		return 0, nil
	}
	return i - 1, nil
}

// Severity maps the text of a severity field to a diagnostic severity.
// Anything unrecognised is an error.
func Severity(s string) lsp.DiagnosticSeverity {
	switch s {
	case "warning":
		return lsp.Warning
	case "info":
		return lsp.Information
	default:
		return lsp.Error
	}
}
