package lint

import (
	"os"
	"strconv"
	"testing"

	"github.com/sourcegraph/go-lsp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thought-machine/docker-linter/src/settings"
)

func mustSettings(t *testing.T, s settings.LinterSettings) *settings.LinterSettings {
	if s.Container == "" {
		s.Container = "test-container"
	}
	if s.Command == "" {
		s.Command = "echo"
	}
	require.NoError(t, s.Validate())
	return &s
}

func mustReadFile(t *testing.T, filename string) []byte {
	b, err := os.ReadFile(filename)
	require.NoError(t, err)
	return b
}

func wholeLine(line int) lsp.Range {
	return lsp.Range{
		Start: lsp.Position{Line: line, Character: 0},
		End:   lsp.Position{Line: line, Character: EndOfLine},
	}
}

func TestParseSimple(t *testing.T) {
	s := mustSettings(t, settings.LinterSettings{
		Name:    "echo",
		Pattern: `(.*) at line (\d+)`,
		Line:    2,
		Message: 1,
	})
	assert.Equal(t, []lsp.Diagnostic{{
		Range:    wholeLine(4),
		Severity: lsp.Error,
		Source:   "echo",
		Message:  "bad thing",
	}}, ParseOutput(s, []byte("bad thing at line 5\n")))
}

func TestParsePerl(t *testing.T) {
	perl, _ := settings.BuiltinDefaults().Get("perl")
	s := mustSettings(t, perl)
	assert.Equal(t, []lsp.Diagnostic{
		{
			Range:    wholeLine(2),
			Severity: lsp.Error,
			Source:   "perl",
			Message:  `Global symbol "$x" requires explicit package name (did you forget to declare "my $x"?)`,
		},
		{
			Range:    wholeLine(6),
			Severity: lsp.Error,
			Source:   "perl",
			Message:  "syntax error",
		},
	}, ParseOutput(s, mustReadFile(t, "test_data/perl_output.txt")))
}

func TestParseFlake8(t *testing.T) {
	flake8, _ := settings.BuiltinDefaults().Get("flake8")
	s := mustSettings(t, flake8)
	diagnostics := ParseOutput(s, mustReadFile(t, "test_data/flake8_output.txt"))
	require.Equal(t, 3, len(diagnostics))
	assert.Equal(t, lsp.Diagnostic{
		Range: lsp.Range{
			Start: lsp.Position{Line: 3, Character: 79},
			End:   lsp.Position{Line: 3, Character: 79},
		},
		Severity: lsp.Error,
		Code:     "E501",
		Source:   "flake8",
		Message:  "line too long (88 > 79 characters)",
	}, diagnostics[1])
	assert.Equal(t, "F401", diagnostics[0].Code)
	assert.Equal(t, 11, diagnostics[2].Range.Start.Line)
}

func TestParseLineRoundTrip(t *testing.T) {
	s := mustSettings(t, settings.LinterSettings{
		Pattern: `^(\d+): (.*)$`,
		Line:    1,
		Message: 2,
	})
	for _, n := range []int{1, 2, 17, 1000} {
		d := ParseOutput(s, []byte(strconv.Itoa(n)+": msg"))
		require.Equal(t, 1, len(d))
		assert.Equal(t, n-1, d[0].Range.Start.Line)
	}
}

func TestParseSeverity(t *testing.T) {
	s := mustSettings(t, settings.LinterSettings{
		Pattern:  `^(\w+):(\d+):(.*)$`,
		Line:     2,
		Message:  3,
		Severity: settings.SeverityField{Index: 1},
	})
	diagnostics := ParseOutput(s, []byte("warning:1:a\ninfo:2:b\nerror:3:c\nfatal:4:d\n"))
	require.Equal(t, 4, len(diagnostics))
	assert.EqualValues(t, lsp.Warning, diagnostics[0].Severity)
	assert.EqualValues(t, lsp.Information, diagnostics[1].Severity)
	assert.EqualValues(t, lsp.Error, diagnostics[2].Severity)
	assert.EqualValues(t, lsp.Error, diagnostics[3].Severity)
}

func TestParseLiteralSeverity(t *testing.T) {
	s := mustSettings(t, settings.LinterSettings{
		Pattern:  `^(\d+):(.*)$`,
		Line:     1,
		Message:  2,
		Severity: settings.SeverityField{Literal: "info"},
	})
	diagnostics := ParseOutput(s, []byte("1:a\n"))
	require.Equal(t, 1, len(diagnostics))
	assert.EqualValues(t, lsp.Information, diagnostics[0].Severity)
}

func TestParseSkipsNonNumeric(t *testing.T) {
	s := mustSettings(t, settings.LinterSettings{
		Pattern: `^(\w+):(.*)$`,
		Line:    1,
		Message: 2,
	})
	diagnostics := ParseOutput(s, []byte("one:first\n2:second\n"))
	require.Equal(t, 1, len(diagnostics))
	assert.Equal(t, "second", diagnostics[0].Message)
	assert.Equal(t, 1, diagnostics[0].Range.Start.Line)
}

func TestParseClampsZero(t *testing.T) {
	s := mustSettings(t, settings.LinterSettings{
		Pattern: `^(\d+):(\d+):(.*)$`,
		Line:    1,
		Column:  2,
		Message: 3,
	})
	diagnostics := ParseOutput(s, []byte("0:0:whole file\n"))
	require.Equal(t, 1, len(diagnostics))
	assert.Equal(t, lsp.Position{Line: 0, Character: 0}, diagnostics[0].Range.Start)
	assert.Equal(t, lsp.Position{Line: 0, Character: 0}, diagnostics[0].Range.End)
}

func TestParseIsIdempotent(t *testing.T) {
	flake8, _ := settings.BuiltinDefaults().Get("flake8")
	s := mustSettings(t, flake8)
	out := mustReadFile(t, "test_data/flake8_output.txt")
	assert.Equal(t, ParseOutput(s, out), ParseOutput(s, out))
}

func TestParseNoMatches(t *testing.T) {
	perl, _ := settings.BuiltinDefaults().Get("perl")
	s := mustSettings(t, perl)
	diagnostics := ParseOutput(s, []byte("- syntax OK\n"))
	assert.NotNil(t, diagnostics)
	assert.Equal(t, 0, len(diagnostics))
}

func TestSeverity(t *testing.T) {
	assert.EqualValues(t, lsp.Warning, Severity("warning"))
	assert.EqualValues(t, lsp.Information, Severity("info"))
	assert.EqualValues(t, lsp.Error, Severity(""))
	assert.EqualValues(t, lsp.Error, Severity("Warning"))
}
