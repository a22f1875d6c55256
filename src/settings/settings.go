// Package settings contains the effective linter configuration and the logic that
// resolves it from built-in defaults, an optional defaults file and the editor's
// configuration payload.
package settings

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/op/go-logging.v1"
)

var log = logging.MustGetLogger("settings")

// ErrConfiguration is matched by every error describing unusable settings.
var ErrConfiguration = errors.New("invalid linter configuration")

// A ConfigError describes a single problem with a linter's settings.
type ConfigError struct {
	Linter string
	Field  string
	Reason string
}

func (err *ConfigError) Error() string {
	if err.Linter == "" {
		return fmt.Sprintf("Invalid configuration: %s", err.Reason)
	}
	return fmt.Sprintf("Invalid %s setting for linter %s: %s", err.Field, err.Linter, err.Reason)
}

// Is implements errors.Is so callers can test against ErrConfiguration.
func (err *ConfigError) Is(target error) bool {
	return target == ErrConfiguration
}

// A Field is a 1-based capture group index into a pattern match. Zero means unset.
type Field int

// IsSet returns true if this field refers to a capture group.
func (f Field) IsSet() bool {
	return f > 0
}

// Of returns the text of the capture group this field refers to, or the empty string if unset.
func (f Field) Of(match []string) string {
	if !f.IsSet() || int(f) >= len(match) {
		return ""
	}
	return match[f]
}

// A SeverityField is either a capture group index or a literal severity applied to every match.
type SeverityField struct {
	Index   Field
	Literal string
}

// IsSet returns true if either an index or a literal is configured.
func (f SeverityField) IsSet() bool {
	return f.Literal != "" || f.Index.IsSet()
}

// Of returns the severity text for a match.
func (f SeverityField) Of(match []string) string {
	if f.Literal != "" {
		return f.Literal
	}
	return f.Index.Of(match)
}

func (f SeverityField) String() string {
	if f.Literal != "" {
		return f.Literal
	}
	return fmt.Sprint(int(f.Index))
}

// LinterSettings is the effective parameter set for one linter.
// Once validated it is never modified; a configuration change produces a new instance.
type LinterSettings struct {
	Name      string
	Machine   string
	Container string
	Command   string
	Pattern   string
	Line      Field
	Column    Field
	Severity  SeverityField
	Message   Field
	Code      Field
	// Regexp is the compiled form of Pattern, populated by Validate.
	Regexp *regexp.Regexp
}

// Validate checks the settings are usable and compiles the pattern.
// The pattern is compiled in multi-line mode so ^ and $ anchor to each line of output.
func (s *LinterSettings) Validate() error {
	if s.Container == "" {
		return s.errorf("container", "must not be empty")
	}
	if len(s.CommandArgs()) == 0 {
		return s.errorf("command", "must not be empty")
	}
	if s.Pattern == "" {
		return s.errorf("pattern", "must not be empty")
	}
	re, err := regexp.Compile("(?m)" + s.Pattern)
	if err != nil {
		return s.errorf("pattern", "%s", err)
	}
	groups := re.NumSubexp()
	for _, f := range []struct {
		name     string
		field    Field
		required bool
	}{
		{"line", s.Line, true},
		{"column", s.Column, false},
		{"severity", s.Severity.Index, false},
		{"message", s.Message, true},
		{"code", s.Code, false},
	} {
		if f.field < 0 {
			return s.errorf(f.name, "capture group index %d is negative", f.field)
		} else if f.required && !f.field.IsSet() {
			return s.errorf(f.name, "must be set to a capture group index")
		} else if int(f.field) > groups {
			return s.errorf(f.name, "capture group %d does not exist, pattern only has %d", f.field, groups)
		}
	}
	s.Regexp = re
	return nil
}

// CommandArgs returns the linter invocation split on whitespace.
// Arguments are not shell-unquoted; a command that needs quoting can't be expressed.
func (s *LinterSettings) CommandArgs() []string {
	return strings.Fields(s.Command)
}

func (s *LinterSettings) String() string {
	return strings.Join([]string{s.Machine, s.Container, s.Command, s.Pattern}, " | ")
}

func (s *LinterSettings) errorf(field, format string, args ...interface{}) error {
	return &ConfigError{Linter: s.Name, Field: field, Reason: fmt.Sprintf(format, args...)}
}
