package settings

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	s := &LinterSettings{
		Name:      "echo",
		Container: "c",
		Command:   "echo",
		Pattern:   `(.*) at line (\d+)`,
		Line:      2,
		Message:   1,
	}
	require.NoError(t, s.Validate())
	assert.NotNil(t, s.Regexp)
	assert.Equal(t, []string{"echo"}, s.CommandArgs())
}

func TestValidateErrors(t *testing.T) {
	base := LinterSettings{
		Name:      "test",
		Container: "c",
		Command:   "lint -",
		Pattern:   `^(\d+):(.*)$`,
		Line:      1,
		Message:   2,
	}
	for name, tc := range map[string]struct {
		modify func(s *LinterSettings)
		field  string
	}{
		"bad pattern":       {func(s *LinterSettings) { s.Pattern = "(unclosed" }, "pattern"},
		"empty pattern":     {func(s *LinterSettings) { s.Pattern = "" }, "pattern"},
		"missing line":      {func(s *LinterSettings) { s.Line = 0 }, "line"},
		"missing message":   {func(s *LinterSettings) { s.Message = 0 }, "message"},
		"column too high":   {func(s *LinterSettings) { s.Column = 3 }, "column"},
		"negative code":     {func(s *LinterSettings) { s.Code = -1 }, "code"},
		"severity too high": {func(s *LinterSettings) { s.Severity = SeverityField{Index: 5} }, "severity"},
		"empty command":     {func(s *LinterSettings) { s.Command = "  " }, "command"},
		"empty container":   {func(s *LinterSettings) { s.Container = "" }, "container"},
	} {
		t.Run(name, func(t *testing.T) {
			s := base
			tc.modify(&s)
			err := s.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrConfiguration))
			var configErr *ConfigError
			require.True(t, errors.As(err, &configErr))
			assert.Equal(t, tc.field, configErr.Field)
			assert.Equal(t, "test", configErr.Linter)
			assert.Nil(t, s.Regexp)
		})
	}
}

func TestValidateLiteralSeverityIgnoresGroupCount(t *testing.T) {
	s := &LinterSettings{
		Name:      "test",
		Container: "c",
		Command:   "lint",
		Pattern:   `^(\d+):(.*)$`,
		Line:      1,
		Message:   2,
		Severity:  SeverityField{Literal: "warning"},
	}
	assert.NoError(t, s.Validate())
}

func TestFields(t *testing.T) {
	match := []string{"all", "12", "oops", "warning"}
	assert.Equal(t, "12", Field(1).Of(match))
	assert.Equal(t, "", Field(0).Of(match))
	assert.Equal(t, "", Field(7).Of(match))
	assert.Equal(t, "warning", SeverityField{Index: 3}.Of(match))
	assert.Equal(t, "info", SeverityField{Index: 3, Literal: "info"}.Of(match))
	assert.False(t, SeverityField{}.IsSet())
	assert.True(t, SeverityField{Literal: "info"}.IsSet())
}

func TestBuiltinDefaultsAreValid(t *testing.T) {
	d := BuiltinDefaults()
	assert.Equal(t, []string{"perl", "perlcritic", "flake8", "rubocop", "php"}, d.Names())
	for _, name := range d.Names() {
		s, present := d.Get(name)
		require.True(t, present)
		assert.Equal(t, DefaultContainer, s.Container)
		assert.Equal(t, "", s.Machine)
		assert.NoError(t, s.Validate(), name)
	}
}

func TestDefaultsCopyIsIndependent(t *testing.T) {
	d := BuiltinDefaults()
	c := d.Copy()
	c.Set(LinterSettings{Name: "shellcheck", Command: "shellcheck -"})
	_, present := d.Get("shellcheck")
	assert.False(t, present)
	assert.Equal(t, 5, len(d.Names()))
	assert.Equal(t, 6, len(c.Names()))
}
