package settings

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// payload decodes JSON the way the transport does, with float64 numbers.
func payload(t *testing.T, s string) interface{} {
	var v interface{}
	require.NoError(t, json.Unmarshal([]byte(s), &v))
	return v
}

func TestResolveOverlaysDefaults(t *testing.T) {
	res, err := Resolve(payload(t, `{"docker-linter": {"debug": true, "perl": {"container": "perl-box", "machine": ""}}}`), BuiltinDefaults(), "")
	require.NoError(t, err)
	assert.True(t, res.Debug)
	s := res.Settings
	assert.Equal(t, "perl", s.Name)
	assert.Equal(t, "perl-box", s.Container)
	assert.Equal(t, "", s.Machine)
	assert.Equal(t, "perl -c", s.Command)
	assert.EqualValues(t, 3, s.Line)
	assert.EqualValues(t, 1, s.Message)
	assert.NotNil(t, s.Regexp)
}

func TestResolveUnwrapped(t *testing.T) {
	res, err := Resolve(payload(t, `{"flake8": {"command": "flake8 --max-line-length=120 -"}}`), BuiltinDefaults(), "")
	require.NoError(t, err)
	assert.False(t, res.Debug)
	assert.Equal(t, "flake8", res.Settings.Name)
	assert.Equal(t, []string{"flake8", "--max-line-length=120", "-"}, res.Settings.CommandArgs())
}

func TestResolveAliases(t *testing.T) {
	res, err := Resolve(payload(t, `{"perl": {
		"command": "echo",
		"regexp": "(.*) at line (\\d+)",
		"line": 2,
		"message": 1,
		"severity": "warning"
	}}`), BuiltinDefaults(), "")
	require.NoError(t, err)
	s := res.Settings
	assert.Equal(t, `(.*) at line (\d+)`, s.Pattern)
	assert.EqualValues(t, 2, s.Line)
	assert.EqualValues(t, 1, s.Message)
	assert.Equal(t, SeverityField{Literal: "warning"}, s.Severity)
}

func TestResolveCanonicalKeyWins(t *testing.T) {
	res, err := Resolve(payload(t, `{"perl": {"lineField": 3, "line": 1}}`), BuiltinDefaults(), "")
	require.NoError(t, err)
	assert.EqualValues(t, 3, res.Settings.Line)
}

func TestResolveZeroOverridesOptionalDefault(t *testing.T) {
	res, err := Resolve(payload(t, `{"flake8": {"codeField": 0, "columnField": 0}}`), BuiltinDefaults(), "")
	require.NoError(t, err)
	assert.False(t, res.Settings.Code.IsSet())
	assert.False(t, res.Settings.Column.IsSet())
}

func TestResolveEmptyValuesDoNotOverride(t *testing.T) {
	res, err := Resolve(payload(t, `{"perl": {"command": "", "pattern": "", "lineField": null, "messageField": "x"}}`), BuiltinDefaults(), "")
	require.NoError(t, err)
	assert.Equal(t, "perl -c", res.Settings.Command)
	assert.EqualValues(t, 3, res.Settings.Line)
	assert.EqualValues(t, 1, res.Settings.Message)
}

func TestResolveSeverityIndex(t *testing.T) {
	res, err := Resolve(payload(t, `{"rubocop": {"severityField": 3}}`), BuiltinDefaults(), "")
	require.NoError(t, err)
	assert.Equal(t, SeverityField{Index: 3}, res.Settings.Severity)
}

func TestResolveNonIntegerField(t *testing.T) {
	_, err := Resolve(payload(t, `{"perl": {"lineField": 2.5}}`), BuiltinDefaults(), "")
	assert.True(t, errors.Is(err, ErrConfiguration))
}

func TestResolveBadPattern(t *testing.T) {
	res, err := Resolve(payload(t, `{"perl": {"pattern": "(oops"}}`), BuiltinDefaults(), "")
	assert.True(t, errors.Is(err, ErrConfiguration))
	assert.Nil(t, res.Settings)
}

func TestResolveSelectsLastEnabled(t *testing.T) {
	res, err := Resolve(payload(t, `{"perl": {}, "flake8": {}, "php": {"enable": false}}`), BuiltinDefaults(), "")
	require.NoError(t, err)
	assert.Equal(t, "flake8", res.Settings.Name)
}

func TestResolvePinned(t *testing.T) {
	res, err := Resolve(payload(t, `{"perl": {}, "flake8": {}}`), BuiltinDefaults(), "perl")
	require.NoError(t, err)
	assert.Equal(t, "perl", res.Settings.Name)

	// Pinning works with no payload at all.
	res, err = Resolve(nil, BuiltinDefaults(), "rubocop")
	require.NoError(t, err)
	assert.Equal(t, "rubocop", res.Settings.Name)
}

func TestResolvePinnedUnknown(t *testing.T) {
	_, err := Resolve(nil, BuiltinDefaults(), "eslint")
	assert.True(t, errors.Is(err, ErrConfiguration))

	// But it's fine if the payload describes it completely.
	res, err := Resolve(payload(t, `{"eslint": {"command": "eslint --stdin", "pattern": "^(\\d+):(.*)$", "line": 1, "message": 2}}`), BuiltinDefaults(), "eslint")
	require.NoError(t, err)
	assert.Equal(t, DefaultContainer, res.Settings.Container)
}

func TestResolveNothingConfigured(t *testing.T) {
	_, err := Resolve(payload(t, `{"docker-linter": {"debug": true, "unknown": {}}}`), BuiltinDefaults(), "")
	assert.True(t, errors.Is(err, ErrConfiguration))
}

func TestResolveSuggestsPinnedName(t *testing.T) {
	_, err := Resolve(nil, BuiltinDefaults(), "perlcriti")
	require.Error(t, err)
	assert.Equal(t, "Invalid name setting for linter perlcriti: unknown linter (maybe you meant perlcritic?)", err.Error())
}

func TestResolveSuggestsMisspeltLinter(t *testing.T) {
	_, err := Resolve(payload(t, `{"docker-linter": {"debug": true, "flake": {"enable": true}, "unknown": {}}}`), BuiltinDefaults(), "")
	require.Error(t, err)
	assert.Equal(t, "Invalid configuration: no enabled linter is configured, expected one of perl, perlcritic, flake8, rubocop, php; flake (maybe you meant flake8?)", err.Error())
}

func TestResolveNotAnObject(t *testing.T) {
	_, err := Resolve([]string{"perl"}, BuiltinDefaults(), "")
	assert.True(t, errors.Is(err, ErrConfiguration))
}

func TestResolveReturnsFreshSettings(t *testing.T) {
	d := BuiltinDefaults()
	a, err := Resolve(payload(t, `{"perl": {}}`), d, "")
	require.NoError(t, err)
	b, err := Resolve(payload(t, `{"perl": {"container": "other"}}`), d, "")
	require.NoError(t, err)
	assert.Equal(t, DefaultContainer, a.Settings.Container)
	assert.Equal(t, "other", b.Settings.Container)
}
