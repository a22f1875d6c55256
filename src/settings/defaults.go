package settings

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/peterebden/go-deferred-regex"
	"github.com/please-build/gcfg"
)

// DefaultContainer is the container name used when neither the defaults file nor
// the editor names one.
const DefaultContainer = "docker-linter"

var homeRex = deferredregex.DeferredRegex{Re: "^~(?:/|$)"}

// ExpandHomePath expands a leading ~ without a user specifier to $HOME.
func ExpandHomePath(path string) string {
	return ExpandHomePathTo(path, os.Getenv("HOME"))
}

// ExpandHomePathTo expands a leading ~ without a user specifier to the given directory.
func ExpandHomePathTo(path, home string) string {
	return homeRex.ReplaceAllStringFunc(path, func(prefix string) string {
		return strings.Replace(prefix, "~", home, 1)
	})
}

// Defaults is an ordered table of per-linter default settings.
// The order decides which linter is selected when the editor configures several.
type Defaults struct {
	names   []string
	linters map[string]LinterSettings
}

// BuiltinDefaults returns the defaults for the linters we know about out of the box.
func BuiltinDefaults() *Defaults {
	d := &Defaults{linters: map[string]LinterSettings{}}
	d.Set(LinterSettings{
		Name:    "perl",
		Command: "perl -c",
		Pattern: `(.*) at ([^ ]*) line (\d+)[.,]`,
		Message: 1,
		Line:    3,
	})
	d.Set(LinterSettings{
		Name:     "perlcritic",
		Command:  "perlcritic --verbose 1",
		Pattern:  `^[^:]*:(\d+):(\d+):(.*)$`,
		Line:     1,
		Column:   2,
		Message:  3,
		Severity: SeverityField{Literal: "warning"},
	})
	d.Set(LinterSettings{
		Name:    "flake8",
		Command: "flake8 -",
		Pattern: `^stdin:(\d+):(\d+): (\w\d+) (.*)$`,
		Line:    1,
		Column:  2,
		Code:    3,
		Message: 4,
	})
	d.Set(LinterSettings{
		Name:    "rubocop",
		Command: "rubocop --format emacs --stdin stdin.rb",
		Pattern: `^[^:]+:(\d+):(\d+): ([CWEF]): (.*)$`,
		Line:    1,
		Column:  2,
		Code:    3,
		Message: 4,
	})
	d.Set(LinterSettings{
		Name:    "php",
		Command: "php -l",
		Pattern: `^(?:PHP )?(.*) in (?:Standard input code|-) on line (\d+)`,
		Message: 1,
		Line:    2,
	})
	return d
}

// Names returns the linter names in selection order.
func (d *Defaults) Names() []string {
	return d.names[:len(d.names):len(d.names)]
}

// Get returns the defaults for a linter.
func (d *Defaults) Get(name string) (LinterSettings, bool) {
	s, present := d.linters[name]
	return s, present
}

// Set adds or replaces the defaults for a linter. New names are appended to the selection order.
func (d *Defaults) Set(s LinterSettings) {
	if s.Container == "" {
		s.Container = DefaultContainer
	}
	if _, present := d.linters[s.Name]; !present {
		d.names = append(d.names, s.Name)
	}
	d.linters[s.Name] = s
}

// Copy returns a copy of these defaults that can be modified independently.
func (d *Defaults) Copy() *Defaults {
	c := &Defaults{
		names:   append([]string{}, d.names...),
		linters: make(map[string]LinterSettings, len(d.linters)),
	}
	for k, v := range d.linters {
		c.linters[k] = v
	}
	return c
}

// fileConfig is the structure of the defaults file, for example:
//
//	[linter "perl"]
//	container = my-perl-container
//	command = perl -c -Ilib
type fileConfig struct {
	Linter map[string]*fileLinter
}

type fileLinter struct {
	Machine   string
	Container string
	Command   string
	Pattern   string
	Line      string
	Column    string
	Severity  string
	Message   string
	Code      string
}

// ReadDefaultsFile overlays the contents of a defaults file onto a copy of base.
// It's not an error for the file not to exist.
func ReadDefaultsFile(filename string, base *Defaults) (*Defaults, error) {
	d := base.Copy()
	if filename == "" {
		return d, nil
	}
	config := &fileConfig{}
	if err := gcfg.ReadFileInto(config, filename); err != nil && os.IsNotExist(err) {
		return d, nil // It's not an error to not have the file at all.
	} else if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", filename, err)
	}
	log.Debug("Reading linter defaults from %s...", filename)
	// Map iteration order is random; sort new names so the selection order is stable.
	names := make([]string, 0, len(config.Linter))
	for name := range config.Linter {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		s, _ := d.Get(name)
		s.Name = name
		if err := config.Linter[name].overlay(&s); err != nil {
			return nil, err
		}
		d.Set(s)
	}
	return d, nil
}

func (fl *fileLinter) overlay(s *LinterSettings) error {
	overlayString(&s.Machine, fl.Machine)
	overlayString(&s.Container, fl.Container)
	overlayString(&s.Command, fl.Command)
	overlayString(&s.Pattern, fl.Pattern)
	for _, f := range []struct {
		name  string
		value string
		field *Field
	}{
		{"line", fl.Line, &s.Line},
		{"column", fl.Column, &s.Column},
		{"message", fl.Message, &s.Message},
		{"code", fl.Code, &s.Code},
	} {
		if f.value == "" {
			continue
		}
		i, err := strconv.Atoi(f.value)
		if err != nil {
			return &ConfigError{Linter: s.Name, Field: f.name, Reason: fmt.Sprintf("%q is not an integer", f.value)}
		}
		*f.field = Field(i)
	}
	if fl.Severity != "" {
		if i, err := strconv.Atoi(fl.Severity); err == nil {
			s.Severity = SeverityField{Index: Field(i)}
		} else {
			s.Severity = SeverityField{Literal: fl.Severity}
		}
	}
	return nil
}

func overlayString(dest *string, value string) {
	if value != "" {
		*dest = value
	}
}
