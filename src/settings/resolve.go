package settings

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/thought-machine/docker-linter/src/cli"
)

// Section is the key the editor nests our configuration under.
const Section = "docker-linter"

// maxSuggestionDistance is the furthest edit distance at which we suggest a linter name.
const maxSuggestionDistance = 3

// A Resolution is the outcome of resolving a configuration payload.
type Resolution struct {
	// Debug mirrors diagnostic log lines to the editor.
	Debug bool
	// Settings are the validated settings of the selected linter.
	Settings *LinterSettings
}

// Resolve produces the effective settings from a raw configuration payload.
// The payload may be wrapped in a "docker-linter" object or not. If pinned is non-empty
// that linter is used, otherwise the last enabled linter in the defaults' order that the
// payload mentions is selected.
// Unknown keys are ignored.
func Resolve(raw interface{}, defaults *Defaults, pinned string) (*Resolution, error) {
	payload, err := decodePayload(raw)
	if err != nil {
		return nil, &ConfigError{Reason: err.Error()}
	}
	res := &Resolution{}
	if debug, ok := payload["debug"].(bool); ok {
		res.Debug = debug
	}
	name := pinned
	if name == "" {
		for _, n := range defaults.Names() {
			if obj, ok := payload[n].(map[string]interface{}); ok && enabled(obj) {
				name = n
			}
		}
		if name == "" {
			return res, &ConfigError{Reason: "no enabled linter is configured, expected one of " + strings.Join(defaults.Names(), ", ") + suggestions(payload, defaults)}
		}
	}
	s, known := defaults.Get(name)
	obj, configured := payload[name].(map[string]interface{})
	if !known && !configured {
		return res, &ConfigError{Linter: name, Field: "name", Reason: "unknown linter" + cli.PrettyPrintSuggestion(name, defaults.Names(), maxSuggestionDistance)}
	}
	s.Name = name
	if s.Container == "" {
		s.Container = DefaultContainer
	}
	if configured {
		if err := overlay(&s, obj); err != nil {
			return res, err
		}
	}
	if err := s.Validate(); err != nil {
		return res, err
	}
	log.Debug("Resolved settings for %s: %s", name, &s)
	res.Settings = &s
	return res, nil
}

// decodePayload normalises whatever the transport decoded into a map with json.Numbers for all numbers,
// which lets us distinguish integers from other numeric values.
func decodePayload(raw interface{}) (map[string]interface{}, error) {
	if raw == nil {
		return map[string]interface{}{}, nil
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	payload, ok := v.(map[string]interface{})
	if !ok {
		if v == nil {
			return map[string]interface{}{}, nil
		}
		return nil, fmt.Errorf("settings must be an object, not %T", v)
	}
	if section, ok := payload[Section].(map[string]interface{}); ok {
		return section, nil
	}
	return payload, nil
}

// suggestions returns suggested linter names for any keys in the payload that look like misspellings of them.
func suggestions(payload map[string]interface{}, defaults *Defaults) string {
	keys := make([]string, 0, len(payload))
	for k := range payload {
		if _, known := defaults.Get(k); !known && k != "debug" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		if suggestion := cli.PrettyPrintSuggestion(k, defaults.Names(), maxSuggestionDistance); suggestion != "" {
			b.WriteString("; " + k + suggestion)
		}
	}
	return b.String()
}

func enabled(obj map[string]interface{}) bool {
	e, present := obj["enable"].(bool)
	return !present || e
}

// lookup returns the value of the first of the given keys that is present.
func lookup(obj map[string]interface{}, keys ...string) (interface{}, string, bool) {
	for _, k := range keys {
		if v, present := obj[k]; present && v != nil {
			return v, k, true
		}
	}
	return nil, "", false
}

func overlay(s *LinterSettings, obj map[string]interface{}) error {
	for _, f := range []struct {
		keys []string
		dest *string
	}{
		{[]string{"machine"}, &s.Machine},
		{[]string{"container"}, &s.Container},
		{[]string{"command"}, &s.Command},
		{[]string{"pattern", "regexp"}, &s.Pattern},
	} {
		if v, _, ok := lookup(obj, f.keys...); ok {
			if str, ok := v.(string); ok && str != "" {
				*f.dest = str
			}
		}
	}
	for _, f := range []struct {
		keys []string
		dest *Field
	}{
		{[]string{"lineField", "line"}, &s.Line},
		{[]string{"columnField", "column"}, &s.Column},
		{[]string{"messageField", "message"}, &s.Message},
		{[]string{"codeField", "code"}, &s.Code},
	} {
		if v, key, ok := lookup(obj, f.keys...); ok {
			if n, ok := v.(json.Number); ok {
				i, err := integer(s.Name, key, n)
				if err != nil {
					return err
				}
				*f.dest = i
			}
		}
	}
	if v, key, ok := lookup(obj, "severityField", "severity"); ok {
		switch v := v.(type) {
		case json.Number:
			i, err := integer(s.Name, key, v)
			if err != nil {
				return err
			}
			s.Severity = SeverityField{Index: i}
		case string:
			if v != "" {
				s.Severity = SeverityField{Literal: v}
			}
		}
	}
	return nil
}

func integer(linter, key string, n json.Number) (Field, error) {
	i, err := n.Int64()
	if err != nil {
		return 0, &ConfigError{Linter: linter, Field: key, Reason: fmt.Sprintf("%s is not an integer", n)}
	}
	return Field(i), nil
}
