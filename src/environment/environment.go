// Package environment holds the environment that linter processes are spawned with
// and the provisioner that fills it in for remote container hosts.
package environment

import (
	"os"
	"sort"
	"strings"
	"sync"
)

// A Context is the set of environment overrides applied to every spawned linter process.
// It is shared between the provisioner that writes it and the runs that read it; a run
// takes a copy when it starts, so later changes only affect future runs.
// Overrides accumulate: switching to a local machine doesn't remove variables set for a previous one.
type Context struct {
	vars  map[string]string
	mutex sync.RWMutex
}

// NewContext returns a new, empty Context.
func NewContext() *Context {
	return &Context{vars: map[string]string{}}
}

// Set sets a single variable.
func (c *Context) Set(name, value string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.vars[name] = value
}

// Snapshot returns a copy of the overrides currently set.
func (c *Context) Snapshot() map[string]string {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	ret := make(map[string]string, len(c.vars))
	for k, v := range c.vars {
		ret[k] = v
	}
	return ret
}

// Environ returns this process' environment with the overrides applied, in the form
// expected by exec.Cmd.
func (c *Context) Environ() []string {
	overrides := c.Snapshot()
	env := make([]string, 0, len(overrides)+len(os.Environ()))
	for _, kv := range os.Environ() {
		name, _, _ := strings.Cut(kv, "=")
		if _, present := overrides[name]; !present {
			env = append(env, kv)
		}
	}
	names := make([]string, 0, len(overrides))
	for name := range overrides {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		env = append(env, name+"="+overrides[name])
	}
	return env
}
