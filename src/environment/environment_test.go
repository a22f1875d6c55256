package environment

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextEnviron(t *testing.T) {
	os.Setenv("DOCKER_LINTER_TEST_VAR", "original")
	defer os.Unsetenv("DOCKER_LINTER_TEST_VAR")

	c := NewContext()
	c.Set("DOCKER_LINTER_TEST_VAR", "overridden")
	c.Set("DOCKER_HOST", "tcp://10.0.0.1:2376")
	env := c.Environ()
	assert.Contains(t, env, "DOCKER_LINTER_TEST_VAR=overridden")
	assert.NotContains(t, env, "DOCKER_LINTER_TEST_VAR=original")
	assert.Contains(t, env, "DOCKER_HOST=tcp://10.0.0.1:2376")
	// This process' environment is never modified.
	assert.Equal(t, "original", os.Getenv("DOCKER_LINTER_TEST_VAR"))
}

func TestContextSnapshotIsACopy(t *testing.T) {
	c := NewContext()
	c.Set("A", "1")
	snapshot := c.Snapshot()
	c.Set("A", "2")
	assert.Equal(t, "1", snapshot["A"])
	assert.Equal(t, "2", c.Snapshot()["A"])
}
