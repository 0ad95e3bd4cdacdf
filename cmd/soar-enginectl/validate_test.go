package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePlaybookFile(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "playbook.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestRunValidate_ValidPlaybookReturnsNil(t *testing.T) {
	path := writePlaybookFile(t, `
id: PB-1
name: respond
version: 1.0.0
enabled: true
steps:
  - step_id: notify
    type: notification
    on_success:
      mode: end
    on_failure: stop
    connector:
      connector_id: slack
      action_type: post_message
`)
	assert.NoError(t, runValidate(path))
}

func TestRunValidate_EmptyStepsReturnsError(t *testing.T) {
	path := writePlaybookFile(t, `
id: PB-2
name: empty
version: 1.0.0
steps: []
`)
	assert.Error(t, runValidate(path))
}

func TestRunValidate_MissingFileReturnsError(t *testing.T) {
	assert.Error(t, runValidate("/nonexistent/playbook.yaml"))
}
