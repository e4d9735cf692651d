package main

import (
	"bytes"
	"context"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	require.NoError(t, rootCmd.ExecuteContext(context.Background()), out.String())
	return out.String()
}

func TestVersion(t *testing.T) {
	assert.Regexp(t, `^espalier version \d+\.\d+\.\d+`, run(t, "version"))
}

func TestAskResumeResult(t *testing.T) {
	dir := t.TempDir()
	common := []string{"--store", "file", "--store-path", dir, "--log-level", "error"}

	out := run(t, append([]string{"ask", "What were total sales per region last month?"}, common...)...)
	m := regexp.MustCompile(`Session\s+(\S+)`).FindStringSubmatch(out)
	require.Len(t, m, 2, out)
	id := m[1]
	assert.Contains(t, out, "WAITING_FOR_INPUT")

	out = run(t, append([]string{"resume", id, "--decision", "approve"}, common...)...)
	assert.Contains(t, out, "COMPLETED")

	out = run(t, append([]string{"result", id}, common...)...)
	assert.NotEmpty(t, out)

	out = run(t, append([]string{"sessions"}, common...)...)
	assert.Contains(t, out, id)

	out = run(t, append([]string{"graph", "--session", id}, common...)...)
	assert.Contains(t, out, "graph TD")
}
