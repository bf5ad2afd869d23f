package cli

import (
	"bytes"
	"context"
	"errors"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sparkleshare/sparkleshare-go/internal/dashboard"
	"github.com/sparkleshare/sparkleshare-go/pkg/client"
	"github.com/sparkleshare/sparkleshare-go/pkg/tree"
)

type harness struct {
	cfgFile string
	srv     *dashboard.Server
	ts      *httptest.Server
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	content := dashboard.NewContent()
	proj, err := content.AddProject("p1", "notes")
	require.NoError(t, err)
	_, err = content.AddFile(proj, "f42", "readme.md", "text/markdown", []byte("# Title"))
	require.NoError(t, err)
	docs, err := content.AddFolder(proj, "d1", "docs")
	require.NoError(t, err)
	_, err = content.AddFile(docs, "f7", "todo.txt", "", []byte("- one"))
	require.NoError(t, err)

	srv := dashboard.NewServer(dashboard.NewAuth("secret", time.Minute), content, 0)
	srv.Auth().AddCode("ABC123")
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "config.yaml")
	yaml := "logging:\n  level: error\n" +
		"client:\n  device_name: test-device\n  request_timeout: 5s\n" +
		"store:\n  backend: file\n  path: " + filepath.Join(dir, "data") + "\n"
	require.NoError(t, os.WriteFile(cfgFile, []byte(yaml), 0o600))

	return &harness{cfgFile: cfgFile, srv: srv, ts: ts}
}

// run executes one CLI invocation with its own app, like a fresh process.
func (h *harness) run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	a := &app{}
	cmd := newRootCmd(a)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"--config", h.cfgFile}, args...))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := cmd.ExecuteContext(ctx)
	require.NoError(t, a.close())
	return out.String(), err
}

func TestCLI_LinkBrowseEdit(t *testing.T) {
	h := newHarness(t)

	out, err := h.run(t, "", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "Not linked")

	out, err = h.run(t, "", "link", h.ts.URL, "--code", "ABC123")
	require.NoError(t, err)
	assert.Contains(t, out, "Linked to "+h.ts.URL+" as test-device")

	out, err = h.run(t, "", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "connected")

	out, err = h.run(t, "", "ls")
	require.NoError(t, err)
	assert.Contains(t, out, "project")
	assert.Contains(t, out, "notes")

	out, err = h.run(t, "", "ls", "d1")
	require.NoError(t, err)
	assert.Contains(t, out, "todo.txt")
	assert.Contains(t, out, "f7")

	out, err = h.run(t, "", "cat", "f7")
	require.NoError(t, err)
	assert.Equal(t, "- one", out)

	out, err = h.run(t, "", "recent")
	require.NoError(t, err)
	assert.Contains(t, out, "notes/docs/todo.txt")

	// The second lookup goes through the recent entry.
	out, err = h.run(t, "- one\n- two", "save", "f7")
	require.NoError(t, err)
	assert.Contains(t, out, "Saved todo.txt (11 bytes)")
	data, _, err := h.srv.Content().File("f7")
	require.NoError(t, err)
	assert.Equal(t, "- one\n- two", string(data))

	out, err = h.run(t, "", "recent", "rm", "f7")
	require.NoError(t, err)
	assert.Contains(t, out, "Removed 1 entries")

	out, err = h.run(t, "", "recent", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No recent files")
}

func TestCLI_LinkPromptsForCode(t *testing.T) {
	h := newHarness(t)
	out, err := h.run(t, "ABC123\n", "link", h.ts.URL)
	require.NoError(t, err)
	assert.Contains(t, out, "Link code: ")
	assert.Contains(t, out, "Linked to")
}

func TestCLI_ReusedCodeFails(t *testing.T) {
	h := newHarness(t)
	_, err := h.run(t, "", "link", h.ts.URL, "--code", "ABC123")
	require.NoError(t, err)

	_, err = h.run(t, "", "link", h.ts.URL, "--code", "ABC123")
	require.Error(t, err)
	assert.True(t, client.IsAuth(err), "expected auth error, got %v", err)

	// The first link survives the failed attempt.
	out, err := h.run(t, "", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "connected")
}

func TestCLI_Unlink(t *testing.T) {
	h := newHarness(t)
	_, err := h.run(t, "", "link", h.ts.URL, "--code", "ABC123")
	require.NoError(t, err)

	out, err := h.run(t, "", "unlink")
	require.NoError(t, err)
	assert.Contains(t, out, "Unlinked from")

	_, err = h.run(t, "", "ls")
	assert.ErrorIs(t, err, client.ErrNotLinked)
}

func TestCLI_CatUnknownFile(t *testing.T) {
	h := newHarness(t)
	_, err := h.run(t, "", "link", h.ts.URL, "--code", "ABC123")
	require.NoError(t, err)

	_, err = h.run(t, "", "cat", "nope")
	assert.ErrorContains(t, err, "not found")

	_, err = h.run(t, "", "cat", "d1")
	assert.ErrorContains(t, err, "is a folder")
}

func TestReadInput(t *testing.T) {
	data, err := readInput(strings.NewReader("stdin"), nil)
	require.NoError(t, err)
	assert.Equal(t, "stdin", string(data))

	path := filepath.Join(t.TempDir(), "in.txt")
	require.NoError(t, os.WriteFile(path, []byte("file"), 0o600))
	data, err = readInput(strings.NewReader("stdin"), []string{path})
	require.NoError(t, err)
	assert.Equal(t, "file", string(data))

	_, err = readInput(nil, []string{filepath.Join(t.TempDir(), "missing")})
	assert.Error(t, err)
}

type brokenWriter struct{}

func (brokenWriter) Write([]byte) (int, error) { return 0, errors.New("pipe closed") }

func TestPrintItems(t *testing.T) {
	items := []tree.Node{tree.NewFile(nil, nil, tree.Info{Name: "a.md", SSID: "f1", Size: 12})}

	var out bytes.Buffer
	require.NoError(t, printItems(&out, items))
	assert.Contains(t, out.String(), "f1")
	assert.Contains(t, out.String(), "a.md")

	assert.EqualError(t, printItems(brokenWriter{}, items), "pipe closed")
}
