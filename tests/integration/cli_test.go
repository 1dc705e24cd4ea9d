package integration

import (
	"bytes"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestMain builds the databind binary once before running tests.
func TestMain(m *testing.M) {
	projectRoot, err := FindProjectRoot()
	if err != nil {
		buildErr = err
		os.Exit(1)
	}

	tmpDir, err := os.MkdirTemp("", "databind-test-*")
	if err != nil {
		buildErr = err
		os.Exit(1)
	}
	databindBin = filepath.Join(tmpDir, "databind")

	cmd := exec.Command("go", "build", "-o", databindBin, "./cmd/databind")
	cmd.Dir = projectRoot
	if output, err := cmd.CombinedOutput(); err != nil {
		buildErr = &BuildError{Err: err, Output: string(output)}
		fmt.Fprintln(os.Stderr, buildErr)
		os.Exit(1)
	}

	code := m.Run()
	os.RemoveAll(tmpDir)
	os.Exit(code)
}

const products = `[
  {"id": 1, "name": "apple", "category": "fruit", "price": 3},
  {"id": 2, "name": "brie", "category": "dairy", "price": 12},
  {"id": 3, "name": "cherry", "category": "fruit", "price": 15},
  {"id": 4, "name": "dates", "category": "fruit", "price": 9},
  {"id": 5, "name": "edam", "category": "dairy", "price": 10}
]`

func TestInitCreatesConfigAndStore(t *testing.T) {
	env := NewTestEnv(t)

	result := env.MustRun("init")
	assert.Contains(t, result.Stdout, "databind initialized in "+env.DataDir)
	assert.FileExists(t, filepath.Join(env.Config, "config.yaml"))
	assert.DirExists(t, env.DataDir)

	again := env.MustRun("init")
	assert.NotContains(t, again.Stdout, "wrote")
}

func TestImportQueryFetchLifecycle(t *testing.T) {
	env := NewTestEnv(t)
	env.MustRun("init")
	file := env.WriteFile("products.json", products)

	imported := ParseJSON[map[string]any](t, env.MustRun("--json", "import", file).Stdout)
	assert.EqualValues(t, 5, imported["created"])
	assert.EqualValues(t, 5, imported["total"])

	local := ParseJSON[Listing](t, env.MustRun("--json", "query", file,
		"--filter", "category:eq:fruit", "--sort", "price:desc").Stdout)
	assert.Equal(t, []string{"cherry", "dates", "apple"}, local.Names())
	assert.Equal(t, 3, local.Total)

	first := ParseJSON[Listing](t, env.MustRun("--json", "fetch", "--page-size", "2", "--sort", "name").Stdout)
	assert.Equal(t, []string{"apple", "brie"}, first.Names())
	assert.Equal(t, 5, first.Total)

	// A second process sees the records the first one stored.
	last := ParseJSON[Listing](t, env.MustRun("--json", "fetch", "--page-size", "2", "--page", "3", "--sort", "name").Stdout)
	assert.Equal(t, []string{"edam"}, last.Names())

	scanned := env.MustRun("scan", "--page-size", "2")
	assert.Contains(t, scanned.Stdout, "total: 5")
	assert.Equal(t, 6, strings.Count(scanned.Stdout, "\n"))
}

func TestExitCodes(t *testing.T) {
	env := NewTestEnv(t)

	missing := env.Run("query", filepath.Join(env.TempDir, "missing.json"))
	assert.Equal(t, 1, missing.ExitCode)
	assert.Contains(t, missing.Stderr, "databind:")

	require.NoError(t, os.MkdirAll(env.Config, 0o755))
	env.WriteFile("config/config.yaml", "transport: carrier-pigeon\n")
	broken := env.Run("fetch")
	assert.Equal(t, 2, broken.ExitCode)
}

func TestServeRemoteFetchAndFollow(t *testing.T) {
	env := NewTestEnv(t)
	env.MustRun("init")
	env.MustRun("import", env.WriteFile("products.json", products))

	server := env.Start("serve", "--addr", "127.0.0.1:0")
	line := server.WaitFor("serving", 20*time.Second)
	base := line[strings.Index(line, "http://"):]
	endpoint := base + "/records"

	remote := ParseJSON[Listing](t, env.MustRun("--json", "fetch",
		"--transport", "remote", "--endpoint", endpoint, "--no-cache",
		"--page-size", "2", "--sort", "price:desc").Stdout)
	assert.Equal(t, []string{"cherry", "brie"}, remote.Names())
	assert.Equal(t, 5, remote.Total)

	follower := env.Start("fetch", "--follow",
		"--transport", "remote", "--endpoint", endpoint, "--no-cache", "--page-size", "1")
	follower.WaitFor("total: 5", 20*time.Second)

	// The follower subscribes after printing its first page, so keep
	// creating records until one of them is pushed to it.
	var pushed string
	for i := 0; i < 50 && pushed == ""; i++ {
		name := fmt.Sprintf("pear-%d", i)
		body := fmt.Sprintf(`{"name": %q, "category": "fruit", "price": 4}`, name)
		resp, err := http.Post(endpoint, "application/json", bytes.NewBufferString(body))
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		if next, ok := follower.Next(200 * time.Millisecond); ok && strings.Contains(next, "pear-") {
			pushed = next
		}
	}
	require.NotEmpty(t, pushed, "no change reached the follower")
	assert.True(t, strings.HasPrefix(pushed, "create "), pushed)

	metrics, err := http.Get(base + "/metrics")
	require.NoError(t, err)
	metrics.Body.Close()
	assert.Equal(t, http.StatusOK, metrics.StatusCode)

	assert.NoError(t, follower.Stop())
	assert.NoError(t, server.Stop())
}
