//go:build integration && linux

package integration

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-arndt/setzkasten/internal/api"
	"github.com/p-arndt/setzkasten/internal/clock"
	"github.com/p-arndt/setzkasten/internal/metastore"
	"github.com/p-arndt/setzkasten/internal/render"
	"github.com/p-arndt/setzkasten/internal/session"
	"github.com/p-arndt/setzkasten/internal/tasks"
)

const basicDocument = `\documentclass{article}
\begin{document}
Hello, world.
\end{document}
`

func requireBinary(t *testing.T, name string) {
	t.Helper()
	if _, err := exec.LookPath(name); err != nil {
		t.Skipf("%s not installed", name)
	}
}

func startTestServer(t *testing.T) string {
	t.Helper()
	requireBinary(t, "xelatex")

	st, err := metastore.NewSQLite(filepath.Join(t.TempDir(), "meta.db"))
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	clk := clock.System{}

	mgr, err := session.NewManager(st, clk, t.TempDir(), "e2e-test", 300)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())

	renderer := render.New(mgr, logger, 2*time.Minute)
	local := tasks.NewLocal(renderer, 16, logger)
	go local.Run(ctx)

	srv := api.NewServer(mgr, local, clk, logger)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	httpServer := &http.Server{Handler: srv.Handler()}
	go httpServer.Serve(listener)

	t.Cleanup(func() {
		cancel()
		httpServer.Close()
		st.Close()
	})
	return fmt.Sprintf("http://%s", listener.Addr().String())
}

// waitCompiled polls until the session leaves the finalized status.
func waitCompiled(t *testing.T, c *testClient, key string) map[string]any {
	t.Helper()
	deadline := time.Now().Add(2 * time.Minute)
	for time.Now().Before(deadline) {
		sess := c.getSession(t, key)
		status := sess["status"].(string)
		if status != "finalized" {
			return sess
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatal("session did not finish compiling")
	return nil
}

func TestCompileBasicDocument(t *testing.T) {
	baseURL := startTestServer(t)
	c := newTestClient(baseURL)

	sess := c.createSession(t, map[string]any{"compiler": "xelatex", "target": "main.tex"})
	key := sess["key"].(string)

	c.uploadFile(t, key, "main.tex", basicDocument)
	c.finalize(t, key)

	done := waitCompiled(t, c, key)
	require.Equal(t, "success", done["status"], "log: %s", c.fetchText(t, key, "log"))

	pdf := c.fetch(t, key, "product")
	assert.Equal(t, "application/pdf", pdf.Header.Get("Content-Type"))
	pdf.Body.Close()
}

func TestCompileBadSource(t *testing.T) {
	baseURL := startTestServer(t)
	c := newTestClient(baseURL)

	sess := c.createSession(t, map[string]any{"compiler": "xelatex", "target": "main.tex"})
	key := sess["key"].(string)

	c.uploadFile(t, key, "main.tex", `\documentclass{notarealarticle}
\begin{document}
x
\end{document}
`)
	c.finalize(t, key)

	done := waitCompiled(t, c, key)
	assert.Equal(t, "error", done["status"])
	assert.Contains(t, c.fetchText(t, key, "log"), "notarealarticle.cls' not found")

	resp := c.fetch(t, key, "product")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestCompileTemplated(t *testing.T) {
	baseURL := startTestServer(t)
	c := newTestClient(baseURL)

	sess := c.createSession(t, map[string]any{"compiler": "xelatex", "target": "main.tex"})
	key := sess["key"].(string)

	c.addTemplate(t, key, map[string]any{
		"target": "main.tex",
		"text": `\documentclass{article}
\begin{document}
\BLOCK{for name in names}\EXPR{name} \BLOCK{endfor}
\end{document}
`,
		"data": map[string]any{"names": []string{"Ada", "Edsger"}},
	})
	c.finalize(t, key)

	done := waitCompiled(t, c, key)
	require.Equal(t, "success", done["status"], "log: %s", c.fetchText(t, key, "log"))
}

func TestCompileWithRasterization(t *testing.T) {
	baseURL := startTestServer(t)
	c := newTestClient(baseURL)
	requireBinary(t, "pdftoppm")

	sess := c.createSession(t, map[string]any{
		"compiler": "xelatex",
		"target":   "main.tex",
		"convert":  map[string]any{"format": "png", "dpi": 150},
	})
	key := sess["key"].(string)

	c.uploadFile(t, key, "main.tex", basicDocument)
	c.finalize(t, key)

	done := waitCompiled(t, c, key)
	require.Equal(t, "success", done["status"], "log: %s", c.fetchText(t, key, "log"))

	img := c.fetch(t, key, "product")
	assert.Equal(t, "image/png", img.Header.Get("Content-Type"))
	img.Body.Close()
}
