package devserver

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/plugindev/internal/bundler"
	"github.com/hupe1980/plugindev/internal/logging"
	"github.com/hupe1980/plugindev/internal/scan"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// syncBuffer is a bytes.Buffer safe for the concurrent writes of Run.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// fakeBundler serves "<entry count>" for every request and records the
// entry sets it was started with.
type fakeBundler struct {
	mu       sync.Mutex
	srv      *http.Server
	starts   [][]string
	failNext error
}

func (f *fakeBundler) Serve(_ context.Context, opts bundler.Options) (bundler.Address, error) {
	if err := opts.Validate(); err != nil {
		return bundler.Address{}, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failNext != nil {
		err := f.failNext
		f.failNext = nil
		return bundler.Address{}, err
	}

	ln, err := net.Listen("tcp", net.JoinHostPort(opts.Host, strconv.Itoa(opts.Port)))
	if err != nil {
		return bundler.Address{}, err
	}

	count := strconv.Itoa(len(opts.EntryPoints))
	f.srv = &http.Server{
		Handler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = io.WriteString(w, count)
		}),
		ReadHeaderTimeout: time.Second,
	}

	go func() { _ = f.srv.Serve(ln) }()

	f.starts = append(f.starts, append([]string(nil), opts.EntryPoints...))

	return bundler.Address{Host: opts.Host, Port: opts.Port}, nil
}

func (f *fakeBundler) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.srv == nil {
		return nil
	}

	err := f.srv.Close()
	f.srv = nil

	return err
}

func (f *fakeBundler) startCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.starts)
}

func useFakeBundler(t *testing.T) *fakeBundler {
	t.Helper()

	fake := &fakeBundler{}
	prev := newBundler
	newBundler = func(string, string) (bundler.Server, error) { return fake, nil }
	t.Cleanup(func() { newBundler = prev })

	return fake
}

func skipWithoutLoopback(t *testing.T) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("skipping network-bound test: cannot bind loopback socket: %v", err)
	}

	_ = ln.Close()
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

type running struct {
	endpoints Endpoints
	out       *syncBuffer
	cancel    context.CancelFunc
	done      chan error
}

func (r *running) stop(t *testing.T) {
	t.Helper()
	r.cancel()

	select {
	case err := <-r.done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func start(t *testing.T, cfg Config) *running {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	ready := make(chan Endpoints, 1)

	cfg.Ready = func(e Endpoints) { ready <- e }
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}

	r := &running{out: &syncBuffer{}, cancel: cancel, done: make(chan error, 1)}

	go func() { r.done <- Run(ctx, cfg, r.out) }()

	select {
	case r.endpoints = <-ready:
	case err := <-r.done:
		cancel()
		t.Fatalf("Run returned before ready: %v", err)
	case <-time.After(10 * time.Second):
		cancel()
		t.Fatal("Run did not become ready")
	}

	return r
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()

	resp, err := http.Get(url) //nolint:gosec,noctx
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp.StatusCode, string(body)
}

// ---------------------------------------------------------------------------
// Config
// ---------------------------------------------------------------------------

func TestConfig_WithDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()

	assert.Equal(t, ".", cfg.Dir)
	assert.Equal(t, []string{".js", ".ts"}, cfg.Extensions)
	assert.Equal(t, "127.0.0.1", cfg.Host)
	assert.Equal(t, "esm", cfg.Format)
	assert.Equal(t, "es2020", cfg.Target)
	assert.Equal(t, bundler.KindESBuild, cfg.Bundler)
	assert.Equal(t, 300*time.Millisecond, cfg.Debounce)
	assert.Equal(t, 256, cfg.TemplateCache)
	assert.NotNil(t, cfg.Logger)
}

func TestConfig_Root(t *testing.T) {
	root, err := Config{WorkDir: "/work", Dir: "./src"}.root()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/work", "src"), root)

	root, err = Config{WorkDir: "/work", Dir: "/abs/plugins/"}.root()
	require.NoError(t, err)
	assert.Equal(t, "/abs/plugins", root)

	wd, err := os.Getwd()
	require.NoError(t, err)

	root, err = Config{Dir: "src"}.root()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(wd, "src"), root)
}

// ---------------------------------------------------------------------------
// Startup failures
// ---------------------------------------------------------------------------

func TestRun_NoEntryPoints(t *testing.T) {
	fake := useFakeBundler(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "README.md"), "# docs")

	var out bytes.Buffer
	err := Run(context.Background(), Config{WorkDir: dir, Logger: logging.Discard()}, &out)

	require.Error(t, err)
	assert.ErrorIs(t, err, scan.ErrNoEntryPoints)
	assert.Empty(t, out.String())
	assert.Equal(t, 0, fake.startCount())
}

func TestRun_MissingDirectory(t *testing.T) {
	useFakeBundler(t)

	err := Run(context.Background(), Config{WorkDir: t.TempDir(), Dir: "nope", Logger: logging.Discard()}, io.Discard)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading directory")
}

func TestRun_BundlerFailure(t *testing.T) {
	skipWithoutLoopback(t)

	fake := useFakeBundler(t)
	fake.failNext = &bundler.BuildError{Messages: []string{"a.js:1:1: error: boom\n"}}

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.js"), "export {}")

	var out bytes.Buffer
	err := Run(context.Background(), Config{WorkDir: dir, Logger: logging.Discard()}, &out)

	require.Error(t, err)

	var buildErr *bundler.BuildError
	require.True(t, errors.As(err, &buildErr))
	assert.Contains(t, err.Error(), "boom")
	assert.Empty(t, out.String())
}

func TestRun_UnknownBundler(t *testing.T) {
	skipWithoutLoopback(t)

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.js"), "export {}")

	err := Run(context.Background(), Config{WorkDir: dir, Bundler: "webpack", Logger: logging.Discard()}, io.Discard)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown bundler "webpack"`)
}

// ---------------------------------------------------------------------------
// Serving
// ---------------------------------------------------------------------------

func TestRun_ServesAndShutsDown(t *testing.T) {
	skipWithoutLoopback(t)

	fake := useFakeBundler(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "src", "a.js"), "export {}")
	writeFile(t, filepath.Join(dir, "src", "sub", "b.ts"), "export {}")
	writeFile(t, filepath.Join(dir, "src", "c.css"), "")

	r := start(t, Config{WorkDir: dir, Dir: "./src", NoColor: true})

	require.Equal(t, 1, fake.startCount())
	assert.Equal(t, []string{
		filepath.Join(dir, "src") + "/a.js",
		filepath.Join(dir, "src") + "/sub/b.ts",
	}, fake.starts[0])

	status, body := get(t, r.endpoints.URL()+"a.js")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "2", body)

	status, body = get(t, r.endpoints.URL()+"a.js?dev")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, `const modulePath = "/a.js?" + cacheBust;`)

	r.stop(t)

	lines := strings.Split(strings.TrimSpace(r.out.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "ESBuild for ./src on port "+strconv.Itoa(r.endpoints.Bundler.Port), lines[0])
	assert.Equal(t, "Development server started on "+r.endpoints.URL(), lines[1])

	_, err := net.DialTimeout("tcp", r.endpoints.Proxy.String(), 200*time.Millisecond)
	assert.Error(t, err, "proxy should be closed")

	_, err = net.DialTimeout("tcp", r.endpoints.Bundler.String(), 200*time.Millisecond)
	assert.Error(t, err, "bundler should be closed")
}

func TestRun_ColoredBanner(t *testing.T) {
	skipWithoutLoopback(t)

	useFakeBundler(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.js"), "export {}")

	r := start(t, Config{WorkDir: dir})
	r.stop(t)

	assert.Contains(t, r.out.String(), "\033[4m.\033[0m")
	assert.Contains(t, r.out.String(), "\033[1mhttp://127.0.0.1:")
}

func TestRun_PreferredPortTaken(t *testing.T) {
	skipWithoutLoopback(t)

	useFakeBundler(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.js"), "export {}")

	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()

	busyPort := busy.Addr().(*net.TCPAddr).Port

	r := start(t, Config{WorkDir: dir, ProxyPort: busyPort, BundlerPort: busyPort})
	defer r.stop(t)

	assert.NotEqual(t, busyPort, r.endpoints.Proxy.Port)
	assert.NotEqual(t, busyPort, r.endpoints.Bundler.Port)
	assert.NotEqual(t, r.endpoints.Proxy.Port, r.endpoints.Bundler.Port)
}

func TestRun_EmbeddedESBuild(t *testing.T) {
	skipWithoutLoopback(t)

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.js"), "export default class A { render() {} }\n")
	writeFile(t, filepath.Join(dir, "sub", "b.ts"), "export const b: number = 1;\n")

	r := start(t, Config{WorkDir: dir, NoColor: true})
	defer r.stop(t)

	status, body := get(t, r.endpoints.URL()+"a.js")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "render")

	status, body = get(t, r.endpoints.URL()+"sub/b.js")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "b = 1")
}

// ---------------------------------------------------------------------------
// Rescan
// ---------------------------------------------------------------------------

func TestRun_RescanRestartsBundler(t *testing.T) {
	skipWithoutLoopback(t)

	fake := useFakeBundler(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.js"), "export {}")

	r := start(t, Config{WorkDir: dir, Rescan: true, Debounce: 50 * time.Millisecond, NoColor: true})
	defer r.stop(t)

	// Let the watcher register before touching the tree.
	time.Sleep(150 * time.Millisecond)

	writeFile(t, filepath.Join(dir, "b.js"), "export {}")

	require.Eventually(t, func() bool { return fake.startCount() == 2 }, 5*time.Second, 20*time.Millisecond)

	require.Eventually(t, func() bool {
		_, body := get(t, r.endpoints.URL()+"b.js")
		return body == "2"
	}, 5*time.Second, 50*time.Millisecond)

	out := r.out.String()
	assert.Contains(t, out, "Entry points changed (+1 -0)")
	assert.Contains(t, out, "+b.js")
}

func TestSession_RescanIgnoresUnchangedSet(t *testing.T) {
	skipWithoutLoopback(t)

	fake := &fakeBundler{}
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.js"), "export {}")

	sess, entries := newTestSession(t, fake, dir)

	_, err := sess.start(context.Background(), entries)
	require.NoError(t, err)
	defer sess.close()

	sess.rescan(context.Background(), filepath.Join(dir, "a.js"))
	assert.Equal(t, 1, fake.startCount())
}

func TestSession_RescanKeepsBundlerWhenEmpty(t *testing.T) {
	skipWithoutLoopback(t)

	fake := &fakeBundler{}
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.js"), "export {}")

	sess, entries := newTestSession(t, fake, dir)

	_, err := sess.start(context.Background(), entries)
	require.NoError(t, err)
	defer sess.close()

	require.NoError(t, os.Remove(filepath.Join(dir, "a.js")))

	sess.rescan(context.Background(), filepath.Join(dir, "a.js"))
	assert.Equal(t, 1, fake.startCount())
	assert.True(t, sess.running)
}

func TestSession_RescanRetriesAfterFailure(t *testing.T) {
	skipWithoutLoopback(t)

	fake := &fakeBundler{}
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.js"), "export {}")

	sess, entries := newTestSession(t, fake, dir)

	_, err := sess.start(context.Background(), entries)
	require.NoError(t, err)
	defer sess.close()

	writeFile(t, filepath.Join(dir, "b.js"), "export {")
	fake.failNext = &bundler.BuildError{Messages: []string{"b.js:1:8: error: Expected \"}\"\n"}}

	sess.rescan(context.Background(), filepath.Join(dir, "b.js"))
	assert.False(t, sess.running)
	assert.Contains(t, sess.console.w.(*syncBuffer).String(), "build failed")

	// Same entry set, but the bundler is down: try again.
	sess.rescan(context.Background(), filepath.Join(dir, "b.js"))
	assert.True(t, sess.running)
	assert.Equal(t, 2, fake.startCount())
}

func TestSession_RescanAfterClose(t *testing.T) {
	fake := &fakeBundler{}
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.js"), "export {}")

	sess, _ := newTestSession(t, fake, dir)
	sess.close()

	writeFile(t, filepath.Join(dir, "b.js"), "export {}")
	sess.rescan(context.Background(), filepath.Join(dir, "b.js"))

	assert.Equal(t, 0, fake.startCount())
}

func TestSession_Display(t *testing.T) {
	sess := &session{root: "/plugins"}

	assert.Equal(t,
		[]string{"a.js", "sub/b.ts"},
		sess.display([]string{"/plugins/a.js", "/plugins/sub/b.ts"}),
	)
}

func newTestSession(t *testing.T, backend bundler.Server, dir string) (*session, []string) {
	t.Helper()

	sess := &session{
		backend: backend,
		fs:      afero.NewOsFs(),
		root:    dir,
		exts:    []string{".js"},
		opts: bundler.Options{
			Outbase: dir,
			Outdir:  filepath.Join(t.TempDir(), "out"),
			Format:  "esm",
			Target:  "es2020",
			Host:    "127.0.0.1",
			Port:    freePort(t),
		},
		console: newConsole(&syncBuffer{}, true),
		logger:  logging.Discard(),
	}

	entries, err := scan.Enumerate(sess.fs, dir, sess.exts)
	require.NoError(t, err)

	return sess, entries
}

func freePort(t *testing.T) int {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("skipping network-bound test: %v", err)
	}
	defer ln.Close()

	return ln.Addr().(*net.TCPAddr).Port
}
