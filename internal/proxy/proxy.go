// Package proxy implements the public development server. It answers ?dev
// requests with a generated wrapper module and forwards everything else to
// the bundler, forcing a permissive CORS header on every response.
package proxy

import (
	"log/slog"
	"net/http"
	"net/http/httputil"

	"github.com/hupe1980/plugindev/internal/bundler"
	"github.com/hupe1980/plugindev/internal/wrapper"
)

// DevParam is the query key that switches a request to wrapper mode.
const DevParam = "dev"

const allowOriginHeader = "Access-Control-Allow-Origin"

// Renderer produces the wrapper module for a request path.
type Renderer interface {
	Render(pathname string) string
}

// RendererFunc adapts a function to Renderer.
type RendererFunc func(pathname string) string

// Render implements Renderer.
func (f RendererFunc) Render(pathname string) string { return f(pathname) }

// NewHandler returns the proxy handler forwarding to target. A nil modules
// falls back to wrapper.Render.
func NewHandler(target bundler.Address, modules Renderer, logger *slog.Logger) http.Handler {
	if modules == nil {
		modules = RendererFunc(wrapper.Render)
	}

	if logger == nil {
		logger = slog.Default()
	}

	forward := newReverseProxy(target, logger)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Has(DevParam) {
			serveWrapper(w, r, modules)
			return
		}

		forward.ServeHTTP(w, r)
	})
}

func serveWrapper(w http.ResponseWriter, r *http.Request, modules Renderer) {
	w.Header().Set("Content-Type", wrapper.ContentType)
	w.Header().Set(allowOriginHeader, "*")
	w.WriteHeader(http.StatusOK)

	// The escaped path keeps quotes percent-encoded inside the JS string.
	_, _ = w.Write([]byte(modules.Render(r.URL.EscapedPath())))
}

func newReverseProxy(target bundler.Address, logger *slog.Logger) *httputil.ReverseProxy {
	host := target.String()

	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.Out.URL.Scheme = "http"
			pr.Out.URL.Host = host
			pr.Out.Host = pr.In.Host
		},
		ModifyResponse: func(resp *http.Response) error {
			resp.Header.Set(allowOriginHeader, "*")
			return nil
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			logger.Error("forwarding to bundler failed",
				slog.String("method", r.Method),
				slog.String("path", r.URL.RequestURI()),
				slog.String("target", host),
				slog.String("error", err.Error()),
			)

			w.Header().Set(allowOriginHeader, "*")
			w.WriteHeader(http.StatusBadGateway)
		},
		// Stream immediately so esbuild's live-reload event stream works.
		FlushInterval: -1,
		ErrorLog:      slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}
}
