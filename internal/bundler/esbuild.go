package bundler

import (
	"context"
	"fmt"
	"sync"

	"github.com/evanw/esbuild/pkg/api"
)

var formats = map[string]api.Format{
	"esm":  api.FormatESModule,
	"cjs":  api.FormatCommonJS,
	"iife": api.FormatIIFE,
}

var targets = map[string]api.Target{
	"es2015": api.ES2015,
	"es2016": api.ES2016,
	"es2017": api.ES2017,
	"es2018": api.ES2018,
	"es2019": api.ES2019,
	"es2020": api.ES2020,
	"es2021": api.ES2021,
	"es2022": api.ES2022,
	"esnext": api.ESNext,
}

// ESBuild runs esbuild in-process.
type ESBuild struct {
	mu  sync.Mutex
	ctx api.BuildContext
}

// NewESBuild returns an in-process esbuild server.
func NewESBuild() *ESBuild {
	return &ESBuild{}
}

// Serve implements Server.
func (e *ESBuild) Serve(ctx context.Context, opts Options) (Address, error) {
	if err := opts.Validate(); err != nil {
		return Address{}, err
	}

	if err := ctx.Err(); err != nil {
		return Address{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.ctx != nil {
		return Address{}, fmt.Errorf("esbuild is already serving")
	}

	bctx, ctxErr := api.Context(buildOptions(opts))
	if ctxErr != nil {
		return Address{}, &BuildError{Messages: formatErrors(ctxErr.Errors)}
	}

	// Serve mode builds lazily; an eager build surfaces syntax errors and
	// unreadable entry points at startup.
	if result := bctx.Rebuild(); len(result.Errors) > 0 {
		bctx.Dispose()
		return Address{}, &BuildError{Messages: formatErrors(result.Errors)}
	}

	served, err := bctx.Serve(api.ServeOptions{
		Host: opts.Host,
		Port: uint16(opts.Port), //nolint:gosec // validated above
	})
	if err != nil {
		bctx.Dispose()
		return Address{}, fmt.Errorf("starting esbuild server on %s: %w", Address{opts.Host, opts.Port}, err)
	}

	e.ctx = bctx

	host := served.Host
	if host == "" {
		host = opts.Host
	}

	return Address{Host: host, Port: int(served.Port)}, nil
}

// Close implements Server.
func (e *ESBuild) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.ctx != nil {
		e.ctx.Dispose()
		e.ctx = nil
	}

	return nil
}

func buildOptions(opts Options) api.BuildOptions {
	return api.BuildOptions{
		EntryPoints: opts.EntryPoints,
		Bundle:      true,
		Format:      formats[opts.Format],
		Target:      targets[opts.Target],
		Outdir:      opts.Outdir,
		Outbase:     opts.Outbase,
		LogLevel:    api.LogLevelSilent,
	}
}

func formatErrors(msgs []api.Message) []string {
	return api.FormatMessages(msgs, api.FormatMessagesOptions{
		Kind: api.ErrorMessage,
	})
}
