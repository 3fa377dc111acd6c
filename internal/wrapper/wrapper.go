// Package wrapper generates the auto-reload module served for ?dev requests.
//
// The generated ES module exports a Plugin class whose methods forward to a
// freshly imported copy of the real plugin module. Forwarded calls are
// optional: a plugin that lacks a method simply ignores that call.
package wrapper

import (
	"fmt"
	"strings"
)

// ContentType is the media type of generated modules.
const ContentType = "application/javascript"

// Capability is one method of the plugin interface.
type Capability struct {
	// Name is the method name on both the wrapper and the plugin.
	Name string

	// Arg is the single parameter name, empty for a method without one.
	Arg string

	// Reload marks the method that re-imports and re-instantiates the
	// plugin module before forwarding. It is async in the generated code.
	Reload bool
}

// Capabilities is the plugin interface implemented by the wrapper.
var Capabilities = []Capability{
	{Name: "render", Arg: "container", Reload: true},
	{Name: "draw", Arg: "ctx"},
	{Name: "destroy"},
}

// Render returns the wrapper module for the plugin served at pathname. The
// pathname is embedded verbatim as the import target prefix, so callers pass
// an already URL-escaped path. The cache-busting token is computed in the
// browser, which keeps the output deterministic.
func Render(pathname string) string {
	return RenderCapabilities(pathname, Capabilities)
}

// RenderCapabilities is Render for a custom capability set.
func RenderCapabilities(pathname string, caps []Capability) string {
	var b strings.Builder

	b.WriteString("// Development plugin with auto-reload\n")
	b.WriteString("class Plugin {\n")
	b.WriteString("  constructor() {\n")
	b.WriteString("    this.plugin = null;\n")
	b.WriteString("  }\n")

	for _, c := range caps {
		if c.Reload {
			writeReload(&b, pathname, c)
			continue
		}

		fmt.Fprintf(&b, "  %s(%s) {\n", c.Name, c.Arg)
		fmt.Fprintf(&b, "    this.plugin?.%s?.(%s);\n", c.Name, c.Arg)
		b.WriteString("  }\n")
	}

	b.WriteString("}\n")
	b.WriteString("export default Plugin;\n")

	return b.String()
}

func writeReload(b *strings.Builder, pathname string, c Capability) {
	fmt.Fprintf(b, "  async %s(%s) {\n", c.Name, c.Arg)
	b.WriteString("    const cacheBust = Date.now();\n")
	fmt.Fprintf(b, "    const modulePath = \"%s?\" + cacheBust;\n", pathname)
	b.WriteString("    const { default: PluginModule } = await import(modulePath);\n")
	b.WriteString("    this.plugin = new PluginModule();\n")
	fmt.Fprintf(b, "    await this.plugin?.%s?.(%s);\n", c.Name, c.Arg)
	b.WriteString("  }\n")
}
