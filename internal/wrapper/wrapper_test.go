package wrapper

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const widgetModule = `// Development plugin with auto-reload
class Plugin {
  constructor() {
    this.plugin = null;
  }
  async render(container) {
    const cacheBust = Date.now();
    const modulePath = "/widget.js?" + cacheBust;
    const { default: PluginModule } = await import(modulePath);
    this.plugin = new PluginModule();
    await this.plugin?.render?.(container);
  }
  draw(ctx) {
    this.plugin?.draw?.(ctx);
  }
  destroy() {
    this.plugin?.destroy?.();
  }
}
export default Plugin;
`

func TestRender_Golden(t *testing.T) {
	assert.Equal(t, widgetModule, Render("/widget.js"))
}

func TestRender_Deterministic(t *testing.T) {
	for _, p := range []string{"/", "/a.js", "/sub/b.js", "/with%20space.js"} {
		assert.Equal(t, Render(p), Render(p), "pathname=%s", p)
	}
}

func TestRender_EmbedsPathnameOnce(t *testing.T) {
	for _, p := range []string{"/widget.js", "/nested/dir/plugin.js", "/x%22y.js"} {
		t.Run(p, func(t *testing.T) {
			src := Render(p)
			assert.Equal(t, 1, strings.Count(src, p))
			assert.Contains(t, src, `"`+p+`?" + cacheBust`)
		})
	}
}

func TestRender_StructureIndependentOfPathname(t *testing.T) {
	a := strings.Replace(Render("/a.js"), "/a.js", "@", 1)
	b := strings.Replace(Render("/deeply/nested/b.js"), "/deeply/nested/b.js", "@", 1)
	assert.Equal(t, a, b)
}

func TestRender_CapabilitiesAreOptionalCalls(t *testing.T) {
	src := Render("/p.js")

	assert.Contains(t, src, "class Plugin")
	assert.Contains(t, src, "export default Plugin;")

	for _, c := range Capabilities {
		assert.Contains(t, src, "this.plugin?."+c.Name+"?.(", "capability %s", c.Name)
	}
}

func TestRenderCapabilities_Custom(t *testing.T) {
	src := RenderCapabilities("/p.js", []Capability{
		{Name: "mount", Arg: "el", Reload: true},
		{Name: "resize", Arg: "size"},
	})

	assert.Contains(t, src, "async mount(el) {")
	assert.Contains(t, src, "await this.plugin?.mount?.(el);")
	assert.Contains(t, src, "resize(size) {")
	assert.NotContains(t, src, "render")
}

func TestCache_Render(t *testing.T) {
	c, err := NewCache(2)
	require.NoError(t, err)

	assert.Equal(t, Render("/a.js"), c.Render("/a.js"))
	assert.Equal(t, Render("/a.js"), c.Render("/a.js"))
	assert.Equal(t, 1, c.Len())

	c.Render("/b.js")
	c.Render("/c.js")
	assert.Equal(t, 2, c.Len())
}

func TestNewCache_InvalidSize(t *testing.T) {
	_, err := NewCache(0)
	require.Error(t, err)
}
