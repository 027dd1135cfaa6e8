package bundler

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wayli-app/playground/internal/registry"
	"github.com/wayli-app/playground/internal/transpiler"
	"github.com/wayli-app/playground/internal/vfs"
)

func newTestBundler(t *testing.T) (*Bundler, *registry.Registry) {
	t.Helper()
	reg := registry.New(registry.Config{BaseURL: "http://localhost:8080"})
	tr := transpiler.New(transpiler.Config{})
	return New(tr, reg, Config{CDNBase: "https://cdn.test"}), reg
}

func snapshot(t *testing.T, files ...vfs.File) *vfs.Snapshot {
	t.Helper()
	snap, err := vfs.NewSnapshot(files)
	require.NoError(t, err)
	return snap
}

// countingTranspiler counts Transpile calls per filename.
type countingTranspiler struct {
	inner Transpiler
	calls map[string]int
}

func (c *countingTranspiler) Transpile(filename, source string, opts transpiler.Options) (string, error) {
	c.calls[filename]++
	return c.inner.Transpile(filename, source, opts)
}

func TestBundleSingleFileNoImports(t *testing.T) {
	b, _ := newTestBundler(t)
	snap := snapshot(t, vfs.File{Name: "main.ts", Source: "export const x: number = 1;"})

	result, err := b.Bundle(snap, transpiler.Options{})
	require.NoError(t, err)

	assert.Contains(t, result.EntryCode, "const x = 1")
	assert.Empty(t, result.ImportMap)
	assert.Empty(t, result.Modules)
	assert.Empty(t, result.Warnings)
}

func TestBundleBareImport(t *testing.T) {
	b, _ := newTestBundler(t)
	snap := snapshot(t, vfs.File{
		Name:   "main.ts",
		Source: `import { x } from "foo-lib";` + "\nexport const y = x;",
	})

	result, err := b.Bundle(snap, transpiler.Options{})
	require.NoError(t, err)

	assert.Contains(t, result.EntryCode, `"https://cdn.test/foo-lib"`)
	assert.Equal(t, ImportMap{"foo-lib": "https://cdn.test/foo-lib"}, result.ImportMap)
}

func TestBundleLocalImport(t *testing.T) {
	b, reg := newTestBundler(t)
	snap := snapshot(t,
		vfs.File{Name: "main.ts", Source: `import { helper } from "./util";` + "\nexport const out = helper;"},
		vfs.File{Name: "util.ts", Source: "export const helper: number = 42;"},
	)

	result, err := b.Bundle(snap, transpiler.Options{})
	require.NoError(t, err)

	url, ok := result.Modules["./util"]
	require.True(t, ok)
	assert.Contains(t, result.EntryCode, url)
	assert.Contains(t, url, "/artifacts/")

	text, ok := reg.Read(url)
	require.True(t, ok)
	assert.Contains(t, text, "const helper = 42")
	assert.NotContains(t, text, ": number")
}

func TestBundleTransitiveImports(t *testing.T) {
	b, reg := newTestBundler(t)
	snap := snapshot(t,
		vfs.File{Name: "main.ts", Source: `import { a } from "./a"; export const out = a;`},
		vfs.File{Name: "a.ts", Source: `import { b } from "./b"; export const a = b + 1;`},
		vfs.File{Name: "b.ts", Source: `export const b = 1;`},
	)

	result, err := b.Bundle(snap, transpiler.Options{})
	require.NoError(t, err)

	require.Len(t, result.Modules, 2)
	aText, ok := reg.Read(result.Modules["./a"])
	require.True(t, ok)
	assert.Contains(t, aText, result.Modules["./b"])
}

func TestBundleStylesheet(t *testing.T) {
	b, reg := newTestBundler(t)
	snap := snapshot(t,
		vfs.File{Name: "main.ts", Source: `import "./styles.css";` + "\nexport const ok = true;"},
		vfs.File{Name: "styles.css", Source: "body{color:red}"},
	)

	result, err := b.Bundle(snap, transpiler.Options{})
	require.NoError(t, err)

	assert.Contains(t, result.EntryCode, "/artifacts/")
	require.Equal(t, 1, reg.ActiveCount())

	// Dig the shim out of the registry through the rewritten specifier.
	url := extractArtifactURL(t, result.EntryCode)
	shim, ok := reg.Read(url)
	require.True(t, ok)
	assert.Contains(t, shim, "body{color:red}")
	assert.Contains(t, shim, stylesheetKey("./styles.css"))
	// Inject-or-replace: the element is created only when absent and the
	// text is always (re)assigned.
	assert.Contains(t, shim, "document.getElementById")
	assert.Contains(t, shim, `document.createElement("style")`)
	assert.Contains(t, shim, "el.textContent =")
}

func TestBundleStylesheetMissing(t *testing.T) {
	b, _ := newTestBundler(t)
	snap := snapshot(t, vfs.File{Name: "main.ts", Source: `import "./missing.css";`})

	_, err := b.Bundle(snap, transpiler.Options{})
	require.Error(t, err)
	var nf *vfs.ModuleNotFoundError
	assert.ErrorAs(t, err, &nf)
}

func TestBundleRemoteStylesheet(t *testing.T) {
	b, reg := newTestBundler(t)
	snap := snapshot(t, vfs.File{
		Name:   "main.ts",
		Source: `import "https://cdn.example/reset.css";` + "\nexport const ok = true;",
	})

	result, err := b.Bundle(snap, transpiler.Options{})
	require.NoError(t, err)

	url := extractArtifactURL(t, result.EntryCode)
	shim, ok := reg.Read(url)
	require.True(t, ok)
	assert.Contains(t, shim, `"https://cdn.example/reset.css"`)
	assert.Contains(t, shim, "fetch(")
	// Remote stylesheets never land in the import map.
	assert.Empty(t, result.ImportMap)
}

func TestBundleAlreadyResolvedPassThrough(t *testing.T) {
	b, _ := newTestBundler(t)
	snap := snapshot(t, vfs.File{
		Name:   "main.ts",
		Source: `import { h } from "https://esm.sh/preact";` + "\nexport const v = h;",
	})

	result, err := b.Bundle(snap, transpiler.Options{})
	require.NoError(t, err)

	assert.Contains(t, result.EntryCode, `"https://esm.sh/preact"`)
	assert.Empty(t, result.ImportMap)
}

func TestBundleDynamicImport(t *testing.T) {
	b, _ := newTestBundler(t)
	snap := snapshot(t,
		vfs.File{Name: "main.ts", Source: `export function load() { return import("./util"); }`},
		vfs.File{Name: "util.ts", Source: "export const u = 1;"},
	)

	result, err := b.Bundle(snap, transpiler.Options{})
	require.NoError(t, err)

	url, ok := result.Modules["./util"]
	require.True(t, ok)
	assert.Contains(t, result.EntryCode, url)
}

func TestBundleComputedDynamicImportUntouched(t *testing.T) {
	b, _ := newTestBundler(t)
	snap := snapshot(t, vfs.File{
		Name:   "main.ts",
		Source: "export function load(name: string) { return import(name); }",
	})

	result, err := b.Bundle(snap, transpiler.Options{})
	require.NoError(t, err)

	assert.Contains(t, result.EntryCode, "import(name)")
	assert.Empty(t, result.Modules)
}

func TestBundleCycleSafety(t *testing.T) {
	b, reg := newTestBundler(t)
	snap := snapshot(t,
		vfs.File{Name: "a.ts", Source: `import { b } from "./b"; export const a = 1;`},
		vfs.File{Name: "b.ts", Source: `import { a } from "./a"; export const b = 2;`},
	)

	result, err := b.Bundle(snap, transpiler.Options{})
	require.NoError(t, err)

	// Both modules resolved; the back-edge into the entry became a no-op
	// module instead of recursing.
	bText, ok := reg.Read(result.Modules["./b"])
	require.True(t, ok)
	assert.Contains(t, bText, "data:text/javascript")
	require.NotEmpty(t, result.Warnings)
	assert.Contains(t, result.Warnings[0], "circular import")
}

func TestBundleSelfImport(t *testing.T) {
	b, _ := newTestBundler(t)
	snap := snapshot(t, vfs.File{
		Name:   "main.ts",
		Source: `import { other } from "./main"; export const x = other ?? 1;`,
	})

	result, err := b.Bundle(snap, transpiler.Options{})
	require.NoError(t, err)
	assert.Contains(t, result.EntryCode, "data:text/javascript")
	assert.NotEmpty(t, result.Warnings)
}

func TestBundleMemoization(t *testing.T) {
	reg := registry.New(registry.Config{BaseURL: "http://localhost:8080"})
	counting := &countingTranspiler{
		inner: transpiler.New(transpiler.Config{}),
		calls: map[string]int{},
	}
	b := New(counting, reg, Config{CDNBase: "https://cdn.test"})

	snap := snapshot(t,
		vfs.File{Name: "main.ts", Source: `import "./a"; import "./b"; export const m = 1;`},
		vfs.File{Name: "a.ts", Source: `import { c } from "./c"; export const a = c;`},
		vfs.File{Name: "b.ts", Source: `import { c } from "./c"; export const b = c;`},
		vfs.File{Name: "c.ts", Source: "export const c = 3;"},
	)

	_, err := b.Bundle(snap, transpiler.Options{})
	require.NoError(t, err)

	// The first importer pays the transpile cost; everyone else reuses the
	// cached URL.
	assert.Equal(t, 1, counting.calls["c.ts"])
	assert.Equal(t, 1, counting.calls["a.ts"])
	assert.Equal(t, 1, counting.calls["b.ts"])
}

func TestBundleDeterminism(t *testing.T) {
	files := []vfs.File{
		{Name: "main.tsx", Source: `import { helper } from "./util";` + "\n" + `import "./styles.css";` + "\nexport const App = () => <div>{helper}</div>;"},
		{Name: "util.ts", Source: "export const helper = 7;"},
		{Name: "styles.css", Source: "div{margin:0}"},
	}
	b, _ := newTestBundler(t)

	first, err := b.Bundle(snapshot(t, files...), transpiler.Options{})
	require.NoError(t, err)
	second, err := b.Bundle(snapshot(t, files...), transpiler.Options{})
	require.NoError(t, err)

	assert.Equal(t, first.EntryCode, second.EntryCode)
	assert.Equal(t, first.ImportMap, second.ImportMap)
}

func TestBundleResourceCleanup(t *testing.T) {
	files := []vfs.File{
		{Name: "main.ts", Source: `import "./styles.css"; export const ok = true;`},
		{Name: "styles.css", Source: "body{color:red}"},
	}
	b, reg := newTestBundler(t)

	_, err := b.Bundle(snapshot(t, files...), transpiler.Options{})
	require.NoError(t, err)
	_, err = b.Bundle(snapshot(t, files...), transpiler.Options{})
	require.NoError(t, err)

	// Exactly one currently-registered resource for the stylesheet; the
	// first build's generation was revoked when the second started.
	assert.Equal(t, 1, reg.ActiveCount())
}

func TestBundleMissingLocalModule(t *testing.T) {
	b, _ := newTestBundler(t)
	snap := snapshot(t, vfs.File{Name: "main.ts", Source: `import { x } from "./missing"; export const y = x;`})

	_, err := b.Bundle(snap, transpiler.Options{})
	require.Error(t, err)
	var nf *vfs.ModuleNotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Contains(t, err.Error(), "./missing")
}

func TestBundleMalformedSource(t *testing.T) {
	b, _ := newTestBundler(t)
	snap := snapshot(t, vfs.File{Name: "main.tsx", Source: "export const App = () => <div>"})

	_, err := b.Bundle(snap, transpiler.Options{})
	require.Error(t, err)
	var te *transpiler.TranspileError
	require.ErrorAs(t, err, &te)
	assert.Contains(t, err.Error(), "main.tsx")
}

func TestBundleMalformedImportedModule(t *testing.T) {
	b, _ := newTestBundler(t)
	snap := snapshot(t,
		vfs.File{Name: "main.ts", Source: `import "./broken"; export const ok = true;`},
		vfs.File{Name: "broken.tsx", Source: "export const B = () => <p>"},
	)

	_, err := b.Bundle(snap, transpiler.Options{})
	require.Error(t, err)
	var te *transpiler.TranspileError
	require.ErrorAs(t, err, &te)
	assert.Contains(t, te.File, "broken")
}

func TestImportMapMergeAcrossBuilds(t *testing.T) {
	b, _ := newTestBundler(t)

	// Build 1 imports foo-lib: default-derived entry added.
	result, err := b.Bundle(snapshot(t, vfs.File{
		Name: "main.ts", Source: `import "foo-lib"; export const a = 1;`,
	}), transpiler.Options{})
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.test/foo-lib", result.ImportMap["foo-lib"])

	// Build 2 imports bar instead: foo-lib pruned, bar added.
	result, err = b.Bundle(snapshot(t, vfs.File{
		Name: "main.ts", Source: `import "bar"; export const a = 1;`,
	}), transpiler.Options{})
	require.NoError(t, err)
	assert.NotContains(t, result.ImportMap, "foo-lib")
	assert.Equal(t, "https://cdn.test/bar", result.ImportMap["bar"])
}

func TestImportMapOverridePreserved(t *testing.T) {
	b, _ := newTestBundler(t)
	b.Override("foo-lib", "https://my-cdn/foo-lib")

	// A build that still imports foo-lib resolves it to the override.
	result, err := b.Bundle(snapshot(t, vfs.File{
		Name: "main.ts", Source: `import "foo-lib"; export const a = 1;`,
	}), transpiler.Options{})
	require.NoError(t, err)
	assert.Equal(t, "https://my-cdn/foo-lib", result.ImportMap["foo-lib"])
	assert.Contains(t, result.EntryCode, `"https://my-cdn/foo-lib"`)

	// Overrides survive even when transiently unused.
	result, err = b.Bundle(snapshot(t, vfs.File{
		Name: "main.ts", Source: "export const a = 1;",
	}), transpiler.Options{})
	require.NoError(t, err)
	assert.Equal(t, "https://my-cdn/foo-lib", result.ImportMap["foo-lib"])
}

// extractArtifactURL pulls the first registry URL out of rewritten code.
func extractArtifactURL(t *testing.T, code string) string {
	t.Helper()
	const marker = "http://localhost:8080/artifacts/"
	idx := strings.Index(code, marker)
	require.GreaterOrEqual(t, idx, 0, "no artifact URL in %q", code)
	rest := code[idx:]
	end := strings.IndexAny(rest, `"'`)
	require.Greater(t, end, 0)
	return rest[:end]
}
