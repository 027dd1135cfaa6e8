// Package bundler walks a virtual file snapshot's import graph, rewrites
// every import specifier to a browser-loadable URL and emits the entry
// module's code plus an import map for its external dependencies.
package bundler

import (
	"fmt"
	"strings"
	"time"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/rs/zerolog/log"

	"github.com/wayli-app/playground/internal/registry"
	"github.com/wayli-app/playground/internal/transpiler"
	"github.com/wayli-app/playground/internal/vfs"
)

// noopModule is what a module participating in an import cycle receives for
// its back-edge: a dependency that loads and does nothing.
const noopModule = "data:text/javascript,export{}"

// Transpiler lowers one file to plain JavaScript.
type Transpiler interface {
	Transpile(filename, source string, opts transpiler.Options) (string, error)
}

// Bundler compiles a snapshot of editor tabs into a single executable
// bundle. One Bundler serves one compile session; builds run one at a time
// on the session worker, so no locking happens here.
type Bundler struct {
	transpiler Transpiler
	registry   *registry.Registry
	cdnBase    string
	importMap  ImportMap
}

// Config tunes a Bundler.
type Config struct {
	// CDNBase is the URL template for bare package imports; a bare
	// specifier "foo" resolves to "<CDNBase>/foo". Defaults to
	// "https://esm.sh".
	CDNBase string
}

// Result is the artifact of one successful build.
type Result struct {
	// EntryCode is the rewritten, transpiled entry module, returned inline
	// rather than wrapped in a resource.
	EntryCode string
	// ImportMap is the cumulative bare-specifier map after this build.
	ImportMap ImportMap
	// Modules maps every non-entry local module to its resource URL.
	Modules map[string]string
	// Warnings lists degraded-but-tolerated conditions, such as circular
	// local imports resolved to an empty module.
	Warnings []string
}

// New creates a Bundler over the given transpiler and resource registry.
func New(t Transpiler, r *registry.Registry, cfg Config) *Bundler {
	if cfg.CDNBase == "" {
		cfg.CDNBase = "https://esm.sh"
	}
	return &Bundler{
		transpiler: t,
		registry:   r,
		cdnBase:    strings.TrimSuffix(cfg.CDNBase, "/"),
		importMap:  make(ImportMap),
	}
}

type moduleState int

const (
	stateInProgress moduleState = iota
	stateDone
)

type cacheEntry struct {
	state moduleState
	url   string
}

// buildContext is the mutable state of one in-flight build. It is created
// fresh per build and never shared between builds.
type buildContext struct {
	snap     *vfs.Snapshot
	opts     transpiler.Options
	cache    map[string]*cacheEntry
	delta    ImportMap
	imported map[string]bool
	modules  map[string]string
	warnings []string
	err      error
}

// Bundle compiles the snapshot starting from its entry module.
func (b *Bundler) Bundle(snap *vfs.Snapshot, opts transpiler.Options) (*Result, error) {
	started := time.Now()

	// ModuleName selects a self-contained script for single-file
	// transpiles; bundle modules are always ES modules.
	opts.ModuleName = ""

	// The previous build's resources are retired now, before this build
	// creates any of its own.
	b.registry.RevokeAll()

	ctx := &buildContext{
		snap:     snap,
		opts:     opts,
		cache:    make(map[string]*cacheEntry),
		delta:    make(ImportMap),
		imported: make(map[string]bool),
		modules:  make(map[string]string),
	}

	// Placeholder before recursion: a module importing the entry back sees
	// the in-progress state instead of recursing forever.
	entry := snap.Entry()
	entryState := &cacheEntry{state: stateInProgress}
	ctx.cache[entry] = entryState

	entryCode, err := b.loadLocal(ctx, entry)
	if err != nil {
		return nil, err
	}
	entryState.state = stateDone
	entryState.url = noopModule

	b.importMap = mergeImportMap(b.importMap, ctx.delta, ctx.imported, b.cdnURL)

	log.Debug().
		Str("entry", entry).
		Int("modules", len(ctx.modules)).
		Int("import_map", len(b.importMap)).
		Dur("elapsed", time.Since(started)).
		Msg("Bundle complete")

	return &Result{
		EntryCode: entryCode,
		ImportMap: b.importMap.clone(),
		Modules:   ctx.modules,
		Warnings:  ctx.warnings,
	}, nil
}

// Override pins a bare specifier to a URL of the user's choosing. Overridden
// entries survive builds that no longer import the package.
func (b *Bundler) Override(name, url string) {
	b.importMap[name] = url
}

// CurrentImportMap returns a copy of the cumulative import map.
func (b *Bundler) CurrentImportMap() ImportMap {
	return b.importMap.clone()
}

// resolve turns one import specifier into its URL, memoized per build.
// Repeated imports of the same module reuse the first resolution; the
// placeholder written before recursion is what makes cycles terminate.
func (b *Bundler) resolve(ctx *buildContext, specifier string) (string, error) {
	key := specifier
	if vfs.Classify(specifier) == vfs.KindLocal {
		key = ctx.snap.Normalize(specifier)
	}

	if entry, ok := ctx.cache[key]; ok {
		if entry.state == stateInProgress {
			ctx.warnings = append(ctx.warnings,
				fmt.Sprintf("circular import of %s resolves to an empty module", key))
			return noopModule, nil
		}
		return entry.url, nil
	}

	entry := &cacheEntry{state: stateInProgress}
	ctx.cache[key] = entry

	url, err := b.resolveUncached(ctx, specifier, key)
	if err != nil {
		if ctx.err == nil {
			ctx.err = err
		}
		return "", err
	}

	entry.state = stateDone
	entry.url = url
	return url, nil
}

func (b *Bundler) resolveUncached(ctx *buildContext, specifier, key string) (string, error) {
	if vfs.IsStylesheet(specifier) {
		return b.resolveStylesheet(ctx, specifier)
	}

	switch vfs.Classify(specifier) {
	case vfs.KindResolved:
		return specifier, nil

	case vfs.KindBare:
		ctx.imported[specifier] = true
		// A user override takes precedence over the CDN template.
		if url, ok := b.importMap[specifier]; ok && url != b.cdnURL(specifier) {
			return url, nil
		}
		url := b.cdnURL(specifier)
		ctx.delta[specifier] = url
		return url, nil

	default: // vfs.KindLocal
		code, err := b.loadLocal(ctx, key)
		if err != nil {
			return "", err
		}
		url, err := b.registry.Create(code)
		if err != nil {
			return "", err
		}
		ctx.modules[key] = url
		return url, nil
	}
}

// resolveStylesheet compiles a stylesheet import into a side-effecting
// injection module and returns its resource URL.
func (b *Bundler) resolveStylesheet(ctx *buildContext, specifier string) (string, error) {
	var shim string
	switch vfs.Classify(specifier) {
	case vfs.KindLocal:
		file, ok := ctx.snap.LookupName(ctx.snap.Normalize(specifier))
		if !ok {
			return "", &vfs.ModuleNotFoundError{Path: specifier}
		}
		shim = inlineStyleShim(specifier, file.Source)
	case vfs.KindResolved:
		shim = remoteStyleShim(specifier, specifier)
	default:
		shim = remoteStyleShim(specifier, b.cdnURL(specifier))
	}
	return b.registry.Create(shim)
}

// loadLocal reads, transpiles and import-rewrites one virtual file.
func (b *Bundler) loadLocal(ctx *buildContext, path string) (string, error) {
	file, ok := ctx.snap.Lookup(path)
	if !ok {
		return "", &vfs.ModuleNotFoundError{Path: path}
	}

	code, err := b.transpiler.Transpile(file.Name, file.Source, ctx.opts)
	if err != nil {
		return "", err
	}

	return b.rewriteImports(ctx, path, code)
}

// rewriteImports finds every static and dynamic import in a transpiled
// module and replaces the literal specifier with its resolved URL. esbuild's
// lexer does the scanning, so specifiers inside comments, strings or
// computed dynamic imports are never touched.
func (b *Bundler) rewriteImports(ctx *buildContext, path, code string) (string, error) {
	plugin := api.Plugin{
		Name: "playground-resolver",
		Setup: func(build api.PluginBuild) {
			build.OnResolve(api.OnResolveOptions{Filter: `.*`},
				func(args api.OnResolveArgs) (api.OnResolveResult, error) {
					url, err := b.resolve(ctx, args.Path)
					if err != nil {
						return api.OnResolveResult{}, err
					}
					return api.OnResolveResult{Path: url, External: true}, nil
				})
		},
	}

	result := api.Build(api.BuildOptions{
		Stdin: &api.StdinOptions{
			Contents:   code,
			Sourcefile: path,
			Loader:     api.LoaderJS,
		},
		Bundle:   true,
		Write:    false,
		Format:   api.FormatESModule,
		Target:   api.ESNext,
		Charset:  api.CharsetUTF8,
		LogLevel: api.LogLevelSilent,
		Plugins:  []api.Plugin{plugin},
	})

	if ctx.err != nil {
		return "", ctx.err
	}
	if len(result.Errors) > 0 {
		msg := result.Errors[0]
		e := &transpiler.TranspileError{File: path, Detail: msg.Text}
		if msg.Location != nil {
			e.Line = msg.Location.Line
			e.Column = msg.Location.Column
		}
		return "", e
	}
	if len(result.OutputFiles) == 0 {
		return "", &transpiler.TranspileError{File: path, Detail: "rewrite produced no output"}
	}
	return string(result.OutputFiles[0].Contents), nil
}

func (b *Bundler) cdnURL(name string) string {
	return b.cdnBase + "/" + name
}
