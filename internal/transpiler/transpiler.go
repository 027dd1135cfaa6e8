// Package transpiler lowers one source file from the playground's JSX+TS
// dialect into plain executable JavaScript. It erases types, it never checks
// them.
package transpiler

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog/log"
)

// Generate selects the lowering target for component syntax.
const (
	GenerateDOM       = "dom"       // client render
	GenerateSSR       = "ssr"       // render to string on the server
	GenerateUniversal = "universal" // target decided at runtime
)

// Options selects the lowering applied to component syntax.
type Options struct {
	// Generate is one of "dom", "ssr" or "universal". Empty means "dom".
	Generate string `json:"generate,omitempty"`
	// Hydratable marks dom output as attaching to server-rendered markup.
	Hydratable bool `json:"hydratable,omitempty"`
	// ModuleName, when set, produces a self-contained script exposing the
	// module under this global name instead of an ES module.
	ModuleName string `json:"moduleName,omitempty"`
}

// TranspileError reports a source file that failed to parse or lower.
type TranspileError struct {
	File   string
	Line   int
	Column int
	Detail string
}

func (e *TranspileError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d:%d: %s", e.File, e.Line, e.Column, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.File, e.Detail)
}

// Transpiler converts module source text to plain JavaScript. Results are
// memoized per instance; instances are not safe for concurrent use by more
// than one build at a time, matching the one-worker-per-session model.
type Transpiler struct {
	jsxImportSource string
	memo            *lru.Cache[string, string]
}

// Config tunes a Transpiler.
type Config struct {
	// JSXImportSource is the framework package providing the automatic JSX
	// runtime. Defaults to "preact".
	JSXImportSource string
	// CacheSize bounds the transform memo. Defaults to 256 entries.
	CacheSize int
}

// New creates a Transpiler.
func New(cfg Config) *Transpiler {
	if cfg.JSXImportSource == "" {
		cfg.JSXImportSource = "preact"
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 256
	}
	memo, err := lru.New[string, string](cfg.CacheSize)
	if err != nil {
		// Only reachable with a non-positive size, which we normalized above.
		panic(err)
	}
	return &Transpiler{
		jsxImportSource: cfg.JSXImportSource,
		memo:            memo,
	}
}

// Transpile lowers a single file. Same input and options produce
// byte-identical output.
func (t *Transpiler) Transpile(filename, source string, opts Options) (string, error) {
	key := memoKey(filename, source, opts)
	if code, ok := t.memo.Get(key); ok {
		return code, nil
	}

	tOpts, err := t.transformOptions(filename, opts)
	if err != nil {
		return "", err
	}

	result := api.Transform(source, tOpts)
	if len(result.Errors) > 0 {
		return "", toTranspileError(filename, result.Errors[0])
	}
	for _, w := range result.Warnings {
		log.Debug().Str("file", filename).Str("warning", w.Text).Msg("Transform warning")
	}

	code := string(result.Code)
	t.memo.Add(key, code)
	return code, nil
}

func (t *Transpiler) transformOptions(filename string, opts Options) (api.TransformOptions, error) {
	loader, err := loaderForFile(filename)
	if err != nil {
		return api.TransformOptions{}, err
	}

	tOpts := api.TransformOptions{
		Loader:          loader,
		Target:          api.ESNext,
		Format:          api.FormatESModule,
		Charset:         api.CharsetUTF8,
		Sourcefile:      filename,
		LogLevel:        api.LogLevelSilent,
		JSX:             api.JSXAutomatic,
		JSXImportSource: t.jsxImportSource,
		Define:          map[string]string{},
	}

	switch opts.Generate {
	case "", GenerateDOM:
		tOpts.Define["import.meta.env.SSR"] = "false"
	case GenerateSSR:
		tOpts.Define["import.meta.env.SSR"] = "true"
	case GenerateUniversal:
		// Render target resolved by the runtime; leave import.meta.env alone.
	default:
		return api.TransformOptions{}, &TranspileError{
			File:   filename,
			Detail: fmt.Sprintf("unknown generate target %q", opts.Generate),
		}
	}
	if opts.Generate != GenerateSSR {
		tOpts.Define["import.meta.env.HYDRATE"] = fmt.Sprintf("%t", opts.Hydratable)
	}

	if opts.ModuleName != "" {
		tOpts.Format = api.FormatIIFE
		tOpts.GlobalName = opts.ModuleName
	}

	return tOpts, nil
}

func loaderForFile(filename string) (api.Loader, error) {
	switch strings.ToLower(path.Ext(filename)) {
	case ".tsx":
		return api.LoaderTSX, nil
	case ".ts":
		return api.LoaderTS, nil
	case ".jsx":
		return api.LoaderJSX, nil
	case ".js", ".mjs", "":
		return api.LoaderJS, nil
	case ".css":
		return api.LoaderCSS, nil
	case ".json":
		return api.LoaderJSON, nil
	default:
		return 0, &TranspileError{
			File:   filename,
			Detail: fmt.Sprintf("unsupported file extension %q", path.Ext(filename)),
		}
	}
}

func toTranspileError(filename string, msg api.Message) *TranspileError {
	e := &TranspileError{File: filename, Detail: msg.Text}
	if msg.Location != nil {
		e.Line = msg.Location.Line
		e.Column = msg.Location.Column
	}
	return e
}

func memoKey(filename, source string, opts Options) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%t\x00%s\x00", filename, opts.Generate, opts.Hydratable, opts.ModuleName)
	h.Write([]byte(source))
	return hex.EncodeToString(h.Sum(nil))
}
