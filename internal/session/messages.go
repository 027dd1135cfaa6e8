package session

import (
	"github.com/wayli-app/playground/internal/bundler"
	"github.com/wayli-app/playground/internal/transpiler"
	"github.com/wayli-app/playground/internal/vfs"
)

// Request is one message to the compile worker. The concrete types below
// are the full set; the worker switches over them exhaustively.
type Request interface {
	isRequest()
}

// BuildRequest asks for a full bundle of the given tabs. The entry module
// is the first tab by convention.
type BuildRequest struct {
	Tabs []vfs.File
	Opts transpiler.Options
}

func (BuildRequest) isRequest() {}

// TranspileRequest asks for a single-file transpile.
type TranspileRequest struct {
	Tab  vfs.File
	Opts transpiler.Options
}

func (TranspileRequest) isRequest() {}

// ImportMapRequest pins bare specifiers to URLs of the user's choosing.
type ImportMapRequest struct {
	Imports map[string]string
}

func (ImportMapRequest) isRequest() {}

// Response is one message back from the compile worker. Seq echoes the
// originating request's id so callers can discard responses older than the
// last request they sent.
type Response interface {
	Sequence() uint64
}

// BundleResponse is a successful full build.
type BundleResponse struct {
	Seq       uint64
	EntryPath string
	EntryCode string
	Modules   map[string]string
	ImportMap bundler.ImportMap
	Warnings  []string
}

func (r BundleResponse) Sequence() uint64 { return r.Seq }

// TranspileResponse is a successful single-file transpile.
type TranspileResponse struct {
	Seq  uint64
	Code string
}

func (r TranspileResponse) Sequence() uint64 { return r.Seq }

// ImportMapResponse acknowledges an import-map update with the resulting
// cumulative map.
type ImportMapResponse struct {
	Seq       uint64
	ImportMap bundler.ImportMap
}

func (r ImportMapResponse) Sequence() uint64 { return r.Seq }

// ErrorResponse reports a failed request. The previous successful artifact
// stays valid; nothing partial is ever returned.
type ErrorResponse struct {
	Seq     uint64
	Message string
}

func (r ErrorResponse) Sequence() uint64 { return r.Seq }
