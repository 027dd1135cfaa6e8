// Package session runs one compile worker per editor session, isolated from
// the caller behind request/response channels.
package session

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/wayli-app/playground/internal/bundler"
	"github.com/wayli-app/playground/internal/vfs"
)

// Transpiler is the single-file compile path of the worker.
type Transpiler = bundler.Transpiler

// Controller accepts compile requests and answers on its response channel.
// Requests run to completion one at a time on a dedicated goroutine; there
// is no mid-build cancellation. A newer request supersedes an older one only
// at the caller, which drops responses whose Seq is stale.
type Controller struct {
	bundler    *bundler.Bundler
	transpiler Transpiler
	requests   chan submission
	responses  chan Response
	seq        atomic.Uint64
}

type submission struct {
	seq uint64
	req Request
}

const channelBuffer = 16

// NewController creates a Controller over a session's bundler and
// transpiler. Call Run to start the worker.
func NewController(b *bundler.Bundler, t Transpiler) *Controller {
	return &Controller{
		bundler:    b,
		transpiler: t,
		requests:   make(chan submission, channelBuffer),
		responses:  make(chan Response, channelBuffer),
	}
}

// Submit enqueues a request and returns its monotonic sequence id. It
// blocks only if the worker is more than a channel buffer behind.
func (c *Controller) Submit(req Request) uint64 {
	seq := c.seq.Add(1)
	c.requests <- submission{seq: seq, req: req}
	return seq
}

// Responses is the stream of worker answers, in completion order.
func (c *Controller) Responses() <-chan Response {
	return c.responses
}

// Run processes requests until the context ends. It never exits because of
// a failed or panicking build; every failure becomes an ErrorResponse.
func (c *Controller) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case s := <-c.requests:
			resp := c.handle(s)
			select {
			case c.responses <- resp:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (c *Controller) handle(s submission) (resp Response) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Uint64("seq", s.seq).Interface("panic", r).Msg("Compile worker panicked")
			resp = ErrorResponse{Seq: s.seq, Message: fmt.Sprintf("internal compiler error: %v", r)}
		}
	}()

	switch req := s.req.(type) {
	case BuildRequest:
		return c.handleBuild(s.seq, req)
	case TranspileRequest:
		return c.handleTranspile(s.seq, req)
	case ImportMapRequest:
		for name, url := range req.Imports {
			c.bundler.Override(name, url)
		}
		return ImportMapResponse{Seq: s.seq, ImportMap: c.bundler.CurrentImportMap()}
	default:
		return ErrorResponse{Seq: s.seq, Message: fmt.Sprintf("unknown request type %T", s.req)}
	}
}

func (c *Controller) handleBuild(seq uint64, req BuildRequest) Response {
	started := time.Now()

	snap, err := vfs.NewSnapshot(req.Tabs)
	if err != nil {
		buildsTotal.WithLabelValues("error").Inc()
		return ErrorResponse{Seq: seq, Message: err.Error()}
	}

	result, err := c.bundler.Bundle(snap, req.Opts)
	buildDuration.Observe(time.Since(started).Seconds())
	if err != nil {
		buildsTotal.WithLabelValues("error").Inc()
		log.Debug().Uint64("seq", seq).Err(err).Msg("Build failed")
		return ErrorResponse{Seq: seq, Message: err.Error()}
	}

	buildsTotal.WithLabelValues("ok").Inc()
	return BundleResponse{
		Seq:       seq,
		EntryPath: snap.Entry(),
		EntryCode: result.EntryCode,
		Modules:   result.Modules,
		ImportMap: result.ImportMap,
		Warnings:  result.Warnings,
	}
}

func (c *Controller) handleTranspile(seq uint64, req TranspileRequest) Response {
	code, err := c.transpiler.Transpile(req.Tab.Name, req.Tab.Source, req.Opts)
	if err != nil {
		transpilesTotal.WithLabelValues("error").Inc()
		return ErrorResponse{Seq: seq, Message: err.Error()}
	}
	transpilesTotal.WithLabelValues("ok").Inc()
	return TranspileResponse{Seq: seq, Code: code}
}
