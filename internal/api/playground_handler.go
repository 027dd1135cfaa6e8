package api

import (
	"context"
	"fmt"
	"sync"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/wayli-app/playground/internal/bundler"
	"github.com/wayli-app/playground/internal/registry"
	"github.com/wayli-app/playground/internal/session"
	"github.com/wayli-app/playground/internal/transpiler"
	"github.com/wayli-app/playground/internal/vfs"
)

// Events of the editor protocol.
const (
	EventRollup    = "ROLLUP"     // full bundle
	EventBabel     = "BABEL"      // single-file transpile
	EventImportMap = "IMPORT_MAP" // user import-map overrides
	EventError     = "ERROR"
)

// ClientMessage is one message from the editor UI.
type ClientMessage struct {
	Event       string             `json:"event"`
	Tabs        []vfs.File         `json:"tabs,omitempty"`
	Tab         *vfs.File          `json:"tab,omitempty"`
	CompileOpts transpiler.Options `json:"compileOpts,omitempty"`
	Imports     map[string]string  `json:"imports,omitempty"`
}

// ServerMessage is one message back to the editor UI. Seq echoes the
// request id; the UI drops responses older than its latest request.
type ServerMessage struct {
	Event     string            `json:"event"`
	Seq       uint64            `json:"seq,omitempty"`
	Compiled  interface{}       `json:"compiled,omitempty"`
	ImportMap bundler.ImportMap `json:"importMap,omitempty"`
	Warnings  []string          `json:"warnings,omitempty"`
	Error     string            `json:"error,omitempty"`
}

// wsConn serializes writes to one WebSocket connection; the read loop and
// the response pump both send.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsConn) Send(msg ServerMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(msg)
}

// handlePlayground upgrades to WebSocket and runs one compile session for
// the lifetime of the connection.
func (s *Server) handlePlayground(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	return websocket.New(s.handleSession)(c)
}

func (s *Server) handleSession(conn *websocket.Conn) {
	sessionID := uuid.New().String()

	reg := registry.New(registry.Config{
		BaseURL:         s.cfg.BaseURL,
		MaxResourceSize: s.cfg.Compiler.MaxResourceSize,
	})
	s.addRegistry(sessionID, reg)
	defer s.removeRegistry(sessionID)

	tr := transpiler.New(transpiler.Config{
		JSXImportSource: s.cfg.Compiler.JSXImportSource,
		CacheSize:       s.cfg.Compiler.TranspileCacheSize,
	})
	b := bundler.New(tr, reg, bundler.Config{CDNBase: s.cfg.Compiler.CDNBase})
	ctrl := session.NewController(b, tr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ctrl.Run(ctx)

	ws := &wsConn{conn: conn}
	go s.pumpResponses(ctx, ctrl, ws, sessionID)

	log.Info().Str("session_id", sessionID).Msg("Playground session opened")
	defer log.Info().Str("session_id", sessionID).Msg("Playground session closed")

	for {
		var msg ClientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().Err(err).Str("session_id", sessionID).Msg("WebSocket error")
			}
			return
		}
		s.handleClientMessage(ctrl, ws, msg)
	}
}

func (s *Server) handleClientMessage(ctrl *session.Controller, ws *wsConn, msg ClientMessage) {
	switch msg.Event {
	case EventRollup:
		if len(msg.Tabs) == 0 {
			_ = ws.Send(ServerMessage{Event: EventError, Error: "tabs are required for ROLLUP"})
			return
		}
		ctrl.Submit(session.BuildRequest{Tabs: msg.Tabs, Opts: msg.CompileOpts})
	case EventBabel:
		if msg.Tab == nil {
			_ = ws.Send(ServerMessage{Event: EventError, Error: "tab is required for BABEL"})
			return
		}
		ctrl.Submit(session.TranspileRequest{Tab: *msg.Tab, Opts: msg.CompileOpts})
	case EventImportMap:
		if len(msg.Imports) == 0 {
			_ = ws.Send(ServerMessage{Event: EventError, Error: "imports are required for IMPORT_MAP"})
			return
		}
		ctrl.Submit(session.ImportMapRequest{Imports: msg.Imports})
	default:
		_ = ws.Send(ServerMessage{Event: EventError, Error: fmt.Sprintf("unknown event %q", msg.Event)})
	}
}

func (s *Server) pumpResponses(ctx context.Context, ctrl *session.Controller, ws *wsConn, sessionID string) {
	for {
		select {
		case <-ctx.Done():
			return
		case resp := <-ctrl.Responses():
			if err := ws.Send(toServerMessage(resp)); err != nil {
				log.Debug().Err(err).Str("session_id", sessionID).Msg("Failed to write response")
				return
			}
		}
	}
}

// toServerMessage translates a worker response into the wire shape.
func toServerMessage(resp session.Response) ServerMessage {
	switch r := resp.(type) {
	case session.BundleResponse:
		compiled := make(map[string]string, len(r.Modules)+1)
		for path, url := range r.Modules {
			compiled[path] = url
		}
		compiled[r.EntryPath] = r.EntryCode
		return ServerMessage{
			Event:     EventRollup,
			Seq:       r.Seq,
			Compiled:  compiled,
			ImportMap: r.ImportMap,
			Warnings:  r.Warnings,
		}
	case session.TranspileResponse:
		return ServerMessage{Event: EventBabel, Seq: r.Seq, Compiled: r.Code}
	case session.ImportMapResponse:
		return ServerMessage{Event: EventImportMap, Seq: r.Seq, ImportMap: r.ImportMap}
	case session.ErrorResponse:
		return ServerMessage{Event: EventError, Seq: r.Seq, Error: r.Message}
	default:
		return ServerMessage{Event: EventError, Error: fmt.Sprintf("unknown response type %T", resp)}
	}
}
