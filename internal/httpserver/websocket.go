package httpserver

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/celerity/runtime-go/internal/authguard"
	"github.com/celerity/runtime-go/internal/blueprint"
	"github.com/celerity/runtime-go/internal/wsregistry"
)

// Reserved WebSocket route names per spec.md §4.7.
const (
	RouteConnect    = "$connect"
	RouteDisconnect = "$disconnect"
	RouteDefault    = "$default"
)

// Typed close codes used when connect-time auth fails, in the
// application-specific 4000-4999 range reserved by RFC 6455.
const (
	CloseUnauthorised = 4001
	CloseForbidden    = 4003
)

// WSContext is the argument passed to a WSRouteHandler for one inbound
// frame.
type WSContext struct {
	ConnectionID string
	Route        string
	MessageID    string
	Payload      []byte
	Auth         authguard.AuthContext
	Registry     *wsregistry.Registry
}

// WSRouteHandler implements one WebSocket route's business logic. As
// with HTTP handlers, the language-binding SDK surface is a consumed
// FFI boundary per spec.md §1; these are registered in-process by
// route name.
type WSRouteHandler func(ctx *WSContext) error

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func (s *Server) registerWebSocketRoutes(bp *blueprint.Blueprint, handlers map[string]WSRouteHandler, guards GuardResolver, api blueprint.APISpec) {
	if len(handlers) == 0 {
		return
	}
	var connectChain authguard.Chain
	if api.AuthStrategy == "connect" {
		connectChain = guards.BuildChain(api, blueprint.HandlerSpec{})
	}

	s.Echo.GET("/ws", func(c echo.Context) error {
		return s.handleWebSocketUpgrade(c, handlers, connectChain)
	})
}

func (s *Server) handleWebSocketUpgrade(c echo.Context, handlers map[string]WSRouteHandler, connectChain authguard.Chain) error {
	var authCtx authguard.AuthContext
	if len(connectChain.Guards) > 0 {
		evaluated, err := connectChain.Evaluate(c.Request())
		if err != nil {
			return s.rejectUpgrade(c, err)
		}
		authCtx = evaluated
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.log.Error("websocket upgrade failed", "error", err)
		return nil
	}

	connectionID := uuid.NewString()
	s.Registry.AddConnection(connectionID, conn, nil)

	if fn, ok := handlers[RouteConnect]; ok {
		_ = fn(&WSContext{ConnectionID: connectionID, Route: RouteConnect, Auth: authCtx, Registry: s.Registry})
	}

	go s.readLoop(connectionID, conn, handlers, authCtx)
	return nil
}

// rejectUpgrade completes the upgrade only to send a typed close frame
// and close the connection, per spec.md §4.7: "on failure, send a close
// frame with a typed close code (Unauthorised, Forbidden) and terminate."
// If the upgrade itself fails it answers with a JSON 401 instead.
func (s *Server) rejectUpgrade(c echo.Context, err error) error {
	code := CloseUnauthorised
	reason := "unauthorised"
	if guardErr, ok := err.(*authguard.Error); ok && guardErr.Kind == authguard.FailureForbidden {
		code = CloseForbidden
		reason = "forbidden"
	}

	conn, upErr := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if upErr != nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": reason})
	}
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
	return conn.Close()
}

func (s *Server) readLoop(connectionID string, conn *websocket.Conn, handlers map[string]WSRouteHandler, authCtx authguard.AuthContext) {
	defer func() {
		s.Registry.RemoveConnection(connectionID)
		_ = conn.Close()
		if fn, ok := handlers[RouteDisconnect]; ok {
			_ = fn(&WSContext{ConnectionID: connectionID, Route: RouteDisconnect, Auth: authCtx, Registry: s.Registry})
		}
	}()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var route, messageID string
		var payload []byte
		switch msgType {
		case websocket.TextMessage:
			route, payload, err = decodeTextFrame(data)
		case websocket.BinaryMessage:
			route, messageID, payload, err = decodeBinaryFrame(data)
		default:
			continue
		}
		if err != nil {
			s.log.Warn("dropping malformed websocket frame", "connection", connectionID, "error", err)
			continue
		}

		fn, ok := handlers[route]
		if !ok {
			fn, ok = handlers[RouteDefault]
		}
		if !ok {
			continue
		}
		_ = fn(&WSContext{
			ConnectionID: connectionID,
			Route:        route,
			MessageID:    messageID,
			Payload:      payload,
			Auth:         authCtx,
			Registry:     s.Registry,
		})
	}
}

// decodeTextFrame parses an inbound text frame: a JSON object carrying
// a `route_key` string field naming the route, per spec.md §4.7.
func decodeTextFrame(data []byte) (route string, payload []byte, err error) {
	var envelope map[string]any
	if err := json.Unmarshal(data, &envelope); err != nil {
		return "", nil, err
	}
	route, _ = envelope["route_key"].(string)
	if route == "" {
		route = RouteDefault
	}
	return route, data, nil
}

// decodeBinaryFrame parses `[route_len:u8][route_utf8][msgid_len:u8]
// [msgid_utf8?][payload]` per spec.md §4.7/§6.
func decodeBinaryFrame(data []byte) (route, messageID string, payload []byte, err error) {
	if len(data) < 1 {
		return "", "", nil, errShortFrame
	}
	routeLen := int(data[0])
	if len(data) < 1+routeLen+1 {
		return "", "", nil, errShortFrame
	}
	route = string(data[1 : 1+routeLen])
	off := 1 + routeLen

	msgIDLen := int(data[off])
	off++
	if len(data) < off+msgIDLen {
		return "", "", nil, errShortFrame
	}
	messageID = string(data[off : off+msgIDLen])
	off += msgIDLen

	payload = data[off:]
	return route, messageID, payload, nil
}

var errShortFrame = &frameError{"binary websocket frame shorter than its length prefixes"}

type frameError struct{ msg string }

func (e *frameError) Error() string { return e.msg }
