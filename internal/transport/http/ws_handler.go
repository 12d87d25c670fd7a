package http

import (
	"context"
	"errors"
	"io"
	stdhttp "net/http"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-rendezvous/internal/auth"
	"github.com/vovakirdan/wirechat-rendezvous/internal/bridge"
	"github.com/vovakirdan/wirechat-rendezvous/internal/config"
	"github.com/vovakirdan/wirechat-rendezvous/internal/core"
	"github.com/vovakirdan/wirechat-rendezvous/internal/proto"
)

// maxCloseReason keeps close frames under the 125 byte control frame limit.
const maxCloseReason = 120

// WSHandler upgrades HTTP connections and hands each one to a bridge.
type WSHandler struct {
	hub    bridge.Registry
	jwtCfg *auth.JWTConfig
	cfg    *config.Config
	log    *zerolog.Logger
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(hub bridge.Registry, jwtCfg *auth.JWTConfig, cfg *config.Config, logger *zerolog.Logger) stdhttp.Handler {
	return &WSHandler{hub: hub, jwtCfg: jwtCfg, cfg: cfg, log: logger}
}

func (h *WSHandler) ServeHTTP(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	var profile *proto.Client
	if h.jwtCfg.Enabled() {
		claims, err := h.authenticate(r)
		if err != nil {
			h.log.Debug().Err(err).Str("remote_addr", r.RemoteAddr).Msg("ws join rejected")
			stdhttp.Error(w, "unauthorized", stdhttp.StatusUnauthorized)
			return
		}
		if claims.Name != "" || claims.Contact != "" {
			profile = &proto.Client{Name: claims.Name, Contact: claims.Contact}
		}
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "internal error")
	if h.cfg.MaxFrameBytes > 0 {
		conn.SetReadLimit(h.cfg.MaxFrameBytes)
	}

	b := bridge.New(h.hub, wsTransport{conn: conn}, bridge.Config{
		OutboundBuffer:     h.cfg.OutboundBuffer,
		RegisterTimeout:    h.cfg.RegisterTimeout,
		VerifySender:       h.cfg.VerifySender,
		MaxFramesPerMinute: h.cfg.MaxFramesPerMinute,
		PeerAddr:           r.RemoteAddr,
		Profile:            profile,
	}, h.log)

	err = b.Run(r.Context())
	status, reason := closeStatus(err)
	if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway {
		h.log.Warn().Err(err).Stringer("client_id", b.Identity()).Msg("ws connection closed with error")
	}

	conn.Close(status, reason)
}

// authenticate accepts the token as ?token= (browsers cannot set headers
// on a WebSocket handshake) or as a bearer header.
func (h *WSHandler) authenticate(r *stdhttp.Request) (*auth.Claims, error) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = bearerToken(r)
	}
	if token == "" {
		return nil, auth.ErrInvalidToken
	}
	return auth.ValidateToken(h.jwtCfg, token)
}

// closeStatus maps the reason a bridge stopped to a close frame.
func closeStatus(err error) (websocket.StatusCode, string) {
	switch {
	case err == nil, errors.Is(err, context.Canceled), errors.Is(err, io.EOF):
		return websocket.StatusNormalClosure, "closing"
	case errors.Is(err, bridge.ErrEvicted):
		return websocket.StatusNormalClosure, "closed by server"
	case errors.Is(err, bridge.ErrRegistration), errors.Is(err, core.ErrHubStopped):
		return websocket.StatusTryAgainLater, "server unavailable"
	}
	if s := websocket.CloseStatus(err); s == websocket.StatusNormalClosure || s == websocket.StatusGoingAway {
		return s, "closing"
	}
	reason := err.Error()
	if len(reason) > maxCloseReason {
		reason = reason[:maxCloseReason]
	}
	return websocket.StatusInternalError, reason
}

// wsTransport adapts a WebSocket connection to bridge.Transport.
type wsTransport struct {
	conn *websocket.Conn
}

func (t wsTransport) ReadFrame(ctx context.Context) (bridge.Frame, error) {
	typ, data, err := t.conn.Read(ctx)
	if err != nil {
		return bridge.Frame{}, err
	}
	return bridge.Frame{Binary: typ == websocket.MessageBinary, Data: data}, nil
}

func (t wsTransport) WriteFrame(ctx context.Context, data []byte) error {
	return t.conn.Write(ctx, websocket.MessageBinary, data)
}
