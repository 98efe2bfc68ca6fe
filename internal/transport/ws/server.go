package ws

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"starhold.gg/internal/protocol"
	"starhold.gg/internal/sim/engine"
)

type Server struct {
	engine *engine.Engine
	log    zerolog.Logger

	upgrader websocket.Upgrader

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewServer(e *engine.Engine, logger zerolog.Logger) *Server {
	return &Server{
		engine: e,
		log:    logger.With().Str("component", "ws").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
		limiters: map[string]*rate.Limiter{},
	}
}

// Per-session action throttle. Connections are limited per IP on upgrade;
// this bounds how fast one authenticated session can submit ACTs.
const (
	actionRate  = rate.Limit(10)
	actionBurst = 20
)

// connLimiter throttles connection attempts per remote IP.
func (s *Server) connLimiter(remoteAddr string) *rate.Limiter {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	lim, ok := s.limiters[host]
	if !ok {
		lim = rate.NewLimiter(rate.Every(time.Second), 5)
		s.limiters[host] = lim
	}
	return lim
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !s.connLimiter(r.RemoteAddr).Allow() {
			http.Error(rw, "rate limited", http.StatusTooManyRequests)
			return
		}

		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		actorID, out := s.handshake(conn)
		if actorID == "" {
			return
		}
		s.log.Info().Str("actor", actorID).Str("remote", r.RemoteAddr).Msg("session open")

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Writer goroutine.
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case b, ok := <-out:
					if !ok {
						return
					}
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop.
		acts := rate.NewLimiter(actionRate, actionBurst)
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				cancel()
				break
			}
			base, err := protocol.DecodeBase(msg)
			if err != nil {
				s.writeError(out, "", protocol.ErrProtoBadRequest, "malformed message")
				continue
			}
			if base.ProtocolVersion != protocol.Version {
				s.writeError(out, "", protocol.ErrProtoBadRequest, "bad protocol_version")
				continue
			}

			switch base.Type {
			case protocol.TypeAct:
				var act protocol.ActMsg
				if err := json.Unmarshal(msg, &act); err != nil {
					s.writeError(out, "", protocol.ErrProtoBadRequest, "malformed ACT")
					continue
				}
				if !acts.Allow() {
					s.writeError(out, act.ReqID, protocol.ErrRateLimit, "action rate exceeded")
					continue
				}
				respCh := make(chan protocol.ResultMsg, 1)
				s.engine.Inbox() <- engine.ActionEnvelope{ActorID: actorID, Act: act, Resp: respCh}
				res := <-respCh
				if b, err := json.Marshal(res); err == nil {
					select {
					case out <- b:
					default:
						// Slow client; the result is dropped, state pushes catch it up.
					}
				}

			case protocol.TypeSync:
				var sync protocol.SyncMsg
				if err := json.Unmarshal(msg, &sync); err != nil {
					s.writeError(out, "", protocol.ErrProtoBadRequest, "malformed SYNC")
					continue
				}
				s.engine.Sync() <- engine.SyncRequest{
					ActorID:   actorID,
					SinceTick: sync.SinceTick,
					Full:      sync.Full,
				}

			default:
				s.writeError(out, "", protocol.ErrProtoBadRequest, "unexpected message type")
			}
		}

		// Cleanup.
		s.engine.Leave() <- actorID
		s.log.Info().Str("actor", actorID).Msg("session closed")
	}
}

func (s *Server) handshake(conn *websocket.Conn) (actorID string, out chan []byte) {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return "", nil
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected HELLO"), time.Now().Add(time.Second))
		return "", nil
	}

	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		return "", nil
	}
	if hello.ProtocolVersion != protocol.Version {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad protocol_version"), time.Now().Add(time.Second))
		return "", nil
	}
	if hello.ActorName == "" {
		hello.ActorName = "commander"
	}

	out = make(chan []byte, 16)

	respCh := make(chan engine.JoinResponse, 1)
	s.engine.Join() <- engine.JoinRequest{
		Name:          hello.ActorName,
		ResumeActorID: hello.ResumeActorID,
		Out:           out,
		Resp:          respCh,
	}
	resp := <-respCh
	if resp.Welcome.ActorID == "" {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "galaxy full"), time.Now().Add(time.Second))
		return "", nil
	}

	if err := writeJSON(conn, resp.Welcome); err != nil {
		return "", nil
	}
	return resp.Welcome.ActorID, out
}

func (s *Server) writeError(out chan []byte, reqID, code, reason string) {
	res := protocol.ResultMsg{
		Type:            protocol.TypeResult,
		ProtocolVersion: protocol.Version,
		ReqID:           reqID,
		Result:          protocol.Fail(code, reason),
	}
	b, err := json.Marshal(res)
	if err != nil {
		return
	}
	select {
	case out <- b:
	default:
	}
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
