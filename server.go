package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"paddleserve/broker/internal/config"
	"paddleserve/broker/internal/logging"
	"paddleserve/broker/internal/protocol"
	"paddleserve/broker/internal/storage"
)

// Server binds the websocket endpoints to the arena.
type Server struct {
	cfg      *config.Config
	log      *logging.Logger
	arena    *Arena
	ids      Identities
	auth     websocketAuthenticator
	upgrader websocket.Upgrader
}

// NewServer wires the HTTP surface for the given arena.
func NewServer(cfg *config.Config, logger *logging.Logger, arena *Arena, ids Identities) *Server {
	if logger == nil {
		logger = logging.L()
	}
	server := &Server{
		cfg:   cfg,
		log:   logger,
		arena: arena,
		ids:   ids,
		auth:  forwardedIdentityAuthenticator{},
	}
	server.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     server.checkOrigin,
	}
	return server
}

// Router exposes the full route table.
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/ws/pong", s.servePong)
	router.HandleFunc("/ws/tournament", s.serveTournament)
	router.HandleFunc("/ws/status", s.serveStatus)
	router.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return router
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// accept upgrades the request and verifies the caller's identity, closing
// the socket with the appropriate policy code when verification fails.
func (s *Server) accept(w http.ResponseWriter, r *http.Request) (*Client, bool) {
	userID, authErr := s.auth.Authenticate(r)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("websocket upgrade failed", logging.Error(err))
		return nil, false
	}
	client := newClient(conn, userID, s.log)

	//1.- The close code tells the client whether to re-authenticate or give up.
	if authErr != nil {
		client.CloseWithCode(protocol.CloseNoIdentity, authErr.Error())
		return nil, false
	}
	if s.ids != nil {
		if _, err := s.ids.Lookup(r.Context(), userID); errors.Is(err, storage.ErrNotFound) {
			client.CloseWithCode(protocol.CloseUnknownIdentity, "unknown identity")
			return nil, false
		}
	}
	return client, true
}

// servePong handles the casual-play endpoint: queue on connect, forfeit on
// disconnect.
func (s *Server) servePong(w http.ResponseWriter, r *http.Request) {
	client, ok := s.accept(w, r)
	if !ok {
		return
	}
	ctx := context.Background()
	go client.writePump(s.cfg.PingInterval)
	s.arena.JoinQueue(ctx, client)
	client.readPump(s.cfg.MaxPayloadBytes, s.pongWait(), func(msg *protocol.ClientMessage) {
		switch msg.Action {
		case protocol.ActionMovePaddle:
			s.arena.MovePaddle(client, msg.Position)
		case protocol.ActionGameOver:
			//1.- Results are decided server side; the client's view is noted
			// and dropped.
			s.log.Debug("client-reported result ignored",
				logging.String("user_id", client.UserID()))
		default:
			client.Send(protocol.Encode(protocol.Errorf("unsupported action on this endpoint")))
		}
	})
	s.arena.LeaveGame(ctx, client)
}

// serveTournament handles the bracket endpoint: lobby management plus the
// gameplay of bracket matches.
func (s *Server) serveTournament(w http.ResponseWriter, r *http.Request) {
	client, ok := s.accept(w, r)
	if !ok {
		return
	}
	ctx := context.Background()
	go client.writePump(s.cfg.PingInterval)
	s.arena.JoinLobby(client)
	client.readPump(s.cfg.MaxPayloadBytes, s.pongWait(), func(msg *protocol.ClientMessage) {
		switch msg.Action {
		case protocol.ActionCreateTourney:
			s.arena.CreateTournament(ctx, client)
		case protocol.ActionJoinTourney:
			s.arena.JoinTournament(ctx, client, msg.Token)
		case protocol.ActionStartTourney:
			s.arena.StartTournament(ctx, client, msg.Token)
		case protocol.ActionMovePaddle:
			s.arena.MovePaddle(client, msg.Position)
		case protocol.ActionGameOver:
			s.log.Debug("client-reported result ignored",
				logging.String("user_id", client.UserID()))
		default:
			client.Send(protocol.Encode(protocol.Errorf("unsupported action on this endpoint")))
		}
	})
	s.arena.LeaveLobby(ctx, client)
}

// serveStatus handles the presence endpoint.
func (s *Server) serveStatus(w http.ResponseWriter, r *http.Request) {
	client, ok := s.accept(w, r)
	if !ok {
		return
	}
	ctx := context.Background()
	go client.writePump(s.cfg.PingInterval)
	s.arena.JoinStatus(ctx, client)
	client.readPump(s.cfg.MaxPayloadBytes, s.pongWait(), func(msg *protocol.ClientMessage) {
		switch msg.Action {
		case protocol.ActionAllUsersStatus:
			s.arena.SendAllStatuses(ctx, client)
		case protocol.ActionUserStatus:
			s.arena.SendUserStatus(ctx, client, msg.UserID)
		default:
			client.Send(protocol.Encode(protocol.Errorf("unsupported action on this endpoint")))
		}
	})
	s.arena.LeaveStatus(ctx, client)
}

// pongWait allows two missed pings before the transport declares the
// connection dead.
func (s *Server) pongWait() time.Duration {
	return 2 * s.cfg.PingInterval
}
