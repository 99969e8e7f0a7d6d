package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	socketio "github.com/googollee/go-socket.io"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/kiliankoe/babyguess/internal/broadcast"
	"github.com/kiliankoe/babyguess/internal/errs"
	"github.com/kiliankoe/babyguess/internal/game"
	"github.com/kiliankoe/babyguess/internal/model"
)

const commandTimeout = 5 * time.Second

// Commands is the part of the game a socket client may drive.
type Commands interface {
	Join(ctx context.Context, name string, rejoin bool) (game.JoinResult, error)
	SubmitVote(ctx context.Context, name, answer string, round int) (game.VoteResult, error)
	Heartbeat(ctx context.Context, name string) error
	RemovePlayer(ctx context.Context, name string) ([]model.Player, error)
	State(ctx context.Context) (game.Snapshot, error)
}

type ConnCtx struct {
	Name string
}

// Server is the socket.io transport. Every connection sits in the room named
// after the game topic, which is also where events are broadcast.
type Server struct {
	game Commands
	room string
	io   *socketio.Server
}

func New(g Commands, room string) *Server {
	if room == "" {
		room = game.DefaultTopic
	}
	return &Server{game: g, room: room}
}

// Mount attaches Socket.IO server with handlers to the given Gin engine.
func (srv *Server) Mount(r *gin.Engine) *socketio.Server {
	io := socketio.NewServer(nil)
	srv.io = io

	io.OnConnect("/", func(s socketio.Conn) error {
		s.SetContext(&ConnCtx{})
		s.Join(srv.room)
		log.Info().Str("sid", s.ID()).Msg("socket connected")
		return nil
	})

	io.OnEvent("/", "game:join", srv.onJoin)
	io.OnEvent("/", "game:vote", srv.onVote)
	io.OnEvent("/", "game:heartbeat", srv.onHeartbeat)
	io.OnEvent("/", "game:leave", srv.onLeave)
	// reconnecting clients ask for the full state
	io.OnEvent("/", "game:state", srv.onState)

	io.OnError("/", func(s socketio.Conn, e error) {
		if s == nil {
			log.Error().Err(e).Msg("socket error")
			return
		}
		log.Error().Str("sid", s.ID()).Err(e).Msg("socket error")
	})
	io.OnDisconnect("/", func(s socketio.Conn, reason string) {
		// leaving the socket is not leaving the game; the roster shows them offline
		log.Info().Str("sid", s.ID()).Str("player", srv.nameOf(s)).Str("reason", reason).Msg("socket disconnected")
	})

	go func() {
		if err := io.Serve(); err != nil {
			log.Error().Err(err).Msg("socket.io serve")
		}
	}()

	// Mount to router
	r.GET("/socket.io/*any", gin.WrapH(io))
	r.POST("/socket.io/*any", gin.WrapH(io))

	// Basic CORS preflight for Socket.IO POST
	r.OPTIONS("/socket.io/*any", func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type")
		c.Status(http.StatusNoContent)
	})

	return io
}

func (srv *Server) Close() error {
	if srv.io == nil {
		return nil
	}
	return srv.io.Close()
}

// Name implements broadcast.Sink.
func (srv *Server) Name() string { return "socketio" }

// Publish implements broadcast.Sink by emitting the event to the game room.
func (srv *Server) Publish(_ context.Context, env broadcast.Envelope) error {
	if srv.io == nil {
		return errors.New("socket.io server not mounted")
	}
	if env.Topic != srv.room {
		return nil
	}
	srv.io.BroadcastToRoom("/", srv.room, env.Event, env.Payload)
	return nil
}

type joinPayload struct {
	Name   string `json:"name"`
	Rejoin bool   `json:"rejoin"`
}

type votePayload struct {
	Answer string `json:"answer"`
	Round  int    `json:"round"`
}

// onJoin binds the connection to the joined player's name; later commands on
// it act as that player.
func (srv *Server) onJoin(s socketio.Conn, payload joinPayload) map[string]any {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	res, err := srv.game.Join(ctx, payload.Name, payload.Rejoin)
	if err != nil {
		return srv.err(s, err)
	}
	s.SetContext(&ConnCtx{Name: res.Player.Name})
	log.Info().Str("sid", s.ID()).Str("player", res.Player.Name).Msg("game:join")
	return map[string]any{"ok": true, "result": res}
}

func (srv *Server) onVote(s socketio.Conn, payload votePayload) map[string]any {
	name := srv.nameOf(s)
	if name == "" {
		return srv.err(s, errs.ErrUnknownPlayer)
	}
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	res, err := srv.game.SubmitVote(ctx, name, payload.Answer, payload.Round)
	if err != nil {
		return srv.err(s, err)
	}
	log.Info().Str("player", name).Int("round", res.Round).Msg("game:vote")
	return map[string]any{"ok": true, "result": res}
}

func (srv *Server) onHeartbeat(s socketio.Conn) map[string]any {
	name := srv.nameOf(s)
	if name == "" {
		return srv.err(s, errs.ErrUnknownPlayer)
	}
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	if err := srv.game.Heartbeat(ctx, name); err != nil {
		return srv.err(s, err)
	}
	return map[string]any{"ok": true}
}

// onLeave removes the bound player; an unbound connection has nothing to leave.
func (srv *Server) onLeave(s socketio.Conn) map[string]any {
	name := srv.nameOf(s)
	if name == "" {
		return map[string]any{"ok": true}
	}
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	if _, err := srv.game.RemovePlayer(ctx, name); err != nil {
		return srv.err(s, err)
	}
	s.SetContext(&ConnCtx{})
	log.Info().Str("sid", s.ID()).Str("player", name).Msg("game:leave")
	return map[string]any{"ok": true}
}

func (srv *Server) onState(s socketio.Conn) map[string]any {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	snap, err := srv.game.State(ctx)
	if err != nil {
		return srv.err(s, err)
	}
	s.Emit("game:state", snap)
	return map[string]any{"ok": true}
}

func (srv *Server) nameOf(s socketio.Conn) string {
	if ctx, ok := s.Context().(*ConnCtx); ok {
		return ctx.Name
	}
	return ""
}

func (srv *Server) err(s socketio.Conn, err error) map[string]any {
	code := errs.CodeOf(err)
	message := "internal error"
	var r *errs.Rejection
	switch {
	case errors.As(err, &r):
		message = r.Message
	case code == errs.CodeStoreUnavailable:
		message = "game state is temporarily unavailable"
		fallthrough
	default:
		log.Error().Err(err).Str("sid", s.ID()).Msg("socket command failed")
	}
	s.Emit("error", map[string]any{"code": code, "message": message})
	return map[string]any{"error": map[string]any{"code": code, "message": message}}
}
