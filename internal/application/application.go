// Package application wires the store, game, transports and archives into a
// runnable server.
package application

import (
	"context"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/kiliankoe/babyguess/internal/api"
	"github.com/kiliankoe/babyguess/internal/broadcast"
	"github.com/kiliankoe/babyguess/internal/config"
	"github.com/kiliankoe/babyguess/internal/game"
	"github.com/kiliankoe/babyguess/internal/history"
	"github.com/kiliankoe/babyguess/internal/kv"
	"github.com/kiliankoe/babyguess/internal/media"
	"github.com/kiliankoe/babyguess/internal/repository"
	"github.com/kiliankoe/babyguess/internal/ws"
)

// Stores is the state store plus the repositories built on it.
type Stores struct {
	Client   *redis.Client
	KV       *kv.Store
	Sessions *repository.SessionRepository
	Roster   *repository.RosterRepository
	Scores   *repository.ScoreLedger
	Votes    *repository.VoteLedger
}

// OpenStores connects to Redis and builds the repositories. It does not
// require Redis to be reachable yet; operations retry on their own.
func OpenStores(cfg config.Config) *Stores {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		// retries are handled by kv.Store so they are counted and logged once
		MaxRetries: -1,
	})
	store := kv.New(client, kv.Options{
		Prefix:      cfg.KeyPrefix,
		TTL:         cfg.StateTTL,
		MaxAttempts: cfg.StoreMaxAttempts,
		Backoff:     cfg.StoreBackoff,
	})
	return &Stores{
		Client:   client,
		KV:       store,
		Sessions: repository.NewSessionRepository(store, cfg.SecondsPerRound),
		Roster:   repository.NewRosterRepository(store, cfg.OnlineWindow),
		Scores:   repository.NewScoreLedger(store),
		Votes:    repository.NewVoteLedger(store),
	}
}

func (s *Stores) Close() error {
	return s.Client.Close()
}

// NewManager builds a game manager over s. A nil announcer or archive is
// allowed for offline commands.
func NewManager(cfg config.Config, s *Stores, announcer game.Announcer, archive game.Archive) *game.Manager {
	return game.NewManager(game.Deps{
		Sessions:  s.Sessions,
		Roster:    s.Roster,
		Scores:    s.Scores,
		Votes:     s.Votes,
		Announcer: announcer,
		Archive:   archive,
	}, game.Options{Topic: cfg.EventTopic, SettleDelay: cfg.SettleDelay})
}

// API is the HTTP + socket.io server.
type API struct {
	cfg      config.Config
	srv      *http.Server
	stores   *Stores
	socket   *ws.Server
	game     *game.Manager
	nats     *broadcast.NATSSink
	postgres *history.PostgresArchive
}

// NewAPI validates cfg and builds every component. Optional integrations
// (NATS, Postgres history) fail startup when configured but unreachable.
func NewAPI(ctx context.Context, cfg config.Config) (*API, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a := &API{cfg: cfg, stores: OpenStores(cfg)}

	gateway := broadcast.New(broadcast.DefaultTimeout)
	if cfg.RedisEvents {
		gateway.Add(broadcast.NewRedisSink(a.stores.KV))
	}
	if cfg.NATSURL != "" {
		sink, err := broadcast.ConnectNATS(cfg.NATSURL, cfg.NATSSubject)
		if err != nil {
			a.close()
			return nil, errors.Wrap(err, "nats")
		}
		a.nats = sink
		gateway.Add(sink)
	}

	archives := history.Multi{}
	if cfg.HistoryFile != "" {
		archives = append(archives, history.NewFileArchive(cfg.HistoryFile))
	}
	if cfg.HistoryDSN != "" {
		pg, err := history.OpenPostgres(ctx, cfg.HistoryDSN)
		if err != nil {
			a.close()
			return nil, errors.Wrap(err, "history")
		}
		a.postgres = pg
		archives = append(archives, pg)
	}

	manager := NewManager(cfg, a.stores, gateway, archives)
	a.game = manager

	var admin api.AdminAccounts
	if cfg.AdminUser != "" {
		admin = api.AdminAccounts{cfg.AdminUser: cfg.AdminPass}
	}
	var photos http.Handler
	if cfg.PhotoDir != "" {
		photos = media.Handler(cfg.PhotoDir)
	}
	r := api.NewRouter(api.NewGameHandler(manager), api.NewHealthHandler(a.stores.KV), admin, photos)

	a.socket = ws.New(manager, cfg.EventTopic)
	a.socket.Mount(r)
	gateway.Add(a.socket)

	a.srv = &http.Server{
		Addr:              cfg.Addr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return a, nil
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (a *API) Run(ctx context.Context) error {
	if err := a.stores.KV.Ping(ctx); err != nil {
		log.Warn().Err(err).Str("addr", a.cfg.RedisAddr).Msg("redis not reachable yet")
	}
	if err := a.game.Resume(ctx); err != nil {
		log.Warn().Err(err).Msg("resume running game; use /api/admin/advance to move it on")
	}

	errc := make(chan error, 1)
	go func() {
		log.Info().Str("addr", a.srv.Addr).Msg("listening")
		if err := a.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case <-ctx.Done():
	case err, ok := <-errc:
		if ok {
			a.close()
			return errors.Wrap(err, "http")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := a.srv.Shutdown(shutdownCtx)
	a.close()
	if err != nil {
		return errors.Wrap(err, "http shutdown")
	}
	log.Info().Msg("stopped")
	return nil
}

func (a *API) close() {
	if a.socket != nil {
		if err := a.socket.Close(); err != nil {
			log.Warn().Err(err).Msg("close socket.io")
		}
	}
	if a.nats != nil {
		a.nats.Close()
	}
	if a.postgres != nil {
		a.postgres.Close()
	}
	if err := a.stores.Close(); err != nil {
		log.Warn().Err(err).Msg("close redis")
	}
}
