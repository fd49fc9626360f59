package main

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/mcdev12/cardsync/go/internal/dbconfig"
	"github.com/mcdev12/cardsync/go/internal/gamesync"
	"github.com/mcdev12/cardsync/go/internal/gamesync/diagnostics"
	"github.com/mcdev12/cardsync/go/internal/gamesync/store"
	"github.com/mcdev12/cardsync/go/internal/gamesync/transport"
	"github.com/mcdev12/cardsync/go/internal/gamesync/upload"
	"github.com/mcdev12/cardsync/go/internal/syncerr"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// backend is the persistence side of the agent.
type backend struct {
	store    gamesync.Store
	counters syncerr.CounterStore
	listener *store.ListenerConfig
	closers  []func()
}

func (b *backend) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(logLevel(getEnv("LOG_LEVEL", "info")))

	cfg, err := gamesync.LoadConfig(getEnv("CARDSYNC_CONFIG", "cardsync.yaml"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	applyEnv(&cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics, err := gamesync.NewMetrics("", prometheus.DefaultRegisterer)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to register metrics")
	}

	be, err := openBackend(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Str("store", cfg.Store.Kind).Msg("failed to open store")
	}
	defer be.Close()

	tr, err := openTransport(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create transport")
	}

	opts := []gamesync.Option{
		gamesync.WithMetrics(metrics),
		gamesync.WithNotifier(func(se *syncerr.SyncError, message string) {
			log.Warn().
				Str("error_type", string(se.Type)).
				Str("context", se.Context).
				Str("status", message).
				Msg("user notified")
		}),
	}
	if be.counters != nil {
		handler, err := syncerr.NewHandler(cfg.Session.Errors, syncerr.WithCounterStore(be.counters))
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create error handler")
		}
		opts = append(opts, gamesync.WithHandler(handler))
	}

	session, err := gamesync.NewSession(cfg.Session, tr, be.store, opts...)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create sync session")
	}

	log.Info().
		Str("room_id", cfg.Session.RoomID).
		Str("gameplay_id", cfg.Session.GameplayID).
		Str("participant_id", cfg.Session.ParticipantID).
		Str("transport", cfg.Transport.Kind).
		Str("store", cfg.Store.Kind).
		Msg("starting sync agent")

	if err := session.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start sync session")
	}

	go func() {
		if err := session.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("sync session loop failed")
		}
	}()

	if be.listener != nil {
		startListener(ctx, *be.listener, cfg.Session, session)
	}

	if path := os.Getenv("ATTACH_FILE"); path != "" {
		if err := attachFile(ctx, cfg.Upload, session, path); err != nil {
			log.Error().Err(err).Str("path", path).Msg("failed to attach file")
		}
	}

	// Start HTTP server for diagnostics
	server := diagnostics.NewServer(session, diagnostics.Config{
		Addr:           cfg.Diagnostics.Addr,
		AllowedOrigins: cfg.Diagnostics.AllowedOrigins,
	})
	go func() {
		log.Info().Str("addr", server.Addr).Msg("diagnostics server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("diagnostics server failed")
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan

	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("diagnostics server shutdown failed")
	}
	if err := session.Flush(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("failed to flush pending changes")
	}
	cancel()
	if err := session.Close(); err != nil {
		log.Error().Err(err).Msg("failed to close transport")
	}

	log.Info().Msg("sync agent shutdown complete")
}

func openTransport(cfg gamesync.Config) (transport.Transport, error) {
	switch cfg.Transport.Kind {
	case gamesync.TransportWebSocket:
		wsCfg := cfg.Transport.WebSocket
		wsCfg.RoomID = cfg.Session.RoomID
		wsCfg.ParticipantID = cfg.Session.ParticipantID
		return transport.NewWebSocket(wsCfg), nil
	case gamesync.TransportNATS:
		natsCfg := cfg.Transport.NATS
		natsCfg.RoomID = cfg.Session.RoomID
		natsCfg.ParticipantID = cfg.Session.ParticipantID
		return transport.NewNATS(natsCfg), nil
	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Transport.Kind)
	}
}

func openBackend(ctx context.Context, cfg gamesync.Config) (*backend, error) {
	be := &backend{}
	switch cfg.Store.Kind {
	case gamesync.StorePostgres:
		dbCfg := dbconfig.NewConfigFromEnv()
		conn, err := store.OpenPostgres(ctx, dbCfg.DSN())
		if err != nil {
			return nil, err
		}
		be.closers = append(be.closers, func() { conn.Close() })

		pg := store.NewPostgres(conn, cfg.Store.Listener.NotifyChannel)
		if states, err := pg.ListRoom(ctx, cfg.Session.RoomID); err == nil {
			log.Info().
				Str("database", dbCfg.Database).
				Int("gameplays", len(states)).
				Msg("connected to postgres")
		}
		be.store = pg

		listenerCfg := cfg.Store.Listener
		listenerCfg.DatabaseURL = dbCfg.DSN()
		be.listener = &listenerCfg

	case gamesync.StoreKV:
		nc, err := nats.Connect(cfg.Store.KV.URL,
			nats.MaxReconnects(-1),
			nats.ReconnectWait(2*time.Second),
			nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
				log.Error().Err(err).Msg("NATS disconnected")
			}),
			nats.ReconnectHandler(func(nc *nats.Conn) {
				log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
			}),
		)
		if err != nil {
			return nil, fmt.Errorf("connect to NATS: %w", err)
		}
		be.closers = append(be.closers, nc.Close)

		states, err := store.OpenBucket(ctx, nc, cfg.Store.KV.Bucket, cfg.Store.KV.TTL)
		if err != nil {
			be.Close()
			return nil, err
		}
		be.store = store.NewKV(states)

		if cfg.Store.SharedRetryCounters {
			counters, err := store.OpenBucket(ctx, nc, cfg.Store.KV.Counters, cfg.Store.KV.TTL)
			if err != nil {
				be.Close()
				return nil, err
			}
			be.counters = store.NewKVCounterStore(counters, "")
		}

	case gamesync.StoreREST:
		if cfg.Store.APIURL == "" {
			return nil, errors.New("API_URL is required for the rest store")
		}
		be.store = store.NewREST(cfg.Store.APIURL, cfg.Store.APIToken)

	case gamesync.StoreMemory:
		be.store = store.NewMemory()

	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Store.Kind)
	}
	return be, nil
}

// startListener resyncs the session whenever another node persists a newer
// version of its gameplay.
func startListener(ctx context.Context, cfg store.ListenerConfig, sc gamesync.SessionConfig, session *gamesync.Session) {
	listener, err := store.NewListener(cfg, func(ctx context.Context, n store.Notification) {
		if n.RoomID != sc.RoomID || n.GameplayID != sc.GameplayID || n.Version <= session.Version() {
			return
		}
		log.Info().Int("version", n.Version).Msg("newer game state persisted elsewhere, resyncing")
		if err := session.Resync(ctx); err != nil {
			log.Error().Err(err).Msg("failed to resync after notification")
		}
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to start change listener")
		return
	}
	go func() {
		if err := listener.Start(ctx); err != nil {
			log.Error().Err(err).Msg("change listener stopped")
		}
	}()
}

func attachFile(ctx context.Context, cfg gamesync.UploadConfig, session *gamesync.Session, path string) error {
	if cfg.URL == "" {
		return errors.New("UPLOAD_URL is required to attach files")
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open attachment: %w", err)
	}
	defer f.Close()

	client := upload.NewClient(cfg.URL, getEnv("API_TOKEN", ""), cfg.Timeout)
	name := filepath.Base(path)
	file, err := session.AttachFile(ctx, client, name, mime.TypeByExtension(filepath.Ext(name)), f)
	if err != nil {
		return err
	}
	log.Info().Str("url", file.URL).Msg("attached file to position breakdown")
	return nil
}
