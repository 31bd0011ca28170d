package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/go-agora/agora/pkg/config"
	"github.com/go-agora/agora/pkg/controller"
	"github.com/go-agora/agora/pkg/events"
	"github.com/go-agora/agora/pkg/store"
	"github.com/go-agora/agora/pkg/transport"
)

func main() {
	root := &cobra.Command{
		Use:   "agora",
		Short: "Self-moderating multi-agent discussion engine",
	}
	root.AddCommand(newRunCommand())
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRunCommand() *cobra.Command {
	var (
		configPath string
		addr       string
		topic      string
		seed       string
		logLevel   string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a demo discussion with scripted participants and serve observers over websocket",
		RunE: func(cmd *cobra.Command, _ []string) error {
			setupLogging(logLevel)
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			return run(cmd.Context(), cfg, topic, seed)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to YAML config (defaults apply when empty)")
	cmd.Flags().StringVar(&addr, "addr", "", "HTTP listen address override")
	cmd.Flags().StringVar(&topic, "topic", "How should small teams adopt AI tooling?", "discussion topic")
	cmd.Flags().StringVar(&seed, "seed", "Let's explore the topic from several angles. Who wants to start?", "seed turn content")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "zerolog level (trace|debug|info|warn|error)")
	return cmd
}

func setupLogging(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).Level(lvl)
}

func run(ctx context.Context, cfg *config.Config, topic, seed string) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bus, err := events.NewBusFromSettings(ctx, cfg.Redis)
	if err != nil {
		return errors.Wrap(err, "build event bus")
	}
	defer func() { _ = bus.Close() }()

	broadcaster := transport.NewWSBroadcaster(cfg.Server.IdleTimeout.Std())
	defer broadcaster.CloseAll()

	opts := []controller.Option{
		controller.WithBus(bus),
		controller.WithBroadcaster(broadcaster),
	}
	if cfg.Store.SQLitePath != "" {
		dsn, err := store.SQLiteDSNForFile(cfg.Store.SQLitePath)
		if err != nil {
			return err
		}
		turnStore, err := store.NewSQLiteTurnStore(dsn)
		if err != nil {
			return errors.Wrap(err, "open turn store")
		}
		defer func() { _ = turnStore.Close() }()
		opts = append(opts, controller.WithTurnStore(turnStore))
	}

	ctrl := controller.New(controller.Config{
		MaxTurns:             cfg.Session.MaxTurns,
		MaxDuration:          cfg.Session.MaxDuration.Std(),
		MaxConsecutiveErrors: cfg.Session.MaxConsecutiveErrors,
		ScoringDeadline:      cfg.Scoring.Deadline.Std(),
		MaxStopDelta:         cfg.Scoring.MaxStopDelta,
		StopThreshold:        cfg.Scoring.StopThreshold,
		SnapshotWindow:       cfg.Scoring.SnapshotWindow,
		CycleYield:           cfg.Loop.CycleYield.Std(),
		MonitorInterval:      cfg.Loop.MonitorInterval.Std(),
		StopGrace:            cfg.Loop.StopGrace.Std(),
	}, opts...)

	params := controller.SessionParams{
		Topic:        topic,
		SeedContent:  seed,
		Participants: demoParticipants(),
	}
	if err := ctrl.Start(ctx, params); err != nil {
		return errors.Wrap(err, "start controller")
	}
	sessionID := ctrl.Status().SessionID
	log.Info().Str("session_id", sessionID).Str("addr", cfg.Server.Addr).Msg("session running")

	// Forward bus events to websocket observers and the console.
	eventCh, err := bus.Subscribe(ctx, sessionID)
	if err != nil {
		return errors.Wrap(err, "subscribe to events")
	}

	mux := http.NewServeMux()
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn().Err(err).Msg("ws upgrade failed")
			return
		}
		pool := broadcaster.Attach(sessionID, conn)
		go func() {
			// Observers never send; the read loop only detects close.
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					pool.Remove(conn)
					return
				}
			}
		}()
	})
	mux.HandleFunc("/status", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(ctrl.Status())
	})

	srv := &http.Server{Addr: cfg.Server.Addr, Handler: mux}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	eg.Go(func() error {
		for {
			select {
			case <-egCtx.Done():
				return nil
			case e, ok := <-eventCh:
				if !ok {
					return nil
				}
				_ = broadcaster.BroadcastEvent(e)
				log.Debug().Str("event_type", e.Type).Any("data", e.Data).Msg("event")
			}
		}
	})
	eg.Go(func() error {
		select {
		case <-egCtx.Done():
		case <-ctrl.Done():
			log.Info().Str("end_reason", ctrl.Status().EndReason).Msg("discussion finished")
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	})
	eg.Go(func() error {
		<-egCtx.Done()
		if ctrl.Status().State == controller.StateRunning || ctrl.Status().State == controller.StatePaused {
			return ctrl.Stop()
		}
		return nil
	})

	return eg.Wait()
}
