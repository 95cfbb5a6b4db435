package cli

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"live-session-service/internal/app"
	"live-session-service/internal/config"
	"live-session-service/internal/domain"
	"live-session-service/internal/infra/memory"
	"live-session-service/internal/infra/postgres"
	redisinfra "live-session-service/internal/infra/redis"
	"live-session-service/internal/realtime"
	transport "live-session-service/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the live session server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

// deps is everything a command needs, built from config. Postgres and Redis
// are optional; without them the process keeps state in memory and
// broadcasts only to its own sockets.
type deps struct {
	service *app.Service
	hub     *realtime.Hub
	relay   *redisinfra.Relay
	closers []func()
}

func (d *deps) close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
}

func buildDeps(ctx context.Context, cfg config.Config, logger *slog.Logger) (*deps, error) {
	d := &deps{}
	ok := false
	defer func() {
		if !ok {
			d.close()
		}
	}()

	var store app.Store = memory.NewStore()
	var loader memory.CourseLoader = memory.NewStaticCourseLoader(sampleCourses())
	if cfg.Postgres.URL != "" {
		db, err := openDB(cfg)
		if err != nil {
			return nil, err
		}
		d.closers = append(d.closers, func() { _ = db.Close() })
		if err := migrateDB(ctx, db, logger); err != nil {
			return nil, err
		}
		store = postgres.NewStore(db)

		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return nil, err
		}
		d.closers = append(d.closers, pool.Close)
		loader = postgres.NewCourseLoader(pool)
		logger.Info("using postgres store")
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		d.closers = append(d.closers, func() { _ = redisClient.Close() })
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return nil, err
		}
	}

	courseTTL := config.TTLDuration(cfg.Course.TTL, 10*time.Minute)
	var courses app.CourseRepository
	if redisClient != nil {
		courses = redisinfra.NewCourseRepository(redisClient, loader, config.TTLDuration(cfg.Redis.TTL, courseTTL))
	} else {
		courses = memory.NewCourseRepository(loader, courseTTL)
	}

	d.hub = realtime.NewHub(cfg.Live.SendBuffer, logger)
	d.closers = append(d.closers, d.hub.Close)

	var publisher app.Publisher = d.hub
	if redisClient != nil {
		d.relay = redisinfra.NewRelay(redisClient, cfg.Redis.ChannelPrefix, d.hub, logger)
		publisher = d.relay
		logger.Info("broadcasting through redis", "prefix", cfg.Redis.ChannelPrefix)
	}

	d.service = app.NewService(store, courses, publisher, app.WithLogger(logger))
	d.closers = append(d.closers, d.service.Close)
	ok = true
	return d, nil
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Log.Level, cfg.Log.Format)

	if cfg.Auth.JWTSecret == "" {
		return errors.New("auth.jwtSecret (JWT_SECRET) is required")
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	d, err := buildDeps(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer d.close()

	if d.relay != nil {
		stopRelay, err := d.relay.Start(ctx)
		if err != nil {
			return err
		}
		defer stopRelay()
	}

	// questions whose timers died with a previous process
	if n, err := d.service.CloseDueQuestions(ctx); err != nil {
		logger.Error("startup sweep failed", "error", err)
	} else if n > 0 {
		logger.Info("startup sweep closed questions", "count", n)
	}
	go d.service.RunSweeper(ctx, config.TTLDuration(cfg.Live.SweepInterval, 5*time.Second))

	e := transport.NewServer(transport.Options{
		Service:      d.service,
		WS:           transport.NewWSHandler(d.service, d.hub, logger),
		JWTSecret:    cfg.Auth.JWTSecret,
		LecturerRole: cfg.Auth.LecturerRole,
		Logger:       logger,
	})

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      e,
		ReadTimeout:  config.TTLDuration(cfg.Server.ReadTimeout, 15*time.Second),
		WriteTimeout: config.TTLDuration(cfg.Server.WriteTimeout, 15*time.Second),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting live session service", "port", finalPort)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down server")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	// hijacked sockets are not tracked by Shutdown
	d.hub.Close()
	return server.Shutdown(shutdownCtx)
}

// sampleCourses seeds the in-memory course loader when no database is configured.
func sampleCourses() map[string]domain.Course {
	return map[string]domain.Course{
		"CS101": {
			ID:         "CS101",
			Title:      "Introduction to Computer Science",
			CourseCode: "CS101",
		},
	}
}
