package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/firdavs625/groupquiz/internal/api"
	"github.com/firdavs625/groupquiz/internal/archive"
	"github.com/firdavs625/groupquiz/internal/domain"
	"github.com/firdavs625/groupquiz/internal/event"
	"github.com/firdavs625/groupquiz/internal/leaderboard"
	"github.com/firdavs625/groupquiz/internal/session"
	"github.com/firdavs625/groupquiz/internal/store"
	"github.com/firdavs625/groupquiz/internal/telemetry"
	"github.com/firdavs625/groupquiz/internal/variant"
)

const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

type Redis struct {
	Addrs  []string
	Pass   string
	Prefix string
}

type Postgres struct {
	Addr string
	User string
	Pass string
	Name string
}

type Config struct {
	HTTP struct {
		Port int32
	}

	GRPC struct {
		Port int32
	}

	Log telemetry.LogConfig

	Session struct {
		// Store is "memory" or "redis".
		Store                string
		DefaultQuestionCount int
		SweepInterval        time.Duration
		Retention            time.Duration
	}

	Leaderboard struct {
		PublishInterval time.Duration
	}

	// Variants served by the catalog; empty generates the default set.
	Variants []domain.Variant

	Redis struct {
		Store  Redis
		Pubsub Redis
	}

	Postgres struct {
		Archive Postgres
	}
}

// DefaultConfig returns the configuration used for keys missing from the
// config file and environment.
func DefaultConfig() Config {
	var c Config
	c.HTTP.Port = 8080
	c.GRPC.Port = 9090
	c.Log.Level = "info"
	c.Log.Format = "json"
	c.Session.Store = StoreMemory
	c.Session.DefaultQuestionCount = 10
	c.Session.SweepInterval = store.DefaultSweepInterval
	c.Session.Retention = store.DefaultRetention
	c.Leaderboard.PublishInterval = leaderboard.DefaultPublishInterval
	c.Redis.Store.Prefix = "groupquiz"
	c.Redis.Pubsub.Prefix = "groupquiz"
	return c
}

type Server struct {
	c Config

	eb *event.Bus

	infra struct {
		store store.Store

		redis struct {
			store  redis.UniversalClient
			pubsub redis.UniversalClient
		}

		postgres struct {
			archive *pgxpool.Pool
		}
	}

	service struct {
		session     *session.Service
		leaderboard *leaderboard.Service
		archive     *archive.Service
		variants    *variant.Catalog
	}

	sweeper *store.Sweeper
	api     *api.API
	health  *health.Server

	http *http.Server
	grpc *grpc.Server
}

func Init(c Config) (*Server, error) {
	s := &Server{c: c}

	s.eb = event.NewBus()

	if err := s.initInfra(); err != nil {
		return nil, fmt.Errorf("server: init infra: %w", err)
	}

	if err := s.initService(); err != nil {
		return nil, fmt.Errorf("server: init service: %w", err)
	}

	s.initAPI()
	return s, nil
}

func (s *Server) initInfra() error {
	if err := s.initRedis(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}

	if err := s.initPostgres(); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}

	switch s.c.Session.Store {
	case StoreMemory, "":
		s.infra.store = store.NewMemory()
	case StoreRedis:
		if s.infra.redis.store == nil {
			return fmt.Errorf("session store %q needs redis.store.addrs", s.c.Session.Store)
		}
		s.infra.store = store.NewRedis(store.RedisConfig{
			Client: s.infra.redis.store,
			Prefix: s.c.Redis.Store.Prefix,
		})
	default:
		return fmt.Errorf("unknown session store %q", s.c.Session.Store)
	}

	return nil
}

func (s *Server) initRedis() error {
	connect := func(name string, c Redis) (redis.UniversalClient, error) {
		if len(c.Addrs) == 0 {
			return nil, nil
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		r := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    c.Addrs,
			Password: c.Pass,
		})

		if err := telemetry.MonitorRedis(r, name); err != nil {
			return nil, err
		}

		if err := r.Ping(ctx).Err(); err != nil {
			return nil, err
		}

		return r, nil
	}

	var err error
	s.infra.redis.store, err = connect("store", s.c.Redis.Store)
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}

	s.infra.redis.pubsub, err = connect("pubsub", s.c.Redis.Pubsub)
	if err != nil {
		return fmt.Errorf("pubsub: %w", err)
	}

	return nil
}

func (s *Server) initPostgres() (err error) {
	connect := func(c Postgres) (*pgxpool.Pool, error) {
		if c.Addr == "" {
			return nil, nil
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		cc, err := pgxpool.ParseConfig(fmt.Sprintf("postgres://%s:%s@%s/%s", c.User, c.Pass, c.Addr, c.Name))
		if err != nil {
			return nil, err
		}

		db, err := pgxpool.NewWithConfig(ctx, cc)
		if err != nil {
			return nil, err
		}

		if err := db.Ping(ctx); err != nil {
			return nil, err
		}

		return db, nil
	}

	s.infra.postgres.archive, err = connect(s.c.Postgres.Archive)
	if err != nil {
		return fmt.Errorf("archive: %w", err)
	}

	return nil
}

func (s *Server) initService() error {
	var err error
	s.service.variants, err = variant.NewCatalog(s.c.Variants)
	if err != nil {
		return fmt.Errorf("variants: %w", err)
	}

	s.service.session = session.NewService(session.Config{
		Store:                s.infra.store,
		EventBus:             s.eb,
		Variants:             s.service.variants,
		DefaultQuestionCount: s.c.Session.DefaultQuestionCount,
	})

	s.service.leaderboard = leaderboard.NewService(leaderboard.Config{
		EventBus:        s.eb,
		Store:           s.infra.store,
		Redis:           s.infra.redis.store,
		Prefix:          s.c.Redis.Store.Prefix,
		PublishInterval: s.c.Leaderboard.PublishInterval,
	})

	if s.infra.postgres.archive != nil {
		s.service.archive = archive.NewService(archive.Config{
			EventBus: s.eb,
			DB:       s.infra.postgres.archive,
		})

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := s.service.archive.Migrate(ctx); err != nil {
			return err
		}
	}

	s.sweeper = store.NewSweeper(store.SweeperConfig{
		Store:     s.infra.store,
		Interval:  s.c.Session.SweepInterval,
		Retention: s.c.Session.Retention,
		OnDeleted: s.service.session.SessionSwept,
	})

	return nil
}

func (s *Server) initAPI() {
	e := gin.New()
	e.GET("/metrics", gin.WrapH(promhttp.Handler()))
	pprof.Register(e, "/debug/pprof")
	e.Use(gin.Recovery())

	s.grpc = grpc.NewServer(telemetry.GRPCServerInterceptor())
	s.health = health.NewServer()
	healthpb.RegisterHealthServer(s.grpc, s.health)
	reflection.Register(s.grpc)

	c := api.Config{
		Router:       e,
		EventBus:     s.eb,
		Session:      s.service.session,
		Leaderboard:  s.service.leaderboard,
		Variants:     s.service.variants,
		Archive:      s.service.archive,
		PubsubPrefix: s.c.Redis.Pubsub.Prefix,
	}
	if s.infra.redis.pubsub != nil {
		c.Redis = s.infra.redis.pubsub
	}
	s.api = api.New(c)

	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.c.HTTP.Port),
		Handler:           e,
		ReadHeaderTimeout: 60 * time.Second,
	}
}

// Handler returns the HTTP handler of the server.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

func (s *Server) Start() {
	ctx := context.TODO()

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.c.GRPC.Port))
	if err != nil {
		slog.ErrorContext(ctx, "grpc server: listen failed", "error", err)
		panic(err)
	}

	s.sweeper.Start()

	var eg errgroup.Group
	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: gRPC listening on port %d", s.c.GRPC.Port))
		return s.grpc.Serve(lis)
	})

	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: HTTP listening on port %d", s.c.HTTP.Port))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	err = eg.Wait()
	if err != nil {
		slog.ErrorContext(ctx, "server: shutdown with error", "error", err)
	}
}

func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.health.Shutdown()
	s.grpc.GracefulStop()
	if err := s.http.Shutdown(ctx); err != nil {
		slog.ErrorContext(ctx, "server: shutdown HTTP failed", "error", err)
	}

	s.api.Hub().Shutdown()
	s.sweeper.Stop()
	s.service.leaderboard.Stop()
	s.eb.Stop()

	for name, r := range map[string]redis.UniversalClient{
		"store":  s.infra.redis.store,
		"pubsub": s.infra.redis.pubsub,
	} {
		if r == nil {
			continue
		}
		if err := r.Close(); err != nil {
			slog.ErrorContext(ctx, "server: close redis failed", "client", name, "error", err)
		}
	}

	if s.infra.postgres.archive != nil {
		s.infra.postgres.archive.Close()
	}

	slog.InfoContext(ctx, "server: shutdown completed")
}
