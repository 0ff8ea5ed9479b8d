package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/thereayou/concord/internal/config"
	"github.com/thereayou/concord/internal/database"
	"github.com/thereayou/concord/internal/files"
	"github.com/thereayou/concord/internal/handlers"
	"github.com/thereayou/concord/internal/media"
	"github.com/thereayou/concord/internal/media/remote"
	"github.com/thereayou/concord/internal/middleware"
	"github.com/thereayou/concord/internal/otelutil"
	"github.com/thereayou/concord/internal/retention"
	ws "github.com/thereayou/concord/internal/websocket"
	"github.com/thereayou/concord/pkg/auth"
)

const shutdownTimeout = 10 * time.Second

type Server struct {
	Config     *config.Config
	Router     *gin.Engine
	DB         *database.Database
	Redis      *redis.Client
	JWTManager *auth.JWTManager
	Hub        *ws.Hub
	Pool       *media.Pool
	Rooms      *media.Rooms
	Files      *files.Store
	Pruner     *retention.Pruner
}

// NewServer wires every component from cfg. Redis and media workers are
// optional; without them uploads are not rate limited and voice is off.
func NewServer(cfg *config.Config) (*Server, error) {
	db, err := database.Open(cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}
	realm, err := db.EnsureRealm(database.RealmDefaults{
		Name:                cfg.RealmName,
		Description:         cfg.RealmDescription,
		Encrypted:           cfg.Encrypted(),
		RetentionDays:       cfg.RetentionDays,
		FileRetentionDays:   cfg.FileRetentionDays,
		AllowDirectMessages: cfg.AllowDirectMessages,
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("realm: %w", err)
	}
	if err := db.SyncRealmConfig(cfg.Encrypted(), cfg.PasswordVerify, cfg.PasswordVerifyNonce); err != nil {
		db.Close()
		return nil, fmt.Errorf("realm config: %w", err)
	}
	if err := db.EnsureDefaultChannels(); err != nil {
		db.Close()
		return nil, fmt.Errorf("default channels: %w", err)
	}

	blobs, err := files.New(filepath.Join(cfg.DataDir, "files"))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("file store: %w", err)
	}

	workers, err := remote.NewWorkers(cfg.MediaWorkers)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("media workers: %w", err)
	}
	pool := media.NewPool(workers, nil)
	if !pool.Ready() {
		log.Println("[voice] MEDIA_WORKERS not set, voice channels are disabled")
	}
	rooms := media.NewRooms(pool, media.DefaultTransportOptions(cfg.MediaListenIP, cfg.MediaAnnouncedIP), cfg.MaxVoiceParticipants)

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		rdb = redis.NewClient(opts)
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			db.Close()
			return nil, fmt.Errorf("redis connect: %w", err)
		}
	}

	if err := otelutil.Init("concord"); err != nil && !errors.Is(err, otelutil.ErrNoExporter) {
		log.Printf("[otel] tracing disabled: %v", err)
	}

	jwtMgr := auth.NewJWTManager(cfg.SessionSecret, cfg.SessionTTL, realm.ID)
	hub := ws.NewHub()
	dispatcher := handlers.NewDispatcher(cfg, db, hub, rooms, jwtMgr, blobs)
	wsH := handlers.NewWebSocketHandler(hub, dispatcher)
	httpH := handlers.NewHTTPHandler(cfg, db, db, blobs)
	limiter := middleware.NewUploadLimiter(rdb, cfg.UploadRateLimit, cfg.UploadRateWindow)

	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())
	APIEndpoints(router, wsH, httpH, jwtMgr, limiter)

	return &Server{
		Config:     cfg,
		Router:     router,
		DB:         db,
		Redis:      rdb,
		JWTManager: jwtMgr,
		Hub:        hub,
		Pool:       pool,
		Rooms:      rooms,
		Files:      blobs,
		Pruner:     retention.NewPruner(db, blobs),
	}, nil
}

// Run serves until ctx is cancelled, then shuts down in dependency order:
// listener, retention, sockets, voice, workers, blobs, storage, tracing.
func (s *Server) Run(ctx context.Context) error {
	pruneCtx, stopPruning := context.WithCancel(ctx)
	defer stopPruning()
	s.Pruner.Start(pruneCtx, s.Config.RetentionInterval)

	srv := &http.Server{
		Addr:              s.Config.Addr(),
		Handler:           s.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Printf("Server starting on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		log.Println("Shutting down")
	case runErr = <-errCh:
		log.Printf("Server run error: %v", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown: %v", err)
	}
	stopPruning()
	s.Pruner.Wait()
	s.Hub.Stop()
	s.Rooms.CloseAll()
	if err := s.Pool.Close(); err != nil {
		log.Printf("[voice] close workers: %v", err)
	}
	s.Files.Wait()
	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil {
			log.Printf("redis close: %v", err)
		}
	}
	if err := s.DB.Close(); err != nil {
		log.Printf("database close: %v", err)
	}
	otelutil.Flush()
	return runErr
}
