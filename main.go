package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/baidenprynce9-wq/codealpha-tasks/api"
	"github.com/baidenprynce9-wq/codealpha-tasks/realtime"
	"github.com/baidenprynce9-wq/codealpha-tasks/storage"
)

func main() {
	logger := log.New()
	logger.SetFormatter(&log.JSONFormatter{})
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		logger.SetLevel(log.DebugLevel)
	}

	dbPath := getenv("DB_PATH", "tasks.db")
	store, err := storage.New(dbPath)
	if err != nil {
		logger.Fatalf("storage: %v", err)
	}
	defer store.Close()

	var redisClient *redis.Client
	if connStr := os.Getenv("REDIS_CONNECTION_STRING"); connStr != "" {
		opts, err := redis.ParseURL(connStr)
		if err != nil {
			logger.Fatalf("redis config: %v", err)
		}
		redisClient = redis.NewClient(opts)
		defer redisClient.Close()
	}

	var apiStore api.Storage = store
	if redisClient != nil {
		apiStore = storage.NewCache(store, redisClient, getenvDuration("CACHE_TTL", 30*time.Second))
	}

	var deduper api.Deduper
	if redisClient != nil {
		deduper = api.NewRedisDeduper(redisClient, getenvDuration("DEDUPER_TTL", 24*time.Hour))
	}

	auth, err := buildAuth()
	if err != nil {
		logger.Fatalf("auth: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hub := realtime.NewHub(logger, getenvInt("HUB_BUFFER", 256))
	go hub.Run(ctx)

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, "Idempotency-Key"},
	}))

	api.Register(e, apiStore, hub, auth, deduper, logger)
	e.GET("/ws", realtime.Handler(hub, logger))

	listenAddr := ":8080"
	if val, ok := os.LookupEnv("PORT"); ok {
		listenAddr = ":" + val
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := e.Shutdown(shutdownCtx); err != nil {
			logger.Errorf("shutdown: %v", err)
		}
	}()

	logger.Infof("listening on %s", listenAddr)
	if err := e.Start(listenAddr); err != nil {
		logger.Info(err)
	}
}

// buildAuth selects local HS256 mode when JWT_SECRET is set, otherwise
// JWKS mode against an external identity provider.
func buildAuth() (*api.Auth, error) {
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		return api.NewAuth([]byte(secret), getenvDuration("TOKEN_TTL", 24*time.Hour)), nil
	}

	audience := os.Getenv("AUTH_AUDIENCE")
	domain := os.Getenv("AUTH_DOMAIN")
	if audience == "" || domain == "" {
		return nil, fmt.Errorf("set JWT_SECRET, or AUTH_DOMAIN and AUTH_AUDIENCE")
	}
	jwksURL := fmt.Sprintf("https://%s/.well-known/jwks.json", domain)
	jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{})
	if err != nil {
		return nil, fmt.Errorf("jwks: %w", err)
	}
	return api.NewJWKSAuth(jwks, audience, "https://"+domain+"/"), nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func getenvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
