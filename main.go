package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/labstack/echo-contrib/pprof"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"boardsync/server"
	"boardsync/storage"
)

func main() {
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		log.SetLevel(log.DebugLevel)
	}
	logger := log.New()

	var auth server.Authenticator
	if os.Getenv("AUTH0_TEST_MODE") == "1" {
		secret := os.Getenv("TEST_JWT_SECRET")
		if secret == "" {
			log.Fatal("TEST_JWT_SECRET must be set when AUTH0_TEST_MODE=1")
		}
		auth = server.NewTestAuth([]byte(secret))
	} else {
		jwtAudience := os.Getenv("AUTH0_AUDIENCE")
		domain := os.Getenv("AUTH0_DOMAIN")
		if jwtAudience == "" || domain == "" {
			log.Fatal("missing Auth0 config")
		}
		jwksURL := fmt.Sprintf("https://%s/.well-known/jwks.json", domain)
		jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{})
		if err != nil {
			log.Fatalf("jwks: %v", err)
		}
		auth = server.NewAuth(jwks, jwtAudience, "https://"+domain+"/")
	}

	var archive server.Archiver
	var fetcher server.TaskFetcher
	if connStr := os.Getenv("STORAGE_CONNECTION_STRING"); connStr != "" {
		tasksTable := os.Getenv("TASKS_TABLE")
		activityQueue := os.Getenv("ACTIVITY_QUEUE")
		if tasksTable == "" || activityQueue == "" {
			log.Fatal("TASKS_TABLE and ACTIVITY_QUEUE must be set with STORAGE_CONNECTION_STRING")
		}
		ar, err := storage.New(connStr, tasksTable, activityQueue)
		if err != nil {
			log.Fatalf("storage: %v", err)
		}
		archive = ar
		fetcher = ar
	}

	var rc *redis.Client
	if redisConn := os.Getenv("REDIS_CONNECTION_STRING"); redisConn != "" {
		rc = redis.NewClient(redisOptions(redisConn))
	}

	var bridge server.Publisher
	var pubsub *server.PubSub
	if rc != nil {
		if archive != nil {
			cacheTTL := 5 * time.Minute
			if v := os.Getenv("SNAPSHOT_CACHE_TTL"); v != "" {
				d, err := time.ParseDuration(v)
				if err != nil || d <= 0 {
					log.Fatalf("invalid SNAPSHOT_CACHE_TTL: %v", err)
				}
				cacheTTL = d
			}
			cached := storage.NewCache(archive.(*storage.Archive), rc, cacheTTL)
			archive = cached
			fetcher = cached
		}

		dedupTTL := 24 * time.Hour
		if v := os.Getenv("DEDUPER_TTL"); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil || d <= 0 {
				log.Fatalf("invalid DEDUPER_TTL: %v", err)
			}
			dedupTTL = d
		}
		channel := os.Getenv("BRIDGE_CHANNEL")
		if channel == "" {
			channel = "boardsync:events"
		}
		dedup := server.NewDeduper(rc, "bridge:", dedupTTL)
		pubsub = server.NewPubSub(rc, channel, dedup, logger)
		bridge = pubsub
	}

	if archive != nil {
		workers := envInt("ARCHIVE_WORKERS", 2)
		buffer := envInt("ARCHIVE_BUFFER", 256)
		async := server.NewAsyncArchiver(archive, workers, buffer, logger)
		defer async.Close()
		archive = async
	}

	hub := server.NewHub(logger, archive, bridge)
	if pubsub != nil {
		go pubsub.Subscribe(context.Background(), hub)
	}

	e := echo.New()
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))
	pprof.Register(e)

	server.Register(e, hub, auth, fetcher)

	listenAddr := ":8090"
	if val, ok := os.LookupEnv("SYNC_SERVER_PORT"); ok {
		listenAddr = ":" + val
	}

	e.Logger.Fatal(e.Start(listenAddr))
}

func envInt(name string, def int) int {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		log.Fatalf("invalid %s: %q", name, v)
	}
	return n
}

// redisOptions accepts either a redis URL or an Azure-style comma separated
// connection string.
func redisOptions(connStr string) *redis.Options {
	opts, err := redis.ParseURL(connStr)
	if err == nil {
		return opts
	}
	parts := strings.Split(connStr, ",")
	opts = &redis.Options{Addr: parts[0]}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(kv[0]) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.ToLower(kv[1]) == "true" {
				opts.TLSConfig = &tls.Config{}
			}
		}
	}
	return opts
}
