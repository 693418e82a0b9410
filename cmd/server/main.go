// cmd/server/main.go
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"

	"github.com/sirupsen/logrus"

	"github.com/blattodea/roachpoker/internal/auth"
	"github.com/blattodea/roachpoker/internal/cache"
	"github.com/blattodea/roachpoker/internal/database"
	"github.com/blattodea/roachpoker/internal/handlers"
	"github.com/blattodea/roachpoker/internal/middleware"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if os.Getenv("ROACHPOKER_ENV") == "production" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	// Signing keys: files when provided, otherwise fresh per-process keys
	// (fine for a single instance; tokens die with the process).
	privPath := os.Getenv("JWT_PRIVATE_KEY_PATH")
	pubPath := os.Getenv("JWT_PUBLIC_KEY_PATH")
	if privPath != "" && pubPath != "" {
		if err := auth.InitFromPath(privPath, pubPath); err != nil {
			logger.Fatalf("failed to load signing keys: %v", err)
		}
	} else {
		auth.Init()
	}

	database.ConnectDB()

	if err := cache.ConnectRedis(); err != nil {
		logger.Warnf("Redis unavailable, action history disabled: %v", err)
		cache.Rdb = nil
	}

	srv := handlers.NewServer()

	mux := http.NewServeMux()
	mux.HandleFunc("/user/create", handlers.CreateUserHandler)
	mux.HandleFunc("/user/login", handlers.LoginHandler)
	mux.HandleFunc("/user/claim", handlers.ClaimGuestHandler)
	mux.HandleFunc("/rooms", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			srv.CreateRoomHandler(w, r)
		default:
			srv.ListRoomsHandler(w, r)
		}
	})
	mux.HandleFunc("/rooms/", srv.RoomDetailHandler)
	mux.HandleFunc("/sessions/", srv.SessionHandler)
	mux.HandleFunc("/ws/", handlers.RoomWSHandler(logger, srv))
	mux.HandleFunc("/ping", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("pong"))
	})

	addr := os.Getenv("LISTEN_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	httpServer := &http.Server{
		Addr:    addr,
		Handler: middleware.LogMiddleware(logger)(mux),
	}

	go func() {
		logger.Infof("Listening on %s", addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info("Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Warnf("shutdown error: %v", err)
	}
}
