package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"chatgateway/global/config"
	"chatgateway/logger"
	"chatgateway/middleware"
	"chatgateway/service/chat"
	"chatgateway/service/chat/handlers"
	"chatgateway/service/natsx"
	"chatgateway/service/storage"
	"chatgateway/tools/ids"
	"chatgateway/tools/security"

	"github.com/gin-gonic/gin"
)

func main() {
	mintToken := flag.String("mint-token", "",
		"print a signed token for 'userId,username,email' and exit (dev helper)")
	flag.Parse()

	cfg := config.Load()
	ids.SetNodeID(cfg.NodeID)
	jwtOpts := security.DefaultOptions(cfg.JWTSecret)

	if *mintToken != "" {
		mint(jwtOpts, *mintToken)
		return
	}

	// presence store: redis when configured, otherwise a no-op
	presence := storage.Noop()
	if cfg.RedisAddr != "" {
		p, err := storage.NewRedis(storage.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			TTL:      cfg.PresenceTTL,
		})
		if err != nil {
			logger.Errorf("[main] redis presence unavailable: %v", err)
			os.Exit(1)
		}
		presence = p
	}
	defer func() { _ = presence.Close() }()

	srv := chat.NewServer(chat.Options{
		JWT:           jwtOpts,
		AuthGrace:     cfg.AuthGrace,
		TypingWindow:  cfg.TypingWindow,
		SendQueueSize: cfg.SendQueueSize,
		Presence:      presence,
	})
	defer srv.Close()
	handlers.RegisterAll(srv)

	// optional NATS ingress for out-of-process producers
	if cfg.NatsURL != "" {
		ing, err := natsx.NewIngress(natsx.Config{
			URL:     cfg.NatsURL,
			Subject: cfg.NatsSubject,
		}, srv.Engine())
		if err != nil {
			logger.Errorf("[main] nats ingress unavailable: %v", err)
			os.Exit(1)
		}
		if err := ing.Start(); err != nil {
			logger.Errorf("[main] nats subscribe failed: %v", err)
			os.Exit(1)
		}
		defer func() { _ = ing.Close() }()
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Origin(cfg.AllowedOrigins...))

	r.GET("/ws", srv.HandleWS)
	r.GET("/healthz", func(c *gin.Context) {
		delivered, dropped := srv.Engine().Stats()
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"conns":     srv.Registry().Len(),
			"delivered": delivered,
			"dropped":   dropped,
		})
	})

	internal := r.Group("/internal", middleware.Auth(middleware.AuthOptions{JWT: jwtOpts}))
	internal.POST("/conversations/:id/messages", srv.HandlePublishMessage)
	internal.POST("/conversations/:id/events", srv.HandlePublishConversationEvent)
	internal.POST("/users/:id/events", srv.HandlePublishUserEvent)

	httpSrv := &http.Server{Addr: cfg.HTTPAddr, Handler: r}
	go func() {
		logger.Infof("[main] gateway listening on %s", cfg.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("[main] http server failed: %v", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("[main] shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(ctx); err != nil {
		logger.Warnf("[main] shutdown: %v", err)
	}
}

func mint(opts security.Options, arg string) {
	parts := strings.SplitN(arg, ",", 3)
	ident := security.Identity{UserID: parts[0]}
	if len(parts) > 1 {
		ident.Username = parts[1]
	}
	if len(parts) > 2 {
		ident.Email = parts[2]
	}
	token, exp, err := security.Generate(opts, ident)
	if err != nil {
		fmt.Fprintln(os.Stderr, "mint-token:", err)
		os.Exit(1)
	}
	fmt.Printf("%s\nexpires: %s\n", token, exp.Format(time.RFC3339))
}
