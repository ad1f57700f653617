package main

import (
	"log"
	"log/slog"
	"net/http"
	"time"

	"craftai/internal/app"
	"craftai/internal/config"
	"craftai/internal/events"
	"craftai/internal/identity"
	"craftai/internal/quota"
	"craftai/internal/server"
	"craftai/internal/uploads"
	"craftai/internal/usertoken"
	"craftai/internal/util"
	"craftai/pkg/ai"
	"craftai/pkg/imagecdn"
	"craftai/pkg/storage"
	"craftai/pkg/store"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)

	creations, err := store.NewGormStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to init store: %v", err)
	}

	objects, err := storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
	if err != nil {
		log.Fatalf("failed to init object store: %v", err)
	}

	cdn, err := imagecdn.NewClient(cfg.CDNBaseURL, cfg.CDNAPIKey)
	if err != nil {
		log.Fatalf("failed to init image cdn: %v", err)
	}

	identityClient := identity.NewClient(cfg.IdentityServiceURL, cfg.IdentityAPIKey)

	verifier, err := usertoken.NewVerifier(usertoken.Config{
		JWKSURL:  cfg.IdentityJWKSURL,
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		Leeway:   time.Duration(cfg.JWTLeewaySeconds) * time.Second,
	})
	if err != nil {
		log.Fatalf("failed to init token verifier: %v", err)
	}

	var publisher *events.Publisher
	if cfg.AMQPURL != "" {
		publisher, err = events.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			log.Fatalf("failed to init event publisher: %v", err)
		}
		defer publisher.Close()
	}

	geminiClient, err := ai.NewGeminiClient(cfg.GeminiAPIKey)
	if err != nil {
		log.Fatalf("failed to init gemini client: %v", err)
	}
	clipDrop, err := ai.NewClipDropClient(cfg.ClipDropAPIKey, cfg.ClipDropBaseURL)
	if err != nil {
		log.Fatalf("failed to init clipdrop client: %v", err)
	}
	appCore, err := app.New(app.Config{
		Store:   creations,
		Texts:   ai.NewGeminiGenerator(geminiClient, cfg.GenerationModel),
		Images:  clipDrop,
		CDN:     cdn,
		Objects: objects,
		Quota:   quota.NewEngine(identityClient),
		Events:  publisher,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	fileStore, err := uploads.NewFileStore(cfg.UploadDir, cfg.AllowedExtensions)
	if err != nil {
		log.Fatalf("failed to init upload store: %v", err)
	}

	httpServer, err := server.New(server.Config{
		App:                        appCore,
		Identity:                   identityClient,
		TokenVerifier:              verifier,
		Uploads:                    fileStore,
		RedisAddr:                  cfg.RedisAddr,
		RedisPassword:              cfg.RedisPassword,
		GenerateRateLimitPerMinute: cfg.GenerateRateLimitPerMinute,
		MaxUploadBytes:             cfg.MaxUploadBytes,
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
	}
}
