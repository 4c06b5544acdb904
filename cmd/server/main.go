package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"pixbin/image-app/internal/api"
	"pixbin/image-app/internal/config"
	"pixbin/image-app/internal/repository/mongo"
	"pixbin/image-app/internal/service"
	"pixbin/image-app/internal/storage"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
)

// @title Pixbin Image API
// @version 1.0
// @description API for uploading images, sharing them under short links, and tracking monthly quota.
// @host localhost:8080
// @BasePath /api/v1
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.
func main() {
	log.Println("Starting Pixbin Server...")

	// --- Configuration ---
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("FATAL: Could not load config: %v", err)
	}
	log.Println("Configuration loaded.")

	// --- Database Connection ---
	dbClient, err := mongo.ConnectDB(cfg.Database.URI)
	if err != nil {
		log.Fatalf("FATAL: Could not connect to MongoDB: %v", err)
	}
	defer func() {
		log.Println("Disconnecting MongoDB...")
		if err := mongo.DisconnectDB(dbClient); err != nil {
			log.Printf("ERROR: Failed to disconnect MongoDB: %v", err)
		}
	}()
	appDB := dbClient.Database(cfg.Database.Name)
	log.Println("Database connection established.")

	// --- Ensure Indexes ---
	log.Println("Ensuring database indexes...")
	go func() { // Run index creation concurrently/in background
		ctx, cancel := context.WithTimeout(context.Background(), 1*time.Minute)
		defer cancel()
		mongo.EnsureAccountIndexes(ctx, appDB.Collection("accounts"))
		mongo.EnsureArtifactIndexes(ctx, appDB.Collection("artifacts"))
		mongo.EnsureSessionIndexes(ctx, appDB.Collection("upload_sessions"))
		mongo.EnsureUsageIndexes(ctx, appDB.Collection("usage"))
		log.Println("Index creation process completed.")
	}()

	// --- Initialize Storage ---
	log.Println("Initializing file storage service...")
	fileStorage, err := storage.NewS3Storage(cfg.S3)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize S3 storage: %v", err)
	}

	// --- Initialize Repositories ---
	log.Println("Initializing repositories...")
	accountRepo := mongo.NewMongoAccountRepository(appDB)
	sessionRepo := mongo.NewMongoSessionRepository(appDB)
	artifactRepo := mongo.NewMongoArtifactRepository(appDB)
	usageRepo := mongo.NewMongoUsageRepository(appDB)

	// --- Initialize Services ---
	log.Println("Initializing services...")
	authService := service.NewAuthService(accountRepo, cfg.JWT.Secret, cfg.JWT.Expiration)
	uploadService := service.NewUploadService(accountRepo, sessionRepo, artifactRepo, usageRepo, fileStorage, service.UploadLimits{
		MaxFileSize:      cfg.Upload.MaxFileSize,
		AllowedMimeTypes: cfg.Upload.AllowedMimeTypes,
		MaxRetries:       cfg.Upload.MaxRetries,
		URLExpiry:        cfg.Upload.URLExpiry,
		Quota: service.QuotaLimits{
			FreeMonthlyLimit:   cfg.Upload.FreeMonthlyLimit,
			MeteredArtifactTTL: cfg.Upload.MeteredArtifactTTL,
		},
	})
	batchService := service.NewBatchService(uploadService, cfg.Upload.MaxBatchSize)
	artifactService := service.NewArtifactService(artifactRepo, fileStorage, cfg.Upload.URLExpiry)

	// --- Initialize Gin Engine ---
	router := gin.Default() // Includes Logger and Recovery middleware

	// --- Setup Routes ---
	log.Println("Setting up API routes...")
	api.SetupRoutes(router, cfg.JWT.Secret, authService, uploadService, batchService, artifactService)

	// --- Start HTTP Server ---
	server := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	log.Printf("Server starting on %s", cfg.Server.Address)

	// --- Graceful Shutdown ---
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("FATAL: ListenAndServe Error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()

	if err := server.Shutdown(ctxShutdown); err != nil {
		log.Fatalf("FATAL: Server forced to shutdown: %v", err)
	}

	log.Println("Server exiting.")
}
