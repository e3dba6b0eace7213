package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"biosecure-portal/internal/archiver"
	"biosecure-portal/internal/config"
	apphttp "biosecure-portal/internal/http"
	"biosecure-portal/internal/repository/sqlite"
	"biosecure-portal/internal/service"
	"biosecure-portal/internal/storage"
	"biosecure-portal/internal/webauthn"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}

	if strings.TrimSpace(cfg.Auth.JWTSecret) == "" {
		logger.Fatalf("auth jwt secret is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := sqlite.Open(cfg.Database.Path)
	if err != nil {
		logger.Fatalf("open database: %v", err)
	}
	defer db.Close()

	userRepo := sqlite.NewUserRepository(db)
	counterRepo := sqlite.NewCounterRepository(db)
	sessionRepo := sqlite.NewSessionRepository(db)
	credentialRepo := sqlite.NewCredentialRepository(db)
	ceremonyRepo := sqlite.NewCeremonyRepository(db)
	enrollmentRepo := sqlite.NewEnrollmentRepository(db)
	authLogRepo := sqlite.NewAuthLogRepository(db)

	inits := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"user", userRepo.Init},
		{"counter", counterRepo.Init},
		{"session", sessionRepo.Init},
		{"credential", credentialRepo.Init},
		{"ceremony", ceremonyRepo.Init},
		{"enrollment", enrollmentRepo.Init},
		{"auth log", authLogRepo.Init},
	}
	for _, repo := range inits {
		if err := repo.fn(ctx); err != nil {
			logger.Fatalf("init %s repository: %v", repo.name, err)
		}
	}

	userService := service.NewUserService(userRepo, counterRepo)
	sessionService := service.NewSessionService(
		sessionRepo,
		cfg.Auth.JWTSecret,
		time.Duration(cfg.Auth.SessionTTLHours)*time.Hour,
	)
	enrollmentService := service.NewEnrollmentService(enrollmentRepo)
	auditService := service.NewAuditService(authLogRepo, logger)

	engine, err := webauthn.NewEngine(webauthn.Config{
		RPID:             cfg.WebAuthn.RPID,
		RPDisplayName:    cfg.WebAuthn.RPName,
		RPOrigins:        cfg.RPOrigins(),
		Timeout:          time.Duration(cfg.WebAuthn.TimeoutSeconds) * time.Second,
		UserVerification: cfg.WebAuthn.UserVerification,
		Attestation:      cfg.WebAuthn.Attestation,
	}, userRepo, credentialRepo, ceremonyRepo, logger)
	if err != nil {
		logger.Fatalf("setup webauthn: %v", err)
	}

	storageSvc, err := buildStorage(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("setup storage: %v", err)
	}

	archive := archiver.NewManager(archiver.Config{
		Bucket:    cfg.Storage.Bucket,
		KeyPrefix: cfg.Storage.KeyPrefix,
		Workers:   cfg.Archive.Workers,
		QueueSize: cfg.Archive.QueueSize,
		Logger:    logger,
	}, storageSvc)
	if err := archive.Start(ctx); err != nil {
		logger.Fatalf("start archiver: %v", err)
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	handler := apphttp.NewHandler(
		userService,
		sessionService,
		enrollmentService,
		auditService,
		engine,
		archive,
		storageSvc,
		cfg.Storage.Bucket,
		cfg.Storage.KeyPrefix,
	)
	handler.RegisterRoutes(router)

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: router,
	}

	go func() {
		logger.Infof("listening on %s", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("http server: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("http shutdown: %v", err)
	}
	archive.Shutdown()

	logger.Info("bye")
}

// buildStorage returns nil when no bucket is configured; ceremony artifact
// archiving is optional.
func buildStorage(ctx context.Context, cfg config.Config, logger *logrus.Logger) (storage.Service, error) {
	if cfg.Storage.Bucket == "" {
		logger.Info("no storage bucket configured, ceremony archiving disabled")
		return nil, nil
	}

	loadOpts := []func(*awscfg.LoadOptions) error{
		awscfg.WithRegion(cfg.Storage.Region),
	}
	if cfg.AWS.Profile != "" {
		loadOpts = append(loadOpts, awscfg.WithSharedConfigProfile(cfg.AWS.Profile))
	}

	awsCfg, err := awscfg.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Storage.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Storage.Endpoint)
			o.UsePathStyle = true
		}
	})
	logger.Infof("using s3 bucket %s (region %s)", cfg.Storage.Bucket, cfg.Storage.Region)
	return storage.NewS3Service(client), nil
}
