package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"verifiednyumba/backend/internal/admin"
	"verifiednyumba/backend/internal/apperr"
	"verifiednyumba/backend/internal/auth"
	"verifiednyumba/backend/internal/config"
	"verifiednyumba/backend/internal/jobs"
	"verifiednyumba/backend/internal/listings"
	"verifiednyumba/backend/internal/notifications"
	"verifiednyumba/backend/internal/notifications/websocket"
	"verifiednyumba/backend/internal/reports"
	"verifiednyumba/backend/internal/verification"
	"verifiednyumba/backend/pkg/cloud"
	"verifiednyumba/backend/pkg/pdf"
	"verifiednyumba/backend/pkg/sms"
	"verifiednyumba/backend/pkg/storage"
)

const (
	issuer        = "VerifiedNyumba"
	memoryBucket  = "verification"
	blobRoutePath = "/blobs"
)

// Server owns the HTTP router, the WebSocket hub and the job scheduler.
type Server struct {
	cfg       *config.Config
	logger    *zap.Logger
	router    *gin.Engine
	http      *http.Server
	wsManager *websocket.Manager
	scheduler *jobs.Scheduler
	memory    *storage.MemoryClient

	Auth         *auth.Service
	Verification *verification.Service
}

// New wires every component against db.
func New(ctx context.Context, cfg *config.Config, db *gorm.DB, logger *zap.Logger) (*Server, error) {
	s := &Server{cfg: cfg, logger: logger}

	sender, err := s.smsSender(ctx)
	if err != nil {
		return nil, err
	}
	blobs, bucket, err := s.blobStore(ctx)
	if err != nil {
		return nil, err
	}

	// auth
	authRepo := auth.NewRepository(db)
	tokens := auth.NewTokenManager(
		cfg.Security.AccessTokenSecret,
		cfg.Security.RefreshTokenSecret,
		cfg.Security.AccessTokenTTL,
		cfg.Security.RefreshTokenTTL,
	)
	s.Auth = auth.NewService(authRepo, tokens, auth.NewLogMailer(logger), sender, logger)
	cookies := auth.CookieConfig{Domain: cfg.Security.CookieDomain, Secure: cfg.Security.CookieSecure}
	middleware := auth.NewMiddleware(s.Auth, cookies, logger)

	// notifications
	s.wsManager = websocket.NewManager(cfg.CORS.AllowedOrigins, logger)
	notifier := notifications.NewService(s.wsManager, logger)

	// verification
	verificationRepo := verification.NewRepository(db)
	provider := verification.NewStorageProvider(blobs, bucket, cfg.Storage.PresignTTL)
	s.Verification = verification.NewService(verificationRepo, authRepo, provider, pdf.NewGenerator(issuer), notifier, logger)
	s.Auth.SetHooks(s.Verification)

	// listings and reports
	listingRepo := listings.NewRepository(db)
	listingService := listings.NewService(listingRepo, authRepo, s.Verification, logger)
	reportRepo := reports.NewRepository(db)
	reportService := reports.NewService(reportRepo, listingService, notifier, logger)

	// admin
	adminService := admin.NewService(admin.Deps{
		DB:           db,
		Users:        authRepo,
		Listings:     listingRepo,
		Reports:      reportRepo,
		Verification: verificationRepo,
		Reviews:      s.Verification,
		Blobs:        provider,
		Notifier:     notifier,
	}, logger)

	// jobs
	s.scheduler = jobs.NewScheduler(cfg.Jobs.Timeout, logger)
	if err := s.scheduler.AddJob(cfg.Jobs.PurgePhoneCodes, jobs.NewPurgePhoneCodes(s.Auth, logger)); err != nil {
		return nil, err
	}
	if err := s.scheduler.AddJob(cfg.Jobs.StaleReviews, jobs.NewStaleReviews(s.Verification, notifier, cfg.Jobs.StaleReviewAge, logger)); err != nil {
		return nil, err
	}

	s.router = s.newRouter(middleware, routes{
		auth:          auth.NewHandler(s.Auth, middleware, cookies, logger),
		verification:  verification.NewHandler(s.Verification, logger),
		listings:      listings.NewHandler(listingService, logger),
		reports:       reports.NewHandler(reportService, logger),
		admin:         admin.NewHandler(adminService, logger),
		notifications: notifications.NewHandler(s.wsManager, logger),
		jobs:          jobs.NewHandler(s.scheduler, logger),
	})

	s.http = &http.Server{
		Addr:         cfg.Server.GetServerAddr(),
		Handler:      s.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	return s, nil
}

type routes struct {
	auth          *auth.Handler
	verification  *verification.Handler
	listings      *listings.Handler
	reports       *reports.Handler
	admin         *admin.Handler
	notifications *notifications.Handler
	jobs          *jobs.Handler
}

func (s *Server) newRouter(middleware *auth.Middleware, h routes) *gin.Engine {
	if s.cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(ginzap.Ginzap(s.logger, time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(s.logger, true))

	origins := s.cfg.CORS.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Requested-With"},
		ExposeHeaders:    []string{"Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":      "healthy",
			"timestamp":   time.Now().UTC(),
			"connections": s.wsManager.ConnectionCount(),
			"jobs":        s.scheduler.ActiveJobs(),
		})
	})

	api := router.Group("/api/v1")
	h.auth.RegisterRoutes(api)

	authed := api.Group("", middleware.Authenticate())
	h.listings.RegisterRoutes(api, authed)
	h.verification.RegisterRoutes(authed)
	h.reports.RegisterRoutes(authed)
	h.notifications.RegisterRoutes(authed)

	adminGroup := authed.Group("/admin", middleware.RequireRoles(auth.RoleAdmin))
	h.verification.RegisterAdminRoutes(adminGroup)
	h.reports.RegisterAdminRoutes(adminGroup)
	h.admin.RegisterRoutes(adminGroup)
	h.jobs.RegisterAdminRoutes(adminGroup)

	if s.memory != nil {
		router.GET(blobRoutePath+"/:bucket/*key", middleware.Authenticate(), s.serveMemoryBlob)
	}
	return router
}

// serveMemoryBlob serves documents kept in memory. Landlords may read
// their own documents; admins may read any.
func (s *Server) serveMemoryBlob(c *gin.Context) {
	user, _ := auth.UserFrom(c)
	key := strings.TrimPrefix(c.Param("key"), "/")
	if !user.IsAdmin() && !strings.HasPrefix(key, "verification/"+user.ID.String()+"/") {
		apperr.Respond(c, s.logger, apperr.Forbidden("not your document"))
		return
	}

	body, err := s.memory.Download(c.Request.Context(), c.Param("bucket"), key)
	if err != nil {
		apperr.Respond(c, s.logger, apperr.NotFound("document not found"))
		return
	}
	defer body.Close()
	data, err := io.ReadAll(body)
	if err != nil {
		apperr.Respond(c, s.logger, err)
		return
	}
	c.Data(http.StatusOK, http.DetectContentType(data), data)
}

func (s *Server) smsSender(ctx context.Context) (sms.Sender, error) {
	if s.cfg.SMS.DryRun {
		s.logger.Warn("SMS dry run enabled, phone codes are logged not sent")
		return sms.NewLogSender(s.logger), nil
	}
	awsCfg, err := cloud.LoadAWSConfig(ctx, cloud.AWSOptions{
		Region:          s.cfg.SMS.Region,
		AccessKeyID:     s.cfg.Storage.AccessKeyID,
		SecretAccessKey: s.cfg.Storage.SecretAccessKey,
	})
	if err != nil {
		return nil, err
	}
	return sms.NewSNSSender(awsCfg, s.cfg.SMS.SenderID, s.logger), nil
}

func (s *Server) blobStore(ctx context.Context) (storage.S3Client, string, error) {
	if s.cfg.Storage.Bucket == "" {
		s.logger.Warn("No storage bucket configured, documents are kept in memory")
		s.memory = storage.NewMemoryClient(strings.TrimSuffix(s.cfg.Storage.PublicBaseURL, "/"))
		return s.memory, memoryBucket, nil
	}
	awsCfg, err := cloud.LoadAWSConfig(ctx, cloud.AWSOptions{
		Region:          s.cfg.Storage.Region,
		Endpoint:        s.cfg.Storage.Endpoint,
		AccessKeyID:     s.cfg.Storage.AccessKeyID,
		SecretAccessKey: s.cfg.Storage.SecretAccessKey,
	})
	if err != nil {
		return nil, "", err
	}
	return storage.NewS3Client(awsCfg, s.cfg.Storage.UsePathStyle), s.cfg.Storage.Bucket, nil
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	if s.cfg.Jobs.Enabled {
		if err := s.scheduler.Start(); err != nil {
			return err
		}
		defer s.scheduler.Stop()
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.logger.Info("Server started", zap.String("addr", s.http.Addr))

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()

	s.wsManager.Close()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	s.logger.Info("Server exiting")
	return nil
}
