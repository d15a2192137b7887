package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/sma-substitution-api/api/swagger"
	"github.com/noah-isme/sma-substitution-api/internal/handler"
	"github.com/noah-isme/sma-substitution-api/internal/middleware"
	"github.com/noah-isme/sma-substitution-api/internal/models"
	"github.com/noah-isme/sma-substitution-api/internal/repository"
	"github.com/noah-isme/sma-substitution-api/internal/service"
	"github.com/noah-isme/sma-substitution-api/pkg/cache"
	"github.com/noah-isme/sma-substitution-api/pkg/config"
	"github.com/noah-isme/sma-substitution-api/pkg/database"
	"github.com/noah-isme/sma-substitution-api/pkg/jobs"
	"github.com/noah-isme/sma-substitution-api/pkg/lock"
	"github.com/noah-isme/sma-substitution-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/sma-substitution-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/sma-substitution-api/pkg/middleware/requestid"
	"github.com/noah-isme/sma-substitution-api/pkg/storage"
)

// @title SMA Substitution API
// @version 1.0.0
// @description Substitute-teacher planning: absences, availability and cover assignments.
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

const jobTimetableReload = "timetable.reload"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if err := run(cfg, logr); err != nil {
		logr.Fatal("server stopped with error", zap.Error(err))
	}
}

func run(cfg *config.Config, logr *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close() //nolint:errcheck

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Warn("redis unavailable; availability cache disabled and slot locks are process-local", zap.Error(err))
		redisClient = nil
	}
	if redisClient != nil {
		defer redisClient.Close() //nolint:errcheck
	}

	var locker lock.Locker = lock.NewLocalLock()
	if redisClient != nil {
		locker = lock.NewRedisLock(redisClient)
	}

	documents, err := storage.NewLocalStorage(cfg.Documents.StorageDir)
	if err != nil {
		return fmt.Errorf("prepare document storage: %w", err)
	}

	validate := validator.New()
	metrics := service.NewMetricsService()
	calendar := service.NewSchoolCalendar(cfg.School.Timezone)
	index := service.NewTimetableIndex(cfg.Timetable.FreeSubjectCode)

	teacherRepo := repository.NewTeacherRepository(db)
	lessonRepo := repository.NewLessonRepository(db)
	absenceRepo := repository.NewAbsenceRepository(db)
	substitutionRepo := repository.NewSubstitutionRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, "substitutions")

	cacheSvc := service.NewCacheService(cacheRepo, metrics, cfg.Availability.CacheTTL, logr, redisClient != nil)
	availabilitySvc := service.NewAvailabilityService(teacherRepo, absenceRepo, substitutionRepo, index, calendar, cacheSvc, cfg.Availability.CacheTTL, metrics, logr)
	substitutionSvc := service.NewSubstitutionService(
		substitutionRepo,
		teacherRepo,
		absenceRepo,
		availabilitySvc,
		index,
		locker,
		auditRepo,
		metrics,
		calendar,
		service.SubstitutionConfig{
			CreditHours: cfg.Substitutions.CreditHours,
			LockTTL:     cfg.Substitutions.LockTTL,
			LockWait:    cfg.Substitutions.LockWait,
		},
		validate,
		logr,
	)
	absenceSvc := service.NewAbsenceService(
		absenceRepo,
		teacherRepo,
		substitutionSvc,
		availabilitySvc,
		documents,
		auditRepo,
		calendar,
		service.AbsenceDocumentConfig{
			MaxSizeBytes: cfg.Documents.MaxFileSizeBytes,
			AllowedMIMEs: cfg.Documents.AllowedMIMEs,
		},
		validate,
		logr,
	)
	teacherSvc := service.NewTeacherService(teacherRepo, availabilitySvc, auditRepo, validate, logr)
	timetableSvc := service.NewTimetableService(lessonRepo, index, availabilitySvc, auditRepo, metrics, validate, logr)
	authSvc := service.NewAuthService(logr, service.AuthConfig{AccessTokenSecret: cfg.JWT.Secret, Issuer: cfg.JWT.Issuer})

	if err := timetableSvc.Reload(ctx); err != nil {
		return fmt.Errorf("load timetable: %w", err)
	}

	reloads := jobs.NewQueue(jobTimetableReload, func(ctx context.Context, job jobs.Job) error {
		return timetableSvc.Reload(ctx)
	}, jobs.QueueConfig{Workers: 1, BufferSize: 1, MaxRetries: 3, RetryDelay: 5 * time.Second, Logger: logr})
	reloads.Start(ctx)
	defer reloads.Stop()
	if err := reloads.Every(cfg.Timetable.RefreshInterval, jobTimetableReload); err != nil {
		return fmt.Errorf("schedule timetable reload: %w", err)
	}

	checks := map[string]handler.Pinger{"postgres": db}
	if redisClient != nil {
		checks["redis"] = cache.Pinger{Client: redisClient}
	}

	router := newRouter(cfg, logr, routerDeps{
		auth:          authSvc,
		audit:         auditRepo,
		metrics:       metrics,
		teachers:      handler.NewTeacherHandler(teacherSvc),
		timetable:     handler.NewTimetableHandler(timetableSvc),
		absences:      handler.NewAbsenceHandler(absenceSvc),
		substitutions: handler.NewSubstitutionHandler(substitutionSvc, availabilitySvc),
		observability: handler.NewMetricsHandler(metrics, checks),
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logr.Info("server starting", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
	}

	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

type routerDeps struct {
	auth          middleware.TokenValidator
	audit         middleware.AuditWriter
	metrics       *service.MetricsService
	teachers      *handler.TeacherHandler
	timetable     *handler.TimetableHandler
	absences      *handler.AbsenceHandler
	substitutions *handler.SubstitutionHandler
	observability *handler.MetricsHandler
}

func newRouter(cfg *config.Config, logr *zap.Logger, deps routerDeps) *gin.Engine {
	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(deps.metrics))

	r.GET("/health", deps.observability.Health)
	r.GET("/ready", deps.observability.Ready)
	r.GET("/metrics", deps.observability.Prometheus)
	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	planning := middleware.RequireRoles(models.PlanningRoles...)
	api := r.Group(cfg.APIPrefix, middleware.JWT(deps.auth))

	teachers := api.Group("/teachers")
	teachers.GET("", deps.teachers.List)
	teachers.GET("/:id", deps.teachers.Get)
	teachers.POST("", planning, deps.teachers.Create)
	teachers.PUT("/:id", planning, deps.teachers.Update)
	teachers.DELETE("/:id", planning, deps.teachers.Deactivate)

	timetable := api.Group("/timetable")
	timetable.PUT("", planning, deps.timetable.Import)
	timetable.GET("/teachers/:id", deps.timetable.ListByTeacher)
	timetable.GET("/slot", deps.timetable.Slot)

	absences := api.Group("/absences")
	absences.GET("", deps.absences.List)
	absences.GET("/:id", deps.absences.Get)
	absences.POST("", planning, deps.absences.Create)
	absences.PUT("/:id", planning, deps.absences.Update)
	absences.DELETE("/:id", planning, deps.absences.Delete)
	absences.POST("/:id/document", planning, middleware.Audit(deps.audit, models.AuditActionDocumentAttach, "absence"), deps.absences.UploadDocument)
	absences.GET("/:id/document", planning, middleware.Audit(deps.audit, models.AuditActionDocumentView, "absence"), deps.absences.DownloadDocument)

	substitutions := api.Group("/substitutions")
	substitutions.GET("", deps.substitutions.List)
	substitutions.GET("/available", middleware.WithResponseMeta(), deps.substitutions.Available)
	substitutions.GET("/gaps", deps.substitutions.Gaps)
	substitutions.PUT("", planning, deps.substitutions.Assign)
	substitutions.DELETE("/:date/:period/:absentTeacherId", planning, deps.substitutions.Revoke)

	api.GET("/metrics/snapshot", planning, deps.observability.Snapshot)

	return r
}
