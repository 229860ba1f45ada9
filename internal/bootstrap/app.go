package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"docvault-backend/internal/attachments"
	"docvault-backend/internal/documents"
	"docvault-backend/internal/queue"
	"docvault-backend/internal/reconcile"
	"docvault-backend/internal/services/health"
	"docvault-backend/internal/shared/auth"
	"docvault-backend/internal/shared/config"
	"docvault-backend/internal/shared/server"
	"docvault-backend/internal/shared/server/middleware"
	"docvault-backend/internal/shared/storage/blob"
	"docvault-backend/internal/shared/storage/blob/local"
	miniostore "docvault-backend/internal/shared/storage/blob/minio"
	s3store "docvault-backend/internal/shared/storage/blob/s3"
	"docvault-backend/internal/shared/storage/db"
	"docvault-backend/internal/shared/telemetry"
)

const (
	connectTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second
)

// App holds shared dependencies for the API, the worker and the Lambda entrypoints.
type App struct {
	Config             config.Config
	Router             *gin.Engine
	DB                 *sql.DB
	Mongo              *mongo.Client
	Redis              *redis.Client
	Blobs              blob.Store
	Queue              queue.Client
	DocumentsRepo      documents.Repo
	DocumentsService   *documents.Service
	Attachments        *attachments.Manager
	Sweeper            *reconcile.Sweeper
	DocumentsHandler   *documents.Handler
	AttachmentsHandler *attachments.Handler
	Health             *health.Service

	closers []func() error
}

// Build prepares shared dependencies and the HTTP router.
func Build(cfg config.Config) (*App, error) {
	if strings.TrimSpace(cfg.Env) == "" {
		cfg.Env = "dev"
	}
	if strings.TrimSpace(cfg.ObjectStoreType) == "" {
		cfg.ObjectStoreType = "local"
	}
	if cfg.LogLevel != "" {
		telemetry.SetLevel(cfg.LogLevel)
	}
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	app := &App{Config: cfg, Health: health.NewService()}
	if err := app.build(ctx); err != nil {
		_ = app.Close()
		return nil, err
	}
	return app, nil
}

func (a *App) build(ctx context.Context) error {
	repo, err := a.buildRepo(ctx)
	if err != nil {
		return err
	}
	a.DocumentsRepo = repo

	store, err := buildStore(ctx, a.Config)
	if err != nil {
		return err
	}
	a.Blobs = store

	sink, err := a.buildOrphanSink(ctx)
	if err != nil {
		return err
	}

	verifier, err := a.buildVerifier()
	if err != nil {
		return err
	}

	a.Attachments = attachments.NewManager(repo, store, sink, attachments.Options{
		MaxFileSize:     a.Config.MaxFileSizeBytes,
		BlobTimeout:     a.Config.BlobTimeout,
		MetadataTimeout: a.Config.MetadataTimeout,
	})
	a.DocumentsService = &documents.Service{
		Repo:            repo,
		Links:           a.Attachments.Issuer,
		MetadataTimeout: a.Config.MetadataTimeout,
	}
	a.Sweeper = &reconcile.Sweeper{Repo: repo, Blobs: store, Timeout: a.Config.BlobTimeout}
	a.DocumentsHandler = documents.NewHandler(a.DocumentsService)
	a.AttachmentsHandler = attachments.NewHandler(a.Attachments)

	deps := server.RouterDeps{
		Config:      a.Config,
		Verifier:    verifier,
		Documents:   a.DocumentsHandler,
		Attachments: a.AttachmentsHandler,
		Health:      a.Health,
	}
	if a.Redis != nil {
		deps.RateLimiter = middleware.RedisLimiter{Client: a.Redis}
	}
	if ls, ok := store.(*local.Store); ok {
		deps.SignedBlobs = ls.ServeSigned
	}
	a.Router = server.NewRouter(deps)
	return nil
}

// Close releases connections opened by Build in reverse order.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *App) onClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

func (a *App) buildRepo(ctx context.Context) (documents.Repo, error) {
	switch a.Config.MetadataStoreType {
	case "postgres":
		sqlDB, err := buildDB(ctx, a.Config)
		if err != nil {
			return nil, err
		}
		if sqlDB == nil {
			return documents.NewMemoryRepo(), nil
		}
		a.DB = sqlDB
		a.onClose(sqlDB.Close)
		a.Health.Register("postgres", sqlDB.PingContext)
		return &documents.PGRepo{DB: sqlDB}, nil
	case "mongo":
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(a.Config.MongoURI))
		if err != nil {
			return nil, fmt.Errorf("mongo connect: %w", err)
		}
		a.Mongo = client
		a.onClose(func() error { return client.Disconnect(context.Background()) })
		if err := client.Ping(ctx, nil); err != nil {
			return nil, fmt.Errorf("mongo ping: %w", err)
		}
		a.Health.Register("mongo", func(ctx context.Context) error { return client.Ping(ctx, nil) })
		repo := documents.NewMongoRepo(client.Database(a.Config.MongoDatabase).Collection(a.Config.MongoCollection))
		if err := repo.EnsureIndexes(ctx); err != nil {
			return nil, fmt.Errorf("mongo indexes: %w", err)
		}
		return repo, nil
	default:
		log.Printf("bootstrap: METADATA_STORE=memory; documents are not persisted")
		return documents.NewMemoryRepo(), nil
	}
}

func buildDB(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		if isDevLike(cfg.Env) {
			log.Printf("bootstrap: DATABASE_URL empty; using in-memory repository")
			return nil, nil
		}
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	sqlDB, err := db.Connect(ctx, cfg.DatabaseURL, db.OptionsFor(db.RuntimeProfile()))
	if err != nil {
		if isDevLike(cfg.Env) {
			log.Printf("bootstrap: database connect failed; using in-memory repository: %v", err)
			return nil, nil
		}
		return nil, err
	}
	if err := db.RunMigrations(ctx, sqlDB); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return sqlDB, nil
}

func buildStore(ctx context.Context, cfg config.Config) (blob.Store, error) {
	switch cfg.ObjectStoreType {
	case "s3":
		return s3store.New(ctx, s3store.Options{
			Region:   cfg.AWSRegion,
			Bucket:   cfg.S3Bucket,
			Prefix:   cfg.S3Prefix,
			KMSKeyID: cfg.SSEKMSKeyID,
			Endpoint: cfg.S3Endpoint,
		})
	case "minio":
		return miniostore.New(ctx, miniostore.Options{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			UseSSL:    cfg.MinioUseSSL,
			Bucket:    cfg.MinioBucket,
		})
	default:
		return local.New(cfg.LocalStoreDir, cfg.PublicBaseURL, cfg.BlobSigningSecret), nil
	}
}

func (a *App) buildOrphanSink(ctx context.Context) (attachments.OrphanSink, error) {
	switch a.Config.OrphanSink {
	case "sqs":
		client, err := queue.NewSQSClient(ctx, a.Config.AWSRegion, a.Config.OrphanQueueURL)
		if err != nil {
			return nil, err
		}
		a.Queue = client
	case "kafka":
		client, err := queue.NewKafkaClient(a.Config.KafkaBrokers, a.Config.OrphanTopic)
		if err != nil {
			return nil, err
		}
		a.Queue = client
		a.onClose(client.Close)
	default:
		return attachments.LogSink{}, nil
	}
	return attachments.QueueSink{Client: a.Queue, Timeout: publishTimeout}, nil
}

func (a *App) buildVerifier() (*auth.Verifier, error) {
	var revoked auth.RevocationChecker
	if addr := strings.TrimSpace(a.Config.RedisAddr); addr != "" {
		client := redis.NewClient(&redis.Options{Addr: addr, Password: a.Config.RedisPassword})
		a.Redis = client
		a.onClose(client.Close)
		revoked = auth.RedisRevocations{Client: client}
		a.Health.Register("redis", func(ctx context.Context) error { return client.Ping(ctx).Err() })
	}
	verifier, err := auth.NewVerifier(a.Config.JWTSecret, revoked)
	if err != nil {
		return nil, fmt.Errorf("jwt verifier: %w", err)
	}
	return verifier, nil
}

func isDevLike(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "dev", "local":
		return true
	default:
		return false
	}
}
