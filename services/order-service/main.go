package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker/v2"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"gorm.io/gorm"

	awspkg "github.com/yashrajoria/fitmeals-backend/pkg/aws"
	"github.com/yashrajoria/fitmeals-backend/services/common/auth"
	apperrors "github.com/yashrajoria/fitmeals-backend/services/common/errors"
	"github.com/yashrajoria/fitmeals-backend/services/common/logger"
	"github.com/yashrajoria/fitmeals-backend/services/common/middleware"
	"github.com/yashrajoria/fitmeals-backend/services/order-service/controllers"
	"github.com/yashrajoria/fitmeals-backend/services/order-service/database"
	"github.com/yashrajoria/fitmeals-backend/services/order-service/repository"
	"github.com/yashrajoria/fitmeals-backend/services/order-service/routes"
	"github.com/yashrajoria/fitmeals-backend/services/order-service/sender"
	"github.com/yashrajoria/fitmeals-backend/services/order-service/services"
)

const serviceName = "order-service"

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}
	decimal.MarshalJSONWithoutQuotes = true

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := LoadConfig(ctx)
	if err != nil {
		log.Fatalf("[OrderService] failed to load config: %v", err)
	}

	// ── AWS: CloudWatch Logs + Metrics, SNS ──
	var (
		metricsClient *awspkg.MetricsClient
		snsClient     *awspkg.SNSClient
		dynamoClient  *dynamodb.Client
	)
	needAWS := cfg.CloudWatchEnabled || cfg.MetricsEnabled || cfg.OrderTopicARN != "" ||
		cfg.PaymentTopicARN != "" || cfg.MealStore == "dynamodb"
	if needAWS {
		awsCfg, err := awspkg.LoadAWSConfig(ctx, cfg.AWSRegion)
		if err != nil {
			log.Fatalf("[OrderService] failed to load AWS config: %v", err)
		}
		if cfg.CloudWatchEnabled {
			cwLogs, err := awspkg.NewCloudWatchLogsClient(ctx, awsCfg, cfg.CloudWatchLogGroup, serviceName)
			if err != nil {
				log.Printf("[OrderService] CloudWatch Logs init failed: %v", err)
				logger.Initialize(cfg.Environment)
			} else {
				logger.InitializeWithWriter(cfg.Environment, cwLogs)
			}
		} else {
			logger.Initialize(cfg.Environment)
		}
		metricsClient = awspkg.NewMetricsClient(awsCfg, "FitMeals/OrderService", cfg.MetricsEnabled)
		if cfg.OrderTopicARN != "" || cfg.PaymentTopicARN != "" {
			snsClient = awspkg.NewSNSClient(awsCfg)
		}
		if cfg.MealStore == "dynamodb" {
			dynamoClient = dynamodb.NewFromConfig(awsCfg)
		}
	} else {
		logger.Initialize(cfg.Environment)
	}
	defer func() { _ = logger.Log.Sync() }()
	zl := logger.Log

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// ── Storage ──
	db, err := database.ConnectPostgres(ctx, zl, cfg.PostgresDSN())
	if err != nil {
		zl.Fatal("Failed to connect to PostgreSQL", zap.String("dsn", cfg.RedactedDSN()), zap.Error(err))
	}
	defer func() { _ = database.Close(db) }()

	var (
		mongoClient *mongo.Client
		mongoDB     *mongo.Database
	)
	if cfg.MongoURI != "" {
		mongoClient, mongoDB, err = database.ConnectMongo(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			zl.Fatal("Failed to connect to MongoDB", zap.Error(err))
		}
		defer func() { _ = database.DisconnectMongo(mongoClient) }()
	}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = database.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			zl.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		defer func() { _ = redisClient.Close() }()
	}

	orderRepo := repository.NewGormOrderRepository(db)
	paymentRepo := repository.NewGormPaymentRepository(db)

	var mealRepo repository.MealRepository
	if cfg.MealStore == "dynamodb" {
		mealRepo = repository.NewDynamoMealRepository(dynamoClient, cfg.MealTable)
	} else {
		mealRepo = repository.NewMongoMealRepository(mongoDB)
	}

	// ── Side effects ──
	effects := services.NewBestEffort(10 * time.Second)
	notifierCfg := services.NotifierConfig{
		OrderTopic:   cfg.OrderTopicARN,
		PaymentTopic: cfg.PaymentTopicARN,
	}
	if mongoDB != nil {
		notifierCfg.Users = repository.NewMongoUserRepository(mongoDB)
	}
	if snsClient != nil {
		notifierCfg.Events = snsClient
	}
	if metricsClient.IsEnabled() {
		notifierCfg.Metrics = metricsClient
	}
	if cfg.SMTPHost != "" {
		smtpSender, err := sender.NewSMTPSender(sender.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
		})
		if err != nil {
			zl.Warn("Email disabled", zap.Error(err))
		} else {
			notifierCfg.Email = smtpSender
		}
	}
	notifier := services.NewNotifier(notifierCfg, effects)

	// ── Payments ──
	processor := services.NewBreakerProcessor(
		services.NewStripeProcessor(cfg.StripeSecretKey, cfg.StripeWebhookSecret, nil),
		30*time.Second, zl)
	var eventStore services.ProcessedEventStore
	if redisClient != nil {
		eventStore = services.NewRedisEventStore(redisClient, cfg.WebhookDedupeTTL)
	}

	orderSvc := services.NewOrderService(orderRepo, mealRepo, notifier)
	paymentSvc := services.NewPaymentService(paymentRepo, orderRepo, processor, eventStore, notifier, cfg.Currency)

	sweeper := services.NewPendingSweeper(paymentSvc, cfg.ReconcileInterval, cfg.PendingTTL, zl)
	go sweeper.Run(ctx)

	// ── HTTP ──
	if err := controllers.RegisterValidators(); err != nil {
		zl.Fatal("Failed to register validators", zap.Error(err))
	}

	limiter := middleware.NewRateLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst, 10*time.Minute)
	stopCleanup := make(chan struct{})
	go limiter.RunCleanup(stopCleanup)
	defer close(stopCleanup)

	corsMiddleware, err := middleware.CORS(cfg.AllowedOrigins)
	if err != nil {
		zl.Fatal("Invalid CORS configuration", zap.Error(err))
	}

	r := gin.New()
	r.Use(
		gin.Recovery(),
		logger.RequestLogger(),
		apperrors.ErrorMiddleware(),
		middleware.SecurityHeaders(),
		corsMiddleware,
		middleware.RequestTimeout(cfg.RequestTimeout),
		middleware.MetricsMiddleware(metricsClient, serviceName),
		middleware.RateLimitMiddleware(limiter),
	)

	// An empty secret rejects every bearer token, leaving gateway headers.
	verifier := auth.NewTokenVerifier(cfg.JWTSecret)
	routes.RegisterRoutes(r, routes.Controllers{
		Orders:   controllers.NewOrderController(orderSvc),
		Payments: controllers.NewPaymentController(paymentSvc),
		Health:   controllers.NewHealthController(serviceName, healthChecks(db, mongoClient, redisClient, processor)),
	}, routes.AuthConfig{Verifier: verifier, TrustGateway: cfg.TrustGatewayHeaders})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		zl.Info("Order service listening", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zl.Fatal("Server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	zl.Info("Shutting down order service")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zl.Error("Server shutdown failed", zap.Error(err))
	}
	effects.Wait(shutdownCtx)
	zl.Info("Order service stopped")
}

func healthChecks(db *gorm.DB, mongoClient *mongo.Client, redisClient *redis.Client, processor *services.BreakerProcessor) map[string]controllers.HealthCheck {
	checks := map[string]controllers.HealthCheck{
		"payment_processor": func(ctx context.Context) error {
			if processor.State() == gobreaker.StateOpen {
				return errors.New("circuit open")
			}
			return nil
		},
		"postgres": func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
	}
	if mongoClient != nil {
		checks["mongodb"] = func(ctx context.Context) error { return mongoClient.Ping(ctx, nil) }
	}
	if redisClient != nil {
		checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}
	return checks
}
