package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/nats-io/nats.go"
	"github.com/qcom/otpverify/internal/clock"
	"github.com/qcom/otpverify/internal/config"
	"github.com/qcom/otpverify/internal/delivery"
	"github.com/qcom/otpverify/internal/handlers"
	"github.com/qcom/otpverify/internal/maintenance"
	"github.com/qcom/otpverify/internal/middleware"
	"github.com/qcom/otpverify/internal/ratelimit"
	"github.com/qcom/otpverify/internal/repository"
	"github.com/qcom/otpverify/internal/service"
	"github.com/qcom/otpverify/internal/store"
	"github.com/qcom/otpverify/internal/validation"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(logrus.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}

	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	} else {
		logger.WithField("log_level", cfg.LogLevel).Warn("Unknown log level, using info")
	}

	if cfg.OTP.DevMode {
		logger.Warn("DEV_MODE is enabled: OTP codes are returned in API responses")
	}

	clk := clock.New()

	validator, err := validation.New(cfg.OTP.Length)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize validator")
	}

	transport, natsConn, err := initTransport(cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize delivery transport")
	}

	queueOpts := []delivery.Option{delivery.WithClock(clk)}
	var reports handlers.ReportLister
	if cfg.DynamoDB.TableName != "" {
		dynamoClient, err := initDynamoDB(cfg, logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to initialize DynamoDB")
		}
		reportRepo := repository.NewDeliveryReportRepository(dynamoClient, cfg.DynamoDB.TableName, logger)
		queueOpts = append(queueOpts, delivery.WithRecorder(reportRepo))
		reports = reportRepo
	}

	otpStore := store.NewOTPStore(clk, logger)
	numberLimiter := ratelimit.NewSlidingWindow(clk)
	queue := delivery.NewQueue(transport, delivery.QueueConfig{
		Spacing:     cfg.Delivery.Spacing,
		SendTimeout: cfg.Delivery.SendTimeout,
		Formatter: delivery.Formatter{
			CountryCode: cfg.OTP.CountryCode,
			ValidFor:    formatValidFor(cfg.OTP.Expiry),
		},
	}, logger, queueOpts...)

	sweeper := maintenance.NewSweeper(otpStore, clk, logger)
	sweeper.AddLimiter("per-number", numberLimiter, cfg.RateLimit.PerNumberWindow)

	// Per-IP limits live in redis when configured so they hold across replicas.
	var ipLimiter ratelimit.Limiter
	redisClient := initRedis(cfg, logger)
	if redisClient != nil {
		ipLimiter = ratelimit.NewRedisLimiter(redisClient, "otp:ratelimit", clk)
	} else {
		memLimiter := ratelimit.NewSlidingWindow(clk)
		sweeper.AddLimiter("per-ip", memLimiter, cfg.RateLimit.IPWindow)
		ipLimiter = memLimiter
	}

	serviceOpts := []service.Option{service.WithClock(clk)}
	var verification *middleware.VerificationMiddleware
	if cfg.JWT.SecretKey != "" {
		tokenService, err := service.NewTokenService(&cfg.JWT, logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to initialize token service")
		}
		serviceOpts = append(serviceOpts, service.WithTokenIssuer(tokenService))
		verification = middleware.NewVerificationMiddleware(tokenService, logger)
	}

	otpService := service.NewOTPService(
		otpStore,
		numberLimiter,
		queue,
		validator,
		&cfg.OTP,
		&cfg.RateLimit,
		logger,
		serviceOpts...,
	)

	otpHandlers := handlers.NewOTPHandlers(otpService, queue, otpStore, reports, clk, logger)
	router := handlers.NewRouter(handlers.RouterDeps{
		Handlers:       otpHandlers,
		Limiter:        ipLimiter,
		RateLimit:      cfg.RateLimit,
		Verification:   verification,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Logger:         logger,
	})

	queue.Start()
	if err := sweeper.Start(cfg.Maintenance.Schedule); err != nil {
		logger.WithError(err).Fatal("Failed to start maintenance scheduler")
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.WithFields(logrus.Fields{
			"port":      cfg.Server.Port,
			"transport": transport.Name(),
		}).Info("Starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}
	if err := sweeper.Stop(ctx); err != nil {
		logger.WithError(err).Warn("Maintenance sweep still running at shutdown")
	}
	if err := queue.Shutdown(ctx); err != nil {
		logger.WithError(err).Warn("Delivery queue did not drain before shutdown deadline")
	}
	if natsConn != nil {
		if err := natsConn.Drain(); err != nil {
			logger.WithError(err).Warn("Failed to drain NATS connection")
		}
	}
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			logger.WithError(err).Warn("Failed to close redis client")
		}
	}

	logger.Info("Server exited")
}

func initTransport(cfg *config.Config, logger *logrus.Logger) (delivery.Transport, *nats.Conn, error) {
	switch cfg.Delivery.Transport {
	case config.TransportWebhook:
		client := &http.Client{Timeout: cfg.Delivery.SendTimeout}
		return delivery.NewWebhookTransport(cfg.Delivery.WebhookURL, cfg.Delivery.WebhookKey, client, logger), nil, nil

	case config.TransportSNS:
		awsCfg, err := awsconfig.LoadDefaultConfig(context.TODO(), awsconfig.WithRegion(cfg.Delivery.SNSRegion))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		logger.WithField("region", cfg.Delivery.SNSRegion).Info("SNS client initialized")
		return delivery.NewSNSTransport(sns.NewFromConfig(awsCfg), cfg.Delivery.SNSSenderID, logger), nil, nil

	case config.TransportNATS:
		conn, err := nats.Connect(cfg.Delivery.NATSURL,
			nats.Name("otpverify"),
			nats.Timeout(5*time.Second),
			nats.ReconnectWait(2*time.Second),
			nats.MaxReconnects(-1),
			nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
				logger.WithError(err).Warn("NATS disconnected")
			}),
			nats.ReconnectHandler(func(nc *nats.Conn) {
				logger.WithField("url", nc.ConnectedUrl()).Info("NATS reconnected")
			}),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to NATS: %w", err)
		}
		transport, err := delivery.NewNATSTransport(conn, cfg.Delivery.NATSSubject, logger)
		if err != nil {
			conn.Close()
			return nil, nil, err
		}
		logger.WithField("subject", cfg.Delivery.NATSSubject).Info("NATS transport initialized")
		return transport, conn, nil

	default:
		return delivery.NewSimulatedTransport(
			cfg.Delivery.MinLatency,
			cfg.Delivery.MaxLatency,
			cfg.Delivery.SuccessRate,
			logger,
		), nil, nil
	}
}

func initDynamoDB(cfg *config.Config, logger *logrus.Logger) (*dynamodb.Client, error) {
	var awsCfg aws.Config
	var err error

	if cfg.DynamoDB.Endpoint != "" {
		awsCfg, err = awsconfig.LoadDefaultConfig(context.TODO(),
			awsconfig.WithRegion(cfg.DynamoDB.Region),
			awsconfig.WithEndpointResolverWithOptions(aws.EndpointResolverWithOptionsFunc(
				func(service, region string, options ...interface{}) (aws.Endpoint, error) {
					return aws.Endpoint{
						URL:           cfg.DynamoDB.Endpoint,
						SigningRegion: cfg.DynamoDB.Region,
					}, nil
				})),
		)
	} else {
		awsCfg, err = awsconfig.LoadDefaultConfig(context.TODO(), awsconfig.WithRegion(cfg.DynamoDB.Region))
	}

	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := dynamodb.NewFromConfig(awsCfg)
	logger.WithField("table", cfg.DynamoDB.TableName).Info("DynamoDB client initialized")
	return client, nil
}

// initRedis returns nil when redis is not configured or unreachable; the
// in-memory limiter is used instead.
func initRedis(cfg *config.Config, logger *logrus.Logger) *redis.Client {
	if cfg.Redis.Endpoint == "" {
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Endpoint,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.WithError(err).Error("Redis ping failed, falling back to in-memory rate limiting")
		_ = client.Close()
		return nil
	}

	logger.WithField("endpoint", cfg.Redis.Endpoint).Info("Redis client initialized")
	return client
}

func formatValidFor(d time.Duration) string {
	if d%time.Minute == 0 {
		minutes := int(d / time.Minute)
		if minutes == 1 {
			return "1 minute"
		}
		return fmt.Sprintf("%d minutes", minutes)
	}
	return d.String()
}
