package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/homechain/escrowhub/db"
	"github.com/homechain/escrowhub/db/migrations"
	"github.com/homechain/escrowhub/lib"
	"github.com/homechain/escrowhub/lib/service"
	"github.com/homechain/escrowhub/lib/tokens"
	"github.com/homechain/escrowhub/lib/transport"
	"github.com/homechain/escrowhub/rabbitmq"
	"github.com/homechain/escrowhub/settlement"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/uptrace/bun/migrate"
	ddEcho "gopkg.in/DataDog/dd-trace-go.v1/contrib/labstack/echo.v4"
	"gopkg.in/DataDog/dd-trace-go.v1/ddtrace/tracer"
)

func main() {

	c := &service.Config{}

	// Load configuration from environment variables
	err := godotenv.Load(".env")
	if err != nil {
		fmt.Println("Failed to load .env file")
	}
	err = envconfig.Process("", c)
	if err != nil {
		log.Fatalf("Error loading environment variables: %v", err)
	}

	// Setup logging to STDOUT or a configured log file
	logger := lib.Logger(c.LogFilePath)
	audit, err := lib.AuditLogger(c.AuditLogFilePath)
	if err != nil {
		logger.Fatalf("Error opening audit log: %v", err)
	}

	// Open a DB connection based on the configured DATABASE_URI
	dbConn, err := db.Open(&c.Config)
	if err != nil {
		logger.Fatalf("Error initializing db connection: %v", err)
	}
	defer dbConn.Close()

	startupCtx, cancelStartup := context.WithTimeout(context.Background(), time.Minute)
	defer cancelStartup()
	migrator := migrate.NewMigrator(dbConn, migrations.Migrations)
	err = migrator.Init(startupCtx)
	if err != nil {
		logger.Fatalf("Error initializing db migrator: %v", err)
	}
	group, err := migrator.Migrate(startupCtx)
	if err != nil {
		logger.Fatalf("Error migrating database: %v", err)
	}
	if !group.IsZero() {
		logger.Infof("Migrated database to %s", group)
	}

	// sentry init needs to happen before the echo middlewares are added
	if c.SentryDSN != "" {
		if err = sentry.Init(sentry.ClientOptions{
			Dsn:              c.SentryDSN,
			IgnoreErrors:     []string{"401"},
			EnableTracing:    c.SentryTracesSampleRate > 0,
			TracesSampleRate: c.SentryTracesSampleRate,
		}); err != nil {
			logger.Errorf("sentry init error: %v", err)
		}
	}

	settlementCfg, err := settlement.LoadConfig()
	if err != nil {
		logger.Fatalf("Error loading settlement config: %v", err)
	}
	network := settlement.NewInstrumentedClient(settlement.NewHTTPClient(settlementCfg), prometheus.DefaultRegisterer)
	logger.Infof("Using settlement gateway %s", settlementCfg.URL)

	// Without RABBITMQ_URI events are only logged and reconciliation is the
	// only source of settlement updates.
	var rabbitmqClient rabbitmq.Client
	if c.RabbitMQUri != "" {
		amqpClient, err := rabbitmq.DialAMQP(c.RabbitMQUri, rabbitmq.WithDialLogger(logger))
		if err != nil {
			logger.Fatal(err)
		}
		defer amqpClient.Close()

		rabbitmqClient, err = rabbitmq.NewClient(amqpClient,
			rabbitmq.WithLogger(logger),
			rabbitmq.WithEventExchange(c.RabbitMQEventExchange),
			rabbitmq.WithSettlementExchange(c.RabbitMQSettlementExchange),
			rabbitmq.WithSettlementConsumerQueueName(c.RabbitMQSettlementConsumerName),
		)
		if err != nil {
			logger.Fatal(err)
		}
		defer rabbitmqClient.Close()
	}

	svc := &service.EscrowService{
		Config:         c,
		DB:             dbConn,
		Network:        network,
		SettlementCfg:  settlementCfg,
		RabbitMQClient: rabbitmqClient,
		Logger:         logger,
		Audit:          audit,
	}

	if c.FeeScheduleFile != "" {
		seeded, err := svc.SeedFeeSchedules(startupCtx, c.FeeScheduleFile)
		if err != nil {
			logger.Fatalf("Error seeding fee schedules from %s: %v", c.FeeScheduleFile, err)
		}
		logger.Infof("Seeded %d fee schedules", seeded)
	}

	e := transport.InitEcho(c, logger)
	//if Datadog is configured, add datadog middleware
	if c.DatadogAgentUrl != "" {
		tracer.Start(tracer.WithAgentAddr(c.DatadogAgentUrl))
		defer tracer.Stop()
		e.Use(ddEcho.Middleware(ddEcho.WithServiceName("escrowhub")))
	}

	logMw := transport.CreateLoggingMiddleware(logger)
	// strict rate limit for requests that move money
	strictRateLimitMiddleware := transport.CreateRateLimitMiddleware(c.StrictRateLimit, c.BurstRateLimit)
	cacheClient, err := transport.CreateCacheClient(time.Minute)
	if err != nil {
		logger.Fatal(err)
	}

	secured := e.Group("", tokens.Middleware(c.JWTSecret), logMw)
	securedWithStrictRateLimit := e.Group("", tokens.Middleware(c.JWTSecret), strictRateLimitMiddleware, logMw)
	transport.RegisterV2Endpoints(svc, e, secured, securedWithStrictRateLimit, tokens.AdminTokenMiddleware(c.AdminToken), cacheClient.Middleware())

	var backgroundWg sync.WaitGroup
	backGroundCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	backgroundWg.Add(1)
	go func() {
		defer backgroundWg.Done()
		err := svc.StartReconciliationRoutine(backGroundCtx)
		if err != nil && err != context.Canceled {
			sentry.CaptureException(err)
			svc.Logger.Error(err)
		}
		svc.Logger.Info("Reconciliation routine done")
	}()

	if svc.RabbitMQClient != nil {
		backgroundWg.Add(1)
		go func() {
			defer backgroundWg.Done()
			err := svc.StartSettlementEventRoutine(backGroundCtx)
			if err != nil && err != context.Canceled {
				sentry.CaptureException(err)
				//we want to restart in case of an error here
				svc.Logger.Fatal(err)
			}
			svc.Logger.Info("Settlement event routine done")
		}()
	}

	var echoPrometheus *echo.Echo
	if c.EnablePrometheus {
		echoPrometheus = transport.StartPrometheusEcho(logger, svc, e)
	}

	go func() {
		if err := e.Start(fmt.Sprintf(":%v", c.Port)); err != nil && err != http.ErrServerClosed {
			e.Logger.Fatal("shutting down the server")
		}
	}()

	<-backGroundCtx.Done()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		e.Logger.Fatal(err)
	}
	if echoPrometheus != nil {
		if err := echoPrometheus.Shutdown(ctx); err != nil {
			e.Logger.Fatal(err)
		}
	}
	//Wait for graceful shutdown of background routines
	backgroundWg.Wait()
	svc.Logger.Info("escrowhub exiting gracefully. Goodbye.")
}
