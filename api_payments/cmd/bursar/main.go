package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/sync/errgroup"

	"frameworks/api_payments/internal/decisionlog"
	"frameworks/api_payments/internal/fraud"
	"frameworks/api_payments/internal/gateway"
	"frameworks/api_payments/internal/handlers"
	"frameworks/api_payments/internal/jobs"
	"frameworks/api_payments/internal/lifecycle"
	mollieclient "frameworks/api_payments/internal/mollie"
	"frameworks/api_payments/internal/notify"
	"frameworks/api_payments/internal/payout"
	"frameworks/api_payments/internal/policy"
	"frameworks/api_payments/internal/queue"
	"frameworks/api_payments/internal/scheduler"
	"frameworks/api_payments/internal/store"
	stripeclient "frameworks/api_payments/internal/stripe"
	"frameworks/api_payments/internal/webhooks"
	"frameworks/api_payments/migrations"
	"frameworks/pkg/auth"
	"frameworks/pkg/clients"
	"frameworks/pkg/config"
	"frameworks/pkg/database"
	"frameworks/pkg/email"
	"frameworks/pkg/kafka"
	"frameworks/pkg/logging"
	"frameworks/pkg/monitoring"
	"frameworks/pkg/redis"
	"frameworks/pkg/server"
	"frameworks/pkg/version"
)

func main() {
	logger := logging.NewLoggerWithService("bursar")

	config.LoadEnv(logger)

	logger.Info("Starting Bursar (Payments Service)")

	dbURL := config.RequireEnv("DATABASE_URL")
	redisURL := config.GetEnv("REDIS_URL", "redis://localhost:6379/1")
	jwtSecret := config.GetEnv("ADMIN_JWT_SECRET", "")
	serviceToken := config.GetEnv("SERVICE_TOKEN", "")

	if jwtSecret == "" && serviceToken == "" {
		logger.Fatal("ADMIN_JWT_SECRET or SERVICE_TOKEN must be set")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if config.GetEnvBool("AUTO_MIGRATE", false) {
		if err := migrations.Up(dbURL, logger); err != nil {
			logger.WithError(err).Fatal("Failed to apply database migrations")
		}
	}

	dbConfig := database.DefaultConfig()
	dbConfig.URL = dbURL
	db := database.MustConnect(dbConfig, logger)
	defer func() { _ = db.Close() }()

	redisClient, err := redis.NewClientFromURL(ctx, redisURL)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Redis")
	}
	defer func() { _ = redisClient.Close() }()

	pol, err := policy.Load(config.GetEnv("POLICY_FILE", "config/policy.yaml"))
	if err != nil {
		logger.WithError(err).Fatal("Failed to load payments policy")
	}
	fraudCfg, err := pol.FraudConfig()
	if err != nil {
		logger.WithError(err).Fatal("Invalid fraud policy")
	}

	// Setup monitoring
	healthChecker := monitoring.NewHealthChecker("bursar", version.Version)
	metricsCollector := monitoring.NewMetricsCollector("bursar", version.Version, version.GitCommit)

	healthChecker.AddCheck("database", monitoring.DatabaseHealthCheck(db))
	healthChecker.AddCheck("redis", monitoring.RedisHealthCheck(redisClient))

	chargeCounter := metricsCollector.NewCounter("gateway_charges_total", "Gateway charge attempts", []string{"gateway", "status"})
	chargeLatency := metricsCollector.NewHistogram("gateway_charge_duration_seconds", "Gateway charge attempt latency", []string{"gateway", "status"}, nil)
	webhookCounter := metricsCollector.NewCounter("webhook_events_total", "Webhook notifications processed", []string{"gateway", "outcome"})
	jobCounter := metricsCollector.NewCounter("queue_jobs_total", "Finished background jobs", []string{"queue", "type", "outcome"})

	s := store.New(db)
	decisionLog := decisionlog.New(s, logger)
	lm := lifecycle.NewManager(s, decisionLog, pol.Dunning, logger)
	fraudEngine := fraud.NewEngine(s, decisionLog, fraudCfg, nil, logger)

	// Gateways register in fallback order: Stripe first, then Mollie.
	var (
		gateways       []gateway.Gateway
		stripeClient   *stripeclient.Client
		mollieClient   *mollieclient.Client
		webhookCfg     = webhooks.Config{}
		transfers      payout.TransferCreator
		checkoutClient handlers.CheckoutCreator
	)
	if key := config.GetEnv("STRIPE_SECRET_KEY", ""); key != "" {
		stripeClient = stripeclient.NewClient(stripeclient.Config{
			SecretKey:     key,
			WebhookSecret: config.GetEnv("STRIPE_WEBHOOK_SECRET", ""),
			Logger:        logger,
		})
		gateways = append(gateways, gateway.WithCircuitBreaker(gateway.NewStripe(stripeClient), clients.DefaultCircuitBreakerConfig("gateway-stripe")))
		webhookCfg.StripeWebhookSecret = stripeClient.WebhookSecret()
		webhookCfg.StripeSubscriptions = stripeClient
		transfers = stripeClient
		checkoutClient = stripeClient
	} else {
		logger.Warn("STRIPE_SECRET_KEY not set, Stripe gateway disabled")
	}

	if key := config.GetEnv("MOLLIE_API_KEY", ""); key != "" {
		mollieClient, err = mollieclient.NewClient(mollieclient.Config{
			APIKey:        key,
			WebhookSecret: config.GetEnv("MOLLIE_WEBHOOK_SECRET", ""),
			Logger:        logger,
		})
		if err != nil {
			logger.WithError(err).Fatal("Failed to create Mollie client")
		}
		webhookURL := config.GetEnv("MOLLIE_WEBHOOK_URL", "")
		gateways = append(gateways, gateway.WithCircuitBreaker(gateway.NewMollie(mollieClient, webhookURL), clients.DefaultCircuitBreakerConfig("gateway-mollie")))
		webhookCfg.MollieWebhookSecret = mollieClient.WebhookSecret()
		webhookCfg.MolliePayments = mollieClient
	} else {
		logger.Warn("MOLLIE_API_KEY not set, Mollie gateway disabled")
	}

	orchestrator := gateway.NewOrchestrator(decisionLog, logger, gateways...).WithMetrics(chargeCounter).WithLatency(chargeLatency)
	// No gateway means every charge fails; report it rather than refuse to start.
	requiredConfig := map[string]string{
		"DATABASE_URL":     dbURL,
		"payment_gateways": strings.Join(orchestrator.Names(), ","),
	}
	if stripeClient != nil {
		requiredConfig["STRIPE_WEBHOOK_SECRET"] = webhookCfg.StripeWebhookSecret
	}
	if mollieClient != nil {
		requiredConfig["MOLLIE_WEBHOOK_SECRET"] = webhookCfg.MollieWebhookSecret
	}
	healthChecker.AddCheck("config", monitoring.ConfigurationHealthCheck(requiredConfig))
	reconciler := payout.NewReconciler(s, decisionLog, transfers, logger)

	// Background queues
	queueCfg := queue.Config{
		Prefix:  config.GetEnv("QUEUE_PREFIX", "bursar"),
		Workers: config.GetEnvInt("QUEUE_WORKERS", queue.DefaultWorkers),
	}
	dunningQueue := queue.New(redisClient, jobs.QueueDunning, queueCfg, logger).WithMetrics(jobCounter)
	payoutQueue := queue.New(redisClient, jobs.QueuePayout, queueCfg, logger).WithMetrics(jobCounter)
	renewalQueue := queue.New(redisClient, jobs.QueueRenewal, queueCfg, logger).WithMetrics(jobCounter)

	dispatcher := jobs.NewDispatcher(dunningQueue, payoutQueue, renewalQueue)
	notifier := notify.NewDunningNotifier(email.ConfigFromEnv(), config.GetEnv("BILLING_URL", ""), logger)
	if !notifier.IsConfigured() {
		logger.Warn("SMTP not configured, dunning reminders will not be emailed")
	}
	jobs.NewWorkers(s, lm, reconciler, notifier, dispatcher, logger).Register(dunningQueue, payoutQueue, renewalQueue)

	webhookCfg.Dunning = dispatcher
	processor := webhooks.NewProcessor(s, lm, webhookCfg, logger).WithMetrics(webhookCounter)

	// Background workers stop when ctx is canceled.
	var workers errgroup.Group
	for _, q := range []*queue.Queue{dunningQueue, payoutQueue, renewalQueue} {
		workers.Go(func() error {
			q.Run(ctx)
			return nil
		})
	}

	if config.GetEnvBool("SCHEDULER_ENABLED", true) {
		sched := scheduler.New(dispatcher, s, scheduler.Config{
			RenewalSpec:  config.GetEnv("RENEWAL_SCHEDULE", ""),
			WeeklySpec:   config.GetEnv("PAYOUT_WEEKLY_SCHEDULE", ""),
			MonthlySpec:  config.GetEnv("PAYOUT_MONTHLY_SCHEDULE", ""),
			DisburseSpec: config.GetEnv("DISBURSE_SCHEDULE", ""),
		}, logger)
		if err := sched.Start(); err != nil {
			logger.WithError(err).Fatal("Failed to start scheduler")
		}
		defer func() { <-sched.Stop().Done() }()
	}

	if brokers := config.GetEnvList("KAFKA_BROKERS"); len(brokers) > 0 {
		producer, err := kafka.NewProducer(brokers, "bursar", logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to create Kafka producer")
		}
		defer producer.Close()
		healthChecker.AddCheck("kafka", monitoring.KafkaHealthCheck(producer.Client()))

		relay := decisionlog.NewRelay(s, producer, redisClient, decisionlog.RelayConfig{
			Topic: config.GetEnv("DECISIONS_TOPIC", decisionlog.DefaultTopic),
		}, logger)
		workers.Go(func() error {
			relay.Run(ctx)
			return nil
		})
	} else {
		logger.Info("KAFKA_BROKERS not set, decision log relay disabled")
	}

	handlers.Init(handlers.Deps{
		Store:         s,
		Lifecycle:     lm,
		Fraud:         fraudEngine,
		Orchestrator:  orchestrator,
		Payouts:       reconciler,
		Decisions:     decisionLog,
		Webhooks:      processor,
		Checkout:      checkoutClient,
		Routing:       pol.Routing,
		FraudPrecheck: config.GetEnvBool("FRAUD_PRECHECK", true),
		Logger:        logger,
	})

	router := server.SetupServiceRouter(logger, "bursar", healthChecker, metricsCollector)
	handlers.RegisterRoutes(router, auth.AdminAuthMiddleware([]byte(jwtSecret), serviceToken))

	logger.WithFields(logging.Fields{
		"gateways":       orchestrator.Names(),
		"routing_rules":  len(pol.Routing),
		"dunning_rules":  len(pol.Dunning),
		"fraud_precheck": config.GetEnvBool("FRAUD_PRECHECK", true),
	}).Info("Payments core initialized")

	serverConfig := server.DefaultConfig("bursar", "18020")
	if err := server.Start(ctx, serverConfig, router, logger); err != nil {
		logger.WithError(err).Error("Server stopped with error")
	}

	stop()
	_ = workers.Wait()
	logger.Info("Bursar stopped")
}
