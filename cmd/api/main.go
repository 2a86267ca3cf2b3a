package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"

	"tripbook/internal/config"
	"tripbook/internal/consumer"
	"tripbook/internal/database"
	"tripbook/internal/gateway"
	"tripbook/internal/handler"
	"tripbook/internal/middleware"
	"tripbook/internal/monitor"
	"tripbook/internal/notify"
	"tripbook/internal/redis"
	"tripbook/internal/repository"
	"tripbook/internal/service/inventory"
	"tripbook/internal/service/order"
	"tripbook/internal/service/payment"
	"tripbook/internal/service/refund"
	"tripbook/pkg/breaker"
	"tripbook/pkg/limiter"
	"tripbook/pkg/log"
	"tripbook/pkg/queue"
	"tripbook/pkg/snowflake"
)

func main() {
	cfg, err := config.LoadConfig("")
	if err != nil {
		log.WithFields(map[string]interface{}{
			"error": err.Error(),
		}).Fatal("Failed to load config")
	}

	logConfig := log.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		Filename:   cfg.Log.Filename,
		MaxSize:    cfg.Log.MaxSize,
		MaxAge:     cfg.Log.MaxAge,
		MaxBackups: cfg.Log.MaxBackups,
		Compress:   cfg.Log.Compress,
	}
	if err := log.Init(logConfig); err != nil {
		panic(err)
	}

	if err := database.Init(cfg); err != nil {
		log.WithError(err).Fatal("Failed to initialize database")
	}
	defer database.Close()

	db := database.GetDB()
	if err := database.AutoMigrate(db); err != nil {
		log.WithError(err).Fatal("Failed to migrate database")
	}
	if err := database.CreateIndexes(db); err != nil {
		log.WithError(err).Fatal("Failed to create indexes")
	}

	if err := redis.Init(cfg); err != nil {
		log.WithError(err).Fatal("Failed to initialize redis")
	}
	defer redis.Close()
	rdb := redis.GetClient()

	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	metrics := monitor.GetMetricsCollector()

	tracer, err := monitor.NewTracer(&monitor.TracerConfig{
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: "1.0.0",
		Environment:    cfg.Server.Mode,
		JaegerEndpoint: cfg.Tracing.Endpoint,
		SamplingRate:   cfg.Tracing.SampleRate,
		Enabled:        cfg.Tracing.Enabled,
	})
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize tracer")
	}

	idGenerator, err := snowflake.NewIDGenerator(cfg.Booking.SnowflakeNode)
	if err != nil {
		log.WithError(err).Fatal("Failed to create ID generator")
	}

	messageQueue, err := queue.NewMemoryQueue(nil)
	if err != nil {
		log.WithError(err).Fatal("Failed to create message queue")
	}
	defer messageQueue.Close()
	notifier := notify.NewNotifier(messageQueue)

	// repositories
	itemRepo := repository.NewItemRepository(db)
	orderRepo := repository.NewOrderRepository(db)
	webhookRepo := repository.NewWebhookEventRepository(db)

	store, err := inventory.NewStore(itemRepo, cfg.Booking.ItemCacheTTL)
	if err != nil {
		log.WithError(err).Fatal("Failed to create inventory store")
	}

	// payment gateways
	wechat := gateway.NewWechat(cfg.Payment.Wechat, cfg.Payment.RequestTimeout)
	alipay, err := gateway.NewAlipay(cfg.Payment.Alipay, cfg.Payment.RequestTimeout)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize alipay gateway")
	}
	registry := gateway.NewRegistry(wechat, alipay)

	breakers := breaker.NewManager(breaker.Config{
		MaxRequests: 5,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
	})

	// services
	orderService := order.NewOrderService(orderRepo, store, idGenerator, notifier, tracer, cfg.Booking.OrderTimeout)
	paymentService := payment.NewPaymentService(registry, orderRepo, webhookRepo, rdb, breakers, notifier, metrics, tracer, cfg.Payment.SessionTTL)
	refundService := refund.NewRefundService(orderRepo, registry, rdb, breakers, notifier, metrics, tracer)

	router := setupRouter(cfg, metrics, tracer, orderService, paymentService, refundService, store, rdb)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	notifications := consumer.NewNotificationConsumer(messageQueue)
	if err := notifications.Start(ctx); err != nil {
		log.WithError(err).Fatal("Failed to start notification consumer")
	}

	order.StartExpireSweep(ctx, orderService, cfg.Booking.ExpireSweep)
	metrics.StartRuntimeMetricsCollection(ctx)

	server := &http.Server{
		Addr:           cfg.Server.GetAddr(),
		Handler:        router,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		IdleTimeout:    cfg.Server.IdleTimeout,
		MaxHeaderBytes: 1 << 20,
	}

	go func() {
		log.WithFields(map[string]interface{}{
			"addr": server.Addr,
			"mode": cfg.Server.Mode,
		}).Info("Starting HTTP server")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("Server forced to shutdown")
	}
	if err := tracer.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("Tracer shutdown failed")
	}

	log.Info("Server exited")
}

func setupRouter(
	cfg *config.Config,
	metrics *monitor.MetricsCollector,
	tracer *monitor.Tracer,
	orderService order.OrderService,
	paymentService payment.PaymentService,
	refundService refund.RefundService,
	store inventory.Store,
	rdb *goredis.Client,
) *gin.Engine {
	router := gin.New()

	router.Use(middleware.Logger(metrics))
	router.Use(middleware.Tracing(tracer))
	router.Use(middleware.Recovery())
	router.Use(middleware.CORS(&cfg.Security))
	router.Use(middleware.Timeout(30 * time.Second))

	router.GET("/health", healthCheck)
	router.GET("/ping", ping)
	if cfg.Metrics.Enabled {
		path := cfg.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		router.GET(path, gin.WrapH(promhttp.Handler()))
	}

	orderHandler := handler.NewOrderHandler(orderService)
	paymentHandler := handler.NewPaymentHandler(paymentService)
	itemHandler := handler.NewItemHandler(store)
	adminHandler := handler.NewAdminHandler(refundService, orderService, store)

	api := router.Group("/api/v1")

	// gateway callbacks carry their own signatures, no user auth
	api.POST("/payment/notify/:method", paymentHandler.Notify)

	public := api.Group("")
	if cfg.RateLimit.Enabled {
		public.Use(middleware.IPRateLimit(float64(cfg.RateLimit.PerIP.RPS), cfg.RateLimit.PerIP.Burst, cfg.RateLimit.PerIP.TTL))
	}
	{
		public.GET("/items", itemHandler.ListItems)
		public.GET("/items/:id", itemHandler.GetItem)
		public.GET("/blindbox/draw", itemHandler.Draw)
		public.GET("/payment/methods", paymentHandler.Methods)
	}

	protected := api.Group("")
	protected.Use(middleware.Auth(cfg.Security.JWT.Secret))
	if cfg.RateLimit.Enabled {
		protected.Use(middleware.IPRateLimit(float64(cfg.RateLimit.PerIP.RPS), cfg.RateLimit.PerIP.Burst, cfg.RateLimit.PerIP.TTL))
	}
	{
		protected.POST("/orders", orderHandler.CreateOrder)
		protected.GET("/orders", orderHandler.ListOrders)
		protected.GET("/orders/:order_no", orderHandler.GetOrder)
		protected.POST("/orders/:order_no/cancel", orderHandler.CancelOrder)

		paymentGroup := protected.Group("/payment")
		if cfg.RateLimit.Enabled {
			paymentGroup.Use(middleware.PaymentRateLimit(
				limiter.NewSlidingWindowLimiter(rdb, cfg.RateLimit.Payment.RPS, time.Second),
			))
		}
		{
			paymentGroup.POST("/create", paymentHandler.CreateSession)
			paymentGroup.POST("/refund", orderHandler.RequestRefund)
		}
	}

	admin := api.Group("/admin")
	admin.Use(middleware.AdminAuth(cfg.Security.Admin.Operators))
	{
		admin.GET("/refunds", adminHandler.ListRefunds)
		admin.POST("/orders/:order_no/refund", adminHandler.DecideRefund)
		admin.POST("/orders/:order_no/complete", adminHandler.CompleteOrder)
		admin.POST("/items", adminHandler.CreateItem)
	}

	return router
}

func healthCheck(c *gin.Context) {
	status := "ok"
	checks := gin.H{}

	if err := database.Health(); err != nil {
		status = "degraded"
		checks["database"] = err.Error()
	} else {
		checks["database"] = "ok"
	}

	if err := redis.Health(); err != nil {
		status = "degraded"
		checks["redis"] = err.Error()
	} else {
		checks["redis"] = "ok"
	}

	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{"status": status, "checks": checks})
}

func ping(c *gin.Context) {
	c.String(http.StatusOK, "pong")
}
