package cmd

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/labstack/echo/v5"
	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/plugins/migratecmd"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	pubnub "github.com/pubnub/go"
	"github.com/redis/go-redis/v9"

	"tanker-booking/config"
	"tanker-booking/handlers"
	"tanker-booking/internal/services/payment"
	"tanker-booking/internal/services/payment/daraja"
	"tanker-booking/internal/status"
	_ "tanker-booking/migrations"
	"tanker-booking/monitoring"
	"tanker-booking/security"
	"tanker-booking/services"
	"tanker-booking/utils"
)

func Start() error {
	app := pocketbase.New()

	// Load configuration
	cfg := config.LoadConfig()

	// Initialize Redis
	redisClient := utils.NewRedisClient(cfg.RedisURL, cfg.RedisPassword, cfg.RedisDB)
	defer redisClient.Close()

	// Initialize PubNub (user notifications)
	pnConfig := pubnub.NewConfig()
	pnConfig.PublishKey = cfg.PubNubPublishKey
	pnConfig.SubscribeKey = cfg.PubNubSubscribeKey
	pnConfig.SecretKey = cfg.PubNubSecretKey

	pn := pubnub.NewPubNub(pnConfig)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	darajaInstance, err := daraja.New(ctx, &daraja.Config{
		BaseURL:        cfg.DarajaConfig.BaseURL,
		ConsumerKey:    cfg.DarajaConfig.ConsumerKey,
		ConsumerSecret: cfg.DarajaConfig.ConsumerSecret,
		ShortCode:      cfg.DarajaConfig.ShortCode,
		Passkey:        cfg.DarajaConfig.Passkey,
		CallbackURL:    cfg.DarajaConfig.CallbackURL,
		WebhookSecret:  cfg.DarajaConfig.WebhookSecret,
		Sandbox:        cfg.DarajaConfig.Sandbox,
		PNSubKey:       cfg.DarajaConfig.PNSubKey,
		PNSubSecret:    cfg.DarajaConfig.PNSubSecret,
		PNUUID:         cfg.DarajaConfig.PNUUID,
		PNChannel:      cfg.DarajaConfig.PNChannel,
	})
	if err != nil {
		return err
	}

	providers := payment.NewRegistry()
	providers.Register(darajaInstance)
	defer providers.Close(context.Background())

	// Initialize services
	store := services.NewPBStore(app)
	ledger := services.NewLedgerService(redisClient, store, cfg)
	notify := services.NewNotifyService(pn)
	reconciler := services.NewReconcilerService(redisClient, ledger, store, darajaInstance, notify, cfg)

	// Sandbox results arrive over the PubNub feed instead of the webhook.
	resultCh := make(chan *status.ProviderResult, 1)
	darajaInstance.SetResultChannel(resultCh)
	go func() {
		for {
			select {
			case res := <-resultCh:
				slog.Info("provider result from feed", "idempotencyKey", res.IdempotencyKey, "success", res.Success)
				if err := reconciler.OnProviderResult(ctx, res); err != nil {
					slog.Error("apply feed result", "idempotencyKey", res.IdempotencyKey, "error", err)
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	// Initialize handlers
	bookingHandler := handlers.NewBookingHandler(app, ledger, reconciler, cfg)
	paymentHandler := handlers.NewPaymentHandler(reconciler, cfg)
	ratingHandler := handlers.NewRatingHandler(app)
	adminHandler := handlers.NewAdminHandler(app, cfg)
	webhookHandler := handlers.NewWebhookHandler(reconciler, providers)

	// Enable migrations
	migratecmd.MustRegister(app, app.RootCmd, migratecmd.Config{
		Automigrate: true,
	})

	// Start background tasks
	go reconciler.StartSweeper(ctx)
	monitoring.NewMonitor(redisClient)

	go startCallbackServer(cfg, redisClient, webhookHandler)

	if cfg.EnableMetrics {
		go startMetricsServer(cfg.MetricsPort)
	}

	// Setup graceful shutdown
	go handleShutdown(cancel)

	app.OnServe().BindFunc(func(e *core.ServeEvent) error {
		// Booking endpoints
		e.Router.POST("/api/v1/bookings/claim", bookingHandler.ClaimSlot)
		e.Router.GET("/api/v1/slots/{date}", bookingHandler.GetAvailability)
		e.Router.GET("/api/v1/bookings/history", bookingHandler.GetBookingHistory)
		e.Router.GET("/api/v1/bookings/{bookingId}", bookingHandler.GetBooking)
		e.Router.POST("/api/v1/bookings/{bookingId}/cancel", bookingHandler.CancelBooking)
		e.Router.POST("/api/v1/bookings/{bookingId}/rating", ratingHandler.SubmitRating)

		// Payment endpoints
		e.Router.GET("/api/v1/payments/{key}/status", paymentHandler.GetPaymentStatus)

		// Admin endpoints
		admin := e.Router.Group("/api/v1/admin")
		admin.BindFunc(adminHandler.RequireAdminKey)
		admin.GET("/bookings", adminHandler.ListBookings)
		admin.GET("/dashboard", adminHandler.Dashboard)

		// Test endpoint for payment simulation
		if cfg.Environment == "development" {
			e.Router.POST("/api/v1/test/simulate-payment", paymentHandler.SimulatePayment)
		}

		// Health check
		e.Router.GET("/health", func(e *core.RequestEvent) error {
			if err := utils.RedisHealthCheck(redisClient); err != nil {
				return e.JSON(503, map[string]string{
					"status": "unhealthy",
					"error":  err.Error(),
				})
			}
			return e.JSON(200, map[string]string{"status": "healthy"})
		})

		log.Println("Server routes registered")

		return e.Next()
	})

	// Start server
	if err := app.Start(); err != nil {
		log.Fatal(err)
	}
	return nil
}

// startCallbackServer runs the provider-facing listener on its own port so
// the public API surface never exposes the callback route.
func startCallbackServer(cfg *config.Config, redisClient *redis.Client, webhookHandler *handlers.WebhookHandler) {
	e := echo.New()

	rateLimiter := security.NewRateLimiter(redisClient)
	e.Use(rateLimiter.CallbackRateLimit(120))

	e.POST("/callbacks/mpesa", webhookHandler.MpesaCallback)

	srv := &http.Server{
		Addr:    ":" + cfg.CallbackPort,
		Handler: e,
	}

	log.Printf("Callback listener on %s", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal(err)
	}
}

func startMetricsServer(port string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	log.Printf("Metrics listener on :%s", port)
	if err := http.ListenAndServe(":"+port, mux); err != nil && err != http.ErrServerClosed {
		log.Fatal(err)
	}
}

// handleShutdown handles graceful shutdown
func handleShutdown(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	log.Println("Shutdown signal received, cleaning up...")
	cancel()
}
