package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"textreviews/config"
	"textreviews/internal/adapters/twilio"
	"textreviews/internal/db"
	"textreviews/internal/delivery"
	"textreviews/internal/handlers"
	"textreviews/internal/services"
	"textreviews/internal/store"
	"textreviews/pkg/logger"
)

var seedCompany = flag.String("seed-company", "", "Create a company with this name at startup and log its id")

// unconfiguredSender rejects sends when Twilio credentials are missing.
type unconfiguredSender struct{}

func (unconfiguredSender) SendSMS(context.Context, string, string) (string, error) {
	return "", errors.New("Twilio is not configured")
}

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	logger.InitLogger(cfg.LogFormat, cfg.LogLevel)

	conn, err := db.InitDB(cfg.DBDriver, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer conn.Close()

	if err := db.Migrate(conn); err != nil {
		log.Fatal().Err(err).Msg("Failed to run database migrations")
	}

	requests := store.NewRequestStore(conn, cfg.StoreTimeout)
	reviews := store.NewReviewStore(conn, cfg.StoreTimeout)
	companies := store.NewCompanyStore(conn, cfg.StoreTimeout)

	if *seedCompany != "" {
		c, err := companies.Create(context.Background(), *seedCompany)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to seed company")
		}
		log.Info().Int64("companyID", c.ID).Str("name", c.Name).Msg("Company created")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	manager, closeChannels := initDelivery(cfg)
	defer closeChannels()
	if manager != nil {
		go manager.Run(ctx)
	}

	var verifier twilio.Verifier = twilio.NoopVerifier{}
	if cfg.SkipSignatureValidation {
		log.Warn().Msg("Twilio signature validation is disabled. NOT FOR PRODUCTION.")
	} else {
		v, err := twilio.NewSignatureVerifier(cfg.TwilioAuthToken)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize signature verifier")
		}
		verifier = v
	}

	var sender services.Sender = unconfiguredSender{}
	if tc, err := twilio.NewClient(cfg.TwilioBaseURL, cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioPhone, cfg.StatusCallbackURL); err != nil {
		log.Warn().Err(err).Msg("Twilio client not configured, send-review is disabled")
	} else {
		sender = tc
	}

	matcher, err := services.NewRequestMatcher(requests)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize RequestMatcher")
	}
	inboundOpts := []services.InboundOption{services.WithAtomicResolve(cfg.AtomicResolve)}
	if manager != nil {
		inboundOpts = append(inboundOpts, services.WithEventSink(manager))
	}
	inbound, err := services.NewInboundService(matcher, requests, reviews, inboundOpts...)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize InboundService")
	}
	dispatch, err := services.NewDispatchService(companies, sender, requests, 5*time.Minute)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize DispatchService")
	}

	textWebhook, err := handlers.NewTextWebhookHandler(inbound, verifier, cfg.APIBaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize text webhook handler")
	}
	companyHandler, err := handlers.NewCompanyHandler(dispatch, reviews)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize company handler")
	}

	router := handlers.Router{
		TextWebhook: textWebhook,
		Companies:   companyHandler,
		Deliveries:  handlers.NewDeliveryHandler(manager),
		DB:          conn,
		Logger:      log.Logger,
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.Port).Msg("Server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown failed")
	}
	log.Info().Msg("Server stopped")
}

// initDelivery builds the review event channels that are configured. It returns a nil
// manager when none is.
func initDelivery(cfg *config.Config) (*delivery.Manager, func()) {
	var channels []delivery.Channel
	var closers []func()

	if cfg.ReviewWebhookURL != "" {
		w, err := delivery.NewWebhookChannel(cfg.ReviewWebhookURL)
		if err != nil {
			log.Error().Err(err).Msg("Could not configure review webhook")
		} else {
			channels = append(channels, w)
		}
	}

	if cfg.RabbitMQURL != "" {
		r, err := delivery.NewRabbitChannel(cfg.RabbitMQURL, cfg.RabbitMQQueue)
		if err != nil {
			log.Error().Err(err).Msg("RabbitMQ publishing disabled")
		} else {
			channels = append(channels, r)
			closers = append(closers, func() { _ = r.Close() })
		}
	} else {
		log.Info().Msg("RABBITMQ_URL is not set. RabbitMQ publishing disabled.")
	}

	if cfg.S3.Enabled {
		a, err := delivery.NewS3Archive(cfg.S3)
		if err != nil {
			log.Error().Err(err).Msg("S3 archive disabled")
		} else {
			channels = append(channels, a)
		}
	}

	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}
	if len(channels) == 0 {
		log.Info().Msg("No review event channels configured")
		return nil, closeAll
	}
	return delivery.NewManager(channels, delivery.Options{}), closeAll
}
