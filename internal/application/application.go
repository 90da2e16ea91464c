package application

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/psds-microservice/helpy/paths"
	"github.com/richoz-sanitaire/intervention-service/internal/automation"
	"github.com/richoz-sanitaire/intervention-service/internal/config"
	"github.com/richoz-sanitaire/intervention-service/internal/database"
	"github.com/richoz-sanitaire/intervention-service/internal/handler"
	"github.com/richoz-sanitaire/intervention-service/internal/kafka"
	"github.com/richoz-sanitaire/intervention-service/internal/media"
	"github.com/richoz-sanitaire/intervention-service/internal/notify"
	"github.com/richoz-sanitaire/intervention-service/internal/router"
	"github.com/richoz-sanitaire/intervention-service/internal/service"
	"go.uber.org/zap"
)

// API приложение: HTTP-сервер вебхуков и операторского API (режим api).
type API struct {
	cfg      *config.Config
	log      *zap.Logger
	httpSrv  *http.Server
	producer *kafka.Producer
}

// NewAPI создаёт приложение для режима api: миграции, БД, внешние клиенты, сервисы, роутер.
func NewAPI(ctx context.Context, cfg *config.Config, log *zap.Logger) (*API, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := database.MigrateUp(cfg.DatabaseURL(), log); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	db, err := database.Open(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}

	producer := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic, log)
	if !producer.Enabled() {
		log.Info("kafka: KAFKA_BROKERS not set, change feed disabled")
	}

	var store media.Store
	if cfg.S3.Bucket != "" {
		s3Store, err := media.NewS3Store(ctx, cfg.S3)
		if err != nil {
			return nil, err
		}
		store = s3Store
	} else {
		log.Warn("media: S3_BUCKET not set, inline photos and signatures will be rejected")
	}

	notifier, err := notify.NewTelegram(cfg.Telegram, log)
	if err != nil {
		log.Warn("telegram: disabled", zap.Error(err))
		notifier = notify.Nop{}
	}
	auto := automation.NewClient(cfg.Automation, log)

	opts := service.Options{
		VATRate:      cfg.Billing.VATRate,
		OverdueDays:  cfg.Billing.OverdueDays,
		StaffDomains: cfg.StaffEmailDomains,
	}
	inboxSvc := service.NewInboxService(db, producer, notifier, log)
	interventionSvc := service.NewInterventionService(db, producer, log, opts)
	invoiceSvc := service.NewInvoiceService(db, producer, log, opts)
	reportSvc := service.NewReportService(db, producer, log, service.ReportDeps{
		Invoices:    invoiceSvc,
		Media:       media.NewPromoter(store),
		PDF:         auto,
		Transcriber: auto,
		CallbackURL: cfg.PublicURL + "/webhooks/transcribe-audio",
	})

	if cfg.WebhookSecret == "" {
		log.Warn("WEBHOOK_SECRET not set, all webhooks answer 401")
	}
	h := router.New(router.Deps{
		DB:            db,
		Log:           log,
		WebhookSecret: cfg.WebhookSecret,
		JWTSecret:     cfg.JWTSecret,
		Webhooks:      handler.NewWebhookHandler(inboxSvc, interventionSvc, reportSvc, log),
		Inbox:         handler.NewInboxHandler(inboxSvc, log),
		Interventions: handler.NewInterventionHandler(interventionSvc, reportSvc, log),
		Reports:       handler.NewReportHandler(reportSvc, log),
		Invoices:      handler.NewInvoiceHandler(invoiceSvc, log),
	})

	httpSrv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return &API{cfg: cfg, log: log, httpSrv: httpSrv, producer: producer}, nil
}

// Run запускает HTTP-сервер, блокируется до отмены ctx.
func (a *API) Run(ctx context.Context) error {
	host := a.cfg.AppHost
	if host == "0.0.0.0" {
		host = "localhost"
	}
	base := "http://" + host + ":" + a.cfg.HTTPPort
	a.log.Info("HTTP server listening",
		zap.String("addr", a.httpSrv.Addr),
		zap.String("swagger", base+paths.PathSwagger),
		zap.String("health", base+paths.PathHealth),
		zap.String("ready", base+paths.PathReady),
		zap.String("webhooks", base+"/webhooks/"),
		zap.String("api_v1", base+"/api/v1/"))

	errCh := make(chan error, 1)
	go func() {
		if err := a.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("http: %w", err)
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	if err := a.producer.Close(); err != nil {
		a.log.Warn("kafka close", zap.Error(err))
	}
	return nil
}
