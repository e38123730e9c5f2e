// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/tmrdanny/taghere-crm-sub004/internal/campaign"
	"github.com/tmrdanny/taghere-crm-sub004/internal/config"
	"github.com/tmrdanny/taghere-crm-sub004/internal/credit"
	"github.com/tmrdanny/taghere-crm-sub004/internal/dispatch"
	"github.com/tmrdanny/taghere-crm-sub004/internal/gateway"
	"github.com/tmrdanny/taghere-crm-sub004/internal/handler"
	"github.com/tmrdanny/taghere-crm-sub004/internal/metrics"
	"github.com/tmrdanny/taghere-crm-sub004/internal/payment"
	"github.com/tmrdanny/taghere-crm-sub004/internal/queue"
	"github.com/tmrdanny/taghere-crm-sub004/internal/repository"
	"github.com/tmrdanny/taghere-crm-sub004/internal/wallet"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("config", zap.Error(err))
	}

	db, err := config.OpenDB(cfg)
	if err != nil {
		log.Fatal("database", zap.Error(err))
	}
	defer db.Close()

	q, err := queue.DialAMQP(cfg.AMQPURL, log)
	if err != nil {
		log.Fatal("amqp", zap.Error(err))
	}
	defer q.Close()

	payGW, err := gateway.NewPaymentGateway(cfg.Payments, log)
	if err != nil {
		log.Fatal("payment gateway", zap.Error(err))
	}

	metrics.InitAPIMetrics()

	outboxRepo := &repository.OutboxRepository{DB: db}
	campaignRepo := &repository.CampaignRepository{DB: db}
	walletRepo := &repository.WalletRepository{DB: db}
	creditRepo := &repository.CreditRepository{DB: db}
	paymentRepo := &repository.PaymentRepository{DB: db}

	allocator := credit.NewAllocator(creditRepo, cfg.MonthlyFreeCredits)
	notifier := wallet.NewNotifier(outboxRepo, cfg.LowBalanceThresholdCents, log)
	ledger := wallet.NewLedger(walletRepo, notifier, log)
	costs := dispatch.DefaultCostTable()

	campaignService := &campaign.Service{
		Campaigns: campaignRepo,
		Credits:   allocator,
		Costs:     costs,
		Queue:     q,
		Log:       log,
	}
	reconciler := payment.NewReconciler(paymentRepo, ledger, payGW, log)

	campaignHandler := &handler.CampaignHandler{Service: campaignService, Log: log}
	paymentHandler := &handler.PaymentHandler{Payments: paymentRepo, Reconciler: reconciler, Log: log}
	walletHandler := &handler.WalletHandler{Ledger: ledger, Credits: allocator, Log: log}
	messageHandler := &handler.MessageHandler{Outbox: outboxRepo}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Post("/campaigns", campaignHandler.CreateCampaign)
	r.Get("/campaigns", campaignHandler.ListCampaigns)
	r.Get("/campaigns/{id}", campaignHandler.GetCampaignWithStats)
	r.Post("/campaigns/{id}/send", campaignHandler.SendCampaign)

	r.Post("/payments/orders", paymentHandler.CreateOrder)
	r.Post("/payments/confirm", paymentHandler.ConfirmPayment)

	r.Get("/tenants/{tenantID}/wallet", walletHandler.GetWallet)
	r.Get("/tenants/{tenantID}/wallet/audit", walletHandler.GetWalletAudit)
	r.Post("/tenants/{tenantID}/wallet/adjust", walletHandler.AdjustWallet)
	r.Get("/tenants/{tenantID}/credits", walletHandler.GetCredits)
	r.Post("/tenants/{tenantID}/credits/adjust", walletHandler.AdjustCredits)

	r.Get("/messages/{id}", messageHandler.GetMessage)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
			log.Warn("metrics server stopped", zap.Error(err))
		}
	}()

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: r}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info("server listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("shutdown", zap.Error(err))
	}
}
