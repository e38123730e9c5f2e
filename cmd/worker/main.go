// cmd/worker/main.go
package main

import (
	"context"
	"net/http"
	"os/signal"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/tmrdanny/taghere-crm-sub004/internal/campaign"
	"github.com/tmrdanny/taghere-crm-sub004/internal/config"
	"github.com/tmrdanny/taghere-crm-sub004/internal/dispatch"
	"github.com/tmrdanny/taghere-crm-sub004/internal/gateway"
	"github.com/tmrdanny/taghere-crm-sub004/internal/metrics"
	"github.com/tmrdanny/taghere-crm-sub004/internal/model"
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

	msgGW, err := gateway.NewMessageGateway(cfg.Messaging, log)
	if err != nil {
		log.Fatal("messaging gateway", zap.Error(err))
	}

	q, err := queue.DialAMQP(cfg.AMQPURL, log)
	if err != nil {
		log.Fatal("amqp", zap.Error(err))
	}
	defer q.Close()

	metrics.InitWorkerMetrics()

	outboxRepo := &repository.OutboxRepository{DB: db}
	campaignRepo := &repository.CampaignRepository{DB: db}
	walletRepo := &repository.WalletRepository{DB: db}

	notifier := wallet.NewNotifier(outboxRepo, cfg.LowBalanceThresholdCents, log)
	ledger := wallet.NewLedger(walletRepo, notifier, log)
	costs := dispatch.DefaultCostTable()

	// Both SMS channels share one provider status-poll budget.
	limiter := rate.NewLimiter(rate.Limit(cfg.StatusQueriesPerSecond), 1)

	adapters := []dispatch.ChannelAdapter{
		&dispatch.PushAdapter{Gateway: msgGW},
		&dispatch.GroupPollAdapter{
			ChannelID: model.ChannelSMS,
			Gateway:   msgGW,
			Dwell:     cfg.SMSDwell,
			Limiter:   limiter,
		},
		&dispatch.GroupPollAdapter{
			ChannelID: model.ChannelExternalSMS,
			Gateway:   msgGW,
			Dwell:     cfg.SMSDwell,
			Limiter:   limiter,
		},
	}

	expander := &campaign.Expander{
		Campaigns: campaignRepo,
		Outbox:    outboxRepo,
		Gateway:   msgGW,
		Log:       log,
	}
	if err := expander.Register(q); err != nil {
		log.Fatal("subscribe campaign sends", zap.Error(err))
	}

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
			log.Warn("metrics server stopped", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	for _, a := range adapters {
		w := &dispatch.Worker{
			Adapter:   a,
			Outbox:    outboxRepo,
			Campaigns: campaignRepo,
			Wallet:    ledger,
			Costs:     costs,
			Alerter:   notifier,
			Interval:  cfg.PollInterval,
			BatchSize: cfg.ClaimBatchSize,
			Log:       log.With(zap.String("channel", string(a.Channel()))),
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Run(ctx)
		}()
	}

	log.Info("dispatch workers started", zap.Int("channels", len(adapters)))
	<-ctx.Done()
	log.Info("shutting down")
	wg.Wait()
}
