// Package main is the kontextd entry point: it wires config, storage, the
// compliance/anomaly/trust subsystems, the anchor and attestation clients,
// and the engine behind the HTTP boundary, with graceful shutdown.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vinay-lgtm-code/kontext-verify-sub003/domain/plan"
	"github.com/vinay-lgtm-code/kontext-verify-sub003/httpapi"
	"github.com/vinay-lgtm-code/kontext-verify-sub003/infrastructure/config"
	"github.com/vinay-lgtm-code/kontext-verify-sub003/infrastructure/logging"
	"github.com/vinay-lgtm-code/kontext-verify-sub003/infrastructure/metrics"
	"github.com/vinay-lgtm-code/kontext-verify-sub003/infrastructure/middleware"
	"github.com/vinay-lgtm-code/kontext-verify-sub003/internal/actionstore"
	"github.com/vinay-lgtm-code/kontext-verify-sub003/internal/anchor"
	"github.com/vinay-lgtm-code/kontext-verify-sub003/internal/anomaly"
	"github.com/vinay-lgtm-code/kontext-verify-sub003/internal/approvalengine"
	"github.com/vinay-lgtm-code/kontext-verify-sub003/internal/attestation"
	"github.com/vinay-lgtm-code/kontext-verify-sub003/internal/compliance"
	"github.com/vinay-lgtm-code/kontext-verify-sub003/internal/digestchain"
	"github.com/vinay-lgtm-code/kontext-verify-sub003/internal/engine"
	"github.com/vinay-lgtm-code/kontext-verify-sub003/internal/export"
	"github.com/vinay-lgtm-code/kontext-verify-sub003/internal/plangate"
	"github.com/vinay-lgtm-code/kontext-verify-sub003/internal/screening"
	"github.com/vinay-lgtm-code/kontext-verify-sub003/internal/trustscore"
	"github.com/vinay-lgtm-code/kontext-verify-sub003/internal/webhook"
)

// anchorAdapter satisfies engine.AnchorClient by fixing the RPC URL and
// contract the engine was configured with, converting internal/anchor's
// result shape into the engine's own AnchorProof.
type anchorAdapter struct {
	client *anchor.Client
	cfg    anchor.Config
}

func (a *anchorAdapter) AnchorDigest(digest, projectHash string) (engine.AnchorProof, error) {
	result, err := a.client.AnchorDigest(a.cfg, digest, projectHash)
	if err != nil {
		return engine.AnchorProof{}, err
	}
	return engine.AnchorProof{
		Anchorer:    result.Anchorer,
		ProjectHash: result.ProjectHash,
		Timestamp:   result.Timestamp,
		TxHash:      result.TxHash,
	}, nil
}

// attestationAdapter satisfies engine.AttestationClient, converting the
// flat (endpoint, senderDigest, senderAgentID, amount, token) call the
// engine makes into an internal/attestation.Payload.
type attestationAdapter struct {
	client *attestation.Client
	cfg    attestation.Config
}

func (a *attestationAdapter) ExchangeAttestation(endpoint, senderDigest, senderAgentID, amount, token string) (engine.CounterpartyResult, error) {
	result, err := a.client.ExchangeAttestation(a.cfg, endpoint, attestation.Payload{
		SenderDigest:  senderDigest,
		SenderAgentID: senderAgentID,
		Amount:        amount,
		Token:         token,
		Timestamp:     time.Now().UTC(),
	})
	if err != nil {
		return engine.CounterpartyResult{Attested: false, Error: err.Error()}, nil
	}
	return engine.CounterpartyResult{
		Attested: result.Attested,
		Digest:   result.Digest,
		AgentID:  result.AgentID,
	}, nil
}

func main() {
	cfg := config.Load()
	logger := logging.NewFromEnv("kontextd")

	store := actionstore.New()
	chain := digestchain.New()
	gate := plangate.New(plan.TierFree)
	screener := screening.New()
	checker := compliance.New(screener)
	detector := anomaly.New(anomaly.DefaultConfig(), gate.Tier(), store)
	scorer := trustscore.New(store)
	approver := approvalengine.New()
	approver.SetTTL(cfg.ApprovalTTL)

	eng := engine.New(store, chain, gate, checker, detector, scorer, approver, logger)

	wh := webhook.New(webhook.Config{
		MaxRetries:     cfg.WebhookMaxRetries,
		BaseDelay:      100 * time.Millisecond,
		RequestTimeout: cfg.WebhookTimeout,
		HistorySize:    500,
	}, logger)
	eng.SetWebhookDispatcher(wh)

	if cfg.AnchorRPCURL != "" {
		eng.SetAnchorClient(&anchorAdapter{
			client: anchor.New(nil),
			cfg:    anchor.Config{RPCURL: cfg.AnchorRPCURL, Contract: cfg.AnchorContract, Timeout: cfg.AnchorTimeout},
		})
	}
	eng.SetAttestationClient(&attestationAdapter{
		client: attestation.New(nil),
		cfg:    attestation.Config{Timeout: cfg.AttestationTimeout},
	})

	exportBuilder := export.New(store, chain)
	handler := httpapi.New(eng, exportBuilder, wh, logger)

	tierForKey := make(map[string]plan.Tier, len(cfg.APIKeyPlans))
	for _, k := range cfg.AllKeys() {
		if t := cfg.PlanForKey(k); t != "" {
			tierForKey[k] = plan.Tier(t)
		}
	}

	auth := middleware.NewAuth(cfg.AllKeys(), tierForKey, logger)
	rateLimiter := middleware.NewRateLimiter(100, 60*time.Second, 100, logger)
	metricsCollector := metrics.New("kontextd")

	router := handler.Router(auth.Handler)
	router.Use(middleware.Logging(logger))
	router.Use(middleware.NewRecovery(logger).Handler)
	router.Use(middleware.Metrics("kontextd", metricsCollector))
	router.Use(middleware.NewCORS(middleware.CORSConfig{
		AllowedOrigins: cfg.CORSOrigins,
	}).Handler)
	router.Use(middleware.NewSecurityHeaders(middleware.DefaultSecurityHeaders()).Handler)
	router.Use(rateLimiter.Handler)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	go func() {
		log.Printf("kontextd listening on port %s (env=%s)", cfg.Port, cfg.NodeEnv)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
