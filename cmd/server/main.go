package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"attendguard/internal/audit"
	auditdomain "attendguard/internal/audit/domain"
	auditrepo "attendguard/internal/audit/repository"
	"attendguard/internal/config"
	"attendguard/internal/db"
	"attendguard/internal/devcreds"
	"attendguard/internal/escalation"
	"attendguard/internal/gateway"
	"attendguard/internal/metrics"
	"attendguard/internal/policy"
	"attendguard/internal/rbac"
	"attendguard/internal/security"
	"attendguard/internal/server"
	"attendguard/internal/session"
	"attendguard/internal/telemetry"
	otelsetup "attendguard/internal/telemetry/otel"
	"attendguard/internal/telemetry/producer"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	metrics.Init()

	providers, err := otelsetup.NewProviders(context.Background(), cfg.OTLPEndpoint, "attendguard", cfg.OTLPInsecure)
	if err != nil {
		log.Fatalf("otel: %v", err)
	}
	providers.SetGlobal()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := providers.Shutdown(ctx); err != nil {
			log.Printf("otel shutdown: %v", err)
		}
	}()

	var (
		sink   audit.Sink
		pinger server.Pinger
	)
	if cfg.DatabaseURL != "" {
		sqlDB, err := db.Open(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("db: %v", err)
		}
		defer sqlDB.Close()
		sink = auditrepo.NewPostgresRepository(sqlDB)
		pinger = sqlDB
		log.Println("durable audit storage enabled")
	} else {
		log.Println("DATABASE_URL not set; audit chain is in-memory only")
	}

	var alerters telemetry.Fanout
	alerters = append(alerters, otelsetup.NewAlertEmitter(providers.LoggerProvider))
	kafkaAlerter, err := producer.NewKafkaAlerter(cfg.AlertKafkaBrokersList(), cfg.AlertKafkaTopic)
	if err != nil {
		log.Fatalf("kafka: %v", err)
	}
	if kafkaAlerter != nil {
		alerters = append(alerters, kafkaAlerter)
		defer kafkaAlerter.Close()
		log.Printf("critical alerts publishing to Kafka topic %s", cfg.AlertKafkaTopic)
	}

	chain := audit.NewChainLog(sink, alerters)

	pf, err := policy.LoadFile(cfg.PolicyFile)
	if err != nil {
		log.Fatalf("policy: %v", err)
	}
	table, err := policy.Compile(pf.Rules, pf.SensitivePaths, rbac.Role(cfg.DefaultRole))
	if err != nil {
		log.Fatalf("policy: %v", err)
	}
	log.Printf("policy table loaded from %s (%d rules)", cfg.PolicyFile, len(pf.Rules))

	sessions := session.NewStore(cfg.SessionIdleTimeout(), cfg.CriticalActionMaxAge())
	sessions.StartSweeper(cfg.SweepInterval())
	defer sessions.Stop()

	detector := escalation.NewDetector(cfg.AttemptWindow(), cfg.EscalationMaxAttempts, table)
	detector.StartPruner(cfg.PruneInterval())
	defer detector.Stop()

	var tokens *security.TokenProvider
	if cfg.JWTPrivateKey != "" && cfg.JWTPublicKey != "" {
		priv, err := security.ParsePrivateKey(cfg.JWTPrivateKey)
		if err != nil {
			log.Fatalf("jwt private key: %v", err)
		}
		pub, err := security.ParsePublicKey(cfg.JWTPublicKey)
		if err != nil {
			log.Fatalf("jwt public key: %v", err)
		}
		tokens = security.NewTokenProvider(priv, pub, cfg.JWTIssuer, cfg.JWTAudience, cfg.JWTLifetime())
		log.Printf("token authorization enabled (%s)", security.KeyAlg(pub))
	} else {
		log.Println("JWT keys not configured; token authorization disabled")
	}

	creds := devcreds.NewMemoryStore(security.NewHasher(cfg.BcryptCost))
	gw := gateway.New(sessions, detector, chain, table, tokens, creds)

	deps := server.Deps{
		Gateway:  gw,
		Chain:    chain,
		Sessions: sessions,
		Detector: detector,
		Pinger:   pinger,
	}
	if cfg.Env == "development" {
		deps.DevCreds = creds
		log.Println("dev credential seeding endpoint enabled")
	}
	api := server.New(deps)

	loopCtx, cancelLoops := context.WithCancel(context.Background())
	defer cancelLoops()
	go integrityLoop(loopCtx, cfg.IntegrityInterval(), chain, sessions, detector)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Printf("ops server listening on %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("serve: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Println("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown: %v", err)
	}
	log.Println("ops server stopped")
}

// integrityLoop re-verifies the audit chain on a fixed interval and refreshes
// the gauges. A failed verification is itself a critical audit event, so the
// alert fanout fires on tampering even when nobody is reading the logs.
func integrityLoop(ctx context.Context, interval time.Duration, chain *audit.ChainLog, sessions *session.Store, detector *escalation.Detector) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.ActiveSessions.Set(float64(sessions.Count()))
			metrics.AuditChainLength.Set(float64(chain.Len()))
			metrics.BlacklistedUsers.Set(float64(detector.BlacklistedCount()))

			if chain.VerifyLogIntegrity() {
				metrics.IntegrityChecksTotal.WithLabelValues("ok").Inc()
				continue
			}
			metrics.IntegrityChecksTotal.WithLabelValues("violated").Inc()
			log.Println("audit chain integrity check FAILED")
			chain.LogSecurityEvent(ctx, audit.Event{
				Type:     auditdomain.EventIntegrityViolation,
				Severity: auditdomain.SeverityCritical,
				Details:  map[string]any{"chain_length": chain.Len()},
			})
		}
	}
}
