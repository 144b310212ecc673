// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/luxfi/rewards/pkg/account"
	"github.com/luxfi/rewards/pkg/ads"
	"github.com/luxfi/rewards/pkg/config"
	"github.com/luxfi/rewards/pkg/log"
	"github.com/luxfi/rewards/pkg/metrics"
	"github.com/luxfi/rewards/pkg/prefs"
	"github.com/luxfi/rewards/pkg/store"
	"github.com/luxfi/rewards/pkg/timeutil"
	"github.com/luxfi/rewards/pkg/urlrequest"
)

var (
	dataDir     = flag.String("data-dir", "/tmp/rewardsd", "Data directory")
	logLevel    = flag.String("log-level", "info", "Log level")
	metricsPort = flag.Int("metrics-port", 9102, "Prometheus metrics port")

	// Version info
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	flag.Parse()

	fmt.Printf("Rewards Daemon (rewardsd) %s (commit: %s, built: %s)\n", Version, GitCommit, BuildTime)

	logger := log.NewWithLevel(*logLevel)
	defer logger.Sync()

	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Printf("Failed to parse configuration: %v\n", err)
		os.Exit(1)
	}

	if err := os.MkdirAll(*dataDir, 0o700); err != nil {
		fmt.Printf("Failed to create data directory: %v\n", err)
		os.Exit(1)
	}

	st, err := store.Open(filepath.Join(*dataDir, "rewards.db"))
	if err != nil {
		fmt.Printf("Failed to open store: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	p, err := prefs.OpenFile(filepath.Join(*dataDir, "prefs.json"))
	if err != nil {
		fmt.Printf("Failed to open preferences: %v\n", err)
		os.Exit(1)
	}
	p.SetBool(prefs.KeyRewardsEnabled, true)

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	a := account.New(cfg, urlrequest.NewClient(), timeutil.System(), logger, m, st, p)
	a.AddObserver(&logObserver{log: logger})

	seed, err := loadOrCreateSeed(filepath.Join(*dataDir, "wallet.seed"))
	if err != nil {
		fmt.Printf("Failed to load wallet seed: %v\n", err)
		os.Exit(1)
	}
	if err := a.SetWallet(seed); err != nil {
		fmt.Printf("Failed to initialize wallet: %v\n", err)
		os.Exit(1)
	}

	if err := a.Initialize(); err != nil {
		fmt.Printf("Failed to initialize account: %v\n", err)
		os.Exit(1)
	}

	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	go func() {
		addr := fmt.Sprintf(":%d", *metricsPort)
		logger.Info("serving metrics", "addr", addr)
		if err := http.ListenAndServe(addr, r); err != nil {
			logger.Error("metrics server stopped", "err", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("shutting down")
}

// loadOrCreateSeed reads the persisted wallet recovery seed, creating a
// fresh one on first run so the payment id survives restarts.
func loadOrCreateSeed(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err == nil {
		return hex.DecodeString(string(raw))
	}
	if !os.IsNotExist(err) {
		return nil, err
	}

	seed := make([]byte, 32)
	if _, err := rand.Read(seed); err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, []byte(hex.EncodeToString(seed)), 0o600); err != nil {
		return nil, err
	}
	return seed, nil
}

// logObserver surfaces account notifications in the daemon log.
type logObserver struct {
	log log.Logger
}

func (o *logObserver) OnWalletDidUpdate(paymentID string) {
	o.log.Info("wallet ready", "paymentID", paymentID)
}

func (o *logObserver) OnDidProcessDeposit(t store.Transaction) {
	o.log.Info("deposit processed", "transactionID", t.ID, "value", t.Value)
}

func (o *logObserver) OnFailedToProcessDeposit(creativeInstanceID string, _ ads.AdType, _ ads.ConfirmationType) {
	o.log.Warn("deposit failed", "creativeInstanceID", creativeInstanceID)
}

func (o *logObserver) OnStatementDidChange() {
	o.log.Debug("statement changed")
}

func (o *logObserver) OnCaptchaRequired(captchaID string) {
	o.log.Warn("captcha required", "captchaID", captchaID)
}

func (o *logObserver) OnBrowserUpgradeRequired() {
	o.log.Warn("client upgrade required")
}
