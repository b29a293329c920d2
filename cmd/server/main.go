package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"coinsender/internal/config"
	"coinsender/internal/gate"
	"coinsender/internal/idempotency"
	"coinsender/internal/ledger"
	"coinsender/internal/mover"
	"coinsender/internal/server"
)

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("load config")
	}
	if level, err := logrus.ParseLevel(cfg.Service.LogLevel); err == nil {
		log.SetLevel(level)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	minFee, err := cfg.MinFee()
	if err != nil {
		log.WithError(err).Fatal("parse min fee")
	}

	var store ledger.Store
	var idemStore idempotency.Store
	if dsn := cfg.Service.PostgresDSN; dsn != "" {
		pgStore, err := ledger.NewPostgresStore(ctx, dsn, minFee)
		if err != nil {
			log.WithError(err).Fatal("connect ledger store")
		}
		defer pgStore.Close()
		store = pgStore

		pgIdem, err := idempotency.NewPostgresStore(ctx, dsn)
		if err != nil {
			log.WithError(err).Fatal("connect idempotency store")
		}
		defer pgIdem.Close()
		idemStore = pgIdem
		log.Info("using postgres state")
	} else {
		store = ledger.NewMemStore(minFee)
		idemStore = idempotency.NewMemoryStore()
		log.Warn("POSTGRES_DSN not set, state is in memory and lost on restart")
	}

	var mv mover.Mover
	if cfg.Service.ChainPrivateKey != "" {
		ethMover, err := mover.NewEthMover(ctx, mover.EthMoverConfig{
			RPCURL:        cfg.Service.ChainRPCURL,
			PrivateKeyHex: cfg.Service.ChainPrivateKey,
		})
		if err != nil {
			log.WithError(err).Fatal("connect chain")
		}
		mv = ethMover
		log.WithField("escrow", ethMover.EscrowAddress().Hex()).Info("on-chain settlement enabled")
	} else {
		mv = mover.NewFakeMover()
		log.Warn("CHAIN_PRIVATE_KEY not set, using in-memory settlement")
	}

	g := gate.New(cfg.Owner())
	led := ledger.New(ledger.Params{
		Store:       store,
		Mover:       mv,
		Gate:        g,
		Beneficiary: cfg.FeeBeneficiary(),
		Log:         log,
	})

	srv := server.NewServer(cfg, led, g, idemStore, mv, log)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		log.WithError(err).Fatal("server failed")
	case sig := <-stop:
		log.WithField("signal", sig.String()).Info("shutting down")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("graceful shutdown failed")
	}
}
