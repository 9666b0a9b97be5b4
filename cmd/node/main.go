// This program is the general purpose node service. It runs the
// consensus ledger, the gossip server, and the HTTP façade-contract
// surface, following the composition root pattern of the teacher's
// app/services/node/main.go (conf.Parse config, zap logger, graceful
// shutdown on SIGINT/SIGTERM).
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ardanlabs/conf/v3"
	"go.uber.org/zap"

	"github.com/ardanlabs/novaledger/internal/api"
	"github.com/ardanlabs/novaledger/internal/chain"
	"github.com/ardanlabs/novaledger/internal/contract"
	"github.com/ardanlabs/novaledger/internal/gossip"
	"github.com/ardanlabs/novaledger/internal/logger"
	"github.com/ardanlabs/novaledger/internal/store"
)

// build is the git version of this program, set via build flags.
var build = "develop"

func main() {
	log, err := logger.New("NODE")
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(log); err != nil {
		log.Errorw("startup", "ERROR", err)
		log.Sync()
		os.Exit(1)
	}
}

func run(log *zap.SugaredLogger) error {
	// =========================================================================
	// Configuration

	cfg := struct {
		conf.Version
		Web struct {
			ReadTimeout     time.Duration `conf:"default:5s"`
			WriteTimeout    time.Duration `conf:"default:10s"`
			IdleTimeout     time.Duration `conf:"default:120s"`
			ShutdownTimeout time.Duration `conf:"default:20s"`
			PublicHost      string        `conf:"default:0.0.0.0:8080"`
			GossipHost      string        `conf:"default:0.0.0.0:9080"`
		}
		Chain struct {
			NodeURL    string   `conf:"default:ws://0.0.0.0:9080"`
			DBPath     string   `conf:"default:zblock/chain.db"`
			Difficulty int      `conf:"default:4"`
			MinerName  string   `conf:"default:miner1"`
			KnownPeers []string `conf:"default:"`
		}
	}{
		Version: conf.Version{
			Build: build,
			Desc:  "copyright information here",
		},
	}

	const prefix = "NODE"
	help, err := conf.Parse(prefix, &cfg)
	if err != nil {
		if errors.Is(err, conf.ErrHelpWanted) {
			fmt.Println(help)
			return nil
		}
		return fmt.Errorf("parsing config: %w", err)
	}

	log.Infow("starting service", "version", build)
	defer log.Infow("shutdown complete")

	out, err := conf.String(&cfg)
	if err != nil {
		return fmt.Errorf("generating config for output: %w", err)
	}
	log.Infow("startup", "config", out)

	// =========================================================================
	// Event handler

	ev := func(v string, args ...any) {
		log.Infow(fmt.Sprintf(v, args...))
	}

	// =========================================================================
	// Store, Ledger, Gossip, Contract manager

	st, err := store.Open(cfg.Chain.DBPath, ev)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	ledger, err := chain.New(chain.Config{
		Difficulty:    cfg.Chain.Difficulty,
		MiningReward:  chain.DefaultMiningReward,
		TransPerBlock: chain.DefaultTransPerBlock,
		Store:         st,
		EvHandler:     ev,
	})
	if err != nil {
		return fmt.Errorf("constructing ledger: %w", err)
	}

	gossipSrv := gossip.NewServer(cfg.Chain.NodeURL, cfg.Chain.KnownPeers, ledger, ev)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go gossipSrv.Run(ctx)

	gossipHTTP := http.Server{
		Addr:    cfg.Web.GossipHost,
		Handler: gossipSrv,
	}
	go func() {
		log.Infow("startup", "status", "gossip listener started", "host", gossipHTTP.Addr)
		if err := gossipHTTP.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorw("shutdown", "status", "gossip listener closed", "ERROR", err)
		}
	}()
	defer gossipHTTP.Close()

	contractMgr := contract.New(st, ev)

	// =========================================================================
	// HTTP façade-contract surface

	handler := api.New(api.Config{
		Log:      log,
		Ledger:   ledger,
		Gossip:   gossipSrv,
		Contract: contractMgr,
		Store:    st,
	})

	srv := http.Server{
		Addr:         cfg.Web.PublicHost,
		Handler:      handler,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverErrors := make(chan error, 1)
	go func() {
		log.Infow("startup", "status", "api router started", "host", srv.Addr)
		serverErrors <- srv.ListenAndServe()
	}()

	// =========================================================================
	// Shutdown

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		log.Infow("shutdown", "status", "shutdown started", "signal", sig)
		defer log.Infow("shutdown", "status", "shutdown complete", "signal", sig)

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			srv.Close()
			return fmt.Errorf("could not stop api service gracefully: %w", err)
		}
	}

	return nil
}
