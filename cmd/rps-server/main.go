package main

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog/log"

	"github.com/MJE43/celo-rps/internal/api"
	"github.com/MJE43/celo-rps/internal/chain"
	"github.com/MJE43/celo-rps/internal/config"
	"github.com/MJE43/celo-rps/internal/events"
	"github.com/MJE43/celo-rps/internal/session"
	"github.com/MJE43/celo-rps/internal/store"
	"github.com/MJE43/celo-rps/internal/walletauth"
)

func main() {
	keygen := flag.Bool("keygen", false, "generate a signer key, store it in the keyring and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	cfg.SetupLogging()

	keys := walletauth.NewKeyringStore(cfg.KeyringService, cfg.KeyringFallback)
	if *keygen {
		_, addr, err := keys.GenerateKey(cfg.KeyringAccount)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to generate signer key")
		}
		fmt.Println(addr.Hex())
		return
	}

	if err := run(cfg, keys); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
}

func run(cfg *config.Config, keys *walletauth.KeyringStore) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	publisher, err := newPublisher(cfg)
	if err != nil {
		return err
	}
	defer publisher.Close()

	managerCfg := session.ManagerConfig{
		ThinkDelay: cfg.ThinkDelay,
		TTL:        cfg.SessionTTL,
		AppURL:     cfg.AppURL,
		Publisher:  publisher,
		Recorder:   db,
	}
	apiCfg := api.Config{
		DB:          db,
		AppURL:      cfg.AppURL,
		CORSOrigins: cfg.CORSOrigins,
	}

	closeChain := attachChain(ctx, cfg, keys, &managerCfg, &apiCfg)
	defer closeChain()

	manager := session.NewManager(managerCfg)
	defer manager.Close()
	go manager.Run(ctx)
	apiCfg.Manager = manager

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.NewServer(apiCfg).Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", server.Addr).
			Bool("chain_enabled", apiCfg.Chain != nil).
			Str("network", cfg.Network.Name).
			Str("version", api.Version).
			Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
	return nil
}

func newPublisher(cfg *config.Config) (events.Publisher, error) {
	if cfg.NATSURL == "" {
		return events.NopPublisher{}, nil
	}
	natsCfg := events.DefaultNATSConfig()
	natsCfg.URL = cfg.NATSURL
	natsCfg.SubjectPrefix = cfg.NATSSubjectPrefix
	p, err := events.NewNATSPublisher(natsCfg)
	if err != nil {
		return nil, fmt.Errorf("events: %w", err)
	}
	return p, nil
}

// attachChain dials the contract client and wires it into both configs.
// When dialing fails the chain stays detached: free mode keeps serving and
// on-chain calls report the chain as unavailable.
func attachChain(ctx context.Context, cfg *config.Config, keys *walletauth.KeyringStore, managerCfg *session.ManagerConfig, apiCfg *api.Config) func() {
	if !cfg.ChainEnabled {
		return func() {}
	}
	client, err := dialChain(ctx, cfg, keys)
	if err != nil {
		log.Warn().Err(err).Str("network", cfg.Network.Name).Msg("chain unavailable; on-chain play disabled")
		return func() {}
	}
	managerCfg.Chain = client
	if signer, ok := client.Signer(); ok {
		managerCfg.Wallet = &signer
	}
	apiCfg.Chain = client
	return client.Close
}

func dialChain(ctx context.Context, cfg *config.Config, keys *walletauth.KeyringStore) (*chain.Client, error) {
	key, err := loadSigner(cfg, keys)
	if err != nil {
		return nil, err
	}
	dialCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	client, err := chain.Dial(dialCtx, chain.Config{
		Network:        cfg.Network,
		PrivateKey:     key,
		PollInterval:   cfg.PollInterval,
		ReceiptTimeout: cfg.ReceiptTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", cfg.Network.Name, err)
	}
	return client, nil
}

// loadSigner prefers RPS_PRIVATE_KEY and falls back to the keyring. No key
// at all gives a read-only client.
func loadSigner(cfg *config.Config, keys *walletauth.KeyringStore) (*ecdsa.PrivateKey, error) {
	if cfg.PrivateKey != "" {
		key, err := walletauth.ParsePrivateKey(cfg.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("RPS_PRIVATE_KEY: %w", err)
		}
		logSigner("env", key)
		return key, nil
	}

	key, err := keys.LoadPrivateKey(cfg.KeyringAccount)
	switch {
	case err == nil:
		logSigner("keyring", key)
		return key, nil
	case errors.Is(err, walletauth.ErrNotFound):
		log.Warn().Str("account", cfg.KeyringAccount).Msg("no signer key found; on-chain play disabled (run with -keygen to create one)")
		return nil, nil
	default:
		log.Warn().Err(err).Msg("keyring unavailable; on-chain play disabled")
		return nil, nil
	}
}

func logSigner(source string, key *ecdsa.PrivateKey) {
	log.Info().Str("source", source).Str("address", crypto.PubkeyToAddress(key.PublicKey).Hex()).Msg("signer loaded")
}
