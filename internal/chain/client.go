// Package chain talks to the RockPaperScissors contract on Celo.
//
// A Client is bound to one network and one contract address. Reads
// (joueurExiste, obtenirStats, version) work without a key; Play needs a
// signer. Receipts are polled on an injectable clock so confirmation can be
// driven deterministically in tests.
//
// # Usage
//
//	client, err := chain.Dial(ctx, chain.Config{
//	    Network:    networks["alfajores"],
//	    PrivateKey: key,
//	})
//	hash, err := client.Play(ctx, games.Rock)
//	played, err := client.WaitPlayed(ctx, hash)
package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/MJE43/celo-rps/internal/games"
)

// Backend is the node surface the client needs. *ethclient.Client satisfies it.
type Backend interface {
	bind.ContractBackend
	ChainID(ctx context.Context) (*big.Int, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	Close()
}

// ReceiptFetcher is the part of Backend used while waiting for confirmation.
type ReceiptFetcher interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Config holds configuration for the contract client.
type Config struct {
	// Network selects chain id, RPC endpoint and explorer.
	Network Network

	// ContractAddress overrides Network.Contract when set.
	ContractAddress string

	// PrivateKey signs jouer transactions. Nil gives a read-only client.
	PrivateKey *ecdsa.PrivateKey

	// PollInterval is the first delay between receipt polls.
	// Defaults to 1 second if zero.
	PollInterval time.Duration

	// MaxPollInterval caps the exponential poll backoff.
	// Defaults to 8 seconds if zero.
	MaxPollInterval time.Duration

	// ReceiptTimeout bounds WaitPlayed. Defaults to 2 minutes if zero.
	ReceiptTimeout time.Duration

	// MaxRetries is the retry budget for retryable read calls.
	// Defaults to 3 if zero.
	MaxRetries int

	// BaseRetryDelay is the initial delay before the first read retry.
	// Defaults to 500ms if zero.
	BaseRetryDelay time.Duration

	// Clock drives polling and retry delays. Defaults to the real clock.
	Clock clockwork.Clock
}

func (cfg *Config) applyDefaults() {
	if cfg.PollInterval == 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.MaxPollInterval == 0 {
		cfg.MaxPollInterval = 8 * time.Second
	}
	if cfg.ReceiptTimeout == 0 {
		cfg.ReceiptTimeout = 2 * time.Minute
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BaseRetryDelay == 0 {
		cfg.BaseRetryDelay = 500 * time.Millisecond
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
}

// Client is a contract client bound to one network.
type Client struct {
	config   Config
	backend  Backend
	receipts ReceiptFetcher
	contract *bind.BoundContract
	address  common.Address
	chainID  *big.Int
	from     common.Address

	// txMu serialises jouer submissions so pending nonces never collide.
	txMu sync.Mutex
}

// Dial connects to cfg.Network.RPCURL and returns a bound client.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Network.RPCURL == "" {
		return nil, fmt.Errorf("chain: network %q has no rpc url", cfg.Network.Name)
	}
	backend, err := ethclient.DialContext(ctx, cfg.Network.RPCURL)
	if err != nil {
		return nil, wrapRPC("dial", err)
	}
	client, err := NewClient(ctx, backend, cfg)
	if err != nil {
		backend.Close()
		return nil, err
	}
	return client, nil
}

// NewClient binds the contract on an existing backend and checks the chain id.
func NewClient(ctx context.Context, backend Backend, cfg Config) (*Client, error) {
	cfg.applyDefaults()

	addrHex := cfg.ContractAddress
	if addrHex == "" {
		addrHex = cfg.Network.Contract
	}
	if !common.IsHexAddress(addrHex) {
		return nil, fmt.Errorf("chain: invalid contract address %q", addrHex)
	}
	address := common.HexToAddress(addrHex)

	chainID, err := backend.ChainID(ctx)
	if err != nil {
		return nil, wrapRPC("chain id", err)
	}
	if cfg.Network.ChainID != 0 && chainID.Int64() != cfg.Network.ChainID {
		return nil, fmt.Errorf("%w: node reports %s, network %q expects %d",
			ErrChainMismatch, chainID, cfg.Network.Name, cfg.Network.ChainID)
	}

	c := &Client{
		config:   cfg,
		backend:  backend,
		receipts: backend,
		contract: bind.NewBoundContract(address, ContractABI, backend, backend, backend),
		address:  address,
		chainID:  chainID,
	}
	if cfg.PrivateKey != nil {
		c.from = crypto.PubkeyToAddress(cfg.PrivateKey.PublicKey)
	}

	log.Info().
		Str("network", cfg.Network.Name).
		Str("chain_id", chainID.String()).
		Str("contract", address.Hex()).
		Bool("signer", cfg.PrivateKey != nil).
		Msg("contract client ready")

	return c, nil
}

// Close releases the backend connection.
func (c *Client) Close() {
	c.backend.Close()
}

// Network returns the network the client is bound to.
func (c *Client) Network() Network {
	return c.config.Network
}

// ContractAddress returns the bound contract address.
func (c *Client) ContractAddress() common.Address {
	return c.address
}

// Signer returns the signing address and whether one is configured.
func (c *Client) Signer() (common.Address, bool) {
	return c.from, c.config.PrivateKey != nil
}

// --- Reads ---

// PlayerExists calls joueurExiste(addr).
func (c *Client) PlayerExists(ctx context.Context, addr common.Address) (bool, error) {
	out, err := c.callWithRetry(ctx, common.Address{}, MethodPlayerExists, addr)
	if err != nil {
		return false, err
	}
	exists, ok := out[0].(bool)
	if !ok {
		return false, fmt.Errorf("chain: joueurExiste returned %T", out[0])
	}
	return exists, nil
}

// Stats calls obtenirStats() as addr; the contract keys stats on msg.sender.
func (c *Client) Stats(ctx context.Context, addr common.Address) (Stats, error) {
	out, err := c.callWithRetry(ctx, addr, MethodStats)
	if err != nil {
		return Stats{}, err
	}
	return DecodeStats(out)
}

// Version calls version().
func (c *Client) Version(ctx context.Context) (string, error) {
	out, err := c.callWithRetry(ctx, common.Address{}, MethodVersion)
	if err != nil {
		return "", err
	}
	v, ok := out[0].(string)
	if !ok {
		return "", fmt.Errorf("chain: version returned %T", out[0])
	}
	return v, nil
}

// Balance returns the native balance of addr in whole CELO.
func (c *Client) Balance(ctx context.Context, addr common.Address) (decimal.Decimal, error) {
	wei, err := c.backend.BalanceAt(ctx, addr, nil)
	if err != nil {
		return decimal.Zero, wrapRPC("balance", err)
	}
	return WeiToNative(wei), nil
}

func (c *Client) call(ctx context.Context, from common.Address, method string, args ...interface{}) ([]interface{}, error) {
	var out []interface{}
	opts := &bind.CallOpts{Context: ctx, From: from}
	if err := c.contract.Call(opts, &out, method, args...); err != nil {
		return nil, wrapRPC(method, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("chain: %s returned no values", method)
	}
	return out, nil
}

// callWithRetry retries retryable RPC failures with exponential backoff.
func (c *Client) callWithRetry(ctx context.Context, from common.Address, method string, args ...interface{}) ([]interface{}, error) {
	var lastErr error

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-c.config.Clock.After(c.retryDelay(attempt)):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		out, err := c.call(ctx, from, method, args...)
		if err == nil {
			return out, nil
		}
		lastErr = err

		var rpcErr *RPCError
		if errors.As(err, &rpcErr) && rpcErr.IsRetryable() {
			log.Debug().Err(err).Str("method", method).Int("attempt", attempt+1).Msg("retrying contract call")
			continue
		}
		return nil, err
	}

	return nil, fmt.Errorf("chain: max retries exceeded: %w", lastErr)
}

func (c *Client) retryDelay(attempt int) time.Duration {
	return c.config.BaseRetryDelay * time.Duration(math.Pow(2, float64(attempt-1)))
}

// --- Writes ---

// Play submits jouer(choice) and returns the transaction hash without
// waiting for it to be mined.
func (c *Client) Play(ctx context.Context, choice games.Choice) (common.Hash, error) {
	if !choice.Valid() {
		return common.Hash{}, fmt.Errorf("%w: %d", ErrInvalidChoice, uint8(choice))
	}
	if c.config.PrivateKey == nil {
		return common.Hash{}, ErrNoSigner
	}

	c.txMu.Lock()
	defer c.txMu.Unlock()

	opts, err := bind.NewKeyedTransactorWithChainID(c.config.PrivateKey, c.chainID)
	if err != nil {
		return common.Hash{}, fmt.Errorf("chain: create transactor: %w", err)
	}
	opts.Context = ctx

	tx, err := c.contract.Transact(opts, MethodPlay, new(big.Int).SetUint64(uint64(choice)))
	if err != nil {
		return common.Hash{}, wrapRPC(MethodPlay, err)
	}

	log.Info().
		Str("tx_hash", tx.Hash().Hex()).
		Str("from", c.from.Hex()).
		Str("choice", choice.String()).
		Msg("jouer submitted")

	return tx.Hash(), nil
}

// WaitPlayed blocks until txHash is mined, then decodes its PartieJouee event.
func (c *Client) WaitPlayed(ctx context.Context, txHash common.Hash) (*Played, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.ReceiptTimeout)
	defer cancel()

	receipt, err := WaitReceipt(ctx, c.receipts, c.config.Clock, txHash, c.config.PollInterval, c.config.MaxPollInterval)
	if err != nil {
		return nil, err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, fmt.Errorf("%w: %s", ErrReverted, txHash.Hex())
	}
	return ParsePlayed(receipt, c.address)
}

// WaitReceipt polls fetcher until the receipt exists, backing off from
// interval up to maxInterval. Transient fetch errors are logged and retried.
func WaitReceipt(ctx context.Context, fetcher ReceiptFetcher, clock clockwork.Clock, txHash common.Hash, interval, maxInterval time.Duration) (*types.Receipt, error) {
	delay := interval
	for {
		receipt, err := fetcher.TransactionReceipt(ctx, txHash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.Warn().Err(err).Str("tx_hash", txHash.Hex()).Msg("receipt poll failed")
		}

		select {
		case <-clock.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		delay *= 2
		if delay > maxInterval {
			delay = maxInterval
		}
	}
}
