// Package walletauth keeps the signer key used for on-chain play.
package walletauth

import (
	"crypto/ecdsa"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/zalando/go-keyring"
)

const keyPrivateKey = "privatekey"

// ErrNotFound is returned when no key is stored for an account.
var ErrNotFound = keyring.ErrNotFound

// KeyringStore wraps the OS keychain with an optional file fallback.
// Fallback is intended for headless hosts where no keyring daemon runs.
type KeyringStore struct {
	service      string
	fallbackPath string
	mu           sync.Mutex
}

// NewKeyringStore creates a keyring wrapper.
func NewKeyringStore(serviceName, fallbackPath string) *KeyringStore {
	if strings.TrimSpace(serviceName) == "" {
		serviceName = "celo-rps"
	}
	return &KeyringStore{
		service:      serviceName,
		fallbackPath: fallbackPath,
	}
}

func (k *KeyringStore) key(account string) string {
	return fmt.Sprintf("%s/%s", account, keyPrivateKey)
}

// SavePrivateKey stores key under account.
func (k *KeyringStore) SavePrivateKey(account string, key *ecdsa.PrivateKey) error {
	if key == nil {
		return fmt.Errorf("walletauth: nil private key")
	}
	return k.setSecret(account, hex.EncodeToString(crypto.FromECDSA(key)))
}

// LoadPrivateKey returns the key stored under account.
func (k *KeyringStore) LoadPrivateKey(account string) (*ecdsa.PrivateKey, error) {
	raw, err := k.getSecret(account)
	if err != nil {
		return nil, err
	}
	return ParsePrivateKey(raw)
}

// Delete removes the key for account from both the keyring and the fallback.
func (k *KeyringStore) Delete(account string) error {
	account = strings.TrimSpace(account)
	err := keyring.Delete(k.service, k.key(account))
	if err != nil && !errors.Is(err, keyring.ErrNotFound) && !isKeyringUnavailable(err) {
		_ = k.deleteFallback(account)
		return fmt.Errorf("walletauth: keyring delete: %w", err)
	}
	return k.deleteFallback(account)
}

// GenerateKey creates a fresh secp256k1 key and stores it under account.
func (k *KeyringStore) GenerateKey(account string) (*ecdsa.PrivateKey, common.Address, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, common.Address{}, fmt.Errorf("walletauth: generate key: %w", err)
	}
	if err := k.SavePrivateKey(account, key); err != nil {
		return nil, common.Address{}, err
	}
	return key, crypto.PubkeyToAddress(key.PublicKey), nil
}

// ParsePrivateKey accepts a hex key with or without the 0x prefix.
func ParsePrivateKey(raw string) (*ecdsa.PrivateKey, error) {
	raw = strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	key, err := crypto.HexToECDSA(raw)
	if err != nil {
		return nil, fmt.Errorf("walletauth: invalid private key: %w", err)
	}
	return key, nil
}

func (k *KeyringStore) setSecret(account, value string) error {
	account = strings.TrimSpace(account)
	if account == "" {
		return fmt.Errorf("walletauth: account is required")
	}

	if err := keyring.Set(k.service, k.key(account), value); err == nil {
		return nil
	} else if !isKeyringUnavailable(err) {
		return fmt.Errorf("walletauth: keyring set: %w", err)
	}

	return k.setFallback(account, value)
}

func (k *KeyringStore) getSecret(account string) (string, error) {
	account = strings.TrimSpace(account)
	if account == "" {
		return "", fmt.Errorf("walletauth: account is required")
	}

	val, err := keyring.Get(k.service, k.key(account))
	if err == nil {
		return val, nil
	}
	if !isKeyringUnavailable(err) && !errors.Is(err, keyring.ErrNotFound) {
		return "", fmt.Errorf("walletauth: keyring get: %w", err)
	}

	fallback, ferr := k.getFallback(account)
	if ferr == nil {
		return fallback, nil
	}
	if errors.Is(err, keyring.ErrNotFound) {
		return "", ErrNotFound
	}
	return "", ferr
}

func isKeyringUnavailable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "secret service") ||
		strings.Contains(msg, "dbus") ||
		strings.Contains(msg, "no keychain") ||
		strings.Contains(msg, "keyring backend not available")
}

// fallbackSecrets maps account -> hex private key.
type fallbackSecrets map[string]string

func (k *KeyringStore) setFallback(account, value string) error {
	if strings.TrimSpace(k.fallbackPath) == "" {
		return fmt.Errorf("walletauth: keyring unavailable and no fallback path configured")
	}
	k.mu.Lock()
	defer k.mu.Unlock()

	data, err := k.readFallbackUnlocked()
	if err != nil {
		return err
	}
	data[account] = value
	return k.writeFallbackUnlocked(data)
}

func (k *KeyringStore) getFallback(account string) (string, error) {
	if strings.TrimSpace(k.fallbackPath) == "" {
		return "", fmt.Errorf("walletauth: fallback path not configured")
	}
	k.mu.Lock()
	defer k.mu.Unlock()

	data, err := k.readFallbackUnlocked()
	if err != nil {
		return "", err
	}
	val, ok := data[account]
	if !ok {
		return "", ErrNotFound
	}
	return val, nil
}

func (k *KeyringStore) deleteFallback(account string) error {
	if strings.TrimSpace(k.fallbackPath) == "" {
		return nil
	}
	k.mu.Lock()
	defer k.mu.Unlock()

	data, err := k.readFallbackUnlocked()
	if err != nil {
		return err
	}
	delete(data, account)
	return k.writeFallbackUnlocked(data)
}

func (k *KeyringStore) readFallbackUnlocked() (fallbackSecrets, error) {
	out := fallbackSecrets{}
	raw, err := os.ReadFile(k.fallbackPath)
	if err != nil {
		if os.IsNotExist(err) {
			return out, nil
		}
		return nil, fmt.Errorf("walletauth: read fallback secrets: %w", err)
	}
	if len(raw) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("walletauth: decode fallback secrets: %w", err)
	}
	return out, nil
}

func (k *KeyringStore) writeFallbackUnlocked(data fallbackSecrets) error {
	if err := os.MkdirAll(filepath.Dir(k.fallbackPath), 0o700); err != nil {
		return fmt.Errorf("walletauth: mkdir fallback dir: %w", err)
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("walletauth: encode fallback secrets: %w", err)
	}
	if err := os.WriteFile(k.fallbackPath, raw, 0o600); err != nil {
		return fmt.Errorf("walletauth: write fallback secrets: %w", err)
	}
	return nil
}
