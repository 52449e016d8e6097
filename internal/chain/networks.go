package chain

import (
	"fmt"
	"sort"
	"strings"
)

// DefaultContractAddress is the verified v2 deployment (auto profile creation).
const DefaultContractAddress = "0xc4f5f0201bf609535ec7a6d88a05b05013ae0c49"

// Network describes an EVM chain the contract is deployed on.
type Network struct {
	Name        string `yaml:"name" json:"name"`
	ChainID     int64  `yaml:"chain_id" json:"chain_id"`
	RPCURL      string `yaml:"rpc_url" json:"rpc_url"`
	ExplorerURL string `yaml:"explorer_url" json:"explorer_url"`
	Contract    string `yaml:"contract" json:"contract"`
	Currency    string `yaml:"currency" json:"currency"`
}

// DefaultNetworks returns Celo mainnet and the Alfajores testnet.
func DefaultNetworks() map[string]Network {
	return map[string]Network{
		"celo": {
			Name:        "celo",
			ChainID:     42220,
			RPCURL:      "https://forno.celo.org",
			ExplorerURL: "https://celoscan.io",
			Contract:    DefaultContractAddress,
			Currency:    "CELO",
		},
		"alfajores": {
			Name:        "alfajores",
			ChainID:     44787,
			RPCURL:      "https://alfajores-forno.celo-testnet.org",
			ExplorerURL: "https://alfajores.celoscan.io",
			Currency:    "CELO",
		},
	}
}

// LookupNetwork finds a network by name (case-insensitive).
func LookupNetwork(networks map[string]Network, name string) (Network, error) {
	n, ok := networks[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		known := make([]string, 0, len(networks))
		for k := range networks {
			known = append(known, k)
		}
		sort.Strings(known)
		return Network{}, fmt.Errorf("%w: %q (known: %s)", ErrUnknownNetwork, name, strings.Join(known, ", "))
	}
	return n, nil
}

// ExplorerTxURL links to a transaction on the network's block explorer.
func (n Network) ExplorerTxURL(txHash string) string {
	if n.ExplorerURL == "" || txHash == "" {
		return ""
	}
	return fmt.Sprintf("%s/tx/%s", strings.TrimRight(n.ExplorerURL, "/"), txHash)
}

// ExplorerAddressURL links to an address on the network's block explorer.
func (n Network) ExplorerAddressURL(addr string) string {
	if n.ExplorerURL == "" || addr == "" {
		return ""
	}
	return fmt.Sprintf("%s/address/%s", strings.TrimRight(n.ExplorerURL, "/"), addr)
}
