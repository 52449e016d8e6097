package chain

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"

	"github.com/MJE43/celo-rps/internal/games"
)

// Stats mirrors the obtenirStats tuple.
type Stats struct {
	Wins          uint64 `json:"wins"`
	Losses        uint64 `json:"losses"`
	Ties          uint64 `json:"ties"`
	TotalGames    uint64 `json:"total_games"`
	WinRate       uint64 `json:"win_rate"`
	CurrentStreak uint64 `json:"current_streak"`
	BestStreak    uint64 `json:"best_streak"`
}

// DecodeStats maps the seven unpacked uint256 outputs by position:
// victoires, defaites, egalites, totalParties, tauxVictoire, serieActuelle,
// meilleureSerie.
func DecodeStats(values []interface{}) (Stats, error) {
	if len(values) != 7 {
		return Stats{}, fmt.Errorf("chain: obtenirStats returned %d values, want 7", len(values))
	}

	nums := make([]uint64, len(values))
	for i, v := range values {
		n, ok := v.(*big.Int)
		if !ok || n == nil {
			return Stats{}, fmt.Errorf("chain: obtenirStats value %d has type %T", i, v)
		}
		if !n.IsUint64() {
			return Stats{}, fmt.Errorf("chain: obtenirStats value %d overflows uint64", i)
		}
		nums[i] = n.Uint64()
	}

	return Stats{
		Wins:          nums[0],
		Losses:        nums[1],
		Ties:          nums[2],
		TotalGames:    nums[3],
		WinRate:       nums[4],
		CurrentStreak: nums[5],
		BestStreak:    nums[6],
	}, nil
}

// Played is a decoded PartieJouee event.
type Played struct {
	Player         common.Address `json:"player"`
	PlayerChoice   games.Choice   `json:"player_choice"`
	OpponentChoice games.Choice   `json:"opponent_choice"`
	Verdict        string         `json:"verdict"`
	Outcome        games.Outcome  `json:"outcome"`
	TxHash         common.Hash    `json:"tx_hash"`
	BlockNumber    uint64         `json:"block_number"`
}

// Round converts the event into a games.Round.
func (p *Played) Round() games.Round {
	return games.NewRound(p.PlayerChoice, p.OpponentChoice)
}

// ParsePlayed finds the PartieJouee log emitted by contract in receipt.
// The outcome is recomputed from both choices; the contract's own verdict
// string is kept verbatim.
func ParsePlayed(receipt *types.Receipt, contract common.Address) (*Played, error) {
	if receipt == nil {
		return nil, fmt.Errorf("chain: nil receipt")
	}
	event := ContractABI.Events[EventPlayed]

	for _, lg := range receipt.Logs {
		if lg == nil || lg.Address != contract || len(lg.Topics) < 2 || lg.Topics[0] != event.ID {
			continue
		}

		values, err := ContractABI.Unpack(EventPlayed, lg.Data)
		if err != nil {
			return nil, fmt.Errorf("chain: unpack %s: %w", EventPlayed, err)
		}
		if len(values) != 3 {
			return nil, fmt.Errorf("chain: %s has %d data fields, want 3", EventPlayed, len(values))
		}

		player, err := choiceValue(values[0])
		if err != nil {
			return nil, err
		}
		opponent, err := choiceValue(values[1])
		if err != nil {
			return nil, err
		}
		verdict, _ := values[2].(string)

		played := &Played{
			Player:         common.BytesToAddress(lg.Topics[1].Bytes()),
			PlayerChoice:   player,
			OpponentChoice: opponent,
			Verdict:        verdict,
			Outcome:        games.DetermineWinner(player, opponent),
			TxHash:         receipt.TxHash,
		}
		if receipt.BlockNumber != nil {
			played.BlockNumber = receipt.BlockNumber.Uint64()
		}
		return played, nil
	}

	return nil, ErrEventMissing
}

func choiceValue(v interface{}) (games.Choice, error) {
	n, ok := v.(*big.Int)
	if !ok || n == nil || !n.IsUint64() {
		return 0, fmt.Errorf("%w: %v", ErrInvalidChoice, v)
	}
	return games.ChoiceFromIndex(n.Uint64())
}

// EncodePlay returns the calldata for jouer(choice).
func EncodePlay(choice games.Choice) ([]byte, error) {
	if !choice.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidChoice, uint8(choice))
	}
	return ContractABI.Pack(MethodPlay, new(big.Int).SetUint64(uint64(choice)))
}

// WeiToNative converts a wei amount into whole CELO.
func WeiToNative(wei *big.Int) decimal.Decimal {
	if wei == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(wei, -18)
}
