package games

import (
	"fmt"
	"math"

	"github.com/MJE43/celo-rps/internal/engine"
)

// Outcome classifies a round from the player's point of view.
type Outcome string

const (
	OutcomeWin  Outcome = "win"
	OutcomeLose Outcome = "lose"
	OutcomeTie  Outcome = "tie"
)

// Valid reports whether o is a known outcome.
func (o Outcome) Valid() bool {
	switch o {
	case OutcomeWin, OutcomeLose, OutcomeTie:
		return true
	}
	return false
}

// Message is the short banner shown after a round.
func (o Outcome) Message() string {
	switch o {
	case OutcomeWin:
		return "🎉 You Win!"
	case OutcomeLose:
		return "😞 You Lose"
	case OutcomeTie:
		return "🤝 It's a Tie!"
	}
	return ""
}

// DetermineWinner applies rock-paper-scissors dominance.
func DetermineWinner(player, opponent Choice) Outcome {
	switch {
	case player == opponent:
		return OutcomeTie
	case player.Beats(opponent):
		return OutcomeWin
	default:
		return OutcomeLose
	}
}

// FormatRound renders "🪨 Rock vs ✂️ Scissors • 🎉 You Win!".
func FormatRound(player, opponent Choice, outcome Outcome) string {
	return fmt.Sprintf("%s vs %s • %s", player.Label(), opponent.Label(), outcome.Message())
}

// Round is one completed play.
type Round struct {
	PlayerChoice   Choice  `json:"player_choice"`
	OpponentChoice Choice  `json:"opponent_choice"`
	Outcome        Outcome `json:"outcome"`
	Message        string  `json:"message"`
	RawFloat       float64 `json:"raw_float,omitempty"`
}

// NewRound builds a Round and its display message.
func NewRound(player, opponent Choice) Round {
	outcome := DetermineWinner(player, opponent)
	return Round{
		PlayerChoice:   player,
		OpponentChoice: opponent,
		Outcome:        outcome,
		Message:        FormatRound(player, opponent, outcome),
	}
}

// RPSGame picks the opponent move from one provably-fair float.
type RPSGame struct{}

func (g *RPSGame) Spec() GameSpec {
	names := make([]string, 0, ChoiceCount)
	for _, c := range AllChoices() {
		names = append(names, c.String())
	}
	return GameSpec{
		ID:          "rps",
		Name:        "Rock Paper Scissors",
		MetricLabel: "opponent_choice",
		Choices:     names,
	}
}

func (g *RPSGame) FloatCount() int {
	return 1
}

// Evaluate derives the opponent move for nonce and scores it against player.
func (g *RPSGame) Evaluate(seeds Seeds, nonce uint64, player Choice) (Round, error) {
	floats := engine.Floats(seeds.Server, seeds.Client, nonce, 0, g.FloatCount())
	return g.EvaluateWithFloats(floats, player)
}

// EvaluateWithFloats scores player against floor(f*3).
func (g *RPSGame) EvaluateWithFloats(floats []float64, player Choice) (Round, error) {
	if len(floats) < 1 {
		return Round{}, fmt.Errorf("rps requires at least 1 float, got %d", len(floats))
	}
	if !player.Valid() {
		return Round{}, fmt.Errorf("%w: %d", ErrInvalidChoice, uint8(player))
	}

	f := floats[0]
	opponent := Choice(math.Floor(f * ChoiceCount))
	if !opponent.Valid() {
		// f is in [0,1) so this only guards against bad input.
		opponent = Scissors
	}

	round := NewRound(player, opponent)
	round.RawFloat = f
	return round, nil
}
