package games

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Choice is a player move. The numeric values match the contract's uint256
// encoding: 0 = rock, 1 = paper, 2 = scissors.
type Choice uint8

const (
	Rock Choice = iota
	Paper
	Scissors
)

// ChoiceCount is the number of valid moves.
const ChoiceCount = 3

// ErrInvalidChoice is wrapped by every choice parsing failure.
var ErrInvalidChoice = errors.New("games: invalid choice")

var (
	choiceNames  = [ChoiceCount]string{"rock", "paper", "scissors"}
	choiceLabels = [ChoiceCount]string{"🪨 Rock", "📄 Paper", "✂️ Scissors"}
)

// AllChoices lists every move in encoding order.
func AllChoices() []Choice {
	return []Choice{Rock, Paper, Scissors}
}

// Valid reports whether c is one of the three moves.
func (c Choice) Valid() bool {
	return c < ChoiceCount
}

func (c Choice) String() string {
	if !c.Valid() {
		return fmt.Sprintf("choice(%d)", uint8(c))
	}
	return choiceNames[c]
}

// Label is the display form with emoji.
func (c Choice) Label() string {
	if !c.Valid() {
		return c.String()
	}
	return choiceLabels[c]
}

// Beats reports whether c defeats other.
func (c Choice) Beats(other Choice) bool {
	// Each move beats the one before it in the cycle.
	return c.Valid() && other.Valid() && (other+1)%ChoiceCount == c
}

// MarshalText encodes the choice by name.
func (c Choice) MarshalText() ([]byte, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidChoice, uint8(c))
	}
	return []byte(c.String()), nil
}

// UnmarshalText accepts anything ParseChoice accepts.
func (c *Choice) UnmarshalText(text []byte) error {
	parsed, err := ParseChoice(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// UnmarshalJSON accepts both "rock" and 0.
func (c *Choice) UnmarshalJSON(data []byte) error {
	return c.UnmarshalText([]byte(strings.Trim(string(data), `"`)))
}

// ParseChoice accepts a move name (any case) or its digit "0".."2".
func ParseChoice(s string) (Choice, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range choiceNames {
		if s == name {
			return Choice(i), nil
		}
	}
	if n, err := strconv.Atoi(s); err == nil && n >= 0 && n < ChoiceCount {
		return Choice(n), nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidChoice, s)
}

// ChoiceFromIndex converts a contract value into a Choice.
func ChoiceFromIndex(n uint64) (Choice, error) {
	if n >= ChoiceCount {
		return 0, fmt.Errorf("%w: index %d out of range", ErrInvalidChoice, n)
	}
	return Choice(n), nil
}
