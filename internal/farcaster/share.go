// Package farcaster builds share links for finished rounds and models the
// mini-app webhook events.
package farcaster

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/MJE43/celo-rps/internal/games"
)

// ComposeBaseURL is the Warpcast cast composer.
const ComposeBaseURL = "https://warpcast.com/~/compose"

// Tally is the W/L/T line shown in a share.
type Tally struct {
	Wins   uint64 `json:"wins"`
	Losses uint64 `json:"losses"`
	Ties   uint64 `json:"ties"`
}

var (
	shareEmoji = map[games.Outcome]string{
		games.OutcomeWin:  "🎉",
		games.OutcomeLose: "😢",
		games.OutcomeTie:  "🤝",
	}
	shareMessage = map[games.Outcome]string{
		games.OutcomeWin:  "I won!",
		games.OutcomeLose: "I lost",
		games.OutcomeTie:  "Draw!",
	}
)

// ShareText renders the cast body for a finished round.
func ShareText(outcome games.Outcome, t Tally) (string, error) {
	if !outcome.Valid() {
		return "", fmt.Errorf("farcaster: invalid outcome %q", outcome)
	}
	return fmt.Sprintf(
		"I just played Rock Paper Scissors on Celo!\n\n%s %s\n\nStats: %dW / %dL / %dT\n\nPlay now:",
		shareEmoji[outcome], shareMessage[outcome], t.Wins, t.Losses, t.Ties,
	), nil
}

// ComposeURL returns the composer link with text and any embeds[] entries.
func ComposeURL(text string, embeds ...string) string {
	var b strings.Builder
	b.WriteString(ComposeBaseURL)
	b.WriteString("?text=")
	b.WriteString(escapeComponent(text))
	for _, e := range embeds {
		if e == "" {
			continue
		}
		b.WriteString("&embeds[]=")
		b.WriteString(escapeComponent(e))
	}
	return b.String()
}

// ShareURL is ShareText followed by ComposeURL with appURL as the embed.
func ShareURL(outcome games.Outcome, t Tally, appURL string) (string, error) {
	text, err := ShareText(outcome, t)
	if err != nil {
		return "", err
	}
	return ComposeURL(text, appURL), nil
}

// componentUnescaper undoes QueryEscape for the marks encodeURIComponent
// leaves alone, and writes spaces as %20 instead of '+'.
var componentUnescaper = strings.NewReplacer(
	"+", "%20",
	"%21", "!",
	"%27", "'",
	"%28", "(",
	"%29", ")",
	"%2A", "*",
)

// escapeComponent percent-encodes exactly like encodeURIComponent.
func escapeComponent(s string) string {
	return componentUnescaper.Replace(url.QueryEscape(s))
}
