package games

import "github.com/MJE43/celo-rps/internal/engine"

// Seeds re-exports the engine seed pair so callers only import games.
type Seeds = engine.Seeds

// GameSpec describes a game for listing endpoints.
type GameSpec struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	MetricLabel string   `json:"metric_label"`
	Choices     []string `json:"choices,omitempty"`
}

// Game is a provably-fair game whose opponent move is derived from floats.
type Game interface {
	Spec() GameSpec
	FloatCount() int
	Evaluate(seeds Seeds, nonce uint64, player Choice) (Round, error)
	EvaluateWithFloats(floats []float64, player Choice) (Round, error)
}

var registry = map[string]Game{}

func register(g Game) {
	registry[g.Spec().ID] = g
}

// GetGame looks a game up by id.
func GetGame(id string) (Game, bool) {
	g, ok := registry[id]
	return g, ok
}

// ListGames returns the specs of all registered games.
func ListGames() []GameSpec {
	specs := make([]GameSpec, 0, len(registry))
	for _, g := range registry {
		specs = append(specs, g.Spec())
	}
	return specs
}

func init() {
	register(&RPSGame{})
}
