package rules

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/amoylab/gameroom/internal/session"

	"github.com/notnil/chess"
)

// InitialFEN is the standard chess starting position.
const InitialFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

// Chess is an Engine backed by github.com/notnil/chess. State is a FEN
// string; seat A plays white.
type Chess struct{}

var _ Engine = Chess{}

// NewChess returns a chess engine
func NewChess() Chess {
	return Chess{}
}

// chessMove is the object form of a move payload
type chessMove struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Promotion string `json:"promotion,omitempty"`
	UCI       string `json:"uci,omitempty"`
}

// Initial implements Engine.Initial
func (Chess) Initial() string {
	return InitialFEN
}

// Turn implements Engine.Turn
func (Chess) Turn(state string) (session.Role, error) {
	g, err := load(state)
	if err != nil {
		return "", err
	}
	if g.Position().Turn() == chess.White {
		return session.RoleSeatA, nil
	}
	return session.RoleSeatB, nil
}

// Apply implements Engine.Apply
func (Chess) Apply(state string, payload json.RawMessage) (*Result, error) {
	g, err := load(state)
	if err != nil {
		return nil, err
	}
	if g.Outcome() != chess.NoOutcome {
		return nil, Reject("game is already over (%s)", g.Outcome())
	}

	uci, err := parseMove(payload)
	if err != nil {
		return nil, err
	}

	var move *chess.Move
	for _, m := range g.ValidMoves() {
		if m.String() == uci {
			move = m
			break
		}
	}
	if move == nil {
		return nil, Reject("illegal move %s", uci)
	}

	notation := chess.AlgebraicNotation{}.Encode(g.Position(), move)
	if err := g.Move(move); err != nil {
		return nil, Reject("%s", err.Error())
	}

	return &Result{
		State:    g.Position().String(),
		Move:     uci,
		Notation: notation,
		Terminal: outcomeOf(g.Outcome()),
	}, nil
}

func load(state string) (*chess.Game, error) {
	fen, err := chess.FEN(state)
	if err != nil {
		return nil, fmt.Errorf("invalid chess state: %w", err)
	}
	return chess.NewGame(fen), nil
}

// parseMove accepts "e2e4", {"uci":"e2e4"} or {"from":"e2","to":"e4","promotion":"q"}.
func parseMove(payload json.RawMessage) (string, error) {
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 {
		return "", Reject("empty move")
	}

	var uci string
	if payload[0] == '"' {
		if err := json.Unmarshal(payload, &uci); err != nil {
			return "", Reject("malformed move: %v", err)
		}
	} else {
		var m chessMove
		if err := json.Unmarshal(payload, &m); err != nil {
			return "", Reject("malformed move: %v", err)
		}
		uci = m.UCI
		if uci == "" {
			uci = m.From + m.To + m.Promotion
		}
	}

	uci = strings.ToLower(strings.TrimSpace(uci))
	if len(uci) < 4 || len(uci) > 5 {
		return "", Reject("malformed move %q", uci)
	}
	return uci, nil
}

func outcomeOf(o chess.Outcome) session.Outcome {
	switch o {
	case chess.WhiteWon:
		return session.OutcomeSeatAWins
	case chess.BlackWon:
		return session.OutcomeSeatBWins
	case chess.Draw:
		return session.OutcomeDraw
	default:
		return session.OutcomeNone
	}
}
