package server

import (
	"log"
	"sync"

	"github.com/teris-io/shortid"
)

const (
	GameStatusActive = "active"
	GameStatusEnded  = "ended"
)

const (
	markerStarter = "X"
	markerOther   = "O"
)

// TurnGame is an ephemeral board-game session. The payload is
// client-shaped; the engine only ever touches the board and turn fields.
type TurnGame struct {
	Id        string         `json:"gameId"`
	DropId    string         `json:"-"`
	GameType  string         `json:"gameType"`
	Data      map[string]any `json:"gameData"`
	Status    string         `json:"status"`
	StartedBy string         `json:"startedBy"`
	Players   []string       `json:"players"`
}

// GameRegistry tracks turn-based games across all drops. Games never touch
// durable storage.
type GameRegistry struct {
	mu    sync.RWMutex
	games map[string]*TurnGame
	sid   *shortid.Shortid
	log   *log.Logger
}

func NewGameRegistry(logger *log.Logger) (*GameRegistry, error) {
	sid, err := shortid.New(1, shortid.DefaultABC, 2342)
	if err != nil {
		return nil, err
	}

	return &GameRegistry{
		games: make(map[string]*TurnGame),
		sid:   sid,
		log:   logger,
	}, nil
}

func (gr *GameRegistry) Start(dropId, gameType string, data map[string]any, startedBy string) (*TurnGame, error) {
	id, err := gr.sid.Generate()
	if err != nil {
		return nil, err
	}

	if data == nil {
		data = make(map[string]any)
	}

	game := &TurnGame{
		Id:        "game_" + id,
		DropId:    dropId,
		GameType:  gameType,
		Data:      data,
		Status:    GameStatusActive,
		StartedBy: startedBy,
		Players:   []string{},
	}

	gr.mu.Lock()
	gr.games[game.Id] = game
	gr.mu.Unlock()

	return game, nil
}

// Join adds the player to the game's player set if not already present.
func (gr *GameRegistry) Join(gameId, player string) (*TurnGame, bool) {
	gr.mu.Lock()
	defer gr.mu.Unlock()

	game, ok := gr.games[gameId]
	if !ok {
		return nil, false
	}

	for _, p := range game.Players {
		if p == player {
			return game, true
		}
	}
	game.Players = append(game.Players, player)

	return game, true
}

// Move applies a client-supplied move. Marker defaults to the starter's
// marker for the starter and the other marker otherwise; next turn defaults
// to toggling between the two fixed identities. Moves are client-trusted:
// no turn-order, occupancy or win checking. A move still missing row,
// column or marker after derivation is logged and dropped.
func (gr *GameRegistry) Move(gameId string, move *MovePayload) (game *TurnGame, known, applied bool) {
	gr.mu.Lock()
	defer gr.mu.Unlock()

	game, ok := gr.games[gameId]
	if !ok {
		return nil, false, false
	}

	marker := move.Marker
	if marker == "" && move.Player != "" {
		if move.Player == game.StartedBy {
			marker = markerStarter
		} else {
			marker = markerOther
		}
	}

	nextTurn := move.NextTurn
	if nextTurn == "" && move.Player != "" {
		nextTurn = otherLabel(move.Player)
	}

	if move.Row == nil || move.Col == nil || marker == "" {
		gr.log.Printf("dropping incomplete move for game %q: %+v", gameId, move)
		return game, true, false
	}

	if board, ok := game.Data["board"].([]any); ok {
		row := *move.Row
		if row >= 0 && row < len(board) {
			if cells, ok := board[row].([]any); ok {
				col := *move.Col
				if col >= 0 && col < len(cells) {
					cells[col] = marker
				}
			}
		}
	}

	if nextTurn != "" {
		game.Data["turn"] = nextTurn
	}

	return game, true, true
}

func (gr *GameRegistry) End(gameId string) (*TurnGame, bool) {
	gr.mu.Lock()
	defer gr.mu.Unlock()

	game, ok := gr.games[gameId]
	if !ok {
		return nil, false
	}

	game.Status = GameStatusEnded
	return game, true
}

func (gr *GameRegistry) ListActive(dropId string) []*TurnGame {
	gr.mu.RLock()
	defer gr.mu.RUnlock()

	var active []*TurnGame
	for _, game := range gr.games {
		if game.DropId == dropId && game.Status == GameStatusActive {
			active = append(active, game)
		}
	}

	return active
}
