package server

import (
	"log"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/thnx4playing/msgdrop/internal/database"
)

const (
	geoRoundCount = 5
	earthRadiusKm = 6371.0
)

const (
	GeoStatusActive  = "active"
	GeoStatusEnded   = "ended"
	GeoStatusForfeit = "forfeit"
	GeoWinnerTie     = "tie"
)

type GeoLocation struct {
	Name    string  `json:"name"`
	Country string  `json:"country"`
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
}

type GeoGuess struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type GeoResult struct {
	Guess      GeoGuess `json:"guess"`
	DistanceKm float64  `json:"distanceKm"`
	Score      int      `json:"score"`
}

type geoRoundState struct {
	Location GeoLocation
	Guesses  map[string]GeoGuess
	Results  map[string]GeoResult
	Resolved bool
}

type GeoGame struct {
	Id        string
	DropId    string
	StartedBy string
	StartedAt time.Time
	Round     int
	Status    string
	rounds    []*geoRoundState
	totals    map[string]int
}

// GuessOutcome describes what a recorded guess did to the round.
type GuessOutcome struct {
	Game     *GeoGame
	Known    bool
	Recorded bool
	Resolved bool
	Final    bool
	Round    int
	Location GeoLocation
	Results  map[string]GeoResult
	Totals   map[string]int
	Winner   string
	Err      error
}

// GeoRegistry tracks round-based geography games. Round targets, guesses
// and totals live in memory; resolved rounds and final scores are written
// through to the repository.
type GeoRegistry struct {
	mu    sync.Mutex
	games map[string]*GeoGame
	db    database.MsgDropRepository
	rng   *rand.Rand
	log   *log.Logger
}

func NewGeoRegistry(db database.MsgDropRepository, logger *log.Logger) *GeoRegistry {
	return &GeoRegistry{
		games: make(map[string]*GeoGame),
		db:    db,
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
		log:   logger,
	}
}

// Start samples the round targets, persists the summary and round rows,
// and registers the in-memory game at round 1.
func (gr *GeoRegistry) Start(dropId, startedBy string, now time.Time) (*GeoGame, error) {
	gr.mu.Lock()
	defer gr.mu.Unlock()

	game := &GeoGame{
		Id:        uuid.NewString(),
		DropId:    dropId,
		StartedBy: startedBy,
		StartedAt: now,
		Round:     1,
		Status:    GeoStatusActive,
		totals:    make(map[string]int),
	}

	dbRounds := make([]database.GeoRound, 0, geoRoundCount)
	for i, idx := range gr.rng.Perm(len(geoCatalog))[:geoRoundCount] {
		loc := geoCatalog[idx]
		game.rounds = append(game.rounds, &geoRoundState{
			Location: loc,
			Guesses:  make(map[string]GeoGuess),
			Results:  make(map[string]GeoResult),
		})
		dbRounds = append(dbRounds, database.GeoRound{
			GameId:  game.Id,
			Round:   i + 1,
			Name:    loc.Name,
			Country: loc.Country,
			Lat:     loc.Lat,
			Lng:     loc.Lng,
		})
	}

	err := gr.db.CreateGeoGame(database.GeoGame{
		Id:        game.Id,
		DropId:    dropId,
		StartedBy: startedBy,
		StartedAt: now,
		Status:    GeoStatusActive,
	}, dbRounds)
	if err != nil {
		return nil, err
	}

	gr.games[game.Id] = game
	return game, nil
}

// Guess records one player's guess for the current round. The round
// resolves exactly once, when the second distinct player's guess arrives;
// duplicate guesses from an already-answered player are ignored. Results
// are persisted before any in-memory state is marked resolved, so a failed
// write leaves the round answerable again.
func (gr *GeoRegistry) Guess(gameId, player string, lat, lng float64, now time.Time) GuessOutcome {
	gr.mu.Lock()
	defer gr.mu.Unlock()

	game, ok := gr.games[gameId]
	if !ok {
		return GuessOutcome{}
	}

	out := GuessOutcome{Game: game, Known: true, Round: game.Round}
	if game.Status != GeoStatusActive {
		return out
	}

	round := game.rounds[game.Round-1]
	if round.Resolved {
		return out
	}
	if _, dup := round.Guesses[player]; dup {
		return out
	}

	round.Guesses[player] = GeoGuess{Lat: lat, Lng: lng}
	out.Recorded = true

	if len(round.Guesses) < 2 {
		return out
	}

	// second distinct guess is in, resolve the round
	results := make(map[string]GeoResult, 2)
	params := database.ResolveGeoRoundParams{
		GameId:     gameId,
		Round:      game.Round,
		ResolvedAt: now,
	}
	for _, label := range []string{LabelM, LabelE} {
		guess, ok := round.Guesses[label]
		if !ok {
			continue
		}
		distance := haversineKm(guess.Lat, guess.Lng, round.Location.Lat, round.Location.Lng)
		result := GeoResult{Guess: guess, DistanceKm: distance, Score: geoScore(distance)}
		results[label] = result

		dbResult := &database.GeoRoundResult{
			GuessLat:   guess.Lat,
			GuessLng:   guess.Lng,
			DistanceKm: distance,
			Score:      result.Score,
		}
		if label == LabelM {
			params.ResultM = dbResult
		} else {
			params.ResultE = dbResult
		}
	}

	if err := gr.db.ResolveGeoRound(params); err != nil {
		delete(round.Guesses, player)
		out.Recorded = false
		out.Err = err
		return out
	}

	round.Results = results
	round.Resolved = true
	for label, result := range results {
		game.totals[label] += result.Score
	}

	out.Resolved = true
	out.Location = round.Location
	out.Results = results
	out.Totals = copyTotals(game.totals)

	if game.Round == geoRoundCount {
		winner, err := gr.finalizeLocked(game, GeoStatusEnded, now)
		if err != nil {
			out.Err = err
			return out
		}
		out.Final = true
		out.Winner = winner
	}

	return out
}

// Next advances to the following round once the current one has resolved.
// At the final round it finalizes instead and no round event is produced.
func (gr *GeoRegistry) Next(gameId string, now time.Time) (game *GeoGame, known, advanced bool, err error) {
	gr.mu.Lock()
	defer gr.mu.Unlock()

	game, ok := gr.games[gameId]
	if !ok {
		return nil, false, false, nil
	}
	if game.Status != GeoStatusActive {
		return game, true, false, nil
	}
	if !game.rounds[game.Round-1].Resolved {
		return game, true, false, nil
	}

	if game.Round == geoRoundCount {
		_, err := gr.finalizeLocked(game, GeoStatusEnded, now)
		return game, true, false, err
	}

	game.Round++
	return game, true, true, nil
}

// Forfeit ends the game immediately with a distinct status for reporting.
func (gr *GeoRegistry) Forfeit(gameId string, now time.Time) (game *GeoGame, known bool, err error) {
	gr.mu.Lock()
	defer gr.mu.Unlock()

	game, ok := gr.games[gameId]
	if !ok {
		return nil, false, nil
	}
	if game.Status != GeoStatusActive {
		return game, true, nil
	}

	_, err = gr.finalizeLocked(game, GeoStatusForfeit, now)
	return game, true, err
}

func (gr *GeoRegistry) finalizeLocked(game *GeoGame, status string, now time.Time) (string, error) {
	var winner string
	if status == GeoStatusEnded {
		switch {
		case game.totals[LabelM] > game.totals[LabelE]:
			winner = LabelM
		case game.totals[LabelE] > game.totals[LabelM]:
			winner = LabelE
		default:
			winner = GeoWinnerTie
		}
	}

	err := gr.db.FinalizeGeoGame(database.FinalizeGeoGameParams{
		GameId:  game.Id,
		ScoreM:  game.totals[LabelM],
		ScoreE:  game.totals[LabelE],
		Winner:  winner,
		Status:  status,
		EndedAt: now,
	})
	if err != nil {
		return "", err
	}

	game.Status = status
	return winner, nil
}

// Target returns the coordinates clients guess against for the game's
// current round. True location metadata is never exposed before the reveal.
func (game *GeoGame) Target() GeoGuess {
	loc := game.rounds[game.Round-1].Location
	return GeoGuess{Lat: loc.Lat, Lng: loc.Lng}
}

func (game *GeoGame) Totals() map[string]int {
	return copyTotals(game.totals)
}

// RoundResults returns the reveal data for every resolved round, in order.
func (game *GeoGame) RoundResults() []map[string]any {
	results := make([]map[string]any, 0, len(game.rounds))
	for i, round := range game.rounds {
		if !round.Resolved {
			continue
		}
		results = append(results, map[string]any{
			"round":    i + 1,
			"location": round.Location,
			"results":  round.Results,
		})
	}
	return results
}

func copyTotals(totals map[string]int) map[string]int {
	out := make(map[string]int, len(totals))
	for label, total := range totals {
		out[label] = total
	}
	return out
}

func haversineKm(lat1, lng1, lat2, lng2 float64) float64 {
	const degToRad = math.Pi / 180

	dLat := (lat2 - lat1) * degToRad
	dLng := (lng2 - lng1) * degToRad

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*degToRad)*math.Cos(lat2*degToRad)*
			math.Sin(dLng/2)*math.Sin(dLng/2)

	return 2 * earthRadiusKm * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// geoScore decays exponentially with distance so continent-scale misses
// still earn something, floored at zero.
func geoScore(distanceKm float64) int {
	score := int(math.Round(5000 * math.Exp(-distanceKm/1500)))
	if score < 0 {
		return 0
	}
	return score
}
