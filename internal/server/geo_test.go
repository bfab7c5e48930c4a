package server

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/thnx4playing/msgdrop/internal/database"
	"github.com/thnx4playing/msgdrop/internal/testutil"
)

func newTestGeoRegistry(t *testing.T, db database.MsgDropRepository) *GeoRegistry {
	return NewGeoRegistry(db, testutil.TestLogger(t))
}

func Test_geoScore(t *testing.T) {
	assert.Equal(t, 5000, geoScore(0), "perfect guess scores the maximum")
	assert.Equal(t, 1839, geoScore(1500))
	assert.Equal(t, 0, geoScore(20000), "antipodal misses floor at zero")
	assert.GreaterOrEqual(t, geoScore(100000), 0, "score is never negative")
}

func Test_haversineKm(t *testing.T) {
	assert.Zero(t, haversineKm(48.8584, 2.2945, 48.8584, 2.2945))

	// Paris to London
	d := haversineKm(48.8566, 2.3522, 51.5074, -0.1278)
	assert.InDelta(t, 334, d, 10)
}

func Test_GeoRegistry_Start(t *testing.T) {
	t.Run("persists summary and five rounds", func(t *testing.T) {
		db := &database.MockMsgDropRepository{}
		defer db.AssertExpectations(t)

		gr := newTestGeoRegistry(t, db)

		db.On("CreateGeoGame", mock.Anything, mock.Anything).Return(nil).Once()

		game, err := gr.Start("drop-1", LabelM, Now())
		assert.NoError(t, err)
		assert.NotEmpty(t, game.Id)
		assert.Equal(t, 1, game.Round)
		assert.Equal(t, GeoStatusActive, game.Status)
		assert.Len(t, game.rounds, geoRoundCount)

		rounds := db.Calls[0].Arguments.Get(1).([]database.GeoRound)
		assert.Len(t, rounds, geoRoundCount)

		// sampled without replacement
		seen := make(map[string]struct{})
		for _, round := range rounds {
			seen[round.Name] = struct{}{}
		}
		assert.Len(t, seen, geoRoundCount, "round targets must be distinct")
	})

	t.Run("db failure does not register the game", func(t *testing.T) {
		db := &database.MockMsgDropRepository{}
		defer db.AssertExpectations(t)

		gr := newTestGeoRegistry(t, db)

		db.On("CreateGeoGame", mock.Anything, mock.Anything).Return(errors.New("db error")).Once()

		game, err := gr.Start("drop-1", LabelM, Now())
		assert.Error(t, err)
		assert.Nil(t, game)
		assert.Empty(t, gr.games)
	})
}

func Test_GeoRegistry_Guess(t *testing.T) {
	startGame := func(t *testing.T, db *database.MockMsgDropRepository) (*GeoRegistry, *GeoGame) {
		gr := newTestGeoRegistry(t, db)
		db.On("CreateGeoGame", mock.Anything, mock.Anything).Return(nil).Once()
		game, err := gr.Start("drop-1", LabelM, Now())
		if err != nil {
			t.Fatalf("failed to start test game: %v", err)
		}
		return gr, game
	}

	t.Run("unknown game", func(t *testing.T) {
		db := &database.MockMsgDropRepository{}
		gr := newTestGeoRegistry(t, db)

		out := gr.Guess("missing", LabelM, 0, 0, Now())
		assert.False(t, out.Known)
	})

	t.Run("first guess records without resolving", func(t *testing.T) {
		db := &database.MockMsgDropRepository{}
		defer db.AssertExpectations(t)
		gr, game := startGame(t, db)

		out := gr.Guess(game.Id, LabelM, 10, 20, Now())
		assert.True(t, out.Known)
		assert.True(t, out.Recorded)
		assert.False(t, out.Resolved)
		db.AssertNotCalled(t, "ResolveGeoRound", mock.Anything)
	})

	t.Run("second distinct guess resolves exactly once", func(t *testing.T) {
		db := &database.MockMsgDropRepository{}
		defer db.AssertExpectations(t)
		gr, game := startGame(t, db)

		db.On("ResolveGeoRound", mock.Anything).Return(nil).Once()

		target := game.Target()
		gr.Guess(game.Id, LabelM, target.Lat, target.Lng, Now())
		out := gr.Guess(game.Id, LabelE, 0, 0, Now())

		assert.True(t, out.Resolved)
		assert.Len(t, out.Results, 2)
		assert.Equal(t, 5000, out.Results[LabelM].Score, "exact guess earns the maximum")
		assert.Equal(t, 5000, out.Totals[LabelM])

		// a third guess against the resolved round is ignored
		late := gr.Guess(game.Id, LabelM, 1, 1, Now())
		assert.True(t, late.Known)
		assert.False(t, late.Recorded)
		assert.False(t, late.Resolved)
	})

	t.Run("duplicate guess from same player is ignored", func(t *testing.T) {
		db := &database.MockMsgDropRepository{}
		defer db.AssertExpectations(t)
		gr, game := startGame(t, db)

		first := gr.Guess(game.Id, LabelM, 10, 20, Now())
		assert.True(t, first.Recorded)

		dup := gr.Guess(game.Id, LabelM, 30, 40, Now())
		assert.True(t, dup.Known)
		assert.False(t, dup.Recorded)
		db.AssertNotCalled(t, "ResolveGeoRound", mock.Anything)
	})

	t.Run("failed persist leaves the round answerable", func(t *testing.T) {
		db := &database.MockMsgDropRepository{}
		defer db.AssertExpectations(t)
		gr, game := startGame(t, db)

		db.On("ResolveGeoRound", mock.Anything).Return(errors.New("db error")).Once()
		db.On("ResolveGeoRound", mock.Anything).Return(nil).Once()

		gr.Guess(game.Id, LabelM, 10, 20, Now())

		failed := gr.Guess(game.Id, LabelE, 0, 0, Now())
		assert.Error(t, failed.Err)
		assert.False(t, failed.Recorded)
		assert.False(t, failed.Resolved)

		// retry succeeds now that the write goes through
		retry := gr.Guess(game.Id, LabelE, 0, 0, Now())
		assert.NoError(t, retry.Err)
		assert.True(t, retry.Resolved)
	})
}

func Test_GeoRegistry_Next(t *testing.T) {
	db := &database.MockMsgDropRepository{}
	defer db.AssertExpectations(t)

	gr := newTestGeoRegistry(t, db)
	db.On("CreateGeoGame", mock.Anything, mock.Anything).Return(nil).Once()
	game, err := gr.Start("drop-1", LabelM, Now())
	assert.NoError(t, err)

	t.Run("gated on resolution", func(t *testing.T) {
		got, known, advanced, err := gr.Next(game.Id, Now())
		assert.True(t, known)
		assert.NoError(t, err)
		assert.False(t, advanced)
		assert.Equal(t, 1, got.Round)
	})

	t.Run("advances after resolution", func(t *testing.T) {
		db.On("ResolveGeoRound", mock.Anything).Return(nil).Once()
		gr.Guess(game.Id, LabelM, 10, 20, Now())
		gr.Guess(game.Id, LabelE, 0, 0, Now())

		got, known, advanced, err := gr.Next(game.Id, Now())
		assert.True(t, known)
		assert.NoError(t, err)
		assert.True(t, advanced)
		assert.Equal(t, 2, got.Round)
	})

	t.Run("unknown game", func(t *testing.T) {
		_, known, _, _ := gr.Next("missing", Now())
		assert.False(t, known)
	})
}

func Test_GeoRegistry_FullGame(t *testing.T) {
	db := &database.MockMsgDropRepository{}
	defer db.AssertExpectations(t)

	gr := newTestGeoRegistry(t, db)
	db.On("CreateGeoGame", mock.Anything, mock.Anything).Return(nil).Once()
	db.On("ResolveGeoRound", mock.Anything).Return(nil).Times(geoRoundCount)

	game, err := gr.Start("drop-1", LabelM, Now())
	assert.NoError(t, err)

	var final GuessOutcome
	for round := 1; round <= geoRoundCount; round++ {
		if round == geoRoundCount {
			db.On("FinalizeGeoGame", mock.MatchedBy(func(p database.FinalizeGeoGameParams) bool {
				return p.Status == GeoStatusEnded && p.Winner == LabelM
			})).Return(nil).Once()
		}

		// M nails the target every round, E is always a continent away
		target := game.Target()
		gr.Guess(game.Id, LabelM, target.Lat, target.Lng, Now())
		final = gr.Guess(game.Id, LabelE, target.Lat+40, target.Lng, Now())
		assert.True(t, final.Resolved, "round %d should resolve on the second guess", round)

		if round < geoRoundCount {
			assert.False(t, final.Final)
			_, _, advanced, err := gr.Next(game.Id, Now())
			assert.NoError(t, err)
			assert.True(t, advanced)
		}
	}

	assert.True(t, final.Final)
	assert.Equal(t, LabelM, final.Winner)
	assert.Equal(t, GeoStatusEnded, game.Status)
	assert.Equal(t, geoRoundCount*5000, game.Totals()[LabelM])
	assert.Len(t, game.RoundResults(), geoRoundCount)
}

func Test_GeoRegistry_Tie(t *testing.T) {
	db := &database.MockMsgDropRepository{}
	defer db.AssertExpectations(t)

	gr := newTestGeoRegistry(t, db)
	db.On("CreateGeoGame", mock.Anything, mock.Anything).Return(nil).Once()
	db.On("ResolveGeoRound", mock.Anything).Return(nil).Times(geoRoundCount)
	db.On("FinalizeGeoGame", mock.MatchedBy(func(p database.FinalizeGeoGameParams) bool {
		return p.Winner == GeoWinnerTie && p.ScoreM == p.ScoreE
	})).Return(nil).Once()

	game, err := gr.Start("drop-1", LabelM, Now())
	assert.NoError(t, err)

	for round := 1; round <= geoRoundCount; round++ {
		target := game.Target()
		gr.Guess(game.Id, LabelM, target.Lat, target.Lng, Now())
		out := gr.Guess(game.Id, LabelE, target.Lat, target.Lng, Now())
		assert.True(t, out.Resolved)

		if round < geoRoundCount {
			gr.Next(game.Id, Now())
		} else {
			assert.Equal(t, GeoWinnerTie, out.Winner)
		}
	}
}

func Test_GeoRegistry_Forfeit(t *testing.T) {
	t.Run("active game forfeits with no winner", func(t *testing.T) {
		db := &database.MockMsgDropRepository{}
		defer db.AssertExpectations(t)

		gr := newTestGeoRegistry(t, db)
		db.On("CreateGeoGame", mock.Anything, mock.Anything).Return(nil).Once()
		db.On("FinalizeGeoGame", mock.MatchedBy(func(p database.FinalizeGeoGameParams) bool {
			return p.Status == GeoStatusForfeit && p.Winner == ""
		})).Return(nil).Once()

		game, err := gr.Start("drop-1", LabelM, Now())
		assert.NoError(t, err)

		got, known, err := gr.Forfeit(game.Id, Now())
		assert.True(t, known)
		assert.NoError(t, err)
		assert.Equal(t, GeoStatusForfeit, got.Status)
	})

	t.Run("forfeiting an ended game is a no-op", func(t *testing.T) {
		db := &database.MockMsgDropRepository{}
		defer db.AssertExpectations(t)

		gr := newTestGeoRegistry(t, db)
		db.On("CreateGeoGame", mock.Anything, mock.Anything).Return(nil).Once()
		db.On("FinalizeGeoGame", mock.Anything).Return(nil).Once()

		game, _ := gr.Start("drop-1", LabelM, Now())
		gr.Forfeit(game.Id, Now())

		_, known, err := gr.Forfeit(game.Id, Now())
		assert.True(t, known)
		assert.NoError(t, err)
	})

	t.Run("unknown game", func(t *testing.T) {
		db := &database.MockMsgDropRepository{}
		gr := newTestGeoRegistry(t, db)

		_, known, _ := gr.Forfeit("missing", Now())
		assert.False(t, known)
	})
}
