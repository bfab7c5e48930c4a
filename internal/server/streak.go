package server

import (
	"time"

	"github.com/thnx4playing/msgdrop/internal/database"
)

const streakDateLayout = "2006-01-02"

// Streak days are calendar days in US Eastern, regardless of where either
// party happens to be.
var streakLocation = func() *time.Location {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return time.FixedZone("EST", -5*60*60)
	}
	return loc
}()

type StreakResult struct {
	Changed  bool
	Broke    bool
	Previous int
}

func streakDay(t time.Time) string {
	return t.In(streakLocation).Format(streakDateLayout)
}

func yesterdayOf(t time.Time) string {
	return t.In(streakLocation).AddDate(0, 0, -1).Format(streakDateLayout)
}

// applyStreak is the write-path transition: it records the author's post
// date and updates the streak counter. The caller persists the returned
// record.
func applyStreak(rec database.StreakRecord, user string, now time.Time) (database.StreakRecord, StreakResult) {
	res := StreakResult{Previous: rec.Streak}

	switch user {
	case LabelM:
		rec.LastPostedM = streakDay(now)
	case LabelE:
		rec.LastPostedE = streakDay(now)
	default:
		return rec, res
	}

	today := streakDay(now)
	yesterday := yesterdayOf(now)

	if rec.LastPostedM == today && rec.LastPostedE == today {
		switch rec.LastBoth {
		case today:
			// already counted today
		case yesterday:
			rec.Streak++
			rec.LastBoth = today
			res.Changed = true
		default:
			// fresh start always announces, even when the counter lands on
			// the same value it held before the gap
			rec.Streak = 1
			rec.LastBoth = today
			res.Changed = true
		}
		return rec, res
	}

	// Only a full missed day breaks the streak. ISO dates compare
	// lexicographically, so string < works.
	if rec.Streak > 0 && rec.LastBoth != "" && rec.LastBoth < yesterday {
		rec.Streak = 0
		res.Changed = true
		res.Broke = true
	}

	return rec, res
}

// DeriveStreak is the read-path view: it reports a stale streak as broken
// without persisting the zeroing. The next write re-derives and persists.
func DeriveStreak(rec database.StreakRecord, now time.Time) (int, bool) {
	if rec.Streak > 0 && rec.LastBoth != "" && rec.LastBoth < yesterdayOf(now) {
		return 0, true
	}
	return rec.Streak, false
}
