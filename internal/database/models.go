package database

import "time"

type Message struct {
	Id          string
	DropId      string
	Seq         int
	Author      string
	Kind        string
	Text        string
	MediaRef    string
	GifUrl      string
	GifPreview  string
	GifWidth    int
	GifHeight   int
	GifTitle    string
	ReplyToSeq  int
	ClientId    string
	Reactions   map[string]int
	CreatedAt   time.Time
	UpdatedAt   time.Time
	DeliveredAt *time.Time
	ReadAt      *time.Time
}

type CreateMessageParams struct {
	DropId     string
	Author     string
	Kind       string
	Text       string
	MediaRef   string
	GifUrl     string
	GifPreview string
	GifWidth   int
	GifHeight  int
	GifTitle   string
	ReplyToSeq int
	ClientId   string
	CreatedAt  time.Time
}

// StreakRecord holds the per-drop streak counter. Dates are calendar days
// in the streak time zone, formatted YYYY-MM-DD; empty means never.
type StreakRecord struct {
	DropId      string
	Streak      int
	LastPostedM string
	LastPostedE string
	LastBoth    string
	UpdatedAt   time.Time
}

type GeoGame struct {
	Id        string
	DropId    string
	StartedBy string
	StartedAt time.Time
	EndedAt   *time.Time
	ScoreM    int
	ScoreE    int
	Winner    string
	Status    string
}

type GeoRound struct {
	GameId     string
	Round      int
	Name       string
	Country    string
	Lat        float64
	Lng        float64
	GuessMLat  *float64
	GuessMLng  *float64
	GuessELat  *float64
	GuessELng  *float64
	DistanceM  *float64
	DistanceE  *float64
	ScoreM     *int
	ScoreE     *int
	ResolvedAt *time.Time
}

// GeoRoundResult carries one player's computed result for a round.
type GeoRoundResult struct {
	GuessLat   float64
	GuessLng   float64
	DistanceKm float64
	Score      int
}

type ResolveGeoRoundParams struct {
	GameId     string
	Round      int
	ResultM    *GeoRoundResult
	ResultE    *GeoRoundResult
	ResolvedAt time.Time
}

type FinalizeGeoGameParams struct {
	GameId  string
	ScoreM  int
	ScoreE  int
	Winner  string
	Status  string
	EndedAt time.Time
}
