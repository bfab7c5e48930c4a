package database

import "time"

type MsgDropRepository interface {
	Ping() error
	CreateMessage(params CreateMessageParams) (Message, error)
	GetMessages(dropId string, limit int) ([]Message, error)
	GetMessage(dropId string, seq int) (Message, error)
	UpdateMessageText(dropId string, seq int, text string, updatedAt time.Time) (Message, error)
	DeleteMessage(dropId string, seq int) (string, error)
	TrimMessages(dropId string, keep int) ([]string, error)
	ToggleReaction(dropId string, seq int, emoji string, add bool) (map[string]int, error)
	MarkRead(dropId string, upToSeq int, reader string, readAt time.Time) (int, error)
	GetStreak(dropId string) (StreakRecord, error)
	UpsertStreak(rec StreakRecord) error
	CreateGeoGame(game GeoGame, rounds []GeoRound) error
	ResolveGeoRound(params ResolveGeoRoundParams) error
	FinalizeGeoGame(params FinalizeGeoGameParams) error
	ListGeoGames(dropId string, limit int) ([]GeoGame, error)
}
