package types

import (
	"time"
)

// Message is the wire shape of a durable chat row.
type Message struct {
	Id          string         `json:"id"`
	DropId      string         `json:"drop_id"`
	Seq         int            `json:"seq"`
	Author      string         `json:"author"`
	Kind        string         `json:"kind"`
	Text        string         `json:"text,omitempty"`
	MediaRef    string         `json:"media_ref,omitempty"`
	Gif         *GifMeta       `json:"gif,omitempty"`
	ReplyToSeq  int            `json:"reply_to_seq,omitempty"`
	ClientId    string         `json:"client_id,omitempty"`
	Reactions   map[string]int `json:"reactions,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at,omitempty"`
	DeliveredAt *time.Time     `json:"delivered_at,omitempty"`
	ReadAt      *time.Time     `json:"read_at,omitempty"`
}

type GifMeta struct {
	Url     string `json:"url"`
	Preview string `json:"preview,omitempty"`
	Width   int    `json:"width,omitempty"`
	Height  int    `json:"height,omitempty"`
	Title   string `json:"title,omitempty"`
}

// Streak is the wire shape of the per-drop streak counter.
type Streak struct {
	DropId      string `json:"drop_id"`
	Streak      int    `json:"streak"`
	BrokeStreak bool   `json:"broke_streak"`
}

// GeoGameSummary is the durable record of a finished geography game.
type GeoGameSummary struct {
	Id        string     `json:"id"`
	DropId    string     `json:"drop_id"`
	StartedBy string     `json:"started_by"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	ScoreM    int        `json:"score_m"`
	ScoreE    int        `json:"score_e"`
	Winner    string     `json:"winner,omitempty"`
	Status    string     `json:"status"`
}
