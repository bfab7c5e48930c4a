package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/thnx4playing/msgdrop/internal/types"
)

// The two fixed identities a drop is shared between. Free-form labels are
// accepted on connections, but streaks, markers and geo scoring only track
// these two.
const (
	LabelM = "M"
	LabelE = "E"
)

func otherLabel(label string) string {
	if label == LabelM {
		return LabelE
	}
	return LabelM
}

const (
	EventTyping          = "typing"
	EventPing            = "ping"
	EventPong            = "pong"
	EventPresence        = "presence"
	EventPresenceRequest = "presence_request"
	EventRead            = "read"
	EventReadReceipt     = "read_receipt"
	EventVideoSignal     = "video_signal"
	EventChat            = "chat"
	EventGif             = "gif"
	EventGame            = "game"
	EventStreakUpdate    = "streak_update"
	EventChatEdit        = "chat_edit"
	EventChatDelete      = "chat_delete"
	EventReaction        = "reaction"
	EventError           = "error"
)

const (
	PresenceActive  = "active"
	PresenceOffline = "offline"
)

// ClientEvent is the envelope for everything a connection sends.
type ClientEvent struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`

	client *Client
}

// ServerEvent is the envelope for everything fanned out to connections.
type ServerEvent struct {
	Type      string    `json:"type"`
	Payload   any       `json:"payload,omitempty"`
	Timestamp time.Time `json:"ts"`

	// SkipClient is excluded from broadcast, for sender-attributed events
	SkipClient *Client `json:"-"`
}

type TypingPayload struct {
	User string `json:"user"`
}

type PingPayload struct {
	Ts int64 `json:"ts"`
}

type PresencePayload struct {
	User   string    `json:"user"`
	State  string    `json:"state"`
	Online int       `json:"online"`
	Ts     time.Time `json:"ts"`
}

type PresenceRequestPayload struct {
	User string `json:"user"`
}

type ReadPayload struct {
	UpToSeq int    `json:"upToSeq"`
	Reader  string `json:"reader"`
}

type ReadReceiptPayload struct {
	UpToSeq int       `json:"upToSeq"`
	Reader  string    `json:"reader"`
	ReadAt  time.Time `json:"readAt"`
}

type VideoSignalPayload struct {
	Op     string          `json:"op"`
	From   string          `json:"from"`
	PeerId string          `json:"peerId,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

type ChatPayload struct {
	Text       string `json:"text"`
	User       string `json:"user"`
	ClientId   string `json:"clientId,omitempty"`
	ReplyToSeq int    `json:"replyToSeq,omitempty"`
	MediaRef   string `json:"mediaRef,omitempty"`
	Kind       string `json:"kind,omitempty"`
}

type GifPayload struct {
	GifUrl     string `json:"gifUrl"`
	GifPreview string `json:"gifPreview,omitempty"`
	GifWidth   int    `json:"gifWidth,omitempty"`
	GifHeight  int    `json:"gifHeight,omitempty"`
	Title      string `json:"title,omitempty"`
	User       string `json:"user"`
	ClientId   string `json:"clientId,omitempty"`
}

type GamePayload struct {
	Op       string          `json:"op"`
	GameId   string          `json:"gameId,omitempty"`
	GameType string          `json:"gameType,omitempty"`
	GameData map[string]any  `json:"gameData,omitempty"`
	MoveData *MovePayload    `json:"moveData,omitempty"`
	Result   json.RawMessage `json:"result,omitempty"`
	Lat      *float64        `json:"lat,omitempty"`
	Lng      *float64        `json:"lng,omitempty"`
}

type MovePayload struct {
	Row      *int   `json:"row"`
	Col      *int   `json:"col"`
	Player   string `json:"player,omitempty"`
	Marker   string `json:"marker,omitempty"`
	NextTurn string `json:"nextTurn,omitempty"`
}

type StreakPayload struct {
	Streak      int  `json:"streak"`
	BrokeStreak bool `json:"brokeStreak"`
}

type ErrorPayload struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func NewChatEvent(msg types.Message) *ServerEvent {
	eventType := EventChat
	if msg.Kind == "gif" {
		eventType = EventGif
	}

	return &ServerEvent{
		Type:      eventType,
		Payload:   msg,
		Timestamp: Now(),
	}
}

func errEvent(code int, message string) *ServerEvent {
	return &ServerEvent{
		Type:      EventError,
		Payload:   ErrorPayload{Code: code, Message: message},
		Timestamp: Now(),
	}
}

func ErrInvalidEvent() *ServerEvent {
	return errEvent(http.StatusBadRequest, "invalid event")
}

func ErrUnknownGame() *ServerEvent {
	return errEvent(http.StatusNotFound, "unknown game")
}

func ErrRoundNotFinished() *ServerEvent {
	return errEvent(http.StatusConflict, "round not finished")
}

func ErrInternalError() *ServerEvent {
	return errEvent(http.StatusInternalServerError, "internal server error")
}

func ErrServiceUnavailable() *ServerEvent {
	return errEvent(http.StatusServiceUnavailable, "service unavailable")
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
