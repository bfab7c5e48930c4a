package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/thnx4playing/msgdrop/internal/database"
	"github.com/thnx4playing/msgdrop/internal/server"
	"github.com/thnx4playing/msgdrop/internal/types"
)

type PostMessageRequest struct {
	Text       string         `json:"text"`
	User       string         `json:"user"`
	Kind       string         `json:"kind,omitempty"`
	MediaRef   string         `json:"media_ref,omitempty"`
	Gif        *types.GifMeta `json:"gif,omitempty"`
	ReplyToSeq int            `json:"reply_to_seq,omitempty"`
	ClientId   string         `json:"client_id,omitempty"`
}

type EditMessageRequest struct {
	Text string `json:"text"`
}

type ReactionRequest struct {
	Seq   int    `json:"seq"`
	Emoji string `json:"emoji"`
	Op    string `json:"op"`
}

type MarkReadRequest struct {
	UpToSeq int    `json:"upToSeq"`
	Reader  string `json:"reader"`
}

func (s *MsgDropApp) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Printf("json encode: %v", err)
	}
}

func (s *MsgDropApp) getMessages(w http.ResponseWriter, r *http.Request) {
	dropId := r.PathValue("dropId")

	var limit int
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		var err error
		limit, err = strconv.Atoi(limitStr)
		if err != nil {
			errResp := NewBadRequestError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}
	}

	messages, err := s.db.GetMessages(dropId, limit)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	dtos := make([]types.Message, 0, len(messages))
	for _, msg := range messages {
		dtos = append(dtos, server.MessageDTO(msg))
	}

	s.writeJson(w, http.StatusOK, dtos)
}

// postMessage is the REST write path. It shares the sequencer, retention
// trim and streak update with the socket path, then fans the message out
// to any live connections.
func (s *MsgDropApp) postMessage(w http.ResponseWriter, r *http.Request) {
	dropId := r.PathValue("dropId")

	var req PostMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if req.User == "" || (req.Text == "" && req.MediaRef == "" && req.Gif == nil) {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	kind := req.Kind
	if kind == "" {
		switch {
		case req.Gif != nil:
			kind = "gif"
		case req.MediaRef != "":
			kind = "image"
		default:
			kind = "text"
		}
	}

	params := database.CreateMessageParams{
		DropId:     dropId,
		Author:     req.User,
		Kind:       kind,
		Text:       req.Text,
		MediaRef:   req.MediaRef,
		ReplyToSeq: req.ReplyToSeq,
		ClientId:   req.ClientId,
		CreatedAt:  server.Now(),
	}
	if req.Gif != nil {
		params.GifUrl = req.Gif.Url
		params.GifPreview = req.Gif.Preview
		params.GifWidth = req.Gif.Width
		params.GifHeight = req.Gif.Height
		params.GifTitle = req.Gif.Title
	}

	res, err := s.cs.PersistMessage(params)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.cs.Broadcast(dropId, server.NewChatEvent(res.Message))
	if res.Streak != nil {
		s.cs.Broadcast(dropId, &server.ServerEvent{
			Type:      server.EventStreakUpdate,
			Payload:   *res.Streak,
			Timestamp: server.Now(),
		})
	}

	s.writeJson(w, http.StatusCreated, res.Message)
}

func (s *MsgDropApp) editMessage(w http.ResponseWriter, r *http.Request) {
	dropId := r.PathValue("dropId")
	seq, err := strconv.Atoi(r.PathValue("seq"))
	if err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var req EditMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Text == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	msg, err := s.db.UpdateMessageText(dropId, seq, req.Text, server.Now())
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, sql.ErrNoRows) {
			errResp = NewNotFoundError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	dto := server.MessageDTO(msg)
	s.cs.Broadcast(dropId, &server.ServerEvent{
		Type:      server.EventChatEdit,
		Payload:   dto,
		Timestamp: server.Now(),
	})

	s.writeJson(w, http.StatusOK, dto)
}

func (s *MsgDropApp) deleteMessage(w http.ResponseWriter, r *http.Request) {
	dropId := r.PathValue("dropId")
	seq, err := strconv.Atoi(r.PathValue("seq"))
	if err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	mediaRef, err := s.db.DeleteMessage(dropId, seq)
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, sql.ErrNoRows) {
			errResp = NewNotFoundError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if mediaRef != "" {
		if err := s.blobs.Delete(mediaRef); err != nil {
			s.log.Printf("delete blob %q: %v", mediaRef, err)
		}
	}

	s.cs.Broadcast(dropId, &server.ServerEvent{
		Type:      server.EventChatDelete,
		Payload:   map[string]int{"seq": seq},
		Timestamp: server.Now(),
	})

	s.writeJson(w, http.StatusNoContent, nil)
}

func (s *MsgDropApp) react(w http.ResponseWriter, r *http.Request) {
	dropId := r.PathValue("dropId")

	var req ReactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Seq <= 0 || req.Emoji == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}
	if req.Op != "add" && req.Op != "remove" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	reactions, err := s.db.ToggleReaction(dropId, req.Seq, req.Emoji, req.Op == "add")
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, sql.ErrNoRows) {
			errResp = NewNotFoundError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	payload := map[string]any{"seq": req.Seq, "reactions": reactions}
	s.cs.Broadcast(dropId, &server.ServerEvent{
		Type:      server.EventReaction,
		Payload:   payload,
		Timestamp: server.Now(),
	})

	s.writeJson(w, http.StatusOK, payload)
}

func (s *MsgDropApp) markRead(w http.ResponseWriter, r *http.Request) {
	dropId := r.PathValue("dropId")

	var req MarkReadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UpToSeq <= 0 || req.Reader == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	readAt := server.Now()
	updated, err := s.db.MarkRead(dropId, req.UpToSeq, req.Reader, readAt)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.cs.Broadcast(dropId, &server.ServerEvent{
		Type: server.EventReadReceipt,
		Payload: server.ReadReceiptPayload{
			UpToSeq: req.UpToSeq,
			Reader:  req.Reader,
			ReadAt:  readAt,
		},
		Timestamp: readAt,
	})

	s.writeJson(w, http.StatusOK, map[string]int{"updated": updated})
}

func (s *MsgDropApp) getStreak(w http.ResponseWriter, r *http.Request) {
	dropId := r.PathValue("dropId")

	rec, err := s.db.GetStreak(dropId)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	streak, broke := server.DeriveStreak(rec, time.Now())
	s.writeJson(w, http.StatusOK, types.Streak{
		DropId:      dropId,
		Streak:      streak,
		BrokeStreak: broke,
	})
}

func (s *MsgDropApp) getGeoGames(w http.ResponseWriter, r *http.Request) {
	dropId := r.PathValue("dropId")

	games, err := s.db.ListGeoGames(dropId, 0)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	summaries := make([]types.GeoGameSummary, 0, len(games))
	for _, game := range games {
		summaries = append(summaries, types.GeoGameSummary{
			Id:        game.Id,
			DropId:    game.DropId,
			StartedBy: game.StartedBy,
			StartedAt: game.StartedAt,
			EndedAt:   game.EndedAt,
			ScoreM:    game.ScoreM,
			ScoreE:    game.ScoreE,
			Winner:    game.Winner,
			Status:    game.Status,
		})
	}

	s.writeJson(w, http.StatusOK, summaries)
}

// serveWs admits a connection into a drop. An invalid token refuses the
// upgrade outright; no hub state is created for it.
func (s *MsgDropApp) serveWs(w http.ResponseWriter, r *http.Request) {
	if err := s.verifySessionToken(requestToken(r)); err != nil {
		s.log.Printf("ws token rejected: %v", err)
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	dropId := r.URL.Query().Get("drop_id")
	user := r.URL.Query().Get("user")
	if dropId == "" || user == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			// only allow connections from allowed origins
			origin := r.Header.Get("Origin")
			if origin == "" {
				// if no origin header, allow the request
				return true
			}

			return slices.Contains(s.allowedOrigins, origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Println("error upgrading connection:", err)
		return
	}

	client := server.NewClient(dropId, user, conn, s.cs, s.log)

	s.cs.RegisterClient(client)
	go client.Write()
	go client.Read()
}
