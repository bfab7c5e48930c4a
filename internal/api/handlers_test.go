package api

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/thnx4playing/msgdrop/internal/config"
	"github.com/thnx4playing/msgdrop/internal/database"
	"github.com/thnx4playing/msgdrop/internal/media"
	"github.com/thnx4playing/msgdrop/internal/notify"
	"github.com/thnx4playing/msgdrop/internal/server"
	"github.com/thnx4playing/msgdrop/internal/stats"
	"github.com/thnx4playing/msgdrop/internal/testutil"
	"github.com/thnx4playing/msgdrop/internal/types"
)

func newTestAppWithHub(t *testing.T, db database.MsgDropRepository, blobs media.Store, su *stats.MockStatsUpdater) *MsgDropApp {
	su.On("RegisterMetric", mock.Anything).Return(nil).Times(5)

	cs, err := server.NewMsgDropServer(testutil.TestLogger(t), db, blobs, notify.Nop{}, su)
	if err != nil {
		t.Fatalf("failed to create test MsgDropServer: %v", err)
	}

	return NewMsgDropApp(http.NewServeMux(), testutil.TestLogger(t), cs, db, blobs, &config.Config{
		SigningKey: testSigningKey,
	})
}

func chatRequest(method, target, dropId string, body []byte) *http.Request {
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	req.SetPathValue("dropId", dropId)
	return req
}

func Test_getMessages(t *testing.T) {
	t.Run("returns stored messages as wire shapes", func(t *testing.T) {
		db := &database.MockMsgDropRepository{}
		defer db.AssertExpectations(t)

		app := newTestAppWithHub(t, db, &media.MockStore{}, &stats.MockStatsUpdater{})

		now := server.Now()
		db.On("GetMessages", "drop-1", 0).Return([]database.Message{
			{Id: "msg-1", DropId: "drop-1", Seq: 1, Author: "M", Kind: "text", Text: "hi", CreatedAt: now},
			{Id: "msg-2", DropId: "drop-1", Seq: 2, Author: "E", Kind: "gif", GifUrl: "https://example.com/a.gif", CreatedAt: now},
		}, nil).Once()

		rr := httptest.NewRecorder()
		app.getMessages(rr, chatRequest(http.MethodGet, "/api/chat/drop-1", "drop-1", nil))

		assert.Equal(t, http.StatusOK, rr.Code)

		var messages []types.Message
		assert.NoError(t, json.NewDecoder(rr.Body).Decode(&messages))
		assert.Len(t, messages, 2)
		assert.Equal(t, "msg-1", messages[0].Id)
		assert.NotNil(t, messages[1].Gif)
		assert.Equal(t, "https://example.com/a.gif", messages[1].Gif.Url)
	})

	t.Run("limit parameter is forwarded", func(t *testing.T) {
		db := &database.MockMsgDropRepository{}
		defer db.AssertExpectations(t)

		app := newTestAppWithHub(t, db, &media.MockStore{}, &stats.MockStatsUpdater{})

		db.On("GetMessages", "drop-1", 5).Return([]database.Message{}, nil).Once()

		rr := httptest.NewRecorder()
		app.getMessages(rr, chatRequest(http.MethodGet, "/api/chat/drop-1?limit=5", "drop-1", nil))

		assert.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("bad limit is a bad request", func(t *testing.T) {
		db := &database.MockMsgDropRepository{}
		app := newTestAppWithHub(t, db, &media.MockStore{}, &stats.MockStatsUpdater{})

		rr := httptest.NewRecorder()
		app.getMessages(rr, chatRequest(http.MethodGet, "/api/chat/drop-1?limit=lots", "drop-1", nil))

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		db.AssertNotCalled(t, "GetMessages", mock.Anything, mock.Anything)
	})

	t.Run("db error is an internal error", func(t *testing.T) {
		db := &database.MockMsgDropRepository{}
		defer db.AssertExpectations(t)

		app := newTestAppWithHub(t, db, &media.MockStore{}, &stats.MockStatsUpdater{})

		db.On("GetMessages", "drop-1", 0).Return([]database.Message{}, errors.New("db error")).Once()

		rr := httptest.NewRecorder()
		app.getMessages(rr, chatRequest(http.MethodGet, "/api/chat/drop-1", "drop-1", nil))

		assert.Equal(t, http.StatusInternalServerError, rr.Code)
	})
}

func Test_postMessage(t *testing.T) {
	t.Run("persists and returns the created message", func(t *testing.T) {
		db := &database.MockMsgDropRepository{}
		defer db.AssertExpectations(t)
		su := &stats.MockStatsUpdater{}
		su.On("Incr", mock.Anything).Maybe()

		app := newTestAppWithHub(t, db, &media.MockStore{}, su)

		db.On("CreateMessage", mock.MatchedBy(func(p database.CreateMessageParams) bool {
			return p.DropId == "drop-1" && p.Author == "M" && p.Text == "hello" && p.Kind == "text"
		})).Return(database.Message{Id: "msg-1", DropId: "drop-1", Seq: 4, Author: "M", Text: "hello", Kind: "text"}, nil).Once()
		db.On("TrimMessages", "drop-1", mock.Anything).Return(nil, nil).Once()
		db.On("GetStreak", "drop-1").Return(database.StreakRecord{}, nil).Once()
		db.On("UpsertStreak", mock.Anything).Return(nil).Once()

		body, _ := json.Marshal(PostMessageRequest{Text: "hello", User: "M"})
		rr := httptest.NewRecorder()
		app.postMessage(rr, chatRequest(http.MethodPost, "/api/chat/drop-1", "drop-1", body))

		assert.Equal(t, http.StatusCreated, rr.Code)

		var msg types.Message
		assert.NoError(t, json.NewDecoder(rr.Body).Decode(&msg))
		assert.Equal(t, "msg-1", msg.Id)
		assert.Equal(t, 4, msg.Seq)
	})

	t.Run("gif body derives the gif kind", func(t *testing.T) {
		db := &database.MockMsgDropRepository{}
		defer db.AssertExpectations(t)
		su := &stats.MockStatsUpdater{}
		su.On("Incr", mock.Anything).Maybe()

		app := newTestAppWithHub(t, db, &media.MockStore{}, su)

		db.On("CreateMessage", mock.MatchedBy(func(p database.CreateMessageParams) bool {
			return p.Kind == "gif" && p.GifUrl == "https://example.com/a.gif"
		})).Return(database.Message{Id: "msg-1", Kind: "gif", GifUrl: "https://example.com/a.gif"}, nil).Once()
		db.On("TrimMessages", "drop-1", mock.Anything).Return(nil, nil).Once()
		db.On("GetStreak", "drop-1").Return(database.StreakRecord{}, nil).Once()
		db.On("UpsertStreak", mock.Anything).Return(nil).Once()

		body, _ := json.Marshal(PostMessageRequest{User: "M", Gif: &types.GifMeta{Url: "https://example.com/a.gif"}})
		rr := httptest.NewRecorder()
		app.postMessage(rr, chatRequest(http.MethodPost, "/api/chat/drop-1", "drop-1", body))

		assert.Equal(t, http.StatusCreated, rr.Code)
	})

	t.Run("missing author or content is a bad request", func(t *testing.T) {
		db := &database.MockMsgDropRepository{}
		app := newTestAppWithHub(t, db, &media.MockStore{}, &stats.MockStatsUpdater{})

		for _, reqBody := range []PostMessageRequest{
			{Text: "hello"},
			{User: "M"},
		} {
			body, _ := json.Marshal(reqBody)
			rr := httptest.NewRecorder()
			app.postMessage(rr, chatRequest(http.MethodPost, "/api/chat/drop-1", "drop-1", body))
			assert.Equal(t, http.StatusBadRequest, rr.Code)
		}

		db.AssertNotCalled(t, "CreateMessage", mock.Anything)
	})

	t.Run("persist failure is an internal error", func(t *testing.T) {
		db := &database.MockMsgDropRepository{}
		defer db.AssertExpectations(t)

		app := newTestAppWithHub(t, db, &media.MockStore{}, &stats.MockStatsUpdater{})

		db.On("CreateMessage", mock.Anything).Return(database.Message{}, errors.New("db error")).Once()

		body, _ := json.Marshal(PostMessageRequest{Text: "hello", User: "M"})
		rr := httptest.NewRecorder()
		app.postMessage(rr, chatRequest(http.MethodPost, "/api/chat/drop-1", "drop-1", body))

		assert.Equal(t, http.StatusInternalServerError, rr.Code)
	})
}

func Test_editMessage(t *testing.T) {
	t.Run("updates and returns the message", func(t *testing.T) {
		db := &database.MockMsgDropRepository{}
		defer db.AssertExpectations(t)

		app := newTestAppWithHub(t, db, &media.MockStore{}, &stats.MockStatsUpdater{})

		db.On("UpdateMessageText", "drop-1", 3, "edited", mock.Anything).Return(database.Message{
			Id: "msg-1", DropId: "drop-1", Seq: 3, Text: "edited",
		}, nil).Once()

		body, _ := json.Marshal(EditMessageRequest{Text: "edited"})
		req := chatRequest(http.MethodPatch, "/api/chat/drop-1/3", "drop-1", body)
		req.SetPathValue("seq", "3")
		rr := httptest.NewRecorder()
		app.editMessage(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)

		var msg types.Message
		assert.NoError(t, json.NewDecoder(rr.Body).Decode(&msg))
		assert.Equal(t, "edited", msg.Text)
	})

	t.Run("unknown seq is not found", func(t *testing.T) {
		db := &database.MockMsgDropRepository{}
		defer db.AssertExpectations(t)

		app := newTestAppWithHub(t, db, &media.MockStore{}, &stats.MockStatsUpdater{})

		db.On("UpdateMessageText", "drop-1", 99, "edited", mock.Anything).Return(database.Message{}, sql.ErrNoRows).Once()

		body, _ := json.Marshal(EditMessageRequest{Text: "edited"})
		req := chatRequest(http.MethodPatch, "/api/chat/drop-1/99", "drop-1", body)
		req.SetPathValue("seq", "99")
		rr := httptest.NewRecorder()
		app.editMessage(rr, req)

		assert.Equal(t, http.StatusNotFound, rr.Code)
	})

	t.Run("non-numeric seq is a bad request", func(t *testing.T) {
		app := newTestAppWithHub(t, &database.MockMsgDropRepository{}, &media.MockStore{}, &stats.MockStatsUpdater{})

		req := chatRequest(http.MethodPatch, "/api/chat/drop-1/x", "drop-1", nil)
		req.SetPathValue("seq", "x")
		rr := httptest.NewRecorder()
		app.editMessage(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("empty text is a bad request", func(t *testing.T) {
		app := newTestAppWithHub(t, &database.MockMsgDropRepository{}, &media.MockStore{}, &stats.MockStatsUpdater{})

		body, _ := json.Marshal(EditMessageRequest{})
		req := chatRequest(http.MethodPatch, "/api/chat/drop-1/3", "drop-1", body)
		req.SetPathValue("seq", "3")
		rr := httptest.NewRecorder()
		app.editMessage(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func Test_deleteMessage(t *testing.T) {
	t.Run("deletes the row and its blob", func(t *testing.T) {
		db := &database.MockMsgDropRepository{}
		defer db.AssertExpectations(t)
		blobs := &media.MockStore{}
		defer blobs.AssertExpectations(t)

		app := newTestAppWithHub(t, db, blobs, &stats.MockStatsUpdater{})

		db.On("DeleteMessage", "drop-1", 3).Return("pic.png", nil).Once()
		blobs.On("Delete", "pic.png").Return(nil).Once()

		req := chatRequest(http.MethodDelete, "/api/chat/drop-1/3", "drop-1", nil)
		req.SetPathValue("seq", "3")
		rr := httptest.NewRecorder()
		app.deleteMessage(rr, req)

		assert.Equal(t, http.StatusNoContent, rr.Code)
	})

	t.Run("text message deletes no blob", func(t *testing.T) {
		db := &database.MockMsgDropRepository{}
		defer db.AssertExpectations(t)
		blobs := &media.MockStore{}
		defer blobs.AssertExpectations(t)

		app := newTestAppWithHub(t, db, blobs, &stats.MockStatsUpdater{})

		db.On("DeleteMessage", "drop-1", 3).Return("", nil).Once()

		req := chatRequest(http.MethodDelete, "/api/chat/drop-1/3", "drop-1", nil)
		req.SetPathValue("seq", "3")
		rr := httptest.NewRecorder()
		app.deleteMessage(rr, req)

		assert.Equal(t, http.StatusNoContent, rr.Code)
		blobs.AssertNotCalled(t, "Delete", mock.Anything)
	})

	t.Run("unknown seq is not found", func(t *testing.T) {
		db := &database.MockMsgDropRepository{}
		defer db.AssertExpectations(t)

		app := newTestAppWithHub(t, db, &media.MockStore{}, &stats.MockStatsUpdater{})

		db.On("DeleteMessage", "drop-1", 99).Return("", sql.ErrNoRows).Once()

		req := chatRequest(http.MethodDelete, "/api/chat/drop-1/99", "drop-1", nil)
		req.SetPathValue("seq", "99")
		rr := httptest.NewRecorder()
		app.deleteMessage(rr, req)

		assert.Equal(t, http.StatusNotFound, rr.Code)
	})
}

func Test_react(t *testing.T) {
	t.Run("toggles and returns the reaction counts", func(t *testing.T) {
		db := &database.MockMsgDropRepository{}
		defer db.AssertExpectations(t)

		app := newTestAppWithHub(t, db, &media.MockStore{}, &stats.MockStatsUpdater{})

		db.On("ToggleReaction", "drop-1", 3, "❤️", true).Return(map[string]int{"❤️": 2}, nil).Once()

		body, _ := json.Marshal(ReactionRequest{Seq: 3, Emoji: "❤️", Op: "add"})
		rr := httptest.NewRecorder()
		app.react(rr, chatRequest(http.MethodPost, "/api/chat/drop-1/reactions", "drop-1", body))

		assert.Equal(t, http.StatusOK, rr.Code)

		var resp map[string]any
		assert.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
		assert.Equal(t, float64(2), resp["reactions"].(map[string]any)["❤️"])
	})

	t.Run("unknown op is a bad request", func(t *testing.T) {
		db := &database.MockMsgDropRepository{}
		app := newTestAppWithHub(t, db, &media.MockStore{}, &stats.MockStatsUpdater{})

		body, _ := json.Marshal(ReactionRequest{Seq: 3, Emoji: "❤️", Op: "increment"})
		rr := httptest.NewRecorder()
		app.react(rr, chatRequest(http.MethodPost, "/api/chat/drop-1/reactions", "drop-1", body))

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		db.AssertNotCalled(t, "ToggleReaction", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("unknown message is not found", func(t *testing.T) {
		db := &database.MockMsgDropRepository{}
		defer db.AssertExpectations(t)

		app := newTestAppWithHub(t, db, &media.MockStore{}, &stats.MockStatsUpdater{})

		db.On("ToggleReaction", "drop-1", 99, "❤️", false).Return(nil, sql.ErrNoRows).Once()

		body, _ := json.Marshal(ReactionRequest{Seq: 99, Emoji: "❤️", Op: "remove"})
		rr := httptest.NewRecorder()
		app.react(rr, chatRequest(http.MethodPost, "/api/chat/drop-1/reactions", "drop-1", body))

		assert.Equal(t, http.StatusNotFound, rr.Code)
	})
}

func Test_markRead(t *testing.T) {
	t.Run("stamps messages and reports the count", func(t *testing.T) {
		db := &database.MockMsgDropRepository{}
		defer db.AssertExpectations(t)

		app := newTestAppWithHub(t, db, &media.MockStore{}, &stats.MockStatsUpdater{})

		db.On("MarkRead", "drop-1", 7, "E", mock.Anything).Return(3, nil).Once()

		body, _ := json.Marshal(MarkReadRequest{UpToSeq: 7, Reader: "E"})
		rr := httptest.NewRecorder()
		app.markRead(rr, chatRequest(http.MethodPost, "/api/chat/drop-1/read", "drop-1", body))

		assert.Equal(t, http.StatusOK, rr.Code)

		var resp map[string]int
		assert.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
		assert.Equal(t, 3, resp["updated"])
	})

	t.Run("missing reader is a bad request", func(t *testing.T) {
		app := newTestAppWithHub(t, &database.MockMsgDropRepository{}, &media.MockStore{}, &stats.MockStatsUpdater{})

		body, _ := json.Marshal(MarkReadRequest{UpToSeq: 7})
		rr := httptest.NewRecorder()
		app.markRead(rr, chatRequest(http.MethodPost, "/api/chat/drop-1/read", "drop-1", body))

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func Test_getStreak(t *testing.T) {
	t.Run("stale streak reads as broken", func(t *testing.T) {
		db := &database.MockMsgDropRepository{}
		defer db.AssertExpectations(t)

		app := newTestAppWithHub(t, db, &media.MockStore{}, &stats.MockStatsUpdater{})

		db.On("GetStreak", "drop-1").Return(database.StreakRecord{
			DropId:   "drop-1",
			Streak:   5,
			LastBoth: "2000-01-01",
		}, nil).Once()

		rr := httptest.NewRecorder()
		app.getStreak(rr, chatRequest(http.MethodGet, "/api/streak/drop-1", "drop-1", nil))

		assert.Equal(t, http.StatusOK, rr.Code)

		var streak types.Streak
		assert.NoError(t, json.NewDecoder(rr.Body).Decode(&streak))
		assert.Zero(t, streak.Streak)
		assert.True(t, streak.BrokeStreak)
	})

	t.Run("no streak row reads as zero", func(t *testing.T) {
		db := &database.MockMsgDropRepository{}
		defer db.AssertExpectations(t)

		app := newTestAppWithHub(t, db, &media.MockStore{}, &stats.MockStatsUpdater{})

		db.On("GetStreak", "drop-1").Return(database.StreakRecord{DropId: "drop-1"}, nil).Once()

		rr := httptest.NewRecorder()
		app.getStreak(rr, chatRequest(http.MethodGet, "/api/streak/drop-1", "drop-1", nil))

		assert.Equal(t, http.StatusOK, rr.Code)

		var streak types.Streak
		assert.NoError(t, json.NewDecoder(rr.Body).Decode(&streak))
		assert.Zero(t, streak.Streak)
		assert.False(t, streak.BrokeStreak)
	})
}

func Test_getGeoGames(t *testing.T) {
	db := &database.MockMsgDropRepository{}
	defer db.AssertExpectations(t)

	app := newTestAppWithHub(t, db, &media.MockStore{}, &stats.MockStatsUpdater{})

	now := server.Now()
	ended := now.Add(10 * time.Minute)
	db.On("ListGeoGames", "drop-1", 0).Return([]database.GeoGame{
		{Id: "geo-1", DropId: "drop-1", StartedBy: "M", StartedAt: now, EndedAt: &ended, ScoreM: 21000, ScoreE: 18000, Winner: "M", Status: "ended"},
	}, nil).Once()

	rr := httptest.NewRecorder()
	app.getGeoGames(rr, chatRequest(http.MethodGet, "/api/geo/drop-1/games", "drop-1", nil))

	assert.Equal(t, http.StatusOK, rr.Code)

	var games []types.GeoGameSummary
	assert.NoError(t, json.NewDecoder(rr.Body).Decode(&games))
	assert.Len(t, games, 1)
	assert.Equal(t, "geo-1", games[0].Id)
	assert.Equal(t, "M", games[0].Winner)
	assert.NotNil(t, games[0].EndedAt)
}

func Test_serveWs(t *testing.T) {
	t.Run("successful upgrade and registration", func(t *testing.T) {
		db := &database.MockMsgDropRepository{}
		su := &stats.MockStatsUpdater{}
		su.On("Incr", mock.Anything).Maybe()
		su.On("Decr", mock.Anything).Maybe()

		app := newTestAppWithHub(t, db, &media.MockStore{}, su)
		go app.cs.Run()

		token, err := app.createSessionToken(time.Hour)
		assert.NoError(t, err)

		srv := httptest.NewServer(http.HandlerFunc(app.serveWs))
		defer srv.Close()

		wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?drop_id=drop-1&user=M&token=" + token

		conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
		defer func() {
			if conn != nil {
				conn.Close()
			}
		}()
		assert.NoError(t, err)
		assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
	})

	t.Run("bad token refuses the upgrade", func(t *testing.T) {
		app := newTestAppWithHub(t, &database.MockMsgDropRepository{}, &media.MockStore{}, &stats.MockStatsUpdater{})

		req := httptest.NewRequest(http.MethodGet, "/ws?drop_id=drop-1&user=M&token=garbage", nil)
		rr := httptest.NewRecorder()
		app.serveWs(rr, req)

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("missing drop or user is a bad request", func(t *testing.T) {
		app := newTestAppWithHub(t, &database.MockMsgDropRepository{}, &media.MockStore{}, &stats.MockStatsUpdater{})

		token, err := app.createSessionToken(time.Hour)
		assert.NoError(t, err)

		req := httptest.NewRequest(http.MethodGet, "/ws?drop_id=drop-1&token="+token, nil)
		rr := httptest.NewRecorder()
		app.serveWs(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}
