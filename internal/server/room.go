package server

import (
	"encoding/json"
	"log"
	"strings"
	"time"

	"github.com/thnx4playing/msgdrop/internal/database"
)

const idleRoomTimeout = time.Second * 5

// Room is the live connection set for one drop. A single goroutine owns all
// room state; everything reaches it through channels.
type Room struct {
	dropId        string
	cs            *MsgDropServer
	joinChan      chan *Client
	leaveChan     chan *Client
	eventChan     chan *ClientEvent
	broadcastChan chan *ServerEvent
	clients       map[*Client]struct{}
	labelMap      map[string]map[*Client]struct{}
	log           *log.Logger
	// killTimer unloads the room once it has been empty for a while
	killTimer *time.Timer
	// exit is used to signal the room to exit
	exit chan struct{}
	done chan struct{}
}

func (r *Room) start() {
	r.log.Printf("starting room %q", r.dropId)
	r.killTimer = time.NewTimer(idleRoomTimeout)
	r.killTimer.Stop()

	for {
		select {
		case c := <-r.joinChan:
			r.handleJoin(c)
		case c := <-r.leaveChan:
			r.handleLeave(c)
		case ev := <-r.eventChan:
			r.handleEvent(ev)
		case ev := <-r.broadcastChan:
			r.broadcast(ev)
		case <-r.killTimer.C:
			r.log.Printf("room %q timed out", r.dropId)
			r.cs.unloadRoomChan <- r.dropId
		case <-r.exit:
			r.log.Printf("room %q is exiting", r.dropId)
			for c := range r.clients {
				c.setRoom(nil)
			}
			close(r.done)
			return
		}
	}
}

func (r *Room) handleJoin(c *Client) {
	r.killTimer.Stop()

	r.clients[c] = struct{}{}
	if r.labelMap[c.label] == nil {
		r.labelMap[c.label] = make(map[*Client]struct{})
	}
	r.labelMap[c.label][c] = struct{}{}
	c.setRoom(r)

	// tell the joiner who else is here, one event per distinct label
	for label := range r.labelMap {
		if label == c.label {
			continue
		}
		c.queueMessage(r.presenceEvent(label, PresenceActive))
	}

	// replay an outstanding call invitation to a late-joining callee
	if call := r.cs.calls.Get(r.dropId, Now()); call != nil && call.From != c.label {
		c.queueMessage(&ServerEvent{
			Type: EventVideoSignal,
			Payload: VideoSignalPayload{
				Op:     "incoming",
				From:   call.From,
				PeerId: call.PeerId,
				Data:   call.Data,
			},
			Timestamp: Now(),
		})
	}

	// tell everyone else the joiner is here
	ev := r.presenceEvent(c.label, PresenceActive)
	ev.SkipClient = c
	r.broadcast(ev)
}

func (r *Room) handleLeave(c *Client) {
	if _, ok := r.clients[c]; !ok {
		return
	}

	delete(r.clients, c)
	c.setRoom(nil)

	if labelClients, ok := r.labelMap[c.label]; ok {
		delete(labelClients, c)
		if len(labelClients) == 0 {
			delete(r.labelMap, c.label)
			// last connection for this label, the user is now offline
			r.broadcast(r.presenceEvent(c.label, PresenceOffline))
		}
	}

	if len(r.clients) == 0 {
		r.log.Printf("no clients in %q, starting kill timer", r.dropId)
		r.killTimer.Reset(idleRoomTimeout)
	}
}

func (r *Room) presenceEvent(label, state string) *ServerEvent {
	return &ServerEvent{
		Type: EventPresence,
		Payload: PresencePayload{
			User:   label,
			State:  state,
			Online: len(r.clients),
			Ts:     Now(),
		},
		Timestamp: Now(),
	}
}

// broadcast fans an event out to every client in the room, except
// ev.SkipClient. A client whose send queue is full is treated as gone and
// removed; the snapshot keeps the iteration safe while handleLeave mutates
// the set.
func (r *Room) broadcast(ev *ServerEvent) {
	snapshot := make([]*Client, 0, len(r.clients))
	for c := range r.clients {
		snapshot = append(snapshot, c)
	}

	var failed []*Client
	for _, c := range snapshot {
		if c == ev.SkipClient {
			continue
		}
		if !c.queueMessage(ev) {
			failed = append(failed, c)
		}
	}

	for _, c := range failed {
		r.log.Printf("dropping unresponsive client %q in drop %q", c.label, r.dropId)
		r.handleLeave(c)
		c.stopClient()
	}
}

func (r *Room) handleEvent(ev *ClientEvent) {
	switch ev.Type {
	case EventTyping:
		r.broadcast(&ServerEvent{
			Type:       EventTyping,
			Payload:    TypingPayload{User: ev.client.label},
			Timestamp:  Now(),
			SkipClient: ev.client,
		})
	case EventPresence:
		// a client presence ping is relayed to the other connections
		ping := r.presenceEvent(ev.client.label, PresenceActive)
		ping.SkipClient = ev.client
		r.broadcast(ping)
	case EventPresenceRequest:
		// answer the requester with the current roster, then fan the
		// request out so the other side re-announces itself
		for label := range r.labelMap {
			if label == ev.client.label {
				continue
			}
			ev.client.queueMessage(r.presenceEvent(label, PresenceActive))
		}
		r.broadcast(&ServerEvent{
			Type:       EventPresenceRequest,
			Payload:    PresenceRequestPayload{User: ev.client.label},
			Timestamp:  Now(),
			SkipClient: ev.client,
		})
	case EventRead:
		r.handleRead(ev)
	case EventVideoSignal:
		r.handleVideoSignal(ev)
	case EventChat:
		r.handleChat(ev)
	case EventGif:
		r.handleGif(ev)
	case EventGame:
		r.handleGame(ev)
	}
}

func (r *Room) handleRead(ev *ClientEvent) {
	var p ReadPayload
	if err := json.Unmarshal(ev.Payload, &p); err != nil || p.UpToSeq <= 0 {
		ev.client.queueMessage(ErrInvalidEvent())
		return
	}

	readAt := Now()
	if _, err := r.cs.db.MarkRead(r.dropId, p.UpToSeq, ev.client.label, readAt); err != nil {
		r.log.Println("MarkRead:", err)
		ev.client.queueMessage(ErrInternalError())
		return
	}

	r.broadcast(&ServerEvent{
		Type: EventReadReceipt,
		Payload: ReadReceiptPayload{
			UpToSeq: p.UpToSeq,
			Reader:  ev.client.label,
			ReadAt:  readAt,
		},
		Timestamp: Now(),
	})
}

func (r *Room) handleVideoSignal(ev *ClientEvent) {
	var p VideoSignalPayload
	if err := json.Unmarshal(ev.Payload, &p); err != nil || p.Op == "" {
		ev.client.queueMessage(ErrInvalidEvent())
		return
	}

	// the sender's label is authoritative, not the payload's
	p.From = ev.client.label

	switch p.Op {
	case "incoming":
		r.cs.calls.Store(r.dropId, &PendingCall{
			From:     p.From,
			PeerId:   p.PeerId,
			Data:     p.Data,
			StoredAt: Now(),
		})
	case "answered", "declined", "ended":
		r.cs.calls.Clear(r.dropId)
	}

	r.broadcast(&ServerEvent{
		Type:       EventVideoSignal,
		Payload:    p,
		Timestamp:  Now(),
		SkipClient: ev.client,
	})
}

func (r *Room) handleChat(ev *ClientEvent) {
	var p ChatPayload
	if err := json.Unmarshal(ev.Payload, &p); err != nil {
		ev.client.queueMessage(ErrInvalidEvent())
		return
	}
	if strings.TrimSpace(p.Text) == "" && p.MediaRef == "" {
		ev.client.queueMessage(ErrInvalidEvent())
		return
	}

	kind := p.Kind
	if kind == "" {
		kind = "text"
		if p.MediaRef != "" {
			kind = "image"
		}
	}

	r.persistAndBroadcast(ev.client, database.CreateMessageParams{
		DropId:     r.dropId,
		Author:     ev.client.label,
		Kind:       kind,
		Text:       p.Text,
		MediaRef:   p.MediaRef,
		ReplyToSeq: p.ReplyToSeq,
		ClientId:   p.ClientId,
		CreatedAt:  Now(),
	})
}

func (r *Room) handleGif(ev *ClientEvent) {
	var p GifPayload
	if err := json.Unmarshal(ev.Payload, &p); err != nil || p.GifUrl == "" {
		ev.client.queueMessage(ErrInvalidEvent())
		return
	}

	r.persistAndBroadcast(ev.client, database.CreateMessageParams{
		DropId:     r.dropId,
		Author:     ev.client.label,
		Kind:       "gif",
		GifUrl:     p.GifUrl,
		GifPreview: p.GifPreview,
		GifWidth:   p.GifWidth,
		GifHeight:  p.GifHeight,
		GifTitle:   p.Title,
		ClientId:   p.ClientId,
		CreatedAt:  Now(),
	})
}

func (r *Room) persistAndBroadcast(c *Client, params database.CreateMessageParams) {
	res, err := r.cs.PersistMessage(params)
	if err != nil {
		r.log.Println("PersistMessage:", err)
		c.queueMessage(ErrInternalError())
		return
	}

	r.broadcast(NewChatEvent(res.Message))

	if res.Streak != nil {
		r.broadcast(&ServerEvent{
			Type:      EventStreakUpdate,
			Payload:   *res.Streak,
			Timestamp: Now(),
		})
	}
}

func (r *Room) handleGame(ev *ClientEvent) {
	var p GamePayload
	if err := json.Unmarshal(ev.Payload, &p); err != nil || p.Op == "" {
		ev.client.queueMessage(ErrInvalidEvent())
		return
	}

	switch p.Op {
	case "start":
		game, err := r.cs.games.Start(r.dropId, p.GameType, p.GameData, ev.client.label)
		if err != nil {
			r.log.Println("game start:", err)
			ev.client.queueMessage(ErrInternalError())
			return
		}
		r.cs.stats.Incr(metricGamesStarted)
		r.broadcastGame(GamePayload{
			Op:       "started",
			GameId:   game.Id,
			GameType: game.GameType,
			GameData: game.Data,
		}, nil)
	case "join":
		game, known := r.cs.games.Join(p.GameId, ev.client.label)
		if !known {
			ev.client.queueMessage(ErrUnknownGame())
			return
		}
		r.broadcastGamePayload(map[string]any{
			"op":      "joined",
			"gameId":  game.Id,
			"player":  ev.client.label,
			"players": game.Players,
		}, nil)
	case "move":
		if p.MoveData == nil {
			ev.client.queueMessage(ErrInvalidEvent())
			return
		}
		game, known, applied := r.cs.games.Move(p.GameId, p.MoveData)
		if !known {
			ev.client.queueMessage(ErrUnknownGame())
			return
		}
		if !applied {
			// incomplete move, logged by the engine, nothing broadcast
			return
		}
		r.broadcastGame(GamePayload{
			Op:       "move",
			GameId:   game.Id,
			GameType: game.GameType,
			GameData: game.Data,
		}, nil)
	case "end_game":
		game, known := r.cs.games.End(p.GameId)
		if !known {
			ev.client.queueMessage(ErrUnknownGame())
			return
		}
		r.broadcastGame(GamePayload{
			Op:     "game_ended",
			GameId: game.Id,
			Result: p.Result,
		}, nil)
	case "request_game_list":
		ev.client.queueMessage(&ServerEvent{
			Type: EventGame,
			Payload: map[string]any{
				"op":    "game_list",
				"games": r.cs.games.ListActive(r.dropId),
			},
			Timestamp: Now(),
		})
	case "player_opened", "player_closed", "geo_player_opened", "geo_player_closed":
		r.broadcastGamePayload(map[string]any{
			"op":     p.Op,
			"gameId": p.GameId,
			"player": ev.client.label,
		}, ev.client)
	case "geo_start":
		r.handleGeoStart(ev.client)
	case "geo_guess":
		r.handleGeoGuess(ev.client, p)
	case "geo_next":
		r.handleGeoNext(ev.client, p)
	case "geo_forfeit":
		r.handleGeoForfeit(ev.client, p)
	default:
		ev.client.queueMessage(ErrInvalidEvent())
	}
}

func (r *Room) handleGeoStart(c *Client) {
	game, err := r.cs.geo.Start(r.dropId, c.label, Now())
	if err != nil {
		r.log.Println("geo start:", err)
		c.queueMessage(ErrInternalError())
		return
	}

	r.cs.stats.Incr(metricGeoGamesStarted)
	r.broadcastGamePayload(map[string]any{
		"op":        "geo_started",
		"gameId":    game.Id,
		"round":     game.Round,
		"target":    game.Target(),
		"startedBy": game.StartedBy,
	}, nil)
}

func (r *Room) handleGeoGuess(c *Client, p GamePayload) {
	if p.Lat == nil || p.Lng == nil {
		c.queueMessage(ErrInvalidEvent())
		return
	}

	out := r.cs.geo.Guess(p.GameId, c.label, *p.Lat, *p.Lng, Now())
	if !out.Known {
		c.queueMessage(ErrUnknownGame())
		return
	}
	if out.Err != nil {
		r.log.Println("geo guess:", out.Err)
		c.queueMessage(ErrInternalError())
		return
	}
	if !out.Recorded {
		// duplicate or stale guess, silently ignored
		return
	}

	r.broadcastGamePayload(map[string]any{
		"op":     "geo_guess_received",
		"gameId": p.GameId,
		"round":  out.Round,
		"player": c.label,
	}, nil)

	if !out.Resolved {
		return
	}

	if out.Final {
		r.broadcastGamePayload(map[string]any{
			"op":     "geo_game_ended",
			"gameId": p.GameId,
			"status": GeoStatusEnded,
			"winner": out.Winner,
			"totals": out.Totals,
			"rounds": out.Game.RoundResults(),
		}, nil)
		return
	}

	r.broadcastGamePayload(map[string]any{
		"op":       "geo_round_result",
		"gameId":   p.GameId,
		"round":    out.Round,
		"location": out.Location,
		"results":  out.Results,
		"totals":   out.Totals,
	}, nil)
}

func (r *Room) handleGeoNext(c *Client, p GamePayload) {
	game, known, advanced, err := r.cs.geo.Next(p.GameId, Now())
	if !known {
		c.queueMessage(ErrUnknownGame())
		return
	}
	if err != nil {
		r.log.Println("geo next:", err)
		c.queueMessage(ErrInternalError())
		return
	}
	if !advanced {
		if game.Status == GeoStatusActive {
			c.queueMessage(ErrRoundNotFinished())
		}
		// final round already finalized, nothing more to announce
		return
	}

	r.broadcastGamePayload(map[string]any{
		"op":     "geo_round",
		"gameId": p.GameId,
		"round":  game.Round,
		"target": game.Target(),
	}, nil)
}

func (r *Room) handleGeoForfeit(c *Client, p GamePayload) {
	game, known, err := r.cs.geo.Forfeit(p.GameId, Now())
	if !known {
		c.queueMessage(ErrUnknownGame())
		return
	}
	if err != nil {
		r.log.Println("geo forfeit:", err)
		c.queueMessage(ErrInternalError())
		return
	}

	r.broadcastGamePayload(map[string]any{
		"op":     "geo_game_ended",
		"gameId": p.GameId,
		"status": GeoStatusForfeit,
		"totals": game.Totals(),
	}, nil)
}

func (r *Room) broadcastGame(payload GamePayload, skip *Client) {
	r.broadcast(&ServerEvent{
		Type:       EventGame,
		Payload:    payload,
		Timestamp:  Now(),
		SkipClient: skip,
	})
}

func (r *Room) broadcastGamePayload(payload map[string]any, skip *Client) {
	r.broadcast(&ServerEvent{
		Type:       EventGame,
		Payload:    payload,
		Timestamp:  Now(),
		SkipClient: skip,
	})
}
