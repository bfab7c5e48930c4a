package server

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/thnx4playing/msgdrop/internal/database"
	"github.com/thnx4playing/msgdrop/internal/media"
	"github.com/thnx4playing/msgdrop/internal/notify"
	"github.com/thnx4playing/msgdrop/internal/stats"
	"github.com/thnx4playing/msgdrop/internal/types"
)

// retentionLimit is how many durable messages a drop keeps; older rows and
// their blobs are trimmed after every write.
const retentionLimit = 30

const (
	metricActiveConnections = "ActiveConnections"
	metricActiveRooms       = "ActiveRooms"
	metricMessagesPersisted = "MessagesPersisted"
	metricGamesStarted      = "GamesStarted"
	metricGeoGamesStarted   = "GeoGamesStarted"
)

type broadcastReq struct {
	dropId string
	ev     *ServerEvent
}

// MsgDropServer is the hub: it owns the room registry and routes
// registrations, leaves and out-of-band broadcasts to room goroutines.
type MsgDropServer struct {
	log            *log.Logger
	db             database.MsgDropRepository
	blobs          media.Store
	notifier       notify.Notifier
	stats          stats.StatsProvider
	calls          *CallBuffer
	games          *GameRegistry
	geo            *GeoRegistry
	clients        map[*Client]struct{}
	clientsLock    sync.Mutex
	RegisterChan   chan *Client
	deRegisterChan chan *Client
	unloadRoomChan chan string
	broadcastChan  chan *broadcastReq
	rooms          map[string]*Room
	stop           chan struct{}
	done           chan struct{}
}

func NewMsgDropServer(logger *log.Logger, db database.MsgDropRepository, blobs media.Store, notifier notify.Notifier, su stats.StatsProvider) (*MsgDropServer, error) {
	games, err := NewGameRegistry(logger)
	if err != nil {
		return nil, fmt.Errorf("new game registry: %w", err)
	}

	for _, metric := range []string{
		metricActiveConnections,
		metricActiveRooms,
		metricMessagesPersisted,
		metricGamesStarted,
		metricGeoGamesStarted,
	} {
		su.RegisterMetric(metric)
	}

	return &MsgDropServer{
		log:            logger,
		db:             db,
		blobs:          blobs,
		notifier:       notifier,
		stats:          su,
		calls:          NewCallBuffer(),
		games:          games,
		geo:            NewGeoRegistry(db, logger),
		clients:        make(map[*Client]struct{}),
		RegisterChan:   make(chan *Client),
		deRegisterChan: make(chan *Client),
		unloadRoomChan: make(chan string),
		broadcastChan:  make(chan *broadcastReq, 256),
		rooms:          make(map[string]*Room),
		stop:           make(chan struct{}),
		done:           make(chan struct{}),
	}, nil
}

func (cs *MsgDropServer) Run() {
	for {
		select {
		case c := <-cs.RegisterChan:
			cs.log.Printf("adding connection %q to drop %q", c.label, c.dropId)
			cs.addClient(c)
			cs.stats.Incr(metricActiveConnections)

			room := cs.ensureRoom(c.dropId)
			select {
			case room.joinChan <- c:
			default:
				cs.log.Printf("join channel full on drop %q", room.dropId)
			}
		case c := <-cs.deRegisterChan:
			cs.log.Printf("removing connection %q from drop %q", c.label, c.dropId)
			cs.removeClient(c)
			cs.stats.Decr(metricActiveConnections)

			if room, ok := cs.rooms[c.dropId]; ok {
				select {
				case room.leaveChan <- c:
				default:
					cs.log.Printf("leave channel full on drop %q", room.dropId)
				}
			}
		case id := <-cs.unloadRoomChan:
			if room, ok := cs.rooms[id]; ok {
				cs.log.Printf("unloading room %q", id)
				delete(cs.rooms, id)
				close(room.exit)
				<-room.done
				cs.stats.Decr(metricActiveRooms)
			}
		case req := <-cs.broadcastChan:
			if room, ok := cs.rooms[req.dropId]; ok {
				select {
				case room.broadcastChan <- req.ev:
				default:
					cs.log.Printf("broadcast channel full on drop %q", room.dropId)
				}
			}
		case <-cs.stop:
			cs.log.Println("shutting down rooms")
			for _, room := range cs.rooms {
				close(room.exit)
				<-room.done
			}

			close(cs.done)
			return
		}
	}
}

func (cs *MsgDropServer) ensureRoom(dropId string) *Room {
	if room, ok := cs.rooms[dropId]; ok {
		return room
	}

	room := &Room{
		dropId:        dropId,
		cs:            cs,
		joinChan:      make(chan *Client, 256),
		leaveChan:     make(chan *Client, 256),
		eventChan:     make(chan *ClientEvent, 256),
		broadcastChan: make(chan *ServerEvent, 256),
		clients:       make(map[*Client]struct{}),
		labelMap:      make(map[string]map[*Client]struct{}),
		log:           cs.log,
		exit:          make(chan struct{}),
		done:          make(chan struct{}),
	}

	cs.rooms[dropId] = room
	cs.stats.Incr(metricActiveRooms)
	go room.start()

	return room
}

func (cs *MsgDropServer) RegisterClient(c *Client) {
	cs.RegisterChan <- c
}

// Broadcast routes an event to a drop's room from outside the hub loop,
// used by the REST handlers. Dropped silently when nobody is connected.
func (cs *MsgDropServer) Broadcast(dropId string, ev *ServerEvent) {
	select {
	case cs.broadcastChan <- &broadcastReq{dropId: dropId, ev: ev}:
	default:
		cs.log.Printf("hub broadcast channel full, dropping event for %q", dropId)
	}
}

func (cs *MsgDropServer) addClient(c *Client) {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()
	cs.clients[c] = struct{}{}
}

func (cs *MsgDropServer) removeClient(c *Client) {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()
	delete(cs.clients, c)
}

type PersistedMessage struct {
	Message types.Message
	// Streak is set when the write changed or broke the streak
	Streak *StreakPayload
}

// PersistMessage is the single durable-write path shared by the socket and
// REST surfaces: sequence the row, trim the retention window, advance the
// streak, and poke the notifier.
func (cs *MsgDropServer) PersistMessage(params database.CreateMessageParams) (PersistedMessage, error) {
	msg, err := cs.db.CreateMessage(params)
	if err != nil {
		return PersistedMessage{}, fmt.Errorf("create message: %w", err)
	}
	cs.stats.Incr(metricMessagesPersisted)

	refs, err := cs.db.TrimMessages(params.DropId, retentionLimit)
	if err != nil {
		cs.log.Println("TrimMessages:", err)
	}
	for _, ref := range refs {
		if err := cs.blobs.Delete(ref); err != nil {
			cs.log.Printf("delete blob %q: %v", ref, err)
		}
	}

	res := PersistedMessage{Message: MessageDTO(msg)}

	rec, err := cs.db.GetStreak(params.DropId)
	if err != nil {
		cs.log.Println("GetStreak:", err)
	} else {
		rec, streakRes := applyStreak(rec, params.Author, params.CreatedAt)
		rec.DropId = params.DropId
		rec.UpdatedAt = params.CreatedAt
		if err := cs.db.UpsertStreak(rec); err != nil {
			cs.log.Println("UpsertStreak:", err)
		} else if streakRes.Changed || streakRes.Broke {
			res.Streak = &StreakPayload{Streak: rec.Streak, BrokeStreak: streakRes.Broke}
		}
	}

	cs.notifier.MessagePosted(params.DropId, params.Author, params.Kind)

	return res, nil
}

// MessageDTO converts a stored row to its wire shape.
func MessageDTO(msg database.Message) types.Message {
	dto := types.Message{
		Id:          msg.Id,
		DropId:      msg.DropId,
		Seq:         msg.Seq,
		Author:      msg.Author,
		Kind:        msg.Kind,
		Text:        msg.Text,
		MediaRef:    msg.MediaRef,
		ReplyToSeq:  msg.ReplyToSeq,
		ClientId:    msg.ClientId,
		Reactions:   msg.Reactions,
		CreatedAt:   msg.CreatedAt,
		UpdatedAt:   msg.UpdatedAt,
		DeliveredAt: msg.DeliveredAt,
		ReadAt:      msg.ReadAt,
	}

	if msg.GifUrl != "" {
		dto.Gif = &types.GifMeta{
			Url:     msg.GifUrl,
			Preview: msg.GifPreview,
			Width:   msg.GifWidth,
			Height:  msg.GifHeight,
			Title:   msg.GifTitle,
		}
	}

	return dto
}

func (cs *MsgDropServer) Shutdown(ctx context.Context) error {
	cs.log.Println("received shutdown signal")
	cs.clientsLock.Lock()
	for c := range cs.clients {
		c.stopClient()
	}
	cs.clientsLock.Unlock()

	close(cs.stop)

	select {
	case <-cs.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
