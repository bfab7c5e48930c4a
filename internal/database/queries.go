package database

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const messageColumns = "id, drop_id, seq, author, kind, text, media_ref, " +
	"gif_url, gif_preview, gif_width, gif_height, gif_title, " +
	"reply_to_seq, client_id, reactions, created_at, updated_at, delivered_at, read_at"

func scanMessage(row interface{ Scan(...any) error }) (Message, error) {
	var (
		msg         Message
		reactions   []byte
		deliveredAt sql.NullTime
		readAt      sql.NullTime
	)

	err := row.Scan(
		&msg.Id,
		&msg.DropId,
		&msg.Seq,
		&msg.Author,
		&msg.Kind,
		&msg.Text,
		&msg.MediaRef,
		&msg.GifUrl,
		&msg.GifPreview,
		&msg.GifWidth,
		&msg.GifHeight,
		&msg.GifTitle,
		&msg.ReplyToSeq,
		&msg.ClientId,
		&reactions,
		&msg.CreatedAt,
		&msg.UpdatedAt,
		&deliveredAt,
		&readAt,
	)
	if err != nil {
		return Message{}, err
	}

	if err := json.Unmarshal(reactions, &msg.Reactions); err != nil {
		return Message{}, fmt.Errorf("decode reactions: %w", err)
	}
	if deliveredAt.Valid {
		t := deliveredAt.Time
		msg.DeliveredAt = &t
	}
	if readAt.Valid {
		t := readAt.Time
		msg.ReadAt = &t
	}

	return msg, nil
}

// CreateMessage allocates the drop's next sequence number and inserts the
// row in a single transaction, so concurrent writers never reuse a seq.
func (db *PgMsgDropRepository) CreateMessage(params CreateMessageParams) (Message, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return Message{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	_, err = tx.Exec(
		"INSERT INTO drops (id, seq, created_at, updated_at) VALUES ($1, 0, $2, $2) "+
			"ON CONFLICT (id) DO NOTHING",
		params.DropId,
		params.CreatedAt,
	)
	if err != nil {
		return Message{}, err
	}

	var seq int
	err = tx.QueryRow(
		"UPDATE drops SET seq = seq + 1, updated_at = $2 WHERE id = $1 RETURNING seq",
		params.DropId,
		params.CreatedAt,
	).Scan(&seq)
	if err != nil {
		return Message{}, err
	}

	// delivered is stamped at insert; only read_at waits for the reader
	deliveredAt := params.CreatedAt

	msg := Message{
		Id:          uuid.NewString(),
		DropId:      params.DropId,
		Seq:         seq,
		Author:      params.Author,
		Kind:        params.Kind,
		Text:        params.Text,
		MediaRef:    params.MediaRef,
		GifUrl:      params.GifUrl,
		GifPreview:  params.GifPreview,
		GifWidth:    params.GifWidth,
		GifHeight:   params.GifHeight,
		GifTitle:    params.GifTitle,
		ReplyToSeq:  params.ReplyToSeq,
		ClientId:    params.ClientId,
		Reactions:   map[string]int{},
		CreatedAt:   params.CreatedAt,
		UpdatedAt:   params.CreatedAt,
		DeliveredAt: &deliveredAt,
	}

	_, err = tx.Exec(
		"INSERT INTO messages (id, drop_id, seq, author, kind, text, media_ref, "+
			"gif_url, gif_preview, gif_width, gif_height, gif_title, "+
			"reply_to_seq, client_id, reactions, created_at, updated_at, delivered_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, '{}', $15, $15, $15)",
		msg.Id,
		msg.DropId,
		msg.Seq,
		msg.Author,
		msg.Kind,
		msg.Text,
		msg.MediaRef,
		msg.GifUrl,
		msg.GifPreview,
		msg.GifWidth,
		msg.GifHeight,
		msg.GifTitle,
		msg.ReplyToSeq,
		msg.ClientId,
		msg.CreatedAt,
	)
	if err != nil {
		return Message{}, err
	}

	if err = tx.Commit(); err != nil {
		return Message{}, err
	}

	return msg, nil
}

func (db *PgMsgDropRepository) GetMessages(dropId string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 30
	}

	rows, err := db.conn.Query(
		"SELECT "+messageColumns+" FROM messages WHERE drop_id = $1 ORDER BY seq DESC LIMIT $2",
		dropId,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages = make([]Message, 0, limit)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}

	return messages, rows.Err()
}

func (db *PgMsgDropRepository) GetMessage(dropId string, seq int) (Message, error) {
	row := db.conn.QueryRow(
		"SELECT "+messageColumns+" FROM messages WHERE drop_id = $1 AND seq = $2 LIMIT 1",
		dropId,
		seq,
	)

	return scanMessage(row)
}

func (db *PgMsgDropRepository) UpdateMessageText(dropId string, seq int, text string, updatedAt time.Time) (Message, error) {
	row := db.conn.QueryRow(
		"UPDATE messages SET text = $3, updated_at = $4 "+
			"WHERE drop_id = $1 AND seq = $2 RETURNING "+messageColumns,
		dropId,
		seq,
		text,
		updatedAt,
	)

	return scanMessage(row)
}

// DeleteMessage removes the row and returns its media reference, if any,
// so the caller can unlink the blob.
func (db *PgMsgDropRepository) DeleteMessage(dropId string, seq int) (string, error) {
	var mediaRef string
	err := db.conn.QueryRow(
		"DELETE FROM messages WHERE drop_id = $1 AND seq = $2 RETURNING media_ref",
		dropId,
		seq,
	).Scan(&mediaRef)

	return mediaRef, err
}

// TrimMessages deletes all but the newest keep rows for a drop and returns
// the media references of the deleted rows. Surviving rows keep their seq.
func (db *PgMsgDropRepository) TrimMessages(dropId string, keep int) ([]string, error) {
	rows, err := db.conn.Query(
		"DELETE FROM messages WHERE drop_id = $1 AND seq NOT IN "+
			"(SELECT seq FROM messages WHERE drop_id = $1 ORDER BY seq DESC LIMIT $2) "+
			"RETURNING media_ref",
		dropId,
		keep,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var refs []string
	for rows.Next() {
		var ref string
		if err := rows.Scan(&ref); err != nil {
			return nil, err
		}
		if ref != "" {
			refs = append(refs, ref)
		}
	}

	return refs, rows.Err()
}

// ToggleReaction adjusts one emoji's count. Increments are unconditional,
// decrements clamp at zero and drop the key when it reaches zero.
func (db *PgMsgDropRepository) ToggleReaction(dropId string, seq int, emoji string, add bool) (map[string]int, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var raw []byte
	err = tx.QueryRow(
		"SELECT reactions FROM messages WHERE drop_id = $1 AND seq = $2 FOR UPDATE",
		dropId,
		seq,
	).Scan(&raw)
	if err != nil {
		return nil, err
	}

	reactions := make(map[string]int)
	if err = json.Unmarshal(raw, &reactions); err != nil {
		return nil, fmt.Errorf("decode reactions: %w", err)
	}

	if add {
		reactions[emoji]++
	} else if reactions[emoji] > 0 {
		reactions[emoji]--
		if reactions[emoji] == 0 {
			delete(reactions, emoji)
		}
	}

	updated, err := json.Marshal(reactions)
	if err != nil {
		return nil, err
	}

	_, err = tx.Exec(
		"UPDATE messages SET reactions = $3 WHERE drop_id = $1 AND seq = $2",
		dropId,
		seq,
		updated,
	)
	if err != nil {
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		return nil, err
	}

	return reactions, nil
}

// MarkRead stamps read_at on the other author's unread rows up to and
// including upToSeq. Returns the number of rows stamped.
func (db *PgMsgDropRepository) MarkRead(dropId string, upToSeq int, reader string, readAt time.Time) (int, error) {
	res, err := db.conn.Exec(
		"UPDATE messages SET read_at = $4 "+
			"WHERE drop_id = $1 AND seq <= $2 AND author != $3 AND read_at IS NULL",
		dropId,
		upToSeq,
		reader,
		readAt,
	)
	if err != nil {
		return 0, err
	}

	n, err := res.RowsAffected()
	return int(n), err
}

func (db *PgMsgDropRepository) GetStreak(dropId string) (StreakRecord, error) {
	row := db.conn.QueryRow(
		"SELECT drop_id, streak, last_posted_m, last_posted_e, last_both, updated_at "+
			"FROM streaks WHERE drop_id = $1 LIMIT 1",
		dropId,
	)

	var rec StreakRecord
	err := row.Scan(
		&rec.DropId,
		&rec.Streak,
		&rec.LastPostedM,
		&rec.LastPostedE,
		&rec.LastBoth,
		&rec.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return StreakRecord{DropId: dropId}, nil
	}

	return rec, err
}

func (db *PgMsgDropRepository) UpsertStreak(rec StreakRecord) error {
	_, err := db.conn.Exec(
		"INSERT INTO streaks (drop_id, streak, last_posted_m, last_posted_e, last_both, updated_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6) "+
			"ON CONFLICT (drop_id) DO UPDATE SET streak = $2, last_posted_m = $3, "+
			"last_posted_e = $4, last_both = $5, updated_at = $6",
		rec.DropId,
		rec.Streak,
		rec.LastPostedM,
		rec.LastPostedE,
		rec.LastBoth,
		rec.UpdatedAt,
	)

	return err
}

func (db *PgMsgDropRepository) CreateGeoGame(game GeoGame, rounds []GeoRound) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	_, err = tx.Exec(
		"INSERT INTO geo_games (id, drop_id, started_by, started_at, status) "+
			"VALUES ($1, $2, $3, $4, $5)",
		game.Id,
		game.DropId,
		game.StartedBy,
		game.StartedAt,
		game.Status,
	)
	if err != nil {
		return err
	}

	for _, round := range rounds {
		_, err = tx.Exec(
			"INSERT INTO geo_rounds (game_id, round, name, country, lat, lng) "+
				"VALUES ($1, $2, $3, $4, $5, $6)",
			round.GameId,
			round.Round,
			round.Name,
			round.Country,
			round.Lat,
			round.Lng,
		)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (db *PgMsgDropRepository) ResolveGeoRound(params ResolveGeoRoundParams) error {
	var (
		guessMLat, guessMLng, distanceM *float64
		guessELat, guessELng, distanceE *float64
		scoreM, scoreE                  *int
	)
	if r := params.ResultM; r != nil {
		guessMLat, guessMLng = &r.GuessLat, &r.GuessLng
		distanceM, scoreM = &r.DistanceKm, &r.Score
	}
	if r := params.ResultE; r != nil {
		guessELat, guessELng = &r.GuessLat, &r.GuessLng
		distanceE, scoreE = &r.DistanceKm, &r.Score
	}

	_, err := db.conn.Exec(
		"UPDATE geo_rounds SET guess_m_lat = $3, guess_m_lng = $4, guess_e_lat = $5, guess_e_lng = $6, "+
			"distance_m_km = $7, distance_e_km = $8, round_score_m = $9, round_score_e = $10, resolved_at = $11 "+
			"WHERE game_id = $1 AND round = $2",
		params.GameId,
		params.Round,
		guessMLat,
		guessMLng,
		guessELat,
		guessELng,
		distanceM,
		distanceE,
		scoreM,
		scoreE,
		params.ResolvedAt,
	)

	return err
}

func (db *PgMsgDropRepository) FinalizeGeoGame(params FinalizeGeoGameParams) error {
	_, err := db.conn.Exec(
		"UPDATE geo_games SET score_m = $2, score_e = $3, winner = $4, status = $5, ended_at = $6 "+
			"WHERE id = $1",
		params.GameId,
		params.ScoreM,
		params.ScoreE,
		params.Winner,
		params.Status,
		params.EndedAt,
	)

	return err
}

func (db *PgMsgDropRepository) ListGeoGames(dropId string, limit int) ([]GeoGame, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := db.conn.Query(
		"SELECT id, drop_id, started_by, started_at, ended_at, score_m, score_e, winner, status "+
			"FROM geo_games WHERE drop_id = $1 ORDER BY started_at DESC LIMIT $2",
		dropId,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var games []GeoGame
	for rows.Next() {
		var (
			game    GeoGame
			endedAt sql.NullTime
		)
		err := rows.Scan(
			&game.Id,
			&game.DropId,
			&game.StartedBy,
			&game.StartedAt,
			&endedAt,
			&game.ScoreM,
			&game.ScoreE,
			&game.Winner,
			&game.Status,
		)
		if err != nil {
			return nil, err
		}
		if endedAt.Valid {
			t := endedAt.Time
			game.EndedAt = &t
		}

		games = append(games, game)
	}

	return games, rows.Err()
}
