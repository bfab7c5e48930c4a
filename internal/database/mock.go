package database

import (
	"time"

	"github.com/stretchr/testify/mock"
)

type MockMsgDropRepository struct {
	mock.Mock
}

func (m *MockMsgDropRepository) Ping() error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockMsgDropRepository) CreateMessage(params CreateMessageParams) (Message, error) {
	args := m.Called(params)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockMsgDropRepository) GetMessages(dropId string, limit int) ([]Message, error) {
	args := m.Called(dropId, limit)
	return args.Get(0).([]Message), args.Error(1)
}
func (m *MockMsgDropRepository) GetMessage(dropId string, seq int) (Message, error) {
	args := m.Called(dropId, seq)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockMsgDropRepository) UpdateMessageText(dropId string, seq int, text string, updatedAt time.Time) (Message, error) {
	args := m.Called(dropId, seq, text, updatedAt)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockMsgDropRepository) DeleteMessage(dropId string, seq int) (string, error) {
	args := m.Called(dropId, seq)
	return args.String(0), args.Error(1)
}
func (m *MockMsgDropRepository) TrimMessages(dropId string, keep int) ([]string, error) {
	args := m.Called(dropId, keep)
	if refs, ok := args.Get(0).([]string); ok {
		return refs, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockMsgDropRepository) ToggleReaction(dropId string, seq int, emoji string, add bool) (map[string]int, error) {
	args := m.Called(dropId, seq, emoji, add)
	if reactions, ok := args.Get(0).(map[string]int); ok {
		return reactions, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockMsgDropRepository) MarkRead(dropId string, upToSeq int, reader string, readAt time.Time) (int, error) {
	args := m.Called(dropId, upToSeq, reader, readAt)
	return args.Int(0), args.Error(1)
}
func (m *MockMsgDropRepository) GetStreak(dropId string) (StreakRecord, error) {
	args := m.Called(dropId)
	return args.Get(0).(StreakRecord), args.Error(1)
}
func (m *MockMsgDropRepository) UpsertStreak(rec StreakRecord) error {
	args := m.Called(rec)
	return args.Error(0)
}
func (m *MockMsgDropRepository) CreateGeoGame(game GeoGame, rounds []GeoRound) error {
	args := m.Called(game, rounds)
	return args.Error(0)
}
func (m *MockMsgDropRepository) ResolveGeoRound(params ResolveGeoRoundParams) error {
	args := m.Called(params)
	return args.Error(0)
}
func (m *MockMsgDropRepository) FinalizeGeoGame(params FinalizeGeoGameParams) error {
	args := m.Called(params)
	return args.Error(0)
}
func (m *MockMsgDropRepository) ListGeoGames(dropId string, limit int) ([]GeoGame, error) {
	args := m.Called(dropId, limit)
	if games, ok := args.Get(0).([]GeoGame); ok {
		return games, args.Error(1)
	}
	return nil, args.Error(1)
}
