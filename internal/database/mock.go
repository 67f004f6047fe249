package database

import (
	"context"
	"iter"

	"github.com/stretchr/testify/mock"
)

type MockChatRepository struct {
	mock.Mock
}

func (m *MockChatRepository) Ping(ctx context.Context) error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockChatRepository) RegisterUser(ctx context.Context, params RegisterUserParams) (User, error) {
	args := m.Called(params)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockChatRepository) GetUserByAccessToken(ctx context.Context, token string) (User, error) {
	args := m.Called(token)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockChatRepository) NextRoomId(ctx context.Context) (int, error) {
	args := m.Called()
	return args.Int(0), args.Error(1)
}
func (m *MockChatRepository) FindOrCreateRoom(ctx context.Context, name string) (Room, error) {
	args := m.Called(name)
	return args.Get(0).(Room), args.Error(1)
}
func (m *MockChatRepository) EnsureRoom(ctx context.Context, name string) (int, error) {
	args := m.Called(name)
	return args.Int(0), args.Error(1)
}
func (m *MockChatRepository) GetRoomById(ctx context.Context, roomId int) (Room, error) {
	args := m.Called(roomId)
	return args.Get(0).(Room), args.Error(1)
}
func (m *MockChatRepository) GetRoomByName(ctx context.Context, name string) (Room, error) {
	args := m.Called(name)
	return args.Get(0).(Room), args.Error(1)
}
func (m *MockChatRepository) GetRoomName(ctx context.Context, roomId int) (string, error) {
	args := m.Called(roomId)
	return args.String(0), args.Error(1)
}
func (m *MockChatRepository) Rooms(ctx context.Context) iter.Seq2[Room, error] {
	rooms, err := m.ListRooms(ctx)
	return func(yield func(Room, error) bool) {
		if err != nil {
			yield(Room{}, err)
			return
		}
		for _, room := range rooms {
			if !yield(room, nil) {
				return
			}
		}
	}
}
func (m *MockChatRepository) ListRooms(ctx context.Context) ([]Room, error) {
	args := m.Called()
	if rooms, ok := args.Get(0).([]Room); ok {
		return rooms, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockChatRepository) CreateMessage(ctx context.Context, params CreateMessageParams) (Message, error) {
	args := m.Called(params)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockChatRepository) Messages(ctx context.Context, roomId int) iter.Seq2[MessageView, error] {
	messages, err := m.ListMessages(ctx, roomId)
	return func(yield func(MessageView, error) bool) {
		if err != nil {
			yield(MessageView{}, err)
			return
		}
		for _, msg := range messages {
			if !yield(msg, nil) {
				return
			}
		}
	}
}
func (m *MockChatRepository) ListMessages(ctx context.Context, roomId int) ([]MessageView, error) {
	args := m.Called(roomId)
	if messages, ok := args.Get(0).([]MessageView); ok {
		return messages, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockChatRepository) Bootstrap(ctx context.Context) error {
	args := m.Called()
	return args.Error(0)
}
