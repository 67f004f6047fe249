package database

import (
	"context"
	"iter"
)

type ChatRepository interface {
	Ping(ctx context.Context) error
	RegisterUser(ctx context.Context, params RegisterUserParams) (User, error)
	GetUserByAccessToken(ctx context.Context, token string) (User, error)
	NextRoomId(ctx context.Context) (int, error)
	FindOrCreateRoom(ctx context.Context, name string) (Room, error)
	EnsureRoom(ctx context.Context, name string) (int, error)
	GetRoomById(ctx context.Context, roomId int) (Room, error)
	GetRoomByName(ctx context.Context, name string) (Room, error)
	GetRoomName(ctx context.Context, roomId int) (string, error)
	Rooms(ctx context.Context) iter.Seq2[Room, error]
	ListRooms(ctx context.Context) ([]Room, error)
	CreateMessage(ctx context.Context, params CreateMessageParams) (Message, error)
	Messages(ctx context.Context, roomId int) iter.Seq2[MessageView, error]
	ListMessages(ctx context.Context, roomId int) ([]MessageView, error)
	Bootstrap(ctx context.Context) error
}
