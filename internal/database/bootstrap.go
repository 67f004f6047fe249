package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/npezzotti/go-chatstore/internal/kv"
)

// Bootstrap seeds the Lobby room and the room id counter. Each is its own
// atomic operation and is skipped if it already exists, so running it on
// every start is safe. A crash between the two leaves the counter unset,
// which NextRoomId reports as ErrNotInitialized.
func (r *KvChatRepository) Bootstrap(ctx context.Context) error {
	lobby := Room{RoomId: LobbyRoomId, Name: LobbyRoomName, CreatedAt: r.now()}
	switch err := r.createRoom(ctx, lobby); {
	case err == nil:
		r.log.Info().Int("room_id", lobby.RoomId).Str("room", lobby.Name).Msg("created default room")
	case errors.Is(err, kv.ErrCheckFailed):
		r.log.Warn().Str("room", lobby.Name).Msg("default room already exists")
	default:
		return fmt.Errorf("bootstrap default room: %w", err)
	}

	op := kv.NewAtomic().
		Check(roomIdCounterKey, 0).
		Set(roomIdCounterKey, kv.U64(1))
	switch _, err := r.store.Commit(ctx, op); {
	case err == nil:
		r.log.Info().Msg("initialized room id counter")
	case errors.Is(err, kv.ErrCheckFailed):
		r.log.Warn().Msg("room id counter already initialized")
	default:
		return fmt.Errorf("bootstrap room id counter: %w", err)
	}

	return nil
}
