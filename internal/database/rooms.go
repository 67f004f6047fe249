package database

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"github.com/npezzotti/go-chatstore/internal/kv"
	"github.com/sethvargo/go-retry"
)

// errRoomIdTaken means the create commit failed but no room holds the
// name, so the claimed id itself collided.
var errRoomIdTaken = errors.New("room id already in use")

// FindOrCreateRoom returns the room called name, creating it if needed.
// Concurrent callers with the same name all get the same room back; a lost
// create race falls back to reading the winner's room.
func (r *KvChatRepository) FindOrCreateRoom(ctx context.Context, name string) (Room, error) {
	if name == "" {
		return Room{}, fmt.Errorf("%w: room name cannot be empty", ErrInvalidInput)
	}

	var room Room
	err := retry.Do(ctx, r.newBackoff(), func(ctx context.Context) error {
		rm, err := r.findOrCreateRoomOnce(ctx, name)
		if errors.Is(err, errRoomIdTaken) {
			r.log.Warn().Str("room", name).Msg("claimed room id already in use, retrying with a new id")
			return retry.RetryableError(ErrConcurrencyConflict)
		}
		if err != nil {
			return err
		}
		room = rm
		return nil
	})
	if err != nil {
		return Room{}, err
	}

	return room, nil
}

func (r *KvChatRepository) findOrCreateRoomOnce(ctx context.Context, name string) (Room, error) {
	id, err := r.NextRoomId(ctx)
	if err != nil {
		return Room{}, err
	}

	candidate := Room{RoomId: id, Name: name, CreatedAt: r.now()}
	err = r.createRoom(ctx, candidate)
	if err == nil {
		r.stats.Incr(metricRoomsCreated)
		r.log.Info().Int("room_id", id).Str("room", name).Msg("created room")
		return candidate, nil
	}
	if !errors.Is(err, kv.ErrCheckFailed) {
		return Room{}, fmt.Errorf("create room %q: %w", name, err)
	}

	r.stats.Incr(metricRoomCreateConflicts)
	existing, err := r.GetRoomByName(ctx, name)
	if errors.Is(err, ErrRoomNotFound) {
		return Room{}, errRoomIdTaken
	}
	if err != nil {
		return Room{}, err
	}

	r.log.Debug().Int("room_id", existing.RoomId).Int("burned_id", id).Str("room", name).Msg("room created concurrently, using existing")
	return existing, nil
}

// createRoom writes room under its id and its name, both of which must
// be free.
func (r *KvChatRepository) createRoom(ctx context.Context, room Room) error {
	value := mustMarshal(room)
	op := kv.NewAtomic().
		Check(roomByIdKey(room.RoomId), 0).
		Check(roomByNameKey(room.Name), 0).
		Set(roomByIdKey(room.RoomId), value).
		Set(roomByNameKey(room.Name), value)

	_, err := r.store.Commit(ctx, op)
	return err
}

func (r *KvChatRepository) EnsureRoom(ctx context.Context, name string) (int, error) {
	room, err := r.FindOrCreateRoom(ctx, name)
	if err != nil {
		return 0, err
	}
	return room.RoomId, nil
}

// GetRoomById returns the activity view of the room, whose LastMessageAt
// is current.
func (r *KvChatRepository) GetRoomById(ctx context.Context, roomId int) (Room, error) {
	room, _, err := r.getRoom(ctx, roomByIdKey(roomId))
	return room, err
}

// GetRoomByName returns the copy stored under the name. Its LastMessageAt
// is not maintained; use GetRoomById for activity.
func (r *KvChatRepository) GetRoomByName(ctx context.Context, name string) (Room, error) {
	room, _, err := r.getRoom(ctx, roomByNameKey(name))
	return room, err
}

func (r *KvChatRepository) GetRoomName(ctx context.Context, roomId int) (string, error) {
	room, err := r.GetRoomById(ctx, roomId)
	if err != nil {
		return "", err
	}
	return room.Name, nil
}

func (r *KvChatRepository) getRoom(ctx context.Context, key kv.Key) (Room, kv.Entry, error) {
	var room Room
	e, found, err := r.getJSON(ctx, key, &room)
	if err != nil {
		return Room{}, kv.Entry{}, fmt.Errorf("get room %s: %w", key, err)
	}
	if !found {
		return Room{}, kv.Entry{}, ErrRoomNotFound
	}
	return room, e, nil
}

// Rooms lazily yields every room in ascending id order.
func (r *KvChatRepository) Rooms(ctx context.Context) iter.Seq2[Room, error] {
	return scan[Room](ctx, r.store, kv.Key{nsRoomById})
}

func (r *KvChatRepository) ListRooms(ctx context.Context) ([]Room, error) {
	rooms, err := collect(r.Rooms(ctx))
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	return rooms, nil
}
