package database

import (
	"context"
	"fmt"
	"iter"

	"github.com/npezzotti/go-chatstore/internal/kv"
)

// CreateMessage appends a message to the room and moves the room's
// LastMessageAt in the same atomic operation. Concurrent messages to one
// room race only on LastMessageAt, which is last-write-wins.
func (r *KvChatRepository) CreateMessage(ctx context.Context, params CreateMessageParams) (Message, error) {
	room, _, err := r.getRoom(ctx, roomByIdKey(params.RoomId))
	if err != nil {
		return Message{}, err
	}

	createdAt := r.now()
	messageId := r.newId(createdAt)
	stored := storedMessage{
		Message: params.Text,
		From: storedSender{
			UserId:    params.User.UserId,
			UserName:  params.User.UserName,
			AvatarUrl: params.User.AvatarUrl,
		},
		CreatedAt: createdAt,
	}
	room.LastMessageAt = &createdAt

	op := kv.NewAtomic().
		Set(messageKey(params.RoomId, messageId), mustMarshal(stored)).
		Set(roomByIdKey(params.RoomId), mustMarshal(room))
	if _, err := r.store.Commit(ctx, op); err != nil {
		return Message{}, fmt.Errorf("create message in room %d: %w", params.RoomId, err)
	}

	r.stats.Incr(metricMessagesCreated)
	r.log.Debug().Int("room_id", params.RoomId).Str("message_id", messageId).Msg("created message")

	return Message{
		MessageId:       messageId,
		RoomId:          params.RoomId,
		Text:            params.Text,
		SenderUserId:    params.User.UserId,
		SenderName:      params.User.UserName,
		SenderAvatarUrl: params.User.AvatarUrl,
		CreatedAt:       createdAt,
	}, nil
}

// Messages lazily yields the room's history in insertion order.
func (r *KvChatRepository) Messages(ctx context.Context, roomId int) iter.Seq2[MessageView, error] {
	return func(yield func(MessageView, error) bool) {
		for m, err := range scan[storedMessage](ctx, r.store, messagePrefix(roomId)) {
			if err != nil {
				yield(MessageView{}, err)
				return
			}
			if !yield(m.view(), nil) {
				return
			}
		}
	}
}

func (r *KvChatRepository) ListMessages(ctx context.Context, roomId int) ([]MessageView, error) {
	messages, err := collect(r.Messages(ctx, roomId))
	if err != nil {
		return nil, fmt.Errorf("list messages in room %d: %w", roomId, err)
	}
	return messages, nil
}
