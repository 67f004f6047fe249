package database

import (
	"github.com/npezzotti/go-chatstore/internal/kv"
	"golang.org/x/crypto/blake2b"
)

const (
	nsUser       = "user"
	nsUserToken  = "user_tk"
	nsRoomById   = "room_act"
	nsRoomByName = "room_name"
	nsMessage    = "msg"
)

var roomIdCounterKey = kv.Key{"next_room_id"}

func userKey(userId int) kv.Key {
	return kv.Key{nsUser, userId}
}

// Access tokens are never stored in clear, only their BLAKE2b-256 digest.
func userTokenKey(token string) kv.Key {
	digest := blake2b.Sum256([]byte(token))
	return kv.Key{nsUserToken, digest[:]}
}

func roomByIdKey(roomId int) kv.Key {
	return kv.Key{nsRoomById, roomId}
}

func roomByNameKey(name string) kv.Key {
	return kv.Key{nsRoomByName, name}
}

func messagePrefix(roomId int) kv.Key {
	return kv.Key{nsMessage, roomId}
}

func messageKey(roomId int, messageId string) kv.Key {
	return kv.Key{nsMessage, roomId, messageId}
}
