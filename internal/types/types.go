package types

import (
	"time"
)

type User struct {
	UserId    int       `json:"userId"`
	UserName  string    `json:"userName"`
	AvatarUrl string    `json:"avatarUrl"`
	CreatedAt time.Time `json:"createdAt,omitempty"`
}

type Room struct {
	RoomId        int        `json:"roomId"`
	Name          string     `json:"name"`
	CreatedAt     time.Time  `json:"createdAt,omitempty"`
	LastMessageAt *time.Time `json:"lastMessageAt,omitempty"`
}

type RoomId struct {
	RoomId int `json:"roomId"`
}

type Sender struct {
	Name      string `json:"name"`
	AvatarUrl string `json:"avatarUrl"`
}

type Message struct {
	MessageId string    `json:"messageId,omitempty"`
	RoomId    int       `json:"roomId,omitempty"`
	Message   string    `json:"message"`
	From      Sender    `json:"from"`
	CreatedAt time.Time `json:"createdAt"`
}
