package database

import "time"

const (
	LobbyRoomId   = 0
	LobbyRoomName = "Lobby"
)

type User struct {
	UserId    int       `json:"userId"`
	UserName  string    `json:"userName"`
	AvatarUrl string    `json:"avatarUrl"`
	CreatedAt time.Time `json:"createdAt"`
}

// Room is stored twice: under its id, where LastMessageAt is kept current,
// and under its name, where it is written once and only good for identity.
type Room struct {
	RoomId        int        `json:"roomId"`
	Name          string     `json:"name"`
	CreatedAt     time.Time  `json:"createdAt"`
	LastMessageAt *time.Time `json:"lastMessageAt,omitempty"`
}

type Message struct {
	MessageId       string
	RoomId          int
	Text            string
	SenderUserId    int
	SenderName      string
	SenderAvatarUrl string
	CreatedAt       time.Time
}

type MessageSender struct {
	Name      string
	AvatarUrl string
}

// MessageView is what readers of a room's history get back. The sender id
// is stored but not exposed.
type MessageView struct {
	Message   string
	From      MessageSender
	CreatedAt time.Time
}

type RegisterUserParams struct {
	UserId      int
	UserName    string
	AvatarUrl   string
	AccessToken string
}

type CreateMessageParams struct {
	RoomId int
	Text   string
	User   User
}

type storedSender struct {
	UserId    int    `json:"userId"`
	UserName  string `json:"username"`
	AvatarUrl string `json:"avatarUrl"`
}

type storedMessage struct {
	Message   string       `json:"message"`
	From      storedSender `json:"from"`
	CreatedAt time.Time    `json:"createdAt"`
}

func (m storedMessage) view() MessageView {
	return MessageView{
		Message:   m.Message,
		From:      MessageSender{Name: m.From.UserName, AvatarUrl: m.From.AvatarUrl},
		CreatedAt: m.CreatedAt,
	}
}
