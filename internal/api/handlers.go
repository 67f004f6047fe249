package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/npezzotti/go-chatstore/internal/database"
	"github.com/npezzotti/go-chatstore/internal/types"
)

type RegisterUserRequest struct {
	UserId      int    `json:"userId"`
	UserName    string `json:"userName"`
	AvatarUrl   string `json:"avatarUrl"`
	AccessToken string `json:"accessToken"`
}

type EnsureRoomRequest struct {
	Name string `json:"name"`
}

type CreateMessageRequest struct {
	Message string `json:"message"`
}

func (s *ChatApp) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("json encode")
	}
}

func (s *ChatApp) writeDbError(w http.ResponseWriter, err error) {
	errResp := errorFromDb(err)
	if errResp.StatusCode >= http.StatusInternalServerError {
		s.log.Error().Err(err).Int("status", errResp.StatusCode).Msg("request failed")
	}
	s.writeJson(w, errResp.StatusCode, errResp)
}

func toUser(u database.User) types.User {
	return types.User{
		UserId:    u.UserId,
		UserName:  u.UserName,
		AvatarUrl: u.AvatarUrl,
		CreatedAt: u.CreatedAt,
	}
}

func toRoom(r database.Room) types.Room {
	return types.Room{
		RoomId:        r.RoomId,
		Name:          r.Name,
		CreatedAt:     r.CreatedAt,
		LastMessageAt: r.LastMessageAt,
	}
}

func roomIdParam(r *http.Request) (int, bool) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil || id < 0 {
		return 0, false
	}
	return id, true
}

func (s *ChatApp) healthCheck(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Ping(r.Context()); err != nil {
		s.log.Error().Err(err).Msg("health check")
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *ChatApp) registerUser(w http.ResponseWriter, r *http.Request) {
	var req RegisterUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	user, err := s.db.RegisterUser(r.Context(), database.RegisterUserParams{
		UserId:      req.UserId,
		UserName:    req.UserName,
		AvatarUrl:   req.AvatarUrl,
		AccessToken: req.AccessToken,
	})
	if err != nil {
		s.writeDbError(w, err)
		return
	}

	s.writeJson(w, http.StatusCreated, toUser(user))
}

func (s *ChatApp) currentUser(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, toUser(user))
}

// getRooms lists every room, or looks one up when a name is given.
func (s *ChatApp) getRooms(w http.ResponseWriter, r *http.Request) {
	if name := r.URL.Query().Get("name"); name != "" {
		room, err := s.db.GetRoomByName(r.Context(), name)
		if err != nil {
			s.writeDbError(w, err)
			return
		}
		s.writeJson(w, http.StatusOK, toRoom(room))
		return
	}

	rooms := []types.Room{}
	for room, err := range s.db.Rooms(r.Context()) {
		if err != nil {
			s.writeDbError(w, err)
			return
		}
		rooms = append(rooms, toRoom(room))
	}

	s.writeJson(w, http.StatusOK, rooms)
}

func (s *ChatApp) ensureRoom(w http.ResponseWriter, r *http.Request) {
	var req EnsureRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	id, err := s.db.EnsureRoom(r.Context(), req.Name)
	if err != nil {
		s.writeDbError(w, err)
		return
	}

	s.writeJson(w, http.StatusOK, types.RoomId{RoomId: id})
}

func (s *ChatApp) getRoom(w http.ResponseWriter, r *http.Request) {
	id, ok := roomIdParam(r)
	if !ok {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	room, err := s.db.GetRoomById(r.Context(), id)
	if err != nil {
		s.writeDbError(w, err)
		return
	}

	s.writeJson(w, http.StatusOK, toRoom(room))
}

func (s *ChatApp) listMessages(w http.ResponseWriter, r *http.Request) {
	id, ok := roomIdParam(r)
	if !ok {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if _, err := s.db.GetRoomById(r.Context(), id); err != nil {
		s.writeDbError(w, err)
		return
	}

	messages := []types.Message{}
	for msg, err := range s.db.Messages(r.Context(), id) {
		if err != nil {
			s.writeDbError(w, err)
			return
		}
		messages = append(messages, types.Message{
			Message:   msg.Message,
			From:      types.Sender{Name: msg.From.Name, AvatarUrl: msg.From.AvatarUrl},
			CreatedAt: msg.CreatedAt,
		})
	}

	s.writeJson(w, http.StatusOK, messages)
}

func (s *ChatApp) createMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := roomIdParam(r)
	if !ok {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var req CreateMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Message == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	user, ok := UserFromContext(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	msg, err := s.db.CreateMessage(r.Context(), database.CreateMessageParams{
		RoomId: id,
		Text:   req.Message,
		User:   user,
	})
	if err != nil {
		s.writeDbError(w, err)
		return
	}

	s.writeJson(w, http.StatusCreated, types.Message{
		MessageId: msg.MessageId,
		RoomId:    msg.RoomId,
		Message:   msg.Text,
		From:      types.Sender{Name: msg.SenderName, AvatarUrl: msg.SenderAvatarUrl},
		CreatedAt: msg.CreatedAt,
	})
}
