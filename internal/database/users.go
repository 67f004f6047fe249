package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/npezzotti/go-chatstore/internal/kv"
)

// RegisterUser stores the user and its access token index entry in one
// atomic operation, so a token never resolves to a missing user.
func (r *KvChatRepository) RegisterUser(ctx context.Context, params RegisterUserParams) (User, error) {
	if params.UserName == "" {
		return User{}, fmt.Errorf("%w: user name cannot be empty", ErrInvalidInput)
	}
	if params.AccessToken == "" {
		return User{}, fmt.Errorf("%w: access token cannot be empty", ErrInvalidInput)
	}

	user := User{
		UserId:    params.UserId,
		UserName:  params.UserName,
		AvatarUrl: params.AvatarUrl,
		CreatedAt: r.now(),
	}

	op := kv.NewAtomic().
		Check(userKey(user.UserId), 0).
		Set(userKey(user.UserId), mustMarshal(user)).
		Set(userTokenKey(params.AccessToken), mustMarshal(user.UserId))

	if _, err := r.store.Commit(ctx, op); err != nil {
		if errors.Is(err, kv.ErrCheckFailed) {
			return User{}, ErrUserExists
		}
		return User{}, fmt.Errorf("register user %d: %w", user.UserId, err)
	}

	r.stats.Incr(metricUsersRegistered)
	r.log.Info().Int("user_id", user.UserId).Str("user_name", user.UserName).Msg("registered user")

	return user, nil
}

// GetUserByAccessToken resolves token to its user with two point reads.
func (r *KvChatRepository) GetUserByAccessToken(ctx context.Context, token string) (User, error) {
	if token == "" {
		return User{}, ErrUserNotFound
	}

	var userId int
	_, found, err := r.getJSON(ctx, userTokenKey(token), &userId)
	if err != nil {
		return User{}, fmt.Errorf("lookup access token: %w", err)
	}
	if !found {
		return User{}, ErrUserNotFound
	}

	var user User
	_, found, err = r.getJSON(ctx, userKey(userId), &user)
	if err != nil {
		return User{}, fmt.Errorf("get user %d: %w", userId, err)
	}
	if !found {
		return User{}, ErrUserNotFound
	}

	return user, nil
}
