package valkey

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/zinacoffee/menuguard/storage"
)

// sessionJSON is the JSON representation of a session. Timestamps are
// encoded as strings because the touch script rewrites last_seen_at.
type sessionJSON struct {
	ID         string `json:"id"`
	UserID     string `json:"user_id"`
	Email      string `json:"email,omitempty"`
	IPAddress  string `json:"ip_address,omitempty"`
	CreatedAt  int64  `json:"created_at,string"`
	LastSeenAt int64  `json:"last_seen_at,string"`
}

func toSessionJSON(s *storage.Session) *sessionJSON {
	return &sessionJSON{
		ID:         s.ID,
		UserID:     s.UserID,
		Email:      s.Email,
		IPAddress:  s.IPAddress,
		CreatedAt:  s.CreatedAt.UnixMilli(),
		LastSeenAt: s.LastSeenAt.UnixMilli(),
	}
}

func fromSessionJSON(j *sessionJSON) *storage.Session {
	return &storage.Session{
		ID:         j.ID,
		UserID:     j.UserID,
		Email:      j.Email,
		IPAddress:  j.IPAddress,
		CreatedAt:  fromMillis(j.CreatedAt),
		LastSeenAt: fromMillis(j.LastSeenAt),
	}
}

func (s *Store) sessionTTLMillis() string {
	return strconv.FormatInt(s.sessionTTL.Milliseconds(), 10)
}

// SaveSession stores or replaces a session
func (s *Store) SaveSession(ctx context.Context, session *storage.Session) error {
	if session == nil {
		return fmt.Errorf("session cannot be nil")
	}
	if session.ID == "" || session.UserID == "" {
		return fmt.Errorf("session ID and user ID are required")
	}

	data, err := json.Marshal(toSessionJSON(session))
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	err = s.eval(ctx, luaSaveSession,
		[]string{s.sessionKey(session.ID), s.userSessionsKey(session.UserID)},
		string(data), s.sessionTTLMillis(), session.ID, s.userSessionsPrefix(),
	).Error()
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// GetSession retrieves a session by ID
func (s *Store) GetSession(ctx context.Context, id string) (*storage.Session, error) {
	data, err := s.client.Do(ctx, s.client.B().Get().Key(s.sessionKey(id)).Build()).ToString()
	if err != nil {
		if isNilError(err) {
			return nil, fmt.Errorf("%w: %s", storage.ErrSessionNotFound, logID(id))
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	var j sessionJSON
	if err := json.Unmarshal([]byte(data), &j); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return fromSessionJSON(&j), nil
}

// TouchSession records activity on a session and renews its TTL
func (s *Store) TouchSession(ctx context.Context, id string, at time.Time) error {
	touched, err := s.eval(ctx, luaTouchSession,
		[]string{s.sessionKey(id)},
		millis(at), s.sessionTTLMillis(),
	).AsInt64()
	if err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}
	if touched == 0 {
		return fmt.Errorf("%w: %s", storage.ErrSessionNotFound, logID(id))
	}
	return nil
}

// DeleteSession removes a single session
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	err := s.eval(ctx, luaDeleteSession,
		[]string{s.sessionKey(id)},
		id, s.userSessionsPrefix(),
	).Error()
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// DeleteSessionsForUser removes every session belonging to userID
func (s *Store) DeleteSessionsForUser(ctx context.Context, userID string) (int, error) {
	n, err := s.eval(ctx, luaDeleteUserSessions,
		[]string{s.userSessionsKey(userID)},
		s.sessionPrefix(),
	).AsInt64()
	if err != nil {
		return 0, fmt.Errorf("failed to delete user sessions: %w", err)
	}
	if n > 0 {
		s.logger.Debug("Deleted user sessions", "user_id", userID, "count", n)
	}
	return int(n), nil
}
