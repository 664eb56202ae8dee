package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	ErrNotFound         = errors.New("key not found")
	ErrRevisionMismatch = errors.New("revision mismatch")
)

// Entry is a value held by the store together with the revision it was written at.
type Entry struct {
	Key      string
	Value    []byte
	Revision uint64
}

// Store is the replicated key-value contract shared by every participant of a session.
type Store interface {
	// Read returns the current entry for key or ErrNotFound.
	Read(ctx context.Context, key string) (Entry, error)
	// Write stores value unconditionally. Last writer wins.
	Write(ctx context.Context, key string, value []byte) (uint64, error)
	// CompareAndWrite stores value only if the key is still at revision.
	// Revision 0 means the key must not exist yet.
	CompareAndWrite(ctx context.Context, key string, value []byte, revision uint64) (uint64, error)

	ReadParticipant(ctx context.Context, key, participantID string) ([]byte, error)
	WriteParticipant(ctx context.Context, key, participantID string, value []byte) error
	Participants(ctx context.Context, key string) (map[string][]byte, error)

	// Watch delivers the current entry (if any) and then every later change to key
	// until ctx is cancelled. Slow readers only see the latest value.
	Watch(ctx context.Context, key string) (<-chan Entry, error)
}

// Scope identifies which participants share a session.
type Scope struct {
	AppID       string
	SessionName string
}

var invalidKeyChars = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

func sanitize(s string) string {
	s = invalidKeyChars.ReplaceAllString(strings.TrimSpace(s), "_")
	if s == "" {
		return "default"
	}
	return s
}

// Key returns the session key within the app's bucket.
func (s Scope) Key() string {
	return fmt.Sprintf("session.%s", sanitize(s.SessionName))
}

// Bucket returns the name of the bucket holding every session of the app.
func (s Scope) Bucket() string {
	return fmt.Sprintf("hotpotato_%s", sanitize(s.AppID))
}

func participantKey(key, participantID string) string {
	return fmt.Sprintf("%s.participant.%s", key, sanitize(participantID))
}

func participantPrefix(key string) string {
	return key + ".participant."
}
