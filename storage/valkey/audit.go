package valkey

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/zinacoffee/menuguard/storage"
)

// auditEventJSON is the JSON representation of an audit event
type auditEventJSON struct {
	ID         string         `json:"id"`
	Action     string         `json:"action"`
	ActorID    string         `json:"actor_id,omitempty"`
	ActorEmail string         `json:"actor_email,omitempty"`
	IPAddress  string         `json:"ip_address,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
	OccurredAt int64          `json:"occurred_at"`
}

func toAuditEventJSON(e *storage.AuditEvent) *auditEventJSON {
	return &auditEventJSON{
		ID:         e.ID,
		Action:     e.Action,
		ActorID:    e.ActorID,
		ActorEmail: e.ActorEmail,
		IPAddress:  e.IPAddress,
		Details:    e.Details,
		OccurredAt: e.OccurredAt.UnixMilli(),
	}
}

func fromAuditEventJSON(j *auditEventJSON) *storage.AuditEvent {
	return &storage.AuditEvent{
		ID:         j.ID,
		Action:     j.Action,
		ActorID:    j.ActorID,
		ActorEmail: j.ActorEmail,
		IPAddress:  j.IPAddress,
		Details:    j.Details,
		OccurredAt: fromMillis(j.OccurredAt),
	}
}

func decodeAuditEvents(docs []string) ([]*storage.AuditEvent, error) {
	events := make([]*storage.AuditEvent, 0, len(docs))
	for _, doc := range docs {
		var j auditEventJSON
		if err := json.Unmarshal([]byte(doc), &j); err != nil {
			return nil, fmt.Errorf("failed to unmarshal audit event: %w", err)
		}
		events = append(events, fromAuditEventJSON(&j))
	}
	return events, nil
}

// AppendAuditEvent writes an event and indexes it by occurrence time
func (s *Store) AppendAuditEvent(ctx context.Context, event *storage.AuditEvent) error {
	if event == nil {
		return fmt.Errorf("audit event cannot be nil")
	}
	if event.ID == "" {
		return fmt.Errorf("audit event ID cannot be empty")
	}

	data, err := json.Marshal(toAuditEventJSON(event))
	if err != nil {
		return fmt.Errorf("failed to marshal audit event: %w", err)
	}

	stored, err := s.eval(ctx, luaAppendAuditEvent,
		[]string{s.auditEventPrefix() + event.ID, s.auditIndexKey(), s.auditMembersKey(), s.auditSeqKey()},
		string(data), millis(event.OccurredAt), event.ID,
	).AsInt64()
	if err != nil {
		return fmt.Errorf("failed to append audit event: %w", err)
	}
	if stored == 0 {
		return fmt.Errorf("%w: %s", storage.ErrAuditEventExists, logID(event.ID))
	}
	return nil
}

// ListAuditEvents returns events newest first. Events with the same
// timestamp are returned in reverse append order.
func (s *Store) ListAuditEvents(ctx context.Context, query storage.AuditQuery) ([]*storage.AuditEvent, error) {
	docs, err := s.eval(ctx, luaListAuditEvents,
		[]string{s.auditIndexKey(), s.auditMembersKey()},
		query.StartAfter, strconv.Itoa(max(query.Limit, 0)), s.auditEventPrefix(),
	).AsStrSlice()
	if err != nil {
		if isNilError(err) {
			return nil, fmt.Errorf("%w: %s", storage.ErrAuditCursorNotFound, logID(query.StartAfter))
		}
		return nil, fmt.Errorf("failed to list audit events: %w", err)
	}
	return decodeAuditEvents(docs)
}

// ArchiveAuditEventsBefore moves events older than cutoff into the archive
// list, batchSize events per script call
func (s *Store) ArchiveAuditEventsBefore(ctx context.Context, cutoff time.Time, batchSize int) (int, error) {
	if batchSize <= 0 {
		return 0, fmt.Errorf("batch size must be positive")
	}

	total := 0
	for {
		counts, err := s.eval(ctx, luaArchiveAuditEvents,
			[]string{s.auditIndexKey(), s.auditMembersKey(), s.auditArchiveKey()},
			millis(cutoff), strconv.Itoa(batchSize), s.auditEventPrefix(),
		).AsIntSlice()
		if err != nil {
			return total, fmt.Errorf("failed to archive audit events: %w", err)
		}
		if len(counts) != 2 {
			return total, fmt.Errorf("unexpected archive script reply: %v", counts)
		}
		total += int(counts[1])
		if counts[0] < int64(batchSize) {
			break
		}
	}

	if total > 0 {
		s.logger.Info("Archived audit events", "count", total)
	}
	return total, nil
}

// ArchivedAuditEvents returns the archived events in archive order
func (s *Store) ArchivedAuditEvents(ctx context.Context) ([]*storage.AuditEvent, error) {
	docs, err := s.client.Do(ctx, s.client.B().Lrange().Key(s.auditArchiveKey()).Start(0).Stop(-1).Build()).AsStrSlice()
	if err != nil {
		return nil, fmt.Errorf("failed to read audit archive: %w", err)
	}
	return decodeAuditEvents(docs)
}
