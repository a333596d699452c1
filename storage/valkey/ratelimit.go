package valkey

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/zinacoffee/menuguard/storage"
)

// rateWindowJSON is the JSON representation of a rate window
type rateWindowJSON struct {
	Identifier string  `json:"identifier"`
	LimitType  string  `json:"limit_type"`
	Attempts   []int64 `json:"attempts"`
	CreatedAt  int64   `json:"created_at"`
	Version    int64   `json:"version"`
}

func toRateWindowJSON(w *storage.RateWindow) *rateWindowJSON {
	attempts := w.Attempts
	if attempts == nil {
		attempts = []int64{}
	}
	return &rateWindowJSON{
		Identifier: w.Identifier,
		LimitType:  w.LimitType,
		Attempts:   attempts,
		CreatedAt:  w.CreatedAt.UnixMilli(),
		Version:    w.Version,
	}
}

func fromRateWindowJSON(j *rateWindowJSON) *storage.RateWindow {
	return &storage.RateWindow{
		Identifier: j.Identifier,
		LimitType:  j.LimitType,
		Attempts:   j.Attempts,
		CreatedAt:  fromMillis(j.CreatedAt),
		Version:    j.Version,
	}
}

// UpdateRateWindow reads the window under key, applies fn and commits the
// result with compare-and-swap. fn is re-run with fresh state when another
// writer commits first.
func (s *Store) UpdateRateWindow(ctx context.Context, key string, fn storage.RateWindowUpdateFunc) error {
	if key == "" {
		return fmt.Errorf("rate window key cannot be empty")
	}
	docKey := s.rateWindowKey(key)

	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		current, err := s.getRateWindow(ctx, docKey)
		if err != nil {
			return err
		}

		next, err := fn(current.Clone())
		if err != nil {
			return err
		}
		if next == nil {
			return nil
		}

		var expected int64
		if current != nil {
			expected = current.Version
		}
		j := toRateWindowJSON(next)
		j.Version = expected + 1

		data, err := json.Marshal(j)
		if err != nil {
			return fmt.Errorf("failed to marshal rate window: %w", err)
		}

		stored, err := s.eval(ctx, luaCompareAndSwap,
			[]string{docKey, s.rateIndexKey()},
			strconv.FormatInt(expected, 10), string(data), millis(next.CreatedAt), key,
		).AsInt64()
		if err != nil {
			return fmt.Errorf("failed to store rate window: %w", err)
		}
		if stored == 1 {
			return nil
		}

		s.logger.Debug("Rate window changed concurrently, retrying", "key", key, "attempt", attempt+1)
	}

	return fmt.Errorf("%w: rate window %s", storage.ErrConcurrentUpdate, key)
}

func (s *Store) getRateWindow(ctx context.Context, docKey string) (*storage.RateWindow, error) {
	data, err := s.client.Do(ctx, s.client.B().Get().Key(docKey).Build()).ToString()
	if err != nil {
		if isNilError(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get rate window: %w", err)
	}

	var j rateWindowJSON
	if err := json.Unmarshal([]byte(data), &j); err != nil {
		return nil, fmt.Errorf("failed to unmarshal rate window: %w", err)
	}
	return fromRateWindowJSON(&j), nil
}

// DeleteRateWindowsCreatedBefore removes windows created before cutoff
func (s *Store) DeleteRateWindowsCreatedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	total := 0
	for {
		n, err := s.eval(ctx, luaDeleteIndexedBefore,
			[]string{s.rateIndexKey()},
			millis(cutoff), s.rateWindowKey(""), strconv.Itoa(batchSize),
		).AsInt64()
		if err != nil {
			return total, fmt.Errorf("failed to delete rate windows: %w", err)
		}
		total += int(n)
		if n < batchSize {
			break
		}
	}

	if total > 0 {
		s.logger.Debug("Deleted old rate windows", "count", total)
	}
	return total, nil
}
