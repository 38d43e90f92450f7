// Package mood keeps the user's mood entries in sync with the server:
// list fetch, create/update/delete, server insights, and fold-in of
// mood-update events from other devices.
package mood

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/MindWell-Health/wellness_client/client"
	"github.com/MindWell-Health/wellness_client/internal/logging"
	"github.com/MindWell-Health/wellness_client/internal/metrics"
	"github.com/MindWell-Health/wellness_client/realtime"
	"github.com/MindWell-Health/wellness_client/stores/base"
)

// Entry is one mood log. Score uses the canonical raw 1..10 scale.
type Entry struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Score     int       `json:"score"`
	Factors   []string  `json:"factors,omitempty"`
	Note      string    `json:"note,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Input is the caller-supplied part of an entry.
type Input struct {
	Score   int      `json:"score"`
	Factors []string `json:"factors,omitempty"`
	Note    string   `json:"note,omitempty"`
}

// Insights is the server-computed mood summary.
type Insights struct {
	AverageScore  float64  `json:"averageScore"`
	Trend         string   `json:"trend"`
	CommonFactors []string `json:"commonFactors,omitempty"`
	EntryCount    int      `json:"entryCount"`
}

// Deps holds store dependencies.
type Deps struct {
	// Client is the API client. Required.
	Client *client.Client
	// Channel is used for best-effort mood-update emits. Optional.
	Channel *realtime.Channel
	// Logger overrides the default component logger.
	Logger *logging.Logger
}

// Store holds mood entries ordered newest first.
type Store struct {
	client  *client.Client
	channel *realtime.Channel
	log     *logging.Logger

	mu      sync.RWMutex
	entries []Entry
	status  base.Status

	guard    base.FetchGuard
	seq      base.Sequencer
	notifier base.Notifier
}

// New creates the store.
func New(deps Deps) (*Store, error) {
	if deps.Client == nil {
		return nil, fmt.Errorf("mood: Client is required")
	}
	log := deps.Logger
	if log == nil {
		log = logging.NewDefault("mood")
	}
	return &Store{client: deps.Client, channel: deps.Channel, log: log}, nil
}

// =============================================================================
// Snapshots
// =============================================================================

// Entries returns a copy of the entries, newest first.
func (s *Store) Entries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Scores returns the entry scores newest first, for the derived analytics.
func (s *Store) Scores() []float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]float64, len(s.entries))
	for i, e := range s.entries {
		out[i] = float64(e.Score)
	}
	return out
}

// Status returns the request flags.
func (s *Store) Status() base.Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Watch registers fn to run after every store change.
func (s *Store) Watch(fn func()) func() {
	return s.notifier.Watch(fn)
}

// =============================================================================
// Fetching
// =============================================================================

// EnsureLoaded fetches the entries once per epoch; concurrent callers share
// one fetch.
func (s *Store) EnsureLoaded(ctx context.Context) error {
	return s.guard.Do(ctx, s.fetch)
}

// Refresh forces a fetch regardless of the loaded state.
func (s *Store) Refresh(ctx context.Context) error {
	s.guard.Reset()
	return s.guard.Do(ctx, s.fetch)
}

func (s *Store) fetch(ctx context.Context) error {
	seq := s.seq.Next()

	s.mu.Lock()
	s.status.Loading = true
	s.mu.Unlock()
	s.notifier.Notify()

	var entries []Entry
	err := s.client.Get(ctx, "/mood", nil, &entries)
	metrics.RecordStoreAction("mood", "fetch", err)

	s.mu.Lock()
	if s.seq.Stale(seq) {
		// A newer fetch owns the state now; this response is discarded.
		s.mu.Unlock()
		return err
	}
	if err == nil {
		s.entries = entries
	}
	s.status.FinishFetch(err)
	s.mu.Unlock()
	s.notifier.Notify()

	if err != nil {
		s.log.WithError(err).Warn("fetch mood entries failed")
	}
	return err
}

// =============================================================================
// Mutations
// =============================================================================

// Create logs a new entry. The created entry is prepended and echoed on the
// realtime channel best-effort.
func (s *Store) Create(ctx context.Context, in Input) (Entry, error) {
	if err := validateInput(in); err != nil {
		return Entry{}, err
	}

	s.beginSubmit()
	var created Entry
	err := s.client.Post(ctx, "/mood", in, &created)
	metrics.RecordStoreAction("mood", "create", err)

	s.mu.Lock()
	if err == nil {
		s.upsertLocked(created)
	}
	s.status.FinishSubmit(err)
	s.mu.Unlock()
	s.notifier.Notify()

	if err != nil {
		s.log.WithError(err).Warn("create mood entry failed")
		return Entry{}, err
	}
	s.emitUpdate(created)
	return created, nil
}

// Update edits an existing entry in place.
func (s *Store) Update(ctx context.Context, id string, in Input) (Entry, error) {
	if err := validateInput(in); err != nil {
		return Entry{}, err
	}

	s.beginSubmit()
	var updated Entry
	err := s.client.Put(ctx, "/mood/"+id, in, &updated)
	metrics.RecordStoreAction("mood", "update", err)

	s.mu.Lock()
	if err == nil {
		s.replaceLocked(updated)
	}
	s.status.FinishSubmit(err)
	s.mu.Unlock()
	s.notifier.Notify()

	if err != nil {
		s.log.WithError(err).Warn("update mood entry failed")
		return Entry{}, err
	}
	return updated, nil
}

// Delete removes an entry.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.beginSubmit()
	err := s.client.Delete(ctx, "/mood/"+id)
	metrics.RecordStoreAction("mood", "delete", err)

	s.mu.Lock()
	if err == nil {
		kept := s.entries[:0]
		for _, e := range s.entries {
			if e.ID != id {
				kept = append(kept, e)
			}
		}
		s.entries = kept
	}
	s.status.FinishSubmit(err)
	s.mu.Unlock()
	s.notifier.Notify()

	if err != nil {
		s.log.WithError(err).Warn("delete mood entry failed")
	}
	return err
}

// Insights fetches the server-side mood summary for a timeframe.
func (s *Store) Insights(ctx context.Context, timeframe string) (Insights, error) {
	params := url.Values{}
	if timeframe != "" {
		params.Set("timeframe", timeframe)
	}
	var out Insights
	err := s.client.Get(ctx, "/mood/insights", params, &out)
	metrics.RecordStoreAction("mood", "insights", err)
	if err != nil {
		s.log.WithError(err).Warn("fetch mood insights failed")
	}
	return out, err
}

// =============================================================================
// Realtime + lifecycle
// =============================================================================

// Bind subscribes the store's realtime fold and the unauthorized reset.
// The returned function detaches both.
func (s *Store) Bind(ch *realtime.Channel) func() {
	offEvent := ch.On(realtime.EventMoodUpdate, s.handleMoodUpdate)
	offUnauth := s.client.OnUnauthorized(s.Reset)
	return func() {
		offEvent()
		offUnauth()
	}
}

// handleMoodUpdate folds an entry pushed from another device. Upsert by ID:
// our own echo replaces, a foreign entry prepends.
func (s *Store) handleMoodUpdate(payload json.RawMessage) {
	var entry Entry
	if err := json.Unmarshal(payload, &entry); err != nil || entry.ID == "" {
		s.log.Debug("dropping malformed mood-update payload")
		return
	}

	s.mu.Lock()
	s.upsertLocked(entry)
	s.mu.Unlock()
	s.notifier.Notify()
}

// Reset restores zero state, typically after the session ends.
func (s *Store) Reset() {
	s.mu.Lock()
	s.entries = nil
	s.status = base.Status{}
	s.mu.Unlock()
	s.guard.Reset()
	s.notifier.Notify()
}

// =============================================================================
// Internals
// =============================================================================

func validateInput(in Input) error {
	if in.Score < 1 || in.Score > 10 {
		return client.ValidationError("score", "score must be between 1 and 10")
	}
	for _, f := range in.Factors {
		if strings.TrimSpace(f) == "" {
			return client.ValidationError("factors", "factors must not be empty")
		}
	}
	return nil
}

func (s *Store) beginSubmit() {
	s.mu.Lock()
	s.status.Submitting = true
	s.mu.Unlock()
	s.notifier.Notify()
}

// upsertLocked replaces the entry with the same ID or prepends a new one.
func (s *Store) upsertLocked(entry Entry) {
	for i, e := range s.entries {
		if e.ID == entry.ID {
			s.entries[i] = entry
			return
		}
	}
	s.entries = append([]Entry{entry}, s.entries...)
}

// replaceLocked swaps the entry with the same ID; unknown IDs are ignored.
func (s *Store) replaceLocked(entry Entry) {
	for i, e := range s.entries {
		if e.ID == entry.ID {
			s.entries[i] = entry
			return
		}
	}
}

func (s *Store) emitUpdate(e Entry) {
	if s.channel == nil {
		return
	}
	if err := s.channel.Emit(realtime.EventMoodUpdate, e); err != nil {
		s.log.WithError(err).Debug("mood-update emit skipped")
	}
}
