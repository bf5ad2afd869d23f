// Package recent keeps the persisted, deduplicated list of files the user
// recently opened or edited.
package recent

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/sparkleshare/sparkleshare-go/internal/events"
	"github.com/sparkleshare/sparkleshare-go/internal/logging"
	"github.com/sparkleshare/sparkleshare-go/internal/metrics"
	"github.com/sparkleshare/sparkleshare-go/internal/store"
	"github.com/sparkleshare/sparkleshare-go/pkg/client"
	"github.com/sparkleshare/sparkleshare-go/pkg/models"
)

const (
	recentKind    = "recent-files"
	recentVersion = 1

	// DefaultMaxEntries bounds the list when no limit is configured.
	DefaultMaxEntries = 100
)

// entry is a RecentFile plus its insertion sequence, used to order entries
// with equal access dates.
type entry struct {
	models.RecentFile
	Seq uint64 `json:"seq"`
}

// state is the persisted payload.
type state struct {
	NextSeq uint64  `json:"next_seq"`
	Entries []entry `json:"entries"`
}

// ErrOlderThanRetained is returned by AddRecentFile when the list is full
// and the file is older than every entry it holds.
var ErrOlderThanRetained = errors.New("recent file is older than every retained entry")

// Option configures a Manager.
type Option func(*Manager)

// WithClock sets the clock used to stamp entries without an access date.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithMaxEntries bounds the list. The oldest entries are dropped first.
func WithMaxEntries(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.maxEntries = n
		}
	}
}

// WithBroadcaster publishes change events on b instead of a private
// broadcaster.
func WithBroadcaster(b *events.Broadcaster) Option {
	return func(m *Manager) { m.events = b }
}

// Manager owns the recent files list. All mutators are serialized; each
// persists the new list before it becomes visible and then publishes
// exactly one change event.
type Manager struct {
	store      store.Store
	now        func() time.Time
	maxEntries int
	validate   *validator.Validate
	events     *events.Broadcaster

	mu      sync.RWMutex
	entries []entry // sorted, most recent first
	nextSeq uint64
}

// NewManager creates a manager backed by st and loads the persisted list.
// An unreadable list is logged and replaced by an empty one.
func NewManager(st store.Store, opts ...Option) *Manager {
	m := &Manager{
		store:      st,
		now:        time.Now,
		maxEntries: DefaultMaxEntries,
		validate:   validator.New(validator.WithRequiredStructEnabled()),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.events == nil {
		m.events = events.NewBroadcaster(events.DefaultBuffer)
	}
	m.load()
	metrics.SetRecentFiles(len(m.entries))
	return m
}

func (m *Manager) load() {
	if m.store == nil {
		return
	}
	var st state
	_, err := store.Load(m.store, store.KeyRecentFiles, recentKind, &st)
	switch {
	case err == nil:
	case errors.Is(err, store.ErrNotFound):
		return
	default:
		metrics.RecordPersistenceFailure(store.KeyRecentFiles, "load")
		logging.Warn("stored recent files unreadable, starting empty",
			logging.Err(&client.Error{Kind: client.KindPersistence, Op: "load recent files", Err: err}))
		return
	}

	valid := st.Entries[:0]
	for _, e := range st.Entries {
		if err := m.validate.Struct(e.RecentFile); err != nil {
			logging.Warn("dropping invalid recent file", logging.String("ssid", e.FileSSID), logging.Err(err))
			continue
		}
		if e.Seq >= st.NextSeq {
			st.NextSeq = e.Seq + 1
		}
		valid = append(valid, e)
	}
	sortEntries(valid)
	m.entries = valid
	m.nextSeq = st.NextSeq
}

// Subscribe returns a channel receiving change events. Call Unsubscribe
// when done. Delivery never blocks a mutator: while the channel's buffer
// is full, further events are dropped for that subscriber. Treat an event
// as a hint and re-read RecentFiles for the current list.
func (m *Manager) Subscribe() chan events.Event {
	return m.events.Subscribe()
}

// Unsubscribe stops delivery to ch and closes it.
func (m *Manager) Unsubscribe(ch chan events.Event) {
	m.events.Unsubscribe(ch)
}

// RecentFiles returns a copy of the list, most recently accessed first.
// Entries with equal access dates are ordered latest insertion first.
func (m *Manager) RecentFiles() []models.RecentFile {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.RecentFile, len(m.entries))
	for i, e := range m.entries {
		out[i] = e.RecentFile.Clone()
	}
	return out
}

// Len returns the number of entries.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// AddRecentFile inserts rf, or replaces the entry with the same FileSSID.
// A zero AccessDate is stamped with the manager's clock. When the bound
// would drop rf itself, nothing changes and ErrOlderThanRetained is
// returned.
func (m *Manager) AddRecentFile(rf models.RecentFile) error {
	if err := m.validate.Struct(rf); err != nil {
		return fmt.Errorf("invalid recent file: %w", err)
	}
	rf = rf.Clone()
	if rf.AccessDate.IsZero() {
		rf.AccessDate = m.now()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	next := make([]entry, 0, len(m.entries)+1)
	for _, e := range m.entries {
		if e.FileSSID != rf.FileSSID {
			next = append(next, e)
		}
	}
	next = append(next, entry{RecentFile: rf, Seq: m.nextSeq})
	sortEntries(next)
	if len(next) > m.maxEntries {
		for _, e := range next[m.maxEntries:] {
			if e.Seq == m.nextSeq {
				return ErrOlderThanRetained
			}
		}
		next = next[:m.maxEntries]
	}

	return m.commit(next, m.nextSeq+1, events.Event{Type: events.RecentAdded, SSID: rf.FileSSID})
}

// RemoveRecentFile removes entries whose FileSSID and PathComponents both
// equal rf's. An entry with the same ssid reached through another path is
// kept.
func (m *Manager) RemoveRecentFile(rf models.RecentFile) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := make([]entry, 0, len(m.entries))
	for _, e := range m.entries {
		if !e.SameLogicalPath(rf) {
			next = append(next, e)
		}
	}
	return m.commit(next, m.nextSeq, events.Event{Type: events.RecentRemoved, SSID: rf.FileSSID})
}

// ClearRecentFiles empties the list.
func (m *Manager) ClearRecentFiles() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.commit(nil, m.nextSeq, events.Event{Type: events.RecentCleared})
}

// commit persists next, swaps it in and publishes ev. Called with m.mu
// held. On a persistence failure nothing changes.
func (m *Manager) commit(next []entry, nextSeq uint64, ev events.Event) error {
	if m.store != nil {
		st := state{NextSeq: nextSeq, Entries: next}
		if st.Entries == nil {
			st.Entries = []entry{}
		}
		if err := store.Save(m.store, store.KeyRecentFiles, recentKind, recentVersion, st); err != nil {
			metrics.RecordPersistenceFailure(store.KeyRecentFiles, "save")
			return &client.Error{Kind: client.KindPersistence, Op: "save recent files", Err: err}
		}
	}

	m.entries = next
	m.nextSeq = nextSeq
	metrics.SetRecentFiles(len(next))

	ev.Count = len(next)
	m.events.Publish(ev)
	return nil
}

func sortEntries(entries []entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if !a.AccessDate.Equal(b.AccessDate) {
			return a.AccessDate.After(b.AccessDate)
		}
		return a.Seq > b.Seq
	})
}
