package persistence

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// DefaultFlushSchedule flushes dirty snapshots every thirty seconds
const DefaultFlushSchedule = "@every 30s"

// Persistable is implemented by every component with durable state.
// Snapshot must copy state under the component's own lock and return a value
// that is safe to encode after the lock is released.
type Persistable interface {
	SnapshotName() string
	Revision() uint64
	Snapshot() (interface{}, error)
	Restore(decode func(v interface{}) error) error
}

// Manager loads snapshots at startup and flushes dirty ones on a schedule
type Manager struct {
	store      *FileStore
	logger     *logrus.Logger
	components []Persistable
	flushed    map[string]uint64
	mu         sync.Mutex
	cron       *cron.Cron
}

// NewManager creates a manager over a snapshot store
func NewManager(store *FileStore, logger *logrus.Logger) *Manager {
	return &Manager{
		store:   store,
		logger:  logger,
		flushed: make(map[string]uint64),
	}
}

// Register adds components to be loaded and flushed
func (m *Manager) Register(components ...Persistable) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.components = append(m.components, components...)
}

// LoadAll restores every registered component. Missing or corrupt snapshots
// leave the component empty; the returned count is the number restored.
func (m *Manager) LoadAll() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	loaded := 0
	for _, c := range m.components {
		name := c.SnapshotName()
		err := m.store.Load(name, c.Restore)
		m.flushed[name] = c.Revision()

		switch {
		case err == nil:
			loaded++
			m.logger.WithField("snapshot", name).Info("Snapshot restored")
		case errors.Is(err, os.ErrNotExist):
			m.logger.WithField("snapshot", name).Debug("No snapshot found, starting empty")
		default:
			m.logger.WithError(err).WithField("snapshot", name).Warn("Snapshot unreadable, starting empty")
		}
	}
	return loaded
}

// FlushDirty writes components whose revision moved since the last write
func (m *Manager) FlushDirty() int {
	return m.flush(false)
}

// FlushAll writes every component regardless of revision
func (m *Manager) FlushAll() int {
	return m.flush(true)
}

func (m *Manager) flush(force bool) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	written := 0
	for _, c := range m.components {
		name := c.SnapshotName()
		revision := c.Revision()
		if last, ok := m.flushed[name]; ok && !force && last == revision {
			continue
		}

		state, err := c.Snapshot()
		if err != nil {
			m.logger.WithError(&SnapshotError{Op: "snapshot", Name: name, Err: err}).Warn("Snapshot failed")
			continue
		}
		if err := m.store.Save(name, state); err != nil {
			m.logger.WithError(err).WithField("snapshot", name).Warn("Snapshot write failed")
			continue
		}

		m.flushed[name] = revision
		written++
		m.logger.WithFields(logrus.Fields{
			"snapshot": name,
			"revision": revision,
		}).Debug("Snapshot written")
	}

	if written > 0 {
		m.logger.WithField("count", written).Info("Snapshots flushed")
	}
	return written
}

// Start schedules FlushDirty with a cron spec such as "@every 30s"
func (m *Manager) Start(schedule string) error {
	if schedule == "" {
		schedule = DefaultFlushSchedule
	}

	c := cron.New()
	if _, err := c.AddFunc(schedule, func() { m.FlushDirty() }); err != nil {
		return fmt.Errorf("invalid flush schedule %q: %w", schedule, err)
	}

	m.mu.Lock()
	m.cron = c
	m.mu.Unlock()

	c.Start()
	m.logger.WithField("schedule", schedule).Info("Snapshot flush scheduled")
	return nil
}

// Stop halts the schedule, waits for a running flush and writes everything
func (m *Manager) Stop() int {
	m.mu.Lock()
	c := m.cron
	m.cron = nil
	m.mu.Unlock()

	if c != nil {
		ctx := c.Stop()
		<-ctx.Done()
	}
	return m.FlushAll()
}
