// Package notify tracks the notifications the terminal shows the user.
// Persistent ones stay until closed, timed ones expire on their own.
package notify

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"taker-terminal/internal/logger"
)

type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Well-known ids for the persistent notifications.
const (
	IDConnection      = "connection-toast"
	IDMakerConnection = "maker-connection-toast"
)

// DefaultDuration is how long timed notifications stay up.
const DefaultDuration = 10 * time.Second

type Notification struct {
	ID          string
	Level       Level
	Title       string
	Description string
	// Duration of zero means persistent.
	Duration  time.Duration
	CreatedAt time.Time
}

func (n Notification) Persistent() bool {
	return n.Duration == 0
}

func (n Notification) expired(now time.Time) bool {
	return !n.Persistent() && now.Sub(n.CreatedAt) >= n.Duration
}

// Board is safe for concurrent use.
type Board struct {
	mu     sync.Mutex
	now    func() time.Time
	active map[string]Notification
	log    *logger.Entry
}

func NewBoard() *Board {
	return &Board{
		now:    time.Now,
		active: make(map[string]Notification),
		log:    logger.GetLogger().WithComponent("notify"),
	}
}

// WithClock replaces the board's time source.
func (b *Board) WithClock(now func() time.Time) *Board {
	b.now = now
	return b
}

func (b *Board) WithLogger(l *logger.Entry) *Board {
	b.log = l
	return b
}

// Show adds n, replacing any active notification with the same id. An empty
// id gets a generated one, which is returned.
func (b *Board) Show(n Notification) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	n.CreatedAt = b.now()
	b.active[n.ID] = n

	entry := b.log.WithFields(logger.Fields{
		"id":          n.ID,
		"title":       n.Title,
		"description": n.Description,
		"persistent":  n.Persistent(),
	})
	switch n.Level {
	case LevelError:
		entry.Error("notification")
	case LevelWarning:
		entry.Warn("notification")
	default:
		entry.Info("notification")
	}
	return n.ID
}

func (b *Board) Close(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.active[id]; ok {
		delete(b.active, id)
		b.log.WithField("id", id).Debug("notification closed")
	}
}

func (b *Board) IsActive(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	n, ok := b.active[id]
	if !ok {
		return false
	}
	if n.expired(b.now()) {
		delete(b.active, id)
		return false
	}
	return true
}

// Active lists live notifications, oldest first.
func (b *Board) Active() []Notification {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	out := make([]Notification, 0, len(b.active))
	for id, n := range b.active {
		if n.expired(now) {
			delete(b.active, id)
			continue
		}
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
