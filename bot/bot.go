package bot

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Each bot should implement the Bot interface.
type Bot interface {
	// Init method initializes the bot (connects to database, configures Telegram
	// Bot, etc.) and returns a context that should be used in the bot. On
	// failure, Init should return an error rather than panic.
	Init(cfg *Config, l *zap.SugaredLogger) (*Context, error)
	// Run starts the process of handling messages from the Telegram Bot. Multiple
	// bots are supposed to run concurrently, so Run should be started in a new
	// goroutine. Run returns when ctx is cancelled.
	Run(ctx context.Context, bctx *Context) error
}

// Migrator is implemented by bots owning a database schema. Migrate runs
// without Init, it needs the database only.
type Migrator interface {
	Migrate(ctx context.Context, cfg *Config, l *zap.SugaredLogger) error
}

// Reminder is implemented by bots able to run their scheduled check for an
// arbitrary day on demand.
type Reminder interface {
	RemindOn(ctx context.Context, day time.Time) error
}

var (
	botsRegistry = make(map[string]Bot)
	botsMu       sync.Mutex
)

// Register adds the bot to the list of bots to run. To register a bot call
// Register in the init function.
func Register(name string, bot Bot) bool {
	botsMu.Lock()
	defer botsMu.Unlock()

	_, ok := botsRegistry[name]
	if ok {
		return false
	}

	botsRegistry[name] = bot
	return true
}

// Named bot record in the bots registry.
type Record struct {
	Name string
	Bot  Bot
}

// GetThemAll returns sorted list of bots.
func GetThemAll() []Record {
	botsMu.Lock()
	defer botsMu.Unlock()

	bots := make([]Record, 0, len(botsRegistry))
	for n, b := range botsRegistry {
		bots = append(bots, Record{Name: n, Bot: b})
	}
	sort.Slice(bots, func(i, j int) bool { return bots[i].Name < bots[j].Name })

	return bots
}

// Closer is implemented by bots holding connections opened in Init. Run
// closes them on return, other callers of Init close them with Close.
type Closer interface {
	Close()
}

// HealthChecker is implemented by bots exposing their dependencies to the
// readiness probe.
type HealthChecker interface {
	HealthChecks() map[string]HealthCheck
}
