package birthdayreminder

import (
	"context"
	"time"

	"botfarm/bot"
	"botfarm/bots/BirthdayReminder/db"
	"botfarm/bots/BirthdayReminder/dialog"
	"botfarm/bots/BirthdayReminder/metrics"
	"botfarm/bots/BirthdayReminder/reminder"
	"botfarm/bots/BirthdayReminder/tgbot"
	"botfarm/bots/BirthdayReminder/throttle"

	tg "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/jmhodges/clock"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// DBConnStr selecting the in-process store, birthdays are lost on restart
	MemoryStore = "memory://"

	jobDailyCheck  = "daily birthday check"
	jobMaintenance = "maintenance"

	maintenancePeriod = time.Hour
)

// newBotAPI connects to Telegram, tests replace it
var newBotAPI = tg.NewBotAPI

var _ bot.Closer = (*BirthdayReminder)(nil)

type BirthdayReminder struct {
	clk       clock.Clock
	logger    *zap.SugaredLogger
	store     db.Store
	redis     *redis.Client
	throttle  *throttle.Memory // nil when commands are throttled in Redis
	dialogs   *dialog.Machine
	tbot      *tgbot.TBot
	scheduler *reminder.Scheduler
	manager   *reminder.Manager
}

func (br *BirthdayReminder) Init(cfg *bot.Config, l *zap.SugaredLogger) (_ *bot.Context, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.DBTimeout)
	defer cancel()

	br.clk = clock.New()
	br.logger = l

	store, err := openStore(ctx, cfg, br.clk)
	if err != nil {
		l.Errorw("failed to initialize database", "err", err)
		return nil, err
	}
	br.store = store

	defer func() {
		if err != nil {
			br.Close()
		}
	}()

	limiter, err := br.openLimiter(ctx, cfg)
	if err != nil {
		l.Errorw("failed to initialize throttle", "err", err)
		return nil, err
	}

	b, err := newBotAPI(cfg.TgToken)
	if err != nil {
		l.Errorw("failed to initialize Telegram Bot", "err", err)
		return nil, err
	}

	b.Debug = false

	l.Infof("authorized on account %q", b.Self.UserName)

	m := metrics.New(prometheus.DefaultRegisterer)

	opts := dialog.Options{
		MaxNameLength:   cfg.MaxNameLength,
		DefaultLeadDays: cfg.DefaultLeadDays,
		MaxBirthdays:    cfg.MaxBirthdays,
		Confirm:         cfg.ConfirmAdd,
		TTL:             cfg.DialogTTL,
		Location:        cfg.Location(),
	}
	br.dialogs = dialog.NewMachine(store, opts, br.clk, l, m)

	br.tbot = tgbot.NewTBot(b, store, br.dialogs, limiter, br.clk, l, m)
	br.tbot.Location = cfg.Location()
	br.tbot.RetryAttempts = cfg.RetryAttempts
	br.tbot.RetryDelay = cfg.RetryDelay
	br.tbot.UpcomingWindow = cfg.UpcomingWindow
	br.tbot.MaxBirthdays = cfg.MaxBirthdays
	br.tbot.DefaultLeadDays = cfg.DefaultLeadDays

	br.scheduler = reminder.NewScheduler(store, br.tbot, cfg.Location(), cfg.Workers, br.clk, l, m)

	br.manager = reminder.NewManager(br.clk, l)
	err = br.manager.DailyAt(jobDailyCheck, cfg.NotifyHour, cfg.NotifyMinute, cfg.Location(), br.dailyCheck)
	if err != nil {
		return nil, err
	}
	if err = br.manager.Every(jobMaintenance, maintenancePeriod, br.maintain); err != nil {
		return nil, err
	}

	return bot.NewContext(b, l), nil
}

func openStore(ctx context.Context, cfg *bot.Config, clk clock.Clock) (db.Store, error) {
	if cfg.DBConnStr == MemoryStore {
		m := db.NewMemory(clk)
		m.MaxBirthdays = cfg.MaxBirthdays
		m.Location = cfg.Location()
		return m, nil
	}

	d, err := db.NewDatabase(ctx, cfg.DBConnStr)
	if err != nil {
		return nil, err
	}
	d.Timeout = cfg.DBTimeout
	d.MaxBirthdays = cfg.MaxBirthdays
	d.Location = cfg.Location()
	return d, nil
}

func (br *BirthdayReminder) openLimiter(ctx context.Context, cfg *bot.Config) (throttle.Limiter, error) {
	if cfg.ThrottleInterval <= 0 {
		return nil, nil
	}

	if cfg.RedisURL == "" {
		br.throttle = throttle.NewMemory(cfg.ThrottleInterval, br.clk)
		return br.throttle, nil
	}

	client, err := throttle.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	br.redis = client
	return throttle.NewRedis(client, cfg.ThrottleInterval), nil
}

func (br *BirthdayReminder) dailyCheck(ctx context.Context) {
	if _, err := br.scheduler.Daily(ctx); err != nil {
		br.logger.Errorw("daily birthday check failed", "err", err)
	}
}

func (br *BirthdayReminder) maintain(context.Context) {
	sessions := br.dialogs.Sweep()

	users := 0
	if br.throttle != nil {
		users = br.throttle.Cleanup(maintenancePeriod)
	}

	br.logger.Infof("dropped %d idle dialogs and forgot %d throttled users", sessions, users)
}

func (br *BirthdayReminder) Run(ctx context.Context, bctx *bot.Context) error {
	if bctx.Bot == nil || br.tbot == nil {
		bctx.Logger.Warn("Bot can't run")
		return errors.New("bot isn't initialized")
	}
	defer br.Close()

	go br.manager.Run(ctx)

	uCfg := tg.NewUpdate(0)
	uCfg.Timeout = 60

	updates := bctx.Bot.GetUpdatesChan(uCfg)
	queue := bot.NewSerialQueue()

	for {
		select {
		case <-ctx.Done():
			bctx.Bot.StopReceivingUpdates()
			queue.Wait()
			br.manager.Wait()
			return nil

		case u, ok := <-updates:
			if !ok {
				return errors.New("updates channel is closed")
			}

			usr, ok := tgbot.UpdateUser(u)
			if !ok {
				continue
			}

			uctx := bctx.CloneWith(usr)
			uctx.Logger.Debugw("received update", "update", u.UpdateID)

			// updates of a user are handled in order, different users in parallel
			queue.Submit(usr, func() {
				br.tbot.HandleUpdate(ctx, uctx.Logger, u)
			})
		}
	}
}

// Close releases the store and the Redis client. It's safe to call it more
// than once.
func (br *BirthdayReminder) Close() {
	if br.store != nil {
		br.store.Close()
		br.store = nil
	}
	if br.redis != nil {
		if err := br.redis.Close(); err != nil {
			br.logger.Warnw("failed closing redis client", "err", err)
		}
		br.redis = nil
	}
}

// Migrate creates the tables of the bot.
func (br *BirthdayReminder) Migrate(ctx context.Context, cfg *bot.Config, l *zap.SugaredLogger) error {
	if cfg.DBConnStr == MemoryStore {
		l.Info("in-memory store needs no migration")
		return nil
	}

	d, err := db.NewDatabase(ctx, cfg.DBConnStr)
	if err != nil {
		return err
	}
	defer d.Close()

	d.Timeout = cfg.DBTimeout
	if err := d.Migrate(ctx); err != nil {
		return err
	}

	l.Info("database schema is up to date")
	return nil
}

// RemindOn runs the birthday check for the given day, e.g. to catch up on a
// day the bot was down.
func (br *BirthdayReminder) RemindOn(ctx context.Context, day time.Time) error {
	if br.scheduler == nil {
		return errors.New("bot isn't initialized")
	}

	report, err := br.scheduler.Run(ctx, day)
	if err != nil {
		return err
	}
	if report.Failed > 0 {
		return errors.Errorf("%d of %d notifications failed", report.Failed, report.Failed+report.Celebrations+report.Reminders)
	}
	return nil
}

// HealthChecks exposes the store and Redis to the readiness probe.
func (br *BirthdayReminder) HealthChecks() map[string]bot.HealthCheck {
	checks := map[string]bot.HealthCheck{}
	if br.store != nil {
		checks["database"] = br.store.Ping
	}
	if br.redis != nil {
		checks["redis"] = func(ctx context.Context) error {
			return br.redis.Ping(ctx).Err()
		}
	}
	return checks
}

func init() {
	bot.Register("BirthdayReminderBot", &BirthdayReminder{})
}
