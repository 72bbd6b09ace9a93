package reminder

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"botfarm/bots/BirthdayReminder/dates"
	"botfarm/bots/BirthdayReminder/db"
	"botfarm/bots/BirthdayReminder/metrics"

	"github.com/google/uuid"
	"github.com/jmhodges/clock"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const DefaultWorkers = 8

type Kind int

const (
	KindCelebration Kind = iota // the birthday is today
	KindUpcoming                // the birthday is LeadDays away
)

func (k Kind) String() string {
	switch k {
	case KindCelebration:
		return "celebration"
	case KindUpcoming:
		return "upcoming"
	}
	return "unknown"
}

// Notification is a message about a single birthday to its owner.
type Notification struct {
	Kind     Kind
	ChatID   int64
	Birthday db.Birthday
	On       time.Time // occurrence date
	DaysLeft int
	Age      int // age on the occurrence date, valid if HasAge
	HasAge   bool
}

type Source interface {
	ScanBirthdays(ctx context.Context) ([]db.Scheduled, error)
}

type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Due returns the notification the birthday deserves on the calendar date of
// today. A birthday gets at most one notification a day: a celebration wins
// over an advance reminder.
func Due(s db.Scheduled, today time.Time) (Notification, bool) {
	n := Notification{ChatID: s.ChatID, Birthday: s.Birthday}

	switch {
	case dates.IsToday(s.Month, s.Day, today):
		n.Kind = KindCelebration
		n.On = dates.Midnight(today)

	case s.LeadDays > 0 && dates.DaysUntil(s.Month, s.Day, today) == s.LeadDays:
		n.Kind = KindUpcoming
		n.On = dates.Next(s.Month, s.Day, today)
		n.DaysLeft = s.LeadDays

	default:
		return Notification{}, false
	}

	if age, err := dates.Age(s.Date(), n.On); err == nil {
		n.Age, n.HasAge = age, true
	}
	return n, true
}

// Report sums up a birthday check.
type Report struct {
	Scanned      int
	Celebrations int
	Reminders    int
	Failed       int
}

type Scheduler struct {
	source   Source
	notifier Notifier
	logger   *zap.SugaredLogger
	clk      clock.Clock
	loc      *time.Location
	workers  int
	metrics  *metrics.Metrics

	mu      sync.Mutex
	lastDay time.Time // calendar day of the last daily check
}

func NewScheduler(src Source, n Notifier, loc *time.Location, workers int, clk clock.Clock, l *zap.SugaredLogger, m *metrics.Metrics) *Scheduler {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if loc == nil {
		loc = time.UTC
	}

	return &Scheduler{
		source:   src,
		notifier: n,
		logger:   l,
		clk:      clk,
		loc:      loc,
		workers:  workers,
		metrics:  m,
	}
}

// Run checks every birthday against the calendar date of now in the
// scheduler's location and sends what's due. Failed deliveries are logged and
// counted but neither retried nor stopping the check.
func (s *Scheduler) Run(ctx context.Context, now time.Time) (Report, error) {
	start := s.clk.Now()
	today := now.In(s.loc)
	l := s.logger.With("run", uuid.NewString())

	bs, err := s.source.ScanBirthdays(ctx)
	if err != nil {
		l.Errorw("failed scanning birthdays", "err", err)
		return Report{}, errors.Wrap(err, "failed scanning birthdays")
	}

	l.Infof("checking %d birthdays for %s", len(bs), today.Format(time.DateOnly))

	var celebrations, reminders, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)

	for _, b := range bs {
		b := b
		n, ok := Due(b, today)
		if !ok {
			continue
		}

		g.Go(func() error {
			if err := s.notifier.Notify(gctx, n); err != nil {
				l.Errorw("failed sending notification", "usr", b.Owner, "birthday", b.ID, "kind", n.Kind.String(), "err", err)
				failed.Add(1)
				s.metrics.IncrementNotification(n.Kind.String(), false)
				return nil
			}

			if n.Kind == KindCelebration {
				celebrations.Add(1)
			} else {
				reminders.Add(1)
			}
			s.metrics.IncrementNotification(n.Kind.String(), true)
			return nil
		})
	}
	_ = g.Wait()

	report := Report{
		Scanned:      len(bs),
		Celebrations: int(celebrations.Load()),
		Reminders:    int(reminders.Load()),
		Failed:       int(failed.Load()),
	}
	s.metrics.ObserveSchedulerRun(s.clk.Now().Sub(start))
	l.Infof("sent %d celebrations and %d reminders, %d failed", report.Celebrations, report.Reminders, report.Failed)

	return report, nil
}

// Daily runs the check for the current day unless it has already been done
// today.
func (s *Scheduler) Daily(ctx context.Context) (Report, error) {
	now := s.clk.Now().In(s.loc)
	day := dates.Midnight(now)

	s.mu.Lock()
	if s.lastDay.Equal(day) {
		s.mu.Unlock()
		s.logger.Infof("birthdays have already been checked on %s", day.Format(time.DateOnly))
		return Report{}, nil
	}
	s.lastDay = day
	s.mu.Unlock()

	report, err := s.Run(ctx, now)
	if err != nil {
		// let the next trigger of the day try again
		s.mu.Lock()
		s.lastDay = time.Time{}
		s.mu.Unlock()
	}
	return report, err
}

// UpcomingBirthday is a birthday with its nearest occurrence.
type UpcomingBirthday struct {
	db.Birthday
	On       time.Time
	DaysLeft int
}

// Upcoming returns the birthdays occurring within window days from the
// calendar date of from, the nearest first.
func Upcoming(bs []db.Birthday, from time.Time, window int) []UpcomingBirthday {
	var ubs []UpcomingBirthday
	for _, b := range bs {
		n := dates.DaysUntil(b.Month, b.Day, from)
		if n > window {
			continue
		}
		ubs = append(ubs, UpcomingBirthday{
			Birthday: b,
			On:       dates.Next(b.Month, b.Day, from),
			DaysLeft: n,
		})
	}

	sort.SliceStable(ubs, func(i, j int) bool {
		if ubs[i].DaysLeft != ubs[j].DaysLeft {
			return ubs[i].DaysLeft < ubs[j].DaysLeft
		}
		return ubs[i].Name < ubs[j].Name
	})
	return ubs
}
