// Package dialog keeps the per-user conversations that add and delete
// birthdays step by step.
package dialog

import (
	"context"
	"fmt"
	"html"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"botfarm/bots/BirthdayReminder/dates"
	"botfarm/bots/BirthdayReminder/db"
	"botfarm/bots/BirthdayReminder/metrics"

	"github.com/jmhodges/clock"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type Phase int

const (
	Idle Phase = iota
	AwaitingName
	AwaitingDate
	AwaitingConfirmation
	AwaitingDeleteIndex
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case AwaitingName:
		return "awaiting name"
	case AwaitingDate:
		return "awaiting date"
	case AwaitingConfirmation:
		return "awaiting confirmation"
	case AwaitingDeleteIndex:
		return "awaiting delete index"
	}
	return "unknown"
}

var (
	ErrNameLength = errors.New("name length is out of range")
	ErrIndex      = errors.New("index is out of range")
)

// Store is the part of the event store the dialogs use.
type Store interface {
	CreateBirthday(ctx context.Context, nb db.NewBirthday) (int64, error)
	ListBirthdays(ctx context.Context, owner int64) ([]db.Birthday, error)
	DeleteBirthday(ctx context.Context, id, owner int64) (bool, error)
}

type Options struct {
	MaxNameLength   int
	DefaultLeadDays int
	MaxBirthdays    int           // only used in messages, the store enforces it
	Confirm         bool          // ask to confirm before saving a birthday
	TTL             time.Duration // idle sessions older than that are dropped by Sweep
	Location        *time.Location
}

func DefaultOptions() Options {
	return Options{
		MaxNameLength:   db.MaxNameLength,
		DefaultLeadDays: 1,
		MaxBirthdays:    db.DefaultMaxBirthdays,
		TTL:             30 * time.Minute,
		Location:        time.UTC,
	}
}

// Draft is a birthday being added.
type Draft struct {
	Name string
	Date dates.Date
}

// Session is the conversation state of a single user.
type Session struct {
	mu       sync.Mutex
	Phase    Phase
	Draft    Draft
	Snapshot []db.Birthday // birthdays as listed to the user, resolves the index to delete

	touched time.Time
	refs    int // holders and waiters, guarded by Machine.mu
}

func (s *Session) reset() {
	s.Phase = Idle
	s.Draft = Draft{}
	s.Snapshot = nil
}

// Reply is what the user gets after a step. Phase is the phase the session
// ended up in.
type Reply struct {
	Text  string
	Phase Phase
}

// Cancelable reports whether a dialog is in progress and may be cancelled.
func (r Reply) Cancelable() bool {
	return r.Phase != Idle
}

// Confirmable reports whether the reply asks to confirm a birthday.
func (r Reply) Confirmable() bool {
	return r.Phase == AwaitingConfirmation
}

// Machine owns every user's session. Steps of the same user are serialized,
// steps of different users run concurrently.
type Machine struct {
	store   Store
	opts    Options
	clk     clock.Clock
	logger  *zap.SugaredLogger
	metrics *metrics.Metrics

	mu       sync.Mutex
	sessions map[int64]*Session
}

func NewMachine(store Store, opts Options, clk clock.Clock, l *zap.SugaredLogger, m *metrics.Metrics) *Machine {
	if opts.MaxNameLength <= 0 || opts.MaxNameLength > db.MaxNameLength {
		opts.MaxNameLength = db.MaxNameLength
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}

	return &Machine{
		store:    store,
		opts:     opts,
		clk:      clk,
		logger:   l,
		metrics:  m,
		sessions: make(map[int64]*Session),
	}
}

// acquire returns the user's session locked
func (m *Machine) acquire(usr int64) *Session {
	m.mu.Lock()
	s, ok := m.sessions[usr]
	if !ok {
		s = &Session{}
		m.sessions[usr] = s
	}
	s.refs++
	m.mu.Unlock()

	s.mu.Lock()
	return s
}

// release unlocks the session and drops the reference to it
func (m *Machine) release(usr int64, s *Session, touch bool) {
	if touch {
		s.touched = m.clk.Now()
	}
	s.mu.Unlock()

	m.unref(usr, s)
}

// unref forgets the session when nobody needs it and there's no dialog in
// progress. The phase is read here since a holder waiting behind the caller
// may have changed it.
func (m *Machine) unref(usr int64, s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s.refs--
	if s.refs == 0 && s.Phase == Idle {
		delete(m.sessions, usr)
	}
}

// Phase returns the phase of the user's session.
func (m *Machine) Phase(usr int64) Phase {
	s := m.acquire(usr)
	defer m.release(usr, s, false)

	return s.Phase
}

// StartAdd begins adding a birthday. A dialog in progress is dropped.
func (m *Machine) StartAdd(_ context.Context, usr int64) Reply {
	s := m.acquire(usr)
	defer m.release(usr, s, true)

	s.reset()
	s.Phase = AwaitingName
	return Reply{Text: txtEnterName, Phase: s.Phase}
}

// StartDelete lists the user's birthdays to choose the one to delete. The list
// is kept, so the number the user sends refers to what they saw.
func (m *Machine) StartDelete(ctx context.Context, usr int64) Reply {
	s := m.acquire(usr)
	defer m.release(usr, s, true)

	bs, err := m.store.ListBirthdays(ctx, usr)
	if err != nil {
		m.logger.Errorw("failed listing birthdays", "usr", usr, "err", err)
		return Reply{Text: txtFailure, Phase: s.Phase}
	}

	s.reset()
	if len(bs) == 0 {
		return Reply{Text: txtNothingToDelete, Phase: s.Phase}
	}

	s.Snapshot = bs
	s.Phase = AwaitingDeleteIndex

	var sb strings.Builder
	sb.WriteString(txtWhatToDelete)
	for i, b := range bs {
		fmt.Fprintf(&sb, fmtDeleteLine, i+1, html.EscapeString(b.Name), b.Date())
	}
	return Reply{Text: strings.TrimSuffix(sb.String(), "\n"), Phase: s.Phase}
}

// HandleText feeds a free-form message to the user's dialog.
func (m *Machine) HandleText(ctx context.Context, usr int64, text string) Reply {
	s := m.acquire(usr)
	defer m.release(usr, s, true)

	switch s.Phase {
	case AwaitingName:
		name, err := m.validateName(text)
		if err != nil {
			return Reply{Text: fmt.Sprintf(fmtNameLength, m.opts.MaxNameLength), Phase: s.Phase}
		}
		s.Draft.Name = name
		s.Phase = AwaitingDate
		return Reply{Text: txtEnterDate, Phase: s.Phase}

	case AwaitingDate:
		now := m.clk.Now().In(m.opts.Location)
		d, err := dates.Parse(text, now)
		switch {
		case errors.Is(err, dates.ErrNoSuchDate):
			return Reply{Text: txtNoSuchDate, Phase: s.Phase}
		case errors.Is(err, dates.ErrYearOutOfRange):
			return Reply{Text: fmt.Sprintf(fmtYearOutOfRange, dates.MinYear, now.Year()), Phase: s.Phase}
		case err != nil:
			return Reply{Text: txtBadDateFormat, Phase: s.Phase}
		}

		s.Draft.Date = d
		if m.opts.Confirm {
			s.Phase = AwaitingConfirmation
			return Reply{Text: m.confirmText(s.Draft, now), Phase: s.Phase}
		}
		return m.commit(ctx, usr, s)

	case AwaitingConfirmation:
		return Reply{Text: txtPressConfirm, Phase: s.Phase}

	case AwaitingDeleteIndex:
		i, err := parseIndex(text, len(s.Snapshot))
		if err != nil {
			return Reply{Text: fmt.Sprintf(fmtIndexRange, len(s.Snapshot)), Phase: s.Phase}
		}
		return m.delete(ctx, usr, s, s.Snapshot[i-1])
	}

	return Reply{Text: txtUseCommands, Phase: s.Phase}
}

// Confirm saves the birthday awaiting confirmation or drops it.
func (m *Machine) Confirm(ctx context.Context, usr int64, yes bool) Reply {
	s := m.acquire(usr)
	defer m.release(usr, s, true)

	if s.Phase != AwaitingConfirmation {
		return Reply{Text: txtNothingToConfirm, Phase: s.Phase}
	}

	if !yes {
		s.reset()
		return Reply{Text: txtCancelled, Phase: s.Phase}
	}
	return m.commit(ctx, usr, s)
}

// Cancel drops the dialog in progress, if any.
func (m *Machine) Cancel(usr int64) Reply {
	s := m.acquire(usr)
	defer m.release(usr, s, true)

	if s.Phase == Idle {
		return Reply{Text: txtNothingToCancel, Phase: s.Phase}
	}

	s.reset()
	return Reply{Text: txtCancelled, Phase: s.Phase}
}

// Sweep drops the sessions nobody has touched for longer than TTL and returns
// how many were dropped.
func (m *Machine) Sweep() int {
	if m.opts.TTL <= 0 {
		return 0
	}
	now := m.clk.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for usr, s := range m.sessions {
		// sessions in use are locked by their holders
		if s.refs > 0 {
			continue
		}
		if now.Sub(s.touched) > m.opts.TTL {
			delete(m.sessions, usr)
			n++
		}
	}
	return n
}

func (m *Machine) commit(ctx context.Context, usr int64, s *Session) Reply {
	draft := s.Draft
	s.reset()

	_, err := m.store.CreateBirthday(ctx, db.NewBirthday{
		Owner:    usr,
		Name:     draft.Name,
		Date:     draft.Date,
		LeadDays: m.opts.DefaultLeadDays,
	})
	switch {
	case errors.Is(err, db.ErrCapacity):
		return Reply{Text: fmt.Sprintf(fmtCapacity, m.opts.MaxBirthdays), Phase: s.Phase}
	case err != nil:
		m.logger.Errorw("failed adding birthday", "usr", usr, "err", err)
		return Reply{Text: txtFailedAddBirthday, Phase: s.Phase}
	}

	m.metrics.IncrementCreated()

	text := fmt.Sprintf(fmtAdded, html.EscapeString(draft.Name), draft.Date)
	if m.opts.DefaultLeadDays > 0 {
		text += fmt.Sprintf(fmtRemindBefore, m.opts.DefaultLeadDays)
	}
	return Reply{Text: text, Phase: s.Phase}
}

func (m *Machine) delete(ctx context.Context, usr int64, s *Session, b db.Birthday) Reply {
	s.reset()

	ok, err := m.store.DeleteBirthday(ctx, b.ID, usr)
	switch {
	case err != nil:
		m.logger.Errorw("failed deleting birthday", "usr", usr, "birthday", b.ID, "err", err)
		return Reply{Text: txtFailedDelBirthday, Phase: s.Phase}
	case !ok:
		return Reply{Text: txtAlreadyDeleted, Phase: s.Phase}
	}

	m.metrics.IncrementDeleted()
	return Reply{Text: fmt.Sprintf(fmtDeleted, html.EscapeString(b.Name)), Phase: s.Phase}
}

func (m *Machine) confirmText(d Draft, now time.Time) string {
	text := fmt.Sprintf(fmtConfirm, html.EscapeString(d.Name), d.Date)
	if age, err := dates.Age(d.Date, now); err == nil {
		text += fmt.Sprintf(fmtConfirmAge, age)
	}
	return text
}

func (m *Machine) validateName(text string) (string, error) {
	name := db.NormalizeName(text)
	n := utf8.RuneCountInString(name)
	if n == 0 || n > m.opts.MaxNameLength {
		return "", ErrNameLength
	}
	return name, nil
}

// parseIndex reads a 1-based index into a list of n elements
func parseIndex(text string, n int) (int, error) {
	i, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil || i < 1 || i > n {
		return 0, ErrIndex
	}
	return i, nil
}
