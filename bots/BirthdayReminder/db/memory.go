package db

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jmhodges/clock"
)

// Memory is a Store kept in process memory. It's used when no database is
// configured and in tests.
type Memory struct {
	mu           sync.Mutex
	clk          clock.Clock
	lastID       int64
	users        map[int64]int64 // user ID -> chat ID
	birthdays    map[int64][]Birthday
	MaxBirthdays int
	Location     *time.Location // calendar of the users, bounds birth years
}

func NewMemory(clk clock.Clock) *Memory {
	return &Memory{
		clk:          clk,
		users:        make(map[int64]int64),
		birthdays:    make(map[int64][]Birthday),
		MaxBirthdays: DefaultMaxBirthdays,
		Location:     time.UTC,
	}
}

func (m *Memory) CreateUser(_ context.Context, usr, cht int64, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.users[usr] = cht
	return nil
}

func (m *Memory) CreateBirthday(ctx context.Context, nb NewBirthday) (int64, error) {
	nb.Name = NormalizeName(nb.Name)
	if err := nb.Validate(m.clk.Now().In(m.Location)); err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.MaxBirthdays > 0 && len(m.birthdays[nb.Owner]) >= m.MaxBirthdays {
		return 0, ErrCapacity
	}

	m.lastID++
	m.birthdays[nb.Owner] = append(m.birthdays[nb.Owner], Birthday{
		ID:       m.lastID,
		Owner:    nb.Owner,
		Name:     nb.Name,
		Month:    nb.Date.Month,
		Day:      nb.Date.Day,
		Year:     nb.Date.Year,
		LeadDays: nb.LeadDays,
	})
	return m.lastID, nil
}

func (m *Memory) ListBirthdays(ctx context.Context, owner int64) ([]Birthday, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	bs := append([]Birthday(nil), m.birthdays[owner]...)
	m.mu.Unlock()

	sortBirthdays(bs)
	return bs, nil
}

func (m *Memory) DeleteBirthday(ctx context.Context, id, owner int64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	bs := m.birthdays[owner]
	for i := range bs {
		if bs[i].ID == id {
			m.birthdays[owner] = append(bs[:i:i], bs[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (m *Memory) CountBirthdays(_ context.Context, owner int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.birthdays[owner]), nil
}

func (m *Memory) ScanBirthdays(ctx context.Context) ([]Scheduled, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var ss []Scheduled
	for owner, bs := range m.birthdays {
		cht, ok := m.users[owner]
		if !ok {
			continue
		}
		for _, b := range bs {
			ss = append(ss, Scheduled{Birthday: b, ChatID: cht})
		}
	}

	sort.Slice(ss, func(i, j int) bool {
		if ss[i].Owner != ss[j].Owner {
			return ss[i].Owner < ss[j].Owner
		}
		return less(ss[i].Birthday, ss[j].Birthday)
	})
	return ss, nil
}

func (m *Memory) Ping(context.Context) error {
	return nil
}

func (m *Memory) Close() {}

func sortBirthdays(bs []Birthday) {
	sort.Slice(bs, func(i, j int) bool { return less(bs[i], bs[j]) })
}

// less orders birthdays by month, day and ID, same as the SQL store
func less(a, b Birthday) bool {
	if a.Month != b.Month {
		return a.Month < b.Month
	}
	if a.Day != b.Day {
		return a.Day < b.Day
	}
	return a.ID < b.ID
}
