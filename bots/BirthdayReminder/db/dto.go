package db

import (
	"strings"
	"time"
	"unicode/utf8"

	"botfarm/bots/BirthdayReminder/dates"

	"github.com/pkg/errors"
	"golang.org/x/text/unicode/norm"
)

const (
	MaxNameLength = 100 // in characters, matches birthdays.name
	MaxLeadDays   = 365
)

var (
	ErrCapacity = errors.New("too many birthdays")
	ErrInvalid  = errors.New("invalid birthday")
)

// Birthday is a stored event.
type Birthday struct {
	ID       int64
	Owner    int64      // user who registered the birthday
	Name     string     // whose birthday it is
	Month    time.Month //
	Day      int        //
	Year     int        // birth year, 0 if unknown
	LeadDays int        // days before the birthday to remind, 0 to never remind
}

func (b Birthday) Date() dates.Date {
	return dates.Date{Day: b.Day, Month: b.Month, Year: b.Year}
}

// Scheduled is a birthday together with the chat its owner is reachable in.
type Scheduled struct {
	Birthday
	ChatID int64
}

// NewBirthday carries fields of a birthday to create.
type NewBirthday struct {
	Owner    int64
	Name     string
	Date     dates.Date
	LeadDays int
}

// NormalizeName trims the name and brings it to the canonical Unicode form so
// that length checks count what the user sees.
func NormalizeName(name string) string {
	return norm.NFC.String(strings.TrimSpace(name))
}

// Validate checks the birthday against the constraints of the table. now is
// used to reject birth years in the future.
func (nb *NewBirthday) Validate(now time.Time) error {
	n := utf8.RuneCountInString(nb.Name)
	switch {
	case n == 0:
		return errors.Wrap(ErrInvalid, "empty name")
	case n > MaxNameLength:
		return errors.Wrapf(ErrInvalid, "name is longer than %d characters", MaxNameLength)
	case !dates.Valid(nb.Date.Month, nb.Date.Day):
		return errors.Wrapf(ErrInvalid, "no such date %s", nb.Date)
	case nb.LeadDays < 0 || nb.LeadDays > MaxLeadDays:
		return errors.Wrapf(ErrInvalid, "lead days must be in 0-%d", MaxLeadDays)
	}

	if nb.Date.HasYear() {
		if nb.Date.Year < dates.MinYear || nb.Date.Year > now.Year() {
			return errors.Wrapf(ErrInvalid, "year %d is out of range", nb.Date.Year)
		}
		if nb.Date.Month == time.February && nb.Date.Day == 29 && !dates.IsLeap(nb.Date.Year) {
			return errors.Wrapf(ErrInvalid, "no such date %s", nb.Date)
		}
	}

	return nil
}
