// Package dates computes birthday occurrences, countdowns and ages. Every
// function is pure: only the calendar date of a reference time is taken into
// account, in the reference's own location.
package dates

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// MinYear is the earliest birth year accepted.
const MinYear = 1900

const day = 24 * time.Hour

var (
	ErrBadFormat      = errors.New("unknown date format")
	ErrNoSuchDate     = errors.New("date doesn't exist")
	ErrYearOutOfRange = errors.New("year is out of range")
	ErrNoYear         = errors.New("year is unknown")
)

// DD.MM or DD.MM.YYYY, day and month may have a single digit
var datePattern = regexp.MustCompile(`^(\d{1,2})\.(\d{1,2})(?:\.(\d{4}))?$`)

// Date is a birthday: day and month, and the year when it's known.
type Date struct {
	Day   int
	Month time.Month
	Year  int // 0 if unknown
}

func (d Date) HasYear() bool {
	return d.Year != 0
}

func (d Date) String() string {
	if d.HasYear() {
		return fmt.Sprintf("%02d.%02d.%04d", d.Day, d.Month, d.Year)
	}
	return fmt.Sprintf("%02d.%02d", d.Day, d.Month)
}

// IsLeap reports whether the year has February 29.
func IsLeap(year int) bool {
	return year%4 == 0 && (year%100 != 0 || year%400 == 0)
}

// Valid reports whether month and day form a date in some year, so February 29
// is valid.
func Valid(month time.Month, d int) bool {
	if month < time.January || month > time.December || d < 1 {
		return false
	}
	return d <= daysIn(month, 2000)
}

func daysIn(month time.Month, year int) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// Occurrence returns the birthday in the given year as a UTC midnight. February
// 29 falls on February 28 in non-leap years.
func Occurrence(month time.Month, d, year int) time.Time {
	if month == time.February && d == 29 && !IsLeap(year) {
		d = 28
	}
	return time.Date(year, month, d, 0, 0, 0, 0, time.UTC)
}

// Next returns the nearest occurrence on or after the calendar date of from.
func Next(month time.Month, d int, from time.Time) time.Time {
	today := Midnight(from)
	next := Occurrence(month, d, today.Year())
	if next.Before(today) {
		next = Occurrence(month, d, today.Year()+1)
	}
	return next
}

// DaysUntil returns the number of days from the calendar date of from to the
// next occurrence, 0 if it's today.
func DaysUntil(month time.Month, d int, from time.Time) int {
	return int(Next(month, d, from).Sub(Midnight(from)) / day)
}

// Age returns how old the person is on the calendar date of ref.
func Age(d Date, ref time.Time) (int, error) {
	if !d.HasYear() {
		return 0, ErrNoYear
	}

	today := Midnight(ref)
	age := today.Year() - d.Year
	if Occurrence(d.Month, d.Day, today.Year()).After(today) {
		age--
	}
	return age, nil
}

// IsToday reports exact match of month and day. February 29 matches in leap
// years only.
func IsToday(month time.Month, d int, ref time.Time) bool {
	_, m, dd := ref.Date()
	return m == month && dd == d
}

// Midnight drops the clock of t keeping its calendar date, the result is in UTC.
func Midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Parse reads DD.MM.YYYY or DD.MM. The year, if given, must be in
// [MinYear, now.Year()].
func Parse(text string, now time.Time) (Date, error) {
	m := datePattern.FindStringSubmatch(strings.TrimSpace(text))
	if m == nil {
		return Date{}, ErrBadFormat
	}

	// the pattern guarantees digits
	dd, _ := strconv.Atoi(m[1])
	mm, _ := strconv.Atoi(m[2])
	d := Date{Day: dd, Month: time.Month(mm)}

	if !Valid(d.Month, d.Day) {
		return Date{}, ErrNoSuchDate
	}

	if m[3] == "" {
		return d, nil
	}

	d.Year, _ = strconv.Atoi(m[3])
	if d.Year < MinYear || d.Year > now.Year() {
		return Date{}, ErrYearOutOfRange
	}

	if d.Month == time.February && d.Day == 29 && !IsLeap(d.Year) {
		return Date{}, ErrNoSuchDate
	}

	return d, nil
}
