// Package calendar converts birthdays to and from calendar files: iCalendar for
// export and vCard for import.
package calendar

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	"botfarm/bots/BirthdayReminder/dates"
	"botfarm/bots/BirthdayReminder/db"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-vcard"
	"github.com/pkg/errors"
)

const (
	icalVersion = "2.0"
	icalProdID  = "-//botfarm//Birthday Reminder//EN"
	icalCalName = "Birthdays"
	icalScale   = "GREGORIAN"
	icalDomain  = "birthday-reminder"

	propUID         = "UID"
	propSummary     = "SUMMARY"
	propDTStart     = "DTSTART"
	propDTStamp     = "DTSTAMP"
	propRRule       = "RRULE"
	propAction      = "ACTION"
	propDescription = "DESCRIPTION"
	propTrigger     = "TRIGGER"
	propVersion     = "VERSION"
	propProdID      = "PRODID"
	propCalName     = "X-WR-CALNAME"
	propCalScale    = "CALSCALE"

	compAlarm     = "VALARM"
	actionDisplay = "DISPLAY"

	// year of events with unknown birth year, a leap one to keep February 29
	placeholderYear = 2000

	rruleYearly         = "FREQ=YEARLY"
	rruleLastOfFebruary = "FREQ=YEARLY;BYMONTH=2;BYMONTHDAY=-1"

	fmtSummary = "🎂 %s"
	fmtUID     = "%d@" + icalDomain
	fmtTrigger = "-P%dD"
)

var (
	ErrEmpty  = errors.New("nothing to export")
	ErrNoDate = errors.New("no birthday date")
)

// Export renders the birthdays as yearly all-day events. Birthdays with a lead
// time get a display alarm that many days before.
func Export(bs []db.Birthday, now time.Time) ([]byte, error) {
	if len(bs) == 0 {
		return nil, ErrEmpty
	}

	cal := ical.NewCalendar()
	cal.Props.SetText(propVersion, icalVersion)
	cal.Props.SetText(propProdID, icalProdID)
	cal.Props.SetText(propCalName, icalCalName)
	cal.Props.SetText(propCalScale, icalScale)

	stamp := ical.NewProp(propDTStamp)
	stamp.SetDateTime(now.UTC())

	for _, b := range bs {
		cal.Children = append(cal.Children, event(b, stamp).Component)
	}

	var buf bytes.Buffer
	if err := ical.NewEncoder(&buf).Encode(cal); err != nil {
		return nil, errors.Wrap(err, "failed encoding calendar")
	}
	return buf.Bytes(), nil
}

func event(b db.Birthday, stamp *ical.Prop) *ical.Event {
	summary := fmt.Sprintf(fmtSummary, b.Name)

	e := ical.NewEvent()
	e.Props.SetText(propUID, fmt.Sprintf(fmtUID, b.ID))
	e.Props.SetText(propSummary, summary)
	e.Props.Set(stamp)

	year := b.Year
	if year == 0 {
		year = placeholderYear
	}
	start := ical.NewProp(propDTStart)
	start.SetDate(dates.Occurrence(b.Month, b.Day, year))
	e.Props.Set(start)

	// set manually to avoid the VALUE=TEXT parameter
	rrule := ical.NewProp(propRRule)
	rrule.Value = rruleYearly
	if b.Month == time.February && b.Day == 29 {
		rrule.Value = rruleLastOfFebruary
	}
	e.Props.Set(rrule)

	if b.LeadDays > 0 {
		alarm := ical.NewComponent(compAlarm)
		alarm.Props.SetText(propAction, actionDisplay)
		alarm.Props.SetText(propDescription, summary)

		trigger := ical.NewProp(propTrigger)
		trigger.Value = fmt.Sprintf(fmtTrigger, b.LeadDays)
		alarm.Props.Set(trigger)

		e.Children = append(e.Children, alarm)
	}

	return e
}

// Contact is a birthday found in an address book.
type Contact struct {
	Name string
	Date dates.Date
}

// Import reads birthdays from vCards. Cards without a name or a readable
// birthday are skipped and counted.
func Import(r io.Reader) ([]Contact, int, error) {
	dec := vcard.NewDecoder(r)

	var contacts []Contact
	skipped := 0
	for {
		card, err := dec.Decode()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			// the decoder can't resync after a broken card
			return contacts, skipped, errors.Wrap(err, "failed decoding vCard")
		}

		name := cardName(card)
		d, err := ParseBirthday(card.Value(vcard.FieldBirthday))
		if name == "" || err != nil {
			skipped++
			continue
		}
		contacts = append(contacts, Contact{Name: name, Date: d})
	}

	return contacts, skipped, nil
}

func cardName(card vcard.Card) string {
	if fn := strings.TrimSpace(card.PreferredValue(vcard.FieldFormattedName)); fn != "" {
		return fn
	}
	if n := card.Name(); n != nil {
		return strings.TrimSpace(n.GivenName + " " + n.FamilyName)
	}
	return ""
}

var (
	formatsWithYear    = []string{"2006-01-02", "20060102", time.RFC3339, "2006-01-02T15:04:05"}
	formatsWithoutYear = []string{"--01-02", "--0102"}
)

// ParseBirthday reads a vCard BDAY value.
func ParseBirthday(value string) (dates.Date, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return dates.Date{}, ErrNoDate
	}

	for _, f := range formatsWithYear {
		if t, err := time.Parse(f, value); err == nil {
			return dates.Date{Day: t.Day(), Month: t.Month(), Year: t.Year()}, nil
		}
	}

	// time.Parse resolves these to year 0, which has February 29
	for _, f := range formatsWithoutYear {
		if t, err := time.Parse(f, value); err == nil {
			return dates.Date{Day: t.Day(), Month: t.Month()}, nil
		}
	}

	return dates.Date{}, errors.Wrapf(dates.ErrBadFormat, "birthday %q", value)
}
