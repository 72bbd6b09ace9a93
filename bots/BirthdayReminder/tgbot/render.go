package tgbot

import (
	"fmt"
	"html"
	"strings"
	"time"

	"botfarm/bots/BirthdayReminder/dates"
	"botfarm/bots/BirthdayReminder/db"
	"botfarm/bots/BirthdayReminder/reminder"
)

const numAssumedAvgLine = 48

// RenderCelebration renders the message sent on the birthday itself.
func RenderCelebration(n reminder.Notification) string {
	txt := fmt.Sprintf(fmtCelebration, html.EscapeString(n.Birthday.Name))
	if n.HasAge {
		txt += fmt.Sprintf(fmtTurnsToday, n.Age)
	}
	return txt
}

// RenderUpcoming renders the advance reminder.
func RenderUpcoming(n reminder.Notification) string {
	txt := fmt.Sprintf(fmtUpcoming, html.EscapeString(n.Birthday.Name), inDays(n.DaysLeft), dayMonth(n.On))
	if n.HasAge {
		txt += fmt.Sprintf(fmtWillTurn, n.Age)
	}
	return txt
}

// RenderList renders all the user's birthdays with current ages.
func RenderList(bs []db.Birthday, now time.Time) string {
	if len(bs) == 0 {
		return txtNoBirthdays
	}

	var sb strings.Builder
	sb.Grow(numAssumedAvgLine * (len(bs) + 1))
	sb.WriteString(txtYourBirthdays)
	for i, b := range bs {
		if i > 0 {
			sb.WriteByte('\n')
		}
		fmt.Fprintf(&sb, fmtListLine, i+1, html.EscapeString(b.Name), b.Date())
		if age, err := dates.Age(b.Date(), now); err == nil {
			fmt.Fprintf(&sb, fmtListAge, age)
		}
	}
	return sb.String()
}

// RenderUpcomingList renders birthdays returned by reminder.Upcoming.
func RenderUpcomingList(ubs []reminder.UpcomingBirthday, window int) string {
	if len(ubs) == 0 {
		return fmt.Sprintf(fmtNoUpcoming, window)
	}

	var sb strings.Builder
	sb.Grow(numAssumedAvgLine * (len(ubs) + 1))
	sb.WriteString(txtUpcomingBirthdays)
	for i, u := range ubs {
		if i > 0 {
			sb.WriteByte('\n')
		}
		fmt.Fprintf(&sb, fmtUpcomingLine, html.EscapeString(u.Name), dayMonth(u.On), inDays(u.DaysLeft))
		if age, err := dates.Age(u.Date(), u.On); err == nil {
			fmt.Fprintf(&sb, fmtUpcomingAge, age)
		}
	}
	return sb.String()
}

func inDays(n int) string {
	switch n {
	case 0:
		return txtToday
	case 1:
		return txtTomorrow
	}
	return fmt.Sprintf(fmtInDays, n)
}

func dayMonth(t time.Time) string {
	return dates.Date{Day: t.Day(), Month: t.Month()}.String()
}
