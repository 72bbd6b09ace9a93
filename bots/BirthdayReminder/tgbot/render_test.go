package tgbot

import (
	"testing"
	"time"

	"botfarm/bots/BirthdayReminder/db"
	"botfarm/bots/BirthdayReminder/reminder"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
)

func newGoldie(t *testing.T) *goldie.Goldie {
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

func day(month time.Month, d int) time.Time {
	return time.Date(2025, month, d, 0, 0, 0, 0, time.UTC)
}

func TestRenderNotifications(t *testing.T) {
	g := newGoldie(t)

	tests := []struct {
		name   string
		render func(reminder.Notification) string
		n      reminder.Notification
	}{
		{
			name:   "celebration",
			render: RenderCelebration,
			n: reminder.Notification{
				Kind:     reminder.KindCelebration,
				Birthday: db.Birthday{Name: "Ann & <Co>", Month: time.December, Day: 25, Year: 1990},
				On:       day(time.December, 25),
				Age:      35,
				HasAge:   true,
			},
		},
		{
			name:   "celebration_no_year",
			render: RenderCelebration,
			n: reminder.Notification{
				Kind:     reminder.KindCelebration,
				Birthday: db.Birthday{Name: "Cy", Month: time.October, Day: 18},
				On:       day(time.October, 18),
			},
		},
		{
			name:   "upcoming",
			render: RenderUpcoming,
			n: reminder.Notification{
				Kind:     reminder.KindUpcoming,
				Birthday: db.Birthday{Name: "Bob", Month: time.October, Day: 21, Year: 2000, LeadDays: 3},
				On:       day(time.October, 21),
				DaysLeft: 3,
				Age:      25,
				HasAge:   true,
			},
		},
		{
			name:   "upcoming_tomorrow",
			render: RenderUpcoming,
			n: reminder.Notification{
				Kind:     reminder.KindUpcoming,
				Birthday: db.Birthday{Name: "Cy", Month: time.October, Day: 19, LeadDays: 1},
				On:       day(time.October, 19),
				DaysLeft: 1,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g.Assert(t, tt.name, []byte(tt.render(tt.n)))
		})
	}
}

func TestRenderList(t *testing.T) {
	bs := []db.Birthday{
		{ID: 1, Name: "Ann", Month: time.January, Day: 5, Year: 1990},
		{ID: 2, Name: "Bob", Month: time.October, Day: 21, Year: 2000},
		{ID: 3, Name: "Cy", Month: time.December, Day: 31},
	}

	newGoldie(t).Assert(t, "list", []byte(RenderList(bs, now)))
	assert.Equal(t, txtNoBirthdays, RenderList(nil, now))
}

func TestRenderUpcomingList(t *testing.T) {
	bs := []db.Birthday{
		{ID: 1, Name: "Dee", Month: time.December, Day: 25},
		{ID: 2, Name: "Cy", Month: time.November, Day: 10},
		{ID: 3, Name: "Bob", Month: time.October, Day: 21, Year: 2000},
		{ID: 4, Name: "Ann", Month: time.October, Day: 18, Year: 1990},
	}

	ubs := reminder.Upcoming(bs, now, 30)
	newGoldie(t).Assert(t, "upcoming_list", []byte(RenderUpcomingList(ubs, 30)))
	assert.Equal(t, "There are no birthdays in the next 30 days", RenderUpcomingList(nil, 30))
}

func TestInDays(t *testing.T) {
	assert.Equal(t, "today", inDays(0))
	assert.Equal(t, "tomorrow", inDays(1))
	assert.Equal(t, "in 12 days", inDays(12))
}
