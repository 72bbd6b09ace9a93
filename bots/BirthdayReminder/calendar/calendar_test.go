package calendar

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"botfarm/bots/BirthdayReminder/dates"
	"botfarm/bots/BirthdayReminder/db"

	"github.com/emersion/go-ical"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2025, time.October, 18, 12, 0, 0, 0, time.UTC)

func TestExport(t *testing.T) {
	data, err := Export([]db.Birthday{
		{ID: 1, Name: "Ann", Month: time.December, Day: 25, Year: 1990, LeadDays: 3},
		{ID: 2, Name: "Bob", Month: time.February, Day: 29},
	}, now)
	require.NoError(t, err)

	cal, err := ical.NewDecoder(bytes.NewReader(data)).Decode()
	require.NoError(t, err)

	name, err := cal.Props.Text(propCalName)
	require.NoError(t, err)
	assert.Equal(t, icalCalName, name)

	events := cal.Events()
	require.Len(t, events, 2)

	ann := events[0]
	summary, err := ann.Props.Text(propSummary)
	require.NoError(t, err)
	assert.Equal(t, "🎂 Ann", summary)
	assert.Equal(t, "1@birthday-reminder", ann.Props.Get(propUID).Value)
	assert.Equal(t, "19901225", ann.Props.Get(propDTStart).Value)
	assert.Equal(t, rruleYearly, ann.Props.Get(propRRule).Value)
	assert.Equal(t, "20251018T120000Z", ann.Props.Get(propDTStamp).Value)
	require.Len(t, ann.Children, 1)
	assert.Equal(t, compAlarm, ann.Children[0].Name)
	assert.Equal(t, "-P3D", ann.Children[0].Props.Get(propTrigger).Value)

	bob := events[1]
	assert.Equal(t, "20000229", bob.Props.Get(propDTStart).Value)
	assert.Equal(t, rruleLastOfFebruary, bob.Props.Get(propRRule).Value)
	assert.Empty(t, bob.Children, "no lead time, no alarm")
}

func TestExport_Empty(t *testing.T) {
	_, err := Export(nil, now)
	assert.ErrorIs(t, err, ErrEmpty)
}

const addressBook = "BEGIN:VCARD\r\n" +
	"VERSION:3.0\r\n" +
	"FN:Ann Smith\r\n" +
	"BDAY:1990-04-15\r\n" +
	"END:VCARD\r\n" +
	"BEGIN:VCARD\r\n" +
	"VERSION:4.0\r\n" +
	"FN:Leap Person\r\n" +
	"BDAY:--0229\r\n" +
	"END:VCARD\r\n" +
	"BEGIN:VCARD\r\n" +
	"VERSION:3.0\r\n" +
	"FN:No Birthday\r\n" +
	"END:VCARD\r\n" +
	"BEGIN:VCARD\r\n" +
	"VERSION:3.0\r\n" +
	"N:Doe;John;;;\r\n" +
	"BDAY:19851231\r\n" +
	"END:VCARD\r\n" +
	"BEGIN:VCARD\r\n" +
	"VERSION:3.0\r\n" +
	"FN:Bad Date\r\n" +
	"BDAY:sometime in May\r\n" +
	"END:VCARD\r\n"

func TestImport(t *testing.T) {
	contacts, skipped, err := Import(strings.NewReader(addressBook))
	require.NoError(t, err)

	assert.Equal(t, []Contact{
		{Name: "Ann Smith", Date: dates.Date{Day: 15, Month: time.April, Year: 1990}},
		{Name: "Leap Person", Date: dates.Date{Day: 29, Month: time.February}},
		{Name: "John Doe", Date: dates.Date{Day: 31, Month: time.December, Year: 1985}},
	}, contacts)
	assert.Equal(t, 2, skipped)
}

func TestParseBirthday(t *testing.T) {
	tests := []struct {
		value string
		want  dates.Date
		err   bool
	}{
		{value: "2000-01-02", want: dates.Date{Day: 2, Month: time.January, Year: 2000}},
		{value: "20000102", want: dates.Date{Day: 2, Month: time.January, Year: 2000}},
		{value: "2000-01-02T00:00:00Z", want: dates.Date{Day: 2, Month: time.January, Year: 2000}},
		{value: "--01-02", want: dates.Date{Day: 2, Month: time.January}},
		{value: "--0102", want: dates.Date{Day: 2, Month: time.January}},
		{value: "--0229", want: dates.Date{Day: 29, Month: time.February}},
		{value: "--0230", err: true},
		{value: "02.01.2000", err: true},
		{value: "", err: true},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			got, err := ParseBirthday(tt.value)
			if tt.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
