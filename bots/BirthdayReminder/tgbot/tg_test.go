package tgbot

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"botfarm/bots/BirthdayReminder/dates"
	"botfarm/bots/BirthdayReminder/db"
	"botfarm/bots/BirthdayReminder/dialog"
	"botfarm/bots/BirthdayReminder/reminder"
	"botfarm/bots/BirthdayReminder/throttle"

	tg "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/jmhodges/clock"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

const (
	usr = int64(42)
	cht = int64(4242)
)

var now = time.Date(2025, time.October, 18, 12, 0, 0, 0, time.UTC)

// fakeAPI records what the bot sends
type fakeAPI struct {
	mu      sync.Mutex
	sent    []tg.Chattable
	fileURL string
	err     error
}

func (f *fakeAPI) Request(c tg.Chattable) (*tg.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}
	f.sent = append(f.sent, c)
	return &tg.APIResponse{Ok: true}, nil
}

func (f *fakeAPI) GetFileDirectURL(fileID string) (string, error) {
	return f.fileURL + "/" + fileID, nil
}

func (f *fakeAPI) messages() []tg.MessageConfig {
	f.mu.Lock()
	defer f.mu.Unlock()

	var ms []tg.MessageConfig
	for _, c := range f.sent {
		if m, ok := c.(tg.MessageConfig); ok {
			ms = append(ms, m)
		}
	}
	return ms
}

func (f *fakeAPI) lastMessage(t *testing.T) tg.MessageConfig {
	ms := f.messages()
	require.NotEmpty(t, ms)
	return ms[len(ms)-1]
}

func (f *fakeAPI) edits() []tg.EditMessageTextConfig {
	f.mu.Lock()
	defer f.mu.Unlock()

	var es []tg.EditMessageTextConfig
	for _, c := range f.sent {
		if e, ok := c.(tg.EditMessageTextConfig); ok {
			es = append(es, e)
		}
	}
	return es
}

type fixture struct {
	bot   *TBot
	api   *fakeAPI
	store *db.Memory
	clk   clock.FakeClock
}

func newFixture(t *testing.T, opts dialog.Options, limiter func(clock.Clock) throttle.Limiter) *fixture {
	t.Helper()

	clk := clock.NewFake()
	clk.Set(now)

	l := zap.NewNop().Sugar()
	store := db.NewMemory(clk)
	api := &fakeAPI{}

	var lim throttle.Limiter
	if limiter != nil {
		lim = limiter(clk)
	}

	b := NewTBot(api, store, dialog.NewMachine(store, opts, clk, l, nil), lim, clk, l, nil)
	b.RetryAttempts = 1

	return &fixture{bot: b, api: api, store: store, clk: clk}
}

func command(text string) tg.Update {
	name, _, _ := strings.Cut(text, " ")
	msg := message(text)
	msg.Entities = []tg.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(name)}}
	return tg.Update{Message: msg}
}

func message(text string) *tg.Message {
	return &tg.Message{
		MessageID: 7,
		From:      &tg.User{ID: usr, UserName: "ann"},
		Chat:      &tg.Chat{ID: cht},
		Text:      text,
	}
}

func callback(data string) tg.Update {
	return tg.Update{CallbackQuery: &tg.CallbackQuery{
		ID:      "cbq",
		From:    &tg.User{ID: usr},
		Message: &tg.Message{MessageID: 9, Chat: &tg.Chat{ID: cht}},
		Data:    data,
	}}
}

func (f *fixture) send(updates ...tg.Update) {
	for _, u := range updates {
		f.bot.HandleUpdate(context.Background(), nil, u)
	}
}

func (f *fixture) addBirthday(t *testing.T, name string, d dates.Date) {
	_, err := f.store.CreateBirthday(context.Background(), db.NewBirthday{Owner: usr, Name: name, Date: d, LeadDays: 1})
	require.NoError(t, err)
}

func TestAddDialog(t *testing.T) {
	f := newFixture(t, dialog.DefaultOptions(), nil)

	f.send(command("/add"))
	require.Len(t, f.api.sent, 1)
	m := f.api.lastMessage(t)
	assert.Equal(t, cht, m.ChatID)
	assert.Equal(t, tg.ModeHTML, m.ParseMode)
	assert.Equal(t, &keyboardCancel, m.ReplyMarkup)

	f.send(tg.Update{Message: message("Ann")})
	require.Len(t, f.api.sent, 2)
	assert.Equal(t, &keyboardCancel, f.api.lastMessage(t).ReplyMarkup)

	f.send(tg.Update{Message: message("25.12.1990")})
	require.Len(t, f.api.sent, 3)
	m = f.api.lastMessage(t)
	assert.Contains(t, m.Text, "<b>Ann</b> (25.12.1990) is added")
	assert.Nil(t, m.ReplyMarkup)

	// the user became reachable for reminders
	scheduled, err := f.store.ScanBirthdays(context.Background())
	require.NoError(t, err)
	require.Len(t, scheduled, 1)
	assert.Equal(t, cht, scheduled[0].ChatID)
	assert.Equal(t, "Ann", scheduled[0].Name)
}

func TestAddWithName(t *testing.T) {
	f := newFixture(t, dialog.DefaultOptions(), nil)

	f.send(command("/add Bob"), tg.Update{Message: message("01.02")})

	bs, err := f.store.ListBirthdays(context.Background(), usr)
	require.NoError(t, err)
	require.Len(t, bs, 1)
	assert.Equal(t, "Bob", bs[0].Name)
	assert.Equal(t, dates.Date{Day: 1, Month: time.February}, bs[0].Date())
}

func TestConfirmCallback(t *testing.T) {
	opts := dialog.DefaultOptions()
	opts.Confirm = true
	f := newFixture(t, opts, nil)

	f.send(command("/add"), tg.Update{Message: message("Ann")}, tg.Update{Message: message("25.12.1990")})
	assert.Equal(t, &keyboardConfirm, f.api.lastMessage(t).ReplyMarkup)

	count, err := f.store.CountBirthdays(context.Background(), usr)
	require.NoError(t, err)
	assert.Zero(t, count)

	f.send(callback(cbqConfirm))

	edits := f.api.edits()
	require.Len(t, edits, 1)
	assert.Equal(t, 9, edits[0].MessageID)
	assert.Contains(t, edits[0].Text, "is added")
	assert.Nil(t, edits[0].ReplyMarkup)

	count, err = f.store.CountBirthdays(context.Background(), usr)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestCancelCallback(t *testing.T) {
	f := newFixture(t, dialog.DefaultOptions(), nil)

	f.send(command("/add"), tg.Update{Message: message("Ann")}, callback(cbqCancel))

	edits := f.api.edits()
	require.Len(t, edits, 1)
	assert.Equal(t, "❌ Cancelled", edits[0].Text)
	assert.Equal(t, dialog.Idle, f.bot.Dialogs.Phase(usr))

	// the date goes nowhere now
	f.send(tg.Update{Message: message("25.12.1990")})
	count, err := f.store.CountBirthdays(context.Background(), usr)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestListAndUpcoming(t *testing.T) {
	f := newFixture(t, dialog.DefaultOptions(), nil)
	f.addBirthday(t, "Ann", dates.Date{Day: 21, Month: time.October, Year: 2000})
	f.addBirthday(t, "Bob", dates.Date{Day: 1, Month: time.March})

	f.send(command("/list"))
	m := f.api.lastMessage(t)
	assert.Contains(t, m.Text, "1. <b>Bob</b> - 01.03")
	assert.Contains(t, m.Text, "2. <b>Ann</b> - 21.10.2000 (24)")

	f.send(command("/upcoming"))
	m = f.api.lastMessage(t)
	assert.Contains(t, m.Text, "<b>Ann</b> - 21.10, in 3 days, turns 25")
	assert.NotContains(t, m.Text, "Bob")
}

func TestReadOnlyCommandsKeepDialog(t *testing.T) {
	f := newFixture(t, dialog.DefaultOptions(), nil)

	f.send(command("/add"), tg.Update{Message: message("Ann")}, command("/list"), command("/help"))
	assert.Equal(t, dialog.AwaitingDate, f.bot.Dialogs.Phase(usr))

	f.send(tg.Update{Message: message("25.12")})
	count, err := f.store.CountBirthdays(context.Background(), usr)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestMenuButtons(t *testing.T) {
	f := newFixture(t, dialog.DefaultOptions(), nil)

	f.send(command("/start"))
	m := f.api.lastMessage(t)
	assert.Equal(t, txtWelcomeMessage, m.Text)
	assert.Equal(t, keyboardMenu, m.ReplyMarkup)

	f.send(tg.Update{Message: message(btnList)})
	assert.Equal(t, txtNoBirthdays, f.api.lastMessage(t).Text)

	f.send(tg.Update{Message: message(btnAdd)})
	assert.Equal(t, dialog.AwaitingName, f.bot.Dialogs.Phase(usr))
}

func TestDelete(t *testing.T) {
	f := newFixture(t, dialog.DefaultOptions(), nil)
	f.addBirthday(t, "Ann", dates.Date{Day: 5, Month: time.January})
	f.addBirthday(t, "Bob", dates.Date{Day: 6, Month: time.January})

	f.send(command("/delete"))
	m := f.api.lastMessage(t)
	assert.Contains(t, m.Text, "2. Bob - 06.01")
	assert.Equal(t, &keyboardCancel, m.ReplyMarkup)

	f.send(tg.Update{Message: message("2")})
	assert.Contains(t, f.api.lastMessage(t).Text, "<b>Bob</b> is deleted")

	f.send(command("/del 1"))
	assert.Contains(t, f.api.lastMessage(t).Text, "<b>Ann</b> is deleted")

	count, err := f.store.CountBirthdays(context.Background(), usr)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestUnknownCommand(t *testing.T) {
	f := newFixture(t, dialog.DefaultOptions(), nil)

	f.send(command("/dance"))
	m := f.api.lastMessage(t)
	assert.Equal(t, txtUnknownCommand, m.Text)
	assert.Equal(t, 7, m.ReplyToMessageID)
}

func TestThrottle(t *testing.T) {
	f := newFixture(t, dialog.DefaultOptions(), func(clk clock.Clock) throttle.Limiter {
		return throttle.NewMemory(2*time.Second, clk)
	})

	f.send(command("/help"), command("/help"))
	assert.Len(t, f.api.messages(), 1)

	f.clk.Add(3 * time.Second)
	f.send(command("/help"))
	assert.Len(t, f.api.messages(), 2)

	// dialog answers aren't throttled
	f.clk.Add(3 * time.Second)
	f.send(command("/add"), tg.Update{Message: message("Ann")})
	assert.Len(t, f.api.messages(), 4)
}

func TestThrottle_CancelAlwaysWorks(t *testing.T) {
	f := newFixture(t, dialog.DefaultOptions(), func(clk clock.Clock) throttle.Limiter {
		return throttle.NewMemory(2*time.Second, clk)
	})

	f.send(command("/add"))
	require.Equal(t, dialog.AwaitingName, f.bot.Dialogs.Phase(usr))

	f.clk.Add(500 * time.Millisecond)
	f.send(command("/cancel"))

	assert.Equal(t, dialog.Idle, f.bot.Dialogs.Phase(usr))
	require.Len(t, f.api.messages(), 2)
	assert.Nil(t, f.api.lastMessage(t).ReplyMarkup)

	// the limiter still holds other commands back
	f.send(command("/help"))
	assert.Len(t, f.api.messages(), 2)
}

func TestLogsAreBoundToUser(t *testing.T) {
	f := newFixture(t, dialog.DefaultOptions(), nil)

	core, logs := observer.New(zap.InfoLevel)
	l := zap.New(core).Sugar().With("usr", usr)

	f.bot.HandleUpdate(context.Background(), l, command("/start"))

	entries := logs.FilterMessage("user has started the bot").All()
	require.Len(t, entries, 1)
	assert.Equal(t, usr, entries[0].ContextMap()["usr"])
}

func TestExport(t *testing.T) {
	f := newFixture(t, dialog.DefaultOptions(), nil)

	f.send(command("/export"))
	assert.Equal(t, txtNothingToExport, f.api.lastMessage(t).Text)

	f.addBirthday(t, "Ann", dates.Date{Day: 5, Month: time.January, Year: 1990})
	f.send(command("/export"))

	f.api.mu.Lock()
	last := f.api.sent[len(f.api.sent)-1]
	f.api.mu.Unlock()

	doc, ok := last.(tg.DocumentConfig)
	require.True(t, ok, "a document is sent")
	assert.Equal(t, cht, doc.ChatID)
	assert.Equal(t, txtExportCaption, doc.Caption)

	file, ok := doc.File.(tg.FileBytes)
	require.True(t, ok)
	assert.Equal(t, exportFileName, file.Name)
	assert.Contains(t, string(file.Bytes), "BEGIN:VCALENDAR")
	assert.Contains(t, string(file.Bytes), "Ann")
}

const contacts = "BEGIN:VCARD\r\n" +
	"VERSION:3.0\r\n" +
	"FN:Ann Smith\r\n" +
	"BDAY:1990-04-15\r\n" +
	"END:VCARD\r\n" +
	"BEGIN:VCARD\r\n" +
	"VERSION:3.0\r\n" +
	"FN:Not Born Yet\r\n" +
	"BDAY:2030-01-01\r\n" +
	"END:VCARD\r\n" +
	"BEGIN:VCARD\r\n" +
	"VERSION:3.0\r\n" +
	"FN:No Birthday\r\n" +
	"END:VCARD\r\n" +
	"BEGIN:VCARD\r\n" +
	"VERSION:4.0\r\n" +
	"FN:Bob Jones\r\n" +
	"BDAY:--0229\r\n" +
	"END:VCARD\r\n"

func newFileServer(t *testing.T) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/contacts" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(contacts))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func document(fileID, name, mime string) tg.Update {
	msg := message("")
	msg.Document = &tg.Document{FileID: fileID, FileName: name, MimeType: mime, FileSize: len(contacts)}
	return tg.Update{Message: msg}
}

func TestImport(t *testing.T) {
	f := newFixture(t, dialog.DefaultOptions(), nil)
	f.api.fileURL = newFileServer(t).URL

	f.send(document("contacts", "contacts.vcf", ""))
	assert.Equal(t, "📥 Imported 2 birthday(s), skipped 2 contact(s) without a valid birthday", f.api.lastMessage(t).Text)

	bs, err := f.store.ListBirthdays(context.Background(), usr)
	require.NoError(t, err)
	require.Len(t, bs, 2)
	assert.Equal(t, "Bob Jones", bs[0].Name)
	assert.Equal(t, "Ann Smith", bs[1].Name)
	assert.Equal(t, 1, bs[0].LeadDays)
}

func TestImport_StopsAtCapacity(t *testing.T) {
	f := newFixture(t, dialog.DefaultOptions(), nil)
	f.api.fileURL = newFileServer(t).URL
	f.store.MaxBirthdays = 1
	f.bot.MaxBirthdays = 1

	f.send(document("contacts", "contacts.VCF", ""))
	m := f.api.lastMessage(t)
	assert.True(t, strings.HasPrefix(m.Text, "📥 Imported 1 birthday(s), skipped 2 contact(s)"), m.Text)
	assert.Contains(t, m.Text, "limit of 1 birthdays")
}

func TestImport_Rejects(t *testing.T) {
	f := newFixture(t, dialog.DefaultOptions(), nil)
	f.api.fileURL = newFileServer(t).URL

	f.send(document("contacts", "photo.jpg", "image/jpeg"))
	assert.Equal(t, txtNotVCard, f.api.lastMessage(t).Text)

	f.send(document("missing", "contacts.vcf", "text/vcard"))
	assert.Equal(t, txtFailedImport, f.api.lastMessage(t).Text)

	big := document("contacts", "", "text/x-vcard")
	big.Message.Document.FileSize = maxVCardSize + 1
	f.send(big)
	assert.Equal(t, txtVCardTooLarge, f.api.lastMessage(t).Text)
}

func TestNotify(t *testing.T) {
	f := newFixture(t, dialog.DefaultOptions(), nil)

	n := reminder.Notification{
		Kind:     reminder.KindCelebration,
		ChatID:   cht,
		Birthday: db.Birthday{Name: "Ann"},
		On:       now,
	}
	require.NoError(t, f.bot.Notify(context.Background(), n))

	m := f.api.lastMessage(t)
	assert.Equal(t, cht, m.ChatID)
	assert.Equal(t, RenderCelebration(n), m.Text)

	f.api.err = errors.New("Forbidden: bot was blocked by the user")
	assert.Error(t, f.bot.Notify(context.Background(), n))
}

func TestUpdateUser(t *testing.T) {
	id, ok := UpdateUser(command("/list"))
	assert.True(t, ok)
	assert.Equal(t, usr, id)

	id, ok = UpdateUser(callback(cbqCancel))
	assert.True(t, ok)
	assert.Equal(t, usr, id)

	_, ok = UpdateUser(tg.Update{})
	assert.False(t, ok)
}
