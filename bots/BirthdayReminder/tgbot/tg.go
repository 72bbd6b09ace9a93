package tgbot

import (
	"context"
	"net/http"
	"strings"
	"time"

	"botfarm/bot"
	"botfarm/bots/BirthdayReminder/calendar"
	"botfarm/bots/BirthdayReminder/db"
	"botfarm/bots/BirthdayReminder/dialog"
	"botfarm/bots/BirthdayReminder/metrics"
	"botfarm/bots/BirthdayReminder/reminder"
	"botfarm/bots/BirthdayReminder/throttle"

	tg "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/jmhodges/clock"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	cbqCancel  = "cbqCancel"
	cbqConfirm = "cbqConfirm"
	cbqReject  = "cbqReject"
)

const exportFileName = "birthdays.ics"

var (
	keyboardCancel  = tg.NewInlineKeyboardMarkup(tg.NewInlineKeyboardRow(tg.NewInlineKeyboardButtonData(btnCancel, cbqCancel)))
	keyboardConfirm = tg.NewInlineKeyboardMarkup(tg.NewInlineKeyboardRow(
		tg.NewInlineKeyboardButtonData(btnConfirm, cbqConfirm),
		tg.NewInlineKeyboardButtonData(btnCancel, cbqReject),
	))
	keyboardMenu = tg.NewReplyKeyboard(
		tg.NewKeyboardButtonRow(tg.NewKeyboardButton(btnAdd), tg.NewKeyboardButton(btnList)),
		tg.NewKeyboardButtonRow(tg.NewKeyboardButton(btnUpcoming), tg.NewKeyboardButton(btnDelete)),
	)
)

type Command struct {
	Name string
}

func makeCommand(name string) *Command {
	return &Command{Name: name}
}

var (
	cmdStart    = makeCommand("start")
	cmdHelp     = makeCommand("help")
	cmdAdd      = makeCommand("add")
	cmdList     = makeCommand("list")
	cmdUpcoming = makeCommand("upcoming")
	cmdDelete   = makeCommand("delete")
	cmdDel      = makeCommand("del")
	cmdCancel   = makeCommand("cancel")
	cmdExport   = makeCommand("export")
)

var commands = map[string]*Command{}

// menu buttons are shortcuts for commands
var menu = map[string]*Command{
	btnAdd:      cmdAdd,
	btnList:     cmdList,
	btnUpcoming: cmdUpcoming,
	btnDelete:   cmdDelete,
}

func init() {
	for _, c := range []*Command{cmdStart, cmdHelp, cmdAdd, cmdList, cmdUpcoming, cmdDelete, cmdDel, cmdCancel, cmdExport} {
		commands[c.Name] = c
	}
}

// API is the part of the Telegram Bot API the bot talks to. *tg.BotAPI
// implements it.
type API interface {
	Request(c tg.Chattable) (*tg.APIResponse, error)
	GetFileDirectURL(fileID string) (string, error)
}

type request struct {
	cmd  *Command
	args string
	msg  *tg.Message
	log  *zap.SugaredLogger // bound to the sender
}

type TBot struct {
	Bot             API
	DB              db.Store
	Dialogs         *dialog.Machine
	Logger          *zap.SugaredLogger
	Metrics         *metrics.Metrics
	Client          *http.Client // downloads documents
	Location        *time.Location
	RetryDelay      time.Duration
	RetryAttempts   int
	UpcomingWindow  int
	MaxBirthdays    int
	DefaultLeadDays int

	clk      clock.Clock
	command  func(ctx context.Context, usr int64, r request)
	document func(ctx context.Context, usr int64, r request)
}

// NewTBot creates the bot. Commands and documents of a user go through the
// limiter except /cancel, a nil limiter lets everything through.
func NewTBot(api API, store db.Store, dialogs *dialog.Machine, limiter throttle.Limiter, clk clock.Clock, l *zap.SugaredLogger, m *metrics.Metrics) *TBot {
	b := &TBot{
		Bot:             api,
		DB:              store,
		Dialogs:         dialogs,
		Logger:          l,
		Metrics:         m,
		Client:          &http.Client{Timeout: 30 * time.Second},
		Location:        time.UTC,
		RetryAttempts:   3,
		RetryDelay:      1 * time.Second,
		UpcomingWindow:  30,
		MaxBirthdays:    db.DefaultMaxBirthdays,
		DefaultLeadDays: 1,
		clk:             clk,
	}

	b.command = b.runCommand
	b.document = b.importDocument
	if limiter != nil {
		onDrop := func(int64) { m.IncrementThrottled() }
		b.command = throttle.Wrap(limiter, l, onDrop, b.runCommand)
		b.document = throttle.Wrap(limiter, l, onDrop, b.importDocument)
	}

	return b
}

// UpdateUser returns the user who sent the update.
func UpdateUser(u tg.Update) (int64, bool) {
	switch {
	case u.Message != nil && u.Message.From != nil:
		return u.Message.From.ID, true
	case u.CallbackQuery != nil && u.CallbackQuery.From != nil:
		return u.CallbackQuery.From.ID, true
	}
	return 0, false
}

// HandleUpdate dispatches the update. l is the logger bound to the sender, nil
// means the bot's logger.
func (b *TBot) HandleUpdate(ctx context.Context, l *zap.SugaredLogger, u tg.Update) {
	if l == nil {
		l = b.Logger
	}

	switch {
	case u.Message != nil && u.Message.From != nil && u.Message.Chat != nil:
		if u.Message.IsCommand() {
			b.HandleCommand(ctx, l, u.Message)
		} else {
			b.HandleMessage(ctx, l, u.Message)
		}
	case u.CallbackQuery != nil:
		b.HandleCallback(ctx, l, u.CallbackQuery)
	}
}

func (b *TBot) HandleCommand(ctx context.Context, l *zap.SugaredLogger, msg *tg.Message) {
	cmd, ok := commands[msg.Command()]
	if !ok {
		b.SendMessage(ctx, msg.Chat.ID, txtUnknownCommand, msg.MessageID, nil)
		return
	}

	r := request{
		cmd:  cmd,
		args: strings.TrimSpace(msg.CommandArguments()),
		msg:  msg,
		log:  l,
	}

	// cancel must work even right after another command
	if cmd == cmdCancel {
		b.runCommand(ctx, msg.From.ID, r)
		return
	}
	b.command(ctx, msg.From.ID, r)
}

func (b *TBot) HandleMessage(ctx context.Context, l *zap.SugaredLogger, msg *tg.Message) {
	usr := msg.From.ID

	if cmd, ok := menu[msg.Text]; ok {
		b.command(ctx, usr, request{cmd: cmd, msg: msg, log: l})
		return
	}

	switch {
	case msg.Document != nil:
		b.document(ctx, usr, request{msg: msg, log: l})

	case msg.Text != "":
		b.sendReply(ctx, msg.Chat.ID, b.Dialogs.HandleText(ctx, usr, msg.Text))

	default:
		b.SendMessage(ctx, msg.Chat.ID, txtDoNotUnderstand, msg.MessageID, nil)
	}
}

func (b *TBot) HandleCallback(ctx context.Context, l *zap.SugaredLogger, cbq *tg.CallbackQuery) {
	if cbq.From == nil || cbq.Message == nil || cbq.Message.Chat == nil {
		return
	}
	usr := cbq.From.ID

	var reply dialog.Reply
	switch cbq.Data {
	case cbqCancel:
		reply = b.Dialogs.Cancel(usr)
	case cbqConfirm:
		reply = b.Dialogs.Confirm(ctx, usr, true)
	case cbqReject:
		reply = b.Dialogs.Confirm(ctx, usr, false)
	default:
		l.Warnf("unknown callback data %q", cbq.Data)
		return
	}

	// stop the spinner on the button
	b.request(ctx, tg.NewCallback(cbq.ID, ""), "failed answering callback")
	b.ReplaceMessage(ctx, cbq.Message.Chat.ID, reply.Text, cbq.Message.MessageID, keyboardFor(reply))
}

// runCommand executes the command. Commands that don't start a dialog leave
// the dialog in progress untouched.
func (b *TBot) runCommand(ctx context.Context, usr int64, r request) {
	cht := r.msg.Chat.ID

	switch r.cmd {
	case cmdStart:
		if err := b.DB.CreateUser(ctx, usr, cht, r.msg.From.UserName); err != nil {
			r.log.Errorw("failed creating user", "err", err)
			b.SendMessage(ctx, cht, txtFailedStartingBot, r.msg.MessageID, nil)
			return
		}

		r.log.Info("user has started the bot")
		b.SendMessage(ctx, cht, txtWelcomeMessage, -1, keyboardMenu)

	case cmdHelp:
		b.SendMessage(ctx, cht, txtHelpMessage, -1, nil)

	case cmdAdd:
		b.ensureUser(ctx, usr, r)

		reply := b.Dialogs.StartAdd(ctx, usr)
		if r.args != "" {
			reply = b.Dialogs.HandleText(ctx, usr, r.args)
		}
		b.sendReply(ctx, cht, reply)

	case cmdList:
		bs, err := b.DB.ListBirthdays(ctx, usr)
		if err != nil {
			r.log.Errorw("failed listing birthdays", "err", err)
			b.SendMessage(ctx, cht, txtFailedFetchBirthday, r.msg.MessageID, nil)
			return
		}

		b.SendMessage(ctx, cht, RenderList(bs, b.now()), -1, nil)

	case cmdUpcoming:
		bs, err := b.DB.ListBirthdays(ctx, usr)
		if err != nil {
			r.log.Errorw("failed listing birthdays", "err", err)
			b.SendMessage(ctx, cht, txtFailedFetchBirthday, r.msg.MessageID, nil)
			return
		}

		ubs := reminder.Upcoming(bs, b.now(), b.UpcomingWindow)
		b.SendMessage(ctx, cht, RenderUpcomingList(ubs, b.UpcomingWindow), -1, nil)

	case cmdDelete, cmdDel:
		reply := b.Dialogs.StartDelete(ctx, usr)
		if r.args != "" && reply.Phase == dialog.AwaitingDeleteIndex {
			reply = b.Dialogs.HandleText(ctx, usr, r.args)
		}
		b.sendReply(ctx, cht, reply)

	case cmdCancel:
		b.sendReply(ctx, cht, b.Dialogs.Cancel(usr))

	case cmdExport:
		b.export(ctx, usr, r)
	}
}

// ensureUser keeps the chat of the user up to date, so reminders reach users
// who add birthdays without starting the bot
func (b *TBot) ensureUser(ctx context.Context, usr int64, r request) {
	if err := b.DB.CreateUser(ctx, usr, r.msg.Chat.ID, r.msg.From.UserName); err != nil {
		r.log.Errorw("failed updating user", "err", err)
	}
}

func (b *TBot) export(ctx context.Context, usr int64, r request) {
	cht := r.msg.Chat.ID

	bs, err := b.DB.ListBirthdays(ctx, usr)
	if err != nil {
		r.log.Errorw("failed listing birthdays", "err", err)
		b.SendMessage(ctx, cht, txtFailedFetchBirthday, -1, nil)
		return
	}

	data, err := calendar.Export(bs, b.clk.Now())
	switch {
	case errors.Is(err, calendar.ErrEmpty):
		b.SendMessage(ctx, cht, txtNothingToExport, -1, nil)
		return
	case err != nil:
		r.log.Errorw("failed exporting birthdays", "err", err)
		b.SendMessage(ctx, cht, txtFailedExport, -1, nil)
		return
	}

	doc := tg.NewDocument(cht, tg.FileBytes{Name: exportFileName, Bytes: data})
	doc.Caption = txtExportCaption
	b.request(ctx, doc, "failed sending calendar")
}

// Notify sends the notification to the owner of the birthday.
func (b *TBot) Notify(ctx context.Context, n reminder.Notification) error {
	txt := RenderUpcoming(n)
	if n.Kind == reminder.KindCelebration {
		txt = RenderCelebration(n)
	}
	return b.SendMessage(ctx, n.ChatID, txt, -1, nil)
}

func (b *TBot) sendReply(ctx context.Context, cht int64, r dialog.Reply) {
	var markup any
	if kb := keyboardFor(r); kb != nil {
		markup = kb
	}
	b.SendMessage(ctx, cht, r.Text, -1, markup)
}

// keyboardFor returns the buttons for the phase the dialog is in
func keyboardFor(r dialog.Reply) *tg.InlineKeyboardMarkup {
	switch {
	case r.Confirmable():
		return &keyboardConfirm
	case r.Cancelable():
		return &keyboardCancel
	}
	return nil
}

func (b *TBot) SendMessage(ctx context.Context, cht int64, txt string, replyTo int, markup any) error {
	m := tg.NewMessage(cht, txt)
	if replyTo >= 0 {
		m.ReplyToMessageID = replyTo
	}
	m.ParseMode = tg.ModeHTML
	m.DisableWebPagePreview = true
	if markup != nil {
		m.BaseChat.ReplyMarkup = markup
	}

	return b.request(ctx, m, "failed sending message")
}

func (b *TBot) ReplaceMessage(ctx context.Context, cht int64, txt string, msgID int, kbMarkup *tg.InlineKeyboardMarkup) bool {
	updText := tg.EditMessageTextConfig{
		BaseEdit: tg.BaseEdit{
			ChatID:      cht,
			MessageID:   msgID,
			ReplyMarkup: kbMarkup,
		},
		DisableWebPagePreview: true,
		ParseMode:             tg.ModeHTML,
		Text:                  txt,
	}

	var err error
	ok := bot.RobustExecute(ctx, b.RetryAttempts, b.RetryDelay, func() bool {
		_, err = b.Bot.Request(updText)
		if err != nil && strings.HasPrefix(err.Error(), "Bad Request: message is not modified") {
			err = nil
		}
		return err == nil
	})
	if !ok {
		b.Logger.Errorw("failed updating message text", "err", err)
	}

	return ok
}

func (b *TBot) request(ctx context.Context, c tg.Chattable, failure string) error {
	var err error
	bot.RobustExecute(ctx, b.RetryAttempts, b.RetryDelay, func() bool {
		_, err = b.Bot.Request(c)
		return err == nil
	})
	if err != nil {
		b.Logger.Errorw(failure, "err", err)
	}
	return err
}

func (b *TBot) now() time.Time {
	return b.clk.Now().In(b.Location)
}
