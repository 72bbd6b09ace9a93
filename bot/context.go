package bot

import (
	tg "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// Bot context keeps references to common (Telegram Bot API, logger) and
// individual parameters of a bot.
type Context struct {
	Bot    *tg.BotAPI
	Logger *zap.SugaredLogger
	Usr    int64
}

// NewContext creates new context. Make sure pointers are not nil.
func NewContext(bot *tg.BotAPI, logger *zap.SugaredLogger) *Context {
	return &Context{
		Bot:    bot,
		Logger: logger,
	}
}

// CloneWith returns a copy of the context bound to the user. The logger of the
// copy tags every record with the user ID.
func (ctx *Context) CloneWith(usr int64) *Context {
	return &Context{
		Bot:    ctx.Bot,
		Logger: ctx.Logger.With("usr", usr),
		Usr:    usr,
	}
}
