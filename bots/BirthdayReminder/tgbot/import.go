package tgbot

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"botfarm/bots/BirthdayReminder/calendar"
	"botfarm/bots/BirthdayReminder/db"

	tg "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"
)

const maxVCardSize = 1 << 20

var vCardTypes = map[string]bool{
	"text/vcard":   true,
	"text/x-vcard": true,
}

func isVCard(doc *tg.Document) bool {
	switch strings.ToLower(path.Ext(doc.FileName)) {
	case ".vcf", ".vcard":
		return true
	}
	return vCardTypes[strings.ToLower(doc.MimeType)]
}

// importDocument adds birthdays of the contacts in a vCard file. Contacts
// without a valid birthday are skipped, the import stops at the cap.
func (b *TBot) importDocument(ctx context.Context, usr int64, r request) {
	msg := r.msg
	cht := msg.Chat.ID
	doc := msg.Document

	if !isVCard(doc) {
		b.SendMessage(ctx, cht, txtNotVCard, msg.MessageID, nil)
		return
	}
	if doc.FileSize > maxVCardSize {
		b.SendMessage(ctx, cht, txtVCardTooLarge, msg.MessageID, nil)
		return
	}

	contacts, skipped, err := b.fetchContacts(ctx, doc.FileID)
	if err != nil {
		r.log.Errorw("failed reading contacts", "err", err)
		b.SendMessage(ctx, cht, txtFailedImport, msg.MessageID, nil)
		return
	}

	b.ensureUser(ctx, usr, r)

	added := 0
	var tail string
loop:
	for _, c := range contacts {
		_, err := b.DB.CreateBirthday(ctx, db.NewBirthday{
			Owner:    usr,
			Name:     c.Name,
			Date:     c.Date,
			LeadDays: b.DefaultLeadDays,
		})
		switch {
		case err == nil:
			added++
			b.Metrics.IncrementCreated()
		case errors.Is(err, db.ErrInvalid):
			skipped++
		case errors.Is(err, db.ErrCapacity):
			tail = fmt.Sprintf(fmtImportCapped, b.MaxBirthdays)
			break loop
		default:
			r.log.Errorw("failed importing birthday", "err", err)
			tail = txtImportFailed
			break loop
		}
	}

	r.log.Infow("imported contacts", "added", added, "skipped", skipped)

	txt := fmt.Sprintf(fmtImported, added)
	if skipped > 0 {
		txt += fmt.Sprintf(fmtImportSkipped, skipped)
	}
	b.SendMessage(ctx, cht, txt+tail, msg.MessageID, nil)
}

func (b *TBot) fetchContacts(ctx context.Context, fileID string) ([]calendar.Contact, int, error) {
	url, err := b.Bot.GetFileDirectURL(fileID)
	if err != nil {
		return nil, 0, errors.Wrap(err, "failed getting file URL")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, errors.Wrap(err, "failed creating request")
	}

	resp, err := b.Client.Do(req)
	if err != nil {
		return nil, 0, errors.Wrap(err, "failed downloading file")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, 0, errors.Errorf("failed downloading file: %s", resp.Status)
	}

	return calendar.Import(io.LimitReader(resp.Body, maxVCardSize))
}
