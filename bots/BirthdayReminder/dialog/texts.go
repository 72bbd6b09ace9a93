package dialog

const (
	txtEnterName         = "Whose birthday is it? Send me the name"
	txtEnterDate         = "📅 Send me the date of birth as <code>DD.MM.YYYY</code> or <code>DD.MM</code> if you don't know the year.\n\nFor example: <code>25.12.2000</code> or <code>25.12</code>"
	txtBadDateFormat     = "❌ I don't understand this date. Use <code>DD.MM.YYYY</code> or <code>DD.MM</code>"
	txtNoSuchDate        = "❌ There's no such date in the calendar. Check the day and the month and try again"
	txtPressConfirm      = "Press Confirm to save the birthday or Cancel to drop it"
	txtNothingToDelete   = "You don't have any birthdays to delete"
	txtWhatToDelete      = "Which birthday do you want to delete? Send me its number:\n\n"
	txtAlreadyDeleted    = "This birthday has already been deleted"
	txtNothingToConfirm  = "There's nothing to confirm"
	txtCancelled         = "❌ Cancelled"
	txtNothingToCancel   = "There's nothing to cancel"
	txtUseCommands       = "Use /add to add a birthday or /help to see what I can do"
	txtFailure           = "❌ Something went wrong. Please try again later"
	txtFailedAddBirthday = "❌ I couldn't save the birthday. Please add it again later"
	txtFailedDelBirthday = "❌ I couldn't delete the birthday. Please try again later"

	fmtNameLength     = "❌ The name must be from 1 to %d characters long. Send me a shorter one"
	fmtYearOutOfRange = "❌ The year must be from %d to %d"
	fmtConfirm        = "✅ <b>Please confirm:</b>\n\n👤 Name: <b>%s</b>\n📅 Date: <b>%s</b>"
	fmtConfirmAge     = "\n🎂 Age: <b>%d</b>"
	fmtAdded          = "✅ <b>%s</b> (%s) is added"
	fmtRemindBefore   = ", I'll remind you %d day(s) before"
	fmtCapacity       = "❌ You already have %d birthdays, that's the limit. Delete some to add new ones"
	fmtIndexRange     = "I expect a number in the range of 1-%d"
	fmtDeleted        = "🗑 <b>%s</b> is deleted"
	fmtDeleteLine     = "%d. %s - %s\n"
)
