package tgbot

const (
	txtWelcomeMessage = "Hello, I'm a birthday keeper 🎂 Tell me whose birthdays matter to you and I'll remind you about them, so you never miss a chance to congratulate. Use the menu below or /help to see what I can do"
	txtHelpMessage    = `I keep birthdays and remind you about them on the day and a bit in advance. You can use the menu or one of these commands:
/add - to add a birthday
/list - to see all your birthdays
/upcoming - to see birthdays of the next days
/delete - to delete a birthday
/export - to get your birthdays as a calendar file
/cancel - to cancel what we're doing

Send me a vCard file (.vcf) and I'll import birthdays of your contacts`
	txtUnknownCommand      = "I don't know this command. Use /help to list commands I know"
	txtDoNotUnderstand     = "E-mm, I don't understand what have just happened. Use /help to see what I can do"
	txtFailedStartingBot   = "Hey, I couldn't start. Let's try again!"
	txtFailedFetchBirthday = "I'm sorry, I couldn't fetch your birthdays. Please try again later"
	txtNoBirthdays         = "You don't have any birthdays yet. Use /add to add one"
	txtYourBirthdays       = "📋 <b>Your birthdays:</b>\n\n"
	fmtNoUpcoming          = "There are no birthdays in the next %d days"
	txtUpcomingBirthdays   = "🗓 <b>Upcoming birthdays:</b>\n\n"
	txtNothingToExport     = "There's nothing to export, add some birthdays first"
	txtFailedExport        = "I'm sorry, I couldn't make the calendar. Please try again later"
	txtExportCaption       = "📅 Your birthdays. Open the file to add them to your calendar"
	txtNotVCard            = "I can only import contacts from vCard files (.vcf)"
	txtVCardTooLarge       = "The file is too large, I accept vCard files up to 1 MB"
	txtFailedImport        = "I'm sorry, I couldn't read the file. Please try again later"
	txtToday               = "today"
	txtTomorrow            = "tomorrow"

	btnAdd      = "➕ Add"
	btnList     = "📋 List"
	btnUpcoming = "🗓 Upcoming"
	btnDelete   = "🗑 Delete"
	btnConfirm  = "✅ Confirm"
	btnCancel   = "❌ Cancel"

	fmtCelebration   = "🎉 Today is <b>%s</b>'s birthday!"
	fmtTurnsToday    = "\n🎂 Turns %d today"
	fmtUpcoming      = "⏰ <b>%s</b>'s birthday is %s, on %s"
	fmtWillTurn      = "\n🎂 Will turn %d"
	fmtInDays        = "in %d days"
	fmtListLine      = "%d. <b>%s</b> - %s"
	fmtListAge       = " (%d)"
	fmtUpcomingLine  = "<b>%s</b> - %s, %s"
	fmtUpcomingAge   = ", turns %d"
	fmtImported      = "📥 Imported %d birthday(s)"
	fmtImportSkipped = ", skipped %d contact(s) without a valid birthday"
	fmtImportCapped  = "\n❌ You've reached the limit of %d birthdays, the rest wasn't imported"
	txtImportFailed  = "\n❌ I couldn't save the rest, please try again later"
)
