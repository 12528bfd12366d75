package common

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

var supportedLocales = []language.Tag{language.English, language.German}

var localeMatcher = language.NewMatcher(supportedLocales)

var userMessages = map[Kind][2]string{
	KindServiceUnavailable: {
		"Receipt recognition is currently unavailable. Please try again later.",
		"Die Belegerkennung ist derzeit nicht verfügbar. Bitte versuche es später erneut.",
	},
	KindSafetyRejected: {
		"This receipt could not be processed. Please enter the items manually.",
		"Dieser Beleg konnte nicht verarbeitet werden. Bitte gib die Artikel manuell ein.",
	},
	KindInputTooLarge: {
		"This receipt is too long to be processed in one scan.",
		"Dieser Beleg ist zu lang für einen einzelnen Scan.",
	},
	KindUnsupportedLocale: {
		"Receipt recognition is not available for your language or region.",
		"Die Belegerkennung ist für deine Sprache oder Region nicht verfügbar.",
	},
	KindRateLimited: {
		"Too many scans in a short time. Please wait a moment.",
		"Zu viele Scans in kurzer Zeit. Bitte warte einen Moment.",
	},
	KindMalformedResponse: {
		"The receipt could not be read reliably. Please scan again or enter the items manually.",
		"Der Beleg konnte nicht zuverlässig gelesen werden. Bitte scanne erneut oder gib die Artikel manuell ein.",
	},
	KindNoItemsFound: {
		"No items were found on this receipt. Please enter them manually.",
		"Auf diesem Beleg wurden keine Artikel gefunden. Bitte gib sie manuell ein.",
	},
	KindUnknown: {
		"Something went wrong. Please try again.",
		"Etwas ist schiefgelaufen. Bitte versuche es erneut.",
	},
}

var messageCatalog = buildCatalog()

func buildCatalog() *catalog.Builder {
	b := catalog.NewBuilder(catalog.Fallback(language.English))
	for kind, texts := range userMessages {
		for i, tag := range supportedLocales {
			if err := b.SetString(tag, string(kind), texts[i]); err != nil {
				panic(err)
			}
		}
	}
	return b
}

// MatchLocale picks the best supported locale for an Accept-Language header
// value or a plain tag such as "de-AT". English is the fallback.
func MatchLocale(accept string) language.Tag {
	tags, _, err := language.ParseAcceptLanguage(accept)
	if err != nil || len(tags) == 0 {
		return language.English
	}
	_, idx, _ := localeMatcher.Match(tags...)
	return supportedLocales[idx]
}

// Message returns the user-facing text for kind in the given locale.
func Message(kind Kind, locale language.Tag) string {
	if _, ok := userMessages[kind]; !ok {
		kind = KindUnknown
	}
	_, idx, _ := localeMatcher.Match(locale)
	p := message.NewPrinter(supportedLocales[idx], message.Catalog(messageCatalog))
	return p.Sprintf(string(kind))
}
