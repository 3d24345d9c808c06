// Package i18n holds the user-facing messages in English and Italian.
package i18n

import (
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

// Key identifies a message. Keys double as the stable error codes returned
// to clients.
type Key string

const (
	MsgInternal           Key = "internal_error"
	MsgMissingToken       Key = "missing_token"
	MsgInvalidToken       Key = "invalid_token"
	MsgAccessDenied       Key = "access_denied"
	MsgNotFound           Key = "not_found"
	MsgHistoryNotFound    Key = "history_not_found"
	MsgEmailTaken         Key = "email_taken"
	MsgInvalidCredentials Key = "invalid_credentials"
	MsgRateLimited        Key = "rate_limited"
	MsgProcessRateLimited Key = "process_rate_limited"
	MsgFileTooLarge       Key = "file_too_large"
	MsgUnsupportedType    Key = "unsupported_type"
	MsgTypeMismatch       Key = "type_mismatch"
	MsgEmptyFile          Key = "empty_file"
	MsgMissingImage       Key = "missing_image"
	MsgMissingPrompt      Key = "missing_prompt"
	MsgInvalidField       Key = "invalid_field"
	MsgInvalidStatus      Key = "invalid_status"
	MsgInvalidBody        Key = "invalid_body"
	MsgFirebaseDisabled   Key = "firebase_disabled"
	MsgHistoryDeleted     Key = "history_deleted"
	MsgProcessingFailed   Key = "processing_failed"
)

var messages = map[Key][2]string{
	MsgInternal:           {"Something went wrong. Please try again later.", "Si è verificato un errore. Riprova più tardi."},
	MsgMissingToken:       {"Authentication required.", "Autenticazione richiesta."},
	MsgInvalidToken:       {"Your session is invalid or has expired.", "La sessione non è valida o è scaduta."},
	MsgAccessDenied:       {"You do not have access to this resource.", "Non hai accesso a questa risorsa."},
	MsgNotFound:           {"Resource not found.", "Risorsa non trovata."},
	MsgHistoryNotFound:    {"History entry not found.", "Elemento della cronologia non trovato."},
	MsgEmailTaken:         {"An account with this email already exists.", "Esiste già un account con questa email."},
	MsgInvalidCredentials: {"Invalid email or password.", "Email o password non validi."},
	MsgRateLimited:        {"Too many requests. Try again in %d minutes.", "Troppe richieste. Riprova tra %d minuti."},
	MsgProcessRateLimited: {"Processing limit reached. Try again in %d minutes.", "Limite di elaborazione raggiunto. Riprova tra %d minuti."},
	MsgFileTooLarge:       {"The image exceeds the %d MB limit.", "L'immagine supera il limite di %d MB."},
	MsgUnsupportedType:    {"Only JPEG, PNG and WebP images are accepted.", "Sono accettate solo immagini JPEG, PNG e WebP."},
	MsgTypeMismatch:       {"The file content does not match its declared type.", "Il contenuto del file non corrisponde al tipo dichiarato."},
	MsgEmptyFile:          {"The uploaded image is empty.", "L'immagine caricata è vuota."},
	MsgMissingImage:       {"Please attach an image.", "Allega un'immagine."},
	MsgMissingPrompt:      {"Please describe how the image should be changed.", "Descrivi come modificare l'immagine."},
	MsgInvalidField:       {"Some fields are invalid: %s", "Alcuni campi non sono validi: %s"},
	MsgInvalidStatus:      {"Unknown status filter.", "Filtro di stato sconosciuto."},
	MsgInvalidBody:        {"The request body could not be read.", "Impossibile leggere il corpo della richiesta."},
	MsgFirebaseDisabled:   {"Firebase sign-in is not enabled.", "L'accesso con Firebase non è abilitato."},
	MsgHistoryDeleted:     {"History entry deleted.", "Elemento della cronologia eliminato."},
	MsgProcessingFailed:   {"The image could not be processed. Details are saved in your history.", "Non è stato possibile elaborare l'immagine. I dettagli sono salvati nella cronologia."},
}

var (
	supported = []language.Tag{language.English, language.Italian}
	matcher   = language.NewMatcher(supported)
	cat       = buildCatalog()
)

func buildCatalog() catalog.Catalog {
	b := catalog.NewBuilder(catalog.Fallback(language.English))
	for key, msg := range messages {
		_ = b.SetString(language.English, string(key), msg[0])
		_ = b.SetString(language.Italian, string(key), msg[1])
	}
	return b
}

// Supported lists the locale codes with a full catalog.
func Supported() []string {
	out := make([]string, len(supported))
	for i, tag := range supported {
		out[i] = tag.String()
	}
	return out
}

// Match maps any BCP 47 tag or Accept-Language value to a supported locale,
// or "" when nothing matches.
func Match(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	tags, _, err := language.ParseAcceptLanguage(value)
	if err != nil || len(tags) == 0 {
		return ""
	}
	_, idx, conf := matcher.Match(tags...)
	if conf == language.No {
		return ""
	}
	return supported[idx].String()
}

// Region returns the region of the first language tag in value that names
// one explicitly, e.g. "AU" for "en-AU". A bare "en" yields "".
func Region(value string) string {
	tags, _, err := language.ParseAcceptLanguage(strings.TrimSpace(value))
	if err != nil {
		return ""
	}
	for _, tag := range tags {
		if region, conf := tag.Region(); conf == language.Exact {
			return region.String()
		}
	}
	return ""
}

// ForCountry suggests a locale for an ISO country code.
func ForCountry(country string) string {
	switch strings.ToUpper(strings.TrimSpace(country)) {
	case "IT", "SM", "VA":
		return "it"
	case "":
		return ""
	}
	return "en"
}

// T renders key for locale. Unknown locales fall back to English.
func T(locale string, key Key, args ...any) string {
	tag := language.English
	if m := Match(locale); m != "" {
		tag = language.Make(m)
	}
	p := message.NewPrinter(tag, message.Catalog(cat))
	return p.Sprintf(string(key), args...)
}
