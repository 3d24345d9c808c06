package middleware

import (
	"context"
	"net/http"
	"net/netip"
	"strings"

	"github.com/gabrielee5/grafo-sub000/internal/i18n"
)

type localeKey struct{}

// requestLocale is what I18N learned about the caller.
type requestLocale struct {
	language string
	country  string
}

// CountryLookup resolves ISO country codes for an IP address.
type CountryLookup func(ip string) (string, error)

// countryHeaders are set by CDNs and load balancers in front of the API.
var countryHeaders = []string{"X-Country-Code", "CF-IPCountry", "X-Appengine-Country"}

// I18N picks the response language and, when known, the client country.
func I18N(defaultLocale string, lookup CountryLookup) func(http.Handler) http.Handler {
	fallback := i18n.Match(defaultLocale)
	if fallback == "" {
		fallback = "en"
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			loc := requestLocale{country: ResolveCountry(r, lookup)}
			loc.language = detectLocale(r, fallback, loc.country)
			w.Header().Set("Content-Language", loc.language)
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), localeKey{}, loc)))
		})
	}
}

// detectLocale: X-Locale, Accept-Language, country hint, then fallback.
func detectLocale(r *http.Request, fallback, country string) string {
	for _, candidate := range []string{r.Header.Get("X-Locale"), r.Header.Get("Accept-Language")} {
		if v := i18n.Match(candidate); v != "" {
			return v
		}
	}
	if v := i18n.ForCountry(country); v != "" {
		return v
	}
	if v := i18n.Match(fallback); v != "" {
		return v
	}
	return "en"
}

// ClientIP returns the caller address. Forwarding headers are already folded
// into RemoteAddr by chi's RealIP middleware.
func ClientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	if ap, err := netip.ParseAddrPort(r.RemoteAddr); err == nil {
		return ap.Addr().Unmap().String()
	}
	if addr, err := netip.ParseAddr(r.RemoteAddr); err == nil {
		return addr.Unmap().String()
	}
	return r.RemoteAddr
}

func LocaleFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(localeKey{}).(requestLocale); ok && v.language != "" {
		return v.language
	}
	return "en"
}

// CountryFromContext returns the ISO country code I18N resolved, if any.
func CountryFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(localeKey{}).(requestLocale); ok {
		return v.country
	}
	return ""
}

// ResolveCountry prefers edge headers, then an explicit locale region, then
// the IP lookup.
func ResolveCountry(r *http.Request, lookup CountryLookup) string {
	if r == nil {
		return ""
	}
	for _, key := range countryHeaders {
		if val := strings.TrimSpace(r.Header.Get(key)); len(val) == 2 {
			return strings.ToUpper(val)
		}
	}
	for _, key := range []string{"X-Locale", "Accept-Language"} {
		if region := i18n.Region(r.Header.Get(key)); region != "" {
			return region
		}
	}
	if lookup == nil {
		return ""
	}
	country, err := lookup(ClientIP(r))
	if err != nil {
		return ""
	}
	return strings.ToUpper(country)
}
