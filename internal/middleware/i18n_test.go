package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

type assertError string

func (e assertError) Error() string { return string(e) }

func TestDetectLocale(t *testing.T) {
	tests := []struct {
		name     string
		headers  map[string]string
		fallback string
		country  string
		want     string
	}{
		{name: "x-locale wins over country", headers: map[string]string{"X-Locale": "IT"}, country: "US", want: "it"},
		{name: "accept-language english", headers: map[string]string{"Accept-Language": "en-US,en;q=0.9"}, want: "en"},
		{name: "accept-language italian first", headers: map[string]string{"Accept-Language": "it-IT,en;q=0.8"}, want: "it"},
		{name: "unsupported language defers to country", headers: map[string]string{"Accept-Language": "de-CH"}, country: "IT", want: "it"},
		{name: "san marino speaks italian", country: "SM", want: "it"},
		{name: "other countries get english", country: "US", want: "en"},
		{name: "configured fallback", fallback: "it", want: "it"},
		{name: "english by default", want: "en"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			for k, v := range tc.headers {
				req.Header.Set(k, v)
			}
			if got := detectLocale(req, tc.fallback, tc.country); got != tc.want {
				t.Fatalf("detectLocale() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestResolveCountry(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		lookup  CountryLookup
		want    string
	}{
		{
			name:    "edge header first",
			headers: map[string]string{"X-Country-Code": "us", "CF-IPCountry": "it"},
			want:    "US",
		},
		{
			name:    "malformed edge header ignored",
			headers: map[string]string{"CF-IPCountry": "XX1", "X-Locale": "it-CH"},
			want:    "CH",
		},
		{
			name:    "accept-language region",
			headers: map[string]string{"Accept-Language": "en,en-GB;q=0.9"},
			want:    "GB",
		},
		{
			name: "ip lookup",
			lookup: func(ip string) (string, error) {
				if ip != "203.0.113.4" {
					return "", assertError("unexpected ip " + ip)
				}
				return "my", nil
			},
			want: "MY",
		},
		{
			name:   "lookup error",
			lookup: func(string) (string, error) { return "", assertError("boom") },
			want:   "",
		},
		{name: "nothing known", want: ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = "203.0.113.4:80"
			for k, v := range tc.headers {
				req.Header.Set(k, v)
			}
			if got := ResolveCountry(req, tc.lookup); got != tc.want {
				t.Fatalf("ResolveCountry() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestClientIP(t *testing.T) {
	tests := map[string]string{
		"198.51.100.10:1234":   "198.51.100.10",
		"[2001:db8::2]:443":    "2001:db8::2",
		"[::ffff:10.0.0.1]:80": "10.0.0.1",
		"203.0.113.1":          "203.0.113.1",
		"not-an-ip":            "not-an-ip",
	}
	for remote, want := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = remote
		if got := ClientIP(req); got != want {
			t.Fatalf("ClientIP(%q) = %q, want %q", remote, got, want)
		}
	}
}

func TestI18NStoresLocaleAndCountry(t *testing.T) {
	var gotLocale, gotCountry string
	h := I18N("en", nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotLocale = LocaleFromContext(r.Context())
		gotCountry = CountryFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("CF-IPCountry", "va")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if gotLocale != "it" || gotCountry != "VA" {
		t.Fatalf("locale=%q country=%q, want it/VA", gotLocale, gotCountry)
	}
	if cl := rec.Header().Get("Content-Language"); cl != "it" {
		t.Fatalf("Content-Language = %q", cl)
	}
}

func TestLocaleFromContextDefaults(t *testing.T) {
	if got := LocaleFromContext(context.Background()); got != "en" {
		t.Fatalf("LocaleFromContext() = %q, want en", got)
	}
	if got := CountryFromContext(context.Background()); got != "" {
		t.Fatalf("CountryFromContext() = %q, want empty", got)
	}
}
