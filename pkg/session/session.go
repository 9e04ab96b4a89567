// Package session reads and writes the access and refresh token cookies.
package session

import (
	"net/http"
	"sync"
	"time"
)

const (
	AccessTokenCookieName  = "access_token"
	RefreshTokenCookieName = "refresh_token"

	DefaultAccessTokenMaxAge  = 15 * time.Minute
	DefaultRefreshTokenMaxAge = 7 * 24 * time.Hour
)

// Cookie names a session cookie and the max age it gets when the backend
// does not say otherwise.
type Cookie struct {
	Name   string
	MaxAge time.Duration
}

var (
	AccessToken  = Cookie{Name: AccessTokenCookieName, MaxAge: DefaultAccessTokenMaxAge}
	RefreshToken = Cookie{Name: RefreshTokenCookieName, MaxAge: DefaultRefreshTokenMaxAge}
)

// Cookies groups the two session cookies so issuance and rotation always
// agree on names and lifetimes.
type Cookies struct {
	Access  Cookie
	Refresh Cookie
}

func DefaultCookies() Cookies {
	return Cookies{Access: AccessToken, Refresh: RefreshToken}
}

func NewCookies(accessMaxAge, refreshMaxAge time.Duration) Cookies {
	c := DefaultCookies()
	if accessMaxAge > 0 {
		c.Access.MaxAge = accessMaxAge
	}
	if refreshMaxAge > 0 {
		c.Refresh.MaxAge = refreshMaxAge
	}
	return c
}

type Store interface {
	Get(name string) (string, bool)
	// Set writes the cookie. A non-positive maxAge falls back to cookie.MaxAge.
	Set(cookie Cookie, value string, maxAge time.Duration)
	Clear(name string)
}

// ClearAll drops both session cookies.
func (c Cookies) ClearAll(store Store) {
	store.Clear(c.Access.Name)
	store.Clear(c.Refresh.Name)
}

func effectiveMaxAge(cookie Cookie, maxAge time.Duration) time.Duration {
	if maxAge > 0 {
		return maxAge
	}
	return cookie.MaxAge
}

// CookieStore is the Store backed by the inbound request cookies and the
// outbound Set-Cookie headers. Values written during the request shadow the
// inbound ones.
type CookieStore struct {
	w       http.ResponseWriter
	r       *http.Request
	written map[string]*string
}

func NewCookieStore(w http.ResponseWriter, r *http.Request) *CookieStore {
	return &CookieStore{
		w:       w,
		r:       r,
		written: make(map[string]*string),
	}
}

func (s *CookieStore) Get(name string) (string, bool) {
	if value, ok := s.written[name]; ok {
		if value == nil {
			return "", false
		}
		return *value, true
	}

	cookie, err := s.r.Cookie(name)
	if err != nil || cookie.Value == "" {
		return "", false
	}
	return cookie.Value, true
}

func (s *CookieStore) Set(cookie Cookie, value string, maxAge time.Duration) {
	http.SetCookie(s.w, &http.Cookie{
		Name:     cookie.Name,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   int(effectiveMaxAge(cookie, maxAge).Seconds()),
	})
	s.written[cookie.Name] = &value
}

func (s *CookieStore) Clear(name string) {
	http.SetCookie(s.w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
	})
	s.written[name] = nil
}

type memoryEntry struct {
	value  string
	maxAge time.Duration
}

// MemoryStore keeps cookies in a map. It records the max age of every write
// so callers can assert on rotation.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
}

func NewMemoryStore(values map[string]string) *MemoryStore {
	m := &MemoryStore{entries: make(map[string]memoryEntry)}
	for name, value := range values {
		m.entries[name] = memoryEntry{value: value}
	}
	return m
}

func (m *MemoryStore) Get(name string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[name]
	return e.value, ok
}

func (m *MemoryStore) Set(cookie Cookie, value string, maxAge time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[cookie.Name] = memoryEntry{value: value, maxAge: effectiveMaxAge(cookie, maxAge)}
}

func (m *MemoryStore) Clear(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, name)
}

func (m *MemoryStore) MaxAge(name string) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entries[name].maxAge
}
