package youtrack

import (
	"net/http"
	"time"
)

// SessionState is the authentication state of a Client.
type SessionState int

const (
	// NoSession means no login has succeeded yet, or the last login did not
	// return an auth cookie.
	NoSession SessionState = iota
	// SessionValid means the auth cookie is present and unexpired.
	SessionValid
	// SessionExpired means the auth cookie was present but has expired.
	SessionExpired
)

func (s SessionState) String() string {
	switch s {
	case SessionValid:
		return "valid"
	case SessionExpired:
		return "expired"
	default:
		return "none"
	}
}

// session holds the cookies returned by the tracker. Only the auth cookie
// drives the state; the rest are replayed so server-side affinity survives.
type session struct {
	cookies map[string]*http.Cookie
	expires map[string]time.Time // zero time: no expiry
}

func newSession() session {
	return session{
		cookies: make(map[string]*http.Cookie),
		expires: make(map[string]time.Time),
	}
}

// state reports the session state at now.
func (s *session) state(now time.Time) SessionState {
	if _, ok := s.cookies[AuthCookie]; !ok {
		if _, seen := s.expires[AuthCookie]; seen {
			return SessionExpired
		}
		return NoSession
	}
	if exp := s.expires[AuthCookie]; !exp.IsZero() && !now.Before(exp) {
		return SessionExpired
	}
	return SessionValid
}

// merge records cookies from a response, the way a cookie jar would: a
// non-positive MaxAge or past Expires removes the cookie.
func (s *session) merge(cookies []*http.Cookie, now time.Time) {
	for _, c := range cookies {
		exp := cookieExpiry(c, now)
		if !exp.IsZero() && !now.Before(exp) {
			delete(s.cookies, c.Name)
			// Keep the expiry so the state machine can report Expired.
			s.expires[c.Name] = exp
			continue
		}
		s.cookies[c.Name] = &http.Cookie{Name: c.Name, Value: c.Value}
		s.expires[c.Name] = exp
	}
}

// attach adds the unexpired cookies to req.
func (s *session) attach(req *http.Request, now time.Time) {
	for name, c := range s.cookies {
		if exp := s.expires[name]; !exp.IsZero() && !now.Before(exp) {
			continue
		}
		req.AddCookie(c)
	}
}

// reset forgets all cookies.
func (s *session) reset() {
	clear(s.cookies)
	clear(s.expires)
}

func cookieExpiry(c *http.Cookie, now time.Time) time.Time {
	switch {
	case c.MaxAge < 0:
		return now
	case c.MaxAge > 0:
		return now.Add(time.Duration(c.MaxAge) * time.Second)
	case !c.Expires.IsZero():
		return c.Expires
	}
	return time.Time{}
}
