package sentry

import "time"

// SessionStatus is the lifecycle status of a Session.
type SessionStatus string

const (
	SessionStatusOk       SessionStatus = "ok"
	SessionStatusExited   SessionStatus = "exited"
	SessionStatusCrashed  SessionStatus = "crashed"
	SessionStatusErrored  SessionStatus = "errored"
	SessionStatusAbnormal SessionStatus = "abnormal"
)

// Session tracks the health of a release over the lifetime of a single user
// session, reported to Sentry's release-health pipeline.
type Session struct {
	SID               string        `json:"sid"`
	Init              bool          `json:"init,omitempty"`
	Timestamp         time.Time     `json:"timestamp"`
	Started           time.Time     `json:"started"`
	Duration          float64       `json:"duration,omitempty"`
	Status            SessionStatus `json:"status"`
	Errors            int           `json:"errors"`
	Release           string        `json:"attrs_release,omitempty"`
	Environment       string        `json:"attrs_environment,omitempty"`
	IPAddress         string        `json:"attrs_ip_address,omitempty"`
	UserAgent         string        `json:"attrs_user_agent,omitempty"`
	User              *User         `json:"did,omitempty"`
	AbnormalMechanism string        `json:"abnormal_mechanism,omitempty"`

	errored bool
	crashed bool
}

// NewSession starts a fresh, "init" session for the given release/environment.
func NewSession(release, environment string) *Session {
	t := now()
	return &Session{
		SID:         uuid4(),
		Init:        true,
		Timestamp:   t,
		Started:     t,
		Status:      SessionStatusOk,
		Release:     release,
		Environment: environment,
	}
}

// Close marks the session as exited (unless it already transitioned to
// crashed/abnormal) and stamps the duration.
func (s *Session) Close() {
	if s.Status == SessionStatusOk {
		s.Status = SessionStatusExited
	}
	s.Duration = now().Sub(s.Started).Seconds()
	s.Timestamp = now()
	s.Init = false
}

// Update applies the session-health rule: an error whose mechanism is
// explicitly non-handled counts as a crash; any other error counts once
// against Errors. A session that already transitioned away from "ok" does not
// regress or double count.
func (s *Session) Update(crash bool) {
	s.Errors++
	if crash && !s.crashed {
		s.crashed = true
		s.Status = SessionStatusCrashed
	} else if !crash && !s.errored && s.Status == SessionStatusOk {
		s.errored = true
		s.Status = SessionStatusErrored
	}
	s.Timestamp = now()
	s.Init = false
}

// sessionUpdateFromEvent applies the "session update from event" rule: an
// error event whose first unhandled exception mechanism has Handled ==
// false counts as a crash; any other error event counts as a (non-crash)
// error. Returns false for events that carry no exceptions, or once the
// session has already recorded this outcome; a further non-crash error on an
// already-errored session still increments Errors.
func sessionUpdateFromEvent(session *Session, event *Event) bool {
	if session == nil || event.Type == transactionType || len(event.Exception) == 0 {
		return false
	}
	crash := false
	for _, exc := range event.Exception {
		if exc.Mechanism != nil && exc.Mechanism.Handled != nil && !*exc.Mechanism.Handled {
			crash = true
			break
		}
	}
	if session.Status != SessionStatusOk && session.Status != SessionStatusErrored {
		// Already crashed/exited/abnormal: no further transitions. A second
		// unhandled exception on an already-crashed session does not re-send.
		return false
	}
	if session.Status == SessionStatusErrored && !crash {
		// Subsequent errors on an already-errored session do not re-send.
		session.Errors++
		return false
	}
	session.Update(crash)
	return true
}
