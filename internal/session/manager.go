package session

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-school-portal/pkg/utilities"
)

// Config controls cookie transport and lifetime.
type Config struct {
	CookieName   string
	CookieSecure bool
	TTL          time.Duration
	RotateEvery  time.Duration
}

// Manager binds a Store to the HTTP cookie transport.
type Manager struct {
	store  Store
	cfg    Config
	logger *zap.SugaredLogger

	// Now and NewID are replaceable in tests.
	Now   func() time.Time
	NewID func() string
}

func NewManager(store Store, cfg Config, logger *zap.SugaredLogger) *Manager {
	if cfg.CookieName == "" {
		cfg.CookieName = "school_session"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	if cfg.RotateEvery <= 0 {
		cfg.RotateEvery = 30 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Manager{
		store:  store,
		cfg:    cfg,
		logger: logger,
		Now:    time.Now,
		NewID:  utilities.NewSessionID,
	}
}

func (m *Manager) Store() Store { return m.store }

// Session is the per-request handle to session state. It is not safe for
// use by more than one goroutine.
type Session struct {
	m      *Manager
	w      http.ResponseWriter
	secure bool
	id     string
	data   *Data
}

// Start resumes the session named by the request cookie, or begins a new
// anonymous one. Records that fail to decode are dropped and replaced. Sessions older than RotateEvery get a new identifier
// before Start returns.
func (m *Manager) Start(w http.ResponseWriter, r *http.Request) (*Session, error) {
	s := &Session{m: m, w: w, secure: m.cfg.CookieSecure || r.TLS != nil}
	ctx := r.Context()

	if c, err := r.Cookie(m.cfg.CookieName); err == nil && c.Value != "" {
		d, err := m.store.Load(ctx, c.Value)
		switch {
		case err == nil:
			s.id, s.data = c.Value, d
		case errors.Is(err, ErrNotFound):
		case errors.Is(err, ErrCorrupt):
			m.logger.Warnw("discarding unreadable session", "err", err)
			if err := m.store.Delete(ctx, c.Value); err != nil {
				m.logger.Warnw("failed to delete unreadable session", "err", err)
			}
		default:
			return nil, err
		}
	}
	if s.data == nil {
		s.id = m.NewID()
		s.data = &Data{CreatedAt: m.Now()}
		return s, nil
	}
	if m.Now().Sub(s.data.CreatedAt) >= m.cfg.RotateEvery {
		if err := s.Regenerate(ctx); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Session) ID() string   { return s.id }
func (s *Session) Data() *Data  { return s.data }
func (s *Session) State() State { return s.data.State() }

// Save persists the session and (re)issues its cookie. Handlers call it
// before writing any response body.
func (s *Session) Save(ctx context.Context) error {
	if err := s.m.store.Save(ctx, s.id, s.data, s.m.cfg.TTL); err != nil {
		return err
	}
	s.setCookie(s.id, 0)
	return nil
}

// Regenerate moves the current data to a fresh identifier and invalidates
// the old one.
func (s *Session) Regenerate(ctx context.Context) error {
	old := s.id
	s.id = s.m.NewID()
	s.data.CreatedAt = s.m.Now()
	if err := s.Save(ctx); err != nil {
		return err
	}
	if err := s.m.store.Delete(ctx, old); err != nil {
		s.m.logger.Warnw("failed to delete rotated session", "err", err)
	}
	return nil
}

// Destroy discards all state, expires the cookie and leaves the handle on a
// brand-new empty session that is persisted on the next Save.
func (s *Session) Destroy(ctx context.Context) error {
	err := s.m.store.Delete(ctx, s.id)
	s.setCookie("", -1)
	s.id = s.m.NewID()
	s.data = &Data{CreatedAt: s.m.Now()}
	return err
}

func (s *Session) setCookie(value string, maxAge int) {
	http.SetCookie(s.w, &http.Cookie{
		Name:     s.m.cfg.CookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// SetFlash replaces the pending flash message.
func (s *Session) SetFlash(kind, message string) {
	s.data.Flash = &Flash{Type: kind, Message: message}
}

// PopFlash returns and clears the pending flash message.
func (s *Session) PopFlash() *Flash {
	f := s.data.Flash
	s.data.Flash = nil
	return f
}
