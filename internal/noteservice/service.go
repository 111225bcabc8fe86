// Package noteservice is the command layer over the relational store, the
// document logs and the asset store. Every mutation publishes a change event.
package noteservice

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/starford/quire/internal/assets"
	"github.com/starford/quire/internal/content"
	"github.com/starford/quire/internal/docstore"
	"github.com/starford/quire/internal/store"
)

// Notifier receives change events. The SSE broker implements it.
type Notifier interface {
	Notify(event string, data any)
}

type nopNotifier struct{}

func (nopNotifier) Notify(string, any) {}

// Service coordinates the store, document logs, assets and display session.
type Service struct {
	db       *store.DB
	docs     *docstore.Writer
	assets   *assets.Store
	session  *content.Session
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time
	newID    func() string

	// One writer per hierarchy so a move is validated against the state it
	// commits to.
	notebookMu sync.Mutex
	tagMu      sync.Mutex
	noteMu     sync.Mutex
}

// Option configures a Service.
type Option func(*Service)

// WithAssets sets the content-addressed asset store.
func WithAssets(a *assets.Store) Option {
	return func(s *Service) { s.assets = a }
}

// WithSession sets the display session used for display-form bodies.
func WithSession(sess *content.Session) Option {
	return func(s *Service) { s.session = sess }
}

// WithNotifier sets the change-event sink.
func WithNotifier(n Notifier) Option {
	return func(s *Service) {
		if n != nil {
			s.notifier = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New creates a Service over db and the document log writer.
func New(db *store.DB, docs *docstore.Writer, opts ...Option) *Service {
	s := &Service{
		db:       db,
		docs:     docs,
		notifier: nopNotifier{},
		logger:   slog.Default(),
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.session == nil {
		s.session = content.NewSession("")
	}
	return s
}

// Session returns the display session.
func (s *Service) Session() *content.Session {
	return s.session
}

// Store returns the relational store.
func (s *Service) Store() *store.DB {
	return s.db
}

// DocumentRoot returns the document log root.
func (s *Service) DocumentRoot() string {
	return s.docs.Root()
}

func (s *Service) notify(event string, data any) {
	s.notifier.Notify(event, data)
}
