package livepage

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/mplens/dom"
	"github.com/hazyhaar/mplens/enrichment"
	"github.com/hazyhaar/mplens/idgen"
	"github.com/hazyhaar/mplens/overlay"
)

//go:embed overlay.js
var overlayJS string

//go:embed overlay.css
var overlayCSS string

const bindingName = "__mplensEmit"

// Session is the overlay running in one browser tab.
type Session struct {
	id     string
	page   *Page
	engine *overlay.Engine
	mirror *Mirror
	queue  *queue
	logger *slog.Logger

	unmark func()
}

// SessionOption configures Open.
type SessionOption func(*sessionConfig)

type sessionConfig struct {
	host   string
	logger *slog.Logger
}

// WithHost overrides the host name used for marketplace detection.
func WithHost(host string) SessionOption {
	return func(c *sessionConfig) { c.host = host }
}

// WithLogger sets the session logger.
func WithLogger(l *slog.Logger) SessionOption {
	return func(c *sessionConfig) { c.logger = l }
}

// Open opens pageURL in a new tab of b and starts an overlay engine on it.
// The session lives until Close or until ctx is done.
func Open(ctx context.Context, b *Browser, pageURL string, svc enrichment.Service, cfg overlay.Config, opts ...SessionOption) (*Session, error) {
	sc := sessionConfig{logger: b.cfg.Logger}
	for _, o := range opts {
		o(&sc)
	}
	if sc.host == "" {
		u, err := url.Parse(pageURL)
		if err != nil {
			return nil, fmt.Errorf("livepage: parse url: %w", err)
		}
		sc.host = u.Hostname()
	}

	page, err := b.NewPage()
	if err != nil {
		return nil, err
	}

	s, err := newSession(sc.host, svc, cfg, page, sc.logger)
	if err != nil {
		page.Close()
		return nil, err
	}
	s.page = page

	if err := (proto.RuntimeEnable{}).Call(page.Page); err != nil {
		s.abort()
		return nil, fmt.Errorf("livepage: enable runtime: %w", err)
	}
	if err := (proto.RuntimeAddBinding{Name: bindingName}).Call(page.Page); err != nil {
		s.abort()
		return nil, fmt.Errorf("livepage: add binding: %w", err)
	}
	if _, err := page.EvalOnNewDocument(overlayJS); err != nil {
		s.abort()
		return nil, fmt.Errorf("livepage: inject script: %w", err)
	}
	go page.Context(ctx).EachEvent(func(e *proto.RuntimeBindingCalled) {
		if e.Name == bindingName {
			s.handle(e.Payload)
		}
	})()

	s.engine.Start(ctx)

	navCtx, cancel := context.WithTimeout(ctx, b.cfg.NavigateTimeout)
	defer cancel()
	if err := page.Context(navCtx).Navigate(pageURL); err != nil {
		s.Close()
		return nil, fmt.Errorf("livepage: navigate %s: %w", pageURL, err)
	}
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		s.logger.Warn("livepage: wait load", "url", pageURL, "error", err)
	}
	s.queue.push(jsStyle, overlayCSS)

	s.logger.Info("livepage: session open", "url", pageURL, "host", sc.host,
		"marketplace", s.engine.Profile().ID())
	return s, nil
}

// newSession wires an engine over a fresh mirror. Page calls go to eval.
func newSession(host string, svc enrichment.Service, cfg overlay.Config, eval Evaluator, logger *slog.Logger) (*Session, error) {
	s := &Session{id: idgen.Session(), mirror: NewMirror()}
	s.logger = logger.With("session", s.id)
	s.queue = newQueue(eval, s.logger)
	s.engine = overlay.New(host, s.mirror.Document(), svc, newPresenter(s.queue, s.logger), cfg,
		overlay.WithLogger(s.logger))
	if !s.engine.Active() {
		s.queue.close()
		return nil, fmt.Errorf("livepage: %s: %w", host, overlay.ErrInactive)
	}
	s.unmark = s.mirror.WatchMarks(func(marks []Mark) { s.queue.push(jsMark, marks) })
	return s, nil
}

// ID returns the session ID.
func (s *Session) ID() string { return s.id }

// Engine returns the overlay engine of the tab.
func (s *Session) Engine() *overlay.Engine { return s.engine }

// Mirror returns the mirrored document.
func (s *Session) Mirror() *Mirror { return s.mirror }

// handle processes one binding payload. Payloads arrive in page order on
// the event goroutine.
func (s *Session) handle(payload string) {
	var msg Message
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		s.logger.Warn("livepage: bad page message", "error", err)
		return
	}
	switch msg.Type {
	case "init", "children":
		var applyErr error
		err := s.engine.Do(func(*dom.Document) { applyErr = s.mirror.Apply(msg) })
		if err == nil {
			err = applyErr
		}
		if err != nil {
			s.logger.Warn("livepage: apply page message", "type", msg.Type, "error", err)
		}
		if msg.Type == "init" {
			s.logger.Debug("livepage: body mirrored", "elements", s.mirror.Len())
		}
	case "pointer":
		typ := dom.EventType(msg.Event)
		if typ != dom.MouseEnter && typ != dom.MouseLeave && typ != dom.MouseMove {
			return
		}
		if el := s.mirror.Node(msg.ID); el != nil {
			s.engine.Pointer(dom.Event{Type: typ, Target: el, X: msg.X, Y: msg.Y})
		}
	default:
		s.logger.Debug("livepage: unknown page message", "type", msg.Type)
	}
}

func (s *Session) abort() {
	s.unmark()
	s.queue.close()
	if s.page != nil {
		s.page.Close()
	}
}

// Close stops the engine and closes the tab.
func (s *Session) Close() error {
	s.engine.Stop()
	s.unmark()
	s.queue.close()
	var err error
	if s.page != nil {
		err = s.page.Close()
	}
	s.logger.Info("livepage: session closed")
	return err
}
