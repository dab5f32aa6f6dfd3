package livepage

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/hazyhaar/mplens/enrichment"
	"github.com/hazyhaar/mplens/overlay"
	"github.com/hazyhaar/mplens/render"
)

// Evaluator runs a JS function expression in the page with JSON args.
type Evaluator interface {
	Eval(ctx context.Context, js string, args ...any) error
}

// queue runs page calls in order on one goroutine, so the engine loop
// never waits on the browser.
//
// Tooltip calls are coalesced while the page lags: consecutive moves keep
// only the last one, a hide cancels the shows and moves still queued, and
// shows and moves beyond maxPending are dropped. Hide, mark and style
// calls are never dropped.
type queue struct {
	eval    Evaluator
	timeout time.Duration
	logger  *slog.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	pending []call
	closed  bool
	done    chan struct{}
}

type call struct {
	js   string
	args []any
}

const maxPending = 64

func newQueue(eval Evaluator, logger *slog.Logger) *queue {
	q := &queue{
		eval:    eval,
		timeout: 5 * time.Second,
		logger:  logger,
		done:    make(chan struct{}),
	}
	q.cond = sync.NewCond(&q.mu)
	go q.run()
	return q
}

func (q *queue) run() {
	defer close(q.done)
	for {
		q.mu.Lock()
		for len(q.pending) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.pending) == 0 {
			q.mu.Unlock()
			return
		}
		c := q.pending[0]
		q.pending = q.pending[1:]
		q.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
		if err := q.eval.Eval(ctx, c.js, c.args...); err != nil {
			q.logger.Warn("livepage: page call failed", "error", err)
		}
		cancel()
	}
}

func tooltipCall(js string) bool { return js == jsShow || js == jsMove }

func (q *queue) push(js string, args ...any) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	c := call{js: js, args: args}
	switch {
	case js == jsHide:
		q.pending = slices.DeleteFunc(q.pending, func(p call) bool { return tooltipCall(p.js) })
	case js == jsMove && len(q.pending) > 0 && q.pending[len(q.pending)-1].js == jsMove:
		q.pending[len(q.pending)-1] = c
		return
	case tooltipCall(js) && len(q.pending) >= maxPending:
		q.logger.Debug("livepage: page call dropped, queue full")
		return
	}
	q.pending = append(q.pending, c)
	q.cond.Signal()
}

// close stops accepting calls and waits for queued ones.
func (q *queue) close() {
	q.mu.Lock()
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()
	<-q.done
}

const (
	jsShow  = `(html, x, y) => window.__mplens && window.__mplens.show(html, x, y)`
	jsMove  = `(x, y) => window.__mplens && window.__mplens.move(x, y)`
	jsHide  = `() => window.__mplens && window.__mplens.hide()`
	jsMark  = `(marks) => window.__mplens && window.__mplens.mark(marks)`
	jsStyle = `(css) => window.__mplens && window.__mplens.style(css)`
)

// Presenter shows the tooltip inside the page. The page script places it
// next to the pointer and keeps it inside the viewport.
type Presenter struct {
	q      *queue
	logger *slog.Logger
}

var _ overlay.Presenter = (*Presenter)(nil)

func newPresenter(q *queue, logger *slog.Logger) *Presenter {
	return &Presenter{q: q, logger: logger}
}

func (p *Presenter) ShowLoading(x, y float64) {
	p.q.push(jsShow, render.LoadingHTML, x, y)
}

func (p *Presenter) ShowResult(m overlay.RenderModel, x, y float64) {
	out, err := render.HTML(m)
	if err != nil {
		p.logger.Warn("livepage: render tooltip", "error", err)
		out, _ = render.HTML(render.Error(m.Marketplace, enrichment.MsgNoData))
	}
	p.q.push(jsShow, out, x, y)
}

func (p *Presenter) Reposition(x, y float64) {
	p.q.push(jsMove, x, y)
}

func (p *Presenter) Hide() {
	p.q.push(jsHide)
}
