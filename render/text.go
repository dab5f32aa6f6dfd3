package render

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// TextPresenter prints tooltips as markdown to a writer. Reposition is
// ignored: a terminal has no pointer.
type TextPresenter struct {
	mu     sync.Mutex
	w      io.Writer
	logger *slog.Logger
	shown  bool
}

// NewTextPresenter writes to w. A nil logger means slog.Default().
func NewTextPresenter(w io.Writer, logger *slog.Logger) *TextPresenter {
	if logger == nil {
		logger = slog.Default()
	}
	return &TextPresenter{w: w, logger: logger}
}

func (p *TextPresenter) ShowLoading(x, y float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.shown = true
	fmt.Fprintf(p.w, "… Загрузка (%.0f,%.0f)\n", x, y)
}

func (p *TextPresenter) ShowResult(m Model, x, y float64) {
	md, err := Markdown(m)
	if err != nil {
		p.logger.Warn("render: markdown failed", "title", m.Title, "error", err)
		md = m.Title + " " + m.Error
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.shown = true
	fmt.Fprintf(p.w, "%s\n\n", md)
}

func (p *TextPresenter) Reposition(x, y float64) {}

func (p *TextPresenter) Hide() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.shown {
		p.shown = false
		fmt.Fprintln(p.w, "---")
	}
}
