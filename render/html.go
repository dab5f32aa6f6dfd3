package render

import (
	"bytes"
	"html/template"
	"regexp"

	"github.com/microcosm-cc/bluemonday"
)

// LoadingHTML is the placeholder shown while a lookup is in flight.
const LoadingHTML = `<div class="mp-tooltip-loading">Загрузка...</div>`

var tooltipTmpl = template.Must(template.New("tooltip").Parse(`
{{- if eq .Kind "error" -}}
<div class="mp-tooltip-error">{{.Error}}</div>
{{- else -}}
<div class="mp-tooltip-title">{{.Title}}</div>
{{- range .Rows}}
<div class="mp-tooltip-row"><span class="mp-tooltip-label">{{.Label}}</span><span class="mp-tooltip-value {{.Class}}">{{.Value}}</span></div>
{{- end}}
{{- with .Table}}
<table class="mp-tooltip-table mp-tooltip-table-wb">
<tr class="mp-tooltip-header"><th>Разм.</th>{{range .Tokens}}<th colspan="2">{{.}}</th>{{end}}</tr>
<tr class="mp-tooltip-subheader"><th></th>{{range .Tokens}}<th>Ост</th><th>Зак</th>{{end}}</tr>
{{- range .Rows}}
<tr><td class="mp-tooltip-size">{{.Size}}</td>{{range .Cells}}<td class="mp-tooltip-value {{.StockClass}}">{{.Stock}}</td><td class="mp-tooltip-value {{.OrdersClass}}">{{.Orders}}</td>{{end}}</tr>
{{- end}}
</table>
{{- end}}
{{- end}}`))

var policy = newPolicy()

func newPolicy() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowElements("div", "span")
	p.AllowTables()
	p.AllowAttrs("class").Matching(regexp.MustCompile(`^[a-z0-9 -]*$`)).Globally()
	p.AllowAttrs("colspan").Matching(bluemonday.Integer).OnElements("th", "td")
	return p
}

// HTML renders m as the tooltip inner HTML. Backend-provided strings are
// escaped by the template and the result is sanitized once more.
func HTML(m Model) (string, error) {
	var buf bytes.Buffer
	if err := tooltipTmpl.Execute(&buf, m); err != nil {
		return "", err
	}
	return policy.Sanitize(buf.String()), nil
}
