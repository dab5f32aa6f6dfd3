package fetcher

import (
	"bytes"
	"strings"
	"unicode"

	"golang.org/x/net/html"
)

// spaShells are empty mount points left by client-rendered storefronts.
var spaShells = []string{
	`<div id="root"></div>`,
	`<div id="app"></div>`,
	`<div id="__next"></div>`,
	`<div id="__nuxt"></div>`,
	"<noscript>you need to enable javascript",
	"<noscript>enable javascript",
}

// IsSufficient reports whether body carries enough visible text for a
// static scan to be meaningful: at least 200 non-space characters of text
// outside script and style, at least 10% of the document, and no empty
// SPA mount point.
func IsSufficient(body []byte) bool {
	if len(body) < 256 {
		return false
	}
	lower := bytes.ToLower(body)
	for _, shell := range spaShells {
		if bytes.Contains(lower, []byte(shell)) {
			return false
		}
	}
	text := visibleText(body)
	return text >= 200 && float64(text)/float64(len(body)) >= 0.10
}

// visibleText counts non-space runes in text tokens outside script and
// style elements.
func visibleText(body []byte) int {
	z := html.NewTokenizer(bytes.NewReader(body))
	n, skip := 0, 0
	for {
		switch z.Next() {
		case html.ErrorToken:
			return n
		case html.StartTagToken:
			if name, _ := z.TagName(); isRawText(name) {
				skip++
			}
		case html.EndTagToken:
			if name, _ := z.TagName(); isRawText(name) && skip > 0 {
				skip--
			}
		case html.TextToken:
			if skip == 0 {
				n += len(strings.Join(strings.FieldsFunc(string(z.Text()), unicode.IsSpace), ""))
			}
		}
	}
}

func isRawText(name []byte) bool {
	return string(name) == "script" || string(name) == "style"
}
