package news

import (
	"context"
	"strings"

	"golang.org/x/net/html"
)

// tickerAttrs are the element attributes the markup extractor inspects
// for a ticker value, in addition to the text content of <ticker> tags.
var tickerAttrs = []string{"data-ticker", "data-symbol", "ticker", "symbol"}

// MarkupExtractor implements the structured-markup extraction strategy:
// it tokenizes the payload looking for ticker-bearing tags or
// attributes, the way a news-wire HTML snippet typically marks up the
// instruments a story references.
type MarkupExtractor struct{}

// NewMarkupExtractor constructs a MarkupExtractor.
func NewMarkupExtractor() *MarkupExtractor { return &MarkupExtractor{} }

// Extract never returns an error; a payload with no recognizable markup
// simply yields no tickers.
func (MarkupExtractor) Extract(ctx context.Context, payload string) ([]string, error) {
	doc, err := html.Parse(strings.NewReader(payload))
	if err != nil {
		return nil, nil
	}

	var found []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			for _, attr := range n.Attr {
				if !containsFold(tickerAttrs, attr.Key) {
					continue
				}
				for _, tok := range splitCandidate(attr.Val) {
					if isTickerToken(tok) {
						found = append(found, tok)
					}
				}
			}
			if strings.EqualFold(n.Data, "ticker") {
				text := textContent(n)
				for _, tok := range splitCandidate(text) {
					if isTickerToken(tok) {
						found = append(found, tok)
					}
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	return dedupeTickers(found), nil
}

// splitCandidate splits an attribute or text value on common delimiters
// so "AAPL,MSFT" or "$AAPL $MSFT" both yield individual candidates.
func splitCandidate(s string) []string {
	s = strings.ReplaceAll(s, "$", " ")
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == ';' || r == '|'
	})
	for i, f := range fields {
		fields[i] = strings.ToUpper(strings.TrimSpace(f))
	}
	return fields
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

func textContent(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		b.WriteString(textContent(c))
	}
	return b.String()
}
