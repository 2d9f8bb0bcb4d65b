package portal

import (
	"io"
	"strings"

	"golang.org/x/net/html"

	"github.com/eirsights/eirsights/pkg/types"
)

// The portal is scraped, not integrated: everything below is a brittle
// lookup against its current markup. All of those lookups are kept in this
// file and return typed optional results so markup drift surfaces as one
// well-defined error in the flow instead of scattered nil dereferences.

// accountEntry is one "my-accounts__item" card on the post-login dashboard.
type accountEntry struct {
	// number is the trimmed text of the card's account-number element.
	number string
	// electricityMarkers counts the electricity icon headers on the card.
	// Exactly one means this is an electricity account; zero or several is
	// treated as "not a match" to avoid acting on ambiguous markup.
	electricityMarkers int
	// eventFields holds every input name/value pair of the card's OnEvent
	// form, replayed verbatim on the navigation POST.
	eventFields map[string]string
}

func parseDoc(r io.Reader) (*html.Node, error) {
	return html.Parse(r)
}

func attrVal(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func hasClass(n *html.Node, class string) bool {
	v, ok := attrVal(n, "class")
	if !ok {
		return false
	}
	for _, c := range strings.Fields(v) {
		if c == class {
			return true
		}
	}
	return false
}

func isElement(n *html.Node, tag string) bool {
	return n.Type == html.ElementNode && n.Data == tag
}

// walk visits n and all descendants until fn returns false.
func walk(n *html.Node, fn func(*html.Node) bool) bool {
	if !fn(n) {
		return false
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if !walk(c, fn) {
			return false
		}
	}
	return true
}

func textContent(n *html.Node) string {
	var b strings.Builder
	walk(n, func(c *html.Node) bool {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
		return true
	})
	return strings.TrimSpace(b.String())
}

// findInputValue returns the value of the first <input name=...> matching
// the given name anywhere in the document.
func findInputValue(doc *html.Node, name string) (string, bool) {
	var val string
	var found bool
	walk(doc, func(n *html.Node) bool {
		if isElement(n, "input") {
			if v, ok := attrVal(n, "name"); ok && v == name {
				val, _ = attrVal(n, "value")
				found = true
				return false
			}
		}
		return true
	})
	return val, found
}

// findValidationMessage returns the portal's login validation text, if any.
// Used purely for diagnostics; absence is not an error.
func findValidationMessage(doc *html.Node) string {
	var msg string
	walk(doc, func(n *html.Node) bool {
		if n.Type == html.ElementNode &&
			(hasClass(n, "field-validation-error") || hasClass(n, "validation-summary-errors")) {
			msg = textContent(n)
			return false
		}
		return true
	})
	return msg
}

// findAccountEntries collects every account card on the dashboard.
func findAccountEntries(doc *html.Node) []accountEntry {
	var entries []accountEntry
	walk(doc, func(n *html.Node) bool {
		if isElement(n, "div") && hasClass(n, "my-accounts__item") {
			entries = append(entries, parseAccountEntry(n))
		}
		return true
	})
	return entries
}

func parseAccountEntry(card *html.Node) accountEntry {
	e := accountEntry{}
	walk(card, func(n *html.Node) bool {
		switch {
		case isElement(n, "p") && hasClass(n, "account-number"):
			if e.number == "" {
				e.number = textContent(n)
			}
		case isElement(n, "h2") && hasClass(n, "account-electricity-icon"):
			e.electricityMarkers++
		case isElement(n, "form"):
			if action, ok := attrVal(n, "action"); ok && action == "/Accounts/OnEvent" {
				e.eventFields = formInputs(n)
			}
		}
		return true
	})
	return e
}

func formInputs(form *html.Node) map[string]string {
	fields := make(map[string]string)
	walk(form, func(n *html.Node) bool {
		if isElement(n, "input") {
			if name, ok := attrVal(n, "name"); ok && name != "" {
				v, _ := attrVal(n, "value")
				fields[name] = v
			}
		}
		return true
	})
	return fields
}

// findMeterIdentity extracts the identifier triple from the insights page's
// modelData container. The returned identity may be partially empty; the
// caller validates it.
func findMeterIdentity(doc *html.Node) (types.MeterIdentity, bool) {
	var id types.MeterIdentity
	var found bool
	walk(doc, func(n *html.Node) bool {
		if n.Type == html.ElementNode {
			if v, ok := attrVal(n, "id"); ok && v == "modelData" {
				id.Partner, _ = attrVal(n, "data-partner")
				id.Contract, _ = attrVal(n, "data-contract")
				id.Premise, _ = attrVal(n, "data-premise")
				found = true
				return false
			}
		}
		return true
	})
	return id, found
}
