package strategy

import (
	"fmt"
	"io"
	"strings"

	"github.com/tidwall/gjson"
	"golang.org/x/net/html"

	"livewatch/internal/stream"
)

// pageMarkers is what ParsePage collects from a channel page.
type pageMarkers struct {
	ldJSON    []string
	ogTitle   string
	itemLive  bool
	itemEnded bool
	itemTitle string
}

// ParsePage reads live markers from channel page HTML:
//   - schema.org BroadcastEvent in application/ld+json (isLiveBroadcast
//     without endDate)
//   - the same BroadcastEvent as microdata (itemprop="isLiveBroadcast")
//
// The title comes from the live entry's name, falling back to og:title.
func ParsePage(r io.Reader) (stream.CheckResult, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return stream.CheckResult{}, fmt.Errorf("parse page: %w", err)
	}
	var m pageMarkers
	collectMarkers(doc, &m)

	for _, raw := range m.ldJSON {
		if title, ok := liveFromLDJSON(raw); ok {
			if title == "" {
				title = m.ogTitle
			}
			return stream.CheckResult{IsLive: true, Title: title}, nil
		}
	}
	if m.itemLive && !m.itemEnded {
		title := m.itemTitle
		if title == "" {
			title = m.ogTitle
		}
		return stream.CheckResult{IsLive: true, Title: title}, nil
	}
	return stream.CheckResult{}, nil
}

func collectMarkers(n *html.Node, m *pageMarkers) {
	if n.Type == html.ElementNode {
		switch n.Data {
		case "script":
			if strings.EqualFold(attr(n, "type"), "application/ld+json") && n.FirstChild != nil {
				m.ldJSON = append(m.ldJSON, n.FirstChild.Data)
			}
		case "meta":
			switch {
			case attr(n, "property") == "og:title":
				m.ogTitle = attr(n, "content")
			case attr(n, "itemprop") == "isLiveBroadcast":
				m.itemLive = strings.EqualFold(attr(n, "content"), "true")
			case attr(n, "itemprop") == "endDate":
				m.itemEnded = strings.TrimSpace(attr(n, "content")) != ""
			case attr(n, "itemprop") == "name" && m.itemTitle == "":
				m.itemTitle = attr(n, "content")
			}
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectMarkers(c, m)
	}
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return a.Val
		}
	}
	return ""
}

// liveFromLDJSON scans one ld+json block (object, array or @graph).
func liveFromLDJSON(raw string) (string, bool) {
	if !gjson.Valid(raw) {
		return "", false
	}
	var (
		title string
		found bool
	)
	var visit func(v gjson.Result)
	visit = func(v gjson.Result) {
		if found {
			return
		}
		switch {
		case v.IsArray():
			v.ForEach(func(_, item gjson.Result) bool {
				visit(item)
				return !found
			})
		case v.IsObject():
			// "@graph" cannot be addressed with a gjson path (@ starts a modifier).
			v.ForEach(func(k, item gjson.Result) bool {
				if k.String() == "@graph" {
					visit(item)
				}
				return !found
			})
			if found {
				return
			}
			if isLiveEvent(v) {
				title, found = v.Get("name").String(), true
				return
			}
			pub := v.Get("publication")
			if pub.IsArray() {
				pub.ForEach(func(_, p gjson.Result) bool {
					found = isLiveEvent(p)
					return !found
				})
			} else {
				found = isLiveEvent(pub)
			}
			if found {
				title = v.Get("name").String()
				if title == "" {
					title = v.Get("description").String()
				}
			}
		}
	}
	visit(gjson.Parse(raw))
	return title, found
}

func isLiveEvent(v gjson.Result) bool {
	if !v.IsObject() {
		return false
	}
	return v.Get("isLiveBroadcast").Bool() && strings.TrimSpace(v.Get("endDate").String()) == ""
}
