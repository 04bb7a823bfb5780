package discovery

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"

	"github.com/radialmonster/flickr-justified-block-sub001/pkg/resource"
)

// linkPattern finds Flickr links in attribute values, text and comments.
// Block editors store attributes as JSON inside comments, sometimes with
// escaped slashes, so those are unescaped before matching.
var linkPattern = regexp.MustCompile(`(?i)(?:https?:)?//(?:www\.|m\.|secure\.)?(?:flickr\.com|flic\.kr)/[^\s"'<>\\()\[\]{},]+`)

// Link is a recognised resource link.
type Link struct {
	URL string
	Ref resource.Ref
}

// ExtractLinks returns the Flickr resource links in content, in first-seen
// order, one per resource. content may be HTML or plain text.
func ExtractLinks(content string) []Link {
	var (
		links []Link
		seen  = make(map[string]bool)
	)
	add := func(s string) {
		s = strings.ReplaceAll(s, `\/`, "/")
		for _, m := range linkPattern.FindAllString(s, -1) {
			m = strings.TrimRight(m, ".;:!?")
			ref, ok := resource.ParseURL(m)
			if !ok {
				continue
			}
			key := ref.JobKey()
			if seen[key] {
				continue
			}
			seen[key] = true
			links = append(links, Link{URL: m, Ref: ref})
		}
	}

	doc, err := html.Parse(strings.NewReader(content))
	if err != nil {
		add(content)
		return links
	}

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.ElementNode:
			for _, a := range n.Attr {
				if a.Key == "href" || a.Key == "src" || strings.HasPrefix(a.Key, "data-") {
					add(a.Val)
				}
			}
		case html.TextNode, html.CommentNode:
			add(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return links
}

// ExtractURLs is ExtractLinks reduced to the URL strings. It returns nil
// when content holds no Flickr links.
func ExtractURLs(content string) []string {
	links := ExtractLinks(content)
	if len(links) == 0 {
		return nil
	}
	urls := make([]string, len(links))
	for i, l := range links {
		urls[i] = l.URL
	}
	return urls
}
