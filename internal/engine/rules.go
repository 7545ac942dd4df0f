package engine

import (
	"strconv"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/lyallcooper/scanstream/internal/types"
)

// Rule is a single accessibility check. check returns the offending nodes.
type Rule struct {
	ID          string
	Description string
	Help        string
	Impact      types.Impact
	Tags        []string
	Warning     bool
	Custom      bool

	check func(doc *html.Node) []*html.Node
}

// Tag that applies regardless of the requested standard
const tagBestPractice = "best-practice"

// standardLevels maps a requested standard to the tags it includes
var standardLevels = map[string]map[string]bool{
	"wcag2a":   {"wcag2a": true},
	"wcag2aa":  {"wcag2a": true, "wcag2aa": true},
	"wcag21a":  {"wcag2a": true, "wcag21a": true},
	"wcag21aa": {"wcag2a": true, "wcag2aa": true, "wcag21a": true, "wcag21aa": true},
}

// Standards lists the accepted standard names
func Standards() []string {
	return []string{"wcag2a", "wcag2aa", "wcag21a", "wcag21aa"}
}

func (r Rule) appliesTo(levels map[string]bool) bool {
	for _, tag := range r.Tags {
		if tag == tagBestPractice || levels[tag] {
			return true
		}
	}
	return false
}

var builtinRules = []Rule{
	{
		ID:          "image-alt",
		Description: "Images must have alternate text",
		Help:        "Add an alt attribute; use alt=\"\" for decorative images",
		Impact:      types.ImpactCritical,
		Tags:        []string{"wcag2a"},
		check:       checkImageAlt,
	},
	{
		ID:          "label",
		Description: "Form elements must have labels",
		Help:        "Associate a <label> or set aria-label",
		Impact:      types.ImpactCritical,
		Tags:        []string{"wcag2a"},
		check:       checkLabel,
	},
	{
		ID:          "button-name",
		Description: "Buttons must have discernible text",
		Help:        "Give the button text content or an aria-label",
		Impact:      types.ImpactCritical,
		Tags:        []string{"wcag2a"},
		check:       checkButtonName,
	},
	{
		ID:          "html-has-lang",
		Description: "The <html> element must have a lang attribute",
		Help:        "Set lang on the root element, e.g. lang=\"en\"",
		Impact:      types.ImpactSerious,
		Tags:        []string{"wcag2a"},
		check:       checkHTMLLang,
	},
	{
		ID:          "document-title",
		Description: "Documents must have a non-empty <title>",
		Help:        "Add a descriptive <title> to the document head",
		Impact:      types.ImpactSerious,
		Tags:        []string{"wcag2a"},
		check:       checkDocumentTitle,
	},
	{
		ID:          "link-name",
		Description: "Links must have discernible text",
		Help:        "Give the link text content, an aria-label or an image with alt text",
		Impact:      types.ImpactSerious,
		Tags:        []string{"wcag2a"},
		check:       checkLinkName,
	},
	{
		ID:          "frame-title",
		Description: "Frames must have a title attribute",
		Help:        "Describe the frame contents with a title attribute",
		Impact:      types.ImpactSerious,
		Tags:        []string{"wcag2a"},
		check:       checkFrameTitle,
	},
	{
		ID:          "meta-viewport",
		Description: "Zooming and scaling must not be disabled",
		Help:        "Remove user-scalable=no and keep maximum-scale at 2 or above",
		Impact:      types.ImpactModerate,
		Tags:        []string{"wcag2aa"},
		check:       checkMetaViewport,
	},
	{
		ID:          "heading-order",
		Description: "Heading levels should only increase by one",
		Help:        "Do not skip heading levels",
		Impact:      types.ImpactModerate,
		Tags:        []string{tagBestPractice},
		Warning:     true,
		check:       checkHeadingOrder,
	},
	{
		ID:          "duplicate-id",
		Description: "id attribute values must be unique",
		Help:        "Rename repeated ids",
		Impact:      types.ImpactMinor,
		Tags:        []string{"wcag2a"},
		check:       checkDuplicateID,
	},
}

func checkImageAlt(doc *html.Node) []*html.Node {
	var out []*html.Node
	walk(doc, func(n *html.Node) {
		if n.DataAtom != atom.Img {
			return
		}
		if _, ok := attr(n, "alt"); ok {
			return
		}
		if isPresentational(n) || hasARIAName(n) {
			return
		}
		out = append(out, n)
	})
	return out
}

func checkLabel(doc *html.Node) []*html.Node {
	labelled := map[string]bool{}
	walk(doc, func(n *html.Node) {
		if n.DataAtom == atom.Label {
			if id, ok := attr(n, "for"); ok && id != "" {
				labelled[id] = true
			}
		}
	})

	var out []*html.Node
	walk(doc, func(n *html.Node) {
		switch n.DataAtom {
		case atom.Input:
			t, _ := attr(n, "type")
			switch strings.ToLower(t) {
			case "hidden", "submit", "button", "image", "reset":
				return
			}
		case atom.Select, atom.Textarea:
		default:
			return
		}

		if hasARIAName(n) || nonEmptyAttr(n, "title") {
			return
		}
		if id, ok := attr(n, "id"); ok && labelled[id] {
			return
		}
		if hasAncestor(n, atom.Label) {
			return
		}
		out = append(out, n)
	})
	return out
}

func checkButtonName(doc *html.Node) []*html.Node {
	var out []*html.Node
	walk(doc, func(n *html.Node) {
		if n.DataAtom != atom.Button {
			return
		}
		if hasARIAName(n) || nonEmptyAttr(n, "title") || textContent(n) != "" {
			return
		}
		out = append(out, n)
	})
	return out
}

func checkHTMLLang(doc *html.Node) []*html.Node {
	root := findFirst(doc, atom.Html)
	if root == nil {
		return nil
	}
	if nonEmptyAttr(root, "lang") {
		return nil
	}
	return []*html.Node{root}
}

func checkDocumentTitle(doc *html.Node) []*html.Node {
	title := findFirst(doc, atom.Title)
	if title != nil && textContent(title) != "" {
		return nil
	}
	if root := findFirst(doc, atom.Html); root != nil {
		return []*html.Node{root}
	}
	return nil
}

func checkLinkName(doc *html.Node) []*html.Node {
	var out []*html.Node
	walk(doc, func(n *html.Node) {
		if n.DataAtom != atom.A {
			return
		}
		if _, ok := attr(n, "href"); !ok {
			return
		}
		if hasARIAName(n) || nonEmptyAttr(n, "title") || textContent(n) != "" {
			return
		}
		named := false
		walk(n, func(c *html.Node) {
			if c.DataAtom == atom.Img && nonEmptyAttr(c, "alt") {
				named = true
			}
		})
		if !named {
			out = append(out, n)
		}
	})
	return out
}

func checkFrameTitle(doc *html.Node) []*html.Node {
	var out []*html.Node
	walk(doc, func(n *html.Node) {
		if n.DataAtom != atom.Iframe && n.DataAtom != atom.Frame {
			return
		}
		if !nonEmptyAttr(n, "title") && !hasARIAName(n) {
			out = append(out, n)
		}
	})
	return out
}

func checkMetaViewport(doc *html.Node) []*html.Node {
	var out []*html.Node
	walk(doc, func(n *html.Node) {
		if n.DataAtom != atom.Meta {
			return
		}
		if name, _ := attr(n, "name"); !strings.EqualFold(name, "viewport") {
			return
		}
		content, _ := attr(n, "content")
		for _, part := range strings.FieldsFunc(content, func(r rune) bool { return r == ',' || r == ';' }) {
			k, v, _ := strings.Cut(part, "=")
			k = strings.ToLower(strings.TrimSpace(k))
			v = strings.ToLower(strings.TrimSpace(v))
			switch k {
			case "user-scalable":
				if v == "no" || v == "0" {
					out = append(out, n)
					return
				}
			case "maximum-scale":
				if scale, err := strconv.ParseFloat(v, 64); err == nil && scale < 2 {
					out = append(out, n)
					return
				}
			}
		}
	})
	return out
}

func checkHeadingOrder(doc *html.Node) []*html.Node {
	var out []*html.Node
	prev := 0
	walk(doc, func(n *html.Node) {
		level := headingLevel(n)
		if level == 0 {
			return
		}
		if prev > 0 && level > prev+1 {
			out = append(out, n)
		}
		prev = level
	})
	return out
}

func checkDuplicateID(doc *html.Node) []*html.Node {
	var out []*html.Node
	seen := map[string]bool{}
	walk(doc, func(n *html.Node) {
		if n.Type != html.ElementNode {
			return
		}
		id, ok := attr(n, "id")
		if !ok || id == "" {
			return
		}
		if seen[id] {
			out = append(out, n)
			return
		}
		seen[id] = true
	})
	return out
}

func headingLevel(n *html.Node) int {
	switch n.DataAtom {
	case atom.H1:
		return 1
	case atom.H2:
		return 2
	case atom.H3:
		return 3
	case atom.H4:
		return 4
	case atom.H5:
		return 5
	case atom.H6:
		return 6
	}
	return 0
}

func isPresentational(n *html.Node) bool {
	role, _ := attr(n, "role")
	role = strings.ToLower(role)
	return role == "presentation" || role == "none"
}

func hasARIAName(n *html.Node) bool {
	return nonEmptyAttr(n, "aria-label") || nonEmptyAttr(n, "aria-labelledby")
}
