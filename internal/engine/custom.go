package engine

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/net/html"
	"gopkg.in/yaml.v3"

	"github.com/lyallcooper/scanstream/internal/types"
)

// customRuleFile is the YAML layout of a custom rules file:
//
//	rules:
//	  - id: no-marquee
//	    description: Marquee elements must not be used
//	    impact: serious
//	    element: marquee
//	    forbidden: true
//	  - id: table-summary
//	    description: Tables must have a caption
//	    impact: minor
//	    element: table
//	    requireChild: caption
type customRuleFile struct {
	Rules []customRuleSpec `yaml:"rules"`
}

type customRuleSpec struct {
	ID                string   `yaml:"id"`
	Description       string   `yaml:"description"`
	Help              string   `yaml:"help"`
	Impact            string   `yaml:"impact"`
	Element           string   `yaml:"element"`
	Forbidden         bool     `yaml:"forbidden"`
	RequireAttributes []string `yaml:"requireAttributes"`
	ForbidAttributes  []string `yaml:"forbidAttributes"`
	RequireChild      string   `yaml:"requireChild"`
	Tags              []string `yaml:"tags"`
}

// LoadCustomRules reads custom rules from a YAML file
func LoadCustomRules(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read custom rules: %w", err)
	}
	return ParseCustomRules(data)
}

// ParseCustomRules decodes and validates custom rule definitions
func ParseCustomRules(data []byte) ([]Rule, error) {
	var file customRuleFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse custom rules: %w", err)
	}

	seen := map[string]bool{}
	for _, r := range builtinRules {
		seen[r.ID] = true
	}

	rules := make([]Rule, 0, len(file.Rules))
	for i, spec := range file.Rules {
		rule, err := spec.compile()
		if err != nil {
			return nil, fmt.Errorf("custom rule %d: %w", i+1, err)
		}
		if seen[rule.ID] {
			return nil, fmt.Errorf("custom rule %d: duplicate id %q", i+1, rule.ID)
		}
		seen[rule.ID] = true
		rules = append(rules, rule)
	}
	return rules, nil
}

func (s customRuleSpec) compile() (Rule, error) {
	if s.ID == "" {
		return Rule{}, fmt.Errorf("id is required")
	}
	if s.Element == "" {
		return Rule{}, fmt.Errorf("%s: element is required", s.ID)
	}
	impact := types.Impact(strings.ToLower(s.Impact))
	if impact.Rank() == 0 {
		return Rule{}, fmt.Errorf("%s: invalid impact %q", s.ID, s.Impact)
	}
	if !s.Forbidden && len(s.RequireAttributes) == 0 && len(s.ForbidAttributes) == 0 && s.RequireChild == "" {
		return Rule{}, fmt.Errorf("%s: no condition given", s.ID)
	}

	tags := s.Tags
	if len(tags) == 0 {
		tags = []string{"custom"}
	}
	description := s.Description
	if description == "" {
		description = "Custom rule " + s.ID
	}

	element := strings.ToLower(s.Element)
	requireChild := strings.ToLower(s.RequireChild)
	return Rule{
		ID:          s.ID,
		Description: description,
		Help:        s.Help,
		Impact:      impact,
		Tags:        tags,
		Custom:      true,
		check: func(doc *html.Node) []*html.Node {
			var out []*html.Node
			walk(doc, func(n *html.Node) {
				if n.Type != html.ElementNode || n.Data != element {
					return
				}
				if s.violatedBy(n, requireChild) {
					out = append(out, n)
				}
			})
			return out
		},
	}, nil
}

func (s customRuleSpec) violatedBy(n *html.Node, requireChild string) bool {
	if s.Forbidden {
		return true
	}
	for _, a := range s.RequireAttributes {
		if _, ok := attr(n, a); !ok {
			return true
		}
	}
	for _, a := range s.ForbidAttributes {
		if _, ok := attr(n, a); ok {
			return true
		}
	}
	if requireChild != "" {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode && c.Data == requireChild {
				return false
			}
		}
		return true
	}
	return false
}
