package engine

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/html"

	"github.com/lyallcooper/scanstream/internal/types"
)

const (
	defaultUserAgent   = "scanstream/1.0"
	defaultMaxBodySize = 10 << 20
)

// HTMLEngine fetches a page and evaluates accessibility rules against its markup
type HTMLEngine struct {
	client      *http.Client
	userAgent   string
	maxBodySize int64
	customRules []Rule
}

var _ Engine = (*HTMLEngine)(nil)

// HTMLEngineOption configures an HTMLEngine
type HTMLEngineOption func(*HTMLEngine)

// WithHTTPClient sets the client used to fetch pages
func WithHTTPClient(c *http.Client) HTMLEngineOption {
	return func(e *HTMLEngine) {
		e.client = c
	}
}

// WithUserAgent sets the desktop User-Agent; mobile scans append " Mobile"
func WithUserAgent(ua string) HTMLEngineOption {
	return func(e *HTMLEngine) {
		if ua != "" {
			e.userAgent = ua
		}
	}
}

// WithCustomRules registers rules that run when a scan includes custom rules
func WithCustomRules(rules []Rule) HTMLEngineOption {
	return func(e *HTMLEngine) {
		e.customRules = append(e.customRules, rules...)
	}
}

// NewHTMLEngine creates an engine with the built-in rule set
func NewHTMLEngine(opts ...HTMLEngineOption) *HTMLEngine {
	e := &HTMLEngine{
		client:      &http.Client{Timeout: 30 * time.Second},
		userAgent:   defaultUserAgent,
		maxBodySize: defaultMaxBodySize,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run fetches opts.URL, parses it and reports every rule violation
func (e *HTMLEngine) Run(ctx context.Context, opts Options, onProgress ProgressFunc, onFinding FindingFunc) (*types.Result, error) {
	if onProgress == nil {
		onProgress = func(types.ProgressPayload) {}
	}
	if onFinding == nil {
		onFinding = func(types.Finding) {}
	}

	standard := opts.Standard
	if standard == "" {
		standard = DefaultStandard
	}
	levels, ok := standardLevels[standard]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedStandard, standard)
	}

	rules := e.selectRules(levels, opts)

	onProgress(types.ProgressPayload{Percent: 20, Message: "Fetching page"})
	body, err := e.fetch(ctx, opts)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	onProgress(types.ProgressPayload{Percent: 40, Message: "Parsing document"})
	doc, err := html.Parse(io.LimitReader(body, e.maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("failed to parse document: %w", err)
	}

	var findings []types.Finding
	customCount := 0
	for i, rule := range rules {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		onProgress(types.ProgressPayload{
			Percent: 50 + float64(40*i)/float64(len(rules)),
			Message: "Checking " + rule.ID,
		})
		if rule.Custom {
			customCount++
		}

		for _, n := range rule.check(doc) {
			f := types.Finding{
				ID:          uuid.NewString(),
				RuleID:      rule.ID,
				Impact:      rule.Impact,
				Description: rule.Description,
				Help:        rule.Help,
				Selector:    selector(n),
				Snippet:     snippet(n),
				Tags:        rule.Tags,
				Custom:      rule.Custom,
			}
			findings = append(findings, f)
			onFinding(f)
		}
	}

	onProgress(types.ProgressPayload{Percent: 95, Message: "Calculating score"})

	if findings == nil {
		findings = []types.Finding{}
	}
	return &types.Result{
		URL:             opts.URL,
		Standard:        standard,
		Score:           Score(types.CountBySeverity(findings)),
		TotalIssues:     len(findings),
		Findings:        findings,
		CustomRuleCount: customCount,
		ScannedAt:       time.Now().UTC().Format(time.RFC3339),
	}, nil
}

func (e *HTMLEngine) selectRules(levels map[string]bool, opts Options) []Rule {
	var rules []Rule
	for _, r := range builtinRules {
		if r.Warning && !opts.IncludeWarnings {
			continue
		}
		if !r.appliesTo(levels) {
			continue
		}
		rules = append(rules, r)
	}
	if opts.IncludeCustomRules {
		rules = append(rules, e.customRules...)
	}
	return rules
}

func (e *HTMLEngine) fetch(ctx context.Context, opts Options) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, opts.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}

	ua := e.userAgent
	if opts.Viewport == "mobile" {
		ua += " Mobile"
	}
	req.Header.Set("User-Agent", ua)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	applyAuth(req, opts.Auth)

	resp, err := e.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %s returned %d", ErrFetch, opts.URL, resp.StatusCode)
	}
	return resp.Body, nil
}

func applyAuth(req *http.Request, auth *types.Auth) {
	if auth == nil {
		return
	}
	switch auth.Type {
	case "basic":
		req.SetBasicAuth(auth.Username, auth.Password)
	case "bearer":
		req.Header.Set("Authorization", "Bearer "+auth.Token)
	}
	for k, v := range auth.Headers {
		req.Header.Set(k, v)
	}
}
