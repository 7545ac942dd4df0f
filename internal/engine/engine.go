// Package engine defines the scan engine contract and an HTML accessibility
// engine that implements it.
package engine

import (
	"context"
	"errors"

	"github.com/lyallcooper/scanstream/internal/types"
)

// ErrFetch wraps failures to retrieve the scan target
var ErrFetch = errors.New("failed to fetch page")

// ErrUnsupportedStandard is returned for unknown conformance standards
var ErrUnsupportedStandard = errors.New("unsupported standard")

// DefaultStandard is used when a request names none
const DefaultStandard = "wcag2aa"

// ProgressFunc receives progress updates during a scan
type ProgressFunc func(types.ProgressPayload)

// FindingFunc receives each finding as it is discovered
type FindingFunc func(types.Finding)

// Engine runs a single scan. Implementations call onProgress zero or more
// times and onFinding once per finding before returning the aggregate result
// or an error. Both callbacks are invoked from the goroutine calling Run.
type Engine interface {
	Run(ctx context.Context, opts Options, onProgress ProgressFunc, onFinding FindingFunc) (*types.Result, error)
}

// Options configures a scan
type Options struct {
	URL                string
	Standard           string
	Viewport           string
	IncludeWarnings    bool
	IncludeCustomRules bool
	Auth               *types.Auth
}

// OptionsFromRequest converts a scan request into engine options
func OptionsFromRequest(req types.ScanRequest) Options {
	return Options{
		URL:                req.URL,
		Standard:           req.Standard,
		Viewport:           req.Viewport,
		IncludeWarnings:    req.IncludeWarnings,
		IncludeCustomRules: req.IncludeCustomRules,
		Auth:               req.Auth,
	}
}

// Score converts a severity breakdown into a 0-100 score
func Score(b types.SeverityBreakdown) int {
	score := 100 - (10*b.Critical + 5*b.Serious + 2*b.Moderate + b.Minor)
	if score < 0 {
		return 0
	}
	return score
}
