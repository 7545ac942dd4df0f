package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"text/tabwriter"

	"github.com/lyallcooper/scanstream/internal/client"
	"github.com/lyallcooper/scanstream/internal/types"
)

// progressPrinter writes a line whenever the session's progress or status
// message changes
type progressPrinter struct {
	w io.Writer

	mu      sync.Mutex
	percent float64
	message string
}

func (p *progressPrinter) update(st client.State) {
	if st.Phase != client.PhaseConnecting && st.Phase != client.PhaseScanning {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if st.Percent == p.percent && st.StatusMessage == p.message {
		return
	}
	p.percent = st.Percent
	p.message = st.StatusMessage
	fmt.Fprintf(p.w, "[%3.0f%%] %s\n", st.Percent, st.StatusMessage)
}

func writeResult(w io.Writer, format string, result *types.Result) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	return writeText(w, result)
}

func writeText(w io.Writer, result *types.Result) error {
	b := types.CountBySeverity(result.Findings)
	fmt.Fprintf(w, "%s\n", result.URL)
	fmt.Fprintf(w, "Score: %d/100\n", result.Score)
	fmt.Fprintf(w, "Issues: %d (critical %d, serious %d, moderate %d, minor %d)\n",
		result.TotalIssues, b.Critical, b.Serious, b.Moderate, b.Minor)
	if len(result.Findings) == 0 {
		return nil
	}

	fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "IMPACT\tRULE\tSELECTOR\tDESCRIPTION")
	for _, f := range result.Findings {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", strings.ToUpper(string(f.Impact)), f.RuleID, f.Selector, f.Description)
	}
	return tw.Flush()
}
