package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"

	"github.com/lyallcooper/scanstream/internal/client"
	"github.com/lyallcooper/scanstream/internal/logging"
	"github.com/lyallcooper/scanstream/internal/types"
)

const (
	exitOK          = 0
	exitError       = 1
	exitFailOn      = 3
	exitInterrupted = 130
)

const defaultServer = "http://localhost:8080"

type scanOptions struct {
	server          string
	standard        string
	viewport        string
	includeWarnings bool
	customRules     bool
	output          string
	failOn          string
	bearer          string
	basic           string
	headers         []string
	timeout         time.Duration
	verbose         int
}

func (o *scanOptions) validate() error {
	if o.output != "text" && o.output != "json" {
		return fmt.Errorf("unknown output format %q", o.output)
	}
	if o.failOn != "" && types.Impact(o.failOn).Rank() == 0 {
		return fmt.Errorf("invalid --fail-on impact %q", o.failOn)
	}
	if o.viewport != "" && o.viewport != "desktop" && o.viewport != "mobile" {
		return fmt.Errorf("invalid viewport %q", o.viewport)
	}
	if o.bearer != "" && o.basic != "" {
		return errors.New("--bearer and --basic are mutually exclusive")
	}
	if o.basic != "" && !strings.Contains(o.basic, ":") {
		return errors.New("--basic must be user:password")
	}
	return nil
}

// request builds the scan request for url
func (o *scanOptions) request(url string) (types.ScanRequest, error) {
	req := types.ScanRequest{
		URL:                url,
		Standard:           o.standard,
		Viewport:           o.viewport,
		IncludeWarnings:    o.includeWarnings,
		IncludeCustomRules: o.customRules,
	}

	var auth types.Auth
	switch {
	case o.bearer != "":
		auth.Type = "bearer"
		auth.Token = o.bearer
	case o.basic != "":
		user, pass, _ := strings.Cut(o.basic, ":")
		auth.Type = "basic"
		auth.Username = user
		auth.Password = pass
	}
	for _, h := range o.headers {
		name, value, ok := strings.Cut(h, "=")
		if !ok {
			name, value, ok = strings.Cut(h, ":")
		}
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return req, fmt.Errorf("invalid header %q, want Name=value", h)
		}
		if auth.Headers == nil {
			auth.Headers = map[string]string{}
		}
		auth.Headers[name] = strings.TrimSpace(value)
	}
	if auth.Type != "" || auth.Headers != nil {
		req.Auth = &auth
	}
	return req, nil
}

// execute runs the command line and returns the process exit code
func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	code := exitOK
	root := &cobra.Command{
		Use:           "scanctl",
		Short:         "Run accessibility scans against a scanstream server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.AddCommand(scanCmd(&code))

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		if code == exitOK {
			code = exitError
		}
	}
	return code
}

func scanCmd(code *int) *cobra.Command {
	opts := scanOptions{}
	server := os.Getenv("SCANSTREAM_SERVER")
	if server == "" {
		server = defaultServer
	}

	cmd := &cobra.Command{
		Use:   "scan <url>",
		Short: "Scan a page and stream progress until it completes",
		Args:  cobra.ExactArgs(1),
		PreRunE: func(c *cobra.Command, args []string) error {
			return opts.validate()
		},
		RunE: func(c *cobra.Command, args []string) error {
			level := "info"
			if opts.verbose > 0 {
				level = "debug"
			}
			log, err := logging.New(logging.Options{Level: level, Output: c.ErrOrStderr()})
			if err != nil {
				return err
			}

			var exit int
			exit, err = runScan(c.Context(), opts, args[0], c.OutOrStdout(), c.ErrOrStderr(), log)
			*code = exit
			return err
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.server, "server", server, "scanstream server URL (env SCANSTREAM_SERVER)")
	f.StringVar(&opts.standard, "standard", "", "accessibility standard: wcag2a, wcag2aa, wcag21a or wcag21aa")
	f.StringVar(&opts.viewport, "viewport", "", "viewport: desktop or mobile")
	f.BoolVar(&opts.includeWarnings, "include-warnings", false, "also report best-practice warnings")
	f.BoolVar(&opts.customRules, "custom-rules", false, "also run the server's custom rules")
	f.StringVarP(&opts.output, "output", "o", "text", "output format: text or json")
	f.StringVar(&opts.failOn, "fail-on", "", "exit with code 3 if any finding is at least this impact")
	f.StringVar(&opts.bearer, "bearer", "", "bearer token for the scanned site")
	f.StringVar(&opts.basic, "basic", "", "basic auth credentials for the scanned site (user:password)")
	f.StringArrayVarP(&opts.headers, "header", "H", nil, "extra request header for the scanned site (Name=value)")
	f.DurationVar(&opts.timeout, "timeout", 0, "give up after this long (0 waits forever)")
	f.IntVarP(&opts.verbose, "verbose", "v", 0, "log verbosity")
	return cmd
}

// runScan streams one scan and reports it. It returns the exit code and, for
// failures, the error to print.
func runScan(ctx context.Context, opts scanOptions, url string, stdout, stderr io.Writer, log logr.Logger) (int, error) {
	req, err := opts.request(url)
	if err != nil {
		return exitError, err
	}

	scanCtx := ctx
	if opts.timeout > 0 {
		var cancel context.CancelFunc
		scanCtx, cancel = context.WithTimeout(ctx, opts.timeout)
		defer cancel()
	}

	var sessionOpts []client.SessionOption
	if opts.output == "text" {
		p := &progressPrinter{w: stderr}
		sessionOpts = append(sessionOpts, client.OnChange(p.update))
	}

	c := client.New(strings.TrimRight(opts.server, "/"), client.WithLogger(log))
	session, err := c.StartScan(scanCtx, req, sessionOpts...)
	if err != nil {
		return exitError, err
	}
	st, _ := session.Wait(context.WithoutCancel(ctx))

	switch st.Phase {
	case client.PhaseComplete:
		if err := writeResult(stdout, opts.output, st.Result); err != nil {
			return exitError, err
		}
		if opts.failOn != "" && failsThreshold(st.Result.Findings, types.Impact(opts.failOn)) {
			return exitFailOn, nil
		}
		return exitOK, nil
	case client.PhaseCancelled:
		if ctx.Err() == nil && errors.Is(scanCtx.Err(), context.DeadlineExceeded) {
			return exitError, fmt.Errorf("scan timed out after %s", opts.timeout)
		}
		fmt.Fprintln(stderr, "Scan cancelled")
		return exitInterrupted, nil
	case client.PhaseError:
		return exitError, errors.New(st.Error)
	}
	return exitError, fmt.Errorf("scan ended in unexpected state %q", st.Phase)
}

// failsThreshold reports whether any finding is at least threshold
func failsThreshold(findings []types.Finding, threshold types.Impact) bool {
	for _, f := range findings {
		if f.Impact.Rank() >= threshold.Rank() {
			return true
		}
	}
	return false
}
