// Package monitor runs operator-defined health probes.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/clawinfra/opsguardian/internal/pipeline"
)

// Definition is one configured health probe.
type Definition struct {
	Name    string `toml:"name" yaml:"name" json:"name"`
	Command string `toml:"command" yaml:"command" json:"command"`
}

// Result is the rendered outcome of running a Definition.
type Result struct {
	Name   string `json:"name"`
	Output string `json:"output"`
}

// Issue reports whether the probe output carries an error marker.
func (r Result) Issue() bool { return IsIssue(r.Output) }

// IsIssue reports whether output indicates a failing probe.
func IsIssue(output string) bool {
	return strings.HasPrefix(output, "Error")
}

// Source supplies the current monitor definitions.
type Source interface {
	Monitors() []Definition
}

// Checker runs monitors through a command runner.
type Checker struct {
	runner      pipeline.Runner
	source      Source
	concurrency int
	logger      *slog.Logger
}

// NewChecker creates a Checker. concurrency <= 0 runs all probes at once.
func NewChecker(runner pipeline.Runner, source Source, concurrency int, logger *slog.Logger) *Checker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Checker{
		runner:      runner,
		source:      source,
		concurrency: concurrency,
		logger:      logger.With("component", "monitor"),
	}
}

// CheckAll runs every configured monitor, reading definitions fresh.
func (c *Checker) CheckAll(ctx context.Context) []Result {
	return c.Check(ctx, c.source.Monitors())
}

// Check runs defs concurrently and returns results in definition order.
// Definitions missing a name or command are skipped.
func (c *Checker) Check(ctx context.Context, defs []Definition) []Result {
	valid := make([]Definition, 0, len(defs))
	for _, d := range defs {
		if d.Name != "" && d.Command != "" {
			valid = append(valid, d)
		}
	}

	results := make([]Result, len(valid))
	g, gctx := errgroup.WithContext(ctx)
	if c.concurrency > 0 {
		g.SetLimit(c.concurrency)
	}
	for i, d := range valid {
		g.Go(func() error {
			c.logger.Debug("running monitor", "name", d.Name, "command", d.Command)
			res, err := c.runner.Run(gctx, d.Command)
			results[i] = Result{Name: d.Name, Output: pipeline.Describe(res, err)}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Issues filters results down to failing probes.
func Issues(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if r.Issue() {
			out = append(out, r)
		}
	}
	return out
}

// Report renders results as "name: output" lines for the decision service.
func Report(results []Result) string {
	if len(results) == 0 {
		return "METRICS REPORT: no monitors configured"
	}
	var b strings.Builder
	b.WriteString("METRICS REPORT:")
	for _, r := range results {
		fmt.Fprintf(&b, "\n- %s: %s", r.Name, r.Output)
	}
	return b.String()
}

// Map converts results into a name to output map.
func Map(results []Result) map[string]string {
	m := make(map[string]string, len(results))
	for _, r := range results {
		m[r.Name] = r.Output
	}
	return m
}
