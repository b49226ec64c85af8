package main

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"compass/internal/classifier"
	compasserrors "compass/internal/errors"

	"github.com/fatih/color"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

func errorText(msg string) string { return red("error: " + msg) }

func okText(msg string) string { return green("ok: " + msg) }

// formatIssues renders a configuration error one issue per line.
func formatIssues(err error) string {
	cfgErr, ok := asConfigurationError(err)
	if !ok || len(cfgErr.Issues) == 0 {
		return errorText(err.Error())
	}
	var b strings.Builder
	source := cfgErr.Source
	if source == "" {
		source = "configuration"
	}
	fmt.Fprintf(&b, "%s %s\n", red("invalid"), bold(source))
	for _, issue := range cfgErr.Issues {
		fmt.Fprintf(&b, "  %s %s\n", yellow(issue.ID), issue.Message)
		if issue.Hint != "" {
			fmt.Fprintf(&b, "    %s\n", gray(issue.Hint))
		}
	}
	return b.String()
}

func asConfigurationError(err error) (*compasserrors.ConfigurationError, bool) {
	var cfgErr *compasserrors.ConfigurationError
	ok := errors.As(err, &cfgErr)
	return cfgErr, ok
}

func formatClassification(res classifier.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", bold("context:"), cyan(res.Context))
	fmt.Fprintf(&b, "%s %s\n", bold("method: "), res.Method)
	if len(res.Matched) > 0 {
		fmt.Fprintf(&b, "%s %s\n", bold("matched:"), strings.Join(res.Matched, ", "))
	}
	if len(res.Scores) > 0 {
		scores := append([]classifier.ContextScore(nil), res.Scores...)
		sort.SliceStable(scores, func(i, j int) bool { return scores[i].Score > scores[j].Score })
		b.WriteString(bold("scores:") + "\n")
		for _, s := range scores {
			fmt.Fprintf(&b, "  %-10s %d\n", s.Context, s.Score)
		}
	}
	return b.String()
}
