package model

import (
	"fmt"
	"strings"

	"github.com/gookit/color"

	"github.com/loomtest/loom/interp"
)

const ruleLine = "--------------------------------------------------------------------------------"

// FormatFailure renders a Failure and the trace that led to it for
// terminal display, in the same banner-plus-rule style a failing
// property report would use.
func FormatFailure(fail *interp.Failure, trace interp.Trace) string {
	var b strings.Builder
	b.WriteString("\n")
	b.WriteString(color.Gray.Sprint(ruleLine))
	b.WriteString("\n")
	b.WriteString(color.Red.Sprintf("%s\n", fail.Kind.String()))
	b.WriteString(color.Gray.Sprint(ruleLine))
	b.WriteString("\n")
	if fail.Exc != nil {
		b.WriteString(color.Bold.Sprint("Exception: "))
		b.WriteString(color.Yellow.Sprintf("%s\n", fail.Exc.Tag))
	}
	if fail.Note != "" {
		b.WriteString(color.Bold.Sprint("Note:      "))
		b.WriteString(fmt.Sprintf("%s\n", fail.Note))
	}
	b.WriteString("\n")
	b.WriteString(color.Cyan.Sprint("Trace:"))
	b.WriteString("\n")
	b.WriteString(FormatTrace(trace))
	return b.String()
}

// FormatTrace renders every decision and action of a trace, one line
// per step.
func FormatTrace(trace interp.Trace) string {
	var b strings.Builder
	for i, step := range trace {
		b.WriteString(fmt.Sprintf("  %3d. %s\n", i, formatStep(step)))
	}
	return b.String()
}

func formatStep(step interp.Step) string {
	decision := color.Gray.Sprint(step.Decision.String())
	var action string
	switch step.Marker {
	case interp.StartSubconcurrency:
		action = color.Cyan.Sprint("start subconcurrency block")
	case interp.StopSubconcurrency:
		action = color.Cyan.Sprint("stop subconcurrency block")
	default:
		action = fmt.Sprintf("thread %s ran %s", step.Action.Tid, step.Action.Kind)
		if len(step.Action.Woken) > 0 {
			action += fmt.Sprintf(" (woke %v)", step.Action.Woken)
		}
	}
	return fmt.Sprintf("%s: %s", decision, action)
}
