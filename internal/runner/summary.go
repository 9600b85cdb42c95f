package runner

import (
	"fmt"
	"strings"
	"time"

	"github.com/blocksrun/blocks/internal/ui"
	"github.com/blocksrun/blocks/internal/util"
)

const stderrExcerptLen = 100

// printSummary reports counts, total duration, and every failed block with a
// short stderr excerpt.
func (r *Runner) printSummary() {
	if len(r.results) == 0 {
		return
	}

	total := len(r.results)
	successful := 0
	var totalDuration time.Duration
	for _, res := range r.results {
		if res.Success {
			successful++
		}
		totalDuration += res.Duration
	}
	failed := total - successful

	rule := strings.Repeat("=", bannerWidth)
	fmt.Fprintln(r.out)
	fmt.Fprintln(r.out, ui.Header.Render(rule))
	fmt.Fprintln(r.out, ui.Header.Render("EXECUTION SUMMARY"))
	fmt.Fprintln(r.out, ui.Header.Render(rule))

	fmt.Fprintln(r.out, ui.Info.Render(fmt.Sprintf("Total blocks executed: %d", total)))
	fmt.Fprintln(r.out, ui.Success.Render(fmt.Sprintf("Successful: %d", successful)))
	failedLine := fmt.Sprintf("Failed: %d", failed)
	if failed > 0 {
		fmt.Fprintln(r.out, ui.Failure.Render(failedLine))
	} else {
		fmt.Fprintln(r.out, ui.Success.Render(failedLine))
	}
	fmt.Fprintln(r.out, ui.Info.Render(fmt.Sprintf("Total duration: %.2fs", totalDuration.Seconds())))

	if failed == 0 {
		return
	}

	fmt.Fprintln(r.out)
	fmt.Fprintln(r.out, ui.Failure.Render("Failed blocks:"))
	for _, res := range r.results {
		if res.Success {
			continue
		}
		fmt.Fprintln(r.out, ui.Failure.Render("  - "+res.Name))
		if res.Stderr != "" {
			excerpt := util.Truncate(strings.TrimSpace(res.Stderr), stderrExcerptLen)
			fmt.Fprintln(r.out, ui.Failure.Render("    Error: "+excerpt))
		}
	}
}
