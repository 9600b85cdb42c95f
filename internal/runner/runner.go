// Package runner orchestrates workflow execution: sequential dispatch over
// the block list, loop expansion, parallel groups, and the final summary.
package runner

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/blocksrun/blocks/internal/config"
	"github.com/blocksrun/blocks/internal/logger"
	"github.com/blocksrun/blocks/internal/loop"
	"github.com/blocksrun/blocks/internal/remote"
	"github.com/blocksrun/blocks/internal/session"
	"github.com/blocksrun/blocks/internal/ui"
	"github.com/blocksrun/blocks/internal/util"
	"github.com/blocksrun/blocks/internal/workflow"
)

const bannerWidth = 60

// Runner executes workflows block by block.
type Runner struct {
	store    *config.Store
	log      logger.Logger
	out      io.Writer
	tracker  *session.Tracker
	remote   *remote.Executor
	expander *loop.Expander

	results []Result
}

// Option configures a Runner.
type Option func(*Runner)

// WithOutput redirects console output, mainly for tests.
func WithOutput(w io.Writer) Option {
	return func(r *Runner) { r.out = w }
}

// WithMaxLoopDepth bounds nested loop expansion.
func WithMaxLoopDepth(n int) Option {
	return func(r *Runner) { r.expander = loop.New(r.store, r.log, loop.WithMaxDepth(n)) }
}

// New creates a Runner over the given config store.
func New(store *config.Store, log logger.Logger, opts ...Option) *Runner {
	r := &Runner{
		store:    store,
		log:      log,
		out:      os.Stdout,
		expander: loop.New(store, log),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.tracker = session.New(store, log, session.WithOutput(r.out))
	r.remote = remote.NewExecutor(log, remote.WithOutput(r.out))
	return r
}

// Results returns the ordered execution results. Parallel members appear in
// submission order, not completion order.
func (r *Runner) Results() []Result {
	return r.results
}

// Execute runs every block of the workflow in order. A failed block flips
// the aggregate result but never stops the run; only the returned boolean
// tells the caller whether everything succeeded.
func (r *Runner) Execute(ctx context.Context, wf *workflow.Workflow) bool {
	if len(wf.Blocks) == 0 {
		fmt.Fprintln(r.out, ui.Warning.Render("No blocks found in workflow"))
		return true
	}

	r.printBanner("WORKFLOW EXECUTION STARTED", fmt.Sprintf("Total items: %d", len(wf.Blocks)))

	ok := true
	for i := range wf.Blocks {
		b := &wf.Blocks[i]
		switch b.Kind() {
		case workflow.KindLoop:
			if !r.runLoop(ctx, b) {
				ok = false
			}
		case workflow.KindParallel:
			if !r.runParallel(ctx, b) {
				ok = false
			}
		case workflow.KindCommand, workflow.KindRemote:
			res := r.runSequential(ctx, *b)
			if !res.Success {
				ok = false
			}
		default:
			r.warnMalformed(b)
		}
	}

	r.printBanner("WORKFLOW EXECUTION COMPLETED")
	r.printSummary()
	return ok
}

// runSequential executes one concrete block on the sequential path and
// reloads config afterward so on-disk edits apply to later blocks.
func (r *Runner) runSequential(ctx context.Context, b workflow.Block) Result {
	res := r.execute(ctx, b, r.tracker)
	r.results = append(r.results, res)
	r.store.Reload()
	return res
}

// runLoop expands a for block and executes the expansion in order. A bad
// loop spec fails the run as a single synthetic result; the expanded blocks
// run exactly like regular sequential blocks.
func (r *Runner) runLoop(ctx context.Context, b *workflow.Block) bool {
	name := b.Name
	if name == "" {
		name = fmt.Sprintf("for %s in %s", b.Loop.Var, b.Loop.In)
	}

	expanded, err := r.expander.Expand(b.Loop)
	if err != nil {
		fmt.Fprintln(r.out, ui.Failure.Render("Error: "+err.Error()))
		r.results = append(r.results, failedResult(name, err.Error()))
		return false
	}

	ok := true
	for _, eb := range expanded {
		switch eb.Kind() {
		case workflow.KindLoop:
			// Templates can carry nested for blocks; they get their own
			// expansion pass here.
			if !r.runLoop(ctx, &eb) {
				ok = false
			}
		case workflow.KindCommand, workflow.KindRemote:
			if res := r.runSequential(ctx, eb); !res.Success {
				ok = false
			}
		default:
			r.warnMalformed(&eb)
		}
	}
	return ok
}

// runParallel executes a parallel group: expand it if it is a loop, validate
// the member list, then run every member concurrently and collect results in
// submission order.
func (r *Runner) runParallel(ctx context.Context, b *workflow.Block) bool {
	p := b.Parallel

	if p.Invalid {
		fmt.Fprintln(r.out, ui.Failure.Render("Error: 'parallel' must contain a list of blocks"))
		r.results = append(r.results, failedResult(b.Name, "'parallel' must contain a list of blocks"))
		return false
	}

	members := p.Blocks
	if p.Loop != nil {
		expanded, err := r.expander.Expand(p.Loop)
		if err != nil {
			fmt.Fprintln(r.out, ui.Failure.Render("Error: "+err.Error()))
			r.results = append(r.results, failedResult(b.Name, err.Error()))
			return false
		}
		members = expanded
	}

	if reason := validateParallelMembers(members); reason != "" {
		fmt.Fprintln(r.out, ui.Failure.Render("Error: "+reason))
		r.results = append(r.results, failedResult(b.Name, reason))
		return false
	}

	r.printBanner(fmt.Sprintf("PARALLEL EXECUTION: %d blocks", len(members)))

	// One goroutine per member. Each member gets its own cloned session
	// state; directory or environment changes never cross members, and
	// config is not reloaded until the whole group has joined.
	results := make([]Result, len(members))
	var wg sync.WaitGroup
	for i, m := range members {
		wg.Add(1)
		go func(i int, m workflow.Block) {
			defer wg.Done()
			tracker := session.New(r.store, r.log,
				session.WithState(r.tracker.State().Clone()),
				session.WithOutput(r.out))
			results[i] = r.execute(ctx, m, tracker)
		}(i, m)
	}
	wg.Wait()

	ok := true
	for _, res := range results {
		if !res.Success {
			ok = false
		}
	}
	r.results = append(r.results, results...)
	r.store.Reload()
	return ok
}

// validateParallelMembers rejects group shapes that cannot run concurrently.
// A remote member without a log file would interleave its console stream
// with every other member, so the whole group is refused up front.
func validateParallelMembers(members []workflow.Block) string {
	for _, m := range members {
		switch m.Kind() {
		case workflow.KindRemote:
			if m.Remote.LogFile == "" {
				return "parallel remote blocks need a 'log-into' file (concurrent console output is not ordered)"
			}
		case workflow.KindCommand:
		default:
			return "parallel members must be 'run' or 'run-remotely' blocks (use 'parallel: {for: ...}' for loops)"
		}
	}
	return ""
}

// execute dispatches one concrete block on the given tracker and wraps the
// outcome in a Result. Every failure mode lands in the Result; nothing
// escapes as an error.
func (r *Runner) execute(ctx context.Context, b workflow.Block, tracker *session.Tracker) Result {
	if b.Kind() == workflow.KindRemote {
		return r.executeRemote(ctx, b)
	}
	return r.executeCommand(ctx, b, tracker)
}

func (r *Runner) executeCommand(ctx context.Context, b workflow.Block, tracker *session.Tracker) Result {
	name := b.Name
	if name == "" {
		name = util.Truncate(b.Run, 50)
	}
	r.printBlockHeader(name, b.Description)

	start := time.Now()
	success, stdout, stderr := tracker.Run(ctx, b.Run, name)
	end := time.Now()

	res := Result{
		Name:        name,
		Description: b.Description,
		Success:     success,
		Stdout:      stdout,
		Stderr:      stderr,
		Duration:    end.Sub(start),
		StartTime:   start,
		EndTime:     end,
	}
	r.printStatus(res)
	return res
}

func (r *Runner) executeRemote(ctx context.Context, b workflow.Block) Result {
	spec := *b.Remote
	spec.Host = r.store.Interpolate(spec.Host)
	spec.User = r.store.Interpolate(spec.User)
	spec.Password = r.store.Interpolate(spec.Password)
	spec.Run = r.store.Interpolate(spec.Run)
	if spec.LogFile != "" {
		spec.LogFile = r.store.Interpolate(spec.LogFile)
	}

	name := b.Name
	if name == "" {
		name = fmt.Sprintf("Remote: %s@%s: %s", spec.User, spec.Host, util.Truncate(spec.Run, 30))
	}
	r.printBlockHeader(name, b.Description)
	fmt.Fprintln(r.out, ui.Accent.Render("  Remote Host: "+spec.User+"@"+spec.Host))
	fmt.Fprintln(r.out, ui.Detail.Render("  Command: "+spec.Run))
	if spec.LogFile != "" {
		fmt.Fprintln(r.out, ui.Warning.Render("  Log File: "+spec.LogFile))
	}

	start := time.Now()
	success, stdout, stderr := r.remote.Run(ctx, spec.User, spec.Host, spec.Password, spec.Run, spec.LogFile)
	end := time.Now()

	res := Result{
		Name:        name,
		Description: b.Description,
		Success:     success,
		Stdout:      stdout,
		Stderr:      stderr,
		Duration:    end.Sub(start),
		StartTime:   start,
		EndTime:     end,
	}
	r.printStatus(res)
	return res
}

func (r *Runner) warnMalformed(b *workflow.Block) {
	name := b.Name
	if name == "" {
		name = "(unnamed)"
	}
	fmt.Fprintln(r.out, ui.Warning.Render(fmt.Sprintf(
		"Warning: unrecognized block structure %s (missing 'run', 'run-remotely', 'for', or 'parallel' field)", name)))
	r.log.Warn("skipping malformed block %s", name)
}

func (r *Runner) printBanner(lines ...string) {
	rule := strings.Repeat("#", bannerWidth)
	fmt.Fprintln(r.out)
	fmt.Fprintln(r.out, ui.Banner.Render(rule))
	for _, line := range lines {
		fmt.Fprintln(r.out, ui.Banner.Render("# "+line))
	}
	fmt.Fprintln(r.out, ui.Banner.Render(rule))
}

func (r *Runner) printBlockHeader(name, description string) {
	rule := strings.Repeat("=", bannerWidth)
	fmt.Fprintln(r.out)
	fmt.Fprintln(r.out, ui.Header.Render(rule))
	if name != "" {
		fmt.Fprintln(r.out, ui.Header.Render("Block: "+name))
	}
	if description != "" {
		fmt.Fprintln(r.out, ui.Info.Render("Description: "+description))
	}
	fmt.Fprintln(r.out, ui.Header.Render(rule))
}

func (r *Runner) printStatus(res Result) {
	line := fmt.Sprintf("  Status: %s (Duration: %.2fs)",
		statusLabel(res.Success), res.Duration.Seconds())
	if res.Success {
		fmt.Fprintln(r.out, ui.Success.Render(line))
	} else {
		fmt.Fprintln(r.out, ui.Failure.Render(line))
	}
}

func statusLabel(success bool) string {
	if success {
		return ui.SymbolSuccess + " SUCCESS"
	}
	return ui.SymbolFailure + " FAILED"
}
