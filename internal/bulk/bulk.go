// Package bulk runs an import function over many request files with a
// bounded worker pool.
package bulk

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
)

// Operation configures a bulk run
type Operation struct {
	Jobs            int
	ContinueOnError bool
	Ordered         bool
	ShowProgress    bool

	// Log receives one line per finished item when progress is not shown.
	// Defaults to os.Stderr.
	Log io.Writer
}

// Result is the outcome of a bulk run
type Result struct {
	TotalItems int
	Succeeded  int
	Failed     int
	Skipped    int
	Errors     []ItemError
}

// ItemError is the error for one item
type ItemError struct {
	Item  string
	Error error
}

// ItemFunc imports one item
type ItemFunc func(ctx context.Context, item string) error

// Execute runs fn over items. Items not started because of an earlier
// failure or a cancelled ctx are counted as skipped.
func (op *Operation) Execute(ctx context.Context, items []string, fn ItemFunc) *Result {
	if len(items) == 0 {
		return &Result{}
	}

	jobs := op.Jobs
	if jobs <= 0 {
		jobs = runtime.NumCPU()
	}
	if op.Ordered || jobs == 1 {
		return op.executeSequential(ctx, items, fn)
	}
	return op.executeParallel(ctx, items, fn, jobs)
}

func (op *Operation) log() io.Writer {
	if op.Log != nil {
		return op.Log
	}
	return os.Stderr
}

func (op *Operation) progress() bool {
	return op.ShowProgress && isatty(os.Stderr)
}

func (op *Operation) report(item string, err error) {
	if op.progress() {
		return
	}
	if err != nil {
		fmt.Fprintf(op.log(), "%s: error: %v\n", item, err)
		return
	}
	fmt.Fprintf(op.log(), "%s: ok\n", item)
}

func (op *Operation) executeSequential(ctx context.Context, items []string, fn ItemFunc) *Result {
	result := &Result{TotalItems: len(items)}

	for i, item := range items {
		if ctx.Err() != nil {
			result.Skipped = len(items) - i
			break
		}
		if op.progress() {
			fmt.Fprintf(os.Stderr, "\rImporting %d/%d...", i+1, len(items))
		}

		err := fn(ctx, item)
		op.report(item, err)
		if err != nil {
			result.Failed++
			result.Errors = append(result.Errors, ItemError{Item: item, Error: err})
			if !op.ContinueOnError {
				result.Skipped = len(items) - i - 1
				break
			}
			continue
		}
		result.Succeeded++
	}

	if op.progress() {
		fmt.Fprintf(os.Stderr, "\r\033[K")
	}
	return result
}

func (op *Operation) executeParallel(ctx context.Context, items []string, fn ItemFunc, workers int) *Result {
	result := &Result{TotalItems: len(items)}

	queue := make(chan string, len(items))
	for _, item := range items {
		queue <- item
	}
	close(queue)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		completed int32
		succeeded int32
		failed    int32
		errorsMu  sync.Mutex
	)

	var progressDone chan struct{}
	if op.progress() {
		progressDone = make(chan struct{})
		go func() {
			defer close(progressDone)
			for {
				select {
				case <-progressDone:
					return
				default:
					c := atomic.LoadInt32(&completed)
					pct := int(float64(c) / float64(len(items)) * 100)
					fmt.Fprintf(os.Stderr, "\rImporting with %d workers... [%s] %d/%d (ok %d, failed %d)",
						workers, progressBar(pct, 20), c, len(items),
						atomic.LoadInt32(&succeeded), atomic.LoadInt32(&failed))
				}
			}
		}()
	}

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range queue {
				if ctx.Err() != nil {
					return
				}

				err := fn(ctx, item)
				atomic.AddInt32(&completed, 1)
				op.report(item, err)
				if err != nil {
					atomic.AddInt32(&failed, 1)
					errorsMu.Lock()
					result.Errors = append(result.Errors, ItemError{Item: item, Error: err})
					errorsMu.Unlock()
					if !op.ContinueOnError {
						cancel()
					}
					continue
				}
				atomic.AddInt32(&succeeded, 1)
			}
		}()
	}
	wg.Wait()

	if progressDone != nil {
		progressDone <- struct{}{}
		<-progressDone
		fmt.Fprintf(os.Stderr, "\r\033[K")
	}

	result.Succeeded = int(succeeded)
	result.Failed = int(failed)
	result.Skipped = len(items) - int(completed)
	return result
}

// ExitCode is 0 when every item succeeded, 5 on partial success and 1
// when nothing succeeded.
func (r *Result) ExitCode() int {
	if r.Failed == 0 && r.Skipped == 0 {
		return 0
	}
	if r.Succeeded > 0 {
		return 5
	}
	return 1
}

// PrintSummary writes a human-readable summary
func (r *Result) PrintSummary(w io.Writer) {
	switch {
	case r.Failed == 0 && r.Skipped == 0:
		fmt.Fprintf(w, "\n✓ All %d imports succeeded\n", r.TotalItems)
	case r.Succeeded == 0:
		fmt.Fprintf(w, "\n✗ All %d imports failed\n", r.TotalItems)
	default:
		fmt.Fprintf(w, "\n⚠ Partial success: %d succeeded, %d failed, %d skipped (out of %d)\n",
			r.Succeeded, r.Failed, r.Skipped, r.TotalItems)
	}

	errs := r.Errors
	if len(errs) == 0 {
		return
	}
	if len(errs) > 10 {
		fmt.Fprintf(w, "\nShowing first 10 errors (of %d):\n", len(errs))
		errs = errs[:10]
	} else {
		fmt.Fprintf(w, "\nErrors:\n")
	}
	for _, e := range errs {
		fmt.Fprintf(w, "  %s: %v\n", e.Item, e.Error)
	}
}

func progressBar(percent, width int) string {
	filled := percent * width / 100
	if filled > width {
		filled = width
	}
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

func isatty(f *os.File) bool {
	stat, err := f.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) != 0
}
