// Package tilepool fans VArray tile operations (read/update/clear/create)
// out across a fixed worker pool, the same way the teacher spreads GSF file
// conversions across a pond.WorkerPool sized to the machine's CPU count.
package tilepool

import (
	"context"
	"errors"
	"runtime"
	"sync"

	"github.com/alitto/pond"
)

// ErrTilePool is returned when a batch of tile tasks contains a failure;
// the caller inspects errors.Join'd detail via errors.Unwrap/errors.Is on
// the individual tile errors, not on this sentinel itself.
var ErrTilePool = errors.New("tilepool: one or more tile tasks failed")

// Pool runs VArray tile tasks concurrently, bounded to a fixed worker count.
type Pool struct {
	wp *pond.WorkerPool
}

// New builds a Pool sized to twice the machine's CPU count, matching the
// teacher's convert_gsf_list fixed-pool sizing. A size of 0 uses that
// default; a positive size overrides it (tests pin small pools this way).
func New(ctx context.Context, size int) *Pool {
	if size <= 0 {
		size = runtime.NumCPU() * 2
	}
	wp := pond.New(size, 0, pond.MinWorkers(size), pond.Context(ctx))
	return &Pool{wp: wp}
}

// Run submits every task and waits for them all to finish, returning
// ErrTilePool joined with every task error (nil if none failed). Every task still
// runs to completion even after a failure — tiles are independent storage
// operations and a partial batch should leave as few dangling writes as
// possible rather than abandoning mid-flight ones.
func (p *Pool) Run(tasks ...func() error) error {
	var (
		mu   sync.Mutex
		errs []error
		wg   sync.WaitGroup
	)
	wg.Add(len(tasks))
	for _, task := range tasks {
		task := task
		p.wp.Submit(func() {
			defer wg.Done()
			if err := task(); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		})
	}
	wg.Wait()
	if len(errs) > 0 {
		return errors.Join(append([]error{ErrTilePool}, errs...)...)
	}
	return nil
}

// StopAndWait releases the pool's workers, waiting for in-flight tasks.
func (p *Pool) StopAndWait() {
	p.wp.StopAndWait()
}

// Running reports the number of workers currently executing a task.
func (p *Pool) Running() int {
	return p.wp.Running()
}
