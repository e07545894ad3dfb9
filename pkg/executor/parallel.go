package executor

import (
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/cuemby/quarry/pkg/log"
)

// Task is a parallel region: Parallel runs on every worker, bracketed by
// Prepare and Dispose on one designated worker under an implicit barrier.
type Task interface {
	Prepare() error
	Parallel(worker int) error
	Dispose() error
}

// Pool runs parallel regions on a fixed number of workers. The first
// error raised on any worker wins and is re-raised on the invoking
// goroutine after every worker has joined. User-level errors are logged
// at Info, everything else at Error.
type Pool struct {
	workers int
}

// NewPool sizes a worker pool; n <= 0 means one worker.
func NewPool(n int) *Pool {
	if n <= 0 {
		n = 1
	}
	return &Pool{workers: n}
}

// Workers returns the worker count.
func (p *Pool) Workers() int { return p.workers }

// Run executes the task's parallel region.
func (p *Pool) Run(task Task) error {
	if err := task.Prepare(); err != nil {
		return err
	}

	var g errgroup.Group
	for w := 0; w < p.workers; w++ {
		worker := w
		g.Go(func() error {
			err := task.Parallel(worker)
			if err != nil {
				logger := log.WithComponent("executor").With().Int("worker", worker).Logger()
				log.Fault(logger, err, "Parallel region raised")
			}
			return err
		})
	}
	err := g.Wait()

	if derr := task.Dispose(); derr != nil && err == nil {
		err = derr
	}
	return err
}

// RunFunc runs f on every worker without prepare/dispose hooks.
func (p *Pool) RunFunc(f func(worker int) error) error {
	return p.Run(funcTask(f))
}

type funcTask func(worker int) error

func (f funcTask) Prepare() error { return nil }
func (f funcTask) Parallel(worker int) error { return f(worker) }
func (f funcTask) Dispose() error { return nil }

// ParallelIterator runs its child iterators concurrently, one worker per
// child, materializing their rows; it then emits everything in child
// order. The other children run to completion when one fails; the first
// child error is re-raised after every child has joined.
type ParallelIterator struct {
	Children []int

	rows []Row
	pos  int
}

func (it *ParallelIterator) ClassID() int { return ClassParallelIterator }

func (it *ParallelIterator) Serialize(ar *Archive) {
	ar.WriteInt(len(it.Children))
	for _, c := range it.Children {
		ar.WriteInt(c)
	}
}

func (it *ParallelIterator) Deserialize(r *Reader) error {
	n, err := r.ReadInt()
	if err != nil {
		return err
	}
	it.Children = make([]int, n)
	for i := range it.Children {
		if it.Children[i], err = r.ReadInt(); err != nil {
			return err
		}
	}
	return nil
}

func (it *ParallelIterator) StartUp(ctx *Context, p *Program) error {
	it.rows = nil
	it.pos = 0

	results := make([][]Row, len(it.Children))
	var mu sync.Mutex

	pool := NewPool(len(it.Children))
	err := pool.RunFunc(func(worker int) error {
		child, err := p.iterator(it.Children[worker])
		if err != nil {
			return err
		}
		if err := child.StartUp(ctx, p); err != nil {
			return err
		}
		var rows []Row
		for {
			row, ok, err := child.Next(ctx, p)
			if err != nil {
				return err
			}
			if !ok {
				break
			}
			rows = append(rows, row)
		}
		if err := child.Finish(ctx, p); err != nil {
			return err
		}
		mu.Lock()
		results[worker] = rows
		mu.Unlock()
		return nil
	})
	if err != nil {
		return err
	}
	for _, rows := range results {
		it.rows = append(it.rows, rows...)
	}
	return nil
}

func (it *ParallelIterator) Next(ctx *Context, p *Program) (Row, bool, error) {
	if it.pos >= len(it.rows) {
		return nil, false, nil
	}
	row := it.rows[it.pos]
	it.pos++
	return row, true, nil
}

func (it *ParallelIterator) Finish(ctx *Context, p *Program) error {
	it.rows = nil
	return nil
}
