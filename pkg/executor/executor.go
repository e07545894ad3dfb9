package executor

import (
	"github.com/cuemby/quarry/pkg/fault"
	"github.com/cuemby/quarry/pkg/metrics"
)

// Executor runs an initialized program and collects the rows of every
// root. Two implementations exist: V1 drives each root as a relation
// tree (initialize, next until exhausted, terminate); V2 walks the flat
// iterator list, publishing each root's rows to the context's shared
// buffers as it goes.
type Executor interface {
	Execute(p *Program, ctx *Context) ([][]Row, error)
}

// V1 is the relation-tree executor.
type V1 struct{}

func (V1) Execute(p *Program, ctx *Context) ([][]Row, error) {
	if !p.initialized {
		return nil, fault.New(fault.KindUnexpected, moduleName, "program executed before initialize")
	}
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ProgramDuration)
	metrics.ProgramsExecuted.Inc()

	out := make([][]Row, 0, len(p.roots))
	for _, rootID := range p.roots {
		root, err := p.iterator(rootID)
		if err != nil {
			return nil, err
		}
		if err := root.StartUp(ctx, p); err != nil {
			return nil, err
		}
		var rows []Row
		for {
			row, ok, err := root.Next(ctx, p)
			if err != nil {
				root.Finish(ctx, p)
				return nil, err
			}
			if !ok {
				break
			}
			metrics.RowsEmitted.Inc()
			rows = append(rows, row)
		}
		if err := root.Finish(ctx, p); err != nil {
			return nil, err
		}
		out = append(out, rows)
	}
	return out, nil
}

// V2 is the flat-list executor: every root iterator runs start-up before
// any iterates, rows are published to the shared buffers between calls,
// and every iterator finishes after the last one is drained.
type V2 struct{}

func (V2) Execute(p *Program, ctx *Context) ([][]Row, error) {
	if !p.initialized {
		return nil, fault.New(fault.KindUnexpected, moduleName, "program executed before initialize")
	}
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ProgramDuration)
	metrics.ProgramsExecuted.Inc()

	roots := make([]Iterator, len(p.roots))
	for i, id := range p.roots {
		it, err := p.iterator(id)
		if err != nil {
			return nil, err
		}
		roots[i] = it
	}

	for _, it := range roots {
		if err := it.StartUp(ctx, p); err != nil {
			return nil, err
		}
	}

	out := make([][]Row, len(roots))
	var firstErr error
	for i, it := range roots {
		if firstErr != nil {
			break
		}
		for {
			row, ok, err := it.Next(ctx, p)
			if err != nil {
				firstErr = err
				break
			}
			if !ok {
				break
			}
			ctx.Publish(p.roots[i], row)
			metrics.RowsEmitted.Inc()
			out[i] = append(out[i], row)
		}
	}

	for _, it := range roots {
		if err := it.Finish(ctx, p); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		return nil, firstErr
	}
	return out, nil
}
