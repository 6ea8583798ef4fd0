// Package tx adapts concrete transactional stores to the narrow store
// interfaces each service consumes.
package tx

import "context"

// Runner executes fn inside one atomic unit of work against store S.
// Implementations either commit everything fn wrote or nothing.
type Runner[S any] interface {
	RunInTx(ctx context.Context, fn func(store S) error) error
}

// Adapt exposes a runner over a concrete backend C as a runner over the
// service-facing view S.
func Adapt[C, S any](r Runner[C], view func(C) S) Runner[S] {
	return adapted[C, S]{runner: r, view: view}
}

type adapted[C, S any] struct {
	runner Runner[C]
	view   func(C) S
}

func (a adapted[C, S]) RunInTx(ctx context.Context, fn func(store S) error) error {
	return a.runner.RunInTx(ctx, func(store C) error {
		return fn(a.view(store))
	})
}
