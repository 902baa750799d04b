package runner

import (
	"context"
	"errors"

	"web/clustermap/fetch"
	"web/clustermap/query"
	"web/clustermap/store"
)

// classify maps a job error to the task's final state and a metric label.
func classify(err error) (State, string) {
	switch {
	case errors.Is(err, ErrFetchCancelled), errors.Is(err, context.Canceled):
		return StateCancelled, "cancelled"
	case errors.Is(err, store.ErrStoreUnavailable):
		return StateFailed, "store_unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		return StateFailed, "timeout"
	}
	return StateFailed, "other"
}

// FetchPlanner builds a Planner that runs ctrl.Execute for the request and
// parameters derived from each viewport.
func FetchPlanner(ctrl *fetch.Controller, derive func(Viewport) (query.FetchRequest, fetch.Params, error)) Planner {
	return func(v Viewport) (Job, error) {
		req, params, err := derive(v)
		if err != nil {
			return nil, err
		}
		return func(ctx context.Context) (fetch.Snapshot, error) {
			return ctrl.Execute(ctx, req, params)
		}, nil
	}
}
