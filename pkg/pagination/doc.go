// Package pagination provides the controller that pages through the
// collection for a scrolling consumer.
//
// The controller is a state machine over Idle, LoadingInitial, LoadingMore
// and Exhausted. At most one page request is outstanding at a time; load
// calls made while a request is in flight are no-ops, so consumers can call
// LoadMoreIfNeeded on every scroll event near the end of the list.
//
// Example usage:
//
//	loop := dispatch.NewLoop("gallery")
//	ctrl := pagination.NewController(api, loop, pagination.DefaultConfig())
//
//	loop.Call(ctx, func() { ctrl.LoadInitialBatch() })
//	ctrl.Wait(ctx)
//
//	loop.Call(ctx, func() {
//		if ctrl.ShouldLoadMore(index) {
//			ctrl.LoadMoreIfNeeded()
//		}
//	})
//
// Load methods, ShouldLoadMore and Reset run on the consumption context (the
// dispatch loop). Page requests run on their own goroutine and post their
// result back to the loop, where records are filtered and appended.
//
// Two paging modes are supported:
//   - PagingDerived (default) derives the page index as nextOffset/count + 1
//     and advances nextOffset by the number of records that survived
//     filtering. Initial and batch counts should match, otherwise offsets can
//     misalign.
//   - PagingServer requests current_page + 1 from the last response and
//     tracks the raw server offset, independent of filtering.
package pagination
