// Package retrieval fetches a contiguous id range in parallel and assembles
// the results into an ordered entity.Collection.
//
// A bounded worker pool pulls ids from a queue. Each id is fetched with a
// per-attempt timeout and retried with exponential backoff while the failure
// is transient. A single collector places every result in the slot for its
// id, so the collection order never depends on completion order.
//
// Usage:
//
//	r := retrieval.New(apiClient, retrieval.DefaultConfig())
//	collection, summary, err := r.Retrieve(ctx, 1, 898)
//	if errors.Is(err, retrieval.ErrCancelled) {
//	    // collection holds everything fetched before cancellation
//	}
//	for _, f := range summary.Failures {
//	    log.Warn().Int("id", f.ID).Str("class", string(f.Class)).Msg("not retrieved")
//	}
package retrieval
