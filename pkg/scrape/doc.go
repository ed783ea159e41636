// Package scrape provides resumable task shapes the content scrapers are
// built from.
//
//   - ItemTask works through a pending list of items, one at a time
//   - PagedTask walks a paged listing page by page
//   - RPCListTask is a PagedTask over a JSON-RPC list method that stores
//     every item in the record store
//
// Each task owns its progress struct. The checkpoint session reads it through
// a locked snapshot, so the runner can flush it at any moment. An item is
// removed from the pending list only after it was processed, so an
// interrupted item is fetched again on resume rather than skipped.
package scrape
