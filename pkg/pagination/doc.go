// Package pagination drives "fetch every page of X" loops.
//
// Two idioms are supported, chosen per endpoint:
//
//   - ModeTotalPages: the page reports the total page count; stop after it
//   - ModeUntilEmpty: no total is reported; stop at the first empty page
//
// Example usage:
//
//	items, err := pagination.CollectAllPages(ctx, func(ctx context.Context, page int) (pagination.Page[Thread], error) {
//		var res threadList
//		err := c.Call(ctx, "Forum.threads", transport.Params{{Key: "page", Value: page}}, &res)
//		return pagination.Page[Thread]{Items: res.Threads, TotalPages: res.Pages}, err
//	})
//
// A remote logical error on one page stops the walk and returns the items
// collected so far without an error. Transport failures and unrecoverable
// errors are returned to the caller.
//
// The driver keeps no state between runs. Resumable callers use Walk with a
// StartPage taken from their checkpoint and record progress in the visit
// callback.
//
// FetchAll fans out one operation per key and joins on all of them.
package pagination
