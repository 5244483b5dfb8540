// Package lock provides exclusive, scoped locks per account key.
//
// Keys are always acquired in ascending order, so two operations that touch
// the same pair of accounts from opposite directions cannot deadlock.
// Acquisition is bounded; on timeout the caller gets
// model.ErrPersistenceConflict and may retry.
package lock

import (
	"context"
	"sort"
)

// Locker acquires every key or none. release is idempotent.
type Locker interface {
	Acquire(ctx context.Context, keys ...string) (release func(), err error)
}

// Canonical deduplicates and sorts keys.
func Canonical(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func releaseAll(fns []func()) func() {
	done := false
	return func() {
		if done {
			return
		}
		done = true
		for i := len(fns) - 1; i >= 0; i-- {
			fns[i]()
		}
	}
}
