// Package cmap provides a sharded map that is safe for concurrent use.
//
// Keys hash onto a fixed number of shards, each guarded by its own
// RWMutex, so operations on keys in different shards do not contend.
//
//	locks := cmap.New[string, *sync.Mutex]()
//	mu, _ := locks.GetOrSet(key, &sync.Mutex{})
package cmap
