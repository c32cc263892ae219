// Package badgerstore keeps snapshot artifacts in an embedded Badger
// database.
//
// Each artifact occupies two keys: the payload under "a/<key>", tagged with
// the artifact kind in the entry's user-meta byte, and a JSON record under
// "m/<key>" so Stat and List never touch the value log. Both are written in
// one transaction. A background loop runs value-log GC, which matters here:
// every Put of a multi-megabyte heap leaves the previous one as garbage.
package badgerstore
