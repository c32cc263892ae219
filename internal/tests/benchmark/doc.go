// Package benchmark holds performance benchmarks for the snapshot path:
// artifact encoding and restore, archive index lookups, at-rest sealing
// and store round trips.
//
// Run benchmarks with:
//
//	go test -bench=. -benchmem ./internal/tests/benchmark/...
//
// Compare results:
//
//	go test -bench=. -benchmem -count=5 ./internal/tests/benchmark/... | tee new.txt
//	benchstat old.txt new.txt
package benchmark
