// Package benchmark holds cross-package benchmarks for the pool.
//
//	go test -bench=. -benchmem ./internal/benchmark
package benchmark
