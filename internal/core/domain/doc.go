// Package domain defines the core domain models for memsnap.
//
// Domain models are plain values without IO dependencies. This package contains:
//
//   - Handle and DsoMetadata: open dynamic-library handles recorded at capture time
//   - Errors: structured error codes shared by the snapshot engine, the host
//     adapter and the artifact stores
package domain
