// Package codec encodes and decodes memory snapshot artifacts.
//
// Artifact layout (all integers little-endian):
//
//	offset 0..4            u32 headerSize (multiple of 8)
//	offset 4..8            u32 metadataByteLength
//	offset 8..headerSize   UTF-8 JSON metadata, then zero padding
//	offset headerSize..    raw linear-memory heap
//
// The metadata records, per library path, the dlopen handles that were open
// at capture time:
//
//	{"/lib/python3.12/site-packages/_foo.so":{"handles":[3,7]}}
//
// Artifacts of at most TestFixtureThreshold bytes never follow this layout.
// They are opaque test payloads, see Classify.
//
// The codec has no side effects beyond reading its Source. Decode returns a
// Decoded whose Restore copies the heap into a target memory exactly once.
package codec
