package codec

// TestFixtureThreshold is the largest artifact size, in bytes, that is
// treated as an opaque test payload instead of a header+heap snapshot. No
// real interpreter heap fits in it.
const TestFixtureThreshold = 100

// Kind classifies a persisted artifact.
type Kind uint8

const (
	// KindUnknown means the store carries no tag for the artifact.
	KindUnknown Kind = iota
	// KindSnapshot is a header+metadata+heap memory snapshot.
	KindSnapshot
	// KindTestFixture is an opaque payload exposed to test hooks.
	KindTestFixture
)

// String returns the wire name of the kind.
func (k Kind) String() string {
	switch k {
	case KindSnapshot:
		return "snapshot"
	case KindTestFixture:
		return "test-fixture"
	default:
		return "unknown"
	}
}

// ParseKind parses a wire name produced by String. Unrecognized names map
// to KindUnknown.
func ParseKind(s string) Kind {
	switch s {
	case "snapshot":
		return KindSnapshot
	case "test-fixture":
		return KindTestFixture
	default:
		return KindUnknown
	}
}

// Classify decides how an artifact of the given size must be read.
//
// An explicit tag from the store wins. Untagged artifacts fall back to the
// size heuristic: at most TestFixtureThreshold bytes is a test fixture.
func Classify(size int64, tag Kind) Kind {
	if tag != KindUnknown {
		return tag
	}
	if size <= TestFixtureThreshold {
		return KindTestFixture
	}
	return KindSnapshot
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(b []byte) error {
	*k = ParseKind(string(b))
	return nil
}
