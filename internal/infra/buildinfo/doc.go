// Package buildinfo reports the memsnap build identity.
//
// Release builds inject values with ldflags:
//
//	go build -ldflags "-X github.com/yndnr/memsnap-go/internal/infra/buildinfo.Version=v0.3.0 \
//	    -X github.com/yndnr/memsnap-go/internal/infra/buildinfo.Commit=abc123"
//
// Development builds fall back to the VCS stamp the go tool embeds.
package buildinfo
