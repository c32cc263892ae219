package buildinfo

import (
	"runtime"
	"runtime/debug"
	"sync"
)

// Set via ldflags.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// Info is the build identity.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
	GoVersion string `json:"go_version"`
	Modified  bool   `json:"modified,omitempty"`
}

var (
	once   sync.Once
	cached Info
)

// Get returns the build identity. Fields not injected at link time are
// read from the embedded build settings.
func Get() Info {
	once.Do(func() {
		cached = Info{
			Version:   Version,
			Commit:    Commit,
			BuildTime: BuildTime,
			GoVersion: runtime.Version(),
		}
		bi, ok := debug.ReadBuildInfo()
		if !ok {
			return
		}
		if cached.Version == "dev" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
			cached.Version = bi.Main.Version
		}
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if cached.Commit == "unknown" {
					cached.Commit = s.Value
				}
			case "vcs.time":
				if cached.BuildTime == "unknown" {
					cached.BuildTime = s.Value
				}
			case "vcs.modified":
				cached.Modified = s.Value == "true"
			}
		}
	})
	return cached
}

// String formats the identity for -version output.
func String() string {
	i := Get()
	s := i.Version + " (" + shortCommit(i.Commit) + ") built at " + i.BuildTime + " with " + i.GoVersion
	if i.Modified {
		s += " +dirty"
	}
	return s
}

// UserAgent is the User-Agent memsnap clients send.
func UserAgent() string {
	return "memsnap/" + Get().Version
}

func shortCommit(c string) string {
	if len(c) > 12 {
		return c[:12]
	}
	return c
}
