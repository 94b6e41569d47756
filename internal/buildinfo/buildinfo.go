package buildinfo

import "time"

// Set via -ldflags at build time, e.g.
// -X github.com/xelth-com/eckpick/internal/buildinfo.CommitHash=$(git rev-parse --short HEAD)
var (
	BuildTime  string
	CommitHash string
)

// StartTime is recorded when the process starts
var StartTime = time.Now().UTC().Format(time.RFC3339)

// Version is the short commit hash, or "dev" for unstamped builds
func Version() string {
	if CommitHash == "" {
		return "dev"
	}
	return CommitHash
}

// Fields is the build block reported by the health endpoint
func Fields() map[string]string {
	f := map[string]string{
		"version": Version(),
		"started": StartTime,
	}
	if BuildTime != "" {
		f["built"] = BuildTime
	}
	return f
}
