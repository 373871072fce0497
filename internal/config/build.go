package config

// Set at link time, e.g.
//
//	go build -ldflags "-X guied/internal/config.version=$(git describe --tags) \
//	    -X guied/internal/config.commit=$(git rev-parse --short HEAD)" ./cmd/api
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

// NewBuildInfo reports the values the binary was linked with.
func NewBuildInfo() BuildInfo {
	return BuildInfo{Version: version, Commit: commit, BuildTime: buildTime}
}
