// Package version holds build metadata for the agent binaries.
//
// Set at link time:
//
//	go build -ldflags "-X github.com/rickgao/freightline/internal/version.Version=0.3.0 \
//	                   -X github.com/rickgao/freightline/internal/version.Commit=$(git rev-parse --short HEAD)" \
//	         ./cmd/freightline-agent
package version

import "fmt"

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// String returns "version (commit) built time".
func String() string {
	return fmt.Sprintf("%s (%s) built %s", Version, Commit, BuildTime)
}

// UserAgent is sent with REST requests and the websocket handshake.
func UserAgent() string {
	return "freightline-agent/" + Version
}
