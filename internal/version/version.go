// Package version carries the build identity stamped in with -ldflags:
//
//	go build -ldflags "-X github.com/banshee-data/densecloud/internal/version.Version=v0.3.0 \
//	  -X github.com/banshee-data/densecloud/internal/version.GitSHA=$(git rev-parse --short HEAD)"
package version

import "fmt"

var (
	// Version is the release tag, or "dev" for local builds.
	Version = "dev"
	// GitSHA is the short commit the binary was built from.
	GitSHA = "unknown"
	// BuildTime is the UTC build timestamp.
	BuildTime = "unknown"
)

// String formats the build identity for logs and -version.
func String() string {
	return fmt.Sprintf("densecloud %s (%s, built %s)", Version, GitSHA, BuildTime)
}
