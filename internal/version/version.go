// Package version holds build metadata stamped in with -ldflags, for
// example -X github.com/banshee-data/depthbridge/internal/version.Version=v1.2.0.
package version

import "fmt"

var (
	// Version is the release version.
	Version = "dev"
	// GitSHA is the git commit SHA.
	GitSHA = "unknown"
	// BuildTime is the build timestamp.
	BuildTime = "unknown"
)

// Info is the build metadata in JSON form.
type Info struct {
	Version   string `json:"version"`
	GitSHA    string `json:"git_sha"`
	BuildTime string `json:"build_time"`
}

// Get returns the current build metadata.
func Get() Info {
	return Info{Version: Version, GitSHA: GitSHA, BuildTime: BuildTime}
}

// String formats the metadata for -version output.
func String() string {
	sha := GitSHA
	if len(sha) > 12 {
		sha = sha[:12]
	}
	return fmt.Sprintf("depthbridge %s (%s, built %s)", Version, sha, BuildTime)
}
