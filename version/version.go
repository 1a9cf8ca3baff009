package version

import (
	"fmt"
	"runtime"
)

// Build information. Populated at build-time
var (
	Version   = "undefined"
	GitDate   = "undefined"
	GitCommit = "undefined"
	BuildDate = "undefined"
	GoVersion = runtime.Version()
)

// UserAgent is sent with every request to the cluster.
func UserAgent() string {
	return fmt.Sprintf("tabletstore/%s (%s; %s)", Version, GitCommit, GoVersion)
}
