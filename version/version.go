// Package version holds the build-time version stamped into
// cmd/consensus-inspect's --version output and reported over the
// network endpoint's node-info exchange (spec.md §4.8 postNodeInfo).
package version

var (
	// GitCommit is the current HEAD, set via -ldflags at build time.
	GitCommit string

	// Version is the full version string reported by --version.
	Version string = CoreSemVer
)

func init() {
	if GitCommit != "" {
		Version += "-" + GitCommit
	}
}

// CoreSemVer is the semantic version of this consensus-core build.
const CoreSemVer = "0.1.0"

// BlockVersion is the current wire/schema version blocks are encoded
// with; it is the concrete value processor.Config.Version and the
// header's own Version field are seeded with, matching spec.md §4.3's
// "same as the current chain's block schema version" rejection rule.
const BlockVersion uint8 = 1
