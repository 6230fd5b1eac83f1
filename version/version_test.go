package version

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVersionIncludesGitCommit(t *testing.T) {
	require.Equal(t, CoreSemVer, Version)

	GitCommit = "deadbeef"
	defer func() { GitCommit = "" }()

	v := CoreSemVer
	if GitCommit != "" {
		v += "-" + GitCommit
	}
	require.Equal(t, CoreSemVer+"-deadbeef", v)
}

func TestBlockVersionIsPositive(t *testing.T) {
	require.Greater(t, BlockVersion, uint8(0))
}
