package version

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCurrent_DefaultsWithoutLdflags(t *testing.T) {
	b := Current()
	require.True(t, b.Dev())
	require.Equal(t, "unknown", b.Commit)
	require.Equal(t, "fulfillment-service/dev", b.UserAgent())
}

func TestBuild_Formatting(t *testing.T) {
	b := Build{Version: "v1.4.0", Commit: "a1b2c3d", Date: "2026-10-19"}
	require.False(t, b.Dev())
	require.Equal(t, "fulfillment-service v1.4.0 (commit a1b2c3d, built 2026-10-19)", b.String())
	require.Equal(t, "fulfillment-service/v1.4.0", b.UserAgent())

	fields := b.Fields()
	require.Equal(t, Service, fields["service"])
	require.Equal(t, "a1b2c3d", fields["commit"])
	require.Equal(t, "2026-10-19", fields["build_date"])
}
