package discovery

import (
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMatcherSingleConfigWins(t *testing.T) {
	var cfgA = &Config{Name: "a", BasePath: "/var/log/app", CreatedAt: time.Unix(0, 0)}
	var m = NewMatcher([]*Config{cfgA}, nil, nil)

	var matched = m.Match("/var/log/app/foo.log")
	require.Len(t, matched, 1)
	require.Equal(t, "a", matched[0].Name)
}

func TestMatcherLongestBasePathWins(t *testing.T) {
	var cfgShort = &Config{Name: "short", BasePath: "/var/log", CreatedAt: time.Unix(2, 0)}
	var cfgLong = &Config{Name: "long", BasePath: "/var/log/app", CreatedAt: time.Unix(1, 0)}
	var m = NewMatcher([]*Config{cfgShort, cfgLong}, nil, nil)

	var matched = m.Match("/var/log/app/foo.log")
	require.Len(t, matched, 1)
	require.Equal(t, "long", matched[0].Name)
}

func TestMatcherTieBrokenByEarliestCreateTime(t *testing.T) {
	var cfgNewer = &Config{Name: "newer", BasePath: "/var/log/app", CreatedAt: time.Unix(5, 0)}
	var cfgOlder = &Config{Name: "older", BasePath: "/var/log/app", CreatedAt: time.Unix(1, 0)}
	var m = NewMatcher([]*Config{cfgNewer, cfgOlder}, nil, nil)

	var matched = m.Match("/var/log/app/foo.log")
	require.Len(t, matched, 1)
	require.Equal(t, "older", matched[0].Name)
}

func TestMatcherForceMultiConfigMatchesInParallel(t *testing.T) {
	var cfgA = &Config{Name: "a", BasePath: "/var/log/app", CreatedAt: time.Unix(1, 0)}
	var cfgB = &Config{Name: "b", BasePath: "/var/log/app", ForceMultiConfig: true, CreatedAt: time.Unix(2, 0)}
	var m = NewMatcher([]*Config{cfgA, cfgB}, nil, nil)

	var matched = m.Match("/var/log/app/foo.log")
	require.Len(t, matched, 2)
}

func TestMatcherHostBlacklistRejects(t *testing.T) {
	var cfgA = &Config{Name: "a", BasePath: "/var/log/app", CreatedAt: time.Unix(0, 0)}
	var blacklist = HostBlacklist{regexp.MustCompile(`^/var/log/app/secret`)}
	var m = NewMatcher([]*Config{cfgA}, blacklist, nil)

	require.Empty(t, m.Match("/var/log/app/secret/x.log"))
	require.NotEmpty(t, m.Match("/var/log/app/public.log"))
}

func TestMatcherCachesResult(t *testing.T) {
	var cfgA = &Config{Name: "a", BasePath: "/var/log/app", CreatedAt: time.Unix(0, 0)}
	var m = NewMatcher([]*Config{cfgA}, nil, nil)

	var first = m.Match("/var/log/app/foo.log")
	var second = m.Match("/var/log/app/foo.log")
	require.Equal(t, first, second)

	m.InvalidatePath("/var/log/app/foo.log")
	require.NotEmpty(t, m.Match("/var/log/app/foo.log"))
}
