package version

import (
	"runtime/debug"
	"testing"
)

func TestResolvePrefersLdflags(t *testing.T) {
	t.Parallel()

	info := resolve("v1.2.3", "0123456789abcdef", "2026-01-01", func() (*debug.BuildInfo, bool) {
		return &debug.BuildInfo{
			Main:     debug.Module{Version: "v0.0.1"},
			Settings: []debug.BuildSetting{{Key: "vcs.revision", Value: "ffff"}},
		}, true
	})
	if info.Version != "v1.2.3" || info.Commit != "0123456789abcdef" {
		t.Fatalf("unexpected info: %+v", info)
	}
	if got := info.String(); got != "v1.2.3 (0123456789ab)" {
		t.Fatalf("unexpected string: %q", got)
	}
}

func TestResolveFallsBackToBuildInfo(t *testing.T) {
	t.Parallel()

	info := resolve("", "", "", func() (*debug.BuildInfo, bool) {
		return &debug.BuildInfo{
			Main: debug.Module{Version: "(devel)"},
			Settings: []debug.BuildSetting{
				{Key: "vcs.revision", Value: "abc123"},
				{Key: "vcs.time", Value: "2026-02-03T04:05:06Z"},
				{Key: "vcs.modified", Value: "true"},
			},
		}, true
	})
	if info.Version != devVersion {
		t.Fatalf("expected dev version, got %q", info.Version)
	}
	if info.BuildTime != "2026-02-03T04:05:06Z" {
		t.Fatalf("unexpected build time %q", info.BuildTime)
	}
	if got := info.String(); got != "dev (abc123-dirty)" {
		t.Fatalf("unexpected string: %q", got)
	}

	bare := resolve("", "", "", func() (*debug.BuildInfo, bool) { return nil, false })
	if bare.String() != devVersion {
		t.Fatalf("unexpected bare version %q", bare.String())
	}
}
