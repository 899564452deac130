package version

import (
	"runtime/debug"
	"strings"
	"testing"
)

func stubBuildInfo(t *testing.T, bi *debug.BuildInfo) {
	t.Helper()
	orig := readBuildInfo
	readBuildInfo = func() (*debug.BuildInfo, bool) { return bi, bi != nil }
	t.Cleanup(func() { readBuildInfo = orig })
}

func stubLDFlags(t *testing.T, version, commit, buildTime string) {
	t.Helper()
	v, c, b := Version, Commit, BuildTime
	Version, Commit, BuildTime = version, commit, buildTime
	t.Cleanup(func() { Version, Commit, BuildTime = v, c, b })
}

func TestResolvePrefersLDFlags(t *testing.T) {
	stubLDFlags(t, "v1.2.3", "0123456789abcdef", "2026-01-02T03:04:05Z")
	stubBuildInfo(t, &debug.BuildInfo{
		GoVersion: "go1.26.0",
		Main:      debug.Module{Version: "v0.0.1"},
		Settings: []debug.BuildSetting{
			{Key: "vcs.revision", Value: "ffffffffffff"},
			{Key: "vcs.time", Value: "2020-01-01T00:00:00Z"},
		},
	})

	info := Resolve()
	if info.Version != "v1.2.3" || info.Commit != "0123456789abcdef" || info.BuildTime != "2026-01-02T03:04:05Z" {
		t.Fatalf("unexpected info: %+v", info)
	}
	if info.GoVersion != "go1.26.0" {
		t.Fatalf("go version: got %q want %q", info.GoVersion, "go1.26.0")
	}
	if got, want := String(), "v1.2.3 (0123456789ab)"; got != want {
		t.Fatalf("String: got %q want %q", got, want)
	}
}

func TestResolveFallsBackToBuildSettings(t *testing.T) {
	stubLDFlags(t, "", "", "")
	stubBuildInfo(t, &debug.BuildInfo{
		Main: debug.Module{Version: "(devel)"},
		Settings: []debug.BuildSetting{
			{Key: "vcs.revision", Value: "abc123"},
			{Key: "vcs.time", Value: "2026-10-01T00:00:00Z"},
			{Key: "vcs.modified", Value: "true"},
		},
	})

	info := Resolve()
	if info.Commit != "abc123" {
		t.Fatalf("commit: got %q want %q", info.Commit, "abc123")
	}
	if info.Version != "2026-10-01T00:00:00Z" {
		t.Fatalf("version: got %q want build time", info.Version)
	}
	if got, want := String(), "2026-10-01T00:00:00Z (abc123+dirty)"; got != want {
		t.Fatalf("String: got %q want %q", got, want)
	}
}

func TestResolveWithoutBuildInfo(t *testing.T) {
	stubLDFlags(t, "", "", "")
	stubBuildInfo(t, nil)

	info := Resolve()
	if info.Version == "" {
		t.Fatal("expected a timestamp version")
	}
	if s := String(); strings.Contains(s, "(") {
		t.Fatalf("String without commit should be the version alone, got %q", s)
	}
}
