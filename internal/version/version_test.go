package version

import (
	"runtime"
	"runtime/debug"
	"strings"
	"testing"
	"time"
)

func vcsInfo(modified bool) *debug.BuildInfo {
	flag := "false"
	if modified {
		flag = "true"
	}
	return &debug.BuildInfo{
		Main: debug.Module{Path: "pkt.systems/gitpilot", Version: "(devel)"},
		Settings: []debug.BuildSetting{
			{Key: "vcs.revision", Value: "1234567890abcdef"},
			{Key: "vcs.time", Value: time.Date(2025, time.January, 2, 3, 4, 5, 0, time.UTC).Format(time.RFC3339)},
			{Key: "vcs.modified", Value: flag},
		},
	}
}

func TestResolve(t *testing.T) {
	cases := []struct {
		name    string
		info    *debug.BuildInfo
		stamped string
		clean   string
		full    string
	}{
		{"stamped wins", vcsInfo(false), "v1.2.3", "v1.2.3", "v1.2.3"},
		{"stamped dirty", nil, "v0.4.0+dirty", "v0.4.0", "v0.4.0+dirty"},
		{"module version", &debug.BuildInfo{Main: debug.Module{Version: "v0.9.1"}}, "", "v0.9.1", "v0.9.1"},
		{"pseudo clean", vcsInfo(false), "", "v0.0.0-20250102030405-1234567890ab", "v0.0.0-20250102030405-1234567890ab"},
		{"pseudo dirty", vcsInfo(true), "", "v0.0.0-20250102030405-1234567890ab", "v0.0.0-20250102030405-1234567890ab+dirty"},
		{"nothing known", nil, "", "v0.0.0-unknown", "v0.0.0-unknown"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b := resolve(tc.info, tc.stamped)
			if got := b.Clean(); got != tc.clean {
				t.Fatalf("Clean() = %q, want %q", got, tc.clean)
			}
			if got := b.String(); got != tc.full {
				t.Fatalf("String() = %q, want %q", got, tc.full)
			}
		})
	}
}

func TestResolveModuleFallback(t *testing.T) {
	if got := resolve(nil, "").Module; got != "pkt.systems/gitpilot" {
		t.Fatalf("unexpected module: %q", got)
	}
}

func TestUserAgentCarriesVersion(t *testing.T) {
	old := buildVersion
	buildVersion = "v0.4.0+dirty"
	t.Cleanup(func() { buildVersion = old })

	got := UserAgent()
	if !strings.HasPrefix(got, "gitpilot/v0.4.0 (") {
		t.Fatalf("unexpected user agent: %q", got)
	}
	if !strings.Contains(got, runtime.GOOS) {
		t.Fatalf("expected platform in user agent: %q", got)
	}
}
