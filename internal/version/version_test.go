package version

import "testing"

func TestString(t *testing.T) {
	oldV, oldSHA, oldT := Version, GitSHA, BuildTime
	defer func() { Version, GitSHA, BuildTime = oldV, oldSHA, oldT }()

	Version, GitSHA, BuildTime = "v0.3.0", "0123456789abcdef0123", "2026-01-02T03:04:05Z"
	want := "depthbridge v0.3.0 (0123456789ab, built 2026-01-02T03:04:05Z)"
	if got := String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
	if got := Get(); got.GitSHA != GitSHA || got.Version != "v0.3.0" {
		t.Errorf("Get() = %+v", got)
	}
}
