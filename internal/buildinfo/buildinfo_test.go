package buildinfo

import "testing"

// TestString verifies the version line format for several metadata values.
func TestString(t *testing.T) {
	tests := []struct {
		name    string
		version string
		commit  string
		builtAt string
		want    string
	}{
		{
			name:    "default values",
			version: "dev",
			commit:  "unknown",
			builtAt: "unknown",
			want:    "version=dev commit=unknown built_at=unknown",
		},
		{
			name:    "release values",
			version: "0.7.0",
			commit:  "8d3f2a1",
			builtAt: "2026-02-14T09:30:00Z",
			want:    "version=0.7.0 commit=8d3f2a1 built_at=2026-02-14T09:30:00Z",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			origVersion, origCommit, origBuiltAt := Version, Commit, BuiltAt
			t.Cleanup(func() {
				Version, Commit, BuiltAt = origVersion, origCommit, origBuiltAt
			})
			Version, Commit, BuiltAt = tt.version, tt.commit, tt.builtAt
			if got := String(); got != tt.want {
				t.Fatalf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}
