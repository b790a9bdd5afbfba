package version

import "testing"

func TestInfoString(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		info Info
		want string
	}{
		{Info{Version: "dev"}, "dev"},
		{Info{Version: "v1.2.0", Commit: "abc123"}, "v1.2.0 (abc123)"},
		{Info{Version: "v1.2.0", Commit: "0123456789abcdef", BuildTime: "2026-01-02"}, "v1.2.0 (0123456789ab, 2026-01-02)"},
	}

	for _, tc := range testCases {
		if got := tc.info.String(); got != tc.want {
			t.Errorf("String() = %q, want %q", got, tc.want)
		}
	}
}
