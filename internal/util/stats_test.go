package util

import "testing"

func TestFormatBytes(t *testing.T) {
	cases := []struct {
		in   float64
		want string
	}{
		{0, " 0.0   B"},
		{99, "99.0   B"},
		{1536, " 1.5 KiB"},
		{100 * 1024 * 1024, " 0.1 GiB"},
	}
	for _, tc := range cases {
		if got := formatBytes(tc.in); got != tc.want {
			t.Errorf("formatBytes(%v) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestFormatStats(t *testing.T) {
	got := formatStats(1536, 0, 3, 1, 42)
	want := "Up:  1.5 KiB/s | Down:  0.0   B/s | Conn:  3↑  1↓ | UDP: 42 dgrams"
	if got != want {
		t.Errorf("formatStats = %q, want %q", got, want)
	}
}
