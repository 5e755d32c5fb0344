package router

import "testing"

func TestNormalizePhone(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"5548999990000", "5548999990000", false},
		{"+55 (48) 99999-0000", "5548999990000", false},
		{"+55 48 9 9999-0000", "55489999990000", false},
		{"  5548999990000  ", "5548999990000", false},
		{"123", "", true},
		{"", "", true},
		{"abc", "", true},
		{"12345678901234567890", "", true},
	}
	for _, tc := range cases {
		got, err := NormalizePhone(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("NormalizePhone(%q): expected error, got %q", tc.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("NormalizePhone(%q): %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("NormalizePhone(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
