package cmd

import "testing"

func TestValidateAddr(t *testing.T) {
	tests := []struct {
		addr    string
		wantErr bool
	}{
		{"127.0.0.1:3400", false},
		{"localhost:8080", false},
		{":8080", false},
		{":0", false},
		{"0.0.0.0:3400", false},
		{"127.0.0.1", true},     // missing port
		{"127.0.0.1:", true},    // empty port
		{"127.0.0.1:abc", true}, // non-numeric port
		{"127.0.0.1:70000", true},
		{"bad host:8080", true},
	}
	for _, tt := range tests {
		err := validateAddr(tt.addr)
		if (err != nil) != tt.wantErr {
			t.Errorf("validateAddr(%q) error = %v, wantErr %v", tt.addr, err, tt.wantErr)
		}
	}
}

func TestParseRateBurst(t *testing.T) {
	tests := []struct {
		value string
		want  int
	}{
		{"", 0},
		{"50", 50},
		{"0", 0},
		{"-3", 0},
		{"abc", 0},
	}
	for _, tt := range tests {
		t.Setenv("CODELAKE_RATE_BURST", tt.value)
		if got := parseRateBurst(); got != tt.want {
			t.Errorf("parseRateBurst() with %q = %d, want %d", tt.value, got, tt.want)
		}
	}
}
