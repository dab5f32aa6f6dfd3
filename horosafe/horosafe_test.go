package horosafe

import (
	"errors"
	"net"
	"strings"
	"testing"
)

func TestValidateURL(t *testing.T) {
	tests := []struct {
		url     string
		wantErr bool
	}{
		{"https://93.184.216.34/api", false},
		{"ftp://evil.com/data", true},
		{"javascript:alert(1)", true},
		{"http:///nohost", true},
		{"http://127.0.0.1/admin", true},
		{"http://10.0.0.1/internal", true},
		{"http://192.168.1.1/api", true},
		{"http://[::1]/api", true},
		{"http://0.0.0.0:5000/", true},
	}
	for _, tt := range tests {
		err := ValidateURL(tt.url)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateURL(%q): error=%v, wantErr=%v", tt.url, err, tt.wantErr)
		}
	}
}

func TestValidateURL_AllowPrivate(t *testing.T) {
	if err := ValidateURL("http://127.0.0.1:5000/api/extension", AllowPrivate()); err != nil {
		t.Errorf("loopback with AllowPrivate: %v", err)
	}
	if err := ValidateURL("file:///etc/passwd", AllowPrivate()); !errors.Is(err, ErrUnsafeScheme) {
		t.Errorf("scheme with AllowPrivate: got %v, want ErrUnsafeScheme", err)
	}
}

func TestValidateIdentifier(t *testing.T) {
	if err := ValidateIdentifier("mplens_product_info"); err != nil {
		t.Errorf("valid: %v", err)
	}
	for _, s := range []string{"", "../etc", "has space", strings.Repeat("a", 129)} {
		if err := ValidateIdentifier(s); err == nil {
			t.Errorf("ValidateIdentifier(%q): want error", s)
		}
	}
}

func TestLimitedReadAll(t *testing.T) {
	data := strings.Repeat("x", 100)
	got, err := LimitedReadAll(strings.NewReader(data), 100)
	if err != nil || len(got) != 100 {
		t.Fatalf("at limit: got %d bytes, %v", len(got), err)
	}
	if _, err := LimitedReadAll(strings.NewReader(data), 50); !errors.Is(err, ErrTooLarge) {
		t.Errorf("over limit: got %v, want ErrTooLarge", err)
	}
}

func TestIsPrivateIP(t *testing.T) {
	tests := []struct {
		ip      string
		private bool
	}{
		{"127.0.0.1", true},
		{"10.0.0.1", true},
		{"172.16.0.1", true},
		{"192.168.0.1", true},
		{"169.254.1.1", true},
		{"fd00::1", true},
		{"::1", true},
		{"8.8.8.8", false},
		{"1.1.1.1", false},
	}
	for _, tt := range tests {
		if got := isPrivateIP(net.ParseIP(tt.ip)); got != tt.private {
			t.Errorf("isPrivateIP(%s): got %v, want %v", tt.ip, got, tt.private)
		}
	}
}
