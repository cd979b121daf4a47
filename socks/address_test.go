package socks

import "testing"

func TestAddressFromHostPort(t *testing.T) {
	tts := []struct {
		hostport string
		kind     AddressKind
		host     string
		port     uint16
	}{
		{"0.0.0.0:0", AddressV4, "0.0.0.0", 0},
		{"1.2.3.4:5", AddressV4, "1.2.3.4", 5},
		{"google.com:80", AddressDomain, "google.com", 80},
		{"[::]:80", AddressV6, "::", 80},
		{"[2001:db8::a:b:c:d]:80", AddressV6, "2001:db8::a:b:c:d", 80},
	}

	for _, tt := range tts {
		a, err := AddressFromHostPort(tt.hostport)
		if err != nil {
			t.Fatalf("%s: %v", tt.hostport, err)
		}
		if a.Kind != tt.kind {
			t.Errorf("%s: kind = %v, want %v", tt.hostport, a.Kind, tt.kind)
		}
		if a.Host() != tt.host {
			t.Errorf("%s: host = %q, want %q", tt.hostport, a.Host(), tt.host)
		}
		if a.Port != tt.port {
			t.Errorf("%s: port = %d, want %d", tt.hostport, a.Port, tt.port)
		}
	}
}

func TestAddressFromHostPortErrors(t *testing.T) {
	tts := []string{
		"1.2.3.4",
		"google.com:a",
		"not-a-hostport",
	}
	for _, hp := range tts {
		if _, err := AddressFromHostPort(hp); err == nil {
			t.Errorf("%s: expected error, got nil", hp)
		}
	}
}

func TestAddressString(t *testing.T) {
	a := NewV4Address([]byte{1, 2, 3, 4}, 5)
	if got, want := a.String(), "1.2.3.4:5"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}

	d := NewDomainAddress("example.com", 443)
	if got, want := d.String(), "example.com:443"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestNewDomainAddressNormalizesNFC(t *testing.T) {
	// "e" + combining acute accent (U+0065 U+0301) NFC-normalizes to the
	// precomposed accented form (U+00E9); the two encodings must
	// compare equal once wrapped, even though they differ byte-for-byte
	// on the wire.
	decomposed := "é.example.com"
	composed := "é.example.com"
	if decomposed == composed {
		t.Fatal("fixture strings must differ byte-for-byte before normalization")
	}

	a := NewDomainAddress(decomposed, 80)
	b := NewDomainAddress(composed, 80)
	if a.Name != b.Name {
		t.Errorf("NFC normalization mismatch: %q != %q", a.Name, b.Name)
	}
}
