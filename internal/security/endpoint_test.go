package security

import "testing"

func TestValidateEndpointURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		// A public IP literal keeps the happy path off DNS.
		{"public literal", "https://203.0.113.10/.well-known/stellar.toml", false},
		{"bad scheme", "ftp://stellar.example.org/stellar.toml", true},
		{"no host", "https:///stellar.toml", true},
		{"localhost", "https://localhost/stellar.toml", true},
		{"cloud metadata host", "http://metadata.google.internal/computeMetadata/v1/", true},
		{"loopback literal", "http://127.0.0.1/stellar.toml", true},
		{"private literal", "https://10.0.0.8/stellar.toml", true},
		{"link-local literal", "http://169.254.169.254/latest/meta-data/", true},
		{"unspecified literal", "http://0.0.0.0/", true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateEndpointURL(tc.url)
			if (err != nil) != tc.wantErr {
				t.Errorf("ValidateEndpointURL(%q) error = %v, wantErr %v", tc.url, err, tc.wantErr)
			}
		})
	}
}
