package validation

import (
	"testing"
)

func TestValidateCompilerVersion(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"release", "0.8.17", false},
		{"with v", "v0.8.17", false},
		{"with commit", "0.8.17+commit.8df45f5f", false},
		{"nightly", "v0.8.18-nightly.2022.11.23+commit.eb2f874e", false},
		{"latest", "latest", false},
		{"missing patch", "0.8", true},
		{"garbage", "solc", true},
		{"empty", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateCompilerVersion(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateCompilerVersion(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestValidateAddress(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"valid lowercase", "0x5fbdb2315678afecb367f032d93f642f64180aa3", false},
		{"valid checksum", "0x5FbDB2315678afecb367f032d93F642f64180aa3", false},
		{"too short", "0x5fbdb2315678afecb367f032d93f642f64180a", true},
		{"no prefix", "005fbdb2315678afecb367f032d93f642f64180aa3", true},
		{"non hex", "0x5fbdb2315678afecb367f032d93f642f64180aag", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateAddress(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateAddress(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestValidateChainID(t *testing.T) {
	tests := []struct {
		input   string
		wantErr bool
	}{
		{"1", false},
		{"11155111", false},
		{"0", true},
		{"-1", true},
		{"mainnet", true},
		{"", true},
	}

	for _, tt := range tests {
		err := ValidateChainID(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateChainID(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
		}
	}
}
