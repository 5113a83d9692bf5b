// Package validation provides input validation for verification candidates.
package validation

import (
	"errors"
	"strconv"
	"strings"

	"golang.org/x/mod/semver"
)

// ValidateCompilerVersion validates a compiler version string: "latest",
// or X.Y.Z with an optional "v" prefix, prerelease and +commit build
// suffix.
func ValidateCompilerVersion(v string) error {
	v = strings.TrimSpace(v)
	if v == "" {
		return errors.New("compiler version cannot be empty")
	}
	if v == "latest" {
		return nil
	}

	normalized := "v" + strings.TrimPrefix(v, "v")
	if !semver.IsValid(normalized) {
		return errors.New("invalid compiler version: must be in format X.Y.Z[-prerelease][+commit.HASH]")
	}

	// semver accepts "v0.8"; compilers are always published as major.minor.patch
	mainPart := strings.SplitN(strings.SplitN(normalized, "+", 2)[0], "-", 2)[0]
	if strings.Count(mainPart, ".") < 2 {
		return errors.New("invalid compiler version: must be in format X.Y.Z (major.minor.patch)")
	}
	return nil
}

// ValidateAddress validates an Ethereum address
func ValidateAddress(addr string) error {
	if len(addr) != 42 {
		return errors.New("invalid address length: must be 42 characters (0x + 40 hex)")
	}
	if !strings.HasPrefix(addr, "0x") {
		return errors.New("invalid address: must start with 0x")
	}
	// Check hex characters
	for _, c := range addr[2:] {
		isDigit := c >= '0' && c <= '9'
		isLowerHex := c >= 'a' && c <= 'f'
		isUpperHex := c >= 'A' && c <= 'F'
		if !isDigit && !isLowerHex && !isUpperHex {
			return errors.New("invalid address: contains non-hex characters")
		}
	}
	return nil
}

// ValidateChainID validates a decimal chain ID
func ValidateChainID(chainID string) error {
	id, err := strconv.ParseUint(chainID, 10, 64)
	if err != nil {
		return errors.New("chain ID must be a decimal number")
	}
	if id == 0 {
		return errors.New("chain ID must be positive")
	}
	return nil
}
