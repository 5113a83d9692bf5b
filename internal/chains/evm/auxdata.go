// Package evm provides the EVM bytecode codecs used during source
// verification: the compiler-appended auxdata trailer and the metadata
// document that trailer references.
package evm

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"github.com/mr-tron/base58"
)

// Codec errors.
var (
	ErrEmptyBytecode               = errors.New("bytecode is empty")
	ErrMissingHexPrefix            = errors.New("bytecode must be 0x-prefixed hex")
	ErrInvalidHex                  = errors.New("bytecode is not valid hex")
	ErrAuxdataNotFound             = errors.New("auxdata is not in the execution bytecode")
	ErrUnrecognizedReferenceScheme = errors.New("unrecognized metadata reference scheme")
)

// auxdataDecMode decodes trailer candidates. Solidity only ever emits
// text keys, so any-typed maps decode to map[string]any; a candidate
// with non-text keys fails the decode and is treated as "no auxdata".
var auxdataDecMode cbor.DecMode

func init() {
	var err error
	auxdataDecMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
		DupMapKey:      cbor.DupMapKeyEnforcedAPF,
	}.DecMode()
	if err != nil {
		panic("evm: CBOR decoder initialization failed: " + err.Error())
	}
}

// AuxdataSegment is a bytecode buffer split at its auxdata trailer.
// When a trailer is recognized, Execution ++ Auxdata ++ LengthPrefix is
// the original buffer. Otherwise Execution is the whole buffer and the
// other two fields are nil.
type AuxdataSegment struct {
	Execution    []byte
	Auxdata      []byte
	LengthPrefix []byte
}

// HasAuxdata reports whether a trailer was recognized.
func (s AuxdataSegment) HasAuxdata() bool {
	return s.Auxdata != nil
}

// SplitAuxdata reads the trailing two bytes as the big-endian length of
// a CBOR map sitting directly before them. A length that overruns the
// buffer, or a candidate that is not a single well-formed CBOR map, means
// the bytecode carries no recognized auxdata. That is not an error.
func SplitAuxdata(bytecode []byte) AuxdataSegment {
	n := len(bytecode)
	if n < 2 {
		return AuxdataSegment{Execution: bytecode}
	}

	length := int(binary.BigEndian.Uint16(bytecode[n-2:]))
	if length == 0 || length > n-2 {
		return AuxdataSegment{Execution: bytecode}
	}

	start := n - 2 - length
	candidate := bytecode[start : n-2]

	var fields map[string]any
	if err := auxdataDecMode.Unmarshal(candidate, &fields); err != nil {
		return AuxdataSegment{Execution: bytecode}
	}

	return AuxdataSegment{
		Execution:    bytecode[:start:start],
		Auxdata:      candidate,
		LengthPrefix: bytecode[n-2:],
	}
}

// StripMetadata returns bytecode without its auxdata trailer, or the input
// unchanged when it has none.
func StripMetadata(bytecode []byte) []byte {
	return SplitAuxdata(bytecode).Execution
}

// ReferenceScheme names how the auxdata points at the metadata document.
type ReferenceScheme string

// Known reference schemes.
const (
	SchemeIPFS  ReferenceScheme = "ipfs"
	SchemeBzzr0 ReferenceScheme = "bzzr0"
	SchemeBzzr1 ReferenceScheme = "bzzr1"
)

// schemePrecedence decides which hash wins when a trailer carries more
// than one.
var schemePrecedence = []ReferenceScheme{SchemeIPFS, SchemeBzzr1, SchemeBzzr0}

// RawAuxdata is the undecoded trailer kept for audit.
type RawAuxdata struct {
	Bytes  string `json:"bytes"`
	Length int    `json:"length"`
}

// DecodedMetadata is the decoded auxdata trailer.
type DecodedMetadata struct {
	Scheme       ReferenceScheme   `json:"scheme,omitempty"`
	Hash         string            `json:"hash,omitempty"`
	SolcVersion  string            `json:"solcVersion,omitempty"`
	Experimental bool              `json:"experimental,omitempty"`
	Extra        map[string]string `json:"extra,omitempty"`
	Raw          RawAuxdata        `json:"raw"`
}

// Reference returns the metadata reference, failing when the trailer
// carried no hash under a known scheme.
func (d *DecodedMetadata) Reference() (ReferenceScheme, string, error) {
	if d.Scheme == "" {
		return "", "", ErrUnrecognizedReferenceScheme
	}
	return d.Scheme, d.Hash, nil
}

// DecodeAuxdata decodes the auxdata trailer of 0x-prefixed hex bytecode.
// Unlike SplitAuxdata, a missing trailer is an error here.
func DecodeAuxdata(bytecodeHex string) (*DecodedMetadata, error) {
	if bytecodeHex == "" {
		return nil, ErrEmptyBytecode
	}
	if !strings.HasPrefix(bytecodeHex, "0x") && !strings.HasPrefix(bytecodeHex, "0X") {
		return nil, ErrMissingHexPrefix
	}
	body := bytecodeHex[2:]
	if body == "" {
		return nil, ErrEmptyBytecode
	}

	trailer, err := auxdataTrailer(body)
	if err != nil {
		return nil, err
	}

	segment := SplitAuxdata(trailer)
	if !segment.HasAuxdata() {
		return nil, ErrAuxdataNotFound
	}

	var fields map[string]any
	if err := auxdataDecMode.Unmarshal(segment.Auxdata, &fields); err != nil {
		// SplitAuxdata already decoded this exact slice.
		return nil, fmt.Errorf("decoding auxdata: %w", err)
	}

	decoded := &DecodedMetadata{
		Raw: RawAuxdata{
			Bytes:  "0x" + hex.EncodeToString(segment.Auxdata),
			Length: len(segment.Auxdata),
		},
	}

	hashes := make(map[ReferenceScheme]string)
	for key, value := range fields {
		switch key {
		case string(SchemeIPFS):
			if b, ok := value.([]byte); ok {
				hashes[SchemeIPFS] = base58.Encode(b)
				continue
			}
		case string(SchemeBzzr0), string(SchemeBzzr1):
			if b, ok := value.([]byte); ok {
				hashes[ReferenceScheme(key)] = "0x" + hex.EncodeToString(b)
				continue
			}
		case "solc":
			switch v := value.(type) {
			case []byte:
				decoded.SolcVersion = formatSolcVersion(v)
				continue
			case string:
				// prerelease compilers embed the full version string
				decoded.SolcVersion = v
				continue
			}
		case "experimental":
			if v, ok := value.(bool); ok {
				decoded.Experimental = v
				continue
			}
		}
		if decoded.Extra == nil {
			decoded.Extra = make(map[string]string)
		}
		decoded.Extra[key] = fallbackString(value)
	}

	for _, scheme := range schemePrecedence {
		hash, ok := hashes[scheme]
		if !ok {
			continue
		}
		if decoded.Scheme == "" {
			decoded.Scheme = scheme
			decoded.Hash = hash
			continue
		}
		if decoded.Extra == nil {
			decoded.Extra = make(map[string]string)
		}
		decoded.Extra[string(scheme)] = hash
	}

	return decoded, nil
}

func formatSolcVersion(b []byte) string {
	parts := make([]string, len(b))
	for i, v := range b {
		parts[i] = fmt.Sprintf("%d", v)
	}
	return strings.Join(parts, ".")
}

// auxdataTrailer hex-decodes only the length suffix and the L bytes it
// points at. The execution part may carry unlinked library placeholders
// (__$...$__) that are not hex.
func auxdataTrailer(body string) ([]byte, error) {
	if len(body)%2 != 0 {
		return nil, fmt.Errorf("%w: odd length %d", ErrInvalidHex, len(body))
	}
	if len(body) < 4 {
		if _, err := hex.DecodeString(body); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidHex, err)
		}
		return nil, ErrAuxdataNotFound
	}

	suffix, err := hex.DecodeString(body[len(body)-4:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidHex, err)
	}
	length := int(binary.BigEndian.Uint16(suffix))
	if length == 0 || 2*length > len(body)-4 {
		return nil, ErrAuxdataNotFound
	}

	trailer, err := hex.DecodeString(body[len(body)-4-2*length:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidHex, err)
	}
	return trailer, nil
}

func fallbackString(value any) string {
	switch v := value.(type) {
	case []byte:
		return "0x" + hex.EncodeToString(v)
	case string:
		return "0x" + hex.EncodeToString([]byte(v))
	default:
		return fmt.Sprint(v)
	}
}
