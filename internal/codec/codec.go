// Package codec frames persisted reporter state as a versioned envelope of
// length-delimited records.
//
// Wire layout (protobuf wire format, no schema):
//
//	field 1 (varint): envelope version
//	field 2 (bytes):  one record, repeated in order
//
// Records are opaque to the envelope; the reporter stores one JSON document
// per configuration or invocation so each can be migrated on its own.
// Unknown fields are skipped so older readers accept additive changes.
package codec

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/solatis/aem/internal/types"
)

// Version is the envelope version written by Encode.
const Version = 1

const (
	fieldVersion protowire.Number = 1
	fieldRecord  protowire.Number = 2
)

// Encode frames records in a version 1 envelope.
func Encode(records [][]byte) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldVersion, protowire.VarintType)
	b = protowire.AppendVarint(b, Version)
	for _, r := range records {
		b = protowire.AppendTag(b, fieldRecord, protowire.BytesType)
		b = protowire.AppendBytes(b, r)
	}
	return b
}

// Decode returns the records of an envelope. An empty blob decodes to no
// records. Envelopes from a newer version fail with ErrUnsupportedVersion.
func Decode(data []byte) ([][]byte, error) {
	var (
		records    [][]byte
		version    uint64
		hasVersion bool
	)
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("%w: %v", types.ErrMalformedRecord, protowire.ParseError(n))
		}
		data = data[n:]

		switch {
		case num == fieldVersion && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, fmt.Errorf("%w: %v", types.ErrMalformedRecord, protowire.ParseError(n))
			}
			version, hasVersion = v, true
			data = data[n:]
		case num == fieldRecord && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, fmt.Errorf("%w: %v", types.ErrMalformedRecord, protowire.ParseError(n))
			}
			records = append(records, append([]byte(nil), v...))
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, fmt.Errorf("%w: %v", types.ErrMalformedRecord, protowire.ParseError(n))
			}
			data = data[n:]
		}
	}

	if len(records) > 0 && !hasVersion {
		return nil, fmt.Errorf("%w: missing version", types.ErrMalformedRecord)
	}
	if version > Version {
		return nil, fmt.Errorf("%w: %d", types.ErrUnsupportedVersion, version)
	}
	return records, nil
}
