// Copyright (C) 2022 Storj Labs, Inc.
// See LICENSE for copying information.

package failrate

import (
	"encoding/json"
	"math"
	"time"

	"github.com/zeebo/errs"
	"google.golang.org/protobuf/encoding/protowire"
)

// StateVersion is the version of the persisted state format.
const StateVersion = 1

var (
	// CodecError is a class of errors decoding persisted state.
	CodecError = errs.Class("codec")

	// ErrUnsupportedVersion is returned when decoding state of an unknown
	// format version.
	ErrUnsupportedVersion = errs.Class("unsupported state version")
)

// State is the persisted form of a Limiter.
//
// It is encoded with the protobuf wire format:
//
//	message State {
//	  uint32 version = 1;
//	  sint64 saved_at_unix = 2;
//	  Bucket global = 3;
//	  repeated Identity identities = 4;
//	}
//	message Bucket {
//	  uint32 failed_attempts = 1;
//	  sint64 lockout_until = 2;
//	  uint32 backoff_multiplier = 3;
//	  sint64 last_attempt = 4;
//	}
//	message Identity {
//	  string identity = 1;
//	  Bucket bucket = 2;
//	}
type State struct {
	Version     uint32
	SavedAtUnix int64
	Global      Bucket
	Identities  []Info
}

const (
	stateVersionField    protowire.Number = 1
	stateSavedAtField    protowire.Number = 2
	stateGlobalField     protowire.Number = 3
	stateIdentitiesField protowire.Number = 4

	bucketFailedField      protowire.Number = 1
	bucketLockoutField     protowire.Number = 2
	bucketMultiplierField  protowire.Number = 3
	bucketLastAttemptField protowire.Number = 4

	identityNameField   protowire.Number = 1
	identityBucketField protowire.Number = 2
)

// MarshalBinary encodes the state.
func (s *State) MarshalBinary() ([]byte, error) {
	var b []byte
	b = appendUint32(b, stateVersionField, s.Version)
	b = appendSint64(b, stateSavedAtField, s.SavedAtUnix)
	b = protowire.AppendTag(b, stateGlobalField, protowire.BytesType)
	b = protowire.AppendBytes(b, appendBucket(nil, s.Global))
	for _, info := range s.Identities {
		var m []byte
		m = protowire.AppendTag(m, identityNameField, protowire.BytesType)
		m = protowire.AppendString(m, info.Identity)
		m = protowire.AppendTag(m, identityBucketField, protowire.BytesType)
		m = protowire.AppendBytes(m, appendBucket(nil, info.Bucket))

		b = protowire.AppendTag(b, stateIdentitiesField, protowire.BytesType)
		b = protowire.AppendBytes(b, m)
	}
	return b, nil
}

// UnmarshalBinary decodes data into s. Unknown fields are skipped.
func (s *State) UnmarshalBinary(data []byte) error {
	var decoded State
	err := consumeFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == stateVersionField && typ == protowire.VarintType:
			return consumeUint32(b, &decoded.Version)
		case num == stateSavedAtField && typ == protowire.VarintType:
			return consumeSint64(b, &decoded.SavedAtUnix)
		case num == stateGlobalField && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, nil
			}
			decoded.Global = Bucket{}
			return n, decodeBucket(v, &decoded.Global)
		case num == stateIdentitiesField && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, nil
			}
			info, err := decodeIdentity(v)
			if err != nil {
				return n, err
			}
			decoded.Identities = append(decoded.Identities, info)
			return n, nil
		default:
			return protowire.ConsumeFieldValue(num, typ, b), nil
		}
	})
	if err != nil {
		return err
	}

	if decoded.Version != StateVersion {
		return ErrUnsupportedVersion.New("%d", decoded.Version)
	}

	*s = decoded
	return nil
}

func appendBucket(b []byte, bucket Bucket) []byte {
	b = appendUint32(b, bucketFailedField, bucket.FailedAttempts)
	b = appendSint64(b, bucketLockoutField, bucket.LockoutUntilUnix)
	b = appendUint32(b, bucketMultiplierField, bucket.BackoffMultiplier)
	b = appendSint64(b, bucketLastAttemptField, bucket.LastAttemptUnix)
	return b
}

func decodeBucket(data []byte, bucket *Bucket) error {
	return consumeFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == bucketFailedField && typ == protowire.VarintType:
			return consumeUint32(b, &bucket.FailedAttempts)
		case num == bucketLockoutField && typ == protowire.VarintType:
			return consumeSint64(b, &bucket.LockoutUntilUnix)
		case num == bucketMultiplierField && typ == protowire.VarintType:
			return consumeUint32(b, &bucket.BackoffMultiplier)
		case num == bucketLastAttemptField && typ == protowire.VarintType:
			return consumeSint64(b, &bucket.LastAttemptUnix)
		default:
			return protowire.ConsumeFieldValue(num, typ, b), nil
		}
	})
}

func decodeIdentity(data []byte) (info Info, err error) {
	err = consumeFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == identityNameField && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n >= 0 {
				info.Identity = v
			}
			return n, nil
		case num == identityBucketField && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, nil
			}
			info.Bucket = Bucket{}
			return n, decodeBucket(v, &info.Bucket)
		default:
			return protowire.ConsumeFieldValue(num, typ, b), nil
		}
	})
	return info, err
}

// consumeFields calls field for every field in data. field receives the
// bytes following the tag and returns how many of them the value occupies,
// or a negative protowire error code.
func consumeFields(data []byte, field func(num protowire.Number, typ protowire.Type, b []byte) (int, error)) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return CodecError.Wrap(protowire.ParseError(n))
		}
		data = data[n:]

		n, err := field(num, typ, data)
		if err != nil {
			return err
		}
		if n < 0 {
			return CodecError.Wrap(protowire.ParseError(n))
		}
		data = data[n:]
	}
	return nil
}

func appendUint32(b []byte, num protowire.Number, v uint32) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(v))
}

func appendSint64(b []byte, num protowire.Number, v int64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, protowire.EncodeZigZag(v))
}

func consumeUint32(b []byte, v *uint32) (int, error) {
	x, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return n, nil
	}
	if x > math.MaxUint32 {
		return n, CodecError.New("value %d overflows uint32", x)
	}
	*v = uint32(x)
	return n, nil
}

func consumeSint64(b []byte, v *int64) (int, error) {
	x, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return n, nil
	}
	*v = protowire.DecodeZigZag(x)
	return n, nil
}

type jsonClient struct {
	Pubkey            string `json:"pubkey"`
	FailedAttempts    uint32 `json:"failed_attempts"`
	LockoutUntil      int64  `json:"lockout_until"`
	BackoffMultiplier uint32 `json:"backoff_multiplier"`
	LastAttempt       int64  `json:"last_attempt"`
}

type jsonState struct {
	Version uint32       `json:"version"`
	SavedAt string       `json:"saved_at"`
	Global  Bucket       `json:"global"`
	Clients []jsonClient `json:"clients"`
}

// MarshalJSON encodes the state for human consumption.
func (s State) MarshalJSON() ([]byte, error) {
	out := jsonState{
		Version: s.Version,
		Global:  s.Global,
		Clients: make([]jsonClient, 0, len(s.Identities)),
	}
	if s.SavedAtUnix != 0 {
		out.SavedAt = time.Unix(s.SavedAtUnix, 0).UTC().Format(time.RFC3339)
	}
	for _, info := range s.Identities {
		out.Clients = append(out.Clients, jsonClient{
			Pubkey:            info.Identity,
			FailedAttempts:    info.FailedAttempts,
			LockoutUntil:      info.LockoutUntilUnix,
			BackoffMultiplier: info.BackoffMultiplier,
			LastAttempt:       info.LastAttemptUnix,
		})
	}
	return json.Marshal(out)
}
