// Copyright (C) 2022 Storj Labs, Inc.
// See LICENSE for copying information.

package failrate

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func TestState_RoundTrip(t *testing.T) {
	testCases := []struct {
		desc  string
		state State
	}{
		{
			desc:  "empty registry",
			state: State{Version: StateVersion, Global: NewBucket()},
		},
		{
			desc: "zero multipliers and absent lockouts",
			state: State{
				Version: StateVersion,
				Identities: []Info{
					{Identity: "zero"},
				},
			},
		},
		{
			desc: "populated",
			state: State{
				Version:     StateVersion,
				SavedAtUnix: epoch.Unix(),
				Global: Bucket{
					FailedAttempts:    4,
					LockoutUntilUnix:  epoch.Unix() + 16,
					BackoffMultiplier: 32,
					LastAttemptUnix:   epoch.Unix(),
				},
				Identities: []Info{
					{Identity: "02a1b2c3", Bucket: Bucket{FailedAttempts: 5, LockoutUntilUnix: epoch.Unix() + 300, BackoffMultiplier: 256, LastAttemptUnix: epoch.Unix() - 1}},
					{Identity: "npub1xyz", Bucket: Bucket{FailedAttempts: 1, BackoffMultiplier: 1, LastAttemptUnix: epoch.Unix()}},
					{Identity: "negative-clock", Bucket: Bucket{LockoutUntilUnix: -5, LastAttemptUnix: -10, BackoffMultiplier: math.MaxUint32, FailedAttempts: math.MaxUint32}},
				},
			},
		},
	}
	for _, tC := range testCases {
		t.Run(tC.desc, func(t *testing.T) {
			data, err := tC.state.MarshalBinary()
			require.NoError(t, err)

			var decoded State
			require.NoError(t, decoded.UnmarshalBinary(data))
			assert.Equal(t, tC.state, decoded)
		})
	}
}

func TestState_SkipsUnknownFields(t *testing.T) {
	state := State{Version: StateVersion, Identities: []Info{{Identity: "a", Bucket: NewBucket()}}}
	data, err := state.MarshalBinary()
	require.NoError(t, err)

	data = protowire.AppendTag(data, 15, protowire.BytesType)
	data = protowire.AppendString(data, "added by a newer version")
	data = protowire.AppendTag(data, 16, protowire.Fixed64Type)
	data = protowire.AppendFixed64(data, 42)

	var decoded State
	require.NoError(t, decoded.UnmarshalBinary(data))
	assert.Equal(t, state, decoded)
}

func TestState_DecodeErrors(t *testing.T) {
	valid, err := (&State{Version: StateVersion, Identities: []Info{{Identity: "a"}}}).MarshalBinary()
	require.NoError(t, err)

	future, err := (&State{Version: StateVersion + 1}).MarshalBinary()
	require.NoError(t, err)

	overflow := protowire.AppendTag(nil, stateVersionField, protowire.VarintType)
	overflow = protowire.AppendVarint(overflow, math.MaxUint32+1)

	testCases := []struct {
		desc    string
		data    []byte
		version bool
	}{
		{desc: "empty", data: nil, version: true},
		{desc: "future version", data: future, version: true},
		{desc: "truncated", data: valid[:len(valid)-1]},
		{desc: "garbage", data: []byte{0xff, 0xff, 0xff}},
		{desc: "overflow", data: overflow},
		{desc: "json", data: []byte(`{"version":1,"clients":[]}`)},
	}
	for _, tC := range testCases {
		t.Run(tC.desc, func(t *testing.T) {
			decoded := State{Version: 7, SavedAtUnix: 7}
			err := decoded.UnmarshalBinary(tC.data)
			require.Error(t, err)
			if tC.version {
				assert.True(t, ErrUnsupportedVersion.Has(err))
			}
			assert.Equal(t, State{Version: 7, SavedAtUnix: 7}, decoded, "failed decode leaves the target untouched")
		})
	}
}

func TestState_MarshalJSON(t *testing.T) {
	state := State{
		Version:     StateVersion,
		SavedAtUnix: epoch.Unix(),
		Global:      NewBucket(),
		Identities: []Info{
			{Identity: "02a1", Bucket: Bucket{FailedAttempts: 3, LockoutUntilUnix: epoch.Unix() + 1, BackoffMultiplier: 2, LastAttemptUnix: epoch.Unix()}},
		},
	}

	data, err := json.Marshal(state)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.EqualValues(t, 1, decoded["version"])
	assert.Equal(t, "2023-11-14T22:13:20Z", decoded["saved_at"])

	clients, ok := decoded["clients"].([]any)
	require.True(t, ok)
	require.Len(t, clients, 1)

	client := clients[0].(map[string]any)
	assert.Equal(t, "02a1", client["pubkey"])
	assert.EqualValues(t, 3, client["failed_attempts"])
	assert.EqualValues(t, epoch.Unix()+1, client["lockout_until"])
	assert.EqualValues(t, 2, client["backoff_multiplier"])
	assert.EqualValues(t, epoch.Unix(), client["last_attempt"])
}
