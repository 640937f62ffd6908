package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCapabilities_Validate(t *testing.T) {
	t.Run("known keys pass", func(t *testing.T) {
		caps := Capabilities{
			CapabilityVision:          true,
			CapabilityFunctionCalling: false,
			CapabilityStreaming:       true,
		}
		require.NoError(t, caps.Validate())
	})

	t.Run("unknown key rejected", func(t *testing.T) {
		caps := Capabilities{
			Capability("self_awareness"): true,
		}
		err := caps.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "self_awareness")
	})

	t.Run("empty map passes", func(t *testing.T) {
		require.NoError(t, Capabilities{}.Validate())
	})
}

func TestCapabilities_ScanRoundTrip(t *testing.T) {
	caps := Capabilities{
		CapabilityVision:  true,
		CapabilityToolUse: false,
	}

	val, err := caps.Value()
	require.NoError(t, err)

	var decoded Capabilities
	require.NoError(t, decoded.Scan(val))

	assert.True(t, decoded.Has(CapabilityVision))
	assert.False(t, decoded.Has(CapabilityToolUse))
	assert.False(t, decoded.Has(CapabilityWebSearch))
}

func TestCapabilities_ScanNil(t *testing.T) {
	var caps Capabilities
	require.NoError(t, caps.Scan(nil))
	assert.Empty(t, caps)
}
