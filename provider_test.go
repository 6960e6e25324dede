package mediakit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProvider_Metadata(t *testing.T) {
	tests := []struct {
		name     string
		provider Provider
		encode   bool
		decode   bool
	}{
		{"auto", ProviderAuto, false, false},
		{"mediacodec", ProviderMediaCodec, true, true},
		{"unknown", providerCount, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.name, tt.provider.String())
			assert.Equal(t, tt.encode, tt.provider.CanEncode())
			assert.Equal(t, tt.decode, tt.provider.CanDecode())
		})
	}

	assert.True(t, ProviderMediaCodec.Features().Has(FeatureSurfaceInput|FeatureExternalTexture))
	assert.False(t, ProviderMediaCodec.Features().Has(Feature10Bit))
	assert.Zero(t, providerCount.Features())
}

func TestParseProvider(t *testing.T) {
	assert.Equal(t, ProviderMediaCodec, ParseProvider("mediacodec"))
	assert.Equal(t, ProviderAuto, ParseProvider("auto"))
	assert.Equal(t, ProviderAuto, ParseProvider("videotoolbox"))
}

func TestOpenPlatform_Unavailable(t *testing.T) {
	_, err := OpenPlatform(providerCount)
	require.Error(t, err)
	assert.Equal(t, KindCapability, KindOf(err))
	assert.ErrorIs(t, err, ErrProviderNotFound)
}

func TestProviders(t *testing.T) {
	list := Providers()
	require.Len(t, list, int(providerCount)-1)
	assert.Equal(t, "mediacodec", list[0].Name)
	assert.True(t, list[0].Encoder)
	assert.Equal(t, ProviderMediaCodec.Available(), list[0].Available)
}
