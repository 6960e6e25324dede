package mediakit

import (
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
)

// ErrProviderNotFound reports that no usable platform provider exists.
var ErrProviderNotFound = errors.New("provider not available")

// Provider identifies a platform media implementation.
type Provider uint8

const (
	ProviderAuto       Provider = iota // Let the library choose the best available
	ProviderMediaCodec                 // Android NDK MediaCodec + EGL/GLES
	providerCount
)

// Features is a bitmask of provider capabilities.
type Features uint32

const (
	FeatureSurfaceInput     Features = 1 << iota // Encoder consumes frames from a native window
	FeatureSurfaceOutput                         // Decoder renders into a native window
	FeatureExternalTexture                       // Decoded frames sample as GL_TEXTURE_EXTERNAL_OES
	FeaturePresentationTime                      // Swap carries an explicit presentation time
	Feature10Bit                                 // 10-bit color depth
)

// Has returns true if all specified features are supported.
func (f Features) Has(feature Features) bool { return f&feature == feature }

// providerMeta contains static metadata about a provider.
type providerMeta struct {
	Name     string
	Encoder  bool
	Decoder  bool
	Features Features
}

// Static metadata table, indexed by Provider.
var providerInfo = [providerCount]providerMeta{
	ProviderAuto:       {"auto", false, false, 0},
	ProviderMediaCodec: {"mediacodec", true, true, mediaCodecFeatures},
}

const mediaCodecFeatures = FeatureSurfaceInput | FeatureSurfaceOutput | FeatureExternalTexture | FeaturePresentationTime

// Runtime availability, set by init() in provider implementations.
var providerAvailable [providerCount]atomic.Bool

// String returns the provider name.
func (p Provider) String() string {
	if p >= providerCount {
		return "unknown"
	}
	return providerInfo[p].Name
}

// ParseProvider maps a provider name back to its value. Unknown names
// resolve to ProviderAuto.
func ParseProvider(name string) Provider {
	for p := Provider(0); p < providerCount; p++ {
		if providerInfo[p].Name == name {
			return p
		}
	}
	return ProviderAuto
}

// Features returns the provider's feature bitmask.
func (p Provider) Features() Features {
	if p >= providerCount {
		return 0
	}
	return providerInfo[p].Features
}

// CanEncode returns true if the provider supports encoding.
func (p Provider) CanEncode() bool {
	if p >= providerCount {
		return false
	}
	return providerInfo[p].Encoder
}

// CanDecode returns true if the provider supports decoding.
func (p Provider) CanDecode() bool {
	if p >= providerCount {
		return false
	}
	return providerInfo[p].Decoder
}

// Available returns true if the provider is usable at runtime.
func (p Provider) Available() bool {
	if p >= providerCount {
		return false
	}
	return providerAvailable[p].Load()
}

// setProviderAvailable marks a provider as available (called by implementations).
func setProviderAvailable(p Provider) {
	if p < providerCount {
		providerAvailable[p].Store(true)
	}
}

// ProviderStatus describes one provider for listings.
type ProviderStatus struct {
	Name      string `json:"name"`
	Available bool   `json:"available"`
	Encoder   bool   `json:"encoder"`
	Decoder   bool   `json:"decoder"`
	Default   bool   `json:"default"`
}

// Providers lists every concrete provider with its runtime availability.
func Providers() []ProviderStatus {
	def, _ := resolveProvider(ProviderAuto)
	out := make([]ProviderStatus, 0, providerCount-1)
	for p := ProviderAuto + 1; p < providerCount; p++ {
		out = append(out, ProviderStatus{
			Name:      p.String(),
			Available: p.Available(),
			Encoder:   p.CanEncode(),
			Decoder:   p.CanDecode(),
			Default:   p == def,
		})
	}
	return out
}

// --- Registry ---

type platformFactory func() (Platform, error)

type platformRegistry struct {
	mu        sync.RWMutex
	factories map[Provider]platformFactory
	order     []Provider
}

var globalPlatformRegistry = &platformRegistry{
	factories: make(map[Provider]platformFactory),
}

// registerPlatform registers a platform factory for a provider. The first
// registered available provider becomes the automatic choice.
func registerPlatform(provider Provider, factory platformFactory) {
	globalPlatformRegistry.mu.Lock()
	defer globalPlatformRegistry.mu.Unlock()

	if _, exists := globalPlatformRegistry.factories[provider]; !exists {
		globalPlatformRegistry.order = append(globalPlatformRegistry.order, provider)
	}
	globalPlatformRegistry.factories[provider] = factory
}

func resolveProvider(p Provider) (Provider, bool) {
	globalPlatformRegistry.mu.RLock()
	defer globalPlatformRegistry.mu.RUnlock()

	if p != ProviderAuto {
		_, ok := globalPlatformRegistry.factories[p]
		return p, ok && p.Available()
	}
	for _, candidate := range globalPlatformRegistry.order {
		if candidate.Available() {
			return candidate, true
		}
	}
	return ProviderAuto, false
}

// OpenPlatform returns the platform for a provider. ProviderAuto picks the
// first available one. A missing provider is a capability error.
func OpenPlatform(p Provider) (Platform, error) {
	resolved, ok := resolveProvider(p)
	if !ok {
		return nil, &Error{Kind: KindCapability, Op: "platform.Open", Err: errors.Wrapf(ErrProviderNotFound, "%s", p)}
	}

	globalPlatformRegistry.mu.RLock()
	factory := globalPlatformRegistry.factories[resolved]
	globalPlatformRegistry.mu.RUnlock()

	platform, err := factory()
	if err != nil {
		return nil, wrapError(KindCapability, "platform.Open", err)
	}
	return platform, nil
}
