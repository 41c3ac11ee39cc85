package secret

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-viper/mapstructure/v2"
)

// Factory builds a Provider from a loosely-typed spec map, decoding it into
// the provider's config struct.
type Factory func(spec map[string]interface{}) (Provider, error)

// Spec is one provider entry of the pipeline config.
type Spec struct {
	Type   string                 `yaml:"type" mapstructure:"type"`
	Config map[string]interface{} `yaml:"config" mapstructure:"config"`
}

var (
	providersMu sync.RWMutex
	providers   = map[string]Factory{}
)

func normalizeKey(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

// Register registers a provider factory under a type key (e.g. "env", "file").
func Register(typ string, f Factory) {
	key := normalizeKey(typ)
	if key == "" || f == nil {
		return
	}
	providersMu.Lock()
	providers[key] = f
	providersMu.Unlock()
}

// Types returns the registered provider type keys.
func Types() []string {
	providersMu.RLock()
	defer providersMu.RUnlock()
	out := make([]string, 0, len(providers))
	for k := range providers {
		out = append(out, k)
	}
	return out
}

// New builds a provider of the given type.
func New(typ string, spec map[string]interface{}) (Provider, error) {
	providersMu.RLock()
	f, ok := providers[normalizeKey(typ)]
	providersMu.RUnlock()
	if !ok {
		return nil, errors.New("secret: unsupported provider type: " + typ)
	}
	if spec == nil {
		spec = map[string]interface{}{}
	}
	return f(spec)
}

// FromSpecs builds a Chain from config entries, in order.
func FromSpecs(specs []Spec) (Chain, error) {
	chain := make(Chain, 0, len(specs))
	for i, s := range specs {
		p, err := New(s.Type, s.Config)
		if err != nil {
			return nil, fmt.Errorf("secret provider #%d (%s): %w", i+1, s.Type, err)
		}
		chain = append(chain, p)
	}
	return chain, nil
}

func decode(spec map[string]interface{}, out interface{}) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return err
	}
	return dec.Decode(spec)
}

func init() {
	Register("env", func(spec map[string]interface{}) (Provider, error) {
		var c EnvConfig
		if err := decode(spec, &c); err != nil {
			return nil, err
		}
		return NewEnvProvider(c), nil
	})
	Register("file", func(spec map[string]interface{}) (Provider, error) {
		var c FileConfig
		if err := decode(spec, &c); err != nil {
			return nil, err
		}
		return NewFileProvider(c)
	})
	Register("oauth2", func(spec map[string]interface{}) (Provider, error) {
		var c OAuth2Config
		if err := decode(spec, &c); err != nil {
			return nil, err
		}
		return NewOAuth2Provider(c)
	})
	Register("static", func(spec map[string]interface{}) (Provider, error) {
		var c StaticConfig
		if err := decode(spec, &c); err != nil {
			return nil, err
		}
		return NewStatic(c), nil
	})
}
