package sites

import "time"

// Registry builds and caches one Client per site.
type Registry struct {
	clients map[string]Client
}

// RegistryConfig carries the per-site overrides. Zero values mean production
// endpoints and the default timeout.
type RegistryConfig struct {
	Timeout time.Duration
	Acck    AcckConfig
	Akile   AkileConfig
}

func NewRegistry(cfg RegistryConfig) *Registry {
	if cfg.Acck.Timeout <= 0 {
		cfg.Acck.Timeout = cfg.Timeout
	}
	if cfg.Akile.Timeout <= 0 {
		cfg.Akile.Timeout = cfg.Timeout
	}
	return &Registry{
		clients: map[string]Client{
			SiteAcck:  NewAcck(cfg.Acck),
			SiteAkile: NewAkile(cfg.Akile),
		},
	}
}

// Get returns the client for a normalized site key.
func (r *Registry) Get(site string) (Client, error) {
	key, err := Normalize(site)
	if err != nil {
		return nil, err
	}
	return r.clients[key], nil
}

// Sites lists the supported site keys.
func (r *Registry) Sites() []string {
	return []string{SiteAcck, SiteAkile}
}
