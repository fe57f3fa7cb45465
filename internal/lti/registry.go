// internal/lti/registry.go
package lti

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	ltikit "github.com/mind-engage/mindengage-editor/pkg/platform/lti"
)

// PlatformKind selects the launch branch for a platform.
type PlatformKind string

const (
	KindGeneric    PlatformKind = "generic"
	KindRepository PlatformKind = "repository"
)

// Platform is an LMS or repository that launches the editor.
type Platform struct {
	Issuer       string       `yaml:"issuer"`
	ClientID     string       `yaml:"client_id"`
	DeploymentID string       `yaml:"deployment_id"`
	AuthEndpoint string       `yaml:"auth_endpoint"`
	KeysetURL    string       `yaml:"keyset_url"`
	Kind         PlatformKind `yaml:"kind"`
}

// RepositoryTool is the content repository in its tool role, toward which
// the editor acts as a platform during an embed.
type RepositoryTool struct {
	// Issuer is the repository's issuer when it launches the editor.
	Issuer          string `yaml:"issuer"`
	ClientID        string `yaml:"client_id"`
	LoginEndpoint   string `yaml:"login_endpoint"`
	LaunchEndpoint  string `yaml:"launch_endpoint"`
	KeysetEndpoint  string `yaml:"keyset_endpoint"`
	DetailsEndpoint string `yaml:"details_endpoint"`
}

// Registry resolves counterpart configuration. Lookups return a
// *ConfigurationError when nothing is registered.
type Registry interface {
	PlatformByIssuer(iss string) (Platform, error)
	RepositoryToolByIssuer(iss string) (RepositoryTool, error)
	RepositoryToolByClientID(clientID string) (RepositoryTool, error)
}

// StaticRegistry is an immutable in-memory Registry.
type StaticRegistry struct {
	Platforms       []Platform       `yaml:"platforms"`
	RepositoryTools []RepositoryTool `yaml:"repository_tools"`
}

func (r *StaticRegistry) PlatformByIssuer(iss string) (Platform, error) {
	for _, p := range r.Platforms {
		if p.Issuer == iss {
			return p, nil
		}
	}
	return Platform{}, &ConfigurationError{Kind: "platform", Key: iss}
}

func (r *StaticRegistry) RepositoryToolByIssuer(iss string) (RepositoryTool, error) {
	for _, t := range r.RepositoryTools {
		if t.Issuer == iss {
			return t, nil
		}
	}
	return RepositoryTool{}, &ConfigurationError{Kind: "repository tool", Key: iss}
}

func (r *StaticRegistry) RepositoryToolByClientID(clientID string) (RepositoryTool, error) {
	for _, t := range r.RepositoryTools {
		if t.ClientID == clientID {
			return t, nil
		}
	}
	return RepositoryTool{}, &ConfigurationError{Kind: "repository tool", Key: clientID}
}

// Validate checks required fields and kind values.
func (r *StaticRegistry) Validate() error {
	var errs []error
	seen := map[string]bool{}
	for i, p := range r.Platforms {
		if p.Issuer == "" || p.ClientID == "" || p.AuthEndpoint == "" || p.KeysetURL == "" {
			errs = append(errs, fmt.Errorf("platforms[%d]: issuer, client_id, auth_endpoint and keyset_url are required", i))
		}
		if seen[p.Issuer] {
			errs = append(errs, fmt.Errorf("platforms[%d]: duplicate issuer %q", i, p.Issuer))
		}
		seen[p.Issuer] = true
		switch p.Kind {
		case KindGeneric, KindRepository:
		case "":
			r.Platforms[i].Kind = KindGeneric
		default:
			errs = append(errs, fmt.Errorf("platforms[%d]: kind %q (expected generic|repository)", i, p.Kind))
		}
	}
	for i, t := range r.RepositoryTools {
		if t.Issuer == "" || t.ClientID == "" || t.LoginEndpoint == "" || t.LaunchEndpoint == "" || t.KeysetEndpoint == "" {
			errs = append(errs, fmt.Errorf("repository_tools[%d]: issuer, client_id, login_endpoint, launch_endpoint and keyset_endpoint are required", i))
		}
	}
	return errors.Join(errs...)
}

// LoadRegistry reads a YAML registry file. ${VAR} references are expanded
// from the environment before parsing.
func LoadRegistry(path string) (*StaticRegistry, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("registry: %w", err)
	}
	return ParseRegistry(b)
}

func ParseRegistry(b []byte) (*StaticRegistry, error) {
	var reg StaticRegistry
	dec := yaml.NewDecoder(strings.NewReader(os.ExpandEnv(string(b))))
	dec.KnownFields(true)
	if err := dec.Decode(&reg); err != nil {
		return nil, fmt.Errorf("registry: parse: %w", err)
	}
	if err := reg.Validate(); err != nil {
		return nil, fmt.Errorf("registry: %w", err)
	}
	return &reg, nil
}

// KeySets hands out the key set published at a counterpart's JWKS URL.
type KeySets interface {
	KeySet(url string) ltikit.KeySet
}

// RemoteKeySets caches one RemoteKeySet per URL.
type RemoteKeySets struct {
	HTTP *http.Client

	mu   sync.Mutex
	sets map[string]*ltikit.RemoteKeySet
}

func (r *RemoteKeySets) KeySet(url string) ltikit.KeySet {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sets == nil {
		r.sets = make(map[string]*ltikit.RemoteKeySet)
	}
	ks, ok := r.sets[url]
	if !ok {
		ks = ltikit.NewRemoteKeySet(url, r.HTTP)
		r.sets[url] = ks
	}
	return ks
}
