package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync/atomic"

	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/spokehub/pkg/auth"
)

// SpokeConfig is one entry of the spoke registry file
type SpokeConfig struct {
	ID           string `yaml:"id"`
	AppID        string `yaml:"app_id,omitempty"`
	URL          string `yaml:"url"`
	APIKey       string `yaml:"api_key,omitempty"`
	APIKeySHA256 string `yaml:"api_key_sha256,omitempty"`
}

type spokesFile struct {
	Spokes []SpokeConfig `yaml:"spokes"`
}

type spokeTable struct {
	byKeyHash map[string]*auth.SpokeIdentity
	byID      map[string]*auth.SpokeIdentity
	byAppID   map[string]*auth.SpokeIdentity
}

// SpokeRegistry resolves API keys and spoke ids to spoke identities.
// Lookups are lock-free; Replace swaps the whole table at once.
type SpokeRegistry struct {
	hasher *auth.TokenGenerator
	table  atomic.Pointer[spokeTable]
}

// NewSpokeRegistry compiles spokes into a lookup table
func NewSpokeRegistry(spokes []SpokeConfig) (*SpokeRegistry, error) {
	r := &SpokeRegistry{hasher: auth.NewTokenGenerator()}
	if err := r.Replace(spokes); err != nil {
		return nil, err
	}
	return r, nil
}

// LoadSpokesFile parses a YAML registry file
func LoadSpokesFile(path string) ([]SpokeConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read spokes file: %w", err)
	}
	return ParseSpokes(data)
}

// ParseSpokes parses registry YAML
func ParseSpokes(data []byte) ([]SpokeConfig, error) {
	var file spokesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse spokes file: %w", err)
	}
	return file.Spokes, nil
}

// Replace validates spokes and installs them. On error the previous table
// stays in place.
func (r *SpokeRegistry) Replace(spokes []SpokeConfig) error {
	table, err := r.compile(spokes)
	if err != nil {
		return err
	}
	r.table.Store(table)
	return nil
}

func (r *SpokeRegistry) compile(spokes []SpokeConfig) (*spokeTable, error) {
	t := &spokeTable{
		byKeyHash: make(map[string]*auth.SpokeIdentity, len(spokes)),
		byID:      make(map[string]*auth.SpokeIdentity, len(spokes)),
		byAppID:   make(map[string]*auth.SpokeIdentity, len(spokes)),
	}

	for i, s := range spokes {
		id := strings.TrimSpace(s.ID)
		if id == "" {
			return nil, fmt.Errorf("spoke %d: id is required", i)
		}
		if _, dup := t.byID[id]; dup {
			return nil, fmt.Errorf("spoke %q: duplicate id", id)
		}

		u, err := url.Parse(s.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, fmt.Errorf("spoke %q: url must be an absolute http(s) URL", id)
		}

		var keyHash string
		switch {
		case s.APIKey != "" && s.APIKeySHA256 != "":
			return nil, fmt.Errorf("spoke %q: set api_key or api_key_sha256, not both", id)
		case s.APIKey != "":
			keyHash = r.hasher.HashToken(s.APIKey)
		case s.APIKeySHA256 != "":
			keyHash = strings.ToLower(strings.TrimSpace(s.APIKeySHA256))
			if !auth.IsHash(keyHash) {
				return nil, fmt.Errorf("spoke %q: api_key_sha256 must be 64 hex characters", id)
			}
		}

		identity := &auth.SpokeIdentity{
			SpokeID: id,
			AppID:   strings.TrimSpace(s.AppID),
			URL:     strings.TrimRight(s.URL, "/"),
		}
		t.byID[id] = identity

		if keyHash != "" {
			if other, dup := t.byKeyHash[keyHash]; dup {
				return nil, fmt.Errorf("spoke %q: api key already assigned to %q", id, other.SpokeID)
			}
			t.byKeyHash[keyHash] = identity
		}
		if identity.AppID != "" {
			if other, dup := t.byAppID[identity.AppID]; dup {
				return nil, fmt.Errorf("spoke %q: app %q already mapped to %q", id, identity.AppID, other.SpokeID)
			}
			t.byAppID[identity.AppID] = identity
		}
	}

	return t, nil
}

// ByAPIKey resolves a presented bearer key
func (r *SpokeRegistry) ByAPIKey(key string) (*auth.SpokeIdentity, bool) {
	if key == "" {
		return nil, false
	}
	s, ok := r.table.Load().byKeyHash[r.hasher.HashToken(key)]
	return s, ok
}

// ByID resolves a spoke id
func (r *SpokeRegistry) ByID(id string) (*auth.SpokeIdentity, bool) {
	s, ok := r.table.Load().byID[id]
	return s, ok
}

// ByAppID resolves the spoke configured for a hub app
func (r *SpokeRegistry) ByAppID(appID string) (*auth.SpokeIdentity, bool) {
	s, ok := r.table.Load().byAppID[appID]
	return s, ok
}

// Len returns the number of registered spokes
func (r *SpokeRegistry) Len() int {
	return len(r.table.Load().byID)
}
