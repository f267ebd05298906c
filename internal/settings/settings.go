// Package settings loads the cycle settings: the refresh cycle and the ownership claims.
//
// Settings are reloaded at the start of every cycle and handed to it as an immutable value.
// A settings document that cannot be fetched or parsed leaves the previous value in place.
package settings

import (
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"strings"
	"sync"

	"github.com/goccy/go-yaml"

	"github.com/w3c/groups-server/internal/domain"
	apperrors "github.com/w3c/groups-server/internal/errors"
	"github.com/w3c/groups-server/internal/manifest"
)

// Settings are the per-cycle settings
type Settings struct {
	RefreshCycle int                     `json:"refreshCycle"`
	Owners       []domain.OwnershipClaim `json:"owners"`
}

// Default returns the settings used before anything could be loaded
func Default(refreshCycle int) Settings {
	return Settings{
		RefreshCycle: refreshCycle,
		Owners:       []domain.OwnershipClaim{{Login: "w3c", Group: []domain.GroupRef{}}},
	}
}

// Clone returns a deep copy
func (s Settings) Clone() Settings {
	c := Settings{RefreshCycle: s.RefreshCycle, Owners: make([]domain.OwnershipClaim, len(s.Owners))}
	for i, o := range s.Owners {
		o.Group = append([]domain.GroupRef{}, o.Group...)
		c.Owners[i] = o
	}
	return c
}

type rawSettings struct {
	RefreshCycle any   `yaml:"refreshCycle"`
	Owners       []any `yaml:"owners"`
}

// Parse reads a YAML or JSON settings document on top of base.
// Invalid entries are dropped; a missing or out of range refreshCycle keeps the base value,
// and a missing owners list keeps the base owners.
func Parse(data []byte, base Settings) (Settings, error) {
	var raw rawSettings
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return base, fmt.Errorf("parse settings: %w", err)
	}

	s := base.Clone()
	if n, ok := integer(raw.RefreshCycle); ok && n >= 1 && n <= 24 {
		s.RefreshCycle = n
	}
	if raw.Owners != nil {
		s.Owners = parseOwners(raw.Owners)
	}
	return s, nil
}

func parseOwners(items []any) []domain.OwnershipClaim {
	owners := make([]domain.OwnershipClaim, 0, len(items))
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		login, _ := obj["login"].(string)
		login = strings.TrimSpace(login)
		if login == "" {
			continue
		}
		claim := domain.OwnershipClaim{Login: login, Group: []domain.GroupRef{}}
		if name, ok := obj["name"].(string); ok {
			claim.Name = strings.TrimSpace(name)
		}
		if groups := manifest.NormalizeGroupRefs(obj["group"]); groups != nil {
			claim.Group = groups
		}
		owners = append(owners, claim)
	}
	return owners
}

func integer(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case uint64:
		if n <= math.MaxInt32 {
			return int(n), true
		}
	case float64:
		if n == math.Trunc(n) && math.Abs(n) <= math.MaxInt32 {
			return int(n), true
		}
	}
	return 0, false
}

// Loader reloads settings from a local file or a URL and remembers the last good value
type Loader struct {
	file   string
	url    string
	client *http.Client

	mu      sync.RWMutex
	current Settings
}

// NewLoader creates a loader. file takes precedence over url when both are set.
func NewLoader(file, url string, initial Settings, client *http.Client) *Loader {
	if client == nil {
		client = http.DefaultClient
	}
	return &Loader{file: file, url: url, client: client, current: initial}
}

// Current returns the last successfully loaded settings
func (l *Loader) Current() Settings {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current.Clone()
}

// Load fetches and parses the settings. On failure the previous settings are returned
// together with the error.
func (l *Loader) Load(ctx context.Context) (Settings, error) {
	data, err := l.read(ctx)
	if err != nil {
		return l.Current(), err
	}

	s, err := Parse(data, l.Current())
	if err != nil {
		return l.Current(), err
	}

	l.mu.Lock()
	l.current = s
	l.mu.Unlock()
	return s.Clone(), nil
}

func (l *Loader) read(ctx context.Context) ([]byte, error) {
	if l.file != "" {
		data, err := os.ReadFile(l.file)
		if err != nil {
			return nil, fmt.Errorf("read settings file: %w", err)
		}
		return data, nil
	}
	if l.url == "" {
		return nil, apperrors.NewBadRequestError("no settings source configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch settings: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apperrors.NewUpstreamError(fmt.Sprintf("settings returned %s", resp.Status), nil)
	}
	return io.ReadAll(resp.Body)
}
