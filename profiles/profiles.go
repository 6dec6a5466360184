// Package profiles manages connection profiles stored by the daemon's
// settings service. The daemon remains the single owner of profile
// persistence; this package reads through on every call instead of
// keeping a local mirror.
package profiles

import (
	"bytes"
	"fmt"
	"hash/fnv"
	"sort"
	"sync"

	"github.com/go-errors/errors"
	"github.com/google/uuid"
	"github.com/netglass/wifictl/nm"
	"github.com/netglass/wifictl/transport"
	"github.com/netglass/wifictl/wifierr"
)

type Security int

const (
	SecurityOpen Security = iota
	SecurityPSK
)

func (s Security) String() string {
	switch s {
	case SecurityOpen:
		return "open"
	case SecurityPSK:
		return "wpa-psk"
	default:
		return "unknown"
	}
}

// Params describe the security shape of a profile. HasSecret states
// that the caller intends to provision a credential through the secret
// agent; it never carries the credential itself.
type Params struct {
	Security  Security
	Hidden    bool
	HasSecret bool
}

// Version is an opaque token derived from the daemon-stored settings.
// Updates pass the version they read; a mismatch means somebody else
// mutated the profile in between.
type Version uint64

type Profile struct {
	ID         string
	UUID       string
	Name       string
	SSID       []byte
	Security   Security
	Hidden     bool
	SecretsRef string
	Version    Version
}

type Config struct {
	Transport transport.Transport
	Logger    Logger
}

type Manager struct {
	tr  transport.Transport
	log Logger

	mu       sync.Mutex
	bindings map[string]int
}

func NewManager(config *Config) *Manager {
	manager := &Manager{
		tr:       config.Transport,
		bindings: make(map[string]int),
	}

	if config.Logger != nil {
		manager.log = config.Logger
	} else {
		manager.log = noopLogger{}
	}

	return manager
}

// List returns the daemon's wireless profiles.
func (m *Manager) List() ([]*Profile, error) {
	body, err := m.tr.Call(nm.SettingsPath, nm.MethodListConnections)
	if err != nil {
		return nil, errors.Errorf("could not list profiles: %v", err)
	}

	if len(body) < 1 {
		return nil, errors.Errorf("empty profile listing reply")
	}

	paths, ok := transport.Strings(body[0])
	if !ok {
		return nil, errors.Errorf("could not convert profile listing reply")
	}

	var profiles []*Profile

	for _, path := range paths {
		profile, err := m.read(path)
		if err != nil {
			m.log.Debugf("Skipping profile %v: %v", path, err)
			continue
		}

		if profile != nil {
			profiles = append(profiles, profile)
		}
	}

	return profiles, nil
}

// Get resolves a profile by object path or UUID.
func (m *Manager) Get(id string) (*Profile, error) {
	profiles, err := m.List()
	if err != nil {
		return nil, err
	}

	for _, profile := range profiles {
		if profile.ID == id || profile.UUID == id {
			return profile, nil
		}
	}

	return nil, wifierr.Ef(wifierr.NotFound, "unknown profile %v", id)
}

// FindOrCreate returns the existing profile matching SSID and security
// kind, or creates one. Repeated calls with the same arguments resolve
// to the same profile identity.
func (m *Manager) FindOrCreate(ssid []byte, params Params) (*Profile, error) {
	err := validate(params)
	if err != nil {
		return nil, err
	}

	profiles, err := m.List()
	if err != nil {
		return nil, err
	}

	for _, profile := range profiles {
		if bytes.Equal(profile.SSID, ssid) && profile.Security == params.Security {
			return profile, nil
		}
	}

	id := uuid.New().String()
	settings := buildSettings(string(ssid), id, ssid, params)

	body, err := m.tr.Call(nm.SettingsPath, nm.MethodAddConnection, settings)
	if err != nil {
		return nil, errors.Errorf("could not create profile for %q: %v", string(ssid), err)
	}

	if len(body) < 1 {
		return nil, errors.Errorf("profile creation returned no object")
	}

	path, ok := transport.String(body[0])
	if !ok {
		return nil, errors.Errorf("could not convert created profile path")
	}

	m.log.Infof("Created profile %v for %q", id, string(ssid))

	return m.read(path)
}

// Update rewrites a profile's parameters. The version read with the
// profile is compared against the daemon's current state first; a
// mismatch fails with Conflict and leaves the profile untouched.
func (m *Manager) Update(profile *Profile, params Params) (*Profile, error) {
	err := validate(params)
	if err != nil {
		return nil, err
	}

	current, err := m.read(profile.ID)
	if err != nil {
		return nil, err
	}

	if current == nil {
		return nil, wifierr.Ef(wifierr.NotFound, "unknown profile %v", profile.ID)
	}

	if current.Version != profile.Version {
		return nil, wifierr.Ef(wifierr.Conflict, "profile %v was modified concurrently", profile.UUID)
	}

	settings := buildSettings(current.Name, current.UUID, current.SSID, params)

	_, err = m.tr.Call(profile.ID, nm.MethodUpdateConnection, settings)
	if err != nil {
		return nil, errors.Errorf("could not update profile %v: %v", profile.UUID, err)
	}

	return m.read(profile.ID)
}

// Delete removes a profile unless an activation is currently bound to it.
func (m *Manager) Delete(id string) error {
	profile, err := m.Get(id)
	if err != nil {
		return err
	}

	m.mu.Lock()
	bound := m.bindings[profile.ID] > 0
	m.mu.Unlock()

	if bound {
		return wifierr.Ef(wifierr.InUse, "profile %v has an active activation", profile.UUID)
	}

	_, err = m.tr.Call(profile.ID, nm.MethodDeleteConnection)
	if err != nil {
		return errors.Errorf("could not delete profile %v: %v", profile.UUID, err)
	}

	m.log.Infof("Deleted profile %v", profile.UUID)

	return nil
}

// Acquire marks a profile as bound to an in-flight activation. The
// orchestrator pairs every Acquire with a Release on the attempt's
// terminal outcome.
func (m *Manager) Acquire(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.bindings[id]++
}

func (m *Manager) Release(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.bindings[id] > 0 {
		m.bindings[id]--
	}
}

func validate(params Params) error {
	if params.Security == SecurityOpen && params.HasSecret {
		return wifierr.Ef(wifierr.InvalidParams, "a key was supplied for an open network")
	}

	return nil
}

// read fetches and decodes one profile. Non-wireless profiles decode to
// nil so listings can skip them.
func (m *Manager) read(path string) (*Profile, error) {
	body, err := m.tr.Call(path, nm.MethodGetSettings)
	if err != nil {
		return nil, errors.Errorf("could not read profile %v: %v", path, err)
	}

	if len(body) < 1 {
		return nil, errors.Errorf("empty settings reply for %v", path)
	}

	settings, err := decodeSettings(body[0])
	if err != nil {
		return nil, err
	}

	connection := settings["connection"]

	kind, _ := transport.String(connection["type"])
	if kind != "802-11-wireless" {
		return nil, nil
	}

	profile := &Profile{
		ID:      path,
		Version: versionOf(settings),
	}

	profile.UUID, _ = transport.String(connection["uuid"])
	profile.Name, _ = transport.String(connection["id"])

	if wireless, ok := settings["802-11-wireless"]; ok {
		if ssid, ok := transport.Bytes(wireless["ssid"]); ok {
			profile.SSID = ssid
		}
		profile.Hidden, _ = transport.Bool(wireless["hidden"])
	}

	if security, ok := settings["802-11-wireless-security"]; ok {
		keyMgmt, _ := transport.String(security["key-mgmt"])
		if keyMgmt == "wpa-psk" {
			profile.Security = SecurityPSK
			profile.SecretsRef = "agent:" + profile.UUID
		}
	}

	return profile, nil
}

func buildSettings(name, id string, ssid []byte, params Params) map[string]map[string]interface{} {
	settings := map[string]map[string]interface{}{
		"connection": {
			"id":   name,
			"uuid": id,
			"type": "802-11-wireless",
		},
		"802-11-wireless": {
			"ssid": append([]byte(nil), ssid...),
		},
	}

	if params.Hidden {
		settings["802-11-wireless"]["hidden"] = true
	}

	if params.Security == SecurityPSK {
		settings["802-11-wireless"]["security"] = "802-11-wireless-security"
		settings["802-11-wireless-security"] = map[string]interface{}{
			"key-mgmt": "wpa-psk",
			// the agent owns the secret, the daemon must not persist it
			"psk-flags": nm.SecretFlagAgentOwned,
		}
	}

	return settings
}

func decodeSettings(value interface{}) (map[string]map[string]interface{}, error) {
	switch v := value.(type) {
	case map[string]map[string]interface{}:
		return v, nil
	case map[string]interface{}:
		settings := make(map[string]map[string]interface{}, len(v))
		for section, props := range v {
			converted, ok := props.(map[string]interface{})
			if !ok {
				return nil, errors.Errorf("could not convert settings section %v", section)
			}
			settings[section] = converted
		}
		return settings, nil
	default:
		return nil, errors.Errorf("could not convert settings reply")
	}
}

// versionOf derives the compare-and-swap token from a canonical
// rendering of the settings.
func versionOf(settings map[string]map[string]interface{}) Version {
	sections := make([]string, 0, len(settings))
	for section := range settings {
		sections = append(sections, section)
	}
	sort.Strings(sections)

	hash := fnv.New64a()

	for _, section := range sections {
		props := settings[section]

		keys := make([]string, 0, len(props))
		for key := range props {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		for _, key := range keys {
			fmt.Fprintf(hash, "%s.%s=%v;", section, key, props[key])
		}
	}

	return Version(hash.Sum64())
}
