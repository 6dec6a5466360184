package profiles

import (
	"fmt"
	"sync"
	"testing"

	"github.com/netglass/wifictl/nm"
	"github.com/netglass/wifictl/transport"
	"github.com/netglass/wifictl/wifierr"
	"github.com/stretchr/testify/require"
)

// settingsService scripts the daemon's settings side on a mock
// transport, storing profiles keyed by their object path.
type settingsService struct {
	mu     sync.Mutex
	stored map[string]map[string]map[string]interface{}
	next   int
}

func newSettingsService(mock *transport.Mock) *settingsService {
	service := &settingsService{
		stored: make(map[string]map[string]map[string]interface{}),
		next:   1,
	}

	mock.Handle(nm.SettingsPath, nm.MethodListConnections, func(args ...interface{}) ([]interface{}, error) {
		service.mu.Lock()
		defer service.mu.Unlock()

		paths := make([]string, 0, len(service.stored))
		for path := range service.stored {
			paths = append(paths, path)
		}

		return []interface{}{paths}, nil
	})

	mock.Handle(nm.SettingsPath, nm.MethodAddConnection, func(args ...interface{}) ([]interface{}, error) {
		settings, ok := args[0].(map[string]map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("unexpected settings shape")
		}

		service.mu.Lock()
		path := fmt.Sprintf("/org/freedesktop/NetworkManager/Settings/%d", service.next)
		service.next++
		service.stored[path] = settings
		service.mu.Unlock()

		service.install(mock, path)

		return []interface{}{path}, nil
	})

	return service
}

func (s *settingsService) install(mock *transport.Mock, path string) {
	mock.Handle(path, nm.MethodGetSettings, func(args ...interface{}) ([]interface{}, error) {
		s.mu.Lock()
		defer s.mu.Unlock()

		settings, ok := s.stored[path]
		if !ok {
			return nil, fmt.Errorf("no such profile %v", path)
		}

		return []interface{}{settings}, nil
	})
	mock.Handle(path, nm.MethodUpdateConnection, func(args ...interface{}) ([]interface{}, error) {
		settings, ok := args[0].(map[string]map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("unexpected settings shape")
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		s.stored[path] = settings

		return nil, nil
	})
	mock.Handle(path, nm.MethodDeleteConnection, func(args ...interface{}) ([]interface{}, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.stored, path)

		return nil, nil
	})
}

// mutate simulates another settings client touching a stored profile.
func (s *settingsService) mutate(path string, section, key string, value interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.stored[path][section]; !ok {
		s.stored[path][section] = make(map[string]interface{})
	}

	s.stored[path][section][key] = value
}

func newTestManager(t *testing.T) (*Manager, *settingsService, *transport.Mock) {
	t.Helper()

	mock := transport.NewMock()
	service := newSettingsService(mock)

	return NewManager(&Config{Transport: mock}), service, mock
}

func TestFindOrCreateIsStable(t *testing.T) {
	manager, _, mock := newTestManager(t)

	first, err := manager.FindOrCreate([]byte("Cafe"), Params{Security: SecurityPSK, HasSecret: true})
	require.NoError(t, err)
	require.NotEmpty(t, first.UUID)
	require.Equal(t, SecurityPSK, first.Security)
	require.Equal(t, "agent:"+first.UUID, first.SecretsRef)

	second, err := manager.FindOrCreate([]byte("Cafe"), Params{Security: SecurityPSK, HasSecret: true})
	require.NoError(t, err)

	// same SSID and security resolve to the same identity, not a duplicate
	require.Equal(t, first.ID, second.ID)
	require.Equal(t, first.UUID, second.UUID)
	require.Equal(t, 1, mock.CallCount(nm.MethodAddConnection))
}

func TestFindOrCreateDistinguishesSecurity(t *testing.T) {
	manager, _, _ := newTestManager(t)

	secured, err := manager.FindOrCreate([]byte("Cafe"), Params{Security: SecurityPSK, HasSecret: true})
	require.NoError(t, err)

	open, err := manager.FindOrCreate([]byte("Cafe"), Params{Security: SecurityOpen})
	require.NoError(t, err)

	require.NotEqual(t, secured.ID, open.ID)
}

func TestOpenProfileRejectsKey(t *testing.T) {
	manager, _, mock := newTestManager(t)

	_, err := manager.FindOrCreate([]byte("Library"), Params{Security: SecurityOpen, HasSecret: true})
	require.True(t, wifierr.Is(err, wifierr.InvalidParams))
	require.Zero(t, mock.CallCount(nm.MethodAddConnection))
}

func TestUpdateConflict(t *testing.T) {
	manager, service, _ := newTestManager(t)

	profile, err := manager.FindOrCreate([]byte("Cafe"), Params{Security: SecurityPSK, HasSecret: true})
	require.NoError(t, err)

	// another client rewrites the profile after our read
	service.mutate(profile.ID, "802-11-wireless", "hidden", true)

	_, err = manager.Update(profile, Params{Security: SecurityPSK, HasSecret: true})
	require.True(t, wifierr.Is(err, wifierr.Conflict))

	// re-reading yields the current version, and the update goes through
	fresh, err := manager.Get(profile.UUID)
	require.NoError(t, err)
	require.NotEqual(t, profile.Version, fresh.Version)

	updated, err := manager.Update(fresh, Params{Security: SecurityPSK, Hidden: true, HasSecret: true})
	require.NoError(t, err)
	require.True(t, updated.Hidden)
}

func TestDeleteUnknownProfile(t *testing.T) {
	manager, _, _ := newTestManager(t)

	err := manager.Delete("no-such-uuid")
	require.True(t, wifierr.Is(err, wifierr.NotFound))
}

func TestDeleteBoundProfile(t *testing.T) {
	manager, _, mock := newTestManager(t)

	profile, err := manager.FindOrCreate([]byte("Cafe"), Params{Security: SecurityPSK, HasSecret: true})
	require.NoError(t, err)

	manager.Acquire(profile.ID)

	err = manager.Delete(profile.UUID)
	require.True(t, wifierr.Is(err, wifierr.InUse))
	require.Zero(t, mock.CallCount(nm.MethodDeleteConnection))

	manager.Release(profile.ID)

	require.NoError(t, manager.Delete(profile.UUID))
	require.Equal(t, 1, mock.CallCount(nm.MethodDeleteConnection))
}

func TestListSkipsNonWireless(t *testing.T) {
	manager, service, mock := newTestManager(t)

	service.mu.Lock()
	path := "/org/freedesktop/NetworkManager/Settings/99"
	service.stored[path] = map[string]map[string]interface{}{
		"connection": {
			"id":   "office",
			"uuid": "11111111-2222-3333-4444-555555555555",
			"type": "802-3-ethernet",
		},
	}
	service.mu.Unlock()
	service.install(mock, path)

	_, err := manager.FindOrCreate([]byte("Cafe"), Params{Security: SecurityPSK, HasSecret: true})
	require.NoError(t, err)

	profiles, err := manager.List()
	require.NoError(t, err)
	require.Len(t, profiles, 1)
	require.Equal(t, "Cafe", string(profiles[0].SSID))
}
