package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/netglass/wifictl/connector"
	"github.com/netglass/wifictl/devices"
	"github.com/netglass/wifictl/nm"
	"github.com/netglass/wifictl/profiles"
	"github.com/netglass/wifictl/scanner"
	"github.com/netglass/wifictl/secrets"
	"github.com/netglass/wifictl/transport"
	"github.com/stretchr/testify/require"
)

const (
	devicePath = "/org/freedesktop/NetworkManager/Devices/0"
	libPath    = "/org/freedesktop/NetworkManager/AccessPoint/1"
	activePath = "/org/freedesktop/NetworkManager/ActiveConnection/1"
)

// newTestApi stands up the api over a full stack against a scripted
// daemon with one open network in sight.
func newTestApi(t *testing.T) *Api {
	t.Helper()

	mock := transport.NewMock()

	mock.SetProperties(devicePath, nm.DeviceIface, map[string]interface{}{
		"DeviceType": nm.DeviceTypeWifi,
		"Interface":  "wlan0",
		"State":      nm.DeviceStateDisconnected,
	})
	mock.SetProperty(devicePath, nm.WirelessIface, "ActiveAccessPoint", "")

	mock.SetProperties(libPath, nm.AccessPointIface, map[string]interface{}{
		"Ssid":      []byte("Library"),
		"HwAddress": "aa:bb:cc:dd:ee:02",
		"Strength":  uint8(61),
		"Frequency": uint32(2462),
		"Flags":     uint32(0),
		"WpaFlags":  uint32(0),
		"RsnFlags":  uint32(0),
	})

	mock.Handle(nm.ManagerPath, nm.MethodGetDevices, func(args ...interface{}) ([]interface{}, error) {
		return []interface{}{[]string{devicePath}}, nil
	})
	mock.Handle(devicePath, nm.MethodGetAccessPoints, func(args ...interface{}) ([]interface{}, error) {
		return []interface{}{[]string{libPath}}, nil
	})
	mock.Handle(devicePath, nm.MethodRequestScan, func(args ...interface{}) ([]interface{}, error) {
		go func() {
			mock.Emit(devicePath, nm.SignalPropertiesChanged, nm.WirelessIface,
				map[string]interface{}{"LastScan": int64(time.Now().Unix())}, []string{})
		}()
		return nil, nil
	})
	mock.Handle(devicePath, nm.MethodDeviceDisconnect, func(args ...interface{}) ([]interface{}, error) {
		return nil, nil
	})

	mock.Handle(nm.SettingsPath, nm.MethodListConnections, func(args ...interface{}) ([]interface{}, error) {
		return []interface{}{[]string{}}, nil
	})

	profilePath := "/org/freedesktop/NetworkManager/Settings/1"
	mock.Handle(nm.SettingsPath, nm.MethodAddConnection, func(args ...interface{}) ([]interface{}, error) {
		settings := args[0].(map[string]map[string]interface{})
		mock.Handle(profilePath, nm.MethodGetSettings, func(args ...interface{}) ([]interface{}, error) {
			return []interface{}{settings}, nil
		})
		return []interface{}{profilePath}, nil
	})

	mock.Handle(nm.ManagerPath, nm.MethodActivate, func(args ...interface{}) ([]interface{}, error) {
		go func() {
			time.Sleep(50 * time.Millisecond)
			mock.Emit(activePath, nm.SignalActiveStateChanged, nm.ActiveStateActivated, uint32(0))
		}()
		return []interface{}{activePath}, nil
	})
	mock.Handle(nm.ManagerPath, nm.MethodDeactivate, func(args ...interface{}) ([]interface{}, error) {
		return nil, nil
	})

	registry := devices.NewRegistry(&devices.Config{Transport: mock})
	require.NoError(t, registry.Start())
	t.Cleanup(func() { _ = registry.Stop() })

	scans := scanner.NewCoordinator(&scanner.Config{Transport: mock})
	t.Cleanup(func() { _ = scans.Stop() })

	agent, err := secrets.New(&secrets.Config{})
	require.NoError(t, err)

	api := New(&Config{})
	api.SetConnector(connector.New(&connector.Config{
		Transport: mock,
		Registry:  registry,
		Scanner:   scans,
		Profiles:  profiles.NewManager(&profiles.Config{Transport: mock}),
		Secrets:   agent,
		Timeout:   5 * time.Second,
	}))

	return api
}

func TestGetStatus(t *testing.T) {
	api := newTestApi(t)

	w := httptest.NewRecorder()
	api.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/status", nil))

	require.Equal(t, http.StatusOK, w.Code)

	var res statusResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&res))
	require.Equal(t, "wlan0", res.Device)
	require.Equal(t, "idle", res.State)
	require.Equal(t, "disconnected", res.DeviceState)
}

func TestGetNetworks(t *testing.T) {
	api := newTestApi(t)

	w := httptest.NewRecorder()
	api.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/networks", nil))

	require.Equal(t, http.StatusOK, w.Code)

	var res []*networkResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&res))
	require.Len(t, res, 1)
	require.Equal(t, "Library", res[0].SSID)
	require.False(t, res[0].Secured)
}

func TestPostConnect(t *testing.T) {
	api := newTestApi(t)

	body, err := json.Marshal(&connectRequest{SSID: "Library"})
	require.NoError(t, err)

	w := httptest.NewRecorder()
	api.router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/connect", bytes.NewReader(body)))

	require.Equal(t, http.StatusOK, w.Code)

	var res statusResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&res))
	require.Equal(t, "connected", res.State)
	require.Equal(t, "Library", res.SSID)
}

func TestPostConnectUnknownNetwork(t *testing.T) {
	api := newTestApi(t)

	body, err := json.Marshal(&connectRequest{SSID: "Ghost"})
	require.NoError(t, err)

	w := httptest.NewRecorder()
	api.router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/connect", bytes.NewReader(body)))

	require.Equal(t, http.StatusNotFound, w.Code)

	var res errorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&res))
	require.Equal(t, "not found", res.Kind)
	require.NotEmpty(t, res.Error)
}

func TestPostDisconnect(t *testing.T) {
	api := newTestApi(t)

	w := httptest.NewRecorder()
	api.router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/disconnect", bytes.NewReader([]byte("{}"))))

	require.Equal(t, http.StatusOK, w.Code)
}
