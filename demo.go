package main

import (
	"fmt"
	"sync"
	"time"

	"github.com/netglass/wifictl/nm"
	"github.com/netglass/wifictl/transport"
)

// buildMockTransport scripts a small in-memory daemon with one
// wireless device and a couple of networks, so every operation can be
// exercised without a running network daemon.
func buildMockTransport() *transport.Mock {
	mock := transport.NewMock()

	devicePath := "/org/freedesktop/NetworkManager/Devices/0"

	mock.SetProperties(devicePath, nm.DeviceIface, map[string]interface{}{
		"DeviceType": nm.DeviceTypeWifi,
		"Interface":  "wlan0",
		"State":      nm.DeviceStateDisconnected,
	})
	mock.SetProperty(devicePath, nm.WirelessIface, "ActiveAccessPoint", "")

	aps := []struct {
		path     string
		ssid     string
		bssid    string
		strength uint8
		secured  bool
	}{
		{"/org/freedesktop/NetworkManager/AccessPoint/1", "Cafe", "aa:bb:cc:dd:ee:01", 82, true},
		{"/org/freedesktop/NetworkManager/AccessPoint/2", "Library", "aa:bb:cc:dd:ee:02", 61, false},
	}

	var apPaths []string
	for _, ap := range aps {
		apPaths = append(apPaths, ap.path)

		props := map[string]interface{}{
			"Ssid":      []byte(ap.ssid),
			"HwAddress": ap.bssid,
			"Strength":  ap.strength,
			"Frequency": uint32(2437),
			"Flags":     uint32(0),
			"WpaFlags":  uint32(0),
			"RsnFlags":  uint32(0),
		}
		if ap.secured {
			props["Flags"] = nm.ApFlagPrivacy
			props["RsnFlags"] = uint32(0x188)
		}

		mock.SetProperties(ap.path, nm.AccessPointIface, props)
	}

	mock.Handle(nm.ManagerPath, nm.MethodGetDevices, func(args ...interface{}) ([]interface{}, error) {
		return []interface{}{[]string{devicePath}}, nil
	})

	mock.Handle(devicePath, nm.MethodGetAccessPoints, func(args ...interface{}) ([]interface{}, error) {
		return []interface{}{apPaths}, nil
	})

	mock.Handle(devicePath, nm.MethodRequestScan, func(args ...interface{}) ([]interface{}, error) {
		go func() {
			time.Sleep(50 * time.Millisecond)
			for _, path := range apPaths {
				mock.Emit(devicePath, nm.SignalAccessPointAdded, path)
			}
			mock.Emit(devicePath, nm.SignalPropertiesChanged, nm.WirelessIface,
				map[string]interface{}{"LastScan": int64(time.Now().Unix())}, []string{})
		}()
		return nil, nil
	})

	// The settings service, profiles keyed by their object path
	var mu sync.Mutex
	stored := make(map[string]map[string]map[string]interface{})
	nextProfile := 1

	mock.Handle(nm.SettingsPath, nm.MethodListConnections, func(args ...interface{}) ([]interface{}, error) {
		mu.Lock()
		defer mu.Unlock()

		paths := make([]string, 0, len(stored))
		for path := range stored {
			paths = append(paths, path)
		}

		return []interface{}{paths}, nil
	})

	mock.Handle(nm.SettingsPath, nm.MethodAddConnection, func(args ...interface{}) ([]interface{}, error) {
		settings, ok := args[0].(map[string]map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("unexpected settings shape")
		}

		mu.Lock()
		path := fmt.Sprintf("/org/freedesktop/NetworkManager/Settings/%d", nextProfile)
		nextProfile++
		stored[path] = settings
		mu.Unlock()

		mock.Handle(path, nm.MethodGetSettings, func(args ...interface{}) ([]interface{}, error) {
			mu.Lock()
			defer mu.Unlock()
			return []interface{}{stored[path]}, nil
		})
		mock.Handle(path, nm.MethodDeleteConnection, func(args ...interface{}) ([]interface{}, error) {
			mu.Lock()
			defer mu.Unlock()
			delete(stored, path)
			return nil, nil
		})
		mock.Handle(path, nm.MethodUpdateConnection, func(args ...interface{}) ([]interface{}, error) {
			updated, ok := args[0].(map[string]map[string]interface{})
			if !ok {
				return nil, fmt.Errorf("unexpected settings shape")
			}
			mu.Lock()
			defer mu.Unlock()
			stored[path] = updated
			return nil, nil
		})

		return []interface{}{path}, nil
	})

	activePath := "/org/freedesktop/NetworkManager/ActiveConnection/1"

	mock.Handle(nm.ManagerPath, nm.MethodActivate, func(args ...interface{}) ([]interface{}, error) {
		go func() {
			time.Sleep(100 * time.Millisecond)
			mock.Emit(devicePath, nm.SignalDeviceStateChanged,
				nm.DeviceStateActivated, nm.DeviceStateConfig, nm.DeviceReasonNone)
			mock.Emit(activePath, nm.SignalActiveStateChanged,
				nm.ActiveStateActivated, uint32(0))
		}()
		return []interface{}{activePath}, nil
	})

	mock.Handle(nm.ManagerPath, nm.MethodDeactivate, func(args ...interface{}) ([]interface{}, error) {
		return nil, nil
	})

	mock.Handle(devicePath, nm.MethodDeviceDisconnect, func(args ...interface{}) ([]interface{}, error) {
		mock.Emit(devicePath, nm.SignalDeviceStateChanged,
			nm.DeviceStateDisconnected, nm.DeviceStateActivated, nm.DeviceReasonNone)
		return nil, nil
	})

	return mock
}
