package devices

import (
	"testing"
	"time"

	"github.com/netglass/wifictl/nm"
	"github.com/netglass/wifictl/transport"
	"github.com/netglass/wifictl/wifierr"
	"github.com/stretchr/testify/require"
)

const (
	wifiPath  = "/org/freedesktop/NetworkManager/Devices/1"
	wiredPath = "/org/freedesktop/NetworkManager/Devices/2"
)

func newTestRegistry(t *testing.T) (*Registry, *transport.Mock) {
	t.Helper()

	mock := transport.NewMock()

	mock.SetProperties(wifiPath, nm.DeviceIface, map[string]interface{}{
		"DeviceType": nm.DeviceTypeWifi,
		"Interface":  "wlan0",
		"State":      nm.DeviceStateDisconnected,
	})
	mock.SetProperties(wiredPath, nm.DeviceIface, map[string]interface{}{
		"DeviceType": uint32(1),
		"Interface":  "eth0",
		"State":      nm.DeviceStateActivated,
	})

	mock.Handle(nm.ManagerPath, nm.MethodGetDevices, func(args ...interface{}) ([]interface{}, error) {
		return []interface{}{[]string{wifiPath, wiredPath}}, nil
	})

	registry := NewRegistry(&Config{Transport: mock})
	require.NoError(t, registry.Start())
	t.Cleanup(func() { _ = registry.Stop() })

	return registry, mock
}

func TestListOnlyWireless(t *testing.T) {
	registry, _ := newTestRegistry(t)

	listed := registry.List()
	require.Len(t, listed, 1)
	require.Equal(t, "wlan0", listed[0].Interface)
	require.Equal(t, KindWifi, listed[0].Kind)
	require.Equal(t, StateDisconnected, listed[0].State)
}

func TestGetByPathAndInterface(t *testing.T) {
	registry, _ := newTestRegistry(t)

	byPath, err := registry.Get(wifiPath)
	require.NoError(t, err)

	byName, err := registry.Get("wlan0")
	require.NoError(t, err)

	require.Equal(t, byPath.Path, byName.Path)

	_, err = registry.Get("wlan9")
	require.True(t, wifierr.Is(err, wifierr.NotFound))
}

func TestApplyIsIdempotent(t *testing.T) {
	registry, _ := newTestRegistry(t)

	client := registry.Subscribe()
	defer client.Cancel()

	registry.apply(wifiPath, nm.DeviceStateActivated)

	select {
	case update := <-client.Updates:
		require.Equal(t, StateConnected, update.State)
	case <-time.After(time.Second):
		t.Fatal("expected a state update")
	}

	// a duplicate signal carrying the current state must not notify
	registry.apply(wifiPath, nm.DeviceStateActivated)

	select {
	case update := <-client.Updates:
		t.Fatalf("unexpected update for unchanged state: %v", update.State)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestIntermediateStatesCollapse(t *testing.T) {
	registry, _ := newTestRegistry(t)

	client := registry.Subscribe()
	defer client.Cancel()

	registry.apply(wifiPath, nm.DeviceStatePrepare)

	select {
	case update := <-client.Updates:
		require.Equal(t, StateConnecting, update.State)
	case <-time.After(time.Second):
		t.Fatal("expected a state update")
	}

	// prepare, config and need-auth all map to the same local state
	registry.apply(wifiPath, nm.DeviceStateConfig)
	registry.apply(wifiPath, nm.DeviceStateNeedAuth)

	select {
	case update := <-client.Updates:
		t.Fatalf("unexpected update within the connecting range: %v", update.State)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDeviceLifecycleSignals(t *testing.T) {
	registry, mock := newTestRegistry(t)

	addedPath := "/org/freedesktop/NetworkManager/Devices/3"
	mock.SetProperties(addedPath, nm.DeviceIface, map[string]interface{}{
		"DeviceType": nm.DeviceTypeWifi,
		"Interface":  "wlan1",
		"State":      nm.DeviceStateDisconnected,
	})

	mock.Emit(nm.ManagerPath, nm.SignalDeviceAdded, addedPath)

	require.Eventually(t, func() bool {
		_, err := registry.Get("wlan1")
		return err == nil
	}, time.Second, 10*time.Millisecond)

	mock.Emit(nm.ManagerPath, nm.SignalDeviceRemoved, addedPath)

	require.Eventually(t, func() bool {
		_, err := registry.Get("wlan1")
		return wifierr.Is(err, wifierr.NotFound)
	}, time.Second, 10*time.Millisecond)
}

func TestStateChangeSignal(t *testing.T) {
	registry, mock := newTestRegistry(t)

	mock.Emit(wifiPath, nm.SignalDeviceStateChanged,
		nm.DeviceStateActivated, nm.DeviceStateConfig, nm.DeviceReasonNone)

	require.Eventually(t, func() bool {
		device, err := registry.Get("wlan0")
		return err == nil && device.State == StateConnected
	}, time.Second, 10*time.Millisecond)
}
