package transport

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEmitPreservesOrderPerPath(t *testing.T) {
	mock := NewMock()

	client, err := mock.Subscribe("/device")
	require.NoError(t, err)
	defer client.Cancel()

	mock.Emit("/device", "StateChanged", uint32(40))
	mock.Emit("/device", "StateChanged", uint32(50))
	mock.Emit("/device", "StateChanged", uint32(100))

	for _, want := range []uint32{40, 50, 100} {
		signal := <-client.Signals
		state, ok := Uint32(signal.Body[0])
		require.True(t, ok)
		require.Equal(t, want, state)
	}
}

func TestSignalsAreScopedToPath(t *testing.T) {
	mock := NewMock()

	client, err := mock.Subscribe("/device/1")
	require.NoError(t, err)
	defer client.Cancel()

	mock.Emit("/device/2", "StateChanged", uint32(100))
	mock.Emit("/device/1", "StateChanged", uint32(30))

	signal := <-client.Signals
	require.Equal(t, "/device/1", signal.Path)

	select {
	case unexpected := <-client.Signals:
		t.Fatalf("unexpected signal: %+v", unexpected)
	default:
	}
}

func TestCancelClosesStream(t *testing.T) {
	mock := NewMock()

	client, err := mock.Subscribe("/device")
	require.NoError(t, err)

	client.Cancel()

	_, open := <-client.Signals
	require.False(t, open)

	// a second cancel is a no-op, and emits go nowhere
	client.Cancel()
	mock.Emit("/device", "StateChanged", uint32(100))
}

func TestCloseClosesAllStreams(t *testing.T) {
	mock := NewMock()

	first, err := mock.Subscribe("/device/1")
	require.NoError(t, err)
	second, err := mock.Subscribe("/device/2")
	require.NoError(t, err)

	require.NoError(t, mock.Close())

	_, open := <-first.Signals
	require.False(t, open)
	_, open = <-second.Signals
	require.False(t, open)

	_, err = mock.Subscribe("/device/3")
	require.Error(t, err)
}

func TestCallRecording(t *testing.T) {
	mock := NewMock()

	mock.Handle("/device", "Scan", func(args ...interface{}) ([]interface{}, error) {
		return nil, nil
	})

	_, err := mock.Call("/device", "Scan")
	require.NoError(t, err)

	_, err = mock.Call("/device", "Missing")
	require.Error(t, err)

	require.Equal(t, 1, mock.CallCount("Scan"))
	require.Equal(t, 1, mock.CallCount("Missing"))
	require.Zero(t, mock.CallCount("Other"))

	calls := mock.Calls()
	require.Len(t, calls, 2)
	require.Equal(t, "/device", calls[0].Path)
}

func TestPropertyCoercion(t *testing.T) {
	mock := NewMock()

	mock.SetProperty("/ap", "iface", "Strength", uint8(82))
	mock.SetProperty("/ap", "iface", "Frequency", int32(2437))
	mock.SetProperty("/ap", "iface", "Ssid", "Cafe")

	value, err := mock.GetProperty("/ap", "iface", "Strength")
	require.NoError(t, err)
	strength, ok := Uint8(value)
	require.True(t, ok)
	require.Equal(t, uint8(82), strength)

	all, err := mock.GetAll("/ap", "iface")
	require.NoError(t, err)

	frequency, ok := Uint32(all["Frequency"])
	require.True(t, ok)
	require.Equal(t, uint32(2437), frequency)

	ssid, ok := Bytes(all["Ssid"])
	require.True(t, ok)
	require.Equal(t, []byte("Cafe"), ssid)

	_, err = mock.GetProperty("/ap", "iface", "Missing")
	require.Error(t, err)
}
