// Package nm implements the transport boundary against a running
// NetworkManager-compatible daemon on the system bus, and hosts the
// D-Bus side of the secret agent.
package nm

import (
	"sync"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-errors/errors"
	"github.com/godbus/dbus/v5"
	"github.com/netglass/wifictl/transport"
	"github.com/netglass/wifictl/wifierr"
)

// check Transport compliance to its interface during compile time
var _ transport.Transport = (*Transport)(nil)

type Config struct {
	Logger Logger
}

type Transport struct {
	log     Logger
	conn    *dbus.Conn
	signals chan *dbus.Signal

	mu      sync.Mutex
	subs    map[uint32]*busSub
	nextSub uint32
}

type busSub struct {
	id   uint32
	path dbus.ObjectPath
	ch   chan *transport.Signal
}

func New(config *Config) *Transport {
	t := &Transport{
		subs: make(map[uint32]*busSub),
	}

	if config != nil && config.Logger != nil {
		t.log = config.Logger
	} else {
		t.log = noopLogger{}
	}

	return t
}

// Start dials the system bus. The daemon may still be coming up during
// early boot, so the dial is retried with exponential backoff.
func (t *Transport) Start() error {
	dial := func() error {
		conn, err := dbus.ConnectSystemBus()
		if err != nil {
			t.log.Debugf("System bus not reachable yet: %v", err)
			return err
		}

		t.conn = conn

		return nil
	}

	err := backoff.Retry(dial, backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5))
	if err != nil {
		return errors.Errorf("could not connect to system bus: %v", err)
	}

	t.signals = make(chan *dbus.Signal, 64)
	t.conn.Signal(t.signals)

	go t.route()

	return nil
}

// route fans incoming bus signals out to per-object subscribers. A
// single goroutine reads the bus channel, so per-object emission order
// is preserved.
func (t *Transport) route() {
	for signal := range t.signals {
		converted := &transport.Signal{
			Path: string(signal.Path),
			Name: signal.Name,
			Body: normalizeSlice(signal.Body),
		}

		t.mu.Lock()
		for _, sub := range t.subs {
			if sub.path != signal.Path {
				continue
			}

			select {
			case sub.ch <- converted:
			default:
				t.log.Warnf("Dropping signal %v for slow subscriber on %v", signal.Name, signal.Path)
			}
		}
		t.mu.Unlock()
	}
}

func (t *Transport) Call(path string, method string, args ...interface{}) ([]interface{}, error) {
	obj := t.conn.Object(Service, dbus.ObjectPath(path))

	call := obj.Call(method, 0, args...)
	if call.Err != nil {
		return nil, mapBusError(call.Err)
	}

	return normalizeSlice(call.Body), nil
}

func (t *Transport) GetProperty(path string, iface string, name string) (interface{}, error) {
	obj := t.conn.Object(Service, dbus.ObjectPath(path))

	variant, err := obj.GetProperty(iface + "." + name)
	if err != nil {
		return nil, mapBusError(err)
	}

	return normalize(variant.Value()), nil
}

func (t *Transport) GetAll(path string, iface string) (map[string]interface{}, error) {
	obj := t.conn.Object(Service, dbus.ObjectPath(path))

	call := obj.Call("org.freedesktop.DBus.Properties.GetAll", 0, iface)
	if call.Err != nil {
		return nil, mapBusError(call.Err)
	}

	props, ok := call.Body[0].(map[string]dbus.Variant)
	if !ok {
		return nil, errors.Errorf("could not convert properties of %v", path)
	}

	all := make(map[string]interface{}, len(props))
	for name, variant := range props {
		all[name] = normalize(variant.Value())
	}

	return all, nil
}

func (t *Transport) Subscribe(path string) (*transport.SignalClient, error) {
	objPath := dbus.ObjectPath(path)

	err := t.conn.AddMatchSignal(dbus.WithMatchObjectPath(objPath))
	if err != nil {
		return nil, errors.Errorf("could not add signal match for %v: %v", path, err)
	}

	sub := &busSub{
		path: objPath,
		ch:   make(chan *transport.Signal, 128),
	}

	t.mu.Lock()
	sub.id = t.nextSub
	t.nextSub++
	t.subs[sub.id] = sub
	t.mu.Unlock()

	return &transport.SignalClient{
		Signals: sub.ch,
		Cancel: func() {
			_ = t.conn.RemoveMatchSignal(dbus.WithMatchObjectPath(objPath))

			t.mu.Lock()
			if _, ok := t.subs[sub.id]; ok {
				delete(t.subs, sub.id)
				close(sub.ch)
			}
			t.mu.Unlock()
		},
	}, nil
}

func (t *Transport) Close() error {
	if t.conn == nil {
		return nil
	}

	t.mu.Lock()
	for id, sub := range t.subs {
		delete(t.subs, id)
		close(sub.ch)
	}
	t.mu.Unlock()

	err := t.conn.Close()
	if err != nil {
		return errors.Errorf("could not close bus connection: %v", err)
	}

	return nil
}

// mapBusError lifts well-known daemon error names into the caller-facing
// taxonomy. Everything else surfaces as an opaque daemon error.
func mapBusError(err error) error {
	busErr, ok := err.(dbus.Error)
	if !ok {
		return wifierr.E(wifierr.DaemonError, err)
	}

	switch busErr.Name {
	case ManagerIface + ".UnknownDevice",
		SettingsIface + ".InvalidConnection",
		ManagerIface + ".UnknownConnection":
		return wifierr.E(wifierr.NotFound, err)
	case DeviceIface + ".NotAllowed":
		return wifierr.E(wifierr.Busy, err)
	case ConnectionIface + ".InvalidProperty",
		ConnectionIface + ".InvalidSetting":
		return wifierr.E(wifierr.InvalidParams, err)
	default:
		return wifierr.E(wifierr.DaemonError, err)
	}
}

// normalize strips D-Bus container types so the rest of the repo only
// sees plain Go values.
func normalize(value interface{}) interface{} {
	switch v := value.(type) {
	case dbus.ObjectPath:
		return string(v)
	case dbus.Variant:
		return normalize(v.Value())
	case []dbus.ObjectPath:
		paths := make([]string, len(v))
		for i, path := range v {
			paths[i] = string(path)
		}
		return paths
	case []interface{}:
		return normalizeSlice(v)
	case map[string]dbus.Variant:
		props := make(map[string]interface{}, len(v))
		for name, variant := range v {
			props[name] = normalize(variant.Value())
		}
		return props
	case map[string]map[string]dbus.Variant:
		sections := make(map[string]map[string]interface{}, len(v))
		for section, props := range v {
			converted := make(map[string]interface{}, len(props))
			for name, variant := range props {
				converted[name] = normalize(variant.Value())
			}
			sections[section] = converted
		}
		return sections
	default:
		return value
	}
}

func normalizeSlice(values []interface{}) []interface{} {
	normalized := make([]interface{}, len(values))
	for i, value := range values {
		normalized[i] = normalize(value)
	}

	return normalized
}
