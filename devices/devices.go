// Package devices owns the local mirror of the daemon's device list.
// The registry is only ever mutated by applying daemon events; all
// other packages read it.
package devices

import (
	"sort"
	"sync"

	"github.com/go-errors/errors"
	"github.com/netglass/wifictl/nm"
	"github.com/netglass/wifictl/transport"
	"github.com/netglass/wifictl/wifierr"
)

type Kind int

const (
	KindOther Kind = iota
	KindWifi
)

type State int

const (
	StateUnmanaged State = iota
	StateDisconnected
	StateConnecting
	StateConnected
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUnmanaged:
		return "unmanaged"
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

type Device struct {
	Path      string
	Interface string
	Kind      Kind
	State     State
}

type Config struct {
	Transport transport.Transport
	Logger    Logger
}

type nextClient struct {
	sync.Mutex
	id uint32
}

type Registry struct {
	tr  transport.Transport
	log Logger

	mu       sync.RWMutex
	devices  map[string]*Device
	watchers map[string]*transport.SignalClient

	clientMtx  sync.Mutex
	clients    map[uint32]*Client
	nextClient nextClient

	manager *transport.SignalClient
}

// Client receives a copy of a device every time its state changes.
type Client struct {
	Updates    chan *Device
	Id         uint32
	cancelChan chan struct{}
	registry   *Registry
}

func NewRegistry(config *Config) *Registry {
	registry := &Registry{
		tr:       config.Transport,
		devices:  make(map[string]*Device),
		watchers: make(map[string]*transport.SignalClient),
		clients:  make(map[uint32]*Client),
	}

	if config.Logger != nil {
		registry.log = config.Logger
	} else {
		registry.log = noopLogger{}
	}

	return registry
}

// Start enumerates the daemon's devices and begins tracking their
// lifecycle signals.
func (r *Registry) Start() error {
	body, err := r.tr.Call(nm.ManagerPath, nm.MethodGetDevices)
	if err != nil {
		return errors.Errorf("could not enumerate devices: %v", err)
	}

	if len(body) < 1 {
		return errors.Errorf("empty device enumeration reply")
	}

	paths, ok := transport.Strings(body[0])
	if !ok {
		return errors.Errorf("could not convert device enumeration reply")
	}

	for _, path := range paths {
		err := r.add(path)
		if err != nil {
			r.log.Warnf("Skipping device %v: %v", path, err)
		}
	}

	manager, err := r.tr.Subscribe(nm.ManagerPath)
	if err != nil {
		return errors.Errorf("could not subscribe to device lifecycle: %v", err)
	}

	r.manager = manager

	go r.drainManager(manager)

	return nil
}

func (r *Registry) Stop() error {
	if r.manager != nil {
		r.manager.Cancel()
	}

	r.mu.Lock()
	for path, watcher := range r.watchers {
		watcher.Cancel()
		delete(r.watchers, path)
	}
	r.mu.Unlock()

	return nil
}

// List returns the known wireless devices ordered by interface name.
func (r *Registry) List() []*Device {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var devices []*Device
	for _, device := range r.devices {
		if device.Kind != KindWifi {
			continue
		}

		copied := *device
		devices = append(devices, &copied)
	}

	sort.Slice(devices, func(i, j int) bool {
		return devices[i].Interface < devices[j].Interface
	})

	return devices
}

// Get resolves a device by object path or interface name.
func (r *Registry) Get(id string) (*Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, device := range r.devices {
		if device.Path == id || device.Interface == id {
			copied := *device
			return &copied, nil
		}
	}

	return nil, wifierr.Ef(wifierr.NotFound, "unknown device %v", id)
}

// Subscribe returns a client that receives device state changes.
func (r *Registry) Subscribe() *Client {
	client := &Client{
		Updates:    make(chan *Device, 8),
		cancelChan: make(chan struct{}),
		registry:   r,
	}

	r.nextClient.Lock()
	client.Id = r.nextClient.id
	r.nextClient.id++
	r.nextClient.Unlock()

	r.clientMtx.Lock()
	r.clients[client.Id] = client
	r.clientMtx.Unlock()

	return client
}

func (c *Client) Cancel() {
	c.registry.clientMtx.Lock()
	defer c.registry.clientMtx.Unlock()

	if _, ok := c.registry.clients[c.Id]; !ok {
		return
	}

	delete(c.registry.clients, c.Id)
	close(c.cancelChan)
}

func (r *Registry) add(path string) error {
	props, err := r.tr.GetAll(path, nm.DeviceIface)
	if err != nil {
		return errors.Errorf("could not read device properties: %v", err)
	}

	deviceType, _ := transport.Uint32(props["DeviceType"])
	ifname, _ := transport.String(props["Interface"])
	state, _ := transport.Uint32(props["State"])

	device := &Device{
		Path:      path,
		Interface: ifname,
		Kind:      KindOther,
		State:     stateFromDaemon(state),
	}

	if deviceType == nm.DeviceTypeWifi {
		device.Kind = KindWifi
	}

	r.mu.Lock()
	if _, ok := r.devices[path]; ok {
		// duplicate discovery is a no-op
		r.mu.Unlock()
		return nil
	}
	r.devices[path] = device
	r.mu.Unlock()

	r.log.Infof("Tracking device %v (%v, %v)", device.Interface, path, device.State)

	if device.Kind == KindWifi {
		watcher, err := r.tr.Subscribe(path)
		if err != nil {
			return errors.Errorf("could not watch device %v: %v", path, err)
		}

		r.mu.Lock()
		r.watchers[path] = watcher
		r.mu.Unlock()

		go r.drainDevice(path, watcher)
	}

	return nil
}

func (r *Registry) remove(path string) {
	r.mu.Lock()
	device, ok := r.devices[path]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.devices, path)

	watcher, hasWatcher := r.watchers[path]
	if hasWatcher {
		delete(r.watchers, path)
	}
	r.mu.Unlock()

	if hasWatcher {
		watcher.Cancel()
	}

	r.log.Infof("Device %v is gone", device.Interface)
}

// drainManager applies daemon-level device lifecycle signals.
func (r *Registry) drainManager(client *transport.SignalClient) {
	for signal := range client.Signals {
		switch signal.Name {
		case nm.SignalDeviceAdded:
			if len(signal.Body) < 1 {
				continue
			}
			if path, ok := transport.String(signal.Body[0]); ok {
				err := r.add(path)
				if err != nil {
					r.log.Warnf("Could not track added device %v: %v", path, err)
				}
			}
		case nm.SignalDeviceRemoved:
			if len(signal.Body) < 1 {
				continue
			}
			if path, ok := transport.String(signal.Body[0]); ok {
				r.remove(path)
			}
		}
	}
}

// drainDevice applies state-change signals for one device. A single
// goroutine per device keeps application serialized and ordered.
func (r *Registry) drainDevice(path string, client *transport.SignalClient) {
	for signal := range client.Signals {
		if signal.Name != nm.SignalDeviceStateChanged || len(signal.Body) < 1 {
			continue
		}

		newState, ok := transport.Uint32(signal.Body[0])
		if !ok {
			continue
		}

		r.apply(path, newState)
	}
}

// apply is idempotent: a duplicate signal carrying the current state
// produces no update and no notification.
func (r *Registry) apply(path string, daemonState uint32) {
	state := stateFromDaemon(daemonState)

	r.mu.Lock()
	device, ok := r.devices[path]
	if !ok || device.State == state {
		r.mu.Unlock()
		return
	}

	device.State = state
	copied := *device
	r.mu.Unlock()

	r.log.Debugf("Device %v is now %v", copied.Interface, state)

	r.notify(&copied)
}

func (r *Registry) notify(device *Device) {
	r.clientMtx.Lock()
	defer r.clientMtx.Unlock()

	for _, client := range r.clients {
		select {
		case client.Updates <- device:
		case <-client.cancelChan:
		default:
			r.log.Debugf("Dropping device update for slow client %v", client.Id)
		}
	}
}

func stateFromDaemon(state uint32) State {
	switch {
	case state <= nm.DeviceStateUnavailable:
		return StateUnmanaged
	case state == nm.DeviceStateDisconnected || state == nm.DeviceStateDeactivating:
		return StateDisconnected
	case state >= nm.DeviceStatePrepare && state <= nm.DeviceStateSecondaries:
		return StateConnecting
	case state == nm.DeviceStateActivated:
		return StateConnected
	case state == nm.DeviceStateFailed:
		return StateFailed
	default:
		return StateUnmanaged
	}
}
