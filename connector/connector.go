// Package connector turns a connect intent into an activation against
// the daemon and reconciles daemon-reported state transitions into a
// terminal outcome. One orchestration flow runs per device.
package connector

import (
	"context"
	"sync"
	"time"

	"github.com/go-errors/errors"
	"github.com/google/uuid"
	"github.com/netglass/wifictl/devices"
	"github.com/netglass/wifictl/nm"
	"github.com/netglass/wifictl/profiles"
	"github.com/netglass/wifictl/scanner"
	"github.com/netglass/wifictl/secrets"
	"github.com/netglass/wifictl/transport"
	"github.com/netglass/wifictl/wifidb"
	"github.com/netglass/wifictl/wifierr"
)

// DefaultTimeout bounds the wait for a terminal activation signal. It
// sits below the daemon's own DHCP timeout so the caller sees Timeout
// before the daemon gives up silently.
const DefaultTimeout = 45 * time.Second

type State int

const (
	StateIdle State = iota
	StateResolving
	StateActivating
	StateConnected
	StateFailed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateResolving:
		return "resolving"
	case StateActivating:
		return "activating"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Target names the network a caller wants to reach.
type Target struct {
	SSID string
	// Device optionally pins the attempt to a device, by object path
	// or interface name.
	Device string
	// Secret optionally supplies the credential up front.
	Secret string
	// Hidden activates without requiring the network in the scan
	// snapshot first.
	Hidden bool
}

// Status is the caller-visible view of one device's orchestration state.
type Status struct {
	Device      string
	DeviceState devices.State
	State       State
	SSID        string
	Error       string
}

// Network is one entry of the deduplicated network listing.
type Network struct {
	SSID      string
	BSSID     string
	Strength  uint8
	Frequency uint32
	Secured   bool
	Connected bool
	LastSeen  time.Time
}

type Config struct {
	Transport transport.Transport
	Registry  *devices.Registry
	Scanner   *scanner.Coordinator
	Profiles  *profiles.Manager
	Secrets   *secrets.Agent
	DB        *wifidb.DB
	Timeout   time.Duration
	Logger    Logger
}

type Connector struct {
	tr       transport.Transport
	registry *devices.Registry
	scanner  *scanner.Coordinator
	profiles *profiles.Manager
	secrets  *secrets.Agent
	db       *wifidb.DB
	timeout  time.Duration
	log      Logger

	mu       sync.Mutex
	attempts map[string]*attempt
	last     map[string]*Status
}

// attempt correlates one connect intent with its in-flight activation.
// It exists only for the duration of the attempt and is dropped on any
// terminal outcome.
type attempt struct {
	id      string
	device  *devices.Device
	target  *Target
	profile *profiles.Profile
	ap      *scanner.AccessPoint
	state   State
	err     error
	cancel  context.CancelFunc
}

func New(config *Config) *Connector {
	connector := &Connector{
		tr:       config.Transport,
		registry: config.Registry,
		scanner:  config.Scanner,
		profiles: config.Profiles,
		secrets:  config.Secrets,
		db:       config.DB,
		timeout:  config.Timeout,
		attempts: make(map[string]*attempt),
		last:     make(map[string]*Status),
	}

	if connector.timeout == 0 {
		connector.timeout = DefaultTimeout
	}

	if config.Logger != nil {
		connector.log = config.Logger
	} else {
		connector.log = noopLogger{}
	}

	return connector
}

// Connect resolves the target to a device, access point and profile,
// activates it and blocks until a terminal outcome. Resolution errors
// return synchronously; activation failures surface exactly once
// through the returned taxonomy error.
func (c *Connector) Connect(ctx context.Context, target *Target) error {
	device, err := c.pickDevice(target)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	at := &attempt{
		id:     uuid.New().String(),
		device: device,
		target: target,
		state:  StateResolving,
		cancel: cancel,
	}

	c.mu.Lock()
	if _, ok := c.attempts[device.Path]; ok {
		c.mu.Unlock()
		return wifierr.Ef(wifierr.Busy, "a connect attempt is already in flight on %v", device.Interface)
	}
	c.attempts[device.Path] = at
	c.mu.Unlock()

	c.log.Infof("Connecting %v to %q (attempt %v)", device.Interface, target.SSID, at.id)

	err = c.run(ctx, at)

	c.finish(at, err)

	return err
}

// Cancel aborts the in-flight attempt on a device. Daemon-side
// deactivation is attempted best-effort but not awaited.
func (c *Connector) Cancel(deviceID string) error {
	device, err := c.pickDevice(&Target{Device: deviceID})
	if err != nil {
		return err
	}

	c.mu.Lock()
	at, ok := c.attempts[device.Path]
	if !ok {
		c.mu.Unlock()
		return wifierr.Ef(wifierr.NotFound, "no connect attempt in flight on %v", device.Interface)
	}
	at.state = StateCancelled
	cancel := at.cancel
	c.mu.Unlock()

	c.log.Infof("Cancelling attempt %v on %v", at.id, device.Interface)

	cancel()

	return nil
}

// Disconnect deactivates whatever the device is currently running.
func (c *Connector) Disconnect(ctx context.Context, deviceID string) error {
	device, err := c.pickDevice(&Target{Device: deviceID})
	if err != nil {
		return err
	}

	_, err = c.tr.Call(device.Path, nm.MethodDeviceDisconnect)
	if err != nil {
		if _, ok := wifierr.KindOf(err); ok {
			return err
		}
		return wifierr.E(wifierr.DaemonError, err)
	}

	c.log.Infof("Disconnected %v", device.Interface)

	return nil
}

// Status reports the orchestration state of a device: the live attempt
// if one is running, else the last terminal outcome, else idle.
func (c *Connector) Status(deviceID string) (*Status, error) {
	device, err := c.pickDevice(&Target{Device: deviceID})
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if at, ok := c.attempts[device.Path]; ok {
		return c.statusOf(at, device), nil
	}

	if last, ok := c.last[device.Path]; ok {
		status := *last
		status.DeviceState = device.State
		return &status, nil
	}

	return &Status{
		Device:      device.Interface,
		DeviceState: device.State,
		State:       StateIdle,
	}, nil
}

// Networks lists the visible networks on a device, one entry per SSID,
// connected network first, then by descending signal strength.
func (c *Connector) Networks(ctx context.Context, deviceID string, rescan bool) ([]*Network, error) {
	device, err := c.pickDevice(&Target{Device: deviceID})
	if err != nil {
		return nil, err
	}

	err = c.scanner.Track(device)
	if err != nil {
		return nil, err
	}

	if rescan {
		err = c.scanner.Scan(ctx, device)
		if err != nil {
			return nil, err
		}
	}

	snapshot, err := c.scanner.Snapshot(device)
	if err != nil {
		return nil, err
	}

	activeAP := ""
	if value, err := c.tr.GetProperty(device.Path, nm.WirelessIface, "ActiveAccessPoint"); err == nil {
		activeAP, _ = transport.String(value)
	}

	seen := make(map[string]bool)
	var connected []*Network
	var others []*Network

	// the snapshot arrives strongest-first, so the first sighting of an
	// SSID is the one to keep
	for _, ap := range snapshot {
		ssid := ap.SSIDString()
		if ssid == "" || seen[ssid] {
			continue
		}
		seen[ssid] = true

		network := &Network{
			SSID:      ssid,
			BSSID:     ap.BSSID,
			Strength:  ap.Strength,
			Frequency: ap.Frequency,
			Secured:   ap.Secured(),
			Connected: activeAP != "" && ap.Path == activeAP,
			LastSeen:  ap.LastSeen,
		}

		if network.Connected {
			connected = append(connected, network)
		} else {
			others = append(others, network)
		}
	}

	return append(connected, others...), nil
}

func (c *Connector) run(ctx context.Context, at *attempt) error {
	// Resolving
	var ap *scanner.AccessPoint
	var err error

	if !at.target.Hidden {
		ap, err = c.resolveAccessPoint(ctx, at)
		if err != nil {
			return err
		}
		at.ap = ap
	}

	secured := at.target.Secret != ""
	if ap != nil {
		secured = ap.Secured()
	}

	if at.target.Secret != "" && ap != nil && !ap.Secured() {
		return wifierr.Ef(wifierr.InvalidParams, "a key was supplied for the open network %q", at.target.SSID)
	}

	params := profiles.Params{
		Hidden:    at.target.Hidden,
		HasSecret: secured,
	}
	if secured {
		params.Security = profiles.SecurityPSK
	}

	profile, err := c.profiles.FindOrCreate([]byte(at.target.SSID), params)
	if err != nil {
		return err
	}
	at.profile = profile

	c.profiles.Acquire(profile.ID)
	defer c.profiles.Release(profile.ID)

	// The secret is resolved exactly once per attempt and the lease is
	// released on every exit path, including cancellation.
	if secured {
		lease, err := c.secrets.Acquire(ctx, &secrets.Request{
			ProfileUUID: profile.UUID,
			SSID:        at.target.SSID,
			Setting:     "802-11-wireless-security",
			Provided:    at.target.Secret,
		})
		if err != nil {
			return err
		}
		defer lease.Release()
	}

	// Activating
	c.setState(at, StateActivating)

	return c.activate(ctx, at)
}

// resolveAccessPoint looks the target up in the current snapshot and,
// if it is missing, refreshes it with exactly one scan before giving up.
func (c *Connector) resolveAccessPoint(ctx context.Context, at *attempt) (*scanner.AccessPoint, error) {
	err := c.scanner.Track(at.device)
	if err != nil {
		return nil, err
	}

	ap, err := c.scanner.FindBySSID(at.device, at.target.SSID)
	if err == nil {
		return ap, nil
	}
	if !wifierr.Is(err, wifierr.NotFound) {
		return nil, err
	}

	c.log.Debugf("%q not in snapshot of %v, refreshing with one scan", at.target.SSID, at.device.Interface)

	err = c.scanner.Scan(ctx, at.device)
	if err != nil {
		return nil, err
	}

	return c.scanner.FindBySSID(at.device, at.target.SSID)
}

func (c *Connector) activate(ctx context.Context, at *attempt) error {
	// Subscribe before issuing the activation so no early signal is lost.
	deviceSignals, err := c.tr.Subscribe(at.device.Path)
	if err != nil {
		return wifierr.E(wifierr.DaemonError, err)
	}
	defer deviceSignals.Cancel()

	specific := "/"
	if at.ap != nil {
		specific = at.ap.Path
	}

	body, err := c.tr.Call(nm.ManagerPath, nm.MethodActivate, at.profile.ID, at.device.Path, specific)
	if err != nil {
		if _, ok := wifierr.KindOf(err); ok {
			return err
		}
		return wifierr.E(wifierr.DaemonError, err)
	}

	if len(body) < 1 {
		return wifierr.Ef(wifierr.DaemonError, "activation returned no handle")
	}

	activePath, ok := transport.String(body[0])
	if !ok {
		return wifierr.Ef(wifierr.DaemonError, "could not convert activation handle")
	}

	activeSignals, err := c.tr.Subscribe(activePath)
	if err != nil {
		return wifierr.E(wifierr.DaemonError, err)
	}
	defer activeSignals.Cancel()

	c.log.Debugf("Activation %v running for attempt %v", activePath, at.id)

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	for {
		select {
		case signal, ok := <-activeSignals.Signals:
			if !ok {
				return wifierr.Ef(wifierr.DaemonError, "activation signal stream closed")
			}

			done, err := c.applyActiveSignal(at, signal)
			if done {
				return err
			}

		case signal, ok := <-deviceSignals.Signals:
			if !ok {
				return wifierr.Ef(wifierr.DaemonError, "device signal stream closed")
			}

			done, err := c.applyDeviceSignal(at, signal)
			if done {
				return err
			}

		case <-timer.C:
			go c.deactivate(activePath)
			return wifierr.Ef(wifierr.Timeout, "no terminal signal within %v", c.timeout)

		case <-ctx.Done():
			go c.deactivate(activePath)
			return ctx.Err()
		}
	}
}

// applyActiveSignal folds one activation signal into the attempt. It
// only ever applies signals for the attempt's own activation handle;
// the subscription is torn down with the attempt, so a late signal can
// never resurrect a finished one.
func (c *Connector) applyActiveSignal(at *attempt, signal *transport.Signal) (bool, error) {
	if signal.Name != nm.SignalActiveStateChanged || len(signal.Body) < 1 {
		return false, nil
	}

	state, ok := transport.Uint32(signal.Body[0])
	if !ok {
		return false, nil
	}

	switch state {
	case nm.ActiveStateActivated:
		c.log.Infof("Attempt %v reached connected state", at.id)
		return true, nil
	case nm.ActiveStateDeactivated:
		return true, wifierr.Ef(wifierr.DaemonError, "the daemon deactivated the connection")
	default:
		return false, nil
	}
}

func (c *Connector) applyDeviceSignal(at *attempt, signal *transport.Signal) (bool, error) {
	if signal.Name != nm.SignalDeviceStateChanged || len(signal.Body) < 1 {
		return false, nil
	}

	state, ok := transport.Uint32(signal.Body[0])
	if !ok || state != nm.DeviceStateFailed {
		return false, nil
	}

	reason := nm.DeviceReasonNone
	if len(signal.Body) >= 3 {
		reason, _ = transport.Uint32(signal.Body[2])
	}

	if reason == nm.DeviceReasonNoSecrets {
		return true, wifierr.Ef(wifierr.SecretUnavailable, "the daemon could not obtain secrets")
	}

	return true, wifierr.Ef(wifierr.DaemonError, "device failed during activation (reason %d)", reason)
}

// deactivate is the best-effort cleanup after timeout or cancellation.
// Its outcome is deliberately not awaited.
func (c *Connector) deactivate(activePath string) {
	_, err := c.tr.Call(nm.ManagerPath, nm.MethodDeactivate, activePath)
	if err != nil {
		c.log.Debugf("Best-effort deactivation of %v failed: %v", activePath, err)
	}
}

func (c *Connector) pickDevice(target *Target) (*devices.Device, error) {
	if target.Device != "" {
		device, err := c.registry.Get(target.Device)
		if err != nil {
			return nil, err
		}

		if device.Kind != devices.KindWifi {
			return nil, wifierr.Ef(wifierr.Unsupported, "device %v is not a wireless device", device.Interface)
		}

		return device, nil
	}

	wireless := c.registry.List()
	if len(wireless) == 0 {
		return nil, wifierr.Ef(wifierr.NotFound, "no wireless device available")
	}

	if c.db != nil {
		preferred, err := c.db.GetPreferredDevice()
		if err == nil && preferred != "" {
			for _, device := range wireless {
				if device.Interface == preferred {
					return device, nil
				}
			}
		}
	}

	// prefer a connected device for listings, mirroring how the
	// adapter is picked for status output
	for _, device := range wireless {
		if device.State == devices.StateConnected {
			return device, nil
		}
	}

	return wireless[0], nil
}

func (c *Connector) setState(at *attempt, state State) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// a cancelled attempt never leaves its terminal state
	if at.state == StateCancelled {
		return
	}

	at.state = state
}

// finish applies the terminal outcome. Only the attempt still
// registered as live for its device may publish its outcome; a
// superseded attempt is dropped silently.
func (c *Connector) finish(at *attempt, err error) {
	c.mu.Lock()

	live := c.attempts[at.device.Path] == at
	if live {
		delete(c.attempts, at.device.Path)
	}

	switch {
	case at.state == StateCancelled:
	case err == nil:
		at.state = StateConnected
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		at.state = StateCancelled
	default:
		at.state = StateFailed
		at.err = err
	}

	var status *Status
	if live {
		status = c.statusOf(at, at.device)
		c.last[at.device.Path] = status
	}

	c.mu.Unlock()

	c.log.Infof("Attempt %v finished as %v", at.id, at.state)

	if live && c.db != nil {
		dbErr := c.db.RecordAttempt(at.target.SSID, at.state.String(), at.err)
		if dbErr != nil {
			c.log.Warnf("Could not record attempt history: %v", dbErr)
		}
	}
}

func (c *Connector) statusOf(at *attempt, device *devices.Device) *Status {
	status := &Status{
		Device:      device.Interface,
		DeviceState: device.State,
		State:       at.state,
		SSID:        at.target.SSID,
	}

	if at.err != nil {
		status.Error = at.err.Error()
	}

	return status
}
