// Package scanner drives scans and owns the per-device access point
// table. Entries are keyed by BSSID, superseded in place when the
// daemon re-reports them, and lazily expired on snapshot once they
// exceed the configured age without a fresh sighting.
package scanner

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/go-errors/errors"
	"github.com/netglass/wifictl/devices"
	"github.com/netglass/wifictl/nm"
	"github.com/netglass/wifictl/transport"
	"github.com/netglass/wifictl/wifierr"
)

// DefaultMaxAge is how long an unseen access point survives in the table.
const DefaultMaxAge = 3 * time.Minute

type AccessPoint struct {
	Path      string
	SSID      []byte
	BSSID     string
	Strength  uint8
	Frequency uint32
	Flags     uint32
	WPAFlags  uint32
	RSNFlags  uint32
	LastSeen  time.Time
}

// Secured reports whether the access point requires credentials.
func (ap *AccessPoint) Secured() bool {
	return ap.Flags&nm.ApFlagPrivacy != 0 || ap.WPAFlags != 0 || ap.RSNFlags != 0
}

// SSIDString renders the SSID for display. SSIDs are raw byte
// sequences and are not required to be printable.
func (ap *AccessPoint) SSIDString() string {
	return string(ap.SSID)
}

type Config struct {
	Transport transport.Transport
	MaxAge    time.Duration
	Now       func() time.Time
	Logger    Logger
}

type Coordinator struct {
	tr     transport.Transport
	log    Logger
	maxAge time.Duration
	now    func() time.Time

	mu     sync.Mutex
	tables map[string]*table
}

type table struct {
	device   *devices.Device
	aps      map[string]*AccessPoint
	byPath   map[string]string
	watchers map[string]*transport.SignalClient
	watcher  *transport.SignalClient
	scanning bool
	waiters  []chan struct{}
}

func NewCoordinator(config *Config) *Coordinator {
	coordinator := &Coordinator{
		tr:     config.Transport,
		maxAge: config.MaxAge,
		now:    config.Now,
		tables: make(map[string]*table),
	}

	if coordinator.maxAge == 0 {
		coordinator.maxAge = DefaultMaxAge
	}

	if coordinator.now == nil {
		coordinator.now = time.Now
	}

	if config.Logger != nil {
		coordinator.log = config.Logger
	} else {
		coordinator.log = noopLogger{}
	}

	return coordinator
}

// Track begins maintaining the access point table for a device. It
// seeds the table from the daemon's current view and then applies
// access point signals as they arrive.
func (c *Coordinator) Track(device *devices.Device) error {
	if device.Kind != devices.KindWifi {
		return wifierr.Ef(wifierr.Unsupported, "device %v cannot scan", device.Interface)
	}

	c.mu.Lock()
	if _, ok := c.tables[device.Path]; ok {
		c.mu.Unlock()
		return nil
	}

	t := &table{
		device:   device,
		aps:      make(map[string]*AccessPoint),
		byPath:   make(map[string]string),
		watchers: make(map[string]*transport.SignalClient),
	}
	c.tables[device.Path] = t
	c.mu.Unlock()

	watcher, err := c.tr.Subscribe(device.Path)
	if err != nil {
		return errors.Errorf("could not watch device %v: %v", device.Interface, err)
	}

	c.mu.Lock()
	t.watcher = watcher
	c.mu.Unlock()

	go c.drainDevice(device.Path, watcher)

	body, err := c.tr.Call(device.Path, nm.MethodGetAccessPoints)
	if err != nil {
		c.log.Warnf("Could not seed access points for %v: %v", device.Interface, err)
		return nil
	}

	if len(body) >= 1 {
		if paths, ok := transport.Strings(body[0]); ok {
			for _, path := range paths {
				c.applyAccessPoint(device.Path, path)
			}
		}
	}

	return nil
}

func (c *Coordinator) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for path, t := range c.tables {
		if t.watcher != nil {
			t.watcher.Cancel()
		}
		for _, watcher := range t.watchers {
			watcher.Cancel()
		}
		delete(c.tables, path)
	}

	return nil
}

// RequestScan asks the daemon to scan on the device. It fails with
// Busy while a scan is already in flight and with Unsupported for
// devices that cannot scan.
func (c *Coordinator) RequestScan(device *devices.Device) error {
	if device.Kind != devices.KindWifi {
		return wifierr.Ef(wifierr.Unsupported, "device %v cannot scan", device.Interface)
	}

	err := c.Track(device)
	if err != nil {
		return err
	}

	c.mu.Lock()
	t := c.tables[device.Path]
	if t.scanning {
		c.mu.Unlock()
		return wifierr.Ef(wifierr.Busy, "scan already in flight on %v", device.Interface)
	}
	t.scanning = true
	c.mu.Unlock()

	_, err = c.tr.Call(device.Path, nm.MethodRequestScan, map[string]interface{}{})
	if err != nil {
		c.mu.Lock()
		t.scanning = false
		c.mu.Unlock()
		return errors.Errorf("could not request scan on %v: %v", device.Interface, err)
	}

	c.log.Debugf("Requested scan on %v", device.Interface)

	return nil
}

// Scan requests a scan and waits for the daemon to report completion.
// A scan already in flight is joined instead of failed.
func (c *Coordinator) Scan(ctx context.Context, device *devices.Device) error {
	err := c.RequestScan(device)
	if err != nil && !wifierr.Is(err, wifierr.Busy) {
		return err
	}

	return c.waitScan(ctx, device)
}

func (c *Coordinator) waitScan(ctx context.Context, device *devices.Device) error {
	c.mu.Lock()
	t, ok := c.tables[device.Path]
	if !ok || !t.scanning {
		c.mu.Unlock()
		return nil
	}

	done := make(chan struct{})
	t.waiters = append(t.waiters, done)
	c.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot returns the current access point set for the device,
// strongest first, most recently seen winning ties. Expired entries
// are pruned here rather than by a background sweep.
func (c *Coordinator) Snapshot(device *devices.Device) ([]*AccessPoint, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	t, ok := c.tables[device.Path]
	if !ok {
		return nil, wifierr.Ef(wifierr.NotFound, "device %v is not tracked", device.Interface)
	}

	c.pruneLocked(t)

	snapshot := make([]*AccessPoint, 0, len(t.aps))
	for _, ap := range t.aps {
		copied := *ap
		copied.SSID = append([]byte(nil), ap.SSID...)
		snapshot = append(snapshot, &copied)
	}

	sort.Slice(snapshot, func(i, j int) bool {
		if snapshot[i].Strength != snapshot[j].Strength {
			return snapshot[i].Strength > snapshot[j].Strength
		}
		return snapshot[i].LastSeen.After(snapshot[j].LastSeen)
	})

	return snapshot, nil
}

// FindBySSID returns the strongest current access point carrying the
// given SSID.
func (c *Coordinator) FindBySSID(device *devices.Device, ssid string) (*AccessPoint, error) {
	snapshot, err := c.Snapshot(device)
	if err != nil {
		return nil, err
	}

	for _, ap := range snapshot {
		if ap.SSIDString() == ssid {
			return ap, nil
		}
	}

	return nil, wifierr.Ef(wifierr.NotFound, "no access point with SSID %q in sight", ssid)
}

func (c *Coordinator) pruneLocked(t *table) {
	deadline := c.now().Add(-c.maxAge)

	for bssid, ap := range t.aps {
		if ap.LastSeen.After(deadline) {
			continue
		}

		delete(t.aps, bssid)
		delete(t.byPath, ap.Path)

		if watcher, ok := t.watchers[ap.Path]; ok {
			watcher.Cancel()
			delete(t.watchers, ap.Path)
		}

		c.log.Debugf("Expired access point %v (%v)", ap.SSIDString(), bssid)
	}
}

func (c *Coordinator) drainDevice(devicePath string, client *transport.SignalClient) {
	for signal := range client.Signals {
		switch signal.Name {
		case nm.SignalAccessPointAdded:
			if len(signal.Body) < 1 {
				continue
			}
			if path, ok := transport.String(signal.Body[0]); ok {
				c.applyAccessPoint(devicePath, path)
			}
		case nm.SignalAccessPointRemoved:
			if len(signal.Body) < 1 {
				continue
			}
			if path, ok := transport.String(signal.Body[0]); ok {
				c.removeAccessPoint(devicePath, path)
			}
		case nm.SignalPropertiesChanged:
			if len(signal.Body) < 2 {
				continue
			}
			iface, _ := transport.String(signal.Body[0])
			if iface != nm.WirelessIface {
				continue
			}
			changed, ok := signal.Body[1].(map[string]interface{})
			if !ok {
				continue
			}
			if _, ok := changed["LastScan"]; ok {
				c.finishScan(devicePath)
			}
		}
	}
}

// drainAccessPoint applies live property updates (signal strength) for
// one access point.
func (c *Coordinator) drainAccessPoint(devicePath, apPath string, client *transport.SignalClient) {
	for signal := range client.Signals {
		if signal.Name != nm.SignalPropertiesChanged || len(signal.Body) < 2 {
			continue
		}

		iface, _ := transport.String(signal.Body[0])
		if iface != nm.AccessPointIface {
			continue
		}

		changed, ok := signal.Body[1].(map[string]interface{})
		if !ok {
			continue
		}

		c.mu.Lock()
		t, tracked := c.tables[devicePath]
		if !tracked {
			c.mu.Unlock()
			continue
		}

		bssid, known := t.byPath[apPath]
		if !known {
			c.mu.Unlock()
			continue
		}

		ap := t.aps[bssid]
		if strength, ok := transport.Uint8(changed["Strength"]); ok {
			ap.Strength = strength
		}
		ap.LastSeen = c.now()
		c.mu.Unlock()
	}
}

// applyAccessPoint reads an access point object and merges it into the
// table. Merging is last-writer-wins per BSSID: a later sighting only
// supersedes the entry it re-reports.
func (c *Coordinator) applyAccessPoint(devicePath, apPath string) {
	props, err := c.tr.GetAll(apPath, nm.AccessPointIface)
	if err != nil {
		c.log.Debugf("Could not read access point %v: %v", apPath, err)
		return
	}

	bssid, ok := transport.String(props["HwAddress"])
	if !ok || bssid == "" {
		c.log.Debugf("Access point %v is missing its BSSID", apPath)
		return
	}

	ap := &AccessPoint{
		Path:     apPath,
		BSSID:    bssid,
		LastSeen: c.now(),
	}

	if ssid, ok := transport.Bytes(props["Ssid"]); ok {
		ap.SSID = ssid
	}
	if strength, ok := transport.Uint8(props["Strength"]); ok {
		ap.Strength = strength
	}
	if frequency, ok := transport.Uint32(props["Frequency"]); ok {
		ap.Frequency = frequency
	}
	if flags, ok := transport.Uint32(props["Flags"]); ok {
		ap.Flags = flags
	}
	if wpaFlags, ok := transport.Uint32(props["WpaFlags"]); ok {
		ap.WPAFlags = wpaFlags
	}
	if rsnFlags, ok := transport.Uint32(props["RsnFlags"]); ok {
		ap.RSNFlags = rsnFlags
	}

	c.mu.Lock()
	t, tracked := c.tables[devicePath]
	if !tracked {
		c.mu.Unlock()
		return
	}

	if previous, ok := t.aps[bssid]; ok && previous.Path != apPath {
		// the daemon replaced the object backing this BSSID
		delete(t.byPath, previous.Path)
		if watcher, ok := t.watchers[previous.Path]; ok {
			watcher.Cancel()
			delete(t.watchers, previous.Path)
		}
	}

	_, watched := t.watchers[apPath]
	t.aps[bssid] = ap
	t.byPath[apPath] = bssid
	c.mu.Unlock()

	if !watched {
		watcher, err := c.tr.Subscribe(apPath)
		if err != nil {
			c.log.Debugf("Could not watch access point %v: %v", apPath, err)
			return
		}

		c.mu.Lock()
		t.watchers[apPath] = watcher
		c.mu.Unlock()

		go c.drainAccessPoint(devicePath, apPath, watcher)
	}
}

func (c *Coordinator) removeAccessPoint(devicePath, apPath string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	t, tracked := c.tables[devicePath]
	if !tracked {
		return
	}

	bssid, known := t.byPath[apPath]
	if !known {
		return
	}

	delete(t.aps, bssid)
	delete(t.byPath, apPath)

	if watcher, ok := t.watchers[apPath]; ok {
		watcher.Cancel()
		delete(t.watchers, apPath)
	}
}

func (c *Coordinator) finishScan(devicePath string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	t, tracked := c.tables[devicePath]
	if !tracked || !t.scanning {
		return
	}

	t.scanning = false
	for _, done := range t.waiters {
		close(done)
	}
	t.waiters = nil

	c.log.Debugf("Scan finished on %v", t.device.Interface)
}
