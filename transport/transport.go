// Package transport defines the boundary to the network-management
// daemon: object-addressed method calls, typed properties and
// per-object ordered signal subscriptions. The daemon itself is an
// external collaborator and is never reimplemented here.
package transport

// Signal is a single daemon-emitted event for one object. Name carries
// the fully qualified member, e.g.
// "org.freedesktop.NetworkManager.Device.StateChanged".
type Signal struct {
	Path string
	Name string
	Body []interface{}
}

// SignalClient delivers signals for one object in the order the daemon
// emitted them. Cancel unregisters the interest and closes Signals.
type SignalClient struct {
	Signals <-chan *Signal
	Cancel  func()
}

type Transport interface {
	// Call invokes a fully qualified method on the object at path and
	// returns the reply body.
	Call(path string, method string, args ...interface{}) ([]interface{}, error)

	// GetProperty reads a single property of the given interface.
	GetProperty(path string, iface string, name string) (interface{}, error)

	// GetAll reads all properties of the given interface.
	GetAll(path string, iface string) (map[string]interface{}, error)

	// Subscribe registers interest in all signals originating from the
	// object at path.
	Subscribe(path string) (*SignalClient, error)

	Close() error
}
