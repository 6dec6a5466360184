package transport

import (
	"sync"

	"github.com/go-errors/errors"
)

// check Mock compliance to its interface during compile time
var _ Transport = (*Mock)(nil)

// CallHandler answers a single method call on the mock daemon.
type CallHandler func(args ...interface{}) ([]interface{}, error)

// CallRecord is one method call observed by the mock daemon.
type CallRecord struct {
	Path   string
	Method string
	Args   []interface{}
}

// Mock is an in-memory stand-in for the daemon side of the transport.
// Tests and the --transport=mock mode script it with properties, call
// handlers and emitted signals.
type Mock struct {
	mu       sync.Mutex
	props    map[string]map[string]map[string]interface{}
	handlers map[string]CallHandler
	subs     map[string][]*mockSub
	calls    []CallRecord
	nextSub  uint32
	closed   bool
}

type mockSub struct {
	id uint32
	ch chan *Signal
}

func NewMock() *Mock {
	return &Mock{
		props:    make(map[string]map[string]map[string]interface{}),
		handlers: make(map[string]CallHandler),
		subs:     make(map[string][]*mockSub),
	}
}

// SetProperty sets one property on the object at path.
func (m *Mock) SetProperty(path, iface, name string, value interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ifaces, ok := m.props[path]
	if !ok {
		ifaces = make(map[string]map[string]interface{})
		m.props[path] = ifaces
	}

	props, ok := ifaces[iface]
	if !ok {
		props = make(map[string]interface{})
		ifaces[iface] = props
	}

	props[name] = value
}

// SetProperties replaces all properties of one interface on the object at path.
func (m *Mock) SetProperties(path, iface string, props map[string]interface{}) {
	for name, value := range props {
		m.SetProperty(path, iface, name, value)
	}
}

// RemoveObject drops the object at path and all its properties.
func (m *Mock) RemoveObject(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.props, path)
}

// Handle installs the handler answering method calls on the object at path.
func (m *Mock) Handle(path, method string, handler CallHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.handlers[path+"\x00"+method] = handler
}

// Emit delivers a signal to all subscribers of the object at path, in
// emission order.
func (m *Mock) Emit(path, name string, body ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()

	signal := &Signal{Path: path, Name: name, Body: body}

	for _, sub := range m.subs[path] {
		select {
		case sub.ch <- signal:
		default:
			// subscriber stopped draining, drop rather than block the daemon
		}
	}
}

// CallCount returns how many calls of the given method the mock observed,
// across all objects.
func (m *Mock) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for _, record := range m.calls {
		if record.Method == method {
			count++
		}
	}

	return count
}

// Calls returns a copy of all observed calls.
func (m *Mock) Calls() []CallRecord {
	m.mu.Lock()
	defer m.mu.Unlock()

	calls := make([]CallRecord, len(m.calls))
	copy(calls, m.calls)

	return calls
}

func (m *Mock) Call(path string, method string, args ...interface{}) ([]interface{}, error) {
	m.mu.Lock()
	handler, ok := m.handlers[path+"\x00"+method]
	m.calls = append(m.calls, CallRecord{Path: path, Method: method, Args: args})
	m.mu.Unlock()

	if !ok {
		return nil, errors.Errorf("no handler for %v on %v", method, path)
	}

	return handler(args...)
}

func (m *Mock) GetProperty(path string, iface string, name string) (interface{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ifaces, ok := m.props[path]
	if !ok {
		return nil, errors.Errorf("unknown object %v", path)
	}

	props, ok := ifaces[iface]
	if !ok {
		return nil, errors.Errorf("unknown interface %v on %v", iface, path)
	}

	value, ok := props[name]
	if !ok {
		return nil, errors.Errorf("unknown property %v on %v", name, path)
	}

	return value, nil
}

func (m *Mock) GetAll(path string, iface string) (map[string]interface{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ifaces, ok := m.props[path]
	if !ok {
		return nil, errors.Errorf("unknown object %v", path)
	}

	props, ok := ifaces[iface]
	if !ok {
		return nil, errors.Errorf("unknown interface %v on %v", iface, path)
	}

	all := make(map[string]interface{}, len(props))
	for name, value := range props {
		all[name] = value
	}

	return all, nil
}

func (m *Mock) Subscribe(path string) (*SignalClient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, errors.Errorf("transport is closed")
	}

	sub := &mockSub{
		id: m.nextSub,
		ch: make(chan *Signal, 128),
	}
	m.nextSub++

	m.subs[path] = append(m.subs[path], sub)

	return &SignalClient{
		Signals: sub.ch,
		Cancel: func() {
			m.mu.Lock()
			defer m.mu.Unlock()

			subs := m.subs[path]
			for i, s := range subs {
				if s.id == sub.id {
					m.subs[path] = append(subs[:i], subs[i+1:]...)
					close(s.ch)
					break
				}
			}
		},
	}, nil
}

func (m *Mock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true

	for path, subs := range m.subs {
		for _, sub := range subs {
			close(sub.ch)
		}
		delete(m.subs, path)
	}

	return nil
}
