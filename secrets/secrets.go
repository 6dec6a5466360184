// Package secrets implements the agent answering credential requests.
// Secrets live in leases scoped to a single activation attempt and in
// a bounded in-process cache; nothing is ever written to durable
// storage by this package.
package secrets

import (
	"context"
	"sync"

	"github.com/go-errors/errors"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/netglass/wifictl/wifierr"
	"github.com/zalando/go-keyring"
)

// DefaultCacheSize bounds the in-process secret cache.
const DefaultCacheSize = 64

// ErrDeclined is returned by a Prompter when the user refuses to
// supply a credential.
var ErrDeclined = errors.New("credential request declined")

// Prompter asks the user for the credential of one network.
type Prompter func(ssid string) (string, error)

// Request identifies one credential demand during an activation attempt.
type Request struct {
	ProfileUUID string
	SSID        string
	Setting     string
	// Provided carries a credential the caller supplied up front, if any.
	Provided string
}

// Lease holds a resolved secret for the duration of one activation
// attempt. Release wipes it and must run on every exit path of the
// attempt, including cancellation.
type Lease struct {
	mu       sync.Mutex
	secret   []byte
	released bool
	onClose  func()
}

func (l *Lease) Secret() string {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.released {
		return ""
	}

	return string(l.secret)
}

func (l *Lease) Release() {
	l.mu.Lock()
	released := l.released
	l.released = true
	for i := range l.secret {
		l.secret[i] = 0
	}
	l.secret = nil
	l.mu.Unlock()

	if !released && l.onClose != nil {
		l.onClose()
	}
}

type Config struct {
	Prompter Prompter
	// Keyring enables the read-only OS keyring source.
	Keyring        bool
	KeyringService string
	CacheSize      int
	Logger         Logger
}

type Agent struct {
	log     Logger
	prompt  Prompter
	keyring bool
	service string
	cache   *lru.Cache[string, string]

	mu     sync.Mutex
	leases map[string]*Lease
}

func New(config *Config) (*Agent, error) {
	size := config.CacheSize
	if size == 0 {
		size = DefaultCacheSize
	}

	cache, err := lru.New[string, string](size)
	if err != nil {
		return nil, errors.Errorf("could not create secret cache: %v", err)
	}

	agent := &Agent{
		prompt:  config.Prompter,
		keyring: config.Keyring,
		service: config.KeyringService,
		cache:   cache,
		leases:  make(map[string]*Lease),
	}

	if agent.service == "" {
		agent.service = "wifictl"
	}

	if config.Logger != nil {
		agent.log = config.Logger
	} else {
		agent.log = noopLogger{}
	}

	return agent, nil
}

// Acquire resolves a secret for one activation attempt, consulting in
// order: the caller-provided credential, the process cache, the OS
// keyring, the interactive prompt. A refusal at the end of the chain
// fails with SecretUnavailable and is never retried here.
func (a *Agent) Acquire(ctx context.Context, req *Request) (*Lease, error) {
	secret, err := a.resolve(ctx, req)
	if err != nil {
		return nil, err
	}

	a.cache.Add(req.SSID, secret)

	lease := &Lease{
		secret: []byte(secret),
	}
	lease.onClose = func() {
		a.mu.Lock()
		defer a.mu.Unlock()

		if a.leases[req.ProfileUUID] == lease {
			delete(a.leases, req.ProfileUUID)
		}
	}

	a.mu.Lock()
	a.leases[req.ProfileUUID] = lease
	a.mu.Unlock()

	return lease, nil
}

func (a *Agent) resolve(ctx context.Context, req *Request) (string, error) {
	if req.Provided != "" {
		return req.Provided, nil
	}

	if secret, ok := a.cache.Get(req.SSID); ok {
		a.log.Debugf("Resolved secret for %q from cache", req.SSID)
		return secret, nil
	}

	if a.keyring {
		secret, err := keyring.Get(a.service, req.SSID)
		if err == nil && secret != "" {
			a.log.Debugf("Resolved secret for %q from keyring", req.SSID)
			return secret, nil
		}
		if err != nil && err != keyring.ErrNotFound {
			a.log.Warnf("Keyring lookup for %q failed: %v", req.SSID, err)
		}
	}

	if a.prompt == nil {
		return "", wifierr.Ef(wifierr.SecretUnavailable, "no credential source for %q", req.SSID)
	}

	type answer struct {
		secret string
		err    error
	}

	answers := make(chan answer, 1)

	go func() {
		secret, err := a.prompt(req.SSID)
		answers <- answer{secret: secret, err: err}
	}()

	select {
	case an := <-answers:
		if an.err == ErrDeclined {
			return "", wifierr.Ef(wifierr.SecretUnavailable, "credential for %q was declined", req.SSID)
		}
		if an.err != nil {
			return "", wifierr.E(wifierr.SecretUnavailable, an.err)
		}
		if an.secret == "" {
			return "", wifierr.Ef(wifierr.SecretUnavailable, "empty credential for %q", req.SSID)
		}
		return an.secret, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// ActiveSecret hands the live lease's secret to the daemon-facing
// agent. It only answers for profiles with an in-flight attempt.
func (a *Agent) ActiveSecret(profileUUID string) (string, bool) {
	a.mu.Lock()
	lease, ok := a.leases[profileUUID]
	a.mu.Unlock()

	if !ok {
		return "", false
	}

	secret := lease.Secret()
	if secret == "" {
		return "", false
	}

	return secret, true
}

// Forget drops a cached credential, e.g. after an authentication failure.
func (a *Agent) Forget(ssid string) {
	a.cache.Remove(ssid)
}
