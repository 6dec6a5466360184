package nm

import (
	"github.com/go-errors/errors"
	"github.com/godbus/dbus/v5"
)

// AgentManagerPath is where agents register with the daemon.
const AgentManagerPath = "/org/freedesktop/NetworkManager/AgentManager"

// agentIdentifier names this agent towards the daemon.
const agentIdentifier = "io.netglass.wifictl"

// SecretStore hands out the secret of an in-flight activation attempt.
type SecretStore interface {
	ActiveSecret(profileUUID string) (string, bool)
}

// Agent is the D-Bus side of the secret agent: it exports the agent
// object on the bus and answers the daemon's secret requests from the
// store's live leases.
type Agent struct {
	tr    *Transport
	store SecretStore
	log   Logger
}

type AgentConfig struct {
	Transport *Transport
	Store     SecretStore
	Logger    Logger
}

func NewAgent(config *AgentConfig) *Agent {
	agent := &Agent{
		tr:    config.Transport,
		store: config.Store,
	}

	if config.Logger != nil {
		agent.log = config.Logger
	} else {
		agent.log = noopLogger{}
	}

	return agent
}

// Register exports the agent object and announces it to the daemon.
// From then on the daemon routes secret requests for profiles this
// process activates to us.
func (a *Agent) Register() error {
	export := agentExport{agent: a}

	err := a.tr.conn.Export(export, dbus.ObjectPath(AgentPath), AgentIface)
	if err != nil {
		return errors.Errorf("could not export secret agent: %v", err)
	}

	_, err = a.tr.Call(AgentManagerPath, MethodRegisterAgent, agentIdentifier)
	if err != nil {
		return errors.Errorf("could not register secret agent: %v", err)
	}

	a.log.Infof("Registered secret agent as %v", agentIdentifier)

	return nil
}

func (a *Agent) Unregister() error {
	_, err := a.tr.Call(AgentManagerPath, MethodUnregisterAgent)
	if err != nil {
		return errors.Errorf("could not unregister secret agent: %v", err)
	}

	return nil
}

type agentExport struct {
	agent *Agent
}

func (e agentExport) GetSecrets(settings map[string]map[string]dbus.Variant, path dbus.ObjectPath, settingName string, hints []string, flags uint32) (map[string]map[string]dbus.Variant, *dbus.Error) {
	profileUUID := ""
	if connection, ok := settings["connection"]; ok {
		if value, ok := connection["uuid"]; ok {
			profileUUID, _ = value.Value().(string)
		}
	}

	secret, ok := e.agent.store.ActiveSecret(profileUUID)
	if !ok {
		e.agent.log.Warnf("No live secret for profile %v", profileUUID)
		return nil, dbus.NewError(AgentIface+".NoSecrets", nil)
	}

	e.agent.log.Debugf("Answering secret request for profile %v (%v)", profileUUID, settingName)

	return map[string]map[string]dbus.Variant{
		settingName: {
			"psk": dbus.MakeVariant(secret),
		},
	}, nil
}

func (e agentExport) CancelGetSecrets(path dbus.ObjectPath, settingName string) *dbus.Error {
	return nil
}

func (e agentExport) SaveSecrets(settings map[string]map[string]dbus.Variant, path dbus.ObjectPath) *dbus.Error {
	return nil
}

func (e agentExport) DeleteSecrets(settings map[string]map[string]dbus.Variant, path dbus.ObjectPath) *dbus.Error {
	return nil
}
