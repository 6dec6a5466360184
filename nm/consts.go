package nm

// D-Bus names of the network-management daemon. These follow the
// NetworkManager D-Bus API.
const (
	Service = "org.freedesktop.NetworkManager"

	ManagerPath  = "/org/freedesktop/NetworkManager"
	SettingsPath = "/org/freedesktop/NetworkManager/Settings"
	AgentPath    = "/org/freedesktop/NetworkManager/SecretAgent"

	ManagerIface      = "org.freedesktop.NetworkManager"
	DeviceIface       = "org.freedesktop.NetworkManager.Device"
	WirelessIface     = "org.freedesktop.NetworkManager.Device.Wireless"
	AccessPointIface  = "org.freedesktop.NetworkManager.AccessPoint"
	SettingsIface     = "org.freedesktop.NetworkManager.Settings"
	ConnectionIface   = "org.freedesktop.NetworkManager.Settings.Connection"
	ActiveIface       = "org.freedesktop.NetworkManager.Connection.Active"
	AgentManagerIface = "org.freedesktop.NetworkManager.AgentManager"
	AgentIface        = "org.freedesktop.NetworkManager.SecretAgent"

	MethodGetDevices         = ManagerIface + ".GetDevices"
	MethodActivate           = ManagerIface + ".ActivateConnection"
	MethodDeactivate         = ManagerIface + ".DeactivateConnection"
	MethodRequestScan        = WirelessIface + ".RequestScan"
	MethodGetAccessPoints    = WirelessIface + ".GetAllAccessPoints"
	MethodDeviceDisconnect   = DeviceIface + ".Disconnect"
	MethodListConnections    = SettingsIface + ".ListConnections"
	MethodAddConnection      = SettingsIface + ".AddConnection"
	MethodGetSettings        = ConnectionIface + ".GetSettings"
	MethodUpdateConnection   = ConnectionIface + ".Update"
	MethodDeleteConnection   = ConnectionIface + ".Delete"
	MethodRegisterAgent      = AgentManagerIface + ".Register"
	MethodUnregisterAgent    = AgentManagerIface + ".Unregister"

	SignalDeviceAdded        = ManagerIface + ".DeviceAdded"
	SignalDeviceRemoved      = ManagerIface + ".DeviceRemoved"
	SignalDeviceStateChanged = DeviceIface + ".StateChanged"
	SignalAccessPointAdded   = WirelessIface + ".AccessPointAdded"
	SignalAccessPointRemoved = WirelessIface + ".AccessPointRemoved"
	SignalPropertiesChanged  = "org.freedesktop.DBus.Properties.PropertiesChanged"
	SignalActiveStateChanged = ActiveIface + ".StateChanged"
	SignalConnectionUpdated  = ConnectionIface + ".Updated"
	SignalConnectionRemoved  = ConnectionIface + ".Removed"
)

// Device types reported through the Device interface's DeviceType property.
const (
	DeviceTypeEthernet uint32 = 1
	DeviceTypeWifi     uint32 = 2
)

// Device states reported through the Device interface.
const (
	DeviceStateUnknown      uint32 = 0
	DeviceStateUnmanaged    uint32 = 10
	DeviceStateUnavailable  uint32 = 20
	DeviceStateDisconnected uint32 = 30
	DeviceStatePrepare      uint32 = 40
	DeviceStateConfig       uint32 = 50
	DeviceStateNeedAuth     uint32 = 60
	DeviceStateIPConfig     uint32 = 70
	DeviceStateIPCheck      uint32 = 80
	DeviceStateSecondaries  uint32 = 90
	DeviceStateActivated    uint32 = 100
	DeviceStateDeactivating uint32 = 110
	DeviceStateFailed       uint32 = 120
)

// Active connection states reported through the Connection.Active interface.
const (
	ActiveStateUnknown      uint32 = 0
	ActiveStateActivating   uint32 = 1
	ActiveStateActivated    uint32 = 2
	ActiveStateDeactivating uint32 = 3
	ActiveStateDeactivated  uint32 = 4
)

// Device state reasons attached to StateChanged signals.
const (
	DeviceReasonNone      uint32 = 0
	DeviceReasonNoSecrets uint32 = 7
)

// Access point capability flag bits.
const (
	ApFlagPrivacy uint32 = 0x1
)

// Secret flag stating that an agent owns the secret and the daemon
// must not persist it.
const SecretFlagAgentOwned uint32 = 0x1
