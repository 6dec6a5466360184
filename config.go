package main

import (
	"time"

	"github.com/jessevdk/go-flags"
)

type config struct {
	ShowVersion bool   `long:"version" description:"Display version information and exit"`
	Debug       bool   `long:"debug" description:"Start in debug mode"`
	DataDir     string `long:"datadir" default:"." description:"Directory where the local state database lives"`

	Transport string        `long:"transport" default:"dbus" choice:"dbus" choice:"mock" description:"Daemon transport to use"`
	Device    string        `long:"device" description:"Wireless device to operate on (object path or interface name)"`
	Timeout   time.Duration `long:"timeout" default:"45s" description:"How long to wait for a terminal activation signal"`
	MaxAge    time.Duration `long:"maxage" default:"3m" description:"How long an unseen access point stays listed"`
	Keyring   bool          `long:"keyring" description:"Look up credentials in the OS keyring before prompting"`

	Psk    string `long:"psk" description:"Credential for the network to connect to"`
	Hidden bool   `long:"hidden" description:"Connect to a network that does not broadcast its SSID"`
	Rescan bool   `long:"rescan" description:"Request a fresh scan before listing networks"`

	Listen string `long:"listen" default:"localhost:9386" description:"Listen address of the HTTP api (serve)"`
}

// loadConfig parses CLI flags and returns the configuration together
// with the remaining positional operation arguments.
func loadConfig() (*config, []string, error) {
	cfg := &config{}

	parser := flags.NewParser(cfg, flags.Default)
	parser.Usage = "[options] <connect|disconnect|networks|status|serve> [args]"

	args, err := parser.Parse()
	if err != nil {
		return nil, nil, err
	}

	return cfg, args, nil
}
