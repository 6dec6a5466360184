package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"

	"github.com/jessevdk/go-flags"
	"github.com/netglass/wifictl/api"
	"github.com/netglass/wifictl/connector"
	"github.com/netglass/wifictl/devices"
	"github.com/netglass/wifictl/nm"
	"github.com/netglass/wifictl/profiles"
	"github.com/netglass/wifictl/scanner"
	"github.com/netglass/wifictl/secrets"
	"github.com/netglass/wifictl/transport"
	"github.com/netglass/wifictl/wifidb"
	"github.com/netglass/wifictl/wifierr"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/term"
)

var (
	// Commit stores the current commit hash of this build. This should be set using -ldflags during compilation.
	Commit string
	// Version stores the version string of this build. This should be set using -ldflags during compilation.
	Version string
)

// wifictlMain is the true entry point for wifictl. This is required
// since defers created in the top-level scope of a main method aren't
// executed if os.Exit() is called.
func wifictlMain() error {
	log.SetOutput(os.Stdout)
	log.SetLevel(log.WarnLevel)

	// Load CLI configuration and defaults
	cfg, args, err := loadConfig()
	if e, ok := err.(*flags.Error); ok && e.Type == flags.ErrHelp {
		return nil
	} else if err != nil {
		return errors.Errorf("Failed parsing arguments: %v", err)
	}

	// Set logger into debug mode if called with --debug
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
		log.Info("Setting debug mode.")
	}

	if cfg.ShowVersion {
		fmt.Printf("wifictl %s (commit %s)\n", Version, Commit)
		return nil
	}

	op := "status"
	if len(args) > 0 {
		op = args[0]
	}

	// wifictl.db stores attempt history and local preferences, never
	// secrets and never profiles
	db, err := wifidb.Open(cfg.DataDir)
	if err != nil {
		return errors.Errorf("Could not open wifictl.db: %v", err)
	}

	defer func() {
		err := db.Close()
		if err != nil {
			log.Errorf("Could not close wifictl.db: %v", err)
		}
	}()

	// The transport carrying every call and signal from the daemon
	var tr transport.Transport
	var busTransport *nm.Transport

	switch cfg.Transport {
	case "dbus":
		busTransport = nm.New(&nm.Config{
			Logger: log.New().WithField("system", "nm"),
		})

		err = busTransport.Start()
		if err != nil {
			return errors.Errorf("Could not reach the network daemon: %v", err)
		}

		tr = busTransport

		log.Debug("Connected to the system bus.")
	case "mock":
		tr = buildMockTransport()

		log.Debug("Created a mock daemon.")
	default:
		return errors.Errorf("Unknown transport type %v", cfg.Transport)
	}

	defer func() {
		err := tr.Close()
		if err != nil {
			log.Errorf("Could not close transport: %v", err)
		}
	}()

	registry := devices.NewRegistry(&devices.Config{
		Transport: tr,
		Logger:    log.New().WithField("system", "devices"),
	})

	err = registry.Start()
	if err != nil {
		return errors.Errorf("Could not enumerate devices: %v", err)
	}

	defer func() {
		err := registry.Stop()
		if err != nil {
			log.Errorf("Could not stop device registry: %v", err)
		}
	}()

	scans := scanner.NewCoordinator(&scanner.Config{
		Transport: tr,
		MaxAge:    cfg.MaxAge,
		Logger:    log.New().WithField("system", "scanner"),
	})

	defer func() {
		err := scans.Stop()
		if err != nil {
			log.Errorf("Could not stop scan coordinator: %v", err)
		}
	}()

	profileManager := profiles.NewManager(&profiles.Config{
		Transport: tr,
		Logger:    log.New().WithField("system", "profiles"),
	})

	prompter := secrets.TerminalPrompter(os.Stdin, os.Stderr)
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		prompter = secrets.RefusingPrompter()
	}

	agent, err := secrets.New(&secrets.Config{
		Prompter: prompter,
		Keyring:  cfg.Keyring,
		Logger:   log.New().WithField("system", "secrets"),
	})
	if err != nil {
		return errors.Errorf("Could not create secret agent: %v", err)
	}

	// Only a real daemon can route secret requests back to us
	if busTransport != nil {
		busAgent := nm.NewAgent(&nm.AgentConfig{
			Transport: busTransport,
			Store:     agent,
			Logger:    log.New().WithField("system", "agent"),
		})

		err = busAgent.Register()
		if err != nil {
			log.Warnf("Could not register secret agent: %v", err)
		} else {
			defer func() {
				err := busAgent.Unregister()
				if err != nil {
					log.Errorf("Could not unregister secret agent: %v", err)
				}
			}()
		}
	}

	conn := connector.New(&connector.Config{
		Transport: tr,
		Registry:  registry,
		Scanner:   scans,
		Profiles:  profileManager,
		Secrets:   agent,
		DB:        db,
		Timeout:   cfg.Timeout,
		Logger:    log.New().WithField("system", "connector"),
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	switch op {
	case "connect":
		if len(args) < 2 {
			return errors.Errorf("Usage: wifictl connect <ssid>")
		}

		err := conn.Connect(ctx, &connector.Target{
			SSID:   args[1],
			Device: cfg.Device,
			Secret: cfg.Psk,
			Hidden: cfg.Hidden,
		})
		if err != nil {
			return describeFailure(args[1], err)
		}

		fmt.Printf("Connected to %q.\n", args[1])

	case "disconnect":
		err := conn.Disconnect(ctx, cfg.Device)
		if err != nil {
			return err
		}

		fmt.Println("Disconnected.")

	case "networks":
		networks, err := conn.Networks(ctx, cfg.Device, cfg.Rescan)
		if err != nil {
			return err
		}

		for _, network := range networks {
			inUse := " "
			if network.Connected {
				inUse = "*"
			}

			security := "open"
			if network.Secured {
				security = "secured"
			}

			fmt.Printf("%s %-32q %3d%%  %5d MHz  %s\n", inUse, network.SSID, network.Strength, network.Frequency, security)
		}

	case "status":
		status, err := conn.Status(cfg.Device)
		if err != nil {
			return err
		}

		fmt.Printf("Device:  %s (%s)\n", status.Device, status.DeviceState)
		fmt.Printf("Attempt: %s\n", status.State)
		if status.SSID != "" {
			fmt.Printf("Network: %q\n", status.SSID)
		}
		if status.Error != "" {
			fmt.Printf("Error:   %s\n", status.Error)
		}

		if status.SSID != "" {
			if history, err := db.GetHistory(status.SSID); err == nil && history != nil {
				fmt.Printf("History: %d attempt(s), last %s at %s\n",
					history.Attempts, history.LastOutcome, history.LastAt.Format("2006-01-02 15:04:05"))
			}
		}

	case "serve":
		server := api.New(&api.Config{
			Log: log.New().WithField("system", "api"),
		})
		server.SetConnector(conn)

		listener, err := net.Listen("tcp", cfg.Listen)
		if err != nil {
			return errors.Errorf("Could not listen on %v: %v", cfg.Listen, err)
		}

		log.Infof("Serving api on %v", cfg.Listen)

		go func() {
			<-ctx.Done()
			_ = listener.Close()
		}()

		err = server.Serve(listener)
		if err != nil && ctx.Err() == nil {
			return err
		}

	default:
		return errors.Errorf("Unknown operation %v", op)
	}

	return nil
}

// describeFailure turns a taxonomy error into a caller-friendly message.
func describeFailure(ssid string, err error) error {
	kind, ok := wifierr.KindOf(err)
	if !ok {
		return err
	}

	switch kind {
	case wifierr.NotFound:
		return errors.Errorf("Could not find %q: %v", ssid, err)
	case wifierr.SecretUnavailable:
		return errors.Errorf("No credential for %q: %v", ssid, err)
	case wifierr.Timeout:
		return errors.Errorf("Connecting to %q timed out: %v", ssid, err)
	default:
		return err
	}
}

func main() {
	// Call the "real" main in a nested manner so the defers will properly
	// be executed in the case of a graceful shutdown.
	if err := wifictlMain(); err != nil {
		if e, ok := err.(*flags.Error); ok && e.Type == flags.ErrHelp {
		} else {
			log.WithError(err).Println("Failed running wifictl.")
		}
		os.Exit(1)
	}
}
