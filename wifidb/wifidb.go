// Package wifidb persistently stores local tool state: per-network
// attempt history and the preferred device. It never stores secrets
// and never stores connection profiles; the daemon owns those.
package wifidb

import (
	"path/filepath"
	"time"

	"github.com/go-errors/errors"
	"go.etcd.io/bbolt"
)

var (
	historyBucket  = []byte("history")
	settingsBucket = []byte("settings")

	preferredDeviceKey = []byte("preferredDevice")
)

type DB struct {
	*bbolt.DB
}

// History is the remembered outcome trail for one network.
type History struct {
	SSID        string    `json:"ssid"`
	Attempts    int       `json:"attempts"`
	LastOutcome string    `json:"lastOutcome"`
	LastError   string    `json:"lastError,omitempty"`
	LastAt      time.Time `json:"lastAt"`
}

func Open(dataDir string) (*DB, error) {
	db, err := bbolt.Open(filepath.Join(dataDir, "wifictl.db"), 0600, &bbolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, errors.Errorf("could not open wifictl.db: %v", err)
	}

	return &DB{DB: db}, nil
}

func (db *DB) Close() error {
	return db.DB.Close()
}

// RecordAttempt folds one terminal attempt outcome into the network's history.
func (db *DB) RecordAttempt(ssid string, outcome string, attemptErr error) error {
	history := &History{}

	err := db.getJSON(historyBucket, []byte(ssid), history)
	if err != nil {
		return err
	}

	history.SSID = ssid
	history.Attempts++
	history.LastOutcome = outcome
	history.LastAt = time.Now()
	history.LastError = ""
	if attemptErr != nil {
		history.LastError = attemptErr.Error()
	}

	return db.setJSON(historyBucket, []byte(ssid), history)
}

// GetHistory returns the remembered outcomes for one network, or nil
// if the network was never attempted.
func (db *DB) GetHistory(ssid string) (*History, error) {
	history := &History{}

	err := db.getJSON(historyBucket, []byte(ssid), history)
	if err != nil {
		return nil, err
	}

	if history.SSID == "" {
		return nil, nil
	}

	return history, nil
}

func (db *DB) SetPreferredDevice(ifname string) error {
	return db.setJSON(settingsBucket, preferredDeviceKey, ifname)
}

func (db *DB) GetPreferredDevice() (string, error) {
	var ifname string

	err := db.getJSON(settingsBucket, preferredDeviceKey, &ifname)
	if err != nil {
		return "", err
	}

	return ifname, nil
}
