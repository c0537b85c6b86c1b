// Warden - Upload Abuse Detection and Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warden

package store

import (
	"errors"

	"github.com/tomtom215/warden/internal/models"
)

// Device returns the record for (userID, fingerprint).
func (tx *Tx) Device(userID, fingerprint string) (*models.DeviceRecord, error) {
	var d models.DeviceRecord
	if err := tx.getJSON(join(prefixDevice, userID, fingerprint), &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// UpsertDevice writes d keyed by (UserID, Fingerprint). FirstSeen is kept
// from any existing record, and the IP index moves with the address.
func (tx *Tx) UpsertDevice(d *models.DeviceRecord) error {
	prev, err := tx.Device(d.UserID, d.Fingerprint)
	switch {
	case errors.Is(err, ErrNotFound):
		if d.FirstSeen.IsZero() {
			d.FirstSeen = d.LastSeen
		}
	case err != nil:
		return err
	default:
		d.FirstSeen = prev.FirstSeen
		if prev.IPAddress != "" && prev.IPAddress != d.IPAddress {
			if err := tx.delete(join(prefixDeviceIP, prev.IPAddress, d.UserID, d.Fingerprint)); err != nil {
				return err
			}
		}
	}

	if err := tx.setJSON(join(prefixDevice, d.UserID, d.Fingerprint), d); err != nil {
		return err
	}
	if err := tx.set(join(prefixDeviceFP, d.Fingerprint, d.UserID), ""); err != nil {
		return err
	}
	if d.IPAddress != "" {
		if err := tx.set(join(prefixDeviceIP, d.IPAddress, d.UserID, d.Fingerprint), ""); err != nil {
			return err
		}
	}
	return nil
}

// Devices returns every device recorded for the user.
func (tx *Tx) Devices(userID string) ([]models.DeviceRecord, error) {
	var out []models.DeviceRecord
	err := scanJSON(tx, under(prefixDevice, userID), func(d *models.DeviceRecord) error {
		out = append(out, *d)
		return nil
	})
	return out, err
}

// UsersByFingerprint returns the users seen with fingerprint.
func (tx *Tx) UsersByFingerprint(fingerprint string) ([]string, error) {
	if fingerprint == "" {
		return nil, nil
	}
	var users []string
	err := tx.scanKeys(under(prefixDeviceFP, fingerprint), func(suffix string) error {
		users = append(users, suffix)
		return nil
	})
	return users, err
}

// UsersByIP returns the users whose devices were last seen at ip.
func (tx *Tx) UsersByIP(ip string) ([]string, error) {
	if ip == "" {
		return nil, nil
	}
	seen := make(map[string]struct{})
	var users []string
	err := tx.scanKeys(under(prefixDeviceIP, ip), func(suffix string) error {
		parts := splitKey(suffix)
		if _, dup := seen[parts[0]]; !dup {
			seen[parts[0]] = struct{}{}
			users = append(users, parts[0])
		}
		return nil
	})
	return users, err
}
