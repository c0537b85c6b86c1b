// Warden - Upload Abuse Detection and Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warden

package store

import (
	"errors"

	"github.com/tomtom215/warden/internal/models"
)

// Appeal returns the appeal with id.
func (tx *Tx) Appeal(id string) (*models.Appeal, error) {
	var a models.Appeal
	if err := tx.getJSON(prefixAppeal+id, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// PutAppeal writes a and keeps the status and pending indexes in step with
// prevStatus, the status a had before this write ("" for a new appeal).
func (tx *Tx) PutAppeal(a *models.Appeal, prevStatus models.AppealStatus) error {
	if err := tx.setJSON(prefixAppeal+a.ID, a); err != nil {
		return err
	}
	if prevStatus != "" && prevStatus != a.Status {
		if err := tx.delete(join(prefixAppealStatus, string(prevStatus), a.ID)); err != nil {
			return err
		}
	}
	if err := tx.set(join(prefixAppealStatus, string(a.Status), a.ID), ""); err != nil {
		return err
	}

	if a.Status == models.AppealPending {
		return tx.set(prefixAppealPending+a.BlockedContentID, a.ID)
	}
	pending, err := tx.getString(prefixAppealPending + a.BlockedContentID)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if pending == a.ID {
		return tx.delete(prefixAppealPending + a.BlockedContentID)
	}
	return nil
}

// PendingAppealFor returns the id of the pending appeal for contentID, or ""
// when there is none.
func (tx *Tx) PendingAppealFor(contentID string) (string, error) {
	id, err := tx.getString(prefixAppealPending + contentID)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	return id, err
}

// AppealsByStatus returns up to limit appeals with status, oldest first.
// A limit of zero or less means no limit.
func (tx *Tx) AppealsByStatus(status models.AppealStatus, limit int) ([]models.Appeal, error) {
	var ids []string
	err := tx.scanKeys(under(prefixAppealStatus, string(status)), func(suffix string) error {
		if limit > 0 && len(ids) >= limit {
			return errStopScan
		}
		ids = append(ids, suffix)
		return nil
	})
	if err != nil && !errors.Is(err, errStopScan) {
		return nil, err
	}

	out := make([]models.Appeal, 0, len(ids))
	for _, id := range ids {
		a, err := tx.Appeal(id)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, nil
}

var errStopScan = errors.New("stop scan")
