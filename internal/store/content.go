// Warden - Upload Abuse Detection and Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warden

package store

import (
	"errors"

	"github.com/tomtom215/warden/internal/models"
)

// BlockedHash returns the blocklist entry for hash.
func (tx *Tx) BlockedHash(hash string) (*models.BlockedHash, error) {
	var bh models.BlockedHash
	if err := tx.getJSON(prefixHash+hash, &bh); err != nil {
		return nil, err
	}
	return &bh, nil
}

// PutBlockedHashIfAbsent inserts bh unless the hash is already blocked.
// It reports whether it inserted.
func (tx *Tx) PutBlockedHashIfAbsent(bh *models.BlockedHash) (bool, error) {
	found, err := tx.exists(prefixHash + bh.ContentHash)
	if err != nil || found {
		return false, err
	}
	if err := tx.setJSON(prefixHash+bh.ContentHash, bh); err != nil {
		return false, err
	}
	if bh.ContentID != "" {
		if err := tx.set(prefixHashContent+bh.ContentID, bh.ContentHash); err != nil {
			return false, err
		}
	}
	return true, nil
}

// DeleteBlockedHashForContent removes the blocklist entry created for
// contentID. The hash is only removed while it still points at contentID, so
// an appeal never unblocks a hash first blocked for other content. It
// returns the removed hash, or "" when nothing was removed.
func (tx *Tx) DeleteBlockedHashForContent(contentID string) (string, error) {
	hash, err := tx.getString(prefixHashContent + contentID)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if err := tx.delete(prefixHashContent + contentID); err != nil {
		return "", err
	}

	bh, err := tx.BlockedHash(hash)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if bh.ContentID != contentID {
		return "", nil
	}
	if err := tx.delete(prefixHash + hash); err != nil {
		return "", err
	}
	return hash, nil
}

// DeleteBlockedHash removes hash and the content index of whichever upload
// first blocked it. It reports whether the hash was blocked.
func (tx *Tx) DeleteBlockedHash(hash string) (bool, error) {
	bh, err := tx.BlockedHash(hash)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if bh.ContentID != "" {
		if err := tx.delete(prefixHashContent + bh.ContentID); err != nil {
			return false, err
		}
	}
	if err := tx.delete(prefixHash + hash); err != nil {
		return false, err
	}
	return true, nil
}

// ForEachBlockedHash visits every blocked hash key.
func (tx *Tx) ForEachBlockedHash(fn func(hash string) error) error {
	return tx.scanKeys(prefixHash, fn)
}

// Content returns the record for contentID.
func (tx *Tx) Content(contentID string) (*models.ContentRecord, error) {
	var rec models.ContentRecord
	if err := tx.getJSON(prefixContent+contentID, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// PutContent writes rec.
func (tx *Tx) PutContent(rec *models.ContentRecord) error {
	return tx.setJSON(prefixContent+rec.ContentID, rec)
}
