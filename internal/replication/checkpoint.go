package replication

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"docstore/internal/domain"
	"docstore/internal/domain/models/replication"
	docstoreSvc "docstore/internal/domain/services/docstore"
)

const checkpointPrefix = "_local/replication-"

// ReplicationID identifies a (local store, peer, direction) triple.
func ReplicationID(localName, remoteID string, direction replication.Direction) string {
	sum := sha1.Sum([]byte(localName + "\x00" + remoteID + "\x00" + string(direction)))
	return hex.EncodeToString(sum[:])
}

// LoadCheckpoint returns the stored checkpoint, or an empty one.
func LoadCheckpoint(ctx context.Context, store docstoreSvc.DocumentStore, replicationID string) (*replication.Checkpoint, error) {
	doc, err := store.GetLocal(ctx, checkpointPrefix+replicationID)
	if errors.Is(err, domain.ErrNotFound) {
		return &replication.Checkpoint{ReplicationID: replicationID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}

	var cp replication.Checkpoint
	if err := json.Unmarshal(doc.Body, &cp); err != nil {
		return nil, fmt.Errorf("decode checkpoint: %w", err)
	}
	cp.ReplicationID = replicationID
	return &cp, nil
}

// SaveCheckpoint records lastSeq as fully committed.
func SaveCheckpoint(ctx context.Context, store docstoreSvc.DocumentStore, replicationID, lastSeq string) error {
	body, err := json.Marshal(&replication.Checkpoint{
		ReplicationID: replicationID,
		LastSeq:       lastSeq,
		UpdatedAt:     time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	if _, err := store.PutLocal(ctx, checkpointPrefix+replicationID, body); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}
