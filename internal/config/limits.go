package config

import "time"

const (
	// MaxDocumentIDLength is the maximum length of a document id.
	MaxDocumentIDLength = 1024

	// MaxRevisionIDLength bounds revision ids accepted from peers.
	MaxRevisionIDLength = 128

	// RevsDiffChunkSize is how many revision ids are looked up per query
	// when diffing against a peer. Keeps IN/ANY lists bounded.
	RevsDiffChunkSize = 500

	// DefaultChangesLimit is the page size of the changes feed when the
	// caller does not pass one.
	DefaultChangesLimit = 1000

	// MaxRequestBodyBytes caps JSON request bodies, attachments included.
	MaxRequestBodyBytes = 64 << 20

	// DefaultReplicationBatchSize is the number of changes pulled or
	// pushed per checkpointed batch.
	DefaultReplicationBatchSize = 100

	// DefaultFetchConcurrency is how many documents are fetched from a
	// peer in parallel during pull.
	DefaultFetchConcurrency = 4

	// ReplicationMinBackoff and ReplicationMaxBackoff bound the delay
	// after a failed scheduled replication run.
	ReplicationMinBackoff = 5 * time.Second
	ReplicationMaxBackoff = 5 * time.Minute
)
