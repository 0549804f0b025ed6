// Package storage provides the record storage abstraction shared by the
// credential store, the persistent session store, the access log and the
// content store.
package storage

// Repository stores envelopes keyed by bucket and record ID. Buckets are
// created implicitly on first write.
type Repository interface {
	Put(bucket string, recordID string, envelope *Envelope) error
	Get(bucket string, recordID string) (*Envelope, error)
	// List returns the record IDs of a bucket in ascending byte order.
	// A missing bucket yields an empty list.
	List(bucket string) ([]string, error)
	Delete(bucket string, recordID string) error
	// PutCAS writes the envelope only if the stored record's Version equals
	// expectedVersion. An expectedVersion of 0 means "must not exist yet".
	PutCAS(bucket string, recordID string, expectedVersion uint64, envelope *Envelope) error
}
