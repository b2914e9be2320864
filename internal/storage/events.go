package storage

import "creditScope/internal/model"

// EventSink receives the append-only ledger event stream. Nothing inside the
// service reads events back; sinks exist for external observers.
type EventSink interface {
	PutEventBatch(events []model.LedgerEvent) error
}
