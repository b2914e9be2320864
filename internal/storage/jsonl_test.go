package storage

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"creditScope/internal/model"
)

func TestJsonlSinkAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "events.jsonl")
	sink := NewJsonlSink(path)

	first := []model.LedgerEvent{{
		User:         "0x00000000000000000000000000000000000000A1",
		Protocol:     model.ProtocolAave,
		Kind:         model.EventBorrowed,
		AmountUSD:    1000,
		RunningTotal: 1000,
		Count:        1,
		BlockHeight:  100,
	}}
	second := []model.LedgerEvent{{
		User:         "0x00000000000000000000000000000000000000A1",
		Protocol:     model.ProtocolAave,
		Kind:         model.EventRepaid,
		AmountUSD:    600,
		RunningTotal: 600,
		Count:        1,
		BlockHeight:  110,
	}}

	if err := sink.PutEventBatch(first); err != nil {
		t.Fatalf("first batch: %v", err)
	}
	if err := sink.PutEventBatch(second); err != nil {
		t.Fatalf("second batch: %v", err)
	}
	if err := sink.PutEventBatch(nil); err != nil {
		t.Fatalf("empty batch: %v", err)
	}

	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("open output: %v", err)
	}
	defer file.Close()

	var events []model.LedgerEvent
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var event model.LedgerEvent
		if err := json.Unmarshal(scanner.Bytes(), &event); err != nil {
			t.Fatalf("decode line: %v", err)
		}
		events = append(events, event)
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("scan: %v", err)
	}

	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Kind != model.EventBorrowed || events[1].Kind != model.EventRepaid {
		t.Fatalf("event order mismatch: %+v", events)
	}
}
