package audit

import (
	"bufio"
	"encoding/json"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"spendgate/core/events"
)

func TestFileSinkWritesAuditLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.log")
	sink := NewFileSink(FileSinkConfig{Path: path})
	sink.nowFn = func() time.Time { return time.Unix(500, 0) }
	defer sink.Close()

	sink.Emit(events.SpendExecuted{
		RecordID:      "rec-1",
		Principal:     "sg1principal",
		Kind:          "like",
		Amount:        big.NewInt(25),
		ForwardStatus: "delivered",
		Day:           10,
		Timestamp:     400,
	})
	sink.Emit(events.SpendPaused{Timestamp: 401})

	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("open audit log: %v", err)
	}
	defer file.Close()

	var lines []auditLine
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var line auditLine
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			t.Fatalf("decode line: %v", err)
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(lines) != 2 {
		t.Fatalf("wrote %d lines, want 2", len(lines))
	}

	executed := lines[0]
	if executed.Type != events.TypeSpendExecuted {
		t.Fatalf("type = %q, want %q", executed.Type, events.TypeSpendExecuted)
	}
	if executed.EmittedAt != 500 {
		t.Fatalf("emittedAt = %d, want 500", executed.EmittedAt)
	}
	if executed.Attributes["amount"] != "25" {
		t.Fatalf("amount attribute = %q, want 25", executed.Attributes["amount"])
	}
	if _, present := executed.Attributes["receivedAmount"]; present {
		t.Fatal("unknown received amount must not be serialised")
	}
	if lines[1].Type != events.TypeSpendPaused {
		t.Fatalf("second line type = %q, want %q", lines[1].Type, events.TypeSpendPaused)
	}
}

func TestFileSinkNilSafe(t *testing.T) {
	var sink *FileSink
	sink.Emit(events.SpendPaused{Timestamp: 1})
	if err := sink.Close(); err != nil {
		t.Fatalf("close nil sink: %v", err)
	}
}

func TestTeeFansOut(t *testing.T) {
	var first, second int
	tee := Tee{
		events.EmitterFunc(func(events.Event) { first++ }),
		nil,
		events.EmitterFunc(func(events.Event) { second++ }),
	}
	tee.Emit(events.SpendResumed{Timestamp: 1})
	if first != 1 || second != 1 {
		t.Fatalf("fan out counts = %d/%d, want 1/1", first, second)
	}
}
