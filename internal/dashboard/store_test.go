package dashboard

import (
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func TestLogStoreCapturesEntries(t *testing.T) {
	store := newLogStore(3)
	entry := logrus.NewEntry(logrus.New())
	entry.Time = time.Unix(10, 0)
	entry.Level = logrus.WarnLevel
	entry.Message = "warning"
	entry.Data = logrus.Fields{"component": "collector", "symbol": "BTCUSDT", "error": errors.New("boom")}

	if err := store.Fire(entry); err != nil {
		t.Fatalf("store.Fire returned error: %v", err)
	}

	snapshot := store.snapshot()
	if len(snapshot) != 1 {
		t.Fatalf("expected 1 record, got %d", len(snapshot))
	}
	rec := snapshot[0]
	if rec.Component != "collector" || rec.Level != "warning" || rec.Message != "warning" {
		t.Fatalf("unexpected record: %#v", rec)
	}
	if rec.Fields["symbol"] != "BTCUSDT" || rec.Fields["error"] != "boom" {
		t.Fatalf("unexpected fields: %#v", rec.Fields)
	}
	if _, ok := rec.Fields["component"]; ok {
		t.Fatalf("component should not be repeated in fields")
	}
}

func TestLogStoreLimitAndClose(t *testing.T) {
	store := newLogStore(2)
	for i := 0; i < 5; i++ {
		entry := logrus.NewEntry(logrus.New())
		entry.Message = string(rune('a' + i))
		_ = store.Fire(entry)
	}
	snapshot := store.snapshot()
	if len(snapshot) != 2 || snapshot[0].Message != "d" || snapshot[1].Message != "e" {
		t.Fatalf("unexpected records retained: %#v", snapshot)
	}

	store.close()
	_ = store.Fire(logrus.NewEntry(logrus.New()))
	if len(store.snapshot()) != 2 {
		t.Fatalf("closed store should ignore entries")
	}
}
