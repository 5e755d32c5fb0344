package ledger

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/bitcodr/waplane/internal/domain"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "ledger_test.db") + "?_pragma=busy_timeout(5000)"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.AutoMigrate(domain.Tables...); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func strptr(s string) *string { return &s }

func TestRecordDeduplicatesByProviderID(t *testing.T) {
	led := New(testDB(t))
	ctx := context.Background()

	first, err := led.Record(ctx, &domain.Message{
		WaMessageID: strptr("wamid.ABC123"),
		Direction:   domain.DirectionInbound,
		FromPhone:   "5548999990000",
		Body:        "hello",
		Status:      domain.MsgStatusReceived,
	})
	if err != nil {
		t.Fatalf("first record: %v", err)
	}

	second, err := led.Record(ctx, &domain.Message{
		WaMessageID: strptr("wamid.ABC123"),
		Direction:   domain.DirectionInbound,
		FromPhone:   "5548999990000",
		Body:        "hello",
		Status:      domain.MsgStatusReceived,
	})
	if err != nil {
		t.Fatalf("duplicate record: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("duplicate created new row: first=%d second=%d", first.ID, second.ID)
	}

	var count int64
	led.db.Model(&domain.Message{}).Where("wa_message_id = ?", "wamid.ABC123").Count(&count)
	if count != 1 {
		t.Fatalf("expected 1 row for wamid.ABC123, got %d", count)
	}
}

func TestRecordConcurrentDuplicates(t *testing.T) {
	led := New(testDB(t))
	ctx := context.Background()

	const workers = 8
	results := make([]int64, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			msg, err := led.Record(ctx, &domain.Message{
				WaMessageID: strptr("wamid.RACE"),
				Direction:   domain.DirectionInbound,
				FromPhone:   "5548999990000",
				Body:        "racing",
			})
			if err != nil {
				t.Errorf("worker %d: %v", i, err)
				return
			}
			results[i] = msg.ID
		}(i)
	}
	wg.Wait()

	var count int64
	led.db.Model(&domain.Message{}).Where("wa_message_id = ?", "wamid.RACE").Count(&count)
	if count != 1 {
		t.Fatalf("expected exactly 1 row, got %d", count)
	}
	for i := 1; i < workers; i++ {
		if results[i] != results[0] {
			t.Fatalf("workers saw different rows: %v", results)
		}
	}
}

func TestRecordWithoutProviderIDNeverDedups(t *testing.T) {
	led := New(testDB(t))
	ctx := context.Background()

	a, err := led.Record(ctx, &domain.Message{
		Direction: domain.DirectionOutbound,
		ToPhone:   "5548999990000",
		Body:      "no provider id",
	})
	if err != nil {
		t.Fatalf("record a: %v", err)
	}
	b, err := led.Record(ctx, &domain.Message{
		Direction: domain.DirectionOutbound,
		ToPhone:   "5548999990000",
		Body:      "no provider id",
	})
	if err != nil {
		t.Fatalf("record b: %v", err)
	}
	if a.ID == b.ID {
		t.Fatal("identical messages without provider id collapsed into one row")
	}
	if a.SyntheticID == "" || b.SyntheticID == "" {
		t.Fatal("expected synthetic ids on rows without provider id")
	}
	if a.SyntheticID == b.SyntheticID {
		t.Fatal("synthetic ids must be unique")
	}
}

func TestRecordEmptyProviderIDTreatedAsMissing(t *testing.T) {
	led := New(testDB(t))
	ctx := context.Background()

	msg, err := led.Record(ctx, &domain.Message{
		WaMessageID: strptr(""),
		Direction:   domain.DirectionOutbound,
		ToPhone:     "5548999990000",
		Body:        "relay send",
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if msg.WaMessageID != nil {
		t.Fatal("empty provider id should be stored as null")
	}
	if msg.SyntheticID == "" {
		t.Fatal("expected a synthetic id")
	}
}

func TestAttachProviderID(t *testing.T) {
	led := New(testDB(t))
	ctx := context.Background()

	msg, err := led.Record(ctx, &domain.Message{
		Direction: domain.DirectionOutbound,
		ToPhone:   "5548999990000",
		Body:      "cloud send",
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}

	if err := led.AttachProviderID(ctx, msg.ID, "wamid.FROMCLOUD"); err != nil {
		t.Fatalf("attach: %v", err)
	}
	got, err := led.FindByProviderID(ctx, "wamid.FROMCLOUD")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got == nil || got.ID != msg.ID {
		t.Fatalf("provider id not attached to row %d", msg.ID)
	}

	// A second attach must not overwrite the stored id.
	if err := led.AttachProviderID(ctx, msg.ID, "wamid.OTHER"); err != nil {
		t.Fatalf("second attach: %v", err)
	}
	got, _ = led.FindByProviderID(ctx, "wamid.FROMCLOUD")
	if got == nil {
		t.Fatal("original provider id was overwritten")
	}
}

func TestFindByProviderIDMissing(t *testing.T) {
	led := New(testDB(t))
	got, err := led.FindByProviderID(context.Background(), "wamid.NOPE")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil for unknown provider id, got %+v", got)
	}
}

func TestHasOutboundSince(t *testing.T) {
	led := New(testDB(t))
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	_, err := led.Record(ctx, &domain.Message{
		Direction: domain.DirectionOutbound,
		ToPhone:   "5548999990000",
		Body:      "operator reply",
		Timestamp: base.Add(10 * time.Minute),
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	// Inbound traffic must not count as operator activity.
	_, err = led.Record(ctx, &domain.Message{
		Direction: domain.DirectionInbound,
		FromPhone: "5548999990001",
		ToPhone:   "",
		Body:      "customer message",
		Timestamp: base.Add(20 * time.Minute),
	})
	if err != nil {
		t.Fatalf("record inbound: %v", err)
	}

	replied, err := led.HasOutboundSince(ctx, "5548999990000", base)
	if err != nil {
		t.Fatalf("outbound since: %v", err)
	}
	if !replied {
		t.Fatal("expected outbound message after base to be found")
	}

	replied, err = led.HasOutboundSince(ctx, "5548999990000", base.Add(30*time.Minute))
	if err != nil {
		t.Fatalf("outbound since: %v", err)
	}
	if replied {
		t.Fatal("no outbound message after cutoff, expected false")
	}

	replied, err = led.HasOutboundSince(ctx, "5548999990001", base)
	if err != nil {
		t.Fatalf("outbound since: %v", err)
	}
	if replied {
		t.Fatal("inbound-only phone reported outbound activity")
	}
}

func TestPurgeOlderThan(t *testing.T) {
	led := New(testDB(t))
	ctx := context.Background()

	old := time.Now().AddDate(0, 0, -400)
	recent := time.Now().Add(-time.Hour)
	for _, ts := range []time.Time{old, old.Add(time.Hour), recent} {
		if _, err := led.Record(ctx, &domain.Message{
			Direction: domain.DirectionInbound,
			FromPhone: "5548999990000",
			Body:      "msg",
			Timestamp: ts,
		}); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	n, err := led.PurgeOlderThan(ctx, time.Now().AddDate(0, 0, -365))
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 purged rows, got %d", n)
	}
	msgs, err := led.ListByPhone(ctx, "5548999990000", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 surviving row, got %d", len(msgs))
	}
}
