package convstate

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/asaskevich/EventBus"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/bitcodr/waplane/internal/domain"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "convstate_test.db") + "?_pragma=busy_timeout(5000)"
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

// checkInvariant verifies that AI ownership and an operator takeover
// timestamp never coexist.
func checkInvariant(t *testing.T, st *domain.ConversationState) {
	t.Helper()
	if st.IsAiActive && st.OperatorTakeoverAt != nil {
		t.Fatalf("invariant broken: ai active with takeover at %v", st.OperatorTakeoverAt)
	}
	if !st.IsAiActive && st.OperatorTakeoverAt == nil {
		t.Fatal("invariant broken: operator owns conversation without takeover timestamp")
	}
}

func TestGetStateDefaultsToAi(t *testing.T) {
	store := New(testDB(t), nil)
	st, err := store.GetState(context.Background(), "5548999990000")
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	if !st.IsAiActive {
		t.Fatal("unknown phone must default to AI-owned")
	}
	if st.OperatorTakeoverAt != nil || st.OperatorID != nil {
		t.Fatal("default state must carry no operator identity")
	}
	checkInvariant(t, st)
}

func TestClaimAndRelease(t *testing.T) {
	store := New(testDB(t), nil)
	ctx := context.Background()
	phone := "5548999990000"

	if err := store.ClaimByOperator(ctx, phone, 42); err != nil {
		t.Fatalf("claim: %v", err)
	}
	st, err := store.GetState(ctx, phone)
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	if st.IsAiActive {
		t.Fatal("claimed conversation still AI-owned")
	}
	if st.OperatorID == nil || *st.OperatorID != 42 {
		t.Fatalf("operator id not recorded: %v", st.OperatorID)
	}
	checkInvariant(t, st)

	if err := store.ReleaseToAi(ctx, phone); err != nil {
		t.Fatalf("release: %v", err)
	}
	st, err = store.GetState(ctx, phone)
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	if !st.IsAiActive {
		t.Fatal("released conversation not AI-owned")
	}
	if st.OperatorTakeoverAt != nil || st.OperatorID != nil {
		t.Fatal("release must clear operator identity and takeover timestamp")
	}
	checkInvariant(t, st)
}

func TestReclaimMovesTakeoverForward(t *testing.T) {
	store := New(testDB(t), nil)
	ctx := context.Background()
	phone := "5548999990000"

	if err := store.ClaimByOperator(ctx, phone, 1); err != nil {
		t.Fatalf("first claim: %v", err)
	}
	first, _ := store.GetState(ctx, phone)

	time.Sleep(10 * time.Millisecond)
	if err := store.ClaimByOperator(ctx, phone, 2); err != nil {
		t.Fatalf("second claim: %v", err)
	}
	second, _ := store.GetState(ctx, phone)

	if second.OperatorID == nil || *second.OperatorID != 2 {
		t.Fatal("second claim must overwrite operator id")
	}
	if !second.OperatorTakeoverAt.After(*first.OperatorTakeoverAt) {
		t.Fatal("second claim must move the takeover timestamp forward")
	}
	checkInvariant(t, second)
}

func TestReleaseWithoutClaimIsHarmless(t *testing.T) {
	store := New(testDB(t), nil)
	ctx := context.Background()
	if err := store.ReleaseToAi(ctx, "5548999990000"); err != nil {
		t.Fatalf("release on unclaimed phone: %v", err)
	}
	st, err := store.GetState(ctx, "5548999990000")
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	if !st.IsAiActive {
		t.Fatal("expected AI ownership after no-op release")
	}
	checkInvariant(t, st)
}

func TestRecordSendsDoNotChangeOwnership(t *testing.T) {
	store := New(testDB(t), nil)
	ctx := context.Background()
	phone := "5548999990000"

	if err := store.ClaimByOperator(ctx, phone, 7); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := store.RecordHumanSend(ctx, phone); err != nil {
		t.Fatalf("record human send: %v", err)
	}
	if err := store.RecordAiSend(ctx, phone); err != nil {
		t.Fatalf("record ai send: %v", err)
	}

	st, err := store.GetState(ctx, phone)
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	if st.IsAiActive {
		t.Fatal("send bookkeeping changed ownership")
	}
	if st.LastHumanMessageAt == nil || st.LastAiMessageAt == nil {
		t.Fatal("send timestamps not recorded")
	}
	checkInvariant(t, st)
}

func TestRecordSendOnUnclaimedPhoneKeepsAiOwnership(t *testing.T) {
	store := New(testDB(t), nil)
	ctx := context.Background()
	phone := "5548999990000"

	// First write for this phone is the send bookkeeping itself; the lazily
	// created row must come out AI-owned like the GetState default.
	if err := store.RecordHumanSend(ctx, phone); err != nil {
		t.Fatalf("record human send: %v", err)
	}
	st, err := store.GetState(ctx, phone)
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	if !st.IsAiActive {
		t.Fatal("send bookkeeping on an unclaimed phone disabled the AI")
	}
	if st.LastHumanMessageAt == nil {
		t.Fatal("send timestamp not recorded")
	}
	checkInvariant(t, st)

	if err := store.RecordAiSend(ctx, "5548999990001"); err != nil {
		t.Fatalf("record ai send: %v", err)
	}
	st, err = store.GetState(ctx, "5548999990001")
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	if !st.IsAiActive {
		t.Fatal("ai send bookkeeping on an unclaimed phone disabled the AI")
	}
	checkInvariant(t, st)
}

func TestOwnershipEventsAudited(t *testing.T) {
	db := testDB(t)
	bus := EventBus.New()
	if err := NewAuditRecorder(db).Subscribe(bus); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	store := New(db, bus)
	ctx := context.Background()
	phone := "5548999990000"

	if err := store.ClaimByOperator(ctx, phone, 9); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := store.TimeoutRelease(ctx, phone); err != nil {
		t.Fatalf("timeout release: %v", err)
	}
	bus.WaitAsync()

	var events []domain.OwnershipEvent
	if err := db.Where("phone = ?", phone).Order("at").Find(&events).Error; err != nil {
		t.Fatalf("load events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 audit events, got %d", len(events))
	}
	if events[0].Event != EventClaimed {
		t.Fatalf("first event = %s, want %s", events[0].Event, EventClaimed)
	}
	if events[1].Event != EventTimeoutReleased {
		t.Fatalf("second event = %s, want %s", events[1].Event, EventTimeoutReleased)
	}
	if events[0].OperatorID == nil || *events[0].OperatorID != 9 {
		t.Fatal("claim event must carry the operator id")
	}
}
