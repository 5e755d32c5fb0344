package router

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/bitcodr/waplane/internal/convstate"
	"github.com/bitcodr/waplane/internal/department"
	"github.com/bitcodr/waplane/internal/domain"
	"github.com/bitcodr/waplane/internal/ledger"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "router_test.db") + "?_pragma=busy_timeout(5000)"
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

// fakeChannel records sends and answers with a configured provider id or
// error.
type fakeChannel struct {
	providerID string
	err        error
	sent       []OutboundMessage
}

func (f *fakeChannel) Send(ctx context.Context, msg OutboundMessage) (string, error) {
	f.sent = append(f.sent, msg)
	if f.err != nil {
		return "", f.err
	}
	return f.providerID, nil
}

func seedDepartments(t *testing.T, db *gorm.DB) {
	t.Helper()
	depts := []domain.Department{
		{Code: domain.DeptLeasing, Name: "Leasing", Channel: domain.ChannelRelay, AiEnabled: true, Status: "enabled"},
		{Code: domain.DeptMarketing, Name: "Marketing", Channel: domain.ChannelCloud, AiEnabled: true, Status: "enabled"},
	}
	for i := range depts {
		if err := db.Create(&depts[i]).Error; err != nil {
			t.Fatalf("seed department: %v", err)
		}
	}
}

func setupRouter(t *testing.T) (*Router, *fakeChannel, *fakeChannel, *ledger.Ledger, *gorm.DB) {
	db := testDB(t)
	seedDepartments(t, db)
	led := ledger.New(db)
	states := convstate.New(db, nil)
	departments := department.NewResolver(db, 0)
	relay := &fakeChannel{}
	cloud := &fakeChannel{providerID: "wamid.CLOUD1"}
	rtr := New(db, led, states, departments, relay, cloud, "5548000000000")
	return rtr, relay, cloud, led, db
}

func TestSendRoutesByDepartmentChannel(t *testing.T) {
	rtr, relay, cloud, _, _ := setupRouter(t)
	ctx := context.Background()

	res := rtr.Send(ctx, SendRequest{To: "5548999990000", Text: "hi", DepartmentCode: domain.DeptLeasing})
	if !res.Success {
		t.Fatalf("relay send failed: %s", res.Error)
	}
	if res.Channel != domain.ChannelRelay {
		t.Fatalf("leasing must route over relay, got %s", res.Channel)
	}
	if len(relay.sent) != 1 || len(cloud.sent) != 0 {
		t.Fatalf("wrong channel invoked: relay=%d cloud=%d", len(relay.sent), len(cloud.sent))
	}

	res = rtr.Send(ctx, SendRequest{To: "5548999990001", Text: "hi", DepartmentCode: domain.DeptMarketing})
	if !res.Success {
		t.Fatalf("cloud send failed: %s", res.Error)
	}
	if res.Channel != domain.ChannelCloud {
		t.Fatalf("marketing must route over cloud, got %s", res.Channel)
	}
	if len(cloud.sent) != 1 {
		t.Fatalf("cloud channel not invoked")
	}
}

func TestSendUntriagedDefaultsToCloud(t *testing.T) {
	rtr, relay, cloud, _, _ := setupRouter(t)

	res := rtr.Send(context.Background(), SendRequest{To: "5548999990000", Text: "hi"})
	if !res.Success {
		t.Fatalf("send failed: %s", res.Error)
	}
	if res.Channel != domain.ChannelCloud {
		t.Fatalf("un-triaged conversation must default to cloud, got %s", res.Channel)
	}
	if len(relay.sent) != 0 || len(cloud.sent) != 1 {
		t.Fatalf("wrong channel invoked: relay=%d cloud=%d", len(relay.sent), len(cloud.sent))
	}
}

func TestSendResolvesDepartmentFromConversation(t *testing.T) {
	rtr, relay, _, _, db := setupRouter(t)
	ctx := context.Background()

	conv := &domain.Conversation{Phone: "5548999990000", DepartmentCode: domain.DeptLeasing}
	if err := db.Create(conv).Error; err != nil {
		t.Fatalf("seed conversation: %v", err)
	}

	res := rtr.Send(ctx, SendRequest{To: "5548999990000", Text: "hi"})
	if !res.Success {
		t.Fatalf("send failed: %s", res.Error)
	}
	if res.Channel != domain.ChannelRelay {
		t.Fatalf("triaged leasing conversation must route over relay, got %s", res.Channel)
	}
	if len(relay.sent) != 1 {
		t.Fatal("relay channel not invoked")
	}
}

func TestSendRecordsBeforeDelivery(t *testing.T) {
	rtr, relay, _, led, _ := setupRouter(t)
	relay.err = errors.New("relay down")
	ctx := context.Background()

	res := rtr.Send(ctx, SendRequest{To: "5548999990000", Text: "hi", DepartmentCode: domain.DeptLeasing})
	if res.Success {
		t.Fatal("send must fail when the channel fails")
	}
	if res.MessageID == 0 {
		t.Fatal("failed send must still reference the ledger row")
	}

	msgs, err := led.ListByPhone(ctx, "5548999990000", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 ledger row after failed send, got %d", len(msgs))
	}
	if msgs[0].Status != domain.MsgStatusFailed {
		t.Fatalf("status = %s, want %s", msgs[0].Status, domain.MsgStatusFailed)
	}
}

func TestSendAttachesCloudProviderID(t *testing.T) {
	rtr, _, _, led, _ := setupRouter(t)
	ctx := context.Background()

	res := rtr.Send(ctx, SendRequest{To: "5548999990000", Text: "hi", DepartmentCode: domain.DeptMarketing})
	if !res.Success {
		t.Fatalf("send failed: %s", res.Error)
	}
	if res.WaMessageID != "wamid.CLOUD1" {
		t.Fatalf("wa message id = %q, want wamid.CLOUD1", res.WaMessageID)
	}

	got, err := led.FindByProviderID(ctx, "wamid.CLOUD1")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got == nil || got.ID != res.MessageID {
		t.Fatal("provider id not attached to the ledger row")
	}
	if got.Status != domain.MsgStatusSent {
		t.Fatalf("status = %s, want %s", got.Status, domain.MsgStatusSent)
	}
}

func TestSendRelayLeavesProviderIDEmpty(t *testing.T) {
	rtr, _, _, led, _ := setupRouter(t)
	ctx := context.Background()

	res := rtr.Send(ctx, SendRequest{To: "5548999990000", Text: "hi", DepartmentCode: domain.DeptLeasing})
	if !res.Success {
		t.Fatalf("send failed: %s", res.Error)
	}
	if res.WaMessageID != "" {
		t.Fatalf("relay confirms asynchronously, wa message id must be empty, got %q", res.WaMessageID)
	}

	msgs, _ := led.ListByPhone(ctx, "5548999990000", 10)
	if len(msgs) != 1 {
		t.Fatalf("expected 1 ledger row, got %d", len(msgs))
	}
	if msgs[0].WaMessageID != nil {
		t.Fatal("relay send must not carry a provider id yet")
	}
	if msgs[0].SyntheticID == "" {
		t.Fatal("relay send must carry a synthetic id")
	}
}

func TestSendRejectsBadInput(t *testing.T) {
	rtr, _, _, _, _ := setupRouter(t)
	ctx := context.Background()

	if res := rtr.Send(ctx, SendRequest{To: "123", Text: "hi"}); res.Success || res.Error == "" {
		t.Fatal("short phone number must be rejected")
	}
	if res := rtr.Send(ctx, SendRequest{To: "5548999990000"}); res.Success || res.Error == "" {
		t.Fatal("empty message must be rejected")
	}
}

func TestSendUpdatesOwnershipTimestamps(t *testing.T) {
	rtr, _, _, _, db := setupRouter(t)
	ctx := context.Background()
	states := convstate.New(db, nil)

	res := rtr.Send(ctx, SendRequest{To: "5548999990000", Text: "hi", Origin: OriginOperator})
	if !res.Success {
		t.Fatalf("send failed: %s", res.Error)
	}
	st, err := states.GetState(ctx, "5548999990000")
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	if st.LastHumanMessageAt == nil {
		t.Fatal("operator send must stamp last_human_message_at")
	}
	if st.LastAiMessageAt != nil {
		t.Fatal("operator send must not stamp last_ai_message_at")
	}

	res = rtr.Send(ctx, SendRequest{To: "5548999990000", Text: "hi", Origin: OriginAi})
	if !res.Success {
		t.Fatalf("ai send failed: %s", res.Error)
	}
	st, _ = states.GetState(ctx, "5548999990000")
	if st.LastAiMessageAt == nil {
		t.Fatal("ai send must stamp last_ai_message_at")
	}
}
