package service

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"connectrpc.com/connect"
	"github.com/shopspring/decimal"

	"github.com/mmynk/splitledger/internal/apperr"
	"github.com/mmynk/splitledger/internal/auth"
	"github.com/mmynk/splitledger/internal/ledger"
	"github.com/mmynk/splitledger/internal/middleware"
	"github.com/mmynk/splitledger/internal/notify"
	"github.com/mmynk/splitledger/internal/storage/sqlite"
)

const testSecret = "test-secret"

type testEnv struct {
	t   *testing.T
	url string
	jwt *auth.JWTManager
}

// setupTestServer starts every service behind the real auth interceptor on a
// fresh SQLite database.
func setupTestServer(t *testing.T) *testEnv {
	t.Helper()

	store, err := sqlite.New(filepath.Join(t.TempDir(), "test.db"), sqlite.DefaultOptions())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	hub := notify.NewHub(16)
	dispatcher := notify.NewDispatcher(store, hub, notify.DispatcherConfig{PollInterval: 50 * time.Millisecond, BatchSize: 100})
	if err := dispatcher.Start(ctx); err != nil {
		t.Fatalf("failed to start dispatcher: %v", err)
	}
	manager := ledger.NewManager(store, notify.NewPublisher(), dispatcher, ledger.DefaultConfig())

	jwtManager := auth.NewJWTManager(testSecret, time.Hour)
	interceptors := connect.WithInterceptors(middleware.RequireAuth(jwtManager), middleware.NewLoggingInterceptor())

	notifySvc := NewNotificationService(manager, hub)
	mux := http.NewServeMux()
	mux.Handle(NewLedgerServiceHandler(NewLedgerService(manager), interceptors))
	mux.Handle(NewGroupServiceHandler(NewGroupService(manager), interceptors))
	mux.Handle(NewNotificationServiceHandler(notifySvc, interceptors))
	mux.Handle("/v1/notifications/stream", middleware.RequireAuthHTTP(jwtManager)(http.HandlerFunc(notifySvc.HandleSSE)))

	server := httptest.NewServer(mux)
	t.Cleanup(func() {
		hub.Close()
		server.Close()
		cancel()
		dispatcher.Wait()
		store.Close()
	})

	return &testEnv{t: t, url: server.URL, jwt: jwtManager}
}

func (e *testEnv) token(userID string) string {
	e.t.Helper()
	token, err := e.jwt.Generate(userID)
	if err != nil {
		e.t.Fatalf("failed to generate token: %v", err)
	}
	return token
}

// bearer attaches a token to every outgoing unary call.
func bearer(token string) connect.UnaryInterceptorFunc {
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			if token != "" {
				req.Header().Set("Authorization", "Bearer "+token)
			}
			return next(ctx, req)
		}
	}
}

type clients struct {
	ledger *LedgerServiceClient
	groups *GroupServiceClient
	notify *NotificationServiceClient
}

func (e *testEnv) clientsFor(userID string) clients {
	token := ""
	if userID != "" {
		token = e.token(userID)
	}
	opt := connect.WithInterceptors(bearer(token))
	return clients{
		ledger: NewLedgerServiceClient(http.DefaultClient, e.url, opt),
		groups: NewGroupServiceClient(http.DefaultClient, e.url, opt),
		notify: NewNotificationServiceClient(http.DefaultClient, e.url, opt),
	}
}

// createGroup creates a group owned by owner which every other user joins.
func (e *testEnv) createGroup(owner string, others ...string) string {
	e.t.Helper()
	ctx := context.Background()

	resp, err := e.clientsFor(owner).groups.CreateGroup(ctx, connect.NewRequest(&CreateGroupRequest{Name: "Roommates"}))
	if err != nil {
		e.t.Fatalf("CreateGroup failed: %v", err)
	}
	groupID := resp.Msg.Group.ID

	link, err := e.clientsFor(owner).groups.CreateShareLink(ctx, connect.NewRequest(&CreateShareLinkRequest{GroupID: groupID}))
	if err != nil {
		e.t.Fatalf("CreateShareLink failed: %v", err)
	}
	for _, u := range others {
		joined, err := e.clientsFor(u).groups.JoinGroup(ctx, connect.NewRequest(&JoinGroupRequest{Token: link.Msg.Token}))
		if err != nil {
			e.t.Fatalf("JoinGroup(%s) failed: %v", u, err)
		}
		if joined.Msg.Outcome != "JOINED" {
			e.t.Fatalf("JoinGroup(%s) outcome = %s, want JOINED", u, joined.Msg.Outcome)
		}
	}
	return groupID
}

func expectLedgerCode(t *testing.T, err error, connectCode connect.Code, code apperr.Code) *apperr.Error {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", code)
	}
	if got := connect.CodeOf(err); got != connectCode {
		t.Errorf("connect code = %v, want %v", got, connectCode)
	}
	ledgerErr := LedgerError(err)
	if ledgerErr.Code != code {
		t.Errorf("ledger code = %s, want %s", ledgerErr.Code, code)
	}
	return ledgerErr
}

func TestExpenseLifecycle(t *testing.T) {
	env := setupTestServer(t)
	groupID := env.createGroup("alice", "bob", "carol")
	ctx := context.Background()
	alice := env.clientsFor("alice")

	created, err := alice.ledger.CreateExpense(ctx, connect.NewRequest(&CreateExpenseRequest{
		GroupID:      groupID,
		Description:  "Groceries",
		Amount:       decimal.RequireFromString("100"),
		PayerID:      "alice",
		Participants: []string{"alice", "bob", "carol"},
	}))
	if err != nil {
		t.Fatalf("CreateExpense failed: %v", err)
	}
	expense := created.Msg.Expense
	if expense.Currency != "USD" || expense.Version != 1 || expense.SplitType != "equal" {
		t.Errorf("unexpected expense: %+v", expense)
	}
	total := decimal.Zero
	for _, s := range expense.Splits {
		total = total.Add(s.Amount)
	}
	if !total.Equal(decimal.RequireFromString("100")) {
		t.Errorf("splits sum to %s, want 100", total)
	}

	newAmount := decimal.RequireFromString("90")
	updated, err := alice.ledger.UpdateExpense(ctx, connect.NewRequest(&UpdateExpenseRequest{
		ExpenseID:       expense.ID,
		ExpectedVersion: 1,
		Amount:          &newAmount,
	}))
	if err != nil {
		t.Fatalf("UpdateExpense failed: %v", err)
	}
	if updated.Msg.Expense.Version != 2 {
		t.Errorf("version = %d, want 2", updated.Msg.Expense.Version)
	}

	_, err = alice.ledger.UpdateExpense(ctx, connect.NewRequest(&UpdateExpenseRequest{
		ExpenseID:       expense.ID,
		ExpectedVersion: 1,
		Amount:          &newAmount,
	}))
	expectLedgerCode(t, err, connect.CodeAborted, apperr.CodeConcurrentUpdate)

	balances, err := env.clientsFor("bob").ledger.GetBalances(ctx, connect.NewRequest(&GetBalancesRequest{GroupID: groupID}))
	if err != nil {
		t.Fatalf("GetBalances failed: %v", err)
	}
	if len(balances.Msg.Currencies) != 1 {
		t.Fatalf("expected 1 currency, got %d", len(balances.Msg.Currencies))
	}
	debts := balances.Msg.Currencies[0].Debts
	if len(debts) != 2 {
		t.Fatalf("expected 2 debts, got %+v", debts)
	}
	for _, d := range debts {
		if d.To != "alice" || !d.Amount.Equal(decimal.RequireFromString("30")) {
			t.Errorf("unexpected debt %+v", d)
		}
	}

	if _, err := alice.ledger.DeleteExpense(ctx, connect.NewRequest(&DeleteExpenseRequest{ExpenseID: expense.ID, ExpectedVersion: 2})); err != nil {
		t.Fatalf("DeleteExpense failed: %v", err)
	}
	_, err = alice.ledger.GetExpense(ctx, connect.NewRequest(&GetExpenseRequest{ExpenseID: expense.ID}))
	expectLedgerCode(t, err, connect.CodeNotFound, apperr.CodeExpenseNotFound)

	list, err := alice.ledger.ListExpenses(ctx, connect.NewRequest(&ListExpensesRequest{GroupID: groupID}))
	if err != nil {
		t.Fatalf("ListExpenses failed: %v", err)
	}
	if len(list.Msg.Expenses) != 0 {
		t.Errorf("expected no live expenses, got %d", len(list.Msg.Expenses))
	}
}

func TestValidationErrorCarriesField(t *testing.T) {
	env := setupTestServer(t)
	groupID := env.createGroup("alice", "bob")

	_, err := env.clientsFor("alice").ledger.CreateExpense(context.Background(), connect.NewRequest(&CreateExpenseRequest{
		GroupID:      groupID,
		Description:  "Dinner",
		Amount:       decimal.RequireFromString("-5"),
		PayerID:      "alice",
		Participants: []string{"alice", "bob"},
	}))
	ledgerErr := expectLedgerCode(t, err, connect.CodeInvalidArgument, apperr.CodeInvalidAmount)
	if ledgerErr.Field != "amount" {
		t.Errorf("field = %q, want amount", ledgerErr.Field)
	}

	_, err = env.clientsFor("alice").ledger.CreateExpense(context.Background(), connect.NewRequest(&CreateExpenseRequest{
		GroupID:      groupID,
		Description:  "Dinner",
		Amount:       decimal.RequireFromString("20"),
		PayerID:      "alice",
		Participants: []string{"alice", "mallory"},
	}))
	expectLedgerCode(t, err, connect.CodeInvalidArgument, apperr.CodeUserNotInGroup)
}

func TestUnauthenticated(t *testing.T) {
	env := setupTestServer(t)

	_, err := env.clientsFor("").groups.CreateGroup(context.Background(), connect.NewRequest(&CreateGroupRequest{Name: "Nope"}))
	expectLedgerCode(t, err, connect.CodeUnauthenticated, apperr.CodeUnauthorized)

	forged := connect.WithInterceptors(bearer("not-a-token"))
	client := NewGroupServiceClient(http.DefaultClient, env.url, forged)
	_, err = client.CreateGroup(context.Background(), connect.NewRequest(&CreateGroupRequest{Name: "Nope"}))
	expectLedgerCode(t, err, connect.CodeUnauthenticated, apperr.CodeUnauthorized)
}

func TestOutsiderCannotReadGroup(t *testing.T) {
	env := setupTestServer(t)
	groupID := env.createGroup("alice")

	_, err := env.clientsFor("mallory").groups.GetGroup(context.Background(), connect.NewRequest(&GetGroupRequest{GroupID: groupID}))
	expectLedgerCode(t, err, connect.CodePermissionDenied, apperr.CodeForbidden)
}

func TestMembershipFlow(t *testing.T) {
	env := setupTestServer(t)
	groupID := env.createGroup("alice", "bob")
	ctx := context.Background()
	alice := env.clientsFor("alice")

	members, err := alice.groups.ListMembers(ctx, connect.NewRequest(&ListMembersRequest{GroupID: groupID}))
	if err != nil {
		t.Fatalf("ListMembers failed: %v", err)
	}
	if len(members.Msg.Members) != 2 {
		t.Fatalf("expected 2 members, got %d", len(members.Msg.Members))
	}
	var bob Member
	for _, m := range members.Msg.Members {
		if m.UserID == "bob" {
			bob = m
		}
	}
	if bob.Role != "member" || bob.Status != "active" || bob.Color == "" {
		t.Errorf("unexpected membership %+v", bob)
	}

	promoted, err := alice.groups.UpdateMemberRole(ctx, connect.NewRequest(&UpdateMemberRoleRequest{
		GroupID: groupID, UserID: "bob", Role: "admin", ExpectedVersion: bob.Version,
	}))
	if err != nil {
		t.Fatalf("UpdateMemberRole failed: %v", err)
	}
	if promoted.Msg.Member.Role != "admin" {
		t.Errorf("role = %s, want admin", promoted.Msg.Member.Role)
	}

	_, err = env.clientsFor("bob").groups.RemoveMember(ctx, connect.NewRequest(&MemberRequest{
		GroupID: groupID, UserID: "bob", ExpectedVersion: promoted.Msg.Member.Version,
	}))
	if err != nil {
		t.Fatalf("RemoveMember failed: %v", err)
	}

	_, err = env.clientsFor("bob").groups.GetGroup(ctx, connect.NewRequest(&GetGroupRequest{GroupID: groupID}))
	expectLedgerCode(t, err, connect.CodePermissionDenied, apperr.CodeForbidden)
}

func TestRevokedShareLink(t *testing.T) {
	env := setupTestServer(t)
	groupID := env.createGroup("alice")
	ctx := context.Background()
	alice := env.clientsFor("alice")

	link, err := alice.groups.CreateShareLink(ctx, connect.NewRequest(&CreateShareLinkRequest{GroupID: groupID, TTLSeconds: 3600}))
	if err != nil {
		t.Fatalf("CreateShareLink failed: %v", err)
	}
	if _, err := alice.groups.RevokeShareLink(ctx, connect.NewRequest(&RevokeShareLinkRequest{GroupID: groupID, Token: link.Msg.Token})); err != nil {
		t.Fatalf("RevokeShareLink failed: %v", err)
	}

	_, err = env.clientsFor("bob").groups.JoinGroup(ctx, connect.NewRequest(&JoinGroupRequest{Token: link.Msg.Token}))
	expectLedgerCode(t, err, connect.CodeNotFound, apperr.CodeShareLinkInvalid)
}

func TestSettlementLock(t *testing.T) {
	env := setupTestServer(t)
	groupID := env.createGroup("alice", "bob")
	ctx := context.Background()
	bob := env.clientsFor("bob")

	created, err := bob.ledger.CreateSettlement(ctx, connect.NewRequest(&CreateSettlementRequest{
		GroupID: groupID, PayerID: "bob", PayeeID: "alice", Amount: decimal.RequireFromString("15"),
	}))
	if err != nil {
		t.Fatalf("CreateSettlement failed: %v", err)
	}
	settlement := created.Msg.Settlement

	_, err = bob.ledger.LockSettlement(ctx, connect.NewRequest(&SettlementRequest{SettlementID: settlement.ID, ExpectedVersion: settlement.Version}))
	expectLedgerCode(t, err, connect.CodePermissionDenied, apperr.CodeForbidden)

	locked, err := env.clientsFor("alice").ledger.LockSettlement(ctx, connect.NewRequest(&SettlementRequest{
		SettlementID: settlement.ID, ExpectedVersion: settlement.Version,
	}))
	if err != nil {
		t.Fatalf("LockSettlement failed: %v", err)
	}
	if !locked.Msg.Settlement.Locked {
		t.Error("expected settlement to be locked")
	}

	_, err = bob.ledger.DeleteSettlement(ctx, connect.NewRequest(&SettlementRequest{
		SettlementID: settlement.ID, ExpectedVersion: locked.Msg.Settlement.Version,
	}))
	expectLedgerCode(t, err, connect.CodeFailedPrecondition, apperr.CodeSettlementLocked)
}

func TestCalculateSplit(t *testing.T) {
	env := setupTestServer(t)

	resp, err := env.clientsFor("alice").ledger.CalculateSplit(context.Background(), connect.NewRequest(&CalculateSplitRequest{
		Amount:       decimal.RequireFromString("10"),
		Currency:     "USD",
		Participants: []string{"a", "b", "c"},
	}))
	if err != nil {
		t.Fatalf("CalculateSplit failed: %v", err)
	}
	want := []string{"3.34", "3.33", "3.33"}
	for i, s := range resp.Msg.Splits {
		if !s.Amount.Equal(decimal.RequireFromString(want[i])) {
			t.Errorf("split %d = %s, want %s", i, s.Amount, want[i])
		}
	}
}

func TestSubscribeSnapshotThenLive(t *testing.T) {
	env := setupTestServer(t)
	groupID := env.createGroup("alice", "bob")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req := connect.NewRequest(&SubscribeRequest{})
	req.Header().Set("Authorization", "Bearer "+env.token("bob"))
	stream, err := env.clientsFor("bob").notify.Subscribe(ctx, req)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer stream.Close()

	var snapshotTx int64 = -1
	for i := 0; i < 3; i++ {
		if !stream.Receive() {
			t.Fatalf("snapshot ended early: %v", stream.Err())
		}
		ev := stream.Msg()
		if ev.GroupID != groupID || ev.UserID != "bob" {
			t.Errorf("unexpected snapshot event %+v", ev)
		}
		if ev.Category == "transactions" {
			snapshotTx = ev.CategoryVersion
		}
	}
	if snapshotTx < 0 {
		t.Fatal("snapshot has no transactions event")
	}

	_, err = env.clientsFor("alice").ledger.CreateExpense(context.Background(), connect.NewRequest(&CreateExpenseRequest{
		GroupID:      groupID,
		Description:  "Taxi",
		Amount:       decimal.RequireFromString("12"),
		PayerID:      "alice",
		Participants: []string{"alice", "bob"},
	}))
	if err != nil {
		t.Fatalf("CreateExpense failed: %v", err)
	}

	for stream.Receive() {
		ev := stream.Msg()
		if ev.Category == "transactions" && ev.CategoryVersion > snapshotTx {
			if ev.Seq == 0 {
				t.Error("live event should carry its outbox sequence")
			}
			return
		}
	}
	t.Fatalf("no live transactions event: %v", stream.Err())
}

func TestSSEStream(t *testing.T) {
	env := setupTestServer(t)
	groupID := env.createGroup("alice")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, env.url+"/v1/notifications/stream?access_token="+env.token("alice"), nil)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("SSE request failed: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev NotificationEvent
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
			t.Fatalf("bad event payload %q: %v", line, err)
		}
		if ev.GroupID != groupID || ev.UserID != "alice" {
			t.Errorf("unexpected event %+v", ev)
		}
		return
	}
	t.Fatalf("stream ended without events: %v", scanner.Err())
}

func TestSSERequiresToken(t *testing.T) {
	env := setupTestServer(t)

	resp, err := http.Get(env.url + "/v1/notifications/stream")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
}
