package service

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"connectrpc.com/connect"

	"github.com/mmynk/splitledger/internal/calculator"
	"github.com/mmynk/splitledger/internal/ledger"
	"github.com/mmynk/splitledger/internal/middleware"
	"github.com/mmynk/splitledger/internal/models"
)

// LedgerServiceName is the fully-qualified name of the LedgerService service.
const LedgerServiceName = "splitledger.v1.LedgerService"

// Procedure paths of LedgerService.
const (
	LedgerServiceCreateExpenseProcedure    = "/splitledger.v1.LedgerService/CreateExpense"
	LedgerServiceUpdateExpenseProcedure    = "/splitledger.v1.LedgerService/UpdateExpense"
	LedgerServiceDeleteExpenseProcedure    = "/splitledger.v1.LedgerService/DeleteExpense"
	LedgerServiceGetExpenseProcedure       = "/splitledger.v1.LedgerService/GetExpense"
	LedgerServiceListExpensesProcedure     = "/splitledger.v1.LedgerService/ListExpenses"
	LedgerServiceCreateSettlementProcedure = "/splitledger.v1.LedgerService/CreateSettlement"
	LedgerServiceUpdateSettlementProcedure = "/splitledger.v1.LedgerService/UpdateSettlement"
	LedgerServiceDeleteSettlementProcedure = "/splitledger.v1.LedgerService/DeleteSettlement"
	LedgerServiceLockSettlementProcedure   = "/splitledger.v1.LedgerService/LockSettlement"
	LedgerServiceGetSettlementProcedure    = "/splitledger.v1.LedgerService/GetSettlement"
	LedgerServiceListSettlementsProcedure  = "/splitledger.v1.LedgerService/ListSettlements"
	LedgerServiceGetBalancesProcedure      = "/splitledger.v1.LedgerService/GetBalances"
	LedgerServiceCalculateSplitProcedure   = "/splitledger.v1.LedgerService/CalculateSplit"
)

// LedgerService implements the Connect LedgerService: expenses, settlements
// and balances.
type LedgerService struct {
	ledger *ledger.Manager
}

// NewLedgerService creates a new LedgerService backed by the given manager.
func NewLedgerService(manager *ledger.Manager) *LedgerService {
	return &LedgerService{ledger: manager}
}

func timeOrZero(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

// CreateExpense records a new expense.
func (s *LedgerService) CreateExpense(ctx context.Context, req *connect.Request[CreateExpenseRequest]) (*connect.Response[ExpenseResponse], error) {
	slog.Info("CreateExpense request received",
		"group_id", req.Msg.GroupID,
		"amount", req.Msg.Amount.String(),
		"participants_count", len(req.Msg.Participants),
	)

	expense, err := s.ledger.CreateExpense(ctx, ledger.CreateExpenseInput{
		ActorID:      middleware.GetUserID(ctx),
		GroupID:      req.Msg.GroupID,
		Description:  req.Msg.Description,
		Amount:       req.Msg.Amount,
		Currency:     req.Msg.Currency,
		PayerID:      req.Msg.PayerID,
		Participants: req.Msg.Participants,
		SplitType:    models.SplitType(req.Msg.SplitType),
		Splits:       fromSplits(req.Msg.Splits),
		Date:         timeOrZero(req.Msg.Date),
		Category:     req.Msg.Category,
	})
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&ExpenseResponse{Expense: toExpense(expense)}), nil
}

// UpdateExpense applies a partial update guarded by the expected version.
func (s *LedgerService) UpdateExpense(ctx context.Context, req *connect.Request[UpdateExpenseRequest]) (*connect.Response[ExpenseResponse], error) {
	slog.Info("UpdateExpense request received",
		"expense_id", req.Msg.ExpenseID,
		"expected_version", req.Msg.ExpectedVersion,
	)

	m := req.Msg
	patch := models.ExpensePatch{
		Description:  m.Description,
		Amount:       m.Amount,
		Currency:     m.Currency,
		PayerID:      m.PayerID,
		Participants: m.Participants,
		Splits:       fromSplits(m.Splits),
		Date:         m.Date,
		Category:     m.Category,
	}
	if m.SplitType != nil {
		st := models.SplitType(*m.SplitType)
		patch.SplitType = &st
	}

	expense, err := s.ledger.UpdateExpense(ctx, ledger.UpdateExpenseInput{
		ActorID:         middleware.GetUserID(ctx),
		ExpenseID:       m.ExpenseID,
		ExpectedVersion: m.ExpectedVersion,
		Patch:           patch,
	})
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&ExpenseResponse{Expense: toExpense(expense)}), nil
}

// DeleteExpense soft-deletes an expense.
func (s *LedgerService) DeleteExpense(ctx context.Context, req *connect.Request[DeleteExpenseRequest]) (*connect.Response[Empty], error) {
	slog.Info("DeleteExpense request received", "expense_id", req.Msg.ExpenseID)

	err := s.ledger.DeleteExpense(ctx, ledger.DeleteExpenseInput{
		ActorID:         middleware.GetUserID(ctx),
		ExpenseID:       req.Msg.ExpenseID,
		ExpectedVersion: req.Msg.ExpectedVersion,
	})
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&Empty{}), nil
}

// GetExpense returns one expense.
func (s *LedgerService) GetExpense(ctx context.Context, req *connect.Request[GetExpenseRequest]) (*connect.Response[ExpenseResponse], error) {
	expense, err := s.ledger.GetExpense(ctx, middleware.GetUserID(ctx), req.Msg.ExpenseID)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&ExpenseResponse{Expense: toExpense(expense)}), nil
}

// ListExpenses returns the live expenses of a group, newest first.
func (s *LedgerService) ListExpenses(ctx context.Context, req *connect.Request[ListExpensesRequest]) (*connect.Response[ListExpensesResponse], error) {
	expenses, err := s.ledger.ListExpenses(ctx, middleware.GetUserID(ctx), req.Msg.GroupID)
	if err != nil {
		return nil, toConnectError(err)
	}

	out := make([]Expense, len(expenses))
	for i, e := range expenses {
		out[i] = toExpense(e)
	}
	slog.Debug("ListExpenses successful", "group_id", req.Msg.GroupID, "count", len(out))
	return connect.NewResponse(&ListExpensesResponse{Expenses: out}), nil
}

// CreateSettlement records a payment between two members.
func (s *LedgerService) CreateSettlement(ctx context.Context, req *connect.Request[CreateSettlementRequest]) (*connect.Response[SettlementResponse], error) {
	slog.Info("CreateSettlement request received",
		"group_id", req.Msg.GroupID,
		"payer", req.Msg.PayerID,
		"payee", req.Msg.PayeeID,
	)

	settlement, err := s.ledger.CreateSettlement(ctx, ledger.CreateSettlementInput{
		ActorID:  middleware.GetUserID(ctx),
		GroupID:  req.Msg.GroupID,
		PayerID:  req.Msg.PayerID,
		PayeeID:  req.Msg.PayeeID,
		Amount:   req.Msg.Amount,
		Currency: req.Msg.Currency,
		Date:     timeOrZero(req.Msg.Date),
		Note:     req.Msg.Note,
	})
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&SettlementResponse{Settlement: toSettlement(settlement)}), nil
}

// UpdateSettlement applies a partial update to an unlocked settlement.
func (s *LedgerService) UpdateSettlement(ctx context.Context, req *connect.Request[UpdateSettlementRequest]) (*connect.Response[SettlementResponse], error) {
	slog.Info("UpdateSettlement request received", "settlement_id", req.Msg.SettlementID)

	m := req.Msg
	settlement, err := s.ledger.UpdateSettlement(ctx, ledger.UpdateSettlementInput{
		ActorID:         middleware.GetUserID(ctx),
		SettlementID:    m.SettlementID,
		ExpectedVersion: m.ExpectedVersion,
		Patch: models.SettlementPatch{
			PayerID:  m.PayerID,
			PayeeID:  m.PayeeID,
			Amount:   m.Amount,
			Currency: m.Currency,
			Date:     m.Date,
			Note:     m.Note,
		},
	})
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&SettlementResponse{Settlement: toSettlement(settlement)}), nil
}

func (s *LedgerService) settlementRef(ctx context.Context, req *SettlementRequest) ledger.SettlementRef {
	return ledger.SettlementRef{
		ActorID:         middleware.GetUserID(ctx),
		SettlementID:    req.SettlementID,
		ExpectedVersion: req.ExpectedVersion,
	}
}

// DeleteSettlement soft-deletes an unlocked settlement.
func (s *LedgerService) DeleteSettlement(ctx context.Context, req *connect.Request[SettlementRequest]) (*connect.Response[Empty], error) {
	slog.Info("DeleteSettlement request received", "settlement_id", req.Msg.SettlementID)

	if err := s.ledger.DeleteSettlement(ctx, s.settlementRef(ctx, req.Msg)); err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&Empty{}), nil
}

// LockSettlement makes a settlement immutable.
func (s *LedgerService) LockSettlement(ctx context.Context, req *connect.Request[SettlementRequest]) (*connect.Response[SettlementResponse], error) {
	slog.Info("LockSettlement request received", "settlement_id", req.Msg.SettlementID)

	settlement, err := s.ledger.LockSettlement(ctx, s.settlementRef(ctx, req.Msg))
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&SettlementResponse{Settlement: toSettlement(settlement)}), nil
}

// GetSettlement returns one settlement.
func (s *LedgerService) GetSettlement(ctx context.Context, req *connect.Request[SettlementRequest]) (*connect.Response[SettlementResponse], error) {
	settlement, err := s.ledger.GetSettlement(ctx, middleware.GetUserID(ctx), req.Msg.SettlementID)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&SettlementResponse{Settlement: toSettlement(settlement)}), nil
}

// ListSettlements returns the live settlements of a group.
func (s *LedgerService) ListSettlements(ctx context.Context, req *connect.Request[ListSettlementsRequest]) (*connect.Response[ListSettlementsResponse], error) {
	settlements, err := s.ledger.ListSettlements(ctx, middleware.GetUserID(ctx), req.Msg.GroupID)
	if err != nil {
		return nil, toConnectError(err)
	}

	out := make([]Settlement, len(settlements))
	for i, st := range settlements {
		out[i] = toSettlement(st)
	}
	return connect.NewResponse(&ListSettlementsResponse{Settlements: out}), nil
}

// GetBalances computes per-currency balances and simplified debts of a group.
func (s *LedgerService) GetBalances(ctx context.Context, req *connect.Request[GetBalancesRequest]) (*connect.Response[GetBalancesResponse], error) {
	balances, err := s.ledger.GetBalances(ctx, middleware.GetUserID(ctx), req.Msg.GroupID)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(toBalances(balances)), nil
}

// CalculateSplit previews how an amount would be split without storing anything.
func (s *LedgerService) CalculateSplit(ctx context.Context, req *connect.Request[CalculateSplitRequest]) (*connect.Response[CalculateSplitResponse], error) {
	splitType := models.SplitType(req.Msg.SplitType)
	if splitType == "" {
		splitType = models.SplitEqual
	}

	splits, err := calculator.ComputeSplits(req.Msg.Amount, req.Msg.Currency, splitType,
		req.Msg.Participants, fromSplits(req.Msg.Splits))
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&CalculateSplitResponse{Splits: toSplits(splits)}), nil
}

// NewLedgerServiceHandler builds an HTTP handler for every LedgerService procedure.
// It returns the path on which to mount the handler and the handler itself.
func NewLedgerServiceHandler(svc *LedgerService, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = withCodec(opts)
	mux := http.NewServeMux()
	mux.Handle(LedgerServiceCreateExpenseProcedure, connect.NewUnaryHandler(LedgerServiceCreateExpenseProcedure, svc.CreateExpense, opts...))
	mux.Handle(LedgerServiceUpdateExpenseProcedure, connect.NewUnaryHandler(LedgerServiceUpdateExpenseProcedure, svc.UpdateExpense, opts...))
	mux.Handle(LedgerServiceDeleteExpenseProcedure, connect.NewUnaryHandler(LedgerServiceDeleteExpenseProcedure, svc.DeleteExpense, opts...))
	mux.Handle(LedgerServiceGetExpenseProcedure, connect.NewUnaryHandler(LedgerServiceGetExpenseProcedure, svc.GetExpense, opts...))
	mux.Handle(LedgerServiceListExpensesProcedure, connect.NewUnaryHandler(LedgerServiceListExpensesProcedure, svc.ListExpenses, opts...))
	mux.Handle(LedgerServiceCreateSettlementProcedure, connect.NewUnaryHandler(LedgerServiceCreateSettlementProcedure, svc.CreateSettlement, opts...))
	mux.Handle(LedgerServiceUpdateSettlementProcedure, connect.NewUnaryHandler(LedgerServiceUpdateSettlementProcedure, svc.UpdateSettlement, opts...))
	mux.Handle(LedgerServiceDeleteSettlementProcedure, connect.NewUnaryHandler(LedgerServiceDeleteSettlementProcedure, svc.DeleteSettlement, opts...))
	mux.Handle(LedgerServiceLockSettlementProcedure, connect.NewUnaryHandler(LedgerServiceLockSettlementProcedure, svc.LockSettlement, opts...))
	mux.Handle(LedgerServiceGetSettlementProcedure, connect.NewUnaryHandler(LedgerServiceGetSettlementProcedure, svc.GetSettlement, opts...))
	mux.Handle(LedgerServiceListSettlementsProcedure, connect.NewUnaryHandler(LedgerServiceListSettlementsProcedure, svc.ListSettlements, opts...))
	mux.Handle(LedgerServiceGetBalancesProcedure, connect.NewUnaryHandler(LedgerServiceGetBalancesProcedure, svc.GetBalances, opts...))
	mux.Handle(LedgerServiceCalculateSplitProcedure, connect.NewUnaryHandler(LedgerServiceCalculateSplitProcedure, svc.CalculateSplit, opts...))
	return "/" + LedgerServiceName + "/", mux
}

// LedgerServiceClient is a client for the LedgerService.
type LedgerServiceClient struct {
	createExpense    *connect.Client[CreateExpenseRequest, ExpenseResponse]
	updateExpense    *connect.Client[UpdateExpenseRequest, ExpenseResponse]
	deleteExpense    *connect.Client[DeleteExpenseRequest, Empty]
	getExpense       *connect.Client[GetExpenseRequest, ExpenseResponse]
	listExpenses     *connect.Client[ListExpensesRequest, ListExpensesResponse]
	createSettlement *connect.Client[CreateSettlementRequest, SettlementResponse]
	updateSettlement *connect.Client[UpdateSettlementRequest, SettlementResponse]
	deleteSettlement *connect.Client[SettlementRequest, Empty]
	lockSettlement   *connect.Client[SettlementRequest, SettlementResponse]
	getSettlement    *connect.Client[SettlementRequest, SettlementResponse]
	listSettlements  *connect.Client[ListSettlementsRequest, ListSettlementsResponse]
	getBalances      *connect.Client[GetBalancesRequest, GetBalancesResponse]
	calculateSplit   *connect.Client[CalculateSplitRequest, CalculateSplitResponse]
}

// NewLedgerServiceClient constructs a client for the LedgerService at baseURL.
func NewLedgerServiceClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *LedgerServiceClient {
	opts = withClientCodec(opts)
	return &LedgerServiceClient{
		createExpense:    connect.NewClient[CreateExpenseRequest, ExpenseResponse](httpClient, baseURL+LedgerServiceCreateExpenseProcedure, opts...),
		updateExpense:    connect.NewClient[UpdateExpenseRequest, ExpenseResponse](httpClient, baseURL+LedgerServiceUpdateExpenseProcedure, opts...),
		deleteExpense:    connect.NewClient[DeleteExpenseRequest, Empty](httpClient, baseURL+LedgerServiceDeleteExpenseProcedure, opts...),
		getExpense:       connect.NewClient[GetExpenseRequest, ExpenseResponse](httpClient, baseURL+LedgerServiceGetExpenseProcedure, opts...),
		listExpenses:     connect.NewClient[ListExpensesRequest, ListExpensesResponse](httpClient, baseURL+LedgerServiceListExpensesProcedure, opts...),
		createSettlement: connect.NewClient[CreateSettlementRequest, SettlementResponse](httpClient, baseURL+LedgerServiceCreateSettlementProcedure, opts...),
		updateSettlement: connect.NewClient[UpdateSettlementRequest, SettlementResponse](httpClient, baseURL+LedgerServiceUpdateSettlementProcedure, opts...),
		deleteSettlement: connect.NewClient[SettlementRequest, Empty](httpClient, baseURL+LedgerServiceDeleteSettlementProcedure, opts...),
		lockSettlement:   connect.NewClient[SettlementRequest, SettlementResponse](httpClient, baseURL+LedgerServiceLockSettlementProcedure, opts...),
		getSettlement:    connect.NewClient[SettlementRequest, SettlementResponse](httpClient, baseURL+LedgerServiceGetSettlementProcedure, opts...),
		listSettlements:  connect.NewClient[ListSettlementsRequest, ListSettlementsResponse](httpClient, baseURL+LedgerServiceListSettlementsProcedure, opts...),
		getBalances:      connect.NewClient[GetBalancesRequest, GetBalancesResponse](httpClient, baseURL+LedgerServiceGetBalancesProcedure, opts...),
		calculateSplit:   connect.NewClient[CalculateSplitRequest, CalculateSplitResponse](httpClient, baseURL+LedgerServiceCalculateSplitProcedure, opts...),
	}
}

func (c *LedgerServiceClient) CreateExpense(ctx context.Context, req *connect.Request[CreateExpenseRequest]) (*connect.Response[ExpenseResponse], error) {
	return c.createExpense.CallUnary(ctx, req)
}

func (c *LedgerServiceClient) UpdateExpense(ctx context.Context, req *connect.Request[UpdateExpenseRequest]) (*connect.Response[ExpenseResponse], error) {
	return c.updateExpense.CallUnary(ctx, req)
}

func (c *LedgerServiceClient) DeleteExpense(ctx context.Context, req *connect.Request[DeleteExpenseRequest]) (*connect.Response[Empty], error) {
	return c.deleteExpense.CallUnary(ctx, req)
}

func (c *LedgerServiceClient) GetExpense(ctx context.Context, req *connect.Request[GetExpenseRequest]) (*connect.Response[ExpenseResponse], error) {
	return c.getExpense.CallUnary(ctx, req)
}

func (c *LedgerServiceClient) ListExpenses(ctx context.Context, req *connect.Request[ListExpensesRequest]) (*connect.Response[ListExpensesResponse], error) {
	return c.listExpenses.CallUnary(ctx, req)
}

func (c *LedgerServiceClient) CreateSettlement(ctx context.Context, req *connect.Request[CreateSettlementRequest]) (*connect.Response[SettlementResponse], error) {
	return c.createSettlement.CallUnary(ctx, req)
}

func (c *LedgerServiceClient) UpdateSettlement(ctx context.Context, req *connect.Request[UpdateSettlementRequest]) (*connect.Response[SettlementResponse], error) {
	return c.updateSettlement.CallUnary(ctx, req)
}

func (c *LedgerServiceClient) DeleteSettlement(ctx context.Context, req *connect.Request[SettlementRequest]) (*connect.Response[Empty], error) {
	return c.deleteSettlement.CallUnary(ctx, req)
}

func (c *LedgerServiceClient) LockSettlement(ctx context.Context, req *connect.Request[SettlementRequest]) (*connect.Response[SettlementResponse], error) {
	return c.lockSettlement.CallUnary(ctx, req)
}

func (c *LedgerServiceClient) GetSettlement(ctx context.Context, req *connect.Request[SettlementRequest]) (*connect.Response[SettlementResponse], error) {
	return c.getSettlement.CallUnary(ctx, req)
}

func (c *LedgerServiceClient) ListSettlements(ctx context.Context, req *connect.Request[ListSettlementsRequest]) (*connect.Response[ListSettlementsResponse], error) {
	return c.listSettlements.CallUnary(ctx, req)
}

func (c *LedgerServiceClient) GetBalances(ctx context.Context, req *connect.Request[GetBalancesRequest]) (*connect.Response[GetBalancesResponse], error) {
	return c.getBalances.CallUnary(ctx, req)
}

func (c *LedgerServiceClient) CalculateSplit(ctx context.Context, req *connect.Request[CalculateSplitRequest]) (*connect.Response[CalculateSplitResponse], error) {
	return c.calculateSplit.CallUnary(ctx, req)
}
