package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"connectrpc.com/connect"

	"github.com/mmynk/splitledger/internal/apperr"
	"github.com/mmynk/splitledger/internal/ledger"
	"github.com/mmynk/splitledger/internal/middleware"
	"github.com/mmynk/splitledger/internal/notify"
)

// NotificationServiceName is the fully-qualified name of the NotificationService service.
const NotificationServiceName = "splitledger.v1.NotificationService"

// Procedure paths of NotificationService.
const (
	NotificationServiceSubscribeProcedure = "/splitledger.v1.NotificationService/Subscribe"
	NotificationServiceGetRecordProcedure = "/splitledger.v1.NotificationService/GetRecord"
)

// NotificationService streams change notifications to the caller.
type NotificationService struct {
	ledger *ledger.Manager
	hub    *notify.Hub
}

// NewNotificationService creates a NotificationService reading records from
// manager and live events from hub.
func NewNotificationService(manager *ledger.Manager, hub *notify.Hub) *NotificationService {
	return &NotificationService{ledger: manager, hub: hub}
}

// GetRecord returns the caller's notification record.
func (s *NotificationService) GetRecord(ctx context.Context, _ *connect.Request[GetRecordRequest]) (*connect.Response[GetRecordResponse], error) {
	record, err := s.ledger.GetNotificationRecord(ctx, middleware.GetUserID(ctx))
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&GetRecordResponse{Record: toRecord(record)}), nil
}

// Subscribe sends a snapshot of the caller's record followed by live events.
// A subscriber that falls behind is dropped with ResourceExhausted and should
// reconnect.
func (s *NotificationService) Subscribe(ctx context.Context, _ *connect.Request[SubscribeRequest], stream *connect.ServerStream[NotificationEvent]) error {
	err := s.stream(ctx, middleware.GetUserID(ctx), stream.Send)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, notify.ErrSubscriberLagging):
		return connect.NewError(connect.CodeResourceExhausted, err)
	case errors.Is(err, notify.ErrHubClosed):
		return connect.NewError(connect.CodeUnavailable, err)
	default:
		var connectErr *connect.Error
		if errors.As(err, &connectErr) {
			return err
		}
		return toConnectError(err)
	}
}

// stream subscribes before reading the snapshot so no event committed in
// between is lost. Events already covered by the snapshot may repeat.
func (s *NotificationService) stream(ctx context.Context, userID string, send func(*NotificationEvent) error) error {
	if userID == "" {
		return apperr.New(apperr.CodeUnauthorized, "caller is not authenticated")
	}

	sub := s.hub.Subscribe(userID)
	defer sub.Close()

	record, err := s.ledger.GetNotificationRecord(ctx, userID)
	if err != nil {
		return err
	}
	snapshot := notify.SnapshotEvents(record)
	for _, ev := range snapshot {
		if err := send(toEvent(ev)); err != nil {
			return err
		}
	}
	slog.Debug("Snapshot sent", "user_id", userID, "events", len(snapshot))

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-sub.Done():
			return sub.Err()
		case ev := <-sub.Events():
			if err := send(toEvent(ev)); err != nil {
				return err
			}
		}
	}
}

// HandleSSE serves the same feed as Subscribe via Server-Sent Events.
// GET /v1/notifications/stream
func (s *NotificationService) HandleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		http.Error(w, "caller is not authenticated", http.StatusUnauthorized)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher.Flush()

	send := func(ev *NotificationEvent) error {
		data, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	err := s.stream(r.Context(), userID, send)
	if err == nil {
		return
	}
	slog.Warn("SSE stream ended", "user_id", userID, "error", err, "status", httpStatus(err))
	if errors.Is(err, notify.ErrSubscriberLagging) {
		fmt.Fprint(w, "event: resync\ndata: {}\n\n")
		flusher.Flush()
	}
}

// NewNotificationServiceHandler builds an HTTP handler for every NotificationService procedure.
func NewNotificationServiceHandler(svc *NotificationService, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = withCodec(opts)
	mux := http.NewServeMux()
	mux.Handle(NotificationServiceSubscribeProcedure, connect.NewServerStreamHandler(NotificationServiceSubscribeProcedure, svc.Subscribe, opts...))
	mux.Handle(NotificationServiceGetRecordProcedure, connect.NewUnaryHandler(NotificationServiceGetRecordProcedure, svc.GetRecord, opts...))
	return "/" + NotificationServiceName + "/", mux
}

// NotificationServiceClient is a client for the NotificationService.
type NotificationServiceClient struct {
	subscribe *connect.Client[SubscribeRequest, NotificationEvent]
	getRecord *connect.Client[GetRecordRequest, GetRecordResponse]
}

// NewNotificationServiceClient constructs a client for the NotificationService at baseURL.
func NewNotificationServiceClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *NotificationServiceClient {
	opts = withClientCodec(opts)
	return &NotificationServiceClient{
		subscribe: connect.NewClient[SubscribeRequest, NotificationEvent](httpClient, baseURL+NotificationServiceSubscribeProcedure, opts...),
		getRecord: connect.NewClient[GetRecordRequest, GetRecordResponse](httpClient, baseURL+NotificationServiceGetRecordProcedure, opts...),
	}
}

func (c *NotificationServiceClient) Subscribe(ctx context.Context, req *connect.Request[SubscribeRequest]) (*connect.ServerStreamForClient[NotificationEvent], error) {
	return c.subscribe.CallServerStream(ctx, req)
}

func (c *NotificationServiceClient) GetRecord(ctx context.Context, req *connect.Request[GetRecordRequest]) (*connect.Response[GetRecordResponse], error) {
	return c.getRecord.CallUnary(ctx, req)
}
