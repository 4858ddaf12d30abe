package middleware

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"connectrpc.com/connect"
)

// LoggingInterceptor logs every RPC call with its procedure, user ID,
// duration and, on failure, the connect and ledger error codes. Streams are
// logged once when they end.
type LoggingInterceptor struct{}

// NewLoggingInterceptor returns a Connect interceptor for unary and streaming calls.
func NewLoggingInterceptor() *LoggingInterceptor {
	return &LoggingInterceptor{}
}

// WrapUnary logs unary calls.
func (LoggingInterceptor) WrapUnary(next connect.UnaryFunc) connect.UnaryFunc {
	return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
		if req.Spec().IsClient {
			return next(ctx, req)
		}
		start := time.Now()
		resp, err := next(ctx, req)
		logCall(req.Spec().Procedure, GetUserID(ctx), start, err)
		return resp, err
	}
}

// WrapStreamingClient is a no-op.
func (LoggingInterceptor) WrapStreamingClient(next connect.StreamingClientFunc) connect.StreamingClientFunc {
	return next
}

// WrapStreamingHandler logs streaming calls.
func (LoggingInterceptor) WrapStreamingHandler(next connect.StreamingHandlerFunc) connect.StreamingHandlerFunc {
	return func(ctx context.Context, conn connect.StreamingHandlerConn) error {
		start := time.Now()
		procedure := conn.Spec().Procedure
		userID := GetUserID(ctx)

		slog.Info("Stream opened", "procedure", procedure, "user_id", userID)

		err := next(ctx, conn)
		logCall(procedure, userID, start, err)
		return err
	}
}

func logCall(procedure, userID string, start time.Time, err error) {
	duration := time.Since(start).Milliseconds()
	if err == nil {
		slog.Info("RPC ok",
			"procedure", procedure,
			"user_id", userID,
			"duration_ms", duration,
		)
		return
	}

	var connectErr *connect.Error
	if errors.As(err, &connectErr) {
		level := slog.LevelWarn
		if connectErr.Code() == connect.CodeInternal || connectErr.Code() == connect.CodeUnknown {
			level = slog.LevelError
		}
		slog.Log(context.Background(), level, "RPC error",
			"procedure", procedure,
			"code", connectErr.Code(),
			"ledger_code", connectErr.Meta().Get(ErrorCodeHeader),
			"error", connectErr.Message(),
			"user_id", userID,
			"duration_ms", duration,
		)
		return
	}
	slog.Error("RPC error",
		"procedure", procedure,
		"error", err,
		"user_id", userID,
		"duration_ms", duration,
	)
}
