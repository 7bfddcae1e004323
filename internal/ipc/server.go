package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"sync"
	"time"

	"log/slog"

	"brownout/internal/daemon"
	"brownout/internal/journal"
	"brownout/internal/logging"
	"brownout/internal/notify"
	"brownout/internal/orchestrator"
)

const defaultAwaitMillis = 30_000

// Server exposes daemon control via JSON-RPC over a Unix domain socket.
type Server struct {
	path      string
	daemon    *daemon.Daemon
	logger    *slog.Logger
	listener  net.Listener
	rpcServer *rpc.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer configures the IPC server at the given socket path.
func NewServer(ctx context.Context, path string, d *daemon.Daemon, logger *slog.Logger) (*Server, error) {
	if d == nil {
		return nil, errors.New("ipc server requires daemon")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}

	rpcServer := rpc.NewServer()
	srv := &service{daemon: d, logger: logger, ctx: ctx}
	if err := rpcServer.RegisterName("Brownout", srv); err != nil {
		listener.Close()
		return nil, fmt.Errorf("register rpc service: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	return &Server{
		path:      path,
		daemon:    d,
		logger:    logger,
		listener:  listener,
		rpcServer: rpcServer,
		ctx:       serverCtx,
		cancel:    cancel,
	}, nil
}

// Serve starts accepting RPC connections until the context is canceled.
func (s *Server) Serve() {
	s.logger.Debug("IPC server listening", logging.String("socket", s.path))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
				}
				s.logger.Warn("accept failed",
					logging.Error(err),
					logging.String(logging.FieldEventType, "ipc_accept_failed"),
					logging.String(logging.FieldImpact, "IPC clients may fail to connect"),
					logging.String(logging.FieldErrorHint, "Check socket permissions and restart the daemon if needed"))
				continue
			}
			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(c))
			}(conn)
		}
	}()
}

// Close stops the server and removes the socket file.
func (s *Server) Close() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
	if err := os.RemoveAll(s.path); err != nil {
		s.logger.Warn("failed to remove socket",
			logging.String("socket", s.path),
			logging.Error(err),
			logging.String(logging.FieldEventType, "ipc_socket_cleanup_failed"),
			logging.String(logging.FieldImpact, "stale IPC socket may block future starts"),
			logging.String(logging.FieldErrorHint, "Remove the socket file manually before restarting"))
	}
}

type service struct {
	daemon *daemon.Daemon
	logger *slog.Logger
	ctx    context.Context
}

func (s *service) log() *slog.Logger {
	if s.logger == nil {
		return logging.NewNop()
	}
	return s.logger.With(logging.String(logging.FieldComponent, "ipc"))
}

func (s *service) Status(_ StatusRequest, resp *StatusResponse) error {
	resp.Status = s.daemon.Status(s.ctx)
	return nil
}

func (s *service) RequestShutdown(req ShutdownRequest, resp *ShutdownResponse) error {
	s.log().Debug("shutdown requested via IPC")
	err := s.daemon.RequestShutdown(s.ctx, req.Reason)
	switch {
	case err == nil:
		resp.Armed = true
		resp.Message = "shutdown countdown armed"
		s.log().Info("shutdown armed via IPC",
			logging.String(logging.FieldEventType, "ipc_shutdown_request"),
			logging.String("reason", req.Reason))
	case errors.Is(err, orchestrator.ErrAlreadyCommitted):
		resp.Armed = false
		resp.Message = "shutdown already committed"
	default:
		return err
	}
	return nil
}

func (s *service) CancelShutdown(_ CancelRequest, resp *CancelResponse) error {
	err := s.daemon.CancelShutdown(s.ctx)
	switch {
	case err == nil:
		resp.Cancelled = true
		resp.Message = "shutdown countdown cancelled"
		s.log().Info("shutdown cancelled via IPC",
			logging.String(logging.FieldEventType, "ipc_shutdown_cancel"))
	case errors.Is(err, orchestrator.ErrNotArmed):
		resp.Cancelled = false
		resp.Message = "no shutdown countdown to cancel"
	case errors.Is(err, orchestrator.ErrAlreadyCommitted):
		resp.Cancelled = false
		resp.Message = "shutdown already committed"
	default:
		return err
	}
	return nil
}

func (s *service) Register(req RegisterRequest, resp *RegisterResponse) error {
	if req.Service == "" {
		return errors.New("service name required")
	}
	resp.Token = s.daemon.Register(req.Service)
	return nil
}

func (s *service) Unregister(req UnregisterRequest, _ *UnregisterResponse) error {
	s.daemon.Unregister(req.Token)
	return nil
}

func (s *service) Ack(req AckRequest, _ *AckResponse) error {
	return s.daemon.Ack(req.Token)
}

func (s *service) AwaitNotice(req AwaitNoticeRequest, resp *AwaitNoticeResponse) error {
	wait := time.Duration(req.WaitMillis) * time.Millisecond
	if wait <= 0 {
		wait = defaultAwaitMillis * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(s.ctx, wait)
	defer cancel()

	notice, err := s.daemon.AwaitNotice(ctx, req.Token)
	switch {
	case err == nil:
		resp.Reason = notice.Reason
		resp.Deadline = notice.Deadline
	case errors.Is(err, context.DeadlineExceeded):
		resp.Pending = true
	case errors.Is(err, notify.ErrUnknownToken):
		return err
	default:
		return err
	}
	return nil
}

func (s *service) Events(req EventsRequest, resp *EventsResponse) error {
	entries, err := s.daemon.Events(s.ctx, req.Limit)
	if err != nil {
		return err
	}
	resp.Events = make([]Event, 0, len(entries))
	for _, entry := range entries {
		resp.Events = append(resp.Events, convertEntry(entry))
	}
	return nil
}

func (s *service) JournalHealth(_ JournalHealthRequest, resp *JournalHealthResponse) error {
	health, err := s.daemon.JournalHealth(s.ctx)
	if err != nil {
		return err
	}
	resp.Health = health
	return nil
}

func (s *service) TestNotification(_ TestNotificationRequest, resp *TestNotificationResponse) error {
	if err := s.daemon.TestNotification(s.ctx); err != nil {
		resp.Sent = false
		resp.Message = err.Error()
		return nil
	}
	resp.Sent = true
	resp.Message = "test notification sent"
	return nil
}

func convertEntry(entry journal.Entry) Event {
	return Event{
		ID:        entry.ID,
		Kind:      string(entry.Kind),
		Phase:     entry.Phase,
		Step:      entry.Step,
		Detail:    entry.Detail,
		CreatedAt: entry.CreatedAt,
	}
}
