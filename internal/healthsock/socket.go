// Package healthsock implements the local IPC endpoint spec.md §4.6
// describes: a unix domain socket under the runtime directory accepting
// one JSON command per connection and writing one JSON response.
// Grounded on the teacher's internal/web package's accept-loop shape
// (short-timeout accept so a shutdown flag is observed promptly),
// generalized from HTTP to a raw unix listener.
package healthsock

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/sai-cam/agentd/internal/agentlog"
	"github.com/sai-cam/agentd/internal/health"
)

// Command is the request envelope read from each connection.
type Command struct {
	Action   string `json:"action"`
	CameraID string `json:"camera_id,omitempty"`
}

// Response is the envelope written back. Fields are omitted when unused so
// {error:"..."} and {ok:true} responses stay minimal on the wire.
type Response struct {
	OK      bool              `json:"ok,omitempty"`
	Error   string            `json:"error,omitempty"`
	Action  string            `json:"action,omitempty"`
	Health  *health.Snapshot  `json:"health,omitempty"`
}

// Handlers is the set of callbacks the owning supervisor supplies; the
// socket itself holds no camera state.
type Handlers struct {
	// Health returns a fresh snapshot.
	Health func() health.Snapshot
	// ForceCapture signals the named camera; found=false when unknown.
	ForceCapture func(cameraID string) (found bool)
	// RestartCamera performs the restart-or-queue-retry flow of spec.md
	// §4.5 and reports which branch happened, or an error.
	RestartCamera func(cameraID string) (action string, err error)
}

// Server owns the listening socket.
type Server struct {
	path     string
	listener net.Listener
	handlers Handlers
	logger   *slog.Logger
}

// Listen binds a unix socket at path, removing any stale socket file left
// behind by an unclean prior shutdown, and sets mode 0666 so the
// ControlPortal (run as a possibly different user) can connect.
func Listen(path string, handlers Handlers, logger *slog.Logger) (*Server, error) {
	_ = os.Remove(path)
	l, err := net.Listen("unix", path)
	if err != nil {
		return nil, err
	}
	if err := os.Chmod(path, 0o666); err != nil {
		l.Close()
		return nil, err
	}
	return &Server{path: path, listener: l, handlers: handlers, logger: logger}, nil
}

// Serve accepts connections until stopCh is closed. Each accept uses a
// 1-second deadline so the stop signal is observed promptly, per spec.md
// §5's "IPC accept uses a 1-second poll".
func (s *Server) Serve(stopCh <-chan struct{}) {
	type deadliner interface {
		SetDeadline(time.Time) error
	}
	for {
		select {
		case <-stopCh:
			return
		default:
		}

		if tl, ok := s.listener.(deadliner); ok {
			_ = tl.SetDeadline(time.Now().Add(time.Second))
		}
		conn, err := s.listener.Accept()
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			select {
			case <-stopCh:
				return
			default:
				if s.logger != nil {
					s.logger.Error("healthsock accept failed", "error", err)
				}
				continue
			}
		}
		go s.handle(conn)
	}
}

// Close closes the listener and removes the socket file.
func (s *Server) Close() error {
	err := s.listener.Close()
	_ = os.Remove(s.path)
	return err
}

func (s *Server) handle(conn net.Conn) {
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))

	correlationID := uuid.NewString()
	ctx := agentlog.WithCorrelationID(context.Background(), correlationID)
	if s.logger != nil {
		s.logger.DebugContext(ctx, "healthsock connection accepted", "remote", conn.RemoteAddr())
	}

	var cmd Command
	if err := json.NewDecoder(conn).Decode(&cmd); err != nil {
		writeResponse(conn, Response{Error: "invalid request"})
		return
	}

	if s.logger != nil {
		s.logger.DebugContext(ctx, "healthsock command", "action", cmd.Action, "camera_id", cmd.CameraID)
	}

	switch cmd.Action {
	case "health":
		snap := s.handlers.Health()
		writeResponse(conn, Response{Health: &snap})
	case "force_capture":
		if s.handlers.ForceCapture == nil || !s.handlers.ForceCapture(cmd.CameraID) {
			writeResponse(conn, Response{Error: "not found"})
			return
		}
		writeResponse(conn, Response{OK: true})
	case "restart_camera":
		if s.handlers.RestartCamera == nil {
			writeResponse(conn, Response{Error: "not found"})
			return
		}
		action, err := s.handlers.RestartCamera(cmd.CameraID)
		if err != nil {
			writeResponse(conn, Response{Error: err.Error()})
			return
		}
		writeResponse(conn, Response{OK: true, Action: action})
	default:
		writeResponse(conn, Response{Error: "unknown action"})
	}
}

func writeResponse(conn net.Conn, resp Response) {
	_ = json.NewEncoder(conn).Encode(resp)
}

// Dial sends one Command to the socket at path and returns its Response.
// Used by the ControlPortal, which has no direct access to supervisor
// state and must always go through the socket (spec.md §4.7's "proxy to
// HealthSocket").
func Dial(path string, cmd Command, timeout time.Duration) (Response, error) {
	conn, err := net.DialTimeout("unix", path, timeout)
	if err != nil {
		return Response{}, err
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(timeout))

	if err := json.NewEncoder(conn).Encode(cmd); err != nil {
		return Response{}, err
	}
	var resp Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return Response{}, err
	}
	return resp, nil
}
