package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/draftwell/refinery/cmd/refinery/models"
	"github.com/draftwell/refinery/cmd/refinery/service"
	"github.com/draftwell/refinery/common/auth"
	"github.com/draftwell/refinery/common/clients"
	"github.com/draftwell/refinery/common/logger"
)

// ProposalUpdater is the slice of the orchestration engine the proxy uses to
// authorize streams and record their outcomes.
type ProposalUpdater interface {
	CanAccessThread(ctx context.Context, threadID string, userID uuid.UUID) (bool, error)
	UpdateProposalFilesFromStream(ctx context.Context, threadID string, files map[string]interface{}) error
	UpdateProposalStatusFromStream(ctx context.Context, threadID string, status models.ProposalStatus, errMsg string) error
}

// StreamDialer opens a stream connection to the runtime for a thread.
type StreamDialer interface {
	StreamDial(ctx context.Context, threadID string) (*websocket.Conn, error)
}

// RefinementProxy relays the runtime's event stream to clients. Each
// connection runs two relay goroutines, one per direction, and the runtime
// side is watched for state snapshots so the proposal can be finalized when
// the stream ends.
type RefinementProxy struct {
	proposals ProposalUpdater
	dialer    StreamDialer
	jwt       *auth.JWTManager
	tasks     *service.TaskRunner
	log       *logger.Logger
	upgrader  websocket.Upgrader
}

// NewRefinementProxy creates a new streaming proxy
func NewRefinementProxy(proposals ProposalUpdater, dialer StreamDialer, jwt *auth.JWTManager, tasks *service.TaskRunner, log *logger.Logger) *RefinementProxy {
	return &RefinementProxy{
		proposals: proposals,
		dialer:    dialer,
		jwt:       jwt,
		tasks:     tasks,
		log:       log,
		upgrader: websocket.Upgrader{
			HandshakeTimeout: 10 * time.Second,
			// TODO: restrict origins once the frontend origin is pinned down.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Stream handles GET /api/ws/refinements/:thread_id. Auth and access
// failures complete the upgrade and close the socket with a policy
// violation, so browser clients observe a close code instead of a failed
// handshake.
func (p *RefinementProxy) Stream(c echo.Context) error {
	threadID := c.Param("thread_id")

	clientConn, err := p.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		p.log.Warn("websocket upgrade failed", "thread_id", threadID, "error", err)
		return nil
	}
	defer clientConn.Close()

	token := auth.ExtractToken(c.Request())
	claims, err := p.jwt.ValidateToken(token)
	if err != nil {
		p.closeWith(clientConn, websocket.ClosePolicyViolation, "unauthorized")
		return nil
	}

	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		p.closeWith(clientConn, websocket.ClosePolicyViolation, "unauthorized")
		return nil
	}

	ctx := c.Request().Context()
	allowed, err := p.proposals.CanAccessThread(ctx, threadID, userID)
	if err != nil {
		p.log.Error("thread access check failed", "thread_id", threadID, "error", err)
		p.closeWith(clientConn, websocket.CloseInternalServerErr, "internal error")
		return nil
	}
	if !allowed {
		p.closeWith(clientConn, websocket.ClosePolicyViolation, "forbidden")
		return nil
	}

	runtimeConn, err := p.dialer.StreamDial(ctx, threadID)
	if err != nil {
		p.log.Error("runtime stream dial failed", "thread_id", threadID, "error", err)
		p.sendErrorEvent(clientConn, "failed to connect to runtime")
		p.markFailed(threadID, fmt.Sprintf("runtime stream unavailable: %v", err))
		p.closeWith(clientConn, websocket.CloseInternalServerErr, "runtime unavailable")
		return nil
	}
	defer runtimeConn.Close()

	p.log.Info("stream session opened", "thread_id", threadID, "user_id", userID)
	p.relay(clientConn, runtimeConn, threadID)
	p.log.Info("stream session closed", "thread_id", threadID)
	return nil
}

// relayFault reports which side of the relay stopped and why. A nil err
// means the runtime signalled normal completion with an end event.
type relayFault struct {
	runtimeSide bool
	err         error
}

// relay runs both directions until one stops. Message order within each
// direction is preserved; the two directions are independent streams.
func (p *RefinementProxy) relay(clientConn, runtimeConn *websocket.Conn, threadID string) {
	faults := make(chan relayFault, 2)

	// client -> runtime: forward verbatim
	go func() {
		for {
			messageType, message, err := clientConn.ReadMessage()
			if err != nil {
				faults <- relayFault{runtimeSide: false, err: err}
				return
			}
			if err := runtimeConn.WriteMessage(messageType, message); err != nil {
				faults <- relayFault{runtimeSide: true, err: err}
				return
			}
		}
	}()

	// runtime -> client: forward events, remember the latest files snapshot
	go func() {
		var latestFiles map[string]interface{}

		for {
			_, raw, err := runtimeConn.ReadMessage()
			if err != nil {
				faults <- relayFault{runtimeSide: true, err: err}
				return
			}

			var event clients.StreamEvent
			if err := json.Unmarshal(raw, &event); err != nil {
				p.log.Warn("dropping malformed stream message", "thread_id", threadID, "error", err)
				continue
			}

			if event.EventType == "on_state_update" {
				if files, ok := event.Data["files"].(map[string]interface{}); ok {
					latestFiles = files
				}
			}

			if err := clientConn.WriteMessage(websocket.TextMessage, raw); err != nil {
				faults <- relayFault{runtimeSide: false, err: err}
				return
			}

			if event.EventType == "end" {
				files := latestFiles
				p.tasks.Go("stream-finalize", func(ctx context.Context) {
					if err := p.proposals.UpdateProposalFilesFromStream(ctx, threadID, files); err != nil {
						p.log.Error("failed to record stream completion", "thread_id", threadID, "error", err)
					}
				})
				faults <- relayFault{runtimeSide: true, err: nil}
				return
			}
		}
	}()

	fault := <-faults

	switch {
	case fault.err == nil:
		p.closeWith(clientConn, websocket.CloseNormalClosure, "")
	case !fault.runtimeSide:
		// Client went away. Closing both sockets unblocks the other relay;
		// nothing is written on its behalf.
		p.log.Debug("client disconnected", "thread_id", threadID, "error", fault.err)
	case isExpectedClose(fault.err):
		p.closeWith(clientConn, websocket.CloseNormalClosure, "")
	default:
		p.log.Error("runtime stream error", "thread_id", threadID, "error", fault.err)
		p.markFailed(threadID, fault.err.Error())
		p.closeWith(clientConn, websocket.CloseInternalServerErr, "runtime stream error")
	}
}

// markFailed records a runtime failure without blocking the relay teardown.
// A proposal that already reached a terminal state stays as it is; the guard
// firing on a reconnect to a finished thread is not an error.
func (p *RefinementProxy) markFailed(threadID, errMsg string) {
	p.tasks.Go("stream-failure", func(ctx context.Context) {
		err := p.proposals.UpdateProposalStatusFromStream(ctx, threadID, models.ProposalFailed, errMsg)
		switch {
		case err == nil:
		case errors.Is(err, models.ErrInvalidState):
			p.log.Debug("stream failure on finished proposal ignored", "thread_id", threadID)
		default:
			p.log.Error("failed to record stream failure", "thread_id", threadID, "error", err)
		}
	})
}

func (p *RefinementProxy) sendErrorEvent(conn *websocket.Conn, message string) {
	event := clients.StreamEvent{
		EventType: "error",
		Data:      map[string]interface{}{"error": message},
	}
	if err := conn.WriteJSON(event); err != nil {
		p.log.Debug("failed to send error event", "error", err)
	}
}

func (p *RefinementProxy) closeWith(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)); err != nil {
		p.log.Debug("failed to write close message", "error", err)
	}
}

func isExpectedClose(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}
