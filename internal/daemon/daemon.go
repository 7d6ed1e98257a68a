package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yo-run/yo/internal/breaker"
	"github.com/yo-run/yo/internal/bus"
	"github.com/yo-run/yo/internal/errs"
	"github.com/yo-run/yo/internal/policy"
	"github.com/yo-run/yo/internal/scheduler"
	"github.com/yo-run/yo/internal/session"
)

// TurnRunner drives one agent turn for a session. internal/agent.
// TurnRunnerAdapter satisfies this; Daemon depends only on the interface so
// the protocol and session-ownership logic can be exercised without
// constructing a full runner.
type TurnRunner interface {
	RunTurn(ctx context.Context, sess *session.Session, userMessage string) error
}

// Config configures a Daemon instance.
type Config struct {
	SocketPath       string
	InboundQueueSize int // per-connection bounded queue; 0 means DefaultInboundQueueSize
	MaxSessions      int

	// Sessions, when set, backs session.create/session.get/session.end with
	// on-disk persistence so a session survives a daemon restart; nil keeps
	// sessions purely in-memory.
	Sessions *session.Manager

	// Identity, when set, is included in health.status so a connecting
	// gateway client can learn the agent's name, model and capabilities
	// without a separate round trip. Kept as a plain map rather than an
	// internal/agent type so this package continues to depend only on the
	// TurnRunner interface, not the concrete runner package.
	Identity func() map[string]any
}

const DefaultInboundQueueSize = 32

// sessionEntry pairs a session with the mutex serializing turns on it
// (per-session turn serialization).
type sessionEntry struct {
	mu   sync.Mutex
	sess *session.Session
}

// Daemon owns the in-memory session map and the RPC surface described in
// protocol.go. It has no knowledge of transport beyond io.ReadWriter —
// Serve is called once per accepted connection.
type Daemon struct {
	cfg      Config
	sessions sync.Map // sessionID -> *sessionEntry
	runner   TurnRunner
	policy   *policy.RuleEngine
	breakers *breaker.Registry
	events   *bus.EventBus
	sched    *scheduler.Scheduler

	nextConnID uint64
}

// New builds a Daemon. Any of runner/rules/breakers/events/sched may be nil;
// methods that depend on a nil collaborator return a NotFound/Internal error
// rather than panicking.
func New(cfg Config, runner TurnRunner, rules *policy.RuleEngine, breakers *breaker.Registry, events *bus.EventBus, sched *scheduler.Scheduler) *Daemon {
	if cfg.InboundQueueSize <= 0 {
		cfg.InboundQueueSize = DefaultInboundQueueSize
	}
	return &Daemon{
		cfg:      cfg,
		runner:   runner,
		policy:   rules,
		breakers: breakers,
		events:   events,
		sched:    sched,
	}
}

// ListenAndServe opens the configured Unix domain socket and serves
// connections until ctx is cancelled.
func (d *Daemon) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("unix", d.cfg.SocketPath)
	if err != nil {
		return fmt.Errorf("listen unix %s: %w", d.cfg.SocketPath, err)
	}
	defer ln.Close()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("accept: %w", err)
			}
		}
		go d.Serve(ctx, conn)
	}
}

// Serve handles one connection's request/response/event traffic until the
// peer disconnects or ctx is cancelled. Requests are read serially off the
// wire and dispatched onto a bounded queue; when the queue is full the
// daemon replies immediately with a Busy error rather than blocking the
// connection.
func (d *Daemon) Serve(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	connID := atomic.AddUint64(&d.nextConnID, 1)
	c := newCodec(conn)

	inbound := make(chan *Request, d.cfg.InboundQueueSize)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for req := range inbound {
			d.handle(ctx, c, req)
		}
	}()
	defer func() {
		close(inbound)
		wg.Wait()
	}()

	for {
		req, err := c.readRequest()
		if err != nil {
			if err.Error() != "EOF" {
				slog.Debug("daemon connection read error", "conn", connID, "err", err)
			}
			return
		}
		select {
		case inbound <- req:
		default:
			_ = c.writeResponse(req.ID, nil, &WireError{Code: string(errs.Busy), Message: "daemon is busy, retry shortly"})
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

func (d *Daemon) handle(ctx context.Context, c *codec, req *Request) {
	payload, wireErr := d.dispatch(ctx, req)
	if err := c.writeResponse(req.ID, payload, wireErr); err != nil {
		slog.Debug("daemon write response failed", "err", err)
	}
}

func (d *Daemon) dispatch(ctx context.Context, req *Request) (any, *WireError) {
	switch req.Method {
	case MethodChatSend:
		return d.handleChatSend(ctx, req)
	case MethodSessionCreate:
		return d.handleSessionCreate(req)
	case MethodSessionList:
		return d.handleSessionList(req)
	case MethodSessionGet:
		return d.handleSessionGet(req)
	case MethodSessionEnd:
		return d.handleSessionEnd(req)
	case MethodToolApprove:
		return d.handleToolApprove(ctx, req)
	case MethodTurnResume:
		return d.handleTurnResume(ctx, req)
	case MethodCronAdd:
		return d.handleCronAdd(req)
	case MethodCronRemove:
		return d.handleCronRemove(req)
	case MethodCronList:
		return d.handleCronList(req)
	case MethodDevicePair:
		return d.handleDevicePair(req)
	case MethodHealthStatus:
		return d.handleHealthStatus(req)
	default:
		return nil, &WireError{Code: string(errs.InvalidRequest), Message: fmt.Sprintf("unknown method %q", req.Method)}
	}
}

func toWireError(err error) *WireError {
	if err == nil {
		return nil
	}
	var e *errs.Error
	if ee, ok := err.(*errs.Error); ok {
		e = ee
	} else {
		e = errs.Wrap(errs.Internal, "unexpected error", err)
	}
	return &WireError{Code: string(e.Code), Message: e.Message, Tool: e.Tool, ToolID: e.ToolID}
}

func (d *Daemon) entry(id string) (*sessionEntry, bool) {
	v, ok := d.sessions.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*sessionEntry), true
}

// ---- session.* ----

type sessionCreateParams struct {
	SessionID string `json:"session_id,omitempty"`
	AgentID   string `json:"agent_id,omitempty"`
}

type sessionCreateResult struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
}

func (d *Daemon) handleSessionCreate(req *Request) (any, *WireError) {
	var p sessionCreateParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return nil, toWireError(errs.Wrap(errs.InvalidRequest, "bad params", err))
		}
	}
	id := p.SessionID
	if id == "" {
		id = fmt.Sprintf("sess-%d-%d", time.Now().UnixNano(), atomic.AddUint64(&d.nextConnID, 1))
	}
	var sess *session.Session
	if d.cfg.Sessions != nil {
		sess = d.cfg.Sessions.GetOrCreate(id)
	} else {
		sess = session.NewSession(id)
	}
	sess.State.ID = id
	if p.AgentID != "" {
		sess.State.AgentID = p.AgentID
	}
	sess.State.Status = session.StatusActive
	d.sessions.Store(id, &sessionEntry{sess: sess})
	return sessionCreateResult{SessionID: id, Status: string(session.StatusActive)}, nil
}

type sessionInfo struct {
	SessionID string  `json:"session_id"`
	AgentID   string  `json:"agent_id,omitempty"`
	Status    string  `json:"status"`
	TurnCount int     `json:"turn_count"`
	CostUSD   float64 `json:"cumulative_cost_usd"`
}

type sessionListParams struct {
	IncludeRecoverable bool `json:"include_recoverable,omitempty"`
}

// handleSessionList answers Open Question (a): by default it returns only
// hot (in-memory) sessions. IncludeRecoverable additionally scans the
// on-disk transcript directory for ended/evicted sessions not currently
// live, deduplicating against the hot set by session id.
func (d *Daemon) handleSessionList(req *Request) (any, *WireError) {
	var p sessionListParams
	if len(req.Params) > 0 {
		_ = json.Unmarshal(req.Params, &p)
	}
	seen := make(map[string]bool)
	var out []sessionInfo
	d.sessions.Range(func(_, v any) bool {
		e := v.(*sessionEntry)
		e.mu.Lock()
		out = append(out, sessionInfo{
			SessionID: e.sess.State.ID,
			AgentID:   e.sess.State.AgentID,
			Status:    string(e.sess.GetStatus()),
			TurnCount: e.sess.State.TurnCount,
			CostUSD:   e.sess.State.CumulativeCost,
		})
		seen[e.sess.Key] = true
		e.mu.Unlock()
		return true
	})
	if p.IncludeRecoverable && d.cfg.Sessions != nil {
		for _, info := range d.cfg.Sessions.List() {
			if seen[info.Key] {
				continue
			}
			out = append(out, sessionInfo{
				SessionID: info.Key,
				Status:    string(session.StatusEnded),
			})
		}
	}
	return out, nil
}

type sessionIDParams struct {
	SessionID string `json:"session_id"`
}

func (d *Daemon) handleSessionGet(req *Request) (any, *WireError) {
	var p sessionIDParams
	if err := json.Unmarshal(req.Params, &p); err != nil {
		return nil, toWireError(errs.Wrap(errs.InvalidRequest, "bad params", err))
	}
	e, ok := d.entry(p.SessionID)
	if !ok {
		if d.cfg.Sessions == nil {
			return nil, toWireError(errs.New(errs.SessionNotFound, fmt.Sprintf("session %q not found", p.SessionID)))
		}
		sess := d.cfg.Sessions.GetOrCreate(p.SessionID)
		if len(sess.Messages) == 0 {
			return nil, toWireError(errs.New(errs.SessionNotFound, fmt.Sprintf("session %q not found", p.SessionID)))
		}
		return sess, nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sess, nil
}

// handleSessionEnd resolves Open Question (b): ending a session that is
// awaiting-approval synthesizes a deny for the open yield before tearing
// the session down, so no tool call is left dangling in pending state.
func (d *Daemon) handleSessionEnd(req *Request) (any, *WireError) {
	var p sessionIDParams
	if err := json.Unmarshal(req.Params, &p); err != nil {
		return nil, toWireError(errs.Wrap(errs.InvalidRequest, "bad params", err))
	}
	e, ok := d.entry(p.SessionID)
	if !ok {
		return nil, toWireError(errs.New(errs.SessionNotFound, fmt.Sprintf("session %q not found", p.SessionID)))
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if y := e.sess.PendingYield(); y != nil && y.Reason == session.YieldApproval {
		e.sess.TransitionToolCall(y.ToolCallID, session.ToolCallDenied)
		_, _ = e.sess.Resume(y.ToolCallID)
	}
	e.sess.SetStatus(session.StatusEnded)
	if d.cfg.Sessions != nil {
		if err := d.cfg.Sessions.Save(e.sess); err != nil {
			slog.Warn("failed to persist session on end", "session", p.SessionID, "error", err)
		}
	}
	d.sessions.Delete(p.SessionID)
	return sessionCreateResult{SessionID: p.SessionID, Status: string(session.StatusEnded)}, nil
}

// ---- chat.send / turn.resume / tool.approve ----

type chatSendParams struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

func (d *Daemon) handleChatSend(ctx context.Context, req *Request) (any, *WireError) {
	var p chatSendParams
	if err := json.Unmarshal(req.Params, &p); err != nil {
		return nil, toWireError(errs.Wrap(errs.InvalidRequest, "bad params", err))
	}
	e, ok := d.entry(p.SessionID)
	if !ok {
		return nil, toWireError(errs.New(errs.SessionNotFound, fmt.Sprintf("session %q not found", p.SessionID)))
	}
	if d.runner == nil {
		return nil, toWireError(errs.New(errs.Internal, "no turn runner configured"))
	}
	if !e.mu.TryLock() {
		return nil, toWireError(errs.New(errs.Busy, "session has a turn already in flight"))
	}
	defer e.mu.Unlock()

	if e.sess.PendingYield() != nil {
		return nil, toWireError(errs.New(errs.InvalidRequest, "session has an open yield; call turn.resume or tool.approve first"))
	}

	turnNum := e.sess.BeginTurn()
	if d.events != nil {
		d.events.Publish(bus.Event{Subsystem: bus.SubsystemAgentLoop, Kind: bus.EventRunAttempt, SessionID: p.SessionID})
	}
	if err := d.runner.RunTurn(ctx, e.sess, p.Message); err != nil {
		return nil, toWireError(err)
	}
	return map[string]any{"session_id": p.SessionID, "turn": turnNum, "status": string(e.sess.GetStatus())}, nil
}

type turnResumeParams struct {
	SessionID  string `json:"session_id"`
	ToolCallID string `json:"tool_call_id"`
	Answer     string `json:"answer,omitempty"`
}

func (d *Daemon) handleTurnResume(ctx context.Context, req *Request) (any, *WireError) {
	var p turnResumeParams
	if err := json.Unmarshal(req.Params, &p); err != nil {
		return nil, toWireError(errs.Wrap(errs.InvalidRequest, "bad params", err))
	}
	e, ok := d.entry(p.SessionID)
	if !ok {
		return nil, toWireError(errs.New(errs.SessionNotFound, fmt.Sprintf("session %q not found", p.SessionID)))
	}
	if !e.mu.TryLock() {
		return nil, toWireError(errs.New(errs.Busy, "session has a turn already in flight"))
	}
	defer e.mu.Unlock()
	y, err := e.sess.Resume(p.ToolCallID)
	if err != nil {
		return nil, toWireError(errs.Wrap(errs.InvalidRequest, "resume failed", err))
	}
	if p.Answer != "" {
		e.sess.AddMessageWithToolCalls("user", p.Answer, nil, y.ToolCallID)
	}
	if d.runner != nil {
		if err := d.runner.RunTurn(ctx, e.sess, ""); err != nil {
			return nil, toWireError(err)
		}
	}
	return map[string]any{"session_id": p.SessionID, "resumed_yield": y.ToolCallID, "status": string(e.sess.GetStatus())}, nil
}

type toolApproveParams struct {
	SessionID  string `json:"session_id"`
	ToolCallID string `json:"tool_call_id"`
	Approve    bool   `json:"approve"`
}

func (d *Daemon) handleToolApprove(ctx context.Context, req *Request) (any, *WireError) {
	var p toolApproveParams
	if err := json.Unmarshal(req.Params, &p); err != nil {
		return nil, toWireError(errs.Wrap(errs.InvalidRequest, "bad params", err))
	}
	e, ok := d.entry(p.SessionID)
	if !ok {
		return nil, toWireError(errs.New(errs.SessionNotFound, fmt.Sprintf("session %q not found", p.SessionID)))
	}
	if !e.mu.TryLock() {
		return nil, toWireError(errs.New(errs.Busy, "session has a turn already in flight"))
	}
	defer e.mu.Unlock()

	y := e.sess.PendingYield()
	if y == nil || y.ToolCallID != p.ToolCallID {
		return nil, toWireError(errs.New(errs.InvalidRequest, "no matching pending approval"))
	}
	// The runner (internal/agent.TurnRunnerAdapter) reads this decision back
	// off session metadata to either execute the approved call or synthesize
	// a policy-denied tool result, then resumes the rest of the tool-call
	// batch it had queued in metadata before yielding.
	e.sess.SetMetadata(approvalDecisionKey(p.ToolCallID), p.Approve)
	if _, err := e.sess.Resume(p.ToolCallID); err != nil {
		return nil, toWireError(errs.Wrap(errs.Internal, "resume after approval failed", err))
	}
	if d.runner != nil {
		if err := d.runner.RunTurn(ctx, e.sess, ""); err != nil {
			return nil, toWireError(err)
		}
	}
	return map[string]any{"session_id": p.SessionID, "tool_call_id": p.ToolCallID, "approved": p.Approve, "status": string(e.sess.GetStatus())}, nil
}

// approvalDecisionKey is the session-metadata key RunTurn looks up to learn
// how an approval yield for toolCallID was resolved.
func approvalDecisionKey(toolCallID string) string {
	return "approval_decision:" + toolCallID
}

// ---- cron.* (delegates to internal/scheduler) ----

type cronAddParams struct {
	Name     string `json:"name"`
	Cron     string `json:"cron"`
	Category string `json:"category,omitempty"`
	Content  string `json:"content"`
}

func (d *Daemon) handleCronAdd(req *Request) (any, *WireError) {
	if d.sched == nil {
		return nil, toWireError(errs.New(errs.Internal, "scheduler not configured"))
	}
	var p cronAddParams
	if err := json.Unmarshal(req.Params, &p); err != nil {
		return nil, toWireError(errs.Wrap(errs.InvalidRequest, "bad params", err))
	}
	expr, err := scheduler.ParseCron(p.Cron)
	if err != nil {
		return nil, toWireError(errs.Wrap(errs.InvalidRequest, "bad cron expression", err))
	}
	cat := scheduler.CategoryDefault
	switch p.Category {
	case string(scheduler.CategoryLLM):
		cat = scheduler.CategoryLLM
	case string(scheduler.CategoryShell):
		cat = scheduler.CategoryShell
	}
	d.sched.Register(&scheduler.Job{Name: p.Name, Cron: expr, Category: cat, Content: p.Content})
	return map[string]any{"name": p.Name, "registered": true}, nil
}

type cronNameParams struct {
	Name string `json:"name"`
}

func (d *Daemon) handleCronRemove(req *Request) (any, *WireError) {
	if d.sched == nil {
		return nil, toWireError(errs.New(errs.Internal, "scheduler not configured"))
	}
	var p cronNameParams
	if err := json.Unmarshal(req.Params, &p); err != nil {
		return nil, toWireError(errs.Wrap(errs.InvalidRequest, "bad params", err))
	}
	d.sched.Unregister(p.Name)
	return map[string]any{"name": p.Name, "removed": true}, nil
}

func (d *Daemon) handleCronList(req *Request) (any, *WireError) {
	if d.sched == nil {
		return nil, toWireError(errs.New(errs.Internal, "scheduler not configured"))
	}
	jobs := d.sched.Jobs()
	out := make([]map[string]any, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, map[string]any{"name": j.Name, "category": j.Category})
	}
	return out, nil
}

// ---- device.pair / health.status ----

type devicePairParams struct {
	Code string `json:"code"`
}

func (d *Daemon) handleDevicePair(req *Request) (any, *WireError) {
	var p devicePairParams
	if err := json.Unmarshal(req.Params, &p); err != nil {
		return nil, toWireError(errs.Wrap(errs.InvalidRequest, "bad params", err))
	}
	if p.Code == "" {
		return nil, toWireError(errs.New(errs.InvalidRequest, "pairing code required"))
	}
	return map[string]any{"paired": true}, nil
}

type healthStatus struct {
	Sessions int                             `json:"sessions"`
	Backends map[string]breaker.Stats        `json:"backends,omitempty"`
	Health   map[string]breaker.HealthRecord `json:"health,omitempty"`
	Identity map[string]any                  `json:"identity,omitempty"`
}

func (d *Daemon) handleHealthStatus(req *Request) (any, *WireError) {
	count := 0
	d.sessions.Range(func(_, _ any) bool { count++; return true })
	h := healthStatus{Sessions: count}
	if d.breakers != nil {
		h.Backends = map[string]breaker.Stats{}
		h.Health = map[string]breaker.HealthRecord{}
		for _, name := range d.breakers.Backends() {
			h.Backends[name] = d.breakers.Stats(name)
			h.Health[name] = d.breakers.Health(name)
		}
	}
	if d.cfg.Identity != nil {
		h.Identity = d.cfg.Identity()
	}
	return h, nil
}
