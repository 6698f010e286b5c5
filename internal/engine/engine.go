package engine

import (
	"bytes"
	"context"
	"net/url"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/UGOtang/meeting-flow/internal/presence"
	"github.com/UGOtang/meeting-flow/pkg/protocol"
)

// State is the connection lifecycle phase of one engine.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnectScheduled
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnectScheduled:
		return "reconnect_scheduled"
	default:
		return "disconnected"
	}
}

type Config struct {
	URL    string // websocket endpoint, e.g. ws://localhost:8080/ws
	Room   string
	UserID string

	PublishInterval   time.Duration // min interval between outbound publishes
	ImportDelay       time.Duration // coalescing window for inbound payloads
	HeartbeatInterval time.Duration
	SweepInterval     time.Duration
	ExpireAfter       time.Duration // presence records older than this are swept
	BackoffBase       time.Duration
	BackoffMax        time.Duration
	DialTimeout       time.Duration

	// RequestFullStateOnConnect asks the relay for the room's cached
	// snapshot right after admission.
	RequestFullStateOnConnect bool
}

func (c Config) withDefaults() Config {
	if c.Room == "" {
		c.Room = "default"
	}
	if c.PublishInterval <= 0 {
		c.PublishInterval = 70 * time.Millisecond
	}
	if c.ImportDelay <= 0 {
		c.ImportDelay = 16 * time.Millisecond
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 5 * time.Second
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 2 * time.Second
	}
	if c.ExpireAfter <= 0 {
		c.ExpireAfter = 10 * time.Second
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = time.Second
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = 30 * time.Second
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 10 * time.Second
	}
	return c
}

// View reflects loop-owned state for callers outside the loop.
type View struct {
	State       State
	Failures    int // consecutive failed attempts since the last open
	NextBackoff time.Duration
}

type request interface{ isRequest() }

type schedulePublish struct{}
type forcePublish struct{}
type getView struct{ Reply chan View }

func (schedulePublish) isRequest() {}
func (forcePublish) isRequest()    {}
func (getView) isRequest()         {}

type dialResult struct {
	gen  int
	conn *websocket.Conn
	err  error
}

type inboundFrame struct {
	gen  int
	data []byte
}

type connLost struct {
	gen int
	err error
}

// Engine owns one connection to the relay and keeps the local document in
// step with the room: it throttles outbound snapshot publishes, coalesces
// inbound ones, heartbeats the local record, sweeps stale remote records,
// and reconnects with exponential backoff. Everything runs on one loop
// goroutine; timers and pump callbacks funnel into it through channels.
type Engine struct {
	cfg Config
	doc presence.Document
	log *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	requests  chan request
	dialCh    chan dialResult
	inboundCh chan inboundFrame
	lostCh    chan connLost

	// Loop-owned. Never touched outside the loop goroutine.
	state          State
	gen            int // connection generation; stale pump events are dropped
	conn           *websocket.Conn
	sendCh         chan []byte // drained by the write pump; nil while disconnected
	backoff        *backoff
	throttle       *throttle
	failures       int
	dirty          bool // local changes happened while not connected
	lastPayload    []byte
	pendingImport  []byte
	publishTimer   *time.Timer
	importTimer    *time.Timer
	reconnectTimer *time.Timer
}

// New builds the engine, subscribes it to the document's local changes, and
// starts connecting immediately.
func New(cfg Config, doc presence.Document, log *zap.Logger) *Engine {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		cfg:       cfg,
		doc:       doc,
		log:       log,
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		requests:  make(chan request, 32),
		dialCh:    make(chan dialResult, 1),
		inboundCh: make(chan inboundFrame, 16),
		lostCh:    make(chan connLost, 4),
		state:     StateDisconnected,
		backoff:   newBackoff(cfg.BackoffBase, cfg.BackoffMax),
		throttle:  newThrottle(cfg.PublishInterval),
	}
	doc.Subscribe(func(c presence.Change) {
		if c.Origin == presence.OriginLocal {
			e.SchedulePublish()
		}
	})
	go e.loop()
	return e
}

// SchedulePublish asks for an outbound publish through the throttle. Safe
// from any goroutine; requests that cannot be queued are already covered by
// a pending one.
func (e *Engine) SchedulePublish() {
	select {
	case e.requests <- schedulePublish{}:
	default:
	}
}

// ForcePublish bypasses the throttle entirely.
func (e *Engine) ForcePublish() {
	select {
	case e.requests <- forcePublish{}:
	case <-e.done:
	}
}

// View snapshots the lifecycle state; returns the zero View after Close.
func (e *Engine) View() View {
	reply := make(chan View, 1)
	select {
	case e.requests <- getView{Reply: reply}:
	case <-e.done:
		return View{}
	}
	select {
	case v := <-reply:
		return v
	case <-e.done:
		return View{}
	}
}

// Close tears the engine down permanently: cancels every armed timer, closes
// the transport with a normal closure, and suppresses reconnection.
func (e *Engine) Close() {
	e.cancel()
	<-e.done
}

func (e *Engine) Done() <-chan struct{} { return e.done }

func (e *Engine) loop() {
	defer close(e.done)

	heartbeat := time.NewTicker(e.cfg.HeartbeatInterval)
	defer heartbeat.Stop()
	sweep := time.NewTicker(e.cfg.SweepInterval)
	defer sweep.Stop()

	e.startDial()

	for {
		select {
		case <-e.ctx.Done():
			e.teardown()
			return

		case r := <-e.requests:
			switch req := r.(type) {
			case schedulePublish:
				e.schedulePublish()
			case forcePublish:
				e.publishNow(true)
			case getView:
				req.Reply <- View{State: e.state, Failures: e.failures, NextBackoff: e.backoff.next}
			}

		case res := <-e.dialCh:
			e.onDialResult(res)

		case f := <-e.inboundCh:
			if f.gen == e.gen {
				e.onInbound(f.data)
			}

		case l := <-e.lostCh:
			if l.gen == e.gen {
				e.onConnLost(l.err)
			}

		case <-timerC(e.reconnectTimer):
			e.reconnectTimer = nil
			e.startDial()

		case <-timerC(e.publishTimer):
			e.publishTimer = nil
			e.throttle.fired()
			e.publishNow(false)

		case <-timerC(e.importTimer):
			e.importTimer = nil
			e.importPending()

		case <-heartbeat.C:
			e.onHeartbeat()

		case <-sweep.C:
			e.onSweep()
		}
	}
}

// timerC lets the loop select on an unarmed timer slot.
func timerC(t *time.Timer) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}

func (e *Engine) startDial() {
	e.state = StateConnecting
	e.gen++
	gen := e.gen
	target := e.cfg.URL + "?room=" + url.QueryEscape(e.cfg.Room)
	e.log.Info("connecting", zap.String("url", target), zap.Int("attempt", e.failures+1))
	go func() {
		ctx, cancel := context.WithTimeout(e.ctx, e.cfg.DialTimeout)
		defer cancel()
		conn, _, err := websocket.Dial(ctx, target, nil)
		select {
		case e.dialCh <- dialResult{gen: gen, conn: conn, err: err}:
		case <-e.ctx.Done():
			if conn != nil {
				conn.Close(websocket.StatusNormalClosure, "client closing")
			}
		}
	}()
}

func (e *Engine) onDialResult(res dialResult) {
	if res.gen != e.gen {
		if res.conn != nil {
			res.conn.Close(websocket.StatusNormalClosure, "stale dial")
		}
		return
	}
	if res.err != nil {
		e.log.Warn("dial failed", zap.Error(res.err))
		e.failures++
		e.scheduleReconnect()
		return
	}

	e.conn = res.conn
	e.state = StateConnected
	e.failures = 0
	e.backoff.Reset()
	e.log.Info("connected", zap.String("room", e.cfg.Room))

	e.sendCh = make(chan []byte, 32)
	go e.writePump(res.conn, e.sendCh)
	go e.readPump(res.conn, res.gen)

	if e.cfg.RequestFullStateOnConnect {
		e.send(protocol.RequestFullState(e.cfg.Room, e.cfg.UserID))
	}
	// Publish immediately so existing members see the new participant,
	// regardless of throttle state.
	e.publishNow(true)
	e.dirty = false
}

func (e *Engine) readPump(conn *websocket.Conn, gen int) {
	for {
		_, data, err := conn.Read(e.ctx)
		if err != nil {
			select {
			case e.lostCh <- connLost{gen: gen, err: err}:
			case <-e.ctx.Done():
			}
			return
		}
		select {
		case e.inboundCh <- inboundFrame{gen: gen, data: data}:
		case <-e.ctx.Done():
			return
		}
	}
}

func (e *Engine) onConnLost(err error) {
	e.log.Warn("connection lost", zap.Error(err))
	if e.conn != nil {
		e.conn.Close(websocket.StatusNormalClosure, "reconnecting")
		e.conn = nil
	}
	if e.sendCh != nil {
		close(e.sendCh)
		e.sendCh = nil
	}
	stopTimer(&e.publishTimer)
	e.throttle.cancel()
	e.failures++
	e.scheduleReconnect()
}

func (e *Engine) scheduleReconnect() {
	e.state = StateReconnectScheduled
	d := e.backoff.Next()
	e.log.Info("reconnect scheduled", zap.Duration("delay", d), zap.Int("failures", e.failures))
	stopTimer(&e.reconnectTimer)
	e.reconnectTimer = time.NewTimer(d)
}

func (e *Engine) onInbound(data []byte) {
	env, err := protocol.Decode(data)
	if err != nil {
		e.log.Warn("dropping malformed frame", zap.Error(err))
		return
	}
	switch env.Type {
	case protocol.KindWelcome:
		e.log.Info("admitted", zap.String("room", env.Room))

	case protocol.KindSnapshot:
		// The relay never echoes to the sender, but filter anyway: importing
		// our own broadcast is pure waste.
		if env.UserID == e.cfg.UserID {
			return
		}
		e.stashImport(env.Data)

	case protocol.KindFullStateResponse:
		if env.IsEmpty {
			e.log.Debug("room has no cached state yet", zap.String("room", env.Room))
			return
		}
		e.stashImport(env.Data)

	case protocol.KindPong:
		e.log.Debug("pong")

	case protocol.KindServerShutdown:
		e.log.Info("server shutting down", zap.String("message", env.Message))

	default:
		e.log.Debug("ignoring frame", zap.String("type", string(env.Type)))
	}
}

// stashImport overwrites the single pending-payload slot and arms the import
// timer if it is not armed already. Older pending payloads are discarded,
// never queued.
func (e *Engine) stashImport(data []byte) {
	if len(data) == 0 {
		return
	}
	e.pendingImport = data
	if e.importTimer == nil {
		e.importTimer = time.NewTimer(e.cfg.ImportDelay)
	}
}

func (e *Engine) importPending() {
	payload := e.pendingImport
	e.pendingImport = nil
	if payload == nil {
		return
	}
	if err := e.doc.Import(payload); err != nil {
		// Corrupt payload; future imports are unaffected.
		e.log.Warn("import failed", zap.Error(err))
	}
}

func (e *Engine) schedulePublish() {
	if e.state != StateConnected {
		e.dirty = true
		return
	}
	sendNow, delay := e.throttle.request(time.Now())
	if sendNow {
		e.publishNow(false)
		return
	}
	if delay > 0 {
		e.publishTimer = time.NewTimer(delay)
	}
}

func (e *Engine) publishNow(force bool) {
	if e.state != StateConnected || e.conn == nil {
		if force {
			e.dirty = true
		}
		return
	}
	if force {
		stopTimer(&e.publishTimer)
		e.throttle.cancel()
	}
	payload, err := e.doc.ExportSnapshot()
	if err != nil {
		e.log.Error("export failed", zap.Error(err))
		return
	}
	if !force && bytes.Equal(payload, e.lastPayload) {
		return
	}
	e.send(protocol.Snapshot(e.cfg.Room, e.cfg.UserID, payload))
	e.lastPayload = payload
	e.throttle.sent(time.Now())
}

// send queues a frame for the write pump. The loop never touches the socket
// directly, so a stalled transport cannot freeze the timers; a full queue
// means the link is wedged and the frame is dropped (the next publish
// supersedes it anyway).
func (e *Engine) send(env protocol.Envelope) {
	if e.sendCh == nil {
		return
	}
	data, err := env.Encode()
	if err != nil {
		e.log.Error("failed to encode frame", zap.Error(err))
		return
	}
	select {
	case e.sendCh <- data:
	default:
		e.log.Debug("outbound queue full, dropping frame")
	}
}

// writePump drains the outbound queue onto the socket, the same split the
// server side uses for its per-connection writes.
func (e *Engine) writePump(conn *websocket.Conn, ch <-chan []byte) {
	for data := range ch {
		ctx, cancel := context.WithTimeout(e.ctx, 3*time.Second)
		err := conn.Write(ctx, websocket.MessageText, data)
		cancel()
		if err != nil {
			// The read pump observes the closure and drives reconnection.
			e.log.Debug("write failed", zap.Error(err))
			return
		}
	}
}

func (e *Engine) onHeartbeat() {
	refreshed, err := e.doc.Touch(e.cfg.UserID, time.Now().UnixMilli())
	if err != nil {
		e.log.Warn("heartbeat touch failed", zap.Error(err))
		return
	}
	// Touch fires a local change which schedules a publish through the
	// throttle. With no live record there is nothing to refresh; a bare ping
	// keeps the link verified instead.
	if !refreshed && e.state == StateConnected {
		e.send(protocol.Ping())
	}
	if e.dirty && e.state == StateConnected {
		e.dirty = false
		e.schedulePublish()
	}
}

func (e *Engine) onSweep() {
	removed, err := e.doc.SweepExpired(time.Now().UnixMilli(), e.cfg.ExpireAfter.Milliseconds())
	if err != nil {
		e.log.Warn("expiry sweep failed", zap.Error(err))
		return
	}
	if len(removed) > 0 {
		e.log.Info("expired stale cursors", zap.Strings("ids", removed))
	}
}

func (e *Engine) teardown() {
	stopTimer(&e.publishTimer)
	stopTimer(&e.importTimer)
	stopTimer(&e.reconnectTimer)
	if e.sendCh != nil {
		close(e.sendCh)
		e.sendCh = nil
	}
	if e.conn != nil {
		e.conn.Close(websocket.StatusNormalClosure, "client closing")
		e.conn = nil
	}
	e.state = StateDisconnected
}

func stopTimer(t **time.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}
