package connect

import (
	"path/filepath"
	"sync"
	"time"

	"printstream/pkg/config"
	"printstream/pkg/errors"
	"printstream/pkg/log"
	"printstream/pkg/metrics"
	"printstream/pkg/session"
	"printstream/pkg/stream"
)

var (
	metricLinesSent = metrics.Default().Counter("printstream_lines_sent_total",
		"Framed lines transmitted to the printer")
	metricResends = metrics.Default().Counter("printstream_resend_requests_total",
		"Resend requests received from the firmware")
	metricFailures = metrics.Default().Counter("printstream_transport_failures_total",
		"Print sessions ended by a transport failure")
	metricPercentDone = metrics.Default().Gauge("printstream_progress_percent",
		"Percent-done of the active print")
)

// Connection owns one printer session: the state machine, the active
// chain and the transport. User pause/resume/cancel requests arrive
// here and become state transitions; the stages observe those purely
// through state reads on their next pull.
type Connection struct {
	cfg       *config.HostConfig
	transport Transport
	state     *session.State
	logger    *log.Logger

	// pauseLines is the length of the configured pause script; after a
	// pause transition the loop drains exactly that many injected lines
	// before parking.
	pauseLines int

	mu          sync.Mutex
	jobPath     string
	ackedOffset int    // source lines covered by acknowledged sends
	pipeline    string // cached chain snapshot, updated by the loop
	lastError   string
	resumeCh    chan struct{}

	wg sync.WaitGroup
}

// NewConnection creates a connection over the given transport.
func NewConnection(transport Transport, cfg *config.HostConfig) *Connection {
	return &Connection{
		cfg:        cfg,
		transport:  transport,
		state:      session.NewState(),
		logger:     log.GetLogger("connect"),
		pauseLines: len(stream.SplitScript(cfg.Pause.PauseGCode)),
	}
}

// State exposes the session state for read-only observers (the status
// server, diagnostics).
func (c *Connection) State() *session.State {
	return c.state
}

// Connect wakes the firmware and waits for its first acknowledgment.
func (c *Connection) Connect() error {
	if err := c.state.Transition(session.Connecting); err != nil {
		return err
	}
	// Reset the firmware's line counter; the reply also proves the
	// device is talking our protocol.
	if err := c.transport.WriteLine("M110 N0"); err != nil {
		return c.connectFailed(errors.TransportError("write", err))
	}
	for {
		raw, err := c.transport.ReadLine()
		if err != nil {
			return c.connectFailed(errors.TransportError("read", err))
		}
		if parseResponse(raw).kind == respOK {
			break
		}
		// Boot banner, capability report: keep reading.
	}
	return c.state.Transition(session.Connected)
}

func (c *Connection) connectFailed(err *errors.HostError) error {
	c.mu.Lock()
	c.lastError = err.Error()
	c.mu.Unlock()
	c.state.Transition(session.Idle)
	c.logger.WithError(err).Error("connect failed")
	return err
}

// StartPrint begins streaming a job file from its first line.
func (c *Connection) StartPrint(path string) error {
	return c.startPrint(path, 0)
}

// ResumePrint restarts an interrupted job, replaying from the line
// after the last acknowledged one. Already-acknowledged lines are
// skipped, never retransmitted.
func (c *Connection) ResumePrint() error {
	c.mu.Lock()
	path, offset := c.jobPath, c.ackedOffset
	c.mu.Unlock()
	if path == "" {
		return errors.TaskError("no interrupted print to resume")
	}
	return c.startPrint(path, offset)
}

func (c *Connection) startPrint(path string, offset int) error {
	total, err := stream.CountFileLines(path)
	if err != nil {
		return errors.SourceError(path, err)
	}
	source, err := stream.OpenFileSource(path)
	if err != nil {
		return errors.SourceError(path, err)
	}
	if offset > 0 {
		if err := source.SkipTo(offset); err != nil {
			source.Close()
			return errors.SourceError(path, err)
		}
	}

	task := session.NewTask(filepath.Base(path))
	if err := c.state.StartTask(task); err != nil {
		source.Close()
		return err
	}
	chain := stream.NewChain(source, c.state, stream.ChainOptions{
		Progress:     c.cfg.Progress,
		Pause:        c.cfg.Pause,
		BedTilt:      c.cfg.BedTilt,
		Macros:       c.cfg.Macros,
		ResetCounter: true,
	})
	if err := c.state.Transition(session.Printing); err != nil {
		source.Close()
		return err
	}

	c.mu.Lock()
	c.jobPath = path
	c.ackedOffset = offset
	c.pipeline = chain.DebugInfo()
	c.lastError = ""
	c.mu.Unlock()

	c.logger.WithField("job", path).Info("print started at offset %d of %d lines", offset, total)
	c.wg.Add(1)
	go c.sendLoop(chain, source, task, total)
	return nil
}

// Pause requests a pause. The loop drains the injected pause script
// and then stops pulling until Resume or Cancel.
func (c *Connection) Pause() error {
	// The loop parks on resumeCh as soon as it observes Paused, so the
	// channel must exist before the transition becomes visible. A
	// channel left over from a failed transition is reused by the next
	// pause and cleared by wake.
	c.mu.Lock()
	if c.resumeCh == nil {
		c.resumeCh = make(chan struct{})
	}
	c.mu.Unlock()
	if err := c.state.Transition(session.Paused); err != nil {
		return err
	}
	if t := c.state.Task(); t != nil {
		t.NotePause()
	}
	c.logger.Info("print paused")
	return nil
}

// Resume continues a paused print.
func (c *Connection) Resume() error {
	if err := c.state.Transition(session.Printing); err != nil {
		return err
	}
	if t := c.state.Task(); t != nil {
		t.NoteResume()
	}
	c.wake()
	c.logger.Info("print resumed")
	return nil
}

// Cancel aborts the current session. Cancelling is always legal and
// never an error; cancelling an idle connection is a no-op.
func (c *Connection) Cancel() {
	if c.state.Comm() == session.Idle {
		return
	}
	if t := c.state.Task(); t != nil {
		t.Cancel()
	}
	c.state.Transition(session.Idle)
	c.wake()
	c.logger.Info("print cancelled")
}

func (c *Connection) wake() {
	c.mu.Lock()
	if c.resumeCh != nil {
		close(c.resumeCh)
		c.resumeCh = nil
	}
	c.mu.Unlock()
}

// Wait blocks until the send loop has exited.
func (c *Connection) Wait() {
	c.wg.Wait()
}

// Close cancels any active session and closes the transport.
func (c *Connection) Close() error {
	c.Cancel()
	c.wg.Wait()
	return c.transport.Close()
}

// sendLoop is the single puller: one line pulled, sent and
// acknowledged at a time. It is the only writer of percent-done; the
// progress stage reads it on the next pull.
func (c *Connection) sendLoop(chain *stream.Chain, source *stream.FileSource, task *session.Task, total int) {
	defer c.wg.Done()
	defer source.Close()

	for {
		switch c.state.Comm() {
		case session.Printing:
		case session.Paused:
			if !c.drainPauseScript(chain) {
				return
			}
			if !c.awaitResume() {
				return
			}
			continue
		default:
			// Cancelled or failed elsewhere.
			return
		}

		line, ok := chain.NextLine()
		if !ok {
			c.finishPrint()
			return
		}
		if err := c.sendLine(chain, line); err != nil {
			c.failPrint(err)
			return
		}
		offset := chain.CurrentOffset()
		if total > 0 {
			task.SetPercentDone(100 * float64(offset) / float64(total))
			metricPercentDone.Set(task.PercentDone())
		}
		c.mu.Lock()
		// The source offset counts a macro call with its first expanded
		// line; latch it only once no stage still queues synthesized
		// lines, so a resume never skips an untransmitted one.
		if !chain.Pending() {
			c.ackedOffset = offset
		}
		c.pipeline = chain.DebugInfo()
		c.mu.Unlock()
	}
}

// drainPauseScript sends the lines the pause stage injected for the
// pause edge, so the printer parks before the loop does.
func (c *Connection) drainPauseScript(chain *stream.Chain) bool {
	for i := 0; i < c.pauseLines; i++ {
		if c.state.Comm() != session.Paused {
			return true
		}
		line, ok := chain.NextLine()
		if !ok {
			c.finishPrint()
			return false
		}
		if err := c.sendLine(chain, line); err != nil {
			c.failPrint(err)
			return false
		}
	}
	return true
}

// awaitResume parks until the session leaves Paused. Returns true when
// the loop should keep pulling.
func (c *Connection) awaitResume() bool {
	for {
		c.mu.Lock()
		ch := c.resumeCh
		c.mu.Unlock()
		if ch == nil {
			switch c.state.Comm() {
			case session.Printing:
				return true
			case session.Paused:
				// Paused visible before its wake channel; re-check.
				time.Sleep(time.Millisecond)
			default:
				return false
			}
			continue
		}
		<-ch
		switch c.state.Comm() {
		case session.Printing:
			return true
		case session.Paused:
			// Paused again before the loop woke; park on the new channel.
		default:
			return false
		}
	}
}

// sendLine transmits one framed line and waits for its acknowledgment,
// absorbing chatter and handling resend requests in between.
func (c *Connection) sendLine(chain *stream.Chain, line stream.Line) error {
	if err := c.transport.WriteLine(line.Wire()); err != nil {
		return errors.TransportError("write", err)
	}
	metricLinesSent.Inc()
	for {
		raw, err := c.transport.ReadLine()
		if err != nil {
			return errors.TransportError("read", err)
		}
		switch r := parseResponse(raw); r.kind {
		case respOK:
			return nil
		case respResend:
			metricResends.Inc()
			c.logger.Warn("firmware requested resend from N%d", r.resend)
			if err := chain.Resend(r.resend); err != nil {
				return errors.Wrap(err, errors.ErrTransport, "resend request not satisfiable")
			}
			// The firmware follows the request with its own ok; keep
			// waiting, then the loop retransmits the replayed lines.
		case respError:
			return errors.New(errors.ErrTransport, "firmware error: "+r.text)
		default:
			c.logger.Debug("printer: %s", r.text)
		}
	}
}

func (c *Connection) finishPrint() {
	c.state.Transition(session.Finishing)
	if t := c.state.Task(); t != nil {
		t.Complete()
		total, paused := t.Durations()
		c.logger.WithFields(log.Fields{
			"job":    t.Filename,
			"total":  total.String(),
			"paused": paused.String(),
		}).Info("print complete")
	}
	c.state.Transition(session.Idle)
}

func (c *Connection) failPrint(err error) {
	metricFailures.Inc()
	c.mu.Lock()
	c.lastError = err.Error()
	c.mu.Unlock()
	if t := c.state.Task(); t != nil {
		t.Fail(err.Error())
	}
	c.state.Transition(session.Idle)
	c.logger.WithError(err).Error("print failed")
}

// GetStatus reports a point-in-time snapshot of the connection.
func (c *Connection) GetStatus() map[string]any {
	status := c.state.GetStatus()
	c.mu.Lock()
	status["acked_offset"] = c.ackedOffset
	if c.lastError != "" {
		status["last_error"] = c.lastError
	}
	if c.pipeline != "" {
		status["pipeline"] = c.pipeline
	}
	c.mu.Unlock()
	return status
}
