package modem

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"i4.energy/across/simnet/at"
)

// Action tells the correlator what to do with a line matched by a Response.
type Action int

const (
	// Collect records the line and keeps waiting.
	Collect Action = iota
	// Complete records the line and ends the exchange successfully.
	Complete
	// Fail records the line and ends the exchange with the Response error.
	Fail
)

// Response is an expected reply to a Command.
type Response struct {
	at.Pattern
	Action Action
	// Err builds the error returned for a Fail action from the line's
	// arguments. Nil means ErrError.
	Err func(args []string) error
	// OnMatch runs on the reader when the line matches, before any later
	// line is read. It must not block.
	OnMatch func(args []string)
}

// failWith returns a Response error builder that always yields err.
func failWith(err error) func([]string) error {
	return func([]string) error { return err }
}

// Command is one request to the modem.
type Command struct {
	Text string
	// Responses are tried in order before the generic terminal responses
	// (OK, ERROR, +CME ERROR, +CMS ERROR).
	Responses []Response
	// Timeout bounds the exchange. Zero means Config.CommandTimeout.
	Timeout time.Duration
}

// Match is a line matched by one of the Command's Responses.
type Match struct {
	Line string
	Args []string
}

// Result is what a command exchange produced.
type Result struct {
	// Matches holds the lines matched by Command.Responses, in arrival order.
	Matches []Match
	// Lines holds the other lines received while the command was pending,
	// such as the plain text answers of identification queries.
	Lines []string
}

// Last returns the most recent match.
func (r *Result) Last() (Match, bool) {
	if len(r.Matches) == 0 {
		return Match{}, false
	}
	return r.Matches[len(r.Matches)-1], true
}

// terminal lists the responses that end any command. Specific patterns
// must come before the bare ones.
var terminal = []Response{
	{Pattern: at.Pattern{Prefix: at.CmeError, MinArgs: 1}, Action: Fail, Err: func(args []string) error { return CMEError(args[0]) }},
	{Pattern: at.Pattern{Prefix: at.CmsError, MinArgs: 1}, Action: Fail, Err: func(args []string) error { return CMSError(args[0]) }},
	{Pattern: at.Pattern{Prefix: at.ERROR}, Action: Fail},
	{Pattern: at.Pattern{Prefix: at.OK}, Action: Complete},
}

// pending is the single in-flight command. Its result is written by the
// reader while the command is installed, and read by the submitter only
// after it has been resolved or removed.
type pending struct {
	cmd    Command
	result Result
	done   chan error
	// prompt receives the data-ready prompt. Nil unless the command
	// announced a payload.
	prompt chan struct{}
}

func timeoutError(err error) error {
	if errors.Is(err, ErrTimeout) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrTimeout, err)
}

// Submit sends cmd and waits for its terminal response.
//
// Commands are strictly serialized: concurrent callers queue on the
// command gate until their own context ends. The returned Result is valid
// even when err is non-nil and holds whatever arrived before the failure.
func (m *Modem) Submit(ctx context.Context, cmd Command) (*Result, error) {
	if err := m.usable(); err != nil {
		return nil, err
	}
	if err := m.gate.Acquire(ctx, 1); err != nil {
		return nil, timeoutError(err)
	}
	defer m.gate.Release(1)

	p, err := m.install(cmd, false)
	if err != nil {
		return nil, err
	}
	if err := m.writeLine(cmd.Text); err != nil {
		m.uninstall(p)
		return &p.result, err
	}
	err = m.await(ctx, p, m.timeout(cmd))
	return &p.result, err
}

// Exec submits a command that only expects the generic terminal responses.
func (m *Modem) Exec(ctx context.Context, text string) (*Result, error) {
	return m.Submit(ctx, Command{Text: text})
}

// transmit runs the two phase send of payload on connection id: announce
// the length, wait for the data-ready prompt, then write the payload and
// wait for the per-connection confirmation.
func (m *Modem) transmit(ctx context.Context, id int, payload []byte) error {
	if err := m.usable(); err != nil {
		return err
	}
	if err := m.gate.Acquire(ctx, 1); err != nil {
		return timeoutError(err)
	}
	defer m.gate.Release(1)

	cmd := Command{
		Text: at.SendLength(id, len(payload)),
		Responses: []Response{
			{Pattern: at.Pattern{Prefix: at.ConnectionLine(id, at.SendOK)}, Action: Complete},
			{Pattern: at.Pattern{Prefix: at.ConnectionLine(id, at.SendFail)}, Action: Fail, Err: failWith(ErrIO)},
		},
	}
	p, err := m.install(cmd, true)
	if err != nil {
		return err
	}
	if err := m.writeLine(cmd.Text); err != nil {
		m.uninstall(p)
		return err
	}

	timer := time.NewTimer(m.config.PromptTimeout)
	defer timer.Stop()
	select {
	case <-p.prompt:
	case err := <-p.done:
		if err == nil {
			err = fmt.Errorf("%w: confirmation before data prompt", ErrIO)
		}
		return err
	case <-timer.C:
		return m.abandon(p, fmt.Errorf("data prompt: %w", ErrTimeout))
	case <-ctx.Done():
		return m.abandon(p, timeoutError(ctx.Err()))
	}

	if err := m.dataGate.Acquire(ctx, 1); err != nil {
		return m.abandon(p, timeoutError(err))
	}
	defer m.dataGate.Release(1)

	raw := append(slices.Clone(payload), at.CtrlZ)
	m.logger.Debug("write payload", "id", id, "bytes", len(payload))
	if err := m.write(raw); err != nil {
		m.uninstall(p)
		return err
	}
	return m.await(ctx, p, m.config.CommandTimeout)
}

func (m *Modem) timeout(cmd Command) time.Duration {
	if cmd.Timeout > 0 {
		return cmd.Timeout
	}
	return m.config.CommandTimeout
}

// install makes p the pending command. The command gate must be held.
func (m *Modem) install(cmd Command, prompt bool) (*pending, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending != nil {
		return nil, ErrBusy
	}
	p := &pending{
		cmd:  cmd,
		done: make(chan error, 1),
	}
	if prompt {
		p.prompt = make(chan struct{}, 1)
	}
	m.pending = p
	return p, nil
}

func (m *Modem) uninstall(p *pending) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending == p {
		m.pending = nil
	}
}

// abandon removes p after its caller gave up waiting. A resolution that
// raced with the give-up wins over err.
func (m *Modem) abandon(p *pending, err error) error {
	m.uninstall(p)
	select {
	case resolved := <-p.done:
		return resolved
	default:
		return err
	}
}

// await blocks until p is resolved by the reader or timeout elapses.
func (m *Modem) await(ctx context.Context, p *pending, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-p.done:
		return err
	case <-timer.C:
		m.logger.Debug("command timed out", "command", p.cmd.Text, "timeout", timeout)
		return m.abandon(p, ErrTimeout)
	case <-ctx.Done():
		return m.abandon(p, timeoutError(ctx.Err()))
	}
}

func (m *Modem) writeLine(text string) error {
	m.logger.Debug("write command", "command", text)
	return m.write([]byte(text + at.CRLF))
}

func (m *Modem) write(b []byte) error {
	if _, err := m.transport.Write(b); err != nil {
		return fmt.Errorf("%w: write: %w", ErrIO, err)
	}
	return nil
}

// claim offers line to the pending command. It reports whether the line
// was consumed: a command echo or a match against the command's responses
// or the generic terminal responses.
func (m *Modem) claim(line string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	p := m.pending
	if p == nil {
		return false
	}
	if line == p.cmd.Text {
		// echo, until ATE0 is in effect
		return true
	}

	if r, args, ok := matchResponse(p.cmd.Responses, line); ok {
		p.result.Matches = append(p.result.Matches, Match{Line: line, Args: args})
		m.apply(p, r, line, args)
		return true
	}
	if r, args, ok := matchResponse(terminal, line); ok {
		m.apply(p, r, line, args)
		return true
	}
	return false
}

func matchResponse(table []Response, line string) (Response, []string, bool) {
	for _, r := range table {
		if args, ok := r.Match(line); ok {
			return r, args, true
		}
	}
	return Response{}, nil, false
}

// apply performs a matched response's action. m.mu must be held.
func (m *Modem) apply(p *pending, r Response, line string, args []string) {
	if r.OnMatch != nil {
		r.OnMatch(args)
	}
	switch r.Action {
	case Collect:
		return
	case Complete:
		m.resolve(p, nil)
	case Fail:
		err := error(ErrError)
		if r.Err != nil {
			err = r.Err(args)
		}
		m.logger.Debug("command failed", "command", p.cmd.Text, "line", line)
		m.resolve(p, err)
	}
}

// resolve ends the exchange of p. m.mu must be held.
func (m *Modem) resolve(p *pending, err error) {
	m.pending = nil
	p.done <- err
}

// collect stores an unclaimed, non-URC line as output of the pending
// command.
func (m *Modem) collect(line string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending == nil {
		return false
	}
	m.pending.result.Lines = append(m.pending.result.Lines, line)
	return true
}

// onPrompt hands the data-ready prompt to a pending send.
func (m *Modem) onPrompt() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending == nil || m.pending.prompt == nil {
		m.logger.Debug("unexpected data prompt")
		return
	}
	select {
	case m.pending.prompt <- struct{}{}:
	default:
	}
}

// failPending resolves the pending command, if any, with err.
func (m *Modem) failPending(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending != nil {
		m.resolve(m.pending, err)
	}
}
