package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"time"

	"github.com/moabird/moa/internal/engine"
	memstore "github.com/moabird/moa/internal/memory"
	"github.com/moabird/moa/internal/session"
)

// action is a command's verdict on the read loop.
type action int

const (
	actContinue action = iota
	actQuit
	actTurn
)

type repl struct {
	app    *app
	out    io.Writer
	errOut io.Writer
	lines  *lineReader

	sess   *session.Session
	inTurn atomic.Bool
}

func newREPL(a *app, out, errOut io.Writer, lines *lineReader) *repl {
	return &repl{app: a, out: out, errOut: errOut, lines: lines, sess: session.New(a.root)}
}

func (r *repl) run(ctx context.Context) error {
	r.banner()
	for {
		fmt.Fprint(r.out, "you> ")
		line, ok := r.lines.Next()
		if !ok {
			break
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		act, err := r.dispatch(ctx, line)
		if err != nil {
			fmt.Fprintf(r.errOut, "error: %v\n", err)
		}
		switch act {
		case actQuit:
			r.finish(ctx)
			return nil
		case actTurn:
			r.runTurn(ctx, line)
		}
	}
	r.finish(ctx)
	return nil
}

// dispatch routes one input line. Anything that is not a slash command
// becomes a model turn.
func (r *repl) dispatch(ctx context.Context, line string) (action, error) {
	if !strings.HasPrefix(line, "/") {
		return actTurn, nil
	}
	cmd, rest := splitCommand(line)
	switch cmd {
	case "/help":
		r.help()
	case "/quit", "/exit":
		return actQuit, nil
	case "/plan":
		if r.app.engine.EnterPlanMode(ctx) {
			fmt.Fprintln(r.out, "plan mode on: write tools are blocked until /build")
		} else {
			fmt.Fprintln(r.out, "already in plan mode")
		}
	case "/build":
		if r.app.engine.ExitPlanMode(ctx) {
			fmt.Fprintln(r.out, "build mode on: write tools follow the usual approvals")
		} else {
			fmt.Fprintln(r.out, "already in build mode")
		}
	case "/usage":
		fmt.Fprint(r.out, formatStats(r.app.engine.Stats()))
	case "/clear":
		return actContinue, r.clear()
	case "/sessions":
		return actContinue, r.listSessions()
	case "/resume":
		return actContinue, r.resume(rest)
	case "/memory":
		return actContinue, r.memoryCmd(ctx, rest)
	case "/mcp":
		r.mcpStatus()
	default:
		fmt.Fprintf(r.errOut, "unknown command %s (try /help)\n", cmd)
	}
	return actContinue, nil
}

// runTurn hands the input to the engine and saves the session after.
// The signal is lowered once the turn is over so the helper completions
// in persist are not stopped by a cancellation that already landed.
func (r *repl) runTurn(ctx context.Context, input string) {
	msg := engine.NewTextMessage(engine.RoleUser, input)
	if changed := r.app.tracker.DrainChanges(); len(changed) > 0 {
		msg.Content += "\n\n" + changedFilesReminder(changed)
	}

	r.inTurn.Store(true)
	snap, err := r.app.engine.TurnMessage(ctx, msg)
	r.inTurn.Store(false)
	fmt.Fprintln(r.out)

	if err != nil && !errors.Is(err, engine.ErrCancelled) {
		fmt.Fprintf(r.errOut, "error: %v\n", err)
	}
	if showStats && err == nil {
		fmt.Fprintln(r.out, usageLine(snap))
	}

	r.app.engine.Signal().Lower()
	r.persist(ctx)
}

// interrupt asks the engine to cancel when a turn is running. It
// reports whether the signal was consumed; a repeat interrupt while the
// first is still unwinding falls through to the caller's exit path.
func (r *repl) interrupt() bool {
	if !r.inTurn.Load() || r.app.engine.Signal().Raised() {
		return false
	}
	r.app.engine.Cancel()
	fmt.Fprintln(r.errOut, "\ncancelling turn (press ^C again to quit)")
	return true
}

// persist saves the session after every turn so a crash loses at most
// the turn in flight. The title is generated once, as soon as there is
// a conversation to name; a failed generation keeps the old title.
func (r *repl) persist(ctx context.Context) {
	hist := r.app.engine.History().Snapshot()
	if len(hist) <= 1 {
		return
	}
	r.sess.History = hist
	if r.sess.Title == session.DefaultTitle {
		if title, err := session.Title(ctx, r.app.engine, hist); err == nil && title != "" {
			r.sess.Title = title
		}
	}
	r.sess.Touch()
	if err := r.app.sessions.Save(r.sess); err != nil {
		fmt.Fprintf(r.errOut, "Warning: save session: %v\n", err)
	}
}

// finish generates a parting summary and saves one last time. Sessions
// that never got past the system prompt are not worth keeping.
func (r *repl) finish(ctx context.Context) {
	hist := r.app.engine.History().Snapshot()
	if len(hist) <= 1 {
		return
	}
	r.app.engine.Signal().Lower()
	if sum, err := session.Summary(ctx, r.app.engine, hist); err == nil && sum != "" {
		r.sess.Summary = sum
	}
	r.persist(ctx)
	fmt.Fprintf(r.out, "saved session %s (%s)\n", shortID(r.sess.ID), r.sess.Title)
}

// clear drops the conversation and starts a fresh session. Approvals
// reset with it, so the next write tool prompts again.
func (r *repl) clear() error {
	hist := r.app.engine.History()
	hist.Reset()
	if err := hist.AppendSystem(r.app.cfg.Engine.SystemPrompt); err != nil {
		return err
	}
	r.app.engine.ResetApprovals()
	r.sess = session.New(r.app.root)
	fmt.Fprintln(r.out, "conversation cleared")
	return nil
}

func (r *repl) listSessions() error {
	metas, err := r.app.sessions.List(r.app.root)
	if err != nil {
		return err
	}
	if len(metas) == 0 {
		fmt.Fprintln(r.out, "no saved sessions for this repository")
		return nil
	}
	for _, m := range metas {
		fmt.Fprintf(r.out, "%s  %s  %s\n", shortID(m.ID), m.UpdatedAt.Format("2006-01-02 15:04"), m.Title)
	}
	return nil
}

// resume loads a saved session into the engine. An id prefix is enough
// when it is unambiguous.
func (r *repl) resume(arg string) error {
	if arg == "" {
		return errors.New("usage: /resume <session-id>")
	}
	id, err := r.resolveSessionID(arg)
	if err != nil {
		return err
	}
	sess, err := r.app.sessions.Load(id, r.app.root)
	if err != nil {
		return err
	}
	if err := r.app.engine.Restore(sess.History); err != nil {
		return fmt.Errorf("restore session: %w", err)
	}
	r.app.engine.ResetApprovals()
	r.sess = sess
	fmt.Fprintf(r.out, "resumed %s (%s)\n", shortID(sess.ID), sess.Title)
	if sess.Summary != "" {
		fmt.Fprintf(r.out, "summary: %s\n", sess.Summary)
	}
	return nil
}

func (r *repl) resolveSessionID(prefix string) (string, error) {
	metas, err := r.app.sessions.List(r.app.root)
	if err != nil {
		return "", err
	}
	var match string
	for _, m := range metas {
		if m.ID == prefix {
			return m.ID, nil
		}
		if strings.HasPrefix(m.ID, prefix) {
			if match != "" {
				return "", fmt.Errorf("session id %s is ambiguous", prefix)
			}
			match = m.ID
		}
	}
	if match == "" {
		return "", fmt.Errorf("session %s not found", prefix)
	}
	return match, nil
}

// memoryCmd is the human side door into the note store; the model has
// its own memory tools.
func (r *repl) memoryCmd(ctx context.Context, rest string) error {
	sub, arg := splitCommand(rest)
	switch sub {
	case "", "list":
		notes, err := r.app.memory.List(ctx, 20)
		if err != nil {
			return err
		}
		r.printNotes(notes)
	case "search":
		if arg == "" {
			return errors.New("usage: /memory search <query>")
		}
		hits, err := r.app.memory.Search(ctx, arg, 10)
		if err != nil {
			return err
		}
		notes := make([]memstore.Note, 0, len(hits))
		for _, h := range hits {
			notes = append(notes, h.Note)
		}
		r.printNotes(notes)
	case "save":
		if arg == "" {
			return errors.New("usage: /memory save <text>")
		}
		note, err := r.app.memory.Save(ctx, arg, nil)
		if err != nil {
			return err
		}
		fmt.Fprintf(r.out, "saved note %s\n", note.ID)
	case "delete":
		if arg == "" {
			return errors.New("usage: /memory delete <id>")
		}
		if err := r.app.memory.Delete(ctx, arg); err != nil {
			return err
		}
		fmt.Fprintln(r.out, "deleted")
	default:
		return fmt.Errorf("unknown /memory subcommand %q", sub)
	}
	return nil
}

func (r *repl) printNotes(notes []memstore.Note) {
	if len(notes) == 0 {
		fmt.Fprintln(r.out, "no notes")
		return
	}
	for _, n := range notes {
		tags := ""
		if len(n.Tags) > 0 {
			tags = "  [" + strings.Join(n.Tags, ",") + "]"
		}
		fmt.Fprintf(r.out, "%s  %s%s\n", n.ID, clip(n.Text, 80), tags)
	}
}

func (r *repl) mcpStatus() {
	servers := r.app.mcp.Servers()
	if len(servers) == 0 {
		fmt.Fprintln(r.out, "no mcp servers connected")
		return
	}
	fmt.Fprintf(r.out, "connected mcp servers: %s\n", strings.Join(servers, ", "))
}

func (r *repl) banner() {
	fmt.Fprintf(r.out, "moa %s  repo %s", version, r.app.root)
	if servers := r.app.mcp.Servers(); len(servers) > 0 {
		fmt.Fprintf(r.out, "  mcp %s", strings.Join(servers, ","))
	}
	fmt.Fprintln(r.out)
	fmt.Fprintln(r.out, "type /help for commands")
}

func (r *repl) help() {
	fmt.Fprint(r.out, `commands:
  /help              show this help
  /plan              enter plan mode (read-only tools)
  /build             leave plan mode
  /usage             session token and call counters
  /clear             drop the conversation, keep the process
  /sessions          list saved sessions for this repository
  /resume <id>       load a saved session
  /memory            list notes; also: search <q>, save <text>, delete <id>
  /mcp               list connected mcp servers
  /quit              save and exit
anything else is sent to the model
`)
}

func splitCommand(line string) (string, string) {
	cmd, rest, _ := strings.Cut(line, " ")
	return cmd, strings.TrimSpace(rest)
}

// changedFilesReminder tells the model which files were edited outside
// the session since it last read them.
func changedFilesReminder(paths []string) string {
	const maxListed = 10
	listed := paths
	more := 0
	if len(listed) > maxListed {
		more = len(listed) - maxListed
		listed = listed[:maxListed]
	}

	var b strings.Builder
	b.WriteString("<system-reminder>\nThese files changed on disk outside this session:\n")
	for _, p := range listed {
		b.WriteString("- ")
		b.WriteString(p)
		b.WriteString("\n")
	}
	if more > 0 {
		fmt.Fprintf(&b, "... and %d more\n", more)
	}
	b.WriteString("Re-read them before relying on earlier content.\n</system-reminder>")
	return b.String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// usageLine renders one turn's cost for the --stats flag.
func usageLine(snap engine.UsageSnapshot) string {
	est := ""
	if snap.Estimated {
		est = ", estimated"
	}
	return fmt.Sprintf("[%d prompt + %d completion tokens%s, %s]",
		snap.PromptTokens, snap.CompletionTokens, est, snap.WallTime.Round(time.Millisecond))
}

// formatStats renders the session counters for /usage.
func formatStats(s engine.Stats) string {
	var b strings.Builder
	fmt.Fprintf(&b, "api requests: %d (%d ok, %d failed) in %s\n",
		s.APIRequests, s.APISuccess, s.APIErrors, s.APITimeSpent.Round(time.Millisecond))
	fmt.Fprintf(&b, "tokens: %d prompt, %d completion\n", s.PromptTokens, s.CompletionTokens)
	fmt.Fprintf(&b, "tool calls: %d (%d failed)\n", s.ToolCalls, s.ToolErrors)
	size := fmt.Sprintf("%d", s.CurrentPromptSize)
	if s.CurrentPromptSizeEstimated {
		size += " (estimated)"
	}
	fmt.Fprintf(&b, "prompt size: %s tokens\n", size)
	return b.String()
}
