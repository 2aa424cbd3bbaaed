package engine

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/google/uuid"
)

const rejectedByUser = "Tool call rejected by user"

// DispatcherOptions wires the collaborators a ToolDispatcher needs.
type DispatcherOptions struct {
	Registry  ToolRegistry
	Approvals *ApprovalCache
	Mode      *ModeGate
	UI        UISink
	Signal    *CancelSignal
	MCP       MCPCaller
	YoloMode  bool
	Hooks     Hooks

	// WorkDir is where command tools run; empty inherits the process
	// working directory.
	WorkDir string
}

// ToolDispatcher resolves, gates, and executes the tool calls of one
// assistant message. It owns a mutex per MCP server so stdio pipes never
// see interleaved calls.
type ToolDispatcher struct {
	registry  ToolRegistry
	approvals *ApprovalCache
	mode      *ModeGate
	ui        UISink
	sig       *CancelSignal
	mcp       MCPCaller
	yolo      bool
	hooks     Hooks
	workDir   string

	mu          sync.Mutex
	serverLocks map[string]*sync.Mutex
}

func NewToolDispatcher(opts DispatcherOptions) *ToolDispatcher {
	ui := opts.UI
	if ui == nil {
		ui = NopUISink{}
	}
	return &ToolDispatcher{
		registry:    opts.Registry,
		approvals:   opts.Approvals,
		mode:        opts.Mode,
		ui:          ui,
		sig:         opts.Signal,
		mcp:         opts.MCP,
		yolo:        opts.YoloMode,
		hooks:       opts.Hooks,
		workDir:     opts.WorkDir,
		serverLocks: make(map[string]*sync.Mutex),
	}
}

// callPlan is the pre-flight assessment of one call: resolved definition,
// parsed arguments, and any result that can be produced without running
// anything.
type callPlan struct {
	call        ToolCall
	def         ToolDefinition
	known       bool
	args        map[string]any
	ready       *ToolResult
	needsPrompt bool
}

// RunAll executes a batch of tool calls and returns results in the order
// of the calls, regardless of completion order. The batch runs in
// parallel only when no call needs an interactive approval prompt, none
// is marked serialize, and no two calls target the same MCP server.
func (d *ToolDispatcher) RunAll(ctx context.Context, calls []ToolCall) []ToolResult {
	if len(calls) == 0 {
		return nil
	}
	plans := make([]*callPlan, len(calls))
	for i, c := range calls {
		plans[i] = d.plan(c)
	}

	results := make([]ToolResult, len(calls))
	if len(calls) > 1 && parallelizable(plans) {
		var wg sync.WaitGroup
		for i := range plans {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				results[i] = d.run(ctx, plans[i])
			}(i)
		}
		wg.Wait()
		return results
	}

	for i := range plans {
		results[i] = d.run(ctx, plans[i])
	}
	return results
}

// plan resolves the call, parses its arguments, and applies the plan-mode
// gate. It runs sequentially before any fan-out, so UI notices from here
// never interleave.
func (d *ToolDispatcher) plan(c ToolCall) *callPlan {
	p := &callPlan{call: c}

	def, ok := d.registry.Resolve(c.Name)
	if !ok {
		p.ready = &ToolResult{
			ToolCallID: c.ID,
			Content:    "Error: unknown tool " + c.Name,
			IsError:    true,
		}
		return p
	}
	p.def = def
	p.known = true

	args, err := parseArguments(c.Arguments)
	if err != nil {
		d.ui.Notice(NoticeToolParse, fmt.Sprintf("%s: %v", c.Name, err))
		p.ready = &ToolResult{
			ToolCallID: c.ID,
			Content:    fmt.Sprintf("Error: invalid arguments for %s: %v", c.Name, err),
			IsError:    true,
		}
		return p
	}
	p.args = args

	if !d.mode.Allowed(def) {
		p.ready = &ToolResult{
			ToolCallID: c.ID,
			Content:    d.mode.RestrictionResult(c.Name),
			IsError:    true,
		}
		return p
	}

	p.needsPrompt = !d.yolo && !def.AutoApproved && !d.approvals.Contains(Fingerprint(def, args))
	return p
}

// parseArguments decodes the raw arguments string. The model sometimes
// emits nothing at all for zero-argument tools; that counts as an empty
// object, not an error. Malformed JSON is reported, never repaired.
func parseArguments(raw string) (map[string]any, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(trimmed), &args); err != nil {
		return nil, fmt.Errorf("arguments are not a JSON object: %w", err)
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}

func parallelizable(plans []*callPlan) bool {
	servers := make(map[string]bool)
	for _, p := range plans {
		if p.ready != nil {
			continue
		}
		if p.needsPrompt || p.def.Serialize {
			return false
		}
		if p.def.Kind == ToolMCPStdio {
			if servers[p.def.Server] {
				return false
			}
			servers[p.def.Server] = true
		}
	}
	return true
}

func (d *ToolDispatcher) run(ctx context.Context, p *callPlan) ToolResult {
	d.hooks.OnToolCall(ctx, p.call)
	res := d.execute(ctx, p)
	d.hooks.OnToolResult(ctx, p.call, res)
	return res
}

func (d *ToolDispatcher) execute(ctx context.Context, p *callPlan) ToolResult {
	if p.ready != nil {
		return *p.ready
	}

	// The cache is consulted again at prompt time, not trusted from the
	// pre-flight: batches with prompts run sequentially, so an
	// allow-session answer earlier in the batch covers a later call with
	// the same fingerprint.
	if p.needsPrompt && !d.approvals.Contains(Fingerprint(p.def, p.args)) {
		if d.sig.Raised() {
			return cancelledResult(p.call.ID)
		}
		actx, unbind := d.sig.Bind(ctx)
		verdict := d.ui.AskApproval(actx, p.call.Name, p.args)
		unbind()
		if d.sig.Raised() {
			return cancelledResult(p.call.ID)
		}
		switch verdict {
		case ApprovalSession:
			d.approvals.Add(Fingerprint(p.def, p.args))
		case ApprovalOnce:
		default:
			return ToolResult{ToolCallID: p.call.ID, Content: rejectedByUser, IsError: true}
		}
	}

	out, err := d.invoke(ctx, p)
	if err != nil {
		if errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled) {
			return cancelledResult(p.call.ID)
		}
		d.ui.Notice(NoticeToolExec, fmt.Sprintf("%s: %v", p.call.Name, err))
		return ToolResult{
			ToolCallID: p.call.ID,
			Content:    "Error: " + err.Error(),
			IsError:    true,
		}
	}

	return ToolResult{
		ToolCallID: p.call.ID,
		Content:    normalizeOutput(p.def, out.Content),
		Hidden:     p.def.HideResults,
		Guidance:   out.Guidance,
	}
}

func cancelledResult(id string) ToolResult {
	return ToolResult{ToolCallID: id, Content: "Tool execution cancelled", IsError: true}
}

func (d *ToolDispatcher) invoke(ctx context.Context, p *callPlan) (ToolOutput, error) {
	ctx, unbind := d.sig.Bind(ctx)
	defer unbind()
	if p.def.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.def.Timeout)
		defer cancel()
	}

	switch p.def.Kind {
	case ToolInternal:
		return d.registry.InvokeInternal(ctx, p.def.Name, p.args)
	case ToolCommand:
		out, err := d.runCommand(ctx, p.def, p.args)
		return ToolOutput{Content: out}, err
	case ToolJSONRPC:
		out, err := d.callJSONRPC(ctx, p.def, p.args)
		return ToolOutput{Content: out}, err
	case ToolMCPStdio:
		out, err := d.callMCP(ctx, p.def, p.args)
		return ToolOutput{Content: out}, err
	default:
		return ToolOutput{}, fmt.Errorf("tool %s: unsupported kind %q", p.def.Name, p.def.Kind)
	}
}

// runCommand spawns the tool's argv with {name} placeholders substituted
// from the arguments and captures combined output. On cancellation the
// process is left to finish on its own; only the wait is abandoned.
func (d *ToolDispatcher) runCommand(ctx context.Context, def ToolDefinition, args map[string]any) (string, error) {
	if len(def.Command) == 0 {
		return "", fmt.Errorf("tool %s: empty command", def.Name)
	}
	argv := make([]string, len(def.Command))
	for i, part := range def.Command {
		argv[i] = substitutePlaceholders(part, args)
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = d.workDir
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("tool %s: %w", def.Name, err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case err := <-done:
		if err != nil {
			return "", fmt.Errorf("tool %s: %w\n%s", def.Name, err, out.String())
		}
		return out.String(), nil
	case <-ctx.Done():
		go func() { <-done }()
		return "", ctx.Err()
	}
}

func substitutePlaceholders(part string, args map[string]any) string {
	if !strings.Contains(part, "{") {
		return part
	}
	for key, val := range args {
		part = strings.ReplaceAll(part, "{"+key+"}", argString(val))
	}
	return part
}

func argString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case nil:
		return ""
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprintf("%v", t)
		}
		return string(b)
	}
}

type rpcRequest struct {
	JSONRPC string         `json:"jsonrpc"`
	ID      string         `json:"id"`
	Method  string         `json:"method"`
	Params  map[string]any `json:"params,omitempty"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (d *ToolDispatcher) callJSONRPC(ctx context.Context, def ToolDefinition, args map[string]any) (string, error) {
	method := def.Remote
	if method == "" {
		method = def.Name
	}
	payload, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      uuid.NewString(),
		Method:  method,
		Params:  args,
	})
	if err != nil {
		return "", fmt.Errorf("tool %s: %w", def.Name, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, def.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("tool %s: %w", def.Name, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := sharedHTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("tool %s: %w", def.Name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", fmt.Errorf("tool %s: %w", def.Name, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("tool %s: endpoint returned %d: %s", def.Name, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out rpcResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("tool %s: bad rpc response: %w", def.Name, err)
	}
	if out.Error != nil {
		return "", fmt.Errorf("tool %s: rpc error %d: %s", def.Name, out.Error.Code, out.Error.Message)
	}

	// String results come back unquoted; anything else stays raw JSON.
	var s string
	if json.Unmarshal(out.Result, &s) == nil {
		return s, nil
	}
	return string(out.Result), nil
}

func (d *ToolDispatcher) callMCP(ctx context.Context, def ToolDefinition, args map[string]any) (string, error) {
	if d.mcp == nil {
		return "", fmt.Errorf("tool %s: no MCP client configured", def.Name)
	}
	lock := d.serverLock(def.Server)
	lock.Lock()
	defer lock.Unlock()

	remote := def.Remote
	if remote == "" {
		remote = def.Name
	}
	return d.mcp.CallTool(ctx, def.Server, remote, args)
}

func (d *ToolDispatcher) serverLock(server string) *sync.Mutex {
	d.mu.Lock()
	defer d.mu.Unlock()
	l, ok := d.serverLocks[server]
	if !ok {
		l = &sync.Mutex{}
		d.serverLocks[server] = l
	}
	return l
}

// normalizeOutput coerces tool output into a valid UTF-8 string. Internal
// tools that declare EncodeBinary get base64 for non-UTF-8 output; all
// other bad bytes are replaced.
func normalizeOutput(def ToolDefinition, out string) string {
	if utf8.ValidString(out) {
		return out
	}
	if def.Kind == ToolInternal && def.EncodeBinary {
		return base64.StdEncoding.EncodeToString([]byte(out))
	}
	return strings.ToValidUTF8(out, string(utf8.RuneError))
}
