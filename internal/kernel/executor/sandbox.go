// Sandbox runs artifact code inside an embedded, pure-Go JavaScript VM
// (dop251/goja): a fresh runtime per invocation for isolation, a small
// injected standard library,
// and entry-point invocation via goja.AssertFunction. Compiled programs
// are cached by (artifact id, content hash) so a hot tool's source is
// parsed once, not on every call.
package executor

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dop251/goja"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/r3e-network/agent-kernel/internal/kernel/kernelerr"
)

// builtinPreamble is executed in every runtime before the artifact's own
// code, defining the sandbox's entire standard library. There is no
// require/import; this is the whitelist.
const builtinPreamble = `
var console = {
  log: function() { __log(Array.prototype.slice.call(arguments).map(String).join(" ")); }
};
`

// SandboxRequest describes one sandboxed invocation.
type SandboxRequest struct {
	ArtifactID  string
	ContentHash string
	Source      string
	EntryPoint  string
	KernelState map[string]any
	Invoke      func(targetID string, args map[string]any) (map[string]any, error)
	CallerID    string
	Args        map[string]any
	Timeout     time.Duration
}

// SandboxResult is what a sandboxed invocation returns.
type SandboxResult struct {
	Value  map[string]any
	Logs   []string
	Actions []map[string]any
}

// Sandbox executes artifact code.
type Sandbox struct {
	compiled *lru.Cache[string, *goja.Program]
}

// NewSandbox constructs a sandbox with a compiled-program cache sized
// cacheSize.
func NewSandbox(cacheSize int) *Sandbox {
	if cacheSize <= 0 {
		cacheSize = 1
	}
	cache, _ := lru.New[string, *goja.Program](cacheSize)
	return &Sandbox{compiled: cache}
}

func cacheKey(artifactID, source string) string {
	sum := sha256.Sum256([]byte(source))
	return artifactID + ":" + hex.EncodeToString(sum[:8])
}

func (s *Sandbox) compile(artifactID, source string) (*goja.Program, error) {
	key := cacheKey(artifactID, source)
	if prog, ok := s.compiled.Get(key); ok {
		return prog, nil
	}
	prog, err := goja.Compile(artifactID, builtinPreamble+"\n"+source, false)
	if err != nil {
		return nil, fmt.Errorf("compile %s: %w: %v", artifactID, kernelerr.ErrInvalidArgument, err)
	}
	s.compiled.Add(key, prog)
	return prog, nil
}

// ValidateScript parses source without executing it, used to reject
// malformed artifact code at write time.
func (s *Sandbox) ValidateScript(source string) error {
	_, err := goja.Compile("validate.js", builtinPreamble+"\n"+source, false)
	if err != nil {
		return fmt.Errorf("%w: %v", kernelerr.ErrInvalidArgument, err)
	}
	return nil
}

// Execute runs req.EntryPoint inside a fresh runtime, enforcing
// req.Timeout cooperatively via vm.Interrupt, since goja offers no true
// pre-emption from a host call in progress.
func (s *Sandbox) Execute(req SandboxRequest) (res *SandboxResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			res, err = nil, fmt.Errorf("%w: panic: %v", kernelerr.ErrRuntime, r)
		}
	}()
	prog, err := s.compile(req.ArtifactID, req.Source)
	if err != nil {
		return nil, err
	}

	vm := goja.New()
	var logs []string
	var actions []map[string]any

	vm.Set("__log", func(line string) { logs = append(logs, line) })
	vm.Set("kernel_state", req.KernelState)
	vm.Set("kernel_actions", func(verb string, args map[string]any) {
		action := map[string]any{"verb": verb}
		for k, v := range args {
			action[k] = v
		}
		actions = append(actions, action)
	})
	vm.Set("caller_id", req.CallerID)
	vm.Set("invoke", func(targetID string, args map[string]any) map[string]any {
		if req.Invoke == nil {
			return map[string]any{"error": "invoke unavailable"}
		}
		result, err := req.Invoke(targetID, args)
		if err != nil {
			return map[string]any{"error": err.Error()}
		}
		return result
	})

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	timer := time.AfterFunc(timeout, func() {
		vm.Interrupt("execution timed out")
	})
	defer timer.Stop()

	if _, err := vm.RunProgram(prog); err != nil {
		if ie, ok := err.(*goja.InterruptedError); ok {
			return nil, fmt.Errorf("%w: %v", kernelerr.ErrTimeout, ie)
		}
		return nil, fmt.Errorf("%w: %v", kernelerr.ErrRuntime, err)
	}

	entry := req.EntryPoint
	if entry == "" {
		entry = "main"
	}
	fn, ok := goja.AssertFunction(vm.Get(entry))
	if !ok {
		return nil, fmt.Errorf("entry point %q is not a function: %w", entry, kernelerr.ErrInvalidArgument)
	}

	argsVal := vm.ToValue(req.Args)
	result, err := fn(goja.Undefined(), argsVal)
	if err != nil {
		if ie, ok := err.(*goja.InterruptedError); ok {
			return nil, fmt.Errorf("%w: %v", kernelerr.ErrTimeout, ie)
		}
		return nil, fmt.Errorf("%w: %v", kernelerr.ErrRuntime, err)
	}

	value, err := exportResult(result)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", kernelerr.ErrRuntime, err)
	}

	return &SandboxResult{Value: value, Logs: logs, Actions: actions}, nil
}

// exportResult converts a goja return value into map[string]any, falling
// back to a JSON round trip for non-map results (e.g. a returned array or
// scalar).
func exportResult(v goja.Value) (map[string]any, error) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return map[string]any{}, nil
	}
	exported := v.Export()
	if m, ok := exported.(map[string]any); ok {
		return m, nil
	}
	if _, err := json.Marshal(exported); err != nil {
		return nil, err
	}
	return map[string]any{"value": exported}, nil
}
