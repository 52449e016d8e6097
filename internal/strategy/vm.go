// Package strategy runs user-supplied autoplay scripts in a sandboxed goja
// runtime. A script defines choose(history) and returns the next move.
package strategy

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"

	"github.com/MJE43/celo-rps/internal/games"
)

// LogEntry is a single line written by the script via log() or console.log().
type LogEntry struct {
	Time    time.Time `json:"time"`
	Message string    `json:"message"`
}

// HistoryEntry is one prior round as seen by the script.
type HistoryEntry struct {
	Player   string `json:"player"`
	Opponent string `json:"opponent"`
	Outcome  string `json:"outcome"`
}

// ErrNoChooseFunc is returned when the script does not define choose().
var ErrNoChooseFunc = errors.New("strategy: choose() function is not defined")

const (
	defaultInitTimeout = 2 * time.Second
	defaultCallTimeout = 500 * time.Millisecond
	defaultMaxLogs     = 200
)

// VM wraps a goja runtime with sandbox restrictions.
type VM struct {
	runtime *goja.Runtime
	mu      sync.Mutex

	logs    []LogEntry
	logsMu  sync.Mutex
	maxLogs int

	initTimeout time.Duration
	callTimeout time.Duration
}

// Option tweaks VM limits.
type Option func(*VM)

// WithCallTimeout bounds each choose() call.
func WithCallTimeout(d time.Duration) Option {
	return func(vm *VM) {
		if d > 0 {
			vm.callTimeout = d
		}
	}
}

// NewVM compiles and runs source, which must define choose(history).
func NewVM(source string, opts ...Option) (*VM, error) {
	vm := &VM{
		runtime:     goja.New(),
		maxLogs:     defaultMaxLogs,
		initTimeout: defaultInitTimeout,
		callTimeout: defaultCallTimeout,
	}
	for _, opt := range opts {
		opt(vm)
	}
	vm.runtime.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))
	vm.injectGlobals()

	err := vm.runWithTimeout(vm.initTimeout, func() error {
		if _, err := vm.runtime.RunString(source); err != nil {
			return fmt.Errorf("strategy: script error: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if _, ok := vm.chooseFunc(); !ok {
		return nil, ErrNoChooseFunc
	}
	return vm, nil
}

func (vm *VM) injectGlobals() {
	vm.runtime.Set("log", func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, arg := range call.Arguments {
			parts[i] = arg.String()
		}
		vm.appendLog(strings.Join(parts, " "))
		return goja.Undefined()
	})

	console := vm.runtime.NewObject()
	_ = console.Set("log", vm.runtime.Get("log"))
	vm.runtime.Set("console", console)

	vm.runtime.Set("require", goja.Undefined())
	vm.runtime.Set("fetch", goja.Undefined())
	vm.runtime.Set("XMLHttpRequest", goja.Undefined())
	vm.runtime.Set("eval", goja.Undefined())
	vm.runtime.Set("Function", goja.Undefined())
}

func (vm *VM) appendLog(msg string) {
	vm.logsMu.Lock()
	defer vm.logsMu.Unlock()
	if len(vm.logs) >= vm.maxLogs {
		vm.logs = vm.logs[1:]
	}
	vm.logs = append(vm.logs, LogEntry{Time: time.Now(), Message: msg})
}

func (vm *VM) chooseFunc() (goja.Callable, bool) {
	fn := vm.runtime.Get("choose")
	if fn == nil || goja.IsUndefined(fn) || goja.IsNull(fn) {
		return nil, false
	}
	return goja.AssertFunction(fn)
}

// Choose calls choose(history) and converts the result to a Choice.
// Numbers 0..2 and choice names are both accepted.
func (vm *VM) Choose(history []HistoryEntry) (games.Choice, error) {
	var out games.Choice
	err := vm.runWithTimeout(vm.callTimeout, func() error {
		vm.mu.Lock()
		defer vm.mu.Unlock()

		callable, ok := vm.chooseFunc()
		if !ok {
			return ErrNoChooseFunc
		}
		if history == nil {
			history = []HistoryEntry{}
		}
		result, err := callable(goja.Undefined(), vm.runtime.ToValue(history))
		if err != nil {
			return fmt.Errorf("strategy: choose() error: %w", err)
		}
		c, err := toChoice(result)
		if err != nil {
			return err
		}
		out = c
		return nil
	})
	return out, err
}

func toChoice(v goja.Value) (games.Choice, error) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return 0, fmt.Errorf("strategy: choose() returned nothing")
	}
	switch exported := v.Export().(type) {
	case int64:
		if exported < 0 {
			return 0, fmt.Errorf("strategy: choose() returned %d", exported)
		}
		return games.ChoiceFromIndex(uint64(exported))
	case float64:
		if exported < 0 || exported != float64(int64(exported)) {
			return 0, fmt.Errorf("strategy: choose() returned %v", exported)
		}
		return games.ChoiceFromIndex(uint64(exported))
	case string:
		return games.ParseChoice(exported)
	default:
		return 0, fmt.Errorf("strategy: choose() returned unsupported %T", exported)
	}
}

// Logs returns a copy of the log buffer.
func (vm *VM) Logs() []LogEntry {
	vm.logsMu.Lock()
	defer vm.logsMu.Unlock()
	out := make([]LogEntry, len(vm.logs))
	copy(out, vm.logs)
	return out
}

func (vm *VM) runWithTimeout(timeout time.Duration, fn func() error) error {
	done := make(chan error, 1)
	go func() {
		done <- fn()
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		vm.runtime.Interrupt("script execution timeout")
		select {
		case err := <-done:
			vm.runtime.ClearInterrupt()
			if err != nil {
				return fmt.Errorf("strategy: script timed out: %w", err)
			}
			return fmt.Errorf("strategy: script timed out")
		case <-time.After(200 * time.Millisecond):
			return fmt.Errorf("strategy: script timed out")
		}
	}
}
