package autoplay

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dop251/goja"
)

var (
	// ErrScriptTimeout is returned when a script call overruns its budget.
	ErrScriptTimeout = errors.New("autoplay: script timed out")

	// ErrVMClosed is returned by every call after a timeout interrupted the
	// runtime; its script state can no longer be trusted.
	ErrVMClosed = errors.New("autoplay: vm closed after interrupt")
)

// LogEntry is one line written by a script.
type LogEntry struct {
	Time    time.Time `json:"time"`
	Message string    `json:"message"`
}

// VM is a sandboxed goja runtime holding one strategy script.
type VM struct {
	runtime *goja.Runtime
	mu      sync.Mutex

	logsMu  sync.Mutex
	logs    []LogEntry
	maxLogs int

	stopRequested bool
	closed        atomic.Bool
}

// NewVM creates a runtime with log, console.log and stop injected and
// network, module and eval access removed.
func NewVM() *VM {
	vm := &VM{runtime: goja.New(), maxLogs: 200}
	vm.runtime.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))
	vm.injectGlobals()
	return vm
}

func (vm *VM) injectGlobals() {
	vm.runtime.Set("log", func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, arg := range call.Arguments {
			parts[i] = arg.String()
		}
		vm.logsMu.Lock()
		if len(vm.logs) >= vm.maxLogs {
			vm.logs = vm.logs[1:]
		}
		vm.logs = append(vm.logs, LogEntry{Time: time.Now(), Message: strings.Join(parts, " ")})
		vm.logsMu.Unlock()
		return goja.Undefined()
	})
	console := vm.runtime.NewObject()
	_ = console.Set("log", vm.runtime.Get("log"))
	vm.runtime.Set("console", console)

	// stop() ends the run after the current spin.
	vm.runtime.Set("stop", func(goja.FunctionCall) goja.Value {
		vm.stopRequested = true
		return goja.Undefined()
	})

	for _, name := range []string{"require", "fetch", "XMLHttpRequest", "eval", "Function"} {
		vm.runtime.Set(name, goja.Undefined())
	}
}

// Load runs the script source once so it can define shouldStop.
func (vm *VM) Load(source string, timeout time.Duration) error {
	return vm.runWithTimeout(timeout, func() error {
		vm.mu.Lock()
		defer vm.mu.Unlock()
		if _, err := vm.runtime.RunString(source); err != nil {
			return fmt.Errorf("autoplay: load script: %w", err)
		}
		return nil
	})
}

// HasShouldStop reports whether the script defined shouldStop.
func (vm *VM) HasShouldStop() bool {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	_, ok := goja.AssertFunction(vm.runtime.Get("shouldStop"))
	return ok
}

// ShouldStop calls shouldStop(stats). A script without shouldStop only
// stops through stop().
func (vm *VM) ShouldStop(stats Stats, timeout time.Duration) (bool, error) {
	var stop bool
	err := vm.runWithTimeout(timeout, func() error {
		vm.mu.Lock()
		defer vm.mu.Unlock()

		fn, ok := goja.AssertFunction(vm.runtime.Get("shouldStop"))
		if ok {
			out, err := fn(goja.Undefined(), vm.runtime.ToValue(stats))
			if err != nil {
				return fmt.Errorf("autoplay: shouldStop: %w", err)
			}
			stop = out.ToBoolean()
		}
		stop = stop || vm.stopRequested
		return nil
	})
	return stop, err
}

// Logs returns a copy of the script's log buffer.
func (vm *VM) Logs() []LogEntry {
	vm.logsMu.Lock()
	defer vm.logsMu.Unlock()
	return append([]LogEntry(nil), vm.logs...)
}

// Closed reports whether a timeout has retired the runtime.
func (vm *VM) Closed() bool { return vm.closed.Load() }

func (vm *VM) runWithTimeout(timeout time.Duration, fn func() error) error {
	if vm.closed.Load() {
		return ErrVMClosed
	}
	done := make(chan error, 1)
	go func() {
		done <- fn()
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		vm.closed.Store(true)
		vm.runtime.Interrupt("script execution timeout")
		select {
		case <-done:
			vm.runtime.ClearInterrupt()
		case <-time.After(200 * time.Millisecond):
		}
		return ErrScriptTimeout
	}
}
