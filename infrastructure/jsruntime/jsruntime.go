// Package jsruntime runs the request/response mapping scripts in a goja
// (pure Go JavaScript) sandbox. Scripts are pure functions JSON → JSON with
// no ambient capabilities; each namespace gets an isolated runtime.
package jsruntime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/dop251/goja"

	"github.com/R3E-Network/integration_layer/infrastructure/errors"
)

// DefaultTimeout bounds one script invocation's wall clock.
const DefaultTimeout = 5 * time.Second

type namespaceRuntime struct {
	mu     sync.Mutex
	vm     *goja.Runtime
	fnName string
}

// Runtime holds one sandbox cell per namespace. The cells are not safe for
// concurrent use, so each invocation takes the namespace lock.
type Runtime struct {
	mu         sync.RWMutex
	namespaces map[string]*namespaceRuntime
	timeout    time.Duration
}

// New creates an empty runtime with the given per-call wall clock; zero
// means DefaultTimeout.
func New(timeout time.Duration) *Runtime {
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	return &Runtime{
		namespaces: make(map[string]*namespaceRuntime),
		timeout:    timeout,
	}
}

// Create compiles the code and registers the function under a namespace.
// Re-creating a namespace replaces its runtime, discarding prior global
// state.
func (r *Runtime) Create(namespace, fnName, code string) error {
	program, err := goja.Compile(namespace+".js", code, false)
	if err != nil {
		return errors.ScriptError(fmt.Sprintf("compile script for namespace %s", namespace), err)
	}

	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))
	if _, err := vm.RunProgram(program); err != nil {
		return errors.ScriptError(fmt.Sprintf("evaluate script for namespace %s", namespace), err)
	}
	if _, ok := goja.AssertFunction(vm.Get(fnName)); !ok {
		return errors.ScriptError(fmt.Sprintf("entry point %q is not a function", fnName), nil)
	}

	r.mu.Lock()
	r.namespaces[namespace] = &namespaceRuntime{vm: vm, fnName: fnName}
	r.mu.Unlock()
	return nil
}

// Run serialises the payload to JSON, invokes the namespaced function, and
// deserialises the result into out. The invocation is interrupted when the
// wall clock or the context expires.
func (r *Runtime) Run(ctx context.Context, namespace string, payload any, out any) error {
	r.mu.RLock()
	cell, ok := r.namespaces[namespace]
	r.mu.RUnlock()
	if !ok {
		return errors.ScriptError(fmt.Sprintf("unknown script namespace %s", namespace), nil)
	}

	input, err := json.Marshal(payload)
	if err != nil {
		return errors.SerializeError("serialize script payload", err)
	}

	cell.mu.Lock()
	defer cell.mu.Unlock()

	var arg any
	if err := json.Unmarshal(input, &arg); err != nil {
		return errors.DeserializeError("normalize script payload", err)
	}

	timer := time.AfterFunc(r.timeout, func() {
		cell.vm.Interrupt("script wall clock exceeded")
	})
	defer timer.Stop()

	stop := context.AfterFunc(ctx, func() {
		cell.vm.Interrupt("context cancelled")
	})
	defer stop()

	fn, _ := goja.AssertFunction(cell.vm.Get(cell.fnName))
	result, err := fn(goja.Undefined(), cell.vm.ToValue(arg))
	cell.vm.ClearInterrupt()
	if err != nil {
		return errors.ScriptError(fmt.Sprintf("run script in namespace %s", namespace), err)
	}

	exported, err := json.Marshal(result.Export())
	if err != nil {
		return errors.SerializeError("serialize script result", err)
	}
	if err := json.Unmarshal(exported, out); err != nil {
		return errors.DeserializeError("deserialize script result", err)
	}
	return nil
}

// Has reports whether a namespace is registered.
func (r *Runtime) Has(namespace string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.namespaces[namespace]
	return ok
}

// Remove drops a namespace and its runtime.
func (r *Runtime) Remove(namespace string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.namespaces, namespace)
}
