// Package worker implements the in-process script runtime a Worker Process
// (C2) embeds: compiling and evaluating user scripts against an
// entrypoint-function contract, with schema-validated I/O and a
// content-hash-keyed compiled-program cache. The surrounding dispatch loop
// lives in dispatch.go.
package worker

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/dop251/goja"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"ratchet/internal/taxonomy"
)

// TaskSource is the compilable unit a Worker Process receives: a script
// body plus optional I/O schemas, per spec §3 TaskDefinition.
type TaskSource struct {
	Name         string
	Script       string
	InputSchema  json.RawMessage
	OutputSchema json.RawMessage
}

func (t TaskSource) contentHash() string {
	sum := sha256.Sum256([]byte(t.Script))
	return hex.EncodeToString(sum[:])
}

// compiledProgram is what the cache stores: a parsed goja.Program plus the
// compiled JSON schemas (schema compilation is itself non-trivial, so it's
// cached alongside the script).
type compiledProgram struct {
	program      *goja.Program
	inputSchema  *jsonschema.Schema
	outputSchema *jsonschema.Schema
}

// Runtime owns one goja.Runtime instance (spec §4.2: "the worker creates
// one script-runtime context") and a cache of compiled programs keyed by
// script content hash.
type Runtime struct {
	vm    *goja.Runtime
	cache *lru.Cache[string, *compiledProgram]
}

// NewRuntime constructs a Runtime with a compiled-program cache of the
// given size (0 uses a sensible default).
func NewRuntime(cacheSize int) (*Runtime, error) {
	if cacheSize <= 0 {
		cacheSize = 64
	}
	cache, err := lru.New[string, *compiledProgram](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("worker: create script cache: %w", err)
	}
	return &Runtime{vm: goja.New(), cache: cache}, nil
}

// Validate compiles task.Script and its schemas without executing it,
// reporting any diagnostic as an error (spec §4.2 ValidateTask: "compile
// only, report diagnostics").
func (r *Runtime) Validate(task TaskSource) error {
	_, err := r.compile(task)
	return err
}

func (r *Runtime) compile(task TaskSource) (*compiledProgram, error) {
	hash := task.contentHash()
	if cp, ok := r.cache.Get(hash); ok {
		return cp, nil
	}

	program, err := goja.Compile(task.Name, task.Script, false)
	if err != nil {
		return nil, taxonomy.Wrap(taxonomy.TaskValidationFailed, err, "script compilation failed")
	}

	cp := &compiledProgram{program: program}

	if len(task.InputSchema) > 0 {
		schema, err := compileSchema("input", task.InputSchema)
		if err != nil {
			return nil, taxonomy.Wrap(taxonomy.TaskValidationFailed, err, "input schema invalid")
		}
		cp.inputSchema = schema
	}
	if len(task.OutputSchema) > 0 {
		schema, err := compileSchema("output", task.OutputSchema)
		if err != nil {
			return nil, taxonomy.Wrap(taxonomy.TaskValidationFailed, err, "output schema invalid")
		}
		cp.outputSchema = schema
	}

	r.cache.Add(hash, cp)
	return cp, nil
}

func compileSchema(name string, raw json.RawMessage) (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse %s schema: %w", name, err)
	}
	if err := c.AddResource(name+".json", doc); err != nil {
		return nil, fmt.Errorf("add %s schema resource: %w", name, err)
	}
	return c.Compile(name + ".json")
}

// Execute evaluates task's entrypoint function of shape (input) -> output
// against input, validating input/output against any configured schemas.
// Returns the marshaled JSON output or a taxonomy-classified failure.
func (r *Runtime) Execute(task TaskSource, input json.RawMessage) (json.RawMessage, error) {
	cp, err := r.compile(task)
	if err != nil {
		return nil, err
	}

	if cp.inputSchema != nil {
		var doc any
		if err := json.Unmarshal(input, &doc); err != nil {
			return nil, taxonomy.Wrap(taxonomy.ValidationErrorKind, err, "input is not valid JSON")
		}
		if err := cp.inputSchema.Validate(doc); err != nil {
			return nil, taxonomy.Wrap(taxonomy.ValidationErrorKind, err, "input failed schema validation")
		}
	}

	var inputValue any
	if err := json.Unmarshal(input, &inputValue); err != nil {
		return nil, taxonomy.Wrap(taxonomy.ValidationErrorKind, err, "input is not valid JSON")
	}

	entrypoint, err := r.vm.RunProgram(cp.program)
	if err != nil {
		return nil, taxonomy.Wrap(taxonomy.ExecutionFailed, err, "script evaluation failed")
	}
	fn, ok := goja.AssertFunction(entrypoint)
	if !ok {
		return nil, taxonomy.New(taxonomy.ExecutionFailed, "script did not evaluate to a callable entrypoint")
	}

	result, err := fn(goja.Undefined(), r.vm.ToValue(inputValue))
	if err != nil {
		return nil, taxonomy.Wrap(taxonomy.ExecutionFailed, err, "script threw during execution")
	}

	output, err := json.Marshal(result.Export())
	if err != nil {
		return nil, taxonomy.Wrap(taxonomy.ExecutionFailed, err, "script returned a non-serializable value")
	}

	if cp.outputSchema != nil {
		var doc any
		if err := json.Unmarshal(output, &doc); err == nil {
			if err := cp.outputSchema.Validate(doc); err != nil {
				return nil, taxonomy.Wrap(taxonomy.ValidationErrorKind, err, "output failed schema validation")
			}
		}
	}

	return output, nil
}
