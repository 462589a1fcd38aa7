package config

import (
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cuejson "cuelang.org/go/encoding/json"
)

// SchemaRegistry manages the CUE schemas the project files are validated
// against before any Go-level decoding decisions are made.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// NewSchemaRegistry creates a schema registry with the built-in project
// file schemas registered.
func NewSchemaRegistry() *SchemaRegistry {
	sr := &SchemaRegistry{
		ctx:     cuecontext.New(),
		schemas: make(map[string]cue.Value),
	}
	sr.registerBuiltInSchemas()
	return sr
}

func (sr *SchemaRegistry) registerBuiltInSchemas() {
	sr.RegisterSchema(FileSettings, builtinSettingsSchema)
	sr.RegisterSchema(FileProviderMap, builtinProviderMapSchema)
	sr.RegisterSchema(FileDevices, builtinDevicesSchema)
	sr.RegisterSchema(FileEvents, builtinEventsSchema)
	sr.RegisterSchema(FileOptimization, builtinOptimizationSchema)
}

// RegisterSchema registers a CUE schema under the given file name.
func (sr *SchemaRegistry) RegisterSchema(name, schema string) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	val := sr.ctx.CompileString(schema)
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}

	sr.schemas[name] = val
	return nil
}

// Validate validates raw JSON file content against the schema registered
// for file. Files without a registered schema pass; they are covered by
// struct-level validation only.
func (sr *SchemaRegistry) Validate(file string, raw []byte) error {
	sr.mu.RLock()
	schema, ok := sr.schemas[file]
	sr.mu.RUnlock()
	if !ok {
		return nil
	}

	// The JSON source feeds CUE directly. A detour through interface{}
	// would turn every numeric literal into a float and break the int
	// constraints.
	expr, err := cuejson.Extract(file, raw)
	if err != nil {
		return &ConfigurationError{File: file, Message: "malformed JSON", Err: err}
	}
	dataVal := sr.ctx.BuildExpr(expr)
	if err := dataVal.Err(); err != nil {
		return fmt.Errorf("failed to encode %s content: %w", file, err)
	}

	unified := schema.Unify(dataVal)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return &ConfigurationError{File: file, Message: err.Error(), Err: err}
	}

	return nil
}

// Built-in schema definitions. They gate shape; required-key reporting
// with exact file/key names happens in the compiler afterwards.

const builtinSettingsSchema = `
{
	digitalTwinName: string & =~"^[a-z0-9][a-z0-9-]*$"
	retention: {
		hotDays:     int & >0
		coldDays:    int & >0
		archiveDays: int & >0
	}
}
`

const builtinProviderMapSchema = `
#Provider: "aws" | "azure" | "google"

{
	layer_1:         #Provider
	layer_2:         #Provider
	layer_3_hot:     #Provider
	layer_3_cold:    #Provider
	layer_3_archive: #Provider
	layer_4:         #Provider | ""
	layer_5:         #Provider | ""
}
`

const builtinDevicesSchema = `
[...{
	id: string & !=""
	properties?: [...{
		name: string & !=""
		type: "double" | "integer" | "string" | "boolean"
	}]
	constProperties?: [...{
		name: string & !=""
		value: _
	}]
}]
`

const builtinEventsSchema = `
[...{
	condition: string & !=""
	action: {
		type:         string & !=""
		functionName: string & !=""
		feedback?: {
			iotDeviceId: string & !=""
			payload:     _
		}
	}
}]
`

const builtinOptimizationSchema = `
{
	enableEventFeedback?: bool
	enableDashboard?:     bool
	enableArchiveTier?:   bool
}
`
