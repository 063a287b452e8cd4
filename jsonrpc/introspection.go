package jsonrpc

import (
	"context"
	"runtime"
)

const (
	// Toolkit and ToolkitVersion identify this engine in the version
	// introspection method.
	Toolkit        = "onerpc"
	ToolkitVersion = "1.0.0"
)

// MethodDescription is returned by the describe and describeAll methods.
type MethodDescription struct {
	Name        string      `json:"name"`
	Schema      interface{} `json:"schema"`
	Description string      `json:"description"`
}

// VersionInfo is returned by the version method.
type VersionInfo struct {
	Toolkit   string `json:"toolkit"`
	Version   string `json:"version"`
	GoVersion string `json:"goVersion"`
}

// Capabilities is returned by the capabilities method. MethodCount excludes
// the introspection methods.
type Capabilities struct {
	Batch         bool `json:"batch"`
	Introspection bool `json:"introspection"`
	Validation    bool `json:"validation"`
	Middleware    bool `json:"middleware"`
	SafeMode      bool `json:"safeMode"`
	MethodCount   int  `json:"methodCount"`
}

func (e *Endpoint[C]) registerIntrospection() {
	builtins := []struct {
		name        string
		handler     Handler[C]
		description string
	}{
		{"listMethods", e.introspectList, "List the names of all registered methods"},
		{"describe", e.introspectDescribe, "Describe one method"},
		{"describeAll", e.introspectDescribeAll, "Describe every method that exposes its schema"},
		{"version", e.introspectVersion, "Report toolkit and version information"},
		{"capabilities", e.introspectCapabilities, "Report the engine configuration"},
	}
	for _, b := range builtins {
		name := e.opts.IntrospectionPrefix + "." + b.name
		if err := e.registry.registerReserved(name, b.handler, MethodConfig{Description: b.description}); err != nil {
			panic("jsonrpc: " + err.Error())
		}
	}
}

// Capabilities returns a snapshot of the engine configuration.
func (e *Endpoint[C]) Capabilities() Capabilities {
	return Capabilities{
		Batch:         e.opts.EnableBatch,
		Introspection: e.opts.EnableIntrospection,
		Validation:    e.opts.EnableValidation,
		Middleware:    e.opts.EnableMiddleware,
		SafeMode:      e.opts.SafeMode,
		MethodCount:   len(e.registry.UserNames()),
	}
}

func (e *Endpoint[C]) introspectList(context.Context, Params, C) (interface{}, error) {
	return e.registry.UserNames(), nil
}

func (e *Endpoint[C]) introspectDescribe(_ context.Context, params Params, _ C) (interface{}, error) {
	name, ok := describeTarget(params)
	if !ok {
		return nil, NewInvalidParamsError("Invalid params: method name is required")
	}
	m, found := e.registry.Lookup(name)
	if !found {
		return nil, NewMethodNotFoundError(name)
	}
	return describeMethod(m), nil
}

// describeTarget reads the method name from {"method": name} or [name].
func describeTarget(params Params) (string, bool) {
	v, err := params.Value()
	if err != nil {
		return "", false
	}
	var name interface{}
	switch p := v.(type) {
	case map[string]interface{}:
		name = p["method"]
	case []interface{}:
		if len(p) > 0 {
			name = p[0]
		}
	}
	s, ok := name.(string)
	return s, ok && s != ""
}

func (e *Endpoint[C]) introspectDescribeAll(context.Context, Params, C) (interface{}, error) {
	methods := e.registry.Methods()
	out := make([]MethodDescription, 0, len(methods))
	for _, m := range methods {
		if m.ExposeSchema {
			out = append(out, describeMethod(m))
		}
	}
	return out, nil
}

func (e *Endpoint[C]) introspectVersion(context.Context, Params, C) (interface{}, error) {
	return VersionInfo{
		Toolkit:   Toolkit,
		Version:   ToolkitVersion,
		GoVersion: runtime.Version(),
	}, nil
}

func (e *Endpoint[C]) introspectCapabilities(context.Context, Params, C) (interface{}, error) {
	return e.Capabilities(), nil
}

func describeMethod[C any](m Method[C]) MethodDescription {
	return MethodDescription{
		Name:        m.Name,
		Schema:      m.Schema,
		Description: m.Description,
	}
}
