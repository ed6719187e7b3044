package appserver

import (
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/pretyflaco/openagents-sub005/internal/errs"
)

// ParamValidator compiles and applies JSON Schemas for the handful of
// app-server methods that publish one, rejecting malformed params before
// they ever reach the wire.
//
// Grounded on the teacher's PolicyFirewall, which compiles one schema per
// tool name and validates params before dispatch; here the "tool name" is
// the RPC method name and there is no allowlist step, since the method
// catalogue itself is the allowlist.
type ParamValidator struct {
	schema map[string]*jsonschema.Schema
}

// NewParamValidator returns an empty validator; register schemas with
// RegisterSchema.
func NewParamValidator() *ParamValidator {
	return &ParamValidator{schema: make(map[string]*jsonschema.Schema)}
}

// RegisterSchema compiles schemaJSON and associates it with method.
func (v *ParamValidator) RegisterSchema(method, schemaJSON string) error {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	url := fmt.Sprintf("https://openagents.local/appserver/%s.schema.json", method)
	if err := c.AddResource(url, strings.NewReader(schemaJSON)); err != nil {
		return errs.Wrap(errs.KindInternal, err, "appserver: load schema for "+method)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return errs.Wrap(errs.KindInternal, err, "appserver: compile schema for "+method)
	}
	v.schema[method] = compiled
	return nil
}

// Validate checks params against method's registered schema. Methods with
// no registered schema pass unconditionally.
func (v *ParamValidator) Validate(method string, params map[string]any) error {
	schema, ok := v.schema[method]
	if !ok || schema == nil {
		return nil
	}
	if err := schema.Validate(params); err != nil {
		return errs.Wrap(errs.KindInvalidRequest, err, "appserver: params failed schema for "+method)
	}
	return nil
}
