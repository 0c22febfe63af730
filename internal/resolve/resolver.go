// Package resolve extracts a single secret string from a vault item document.
//
// Queries are JMESPath by default:
//
//	login.password
//	fields[?name=='api_key'].value | [0]
//
// A "jq:" prefix switches to jq syntax, evaluated with gojq:
//
//	jq:.login.uris[0].uri
//	jq:.fields[] | select(.name == "api_key") | .value
//
// Only string results are secrets. null, objects, arrays, numbers and
// booleans are all rejected with *vault.ExtractionError.
package resolve

import (
	"fmt"
	"strings"
	"sync"

	"github.com/itchyny/gojq"
	"github.com/jmespath/go-jmespath"
	"github.com/systmms/punlock/pkg/vault"
)

// JQPrefix marks a query as jq rather than JMESPath.
const JQPrefix = "jq:"

// Resolver evaluates extraction queries. Compiled queries are cached; a
// Resolver is safe for concurrent use.
type Resolver struct {
	mu       sync.RWMutex
	jmespath map[string]*jmespath.JMESPath
	jq       map[string]*gojq.Code
}

// New creates an empty resolver.
func New() *Resolver {
	return &Resolver{
		jmespath: make(map[string]*jmespath.JMESPath),
		jq:       make(map[string]*gojq.Code),
	}
}

var defaultResolver = New()

// Resolve evaluates query against document with a shared resolver.
func Resolve(document any, query string) (string, error) {
	return defaultResolver.Resolve(document, query)
}

// Validate reports whether query compiles, using the shared resolver.
func Validate(query string) error {
	return defaultResolver.Validate(query)
}

// Resolve evaluates query against document and returns the matched string.
func (r *Resolver) Resolve(document any, query string) (string, error) {
	if strings.TrimSpace(query) == "" {
		return "", &vault.QueryError{Query: query, Err: fmt.Errorf("empty query")}
	}

	var (
		result any
		err    error
	)
	if expr, ok := strings.CutPrefix(query, JQPrefix); ok {
		result, err = r.evalJQ(document, strings.TrimSpace(expr))
	} else {
		result, err = r.evalJMESPath(document, query)
	}
	if err != nil {
		return "", &vault.QueryError{Query: query, Err: err}
	}

	switch v := result.(type) {
	case string:
		return v, nil
	case nil:
		return "", &vault.ExtractionError{Query: query, Reason: "no value at this path"}
	default:
		return "", &vault.ExtractionError{Query: query, Reason: fmt.Sprintf("expected a string, got %s", kind(v))}
	}
}

// Validate reports whether query compiles, without evaluating it.
func (r *Resolver) Validate(query string) error {
	if strings.TrimSpace(query) == "" {
		return &vault.QueryError{Query: query, Err: fmt.Errorf("empty query")}
	}
	var err error
	if expr, ok := strings.CutPrefix(query, JQPrefix); ok {
		_, err = r.compileJQ(strings.TrimSpace(expr))
	} else {
		_, err = r.compileJMESPath(query)
	}
	if err != nil {
		return &vault.QueryError{Query: query, Err: err}
	}
	return nil
}

func (r *Resolver) evalJMESPath(document any, query string) (any, error) {
	compiled, err := r.compileJMESPath(query)
	if err != nil {
		return nil, err
	}
	return compiled.Search(document)
}

func (r *Resolver) compileJMESPath(query string) (*jmespath.JMESPath, error) {
	r.mu.RLock()
	compiled, ok := r.jmespath[query]
	r.mu.RUnlock()
	if ok {
		return compiled, nil
	}

	compiled, err := jmespath.Compile(query)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.jmespath[query] = compiled
	r.mu.Unlock()
	return compiled, nil
}

// evalJQ returns the first output of the program; later outputs are ignored.
func (r *Resolver) evalJQ(document any, expr string) (any, error) {
	code, err := r.compileJQ(expr)
	if err != nil {
		return nil, err
	}

	iter := code.Run(document)
	v, ok := iter.Next()
	if !ok {
		return nil, nil
	}
	if err, isErr := v.(error); isErr {
		return nil, err
	}
	return v, nil
}

func (r *Resolver) compileJQ(expr string) (*gojq.Code, error) {
	r.mu.RLock()
	code, ok := r.jq[expr]
	r.mu.RUnlock()
	if ok {
		return code, nil
	}

	parsed, err := gojq.Parse(expr)
	if err != nil {
		return nil, err
	}
	// No $ENV: item queries have no business reading the environment.
	code, err = gojq.Compile(parsed, gojq.WithEnvironLoader(func() []string { return nil }))
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.jq[expr] = code
	r.mu.Unlock()
	return code, nil
}

func kind(v any) string {
	switch v.(type) {
	case map[string]any:
		return "object"
	case []any:
		return "array"
	case bool:
		return "boolean"
	case float64, int, int64:
		return "number"
	default:
		return fmt.Sprintf("%T", v)
	}
}
