// Package catalog is the per-version table of OCPP actions and their payload schemas.
//
// The RPC layers consult it for two things only: whether an action exists for the
// negotiated protocol version, and whether a request or response payload satisfies the
// action's field constraints. Schemas are JSON Schema documents compiled once when an
// action is added.
package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/Masterminds/semver/v3"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"ocpp-rpc/message"
)

const logPrefix = "catalog"

// ErrUnknownVersion is returned for subprotocols the catalog does not carry.
var ErrUnknownVersion = errors.New("unknown protocol version")

// PayloadKind selects the request or the response schema of an action.
type PayloadKind int

const (
	Request PayloadKind = iota
	Response
)

func (k PayloadKind) String() string {
	if k == Response {
		return "response"
	}
	return "request"
}

// ActionBinding is the read-only description of one action in one protocol version.
type ActionBinding struct {
	Action   string
	Version  string
	request  *jsonschema.Schema
	response *jsonschema.Schema
}

// Validate checks payload against the request or response schema.
// It returns a *ViolationError listing every failed constraint.
func (b *ActionBinding) Validate(kind PayloadKind, payload json.RawMessage) error {
	schema := b.request
	if kind == Response {
		schema = b.response
	}
	if schema == nil {
		return nil
	}

	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	var doc any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return &ViolationError{
			Action: b.Action,
			Kind:   kind,
			Violations: []FieldViolation{{
				Keyword: "json",
				Message: "payload is not valid JSON",
				Code:    message.FormatViolation,
			}},
		}
	}

	err := schema.Validate(doc)
	if err == nil {
		return nil
	}
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return fmt.Errorf("%s - validate %s %s: %w", logPrefix, b.Action, kind, err)
	}
	return &ViolationError{Action: b.Action, Kind: kind, Violations: collectViolations(ve, nil)}
}

// Set holds the actions of one protocol version, e.g. "ocpp1.6".
type Set struct {
	subprotocol string
	version     *semver.Version

	mu      sync.RWMutex
	actions map[string]*ActionBinding
}

// Subprotocol returns the WebSocket subprotocol name of the set, or "" for a nil set.
func (s *Set) Subprotocol() string {
	if s == nil {
		return ""
	}
	return s.subprotocol
}

// Add compiles the request and response schemas of action and stores the binding.
// An empty schema disables validation for that direction.
func (s *Set) Add(action, requestSchema, responseSchema string) error {
	if action == "" {
		return fmt.Errorf("%s - empty action name", logPrefix)
	}
	binding := &ActionBinding{Action: action, Version: s.subprotocol}

	var err error
	if requestSchema != "" {
		if binding.request, err = compileSchema(s.subprotocol, action, Request, requestSchema); err != nil {
			return err
		}
	}
	if responseSchema != "" {
		if binding.response, err = compileSchema(s.subprotocol, action, Response, responseSchema); err != nil {
			return err
		}
	}

	s.mu.Lock()
	s.actions[action] = binding
	s.mu.Unlock()
	return nil
}

// Lookup returns the binding of action.
func (s *Set) Lookup(action string) (*ActionBinding, bool) {
	if s == nil {
		return nil, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.actions[action]
	return b, ok
}

// Known reports whether action exists. A nil set knows every action, which lets the
// RPC layers run without a catalog.
func (s *Set) Known(action string) bool {
	if s == nil {
		return true
	}
	_, ok := s.Lookup(action)
	return ok
}

// Actions lists the action names of the set in alphabetical order.
func (s *Set) Actions() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.actions))
	for name := range s.actions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Catalog maps protocol versions to their action sets.
type Catalog struct {
	mu       sync.RWMutex
	versions map[string]*Set
}

// New returns an empty catalog.
func New() *Catalog {
	return &Catalog{versions: make(map[string]*Set)}
}

// AddVersion creates (or returns the existing) set for subprotocol.
func (c *Catalog) AddVersion(subprotocol string) (*Set, error) {
	v, err := ParseSubprotocol(subprotocol)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.versions[subprotocol]; ok {
		return s, nil
	}
	s := &Set{subprotocol: subprotocol, version: v, actions: make(map[string]*ActionBinding)}
	c.versions[subprotocol] = s
	return s, nil
}

// Version returns the set registered for subprotocol.
func (c *Catalog) Version(subprotocol string) (*Set, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.versions[subprotocol]
	return s, ok
}

// Versions lists the supported subprotocols, newest first.
func (c *Catalog) Versions() []string {
	c.mu.RLock()
	sets := make([]*Set, 0, len(c.versions))
	for _, s := range c.versions {
		sets = append(sets, s)
	}
	c.mu.RUnlock()

	sort.Slice(sets, func(i, j int) bool {
		return sets[i].version.GreaterThan(sets[j].version)
	})
	names := make([]string, len(sets))
	for i, s := range sets {
		names[i] = s.subprotocol
	}
	return names
}

// Lookup returns the binding of action in version.
func (c *Catalog) Lookup(version, action string) (*ActionBinding, bool) {
	s, ok := c.Version(version)
	if !ok {
		return nil, false
	}
	return s.Lookup(action)
}

// ValidatePayload checks payload against binding's request or response schema.
func (c *Catalog) ValidatePayload(binding *ActionBinding, kind PayloadKind, payload json.RawMessage) error {
	return binding.Validate(kind, payload)
}

func compileSchema(subprotocol, action string, kind PayloadKind, schema string) (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft7
	c.AssertFormat = true
	url := fmt.Sprintf("https://ocpp-rpc.local/%s/%s.%s.schema.json", subprotocol, action, kind)
	if err := c.AddResource(url, strings.NewReader(schema)); err != nil {
		return nil, fmt.Errorf("%s - load %s %s schema: %w", logPrefix, action, kind, err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("%s - compile %s %s schema: %w", logPrefix, action, kind, err)
	}
	return compiled, nil
}
