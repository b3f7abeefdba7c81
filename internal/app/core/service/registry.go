package service

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/tidwall/gjson"

	"github.com/R3E-Network/cloudless/internal/app/auth"
	"github.com/R3E-Network/cloudless/internal/errors"
)

// Handler executes a method. params is the raw JSON parameter object; the
// caller's principal is available through auth.FromContext.
type Handler func(ctx context.Context, params json.RawMessage) (any, error)

// Typed adapts a handler taking decoded parameters.
func Typed[P any, R any](fn func(ctx context.Context, params P) (R, error)) Handler {
	return func(ctx context.Context, raw json.RawMessage) (any, error) {
		var params P
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &params); err != nil {
				return nil, errors.Validation("params", fmt.Sprintf("malformed parameters: %v", err))
			}
		}
		return fn(ctx, params)
	}
}

// Options configures a Registry.
type Options struct {
	// AllowDraft lets non-complete methods execute. It is a deployment
	// switch, never a per-call option.
	AllowDraft bool
	// DraftServices enables draft methods for the named services only.
	DraftServices []string
	Observers     []Observer
}

type entry struct {
	desc    Descriptor
	handler Handler
}

// Registry binds descriptors to handlers and enforces access control before
// dispatch. Registration happens at startup; after Freeze the registry is
// read-only and safe for concurrent invocation.
type Registry struct {
	mu         sync.RWMutex
	services   map[string]ServiceInfo
	methods    map[string]entry
	frozen     bool
	allowDraft bool
	drafts     map[string]bool
	observers  []Observer
}

// NewRegistry creates an empty registry.
func NewRegistry(opts Options) *Registry {
	drafts := make(map[string]bool, len(opts.DraftServices))
	for _, name := range opts.DraftServices {
		drafts[name] = true
	}
	return &Registry{
		services:   make(map[string]ServiceInfo),
		methods:    make(map[string]entry),
		allowDraft: opts.AllowDraft,
		drafts:     drafts,
		observers:  append([]Observer(nil), opts.Observers...),
	}
}

// AllowDraft reports the deployment's draft switch.
func (r *Registry) AllowDraft() bool { return r.allowDraft }

// RegisterService records a service's metadata. Methods of a service may be
// registered before or after it; Validate reports methods whose service
// never appears.
func (r *Registry) RegisterService(info ServiceInfo) error {
	if !namePattern.MatchString(info.Name) {
		return errors.Configurationf("invalid service name %q", info.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return errors.Configurationf("registry is frozen; cannot register service %s", info.Name)
	}
	if _, exists := r.services[info.Name]; exists {
		return errors.Configurationf("service %q already registered", info.Name)
	}
	r.services[info.Name] = info
	return nil
}

// Register binds handler to desc.
func (r *Registry) Register(desc Descriptor, handler Handler) error {
	if err := desc.Validate(); err != nil {
		return err
	}
	if handler == nil {
		return errors.Configurationf("%s: nil handler", desc.FullName())
	}
	desc.Params = append([]Param(nil), desc.Params...)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return errors.Configurationf("registry is frozen; cannot register %s", desc.FullName())
	}
	if _, exists := r.methods[desc.FullName()]; exists {
		return errors.Configurationf("method %q already registered", desc.FullName())
	}
	r.methods[desc.FullName()] = entry{desc: desc, handler: handler}
	return nil
}

// MustRegister is Register that panics on error.
func (r *Registry) MustRegister(desc Descriptor, handler Handler) {
	if err := r.Register(desc, handler); err != nil {
		panic(fmt.Sprintf("service: %v", err))
	}
}

// Freeze ends registration.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// Validate reports every registration problem at once.
func (r *Registry) Validate() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result *multierror.Error
	used := make(map[string]bool, len(r.services))
	for _, name := range r.sortedMethodNames() {
		desc := r.methods[name].desc
		if _, ok := r.services[desc.Service]; !ok {
			result = multierror.Append(result, errors.Configurationf("%s: service %q is not registered", name, desc.Service))
		}
		used[desc.Service] = true
	}
	for name := range r.services {
		if !used[name] {
			result = multierror.Append(result, errors.Configurationf("service %q has no methods", name))
		}
	}
	return result.ErrorOrNil()
}

// Descriptors returns every descriptor sorted by full name.
func (r *Registry) Descriptors() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.methods))
	for _, name := range r.sortedMethodNames() {
		out = append(out, r.methods[name].desc)
	}
	return out
}

// Describe returns one descriptor.
func (r *Registry) Describe(method string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.methods[method]
	return e.desc, ok
}

// Services returns registered service metadata sorted by name.
func (r *Registry) Services() []ServiceInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ServiceInfo, 0, len(r.services))
	for _, info := range r.services {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Service returns a service's metadata and its method descriptors.
func (r *Registry) Service(name string) (ServiceInfo, []Descriptor, bool) {
	r.mu.RLock()
	info, ok := r.services[name]
	r.mu.RUnlock()
	if !ok {
		return ServiceInfo{}, nil, false
	}
	var descs []Descriptor
	for _, d := range r.Descriptors() {
		if d.Service == name {
			descs = append(descs, d)
		}
	}
	return info, descs, true
}

func (r *Registry) sortedMethodNames() []string {
	names := make([]string, 0, len(r.methods))
	for name := range r.methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Invoke runs method on behalf of principal. The handler body never runs
// unless the principal's trust satisfies the method's tier, the method is
// executable and every required parameter is present. Handler errors are
// returned unchanged.
func (r *Registry) Invoke(ctx context.Context, method string, principal auth.Principal, params json.RawMessage) (any, error) {
	r.mu.RLock()
	e, ok := r.methods[method]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.NotFound("method", method)
	}

	run := &execution{registry: r, desc: e.desc, principal: principal, started: time.Now(), state: Idle}
	run.to(ctx, AuthorizationPending, nil)

	if !e.desc.Tier.Allows(principal.Trust) {
		err := rejection(e.desc, principal)
		run.to(ctx, Rejected, err)
		return nil, err
	}
	if !e.desc.Executable() && !r.allowDraft && !r.drafts[e.desc.Service] {
		err := errors.NotImplemented(method)
		run.to(ctx, Rejected, err)
		return nil, err
	}
	run.to(ctx, Authorized, nil)

	run.to(ctx, Executing, nil)
	if err := checkParams(e.desc, params); err != nil {
		run.to(ctx, Failed, err)
		return nil, err
	}
	result, err := call(auth.WithPrincipal(ctx, principal), e.handler, params)
	if err != nil {
		run.to(ctx, Failed, err)
		return nil, err
	}
	run.to(ctx, Succeeded, nil)
	return result, nil
}

func rejection(desc Descriptor, principal auth.Principal) error {
	if principal.Trust == auth.Anonymous {
		return errors.Unauthorized(fmt.Sprintf("%s requires %s access", desc.FullName(), desc.Tier)).
			WithDetails("tier", desc.Tier.String())
	}
	return errors.Forbidden(fmt.Sprintf("%s requires %s access", desc.FullName(), desc.Tier)).
		WithDetails("tier", desc.Tier.String())
}

func checkParams(desc Descriptor, params json.RawMessage) error {
	if len(params) == 0 {
		params = json.RawMessage("{}")
	}
	if !gjson.ValidBytes(params) {
		return errors.Validation("params", "parameters must be valid JSON")
	}
	parsed := gjson.ParseBytes(params)
	for _, p := range desc.Params {
		if !p.Required {
			continue
		}
		v := parsed.Get(gjson.Escape(p.Name))
		if !v.Exists() || v.Type == gjson.Null {
			return errors.Validation(p.Name, fmt.Sprintf("parameter %s is required", p.Name))
		}
	}
	return nil
}

// call runs h, converting a panic into an internal error.
func call(ctx context.Context, h Handler, params json.RawMessage) (result any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = errors.Internal("handler panic", fmt.Errorf("%v\n%s", rec, debug.Stack()))
		}
	}()
	return h(ctx, params)
}
