package service

import (
	"fmt"
	"regexp"

	"github.com/R3E-Network/cloudless/internal/app/auth"
	"github.com/R3E-Network/cloudless/internal/errors"
)

// Tier is the authorization level a method requires.
type Tier int

const (
	// Public methods need no session.
	Public Tier = iota
	// Controlled methods need a valid end-user session.
	Controlled
	// Protected methods need an internal system principal.
	Protected
)

func (t Tier) String() string {
	switch t {
	case Public:
		return "PUBLIC"
	case Controlled:
		return "CONTROLLED"
	case Protected:
		return "PROTECTED"
	default:
		return fmt.Sprintf("Tier(%d)", int(t))
	}
}

// MarshalText renders the tier name.
func (t Tier) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

// Required returns the minimum trust that satisfies the tier.
func (t Tier) Required() auth.Trust {
	switch t {
	case Controlled:
		return auth.Session
	case Protected:
		return auth.System
	default:
		return auth.Anonymous
	}
}

// Allows reports whether a caller with trust may invoke a method of this
// tier.
func (t Tier) Allows(trust auth.Trust) bool {
	return trust >= t.Required()
}

// Status is the lifecycle status of a method.
type Status string

const (
	StatusDraft    Status = "draft"
	StatusComplete Status = "complete"
)

// Param declares one method parameter.
type Param struct {
	Name        string `json:"name"`
	Type        string `json:"type,omitempty"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required"`
}

// Descriptor is the registered metadata of an invocable method. Descriptors
// are immutable once registered.
type Descriptor struct {
	Service     string  `json:"service"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Tier        Tier    `json:"tier"`
	Status      Status  `json:"status"`
	Params      []Param `json:"params,omitempty"`
	Returns     string  `json:"returns,omitempty"`
}

// FullName addresses the method as service.method.
func (d Descriptor) FullName() string {
	return d.Service + "." + d.Name
}

// Executable reports whether the method may run in normal deployments.
func (d Descriptor) Executable() bool {
	return d.Status == StatusComplete
}

// WithParams returns a copy of the descriptor with additional parameters
// appended.
func (d Descriptor) WithParams(params ...Param) Descriptor {
	if len(params) == 0 {
		return d
	}
	combined := make([]Param, 0, len(d.Params)+len(params))
	combined = append(combined, d.Params...)
	combined = append(combined, params...)
	d.Params = combined
	return d
}

var namePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

// Validate checks the descriptor is well formed.
func (d Descriptor) Validate() error {
	if !namePattern.MatchString(d.Service) {
		return errors.Configurationf("invalid service name %q", d.Service)
	}
	if !namePattern.MatchString(d.Name) {
		return errors.Configurationf("%s: invalid method name %q", d.Service, d.Name)
	}
	if d.Tier < Public || d.Tier > Protected {
		return errors.Configurationf("%s: unknown tier %d", d.FullName(), int(d.Tier))
	}
	switch d.Status {
	case StatusDraft, StatusComplete:
	default:
		return errors.Configurationf("%s: unknown status %q", d.FullName(), d.Status)
	}
	seen := make(map[string]bool, len(d.Params))
	for _, p := range d.Params {
		if p.Name == "" {
			return errors.Configurationf("%s: parameter without a name", d.FullName())
		}
		if seen[p.Name] {
			return errors.Configurationf("%s: duplicate parameter %q", d.FullName(), p.Name)
		}
		seen[p.Name] = true
	}
	return nil
}

// ServiceInfo describes a group of methods.
type ServiceInfo struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description"`
	Author      string `json:"author,omitempty" yaml:"author"`
	Date        string `json:"date,omitempty" yaml:"date"`
}
