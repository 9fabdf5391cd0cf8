// Package policy implements path-prefix capability matching with explicit
// deny precedence, plus the two built-in policies ("root" and "default")
// every vault must carry regardless of what operators define.
package policy

import (
	"context"
	"encoding/json"
	"sort"
	"strings"

	"github.com/vaultcore/vault/internal/barrier"
	"github.com/vaultcore/vault/internal/vaulterrors"
)

// Capability is one entry of the vocabulary a rule can grant.
type Capability string

const (
	CapabilityRead   Capability = "read"
	CapabilityList   Capability = "list"
	CapabilityCreate Capability = "create"
	CapabilityUpdate Capability = "update"
	CapabilityDelete Capability = "delete"
	CapabilitySudo   Capability = "sudo"
	CapabilityDeny   Capability = "deny"
)

// normalizeCapability lowercases a capability so input is case-insensitive
// but storage is canonical.
func normalizeCapability(c string) Capability {
	return Capability(strings.ToLower(c))
}

// Rule grants (or denies) a set of capabilities over a path pattern.
type Rule struct {
	PathPattern  string              `json:"path_pattern"`
	Capabilities map[Capability]bool `json:"capabilities"`
}

// Policy is a named, ordered set of rules.
type Policy struct {
	Name  string `json:"name"`
	Rules []Rule `json:"rules"`
}

const policyPrefix = "sys/policies/"

const (
	// RootPolicyName grants every capability including sudo and cannot be
	// changed or deleted.
	RootPolicyName = "root"
	// DefaultPolicyName permits only self-lookup/self-renew/self-revoke and
	// is the policy a request is checked against when its token carries no
	// policies.
	DefaultPolicyName = "default"
)

// errBuiltIn is returned by Put/Delete when the caller targets a built-in
// policy name.
var errBuiltIn = vaulterrors.Forbidden("built-in policies cannot be modified or deleted")

// Store is the Policy Store component.
type Store struct {
	barrier *barrier.Barrier
}

// New constructs a Store. It writes nothing; EnsureBuiltins creates the
// built-in policies.
func New(b *barrier.Barrier) *Store {
	return &Store{barrier: b}
}

// EnsureBuiltins writes the root and default policies if absent. Call this
// once, after the vault is unsealed (it writes through the Barrier).
func (s *Store) EnsureBuiltins(ctx context.Context) error {
	if _, ok, err := s.get(ctx, RootPolicyName); err != nil {
		return err
	} else if !ok {
		if err := s.put(ctx, rootPolicy()); err != nil {
			return err
		}
	}
	if _, ok, err := s.get(ctx, DefaultPolicyName); err != nil {
		return err
	} else if !ok {
		if err := s.put(ctx, defaultPolicy()); err != nil {
			return err
		}
	}
	return nil
}

func rootPolicy() Policy {
	return Policy{
		Name: RootPolicyName,
		Rules: []Rule{
			{PathPattern: "", Capabilities: map[Capability]bool{CapabilitySudo: true}},
		},
	}
}

func defaultPolicy() Policy {
	return Policy{
		Name: DefaultPolicyName,
		Rules: []Rule{
			{PathPattern: "sys/tokens/self", Capabilities: map[Capability]bool{
				CapabilityRead: true, CapabilityUpdate: true, CapabilityDelete: true,
			}},
		},
	}
}

// Put creates or replaces a named policy. Fails for built-in names.
// Capability keys are canonicalized to lowercase before persisting, so
// lookups never need to re-normalize a stored policy's rules.
func (s *Store) Put(ctx context.Context, p Policy) error {
	if isBuiltIn(p.Name) {
		return errBuiltIn
	}
	p.Rules = canonicalizeRules(p.Rules)
	return s.put(ctx, p)
}

func canonicalizeRules(rules []Rule) []Rule {
	out := make([]Rule, len(rules))
	for i, r := range rules {
		caps := make(map[Capability]bool, len(r.Capabilities))
		for c, v := range r.Capabilities {
			caps[normalizeCapability(string(c))] = v
		}
		out[i] = Rule{PathPattern: r.PathPattern, Capabilities: caps}
	}
	return out
}

// Get returns the named policy.
func (s *Store) Get(ctx context.Context, name string) (Policy, error) {
	p, ok, err := s.get(ctx, name)
	if err != nil {
		return Policy{}, err
	}
	if !ok {
		return Policy{}, vaulterrors.NotFound("policy", name)
	}
	return p, nil
}

// Delete removes a named policy. Fails for built-in names.
func (s *Store) Delete(ctx context.Context, name string) error {
	if isBuiltIn(name) {
		return errBuiltIn
	}
	return s.barrier.Delete(ctx, policyPrefix+name)
}

// List returns all policy names via a prefix scan.
func (s *Store) List(ctx context.Context) ([]string, error) {
	names, err := s.barrier.List(ctx, policyPrefix)
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

func isBuiltIn(name string) bool {
	return name == RootPolicyName || name == DefaultPolicyName
}

func (s *Store) get(ctx context.Context, name string) (Policy, bool, error) {
	raw, ok, err := s.barrier.Get(ctx, policyPrefix+name)
	if err != nil {
		return Policy{}, false, err
	}
	if !ok {
		return Policy{}, false, nil
	}
	var p Policy
	if err := json.Unmarshal(raw, &p); err != nil {
		return Policy{}, false, vaulterrors.Internal("policy: decode", err)
	}
	return p, true, nil
}

func (s *Store) put(ctx context.Context, p Policy) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return vaulterrors.Internal("policy: encode", err)
	}
	return s.barrier.Put(ctx, policyPrefix+p.Name, raw)
}

// Check evaluates whether the union of the named policies grants capability
// over path. Collects all rules from all named policies, selects the most
// specific (longest-prefix) matching rule per policy, and denies if any
// selected rule includes CapabilityDeny.
func (s *Store) Check(ctx context.Context, policyNames []string, path string, capability Capability) error {
	capability = normalizeCapability(string(capability))

	var selected []Rule
	for _, name := range policyNames {
		p, ok, err := s.get(ctx, name)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if best, found := mostSpecificMatch(p.Rules, path); found {
			selected = append(selected, best)
		}
	}

	for _, r := range selected {
		if r.Capabilities[CapabilityDeny] {
			return vaulterrors.Forbidden("access denied by policy").
				WithDetail("path", path).
				WithDetail("capability", string(capability))
		}
	}

	for _, r := range selected {
		if r.Capabilities[capability] || r.Capabilities[CapabilitySudo] {
			return nil
		}
	}

	return vaulterrors.Forbidden("capability not granted").
		WithDetail("path", path).
		WithDetail("capability", string(capability))
}

// mostSpecificMatch returns the longest path-pattern rule whose pattern
// matches path (exact equality, or the pattern is a prefix of path).
func mostSpecificMatch(rules []Rule, path string) (Rule, bool) {
	var best Rule
	found := false
	for _, r := range rules {
		if r.PathPattern != path && !strings.HasPrefix(path, r.PathPattern) {
			continue
		}
		if !found || len(r.PathPattern) > len(best.PathPattern) {
			best = r
			found = true
		}
	}
	return best, found
}
