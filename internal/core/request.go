package core

import (
	"context"
	"fmt"

	"github.com/vaultcore/vault/internal/audit"
	"github.com/vaultcore/vault/internal/lease"
	"github.com/vaultcore/vault/internal/policy"
	"github.com/vaultcore/vault/internal/secretsengine"
	"github.com/vaultcore/vault/internal/token"
	"github.com/vaultcore/vault/internal/vaulterrors"
)

// capabilityFor maps a secrets-engine operation to the policy capability
// that must be granted for it.
func capabilityFor(op secretsengine.Operation) policy.Capability {
	switch op {
	case secretsengine.OperationRead:
		return policy.CapabilityRead
	case secretsengine.OperationWrite:
		return policy.CapabilityUpdate
	case secretsengine.OperationDelete:
		return policy.CapabilityDelete
	case secretsengine.OperationList:
		return policy.CapabilityList
	default:
		return policy.Capability(op)
	}
}

// Handle is the single entry point for every data-path request: it checks
// the presented token's policies, resolves the path to a mount, dispatches
// to the mounted engine, mints a lease for any response that carries a
// LeaseTTL, and audit-logs the request and response around the call. A nil
// audit logger (Config.AuditLogger unset) means audit logging is skipped
// entirely, not fail-closed — Logger.Log's own fail-closed contract only
// applies once a Logger exists.
func (c *Core) Handle(ctx context.Context, tokenPlaintext string, path string, op secretsengine.Operation, data map[string]interface{}) (secretsengine.Response, error) {
	if c.Sealed() {
		return secretsengine.Response{}, vaulterrors.Sealed()
	}

	entry, err := c.tokens.Lookup(ctx, tokenPlaintext)
	if err != nil {
		return secretsengine.Response{}, err
	}

	policies := entry.Policies
	if len(policies) == 0 {
		policies = []string{policy.DefaultPolicyName}
	}

	if err := c.logEntry(ctx, "request", entry.Hash, policies, path, op, data, nil); err != nil {
		return secretsengine.Response{}, err
	}

	resp, err := c.dispatch(ctx, entry, policies, path, op, data)

	if logErr := c.logEntry(ctx, "response", entry.Hash, policies, path, op, resp.Data, err); logErr != nil {
		return secretsengine.Response{}, logErr
	}

	return resp, err
}

func (c *Core) dispatch(ctx context.Context, entry token.Entry, policies []string, path string, op secretsengine.Operation, data map[string]interface{}) (secretsengine.Response, error) {
	if !entry.IsRoot {
		if err := c.polStore.Check(ctx, policies, path, capabilityFor(op)); err != nil {
			return secretsengine.Response{}, err
		}
	}

	c.mu.RLock()
	mountEntry, remainder, ok := c.mounts.Resolve(path)
	var engine secretsengine.Engine
	if ok {
		engine = c.engines[mountEntry.Path]
	}
	c.mu.RUnlock()

	if !ok || engine == nil {
		return secretsengine.Response{}, vaulterrors.NotFound("mount", path)
	}

	resp, err := engine.Handle(ctx, secretsengine.Request{Path: remainder, Operation: op, Data: data})
	if err != nil {
		return secretsengine.Response{}, err
	}

	if resp.LeaseTTL > 0 {
		leaseEntry, err := c.leases.Create(ctx, leaseCreateParams(mountEntry.Path, entry.Hash, resp))
		if err != nil {
			return secretsengine.Response{}, err
		}
		if resp.Data == nil {
			resp.Data = map[string]interface{}{}
		}
		resp.Data["lease_id"] = leaseEntry.ID
	}

	return resp, nil
}

// leaseCreateParams converts an engine response into lease creation
// parameters. Data values are stringified since the lease store keeps its
// Data bag as map[string]string — enough to re-derive a revocation context
// (e.g. a role name) without the lease manager needing to know any engine's
// response schema. tokenHash records the requesting token as the lease's
// owner, so revoking that token can cascade to revoke this lease.
func leaseCreateParams(mountPath, tokenHash string, resp secretsengine.Response) lease.CreateParams {
	data := make(map[string]string, len(resp.Data))
	for k, v := range resp.Data {
		data[k] = fmt.Sprintf("%v", v)
	}
	return lease.CreateParams{
		EnginePath: mountPath,
		TokenHash:  tokenHash,
		TTL:        resp.LeaseTTL,
		Renewable:  resp.Renewable,
		Data:       data,
	}
}

func (c *Core) logEntry(ctx context.Context, entryType, tokenHash string, policies []string, path string, op secretsengine.Operation, data map[string]interface{}, opErr error) error {
	if c.auditor == nil {
		return nil
	}
	errStr := ""
	if opErr != nil {
		errStr = opErr.Error()
	}
	return c.auditor.Log(ctx, audit.Entry{
		Type:      entryType,
		Operation: string(op),
		Path:      path,
		TokenHash: tokenHash,
		Policies:  policies,
		Error:     errStr,
		Data:      data,
	})
}
