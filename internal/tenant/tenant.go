// Package tenant implements the per-operation capability object that binds
// every database operation to exactly one Context, either scoped to an org
// or upgraded to root.
package tenant

import (
	"fmt"

	"foreman/internal/shared/logging"
)

// Context binds one organization identifier to a scoped operation, or marks
// the operation as privileged ("root"). The zero value is invalid; always
// construct via ForOrg or UpgradeToRoot.
type Context struct {
	orgID   string
	isRoot  bool
}

// ForOrg builds an ordinary tenant-scoped context. orgID must be non-empty.
func ForOrg(orgID string) (Context, error) {
	if orgID == "" {
		return Context{}, fmt.Errorf("tenant: org id is required")
	}
	return Context{orgID: orgID}, nil
}

// RootReason authorizes the root escape hatch. Callers must be specific
// administrative code paths; ordinary API handlers must never call this.
type RootReason string

var rootAuditLog = logging.NewComponentLogger("TenantRoot")

// UpgradeToRoot constructs a privileged Context. Every call is logged with
// the supplied reason, since this bypasses row-level tenant isolation
// entirely.
func UpgradeToRoot(reason RootReason) Context {
	rootAuditLog.Warn("root context constructed: reason=%q", string(reason))
	return Context{isRoot: true}
}

// IsRoot reports whether this context bypasses row-level security.
func (c Context) IsRoot() bool { return c.isRoot }

// OrgID returns the bound organization id. Calling this on a root context
// panics — root code must not filter by org, by construction.
func (c Context) OrgID() string {
	if c.isRoot {
		panic("tenant: OrgID() called on a root context")
	}
	return c.orgID
}

// SessionOrgID returns the value that should be bound to the database
// session's current_org_id setting for this context. Root contexts bind an
// empty string; the root database role bypasses row-level security
// altogether (see storage.GrantRootBypass), so the setting is not consulted.
func (c Context) SessionOrgID() string {
	if c.isRoot {
		return ""
	}
	return c.orgID
}

func (c Context) String() string {
	if c.isRoot {
		return "tenant.Context{root}"
	}
	return fmt.Sprintf("tenant.Context{org=%s}", c.orgID)
}
