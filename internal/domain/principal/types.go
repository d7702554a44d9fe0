// Package principal defines the authenticated caller and the permission
// vocabulary checked by the gateway front on every request.
package principal

import (
	"errors"

	"github.com/ryanwelchtech/tactical-edge-comm-gateway/internal/domain/message"
)

type Role string

const (
	RoleOperator   Role = "operator"
	RoleSupervisor Role = "supervisor"
	RoleAdmin      Role = "admin"
	RoleService    Role = "service"
)

func (r Role) Valid() bool {
	_, ok := Permissions[r]
	return ok
}

const (
	PermMessageSend = "message:send"
	PermMessageRead = "message:read"
	PermNodeStatus  = "node:status"
	PermAuditRead   = "audit:read"
	PermNodeManage  = "node:manage"
)

// Permissions is the static role→permission-set table.
var Permissions = map[Role][]string{
	RoleOperator:   {PermMessageSend, PermMessageRead, PermNodeStatus},
	RoleSupervisor: {PermMessageSend, PermMessageRead, PermNodeStatus, PermAuditRead},
	RoleAdmin:      {PermMessageSend, PermMessageRead, PermNodeStatus, PermNodeManage, PermAuditRead},
	RoleService:    {PermMessageSend, PermMessageRead, PermNodeStatus},
}

// ClassificationCeiling is the maximum classification each role may
// retrieve plaintext for via get_content.
var ClassificationCeiling = map[Role]message.Classification{
	RoleOperator:   message.ClassificationSecret,
	RoleSupervisor: message.ClassificationTopSecret,
	RoleAdmin:      message.ClassificationTopSecret,
	RoleService:    message.ClassificationConfidential,
}

// Principal is the authenticated caller, derived from a verified bearer
// token.
type Principal struct {
	Subject     string
	NodeID      string
	Role        Role
	Permissions []string
	TokenID     string
}

func (p Principal) Has(permission string) bool {
	for _, perm := range p.Permissions {
		if perm == permission {
			return true
		}
	}
	return false
}

func (p Principal) ClassificationCeiling() message.Classification {
	if ceiling, ok := ClassificationCeiling[p.Role]; ok {
		return ceiling
	}
	return message.ClassificationUnclassified
}

var ErrUnknownRole = errors.New("principal: unknown role")

func PermissionsForRole(role Role) ([]string, error) {
	perms, ok := Permissions[role]
	if !ok {
		return nil, ErrUnknownRole
	}
	return perms, nil
}
