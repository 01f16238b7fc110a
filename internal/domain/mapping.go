package domain

import "time"

// RoleMapping maps one external role name from one provider to a permission
// level. A caller holding several mapped roles gets the maximum level and the
// union of the denied statement sets.
type RoleMapping struct {
	ID                 string    `json:"id"`
	ProviderKey        string    `json:"provider_key"`
	ExternalRole       string    `json:"external_role"`
	PermissionLevel    string    `json:"permission_level"`
	DeniedStatements   []string  `json:"denied_statements,omitempty"`
	AllowedCollections []string  `json:"allowed_collections,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// ClientMapping is a tenant-level permission ceiling. Once a provider has any
// active client mapping, a tenant claim and a matching active mapping become
// mandatory for that provider's callers.
type ClientMapping struct {
	ID                 string    `json:"id"`
	ProviderKey        string    `json:"provider_key"`
	TenantID           string    `json:"tenant_id"`
	Active             bool      `json:"active"`
	MaxPermissionLevel string    `json:"max_permission_level"`
	Tier               string    `json:"tier,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}
