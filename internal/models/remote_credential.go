// Package models provides data model definitions for the ExpandNote sync core.
package models

// RemoteCredential stores the remote API endpoint and bearer token. The token
// is kept AES-GCM encrypted with a machine-bound key; it never touches disk
// in the clear. At most one credential is enabled at a time.
type RemoteCredential struct {
	ID             UUID   `db:"id" json:"id"`
	BaseURL        string `db:"base_url" json:"base_url"`
	TokenEncrypted string `db:"token_encrypted" json:"-"`
	IsEnabled      bool   `db:"is_enabled" json:"is_enabled"`
	CreatedAt      int64  `db:"created_at" json:"created_at"`
	UpdatedAt      int64  `db:"updated_at" json:"updated_at"`
}

// TableName returns the table name for RemoteCredential.
func (RemoteCredential) TableName() string {
	return "remote_credentials"
}
