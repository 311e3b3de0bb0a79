// Package dispatch defines the command envelope submitted to the
// replicated log and the apply-side handler that type-switches on it.
package dispatch

import "encoding/json"

// Command tags, matching the wire format clients and the HTTP surface
// agree on.
const (
	OpSpace             = "space"
	OpUpdateSpace       = "update_space"
	OpDeleteSpace       = "delete_space"
	OpVersion           = "version"
	OpDeleteVersion     = "delete_version"
	OpVector            = "vector"
	OpVectorWithVersion = "vector_with_version"
	OpCreateSnapshot    = "create_snapshot"
	OpSnapshotRestore   = "snapshot_restore"
	OpSnapshotDelete    = "snapshot_delete"
	OpSnapshotSync      = "snapshot_sync"
	OpCreateRBACToken   = "create_rbac_token"
	OpUpdateRBACToken   = "update_rbac_token"
	OpDeleteRBACToken   = "delete_rbac_token"
	OpStoragePutKey     = "storage_put_key"
	OpStorageRemoveKey  = "storage_remove_key"
)

// Command is the single envelope type written to the Raft log. Extras not
// every command needs (SpaceName, VersionID, FileName, LeaderID,
// LeaderAddr, Token, Key) are left zero-valued when irrelevant, mirroring
// the single flat "request" object every handler builds before calling
// client_write.
type Command struct {
	Op        string          `json:"op"`
	SpaceName string          `json:"space_name,omitempty"`
	VersionID int32           `json:"version_id,omitempty"`
	FileName  string          `json:"file_name,omitempty"`
	LeaderID  uint64          `json:"leader_id,omitempty"`
	LeaderAddr string         `json:"leader_addr,omitempty"`
	Token     string          `json:"token,omitempty"`
	Key       string          `json:"key,omitempty"`
	Value     json.RawMessage `json:"value,omitempty"`
}
