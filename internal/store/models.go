package store

import "time"

// AuthProvider enumerates the supported OIDC identity providers.
type AuthProvider string

const (
	ProviderGoogle AuthProvider = "google"
	ProviderApple  AuthProvider = "apple"
)

// AccountStatus enumerates a user's lifecycle states.
type AccountStatus string

const (
	AccountActive    AccountStatus = "active"
	AccountSuspended AccountStatus = "suspended"
	AccountDeleted   AccountStatus = "deleted"
)

// User is the user account row.
type User struct {
	ID             string
	Email          string
	AuthProvider   AuthProvider
	ProviderUserID string
	AccountStatus  AccountStatus
	EncryptionSalt *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	LastLoginAt    *time.Time
}

// Device is the registered-device row.
type Device struct {
	ID         string
	UserID     string
	Name       string
	LastSeenAt time.Time
	IsActive   bool
	CreatedAt  time.Time
}

// EncryptedTask is the encrypted task row. VectorClock is stored as
// JSON in Postgres but represented here as a decoded map for convenience;
// callers encode/decode at the store boundary.
type EncryptedTask struct {
	ID                 string
	UserID             string
	EncryptedBlob      string
	Nonce              string
	Checksum           string
	Version            int64
	VectorClock        map[string]int64
	LastModifiedDevice string
	CreatedAt          time.Time
	UpdatedAt          time.Time
	DeletedAt          *time.Time
}

// Live reports whether the row has not been tombstoned.
func (t *EncryptedTask) Live() bool { return t.DeletedAt == nil }

// SyncStatus enumerates the sync metadata status values.
type SyncStatus string

const (
	SyncSuccess  SyncStatus = "success"
	SyncConflict SyncStatus = "conflict"
	SyncError    SyncStatus = "error"
)

// SyncMetadata is the one-row-per-(user,device) observational record.
type SyncMetadata struct {
	UserID         string
	DeviceID       string
	LastSyncAt     time.Time
	LastPushVector map[string]int64
	LastPullVector map[string]int64
	SyncStatus     SyncStatus
}

// SyncOperationKind distinguishes push from pull in the audit log.
type SyncOperationKind string

const (
	SyncOpPush SyncOperationKind = "push"
	SyncOpPull SyncOperationKind = "pull"
)

// SyncOperation is an append-only audit row.
type SyncOperation struct {
	ID          int64
	UserID      string
	DeviceID    string
	Kind        SyncOperationKind
	VectorClock map[string]int64
	CreatedAt   time.Time
}

// ConflictResolution enumerates the conflict-log resolution modes.
type ConflictResolution string

const (
	ResolutionAutoMerge     ConflictResolution = "auto_merge"
	ResolutionLastWriteWins ConflictResolution = "last_write_wins"
	ResolutionManual        ConflictResolution = "manual"
)

// ConflictReason enumerates the push truth-table's conflict outcomes.
type ConflictReason string

const (
	ReasonConcurrentEdit ConflictReason = "concurrent_edit"
	ReasonDeleteEdit     ConflictReason = "delete_edit"
)

// ConflictLog is an append-only record of a server-observed conflict.
type ConflictLog struct {
	ID           int64
	UserID       string
	TaskID       string
	Reason       ConflictReason
	Resolution   ConflictResolution
	ExistingClock map[string]int64
	IncomingClock map[string]int64
	CreatedAt    time.Time
	ResolvedAt   *time.Time
}
