package audit

import (
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/chronicle/pkg/uow"
)

// AnonymousUser is recorded when no actor identity is available
const AnonymousUser = "anonymous"

// ActionType is the kind of mutation an event records
type ActionType string

const (
	ActionInsert ActionType = "Insert"
	ActionUpdate ActionType = "Update"
	ActionDelete ActionType = "Delete"
)

// ActionFor maps an entity state to the recorded action
func ActionFor(state uow.EntityState) ActionType {
	switch state {
	case uow.Added:
		return ActionInsert
	case uow.Deleted:
		return ActionDelete
	default:
		return ActionUpdate
	}
}

// ParseActionType accepts the stored names case-insensitively
func ParseActionType(s string) (ActionType, error) {
	switch s {
	case "Insert", "insert", "INSERT":
		return ActionInsert, nil
	case "Update", "update", "UPDATE":
		return ActionUpdate, nil
	case "Delete", "delete", "DELETE":
		return ActionDelete, nil
	}
	return "", fmt.Errorf("unknown action type %q", s)
}

// AuditEvent is one persisted record of an audited mutation.
// Events are never modified after they are appended.
type AuditEvent struct {
	ID         int64      `json:"id" db:"id,pk,auto"`
	EntityName string     `json:"entity_name" db:"entity_name"`
	ActionType ActionType `json:"action_type" db:"action_type"`
	UserName   string     `json:"user_name" db:"user_name"`
	TimeStamp  time.Time  `json:"time_stamp" db:"time_stamp"`
	EntityID   string     `json:"entity_id" db:"entity_id"`
	Changes    Changes    `json:"changes" db:"changes"`
}

// TableName maps events to the audit table
func (AuditEvent) TableName() string { return "audit_events" }

var (
	// ErrEventNotFound is returned when an event id does not exist
	ErrEventNotFound = errors.New("audit event not found")

	// ErrInvalidOrderBy is returned for an OrderBy outside the event columns
	ErrInvalidOrderBy = errors.New("unsupported order by column")
)

// Query filters audit events. The zero value selects every event.
type Query struct {
	EntityName  string
	EntityID    string
	UserName    string
	ActionTypes []ActionType

	// Time range, inclusive
	Since *time.Time
	Until *time.Time

	// Where is evaluated in process after the database filters
	Where func(*AuditEvent) bool

	// OrderBy is a column name; results are unordered when empty
	OrderBy    string
	Descending bool

	Limit  int
	Offset int
}

// Stats summarizes audit events
type Stats struct {
	TotalEvents    int64                `json:"total_events"`
	EventsByEntity map[string]int64     `json:"events_by_entity"`
	EventsByAction map[ActionType]int64 `json:"events_by_action"`
	UniqueUsers    int64                `json:"unique_users"`
	TimeRange      *TimeRange           `json:"time_range,omitempty"`
}

// TimeRange represents a time range for statistics
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// ExportFormat represents the format for exporting audit events
type ExportFormat string

const (
	ExportFormatJSON   ExportFormat = "json"
	ExportFormatCSV    ExportFormat = "csv"
	ExportFormatNDJSON ExportFormat = "ndjson" // Newline-delimited JSON
)

// RetentionPolicy defines how long audit events are kept
type RetentionPolicy struct {
	// RetentionDays is the number of days to keep events; zero disables purging
	RetentionDays int

	// ArchiveEnabled uploads expiring events before they are purged
	ArchiveEnabled bool

	// ArchivePrefix is the object key prefix for archives
	ArchivePrefix string
}

// DefaultRetentionPolicy returns a default retention policy (90 days)
func DefaultRetentionPolicy() RetentionPolicy {
	return RetentionPolicy{
		RetentionDays:  90,
		ArchiveEnabled: false,
		ArchivePrefix:  "audit-archive",
	}
}
