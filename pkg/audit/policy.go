package audit

import "github.com/platinummonkey/chronicle/pkg/uow"

// Policy controls which mutation kinds are audited for an entity type
type Policy struct {
	RecordCreates bool `json:"record_creates" yaml:"record_creates"`
	RecordUpdates bool `json:"record_updates" yaml:"record_updates"`
	RecordDeletes bool `json:"record_deletes" yaml:"record_deletes"`
}

// DefaultPolicy audits every mutation kind
func DefaultPolicy() Policy {
	return Policy{
		RecordCreates: true,
		RecordUpdates: true,
		RecordDeletes: true,
	}
}

// Allows reports whether a mutation in the given state should be audited
func (p Policy) Allows(state uow.EntityState) bool {
	switch state {
	case uow.Added:
		return p.RecordCreates
	case uow.Modified:
		return p.RecordUpdates
	case uow.Deleted:
		return p.RecordDeletes
	default:
		return false
	}
}
