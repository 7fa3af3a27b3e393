package uow

// EntityState is the lifecycle state of a tracked entity
type EntityState int

const (
	Detached EntityState = iota
	Unchanged
	Added
	Modified
	Deleted
)

func (s EntityState) String() string {
	switch s {
	case Unchanged:
		return "Unchanged"
	case Added:
		return "Added"
	case Modified:
		return "Modified"
	case Deleted:
		return "Deleted"
	default:
		return "Detached"
	}
}

// Pending reports whether the state results in a write on commit
func (s EntityState) Pending() bool {
	return s == Added || s == Modified || s == Deleted
}
