package replication

// Role is the replication role of a process
type Role int

const (
	// RoleMaster accepts writes and propagates them to replicas
	RoleMaster Role = iota

	// RoleReplica receives propagated writes from a master
	RoleReplica
)

// String returns the role name as reported by INFO
func (r Role) String() string {
	if r == RoleReplica {
		return "slave"
	}
	return "master"
}
