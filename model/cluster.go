package model

// Cluster is a named group of messages sharing a heuristic trait.
type Cluster struct {
	ID          int
	Name        string
	Description string
	Keywords    []string
	Members     []Message
}

// MemberIDs returns the identifiers of all members in cluster order.
func (c Cluster) MemberIDs() []string {
	ids := make([]string, 0, len(c.Members))
	for _, m := range c.Members {
		ids = append(ids, m.ID)
	}
	return ids
}
