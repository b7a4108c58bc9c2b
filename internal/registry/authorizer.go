package registry

import "context"

// StaticAuthorizer allows a fixed set of users to create sessions. An empty
// set allows everyone.
type StaticAuthorizer struct {
	allowed map[int]struct{}
}

// NewStaticAuthorizer builds a StaticAuthorizer from user ids.
func NewStaticAuthorizer(ids []int) *StaticAuthorizer {
	allowed := make(map[int]struct{}, len(ids))
	for _, id := range ids {
		allowed[id] = struct{}{}
	}
	return &StaticAuthorizer{allowed: allowed}
}

func (a *StaticAuthorizer) CanCreateSession(ctx context.Context, userID int) (bool, error) {
	if len(a.allowed) == 0 {
		return true, nil
	}
	_, ok := a.allowed[userID]
	return ok, nil
}
