package health

import (
	"grimm.is/curfew/internal/state"
)

// CheckStore verifies the state database answers reads.
func CheckStore(store state.Store) Check {
	if store == nil {
		return Check{Name: "state", Status: StatusFail, Message: "store not open"}
	}
	if _, err := store.ListKeys(state.BucketMeta); err != nil {
		return Check{Name: "state", Status: StatusFail, Message: err.Error()}
	}
	return Check{Name: "state", Status: StatusOK}
}
