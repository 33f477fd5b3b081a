package trigger

import "sync/atomic"

// Permission answers whether the caller currently holds the permission
// required for precise wake triggers. Unlike Capabilities it can change at
// runtime, so it is consulted on every schedule request.
type Permission interface {
	CanScheduleExact() bool
}

// PermissionSwitch is a Permission that can be granted and revoked.
type PermissionSwitch struct {
	granted atomic.Bool
}

// NewPermissionSwitch returns a switch in the given initial state.
func NewPermissionSwitch(granted bool) *PermissionSwitch {
	p := &PermissionSwitch{}
	p.granted.Store(granted)
	return p
}

func (p *PermissionSwitch) CanScheduleExact() bool {
	return p.granted.Load()
}

// Set grants or revokes the permission.
func (p *PermissionSwitch) Set(granted bool) {
	p.granted.Store(granted)
}
