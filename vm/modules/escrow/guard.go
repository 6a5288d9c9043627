package escrow

import "github.com/tolelom/tolescrow/vm"

// Guard is a non-reentrant lock over a set of entry points. It is held in the
// transaction's call state, so every nested frame opened by a receive hook
// sees it.
type Guard struct {
	name string
}

func NewGuard(name string) *Guard {
	return &Guard{name: "guard:" + name}
}

// Enter takes the lock. A second Enter anywhere in the same transaction fails
// with ErrReentrant until release is called. A nil Guard always admits.
func (g *Guard) Enter(ctx *vm.Context) (release func(), err error) {
	if g == nil {
		return func() {}, nil
	}
	if !ctx.TryLock(g.name) {
		return nil, ErrReentrant
	}
	return func() { ctx.Unlock(g.name) }, nil
}

// Held reports whether an entry point of this guard is executing.
func (g *Guard) Held(ctx *vm.Context) bool {
	return g != nil && ctx.Locked(g.name)
}
