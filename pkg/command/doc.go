// Package command provides the deferred-mutation queue between concurrently
// running flows and the authoritative world store.
//
// Invariants:
// - Push is safe from any number of goroutines; a single mutex guards the queue.
// - Drain applies every queued command exactly once, in enqueue order, then forgets it.
// - A failing or panicking command is logged and counted; it never aborts the drain pass.
// - Commands targeting an entity that no longer exists are skipped with ErrTargetGone.
// - A Buffer holds one run's commands; they reach the queue together on Flush or not at all.
//
// Usage:
//
//	queue := command.New(command.Options{Logger: log})
//	queue.Push(command.Command{Target: id, Source: "flee", Apply: func(s *world.Store) error {
//		return world.Update(s, id, func(st *Stress) { st.Level -= 0.1 })
//	}})
//	result := queue.Drain(ctx, store)
package command
