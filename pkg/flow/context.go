package flow

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/TBlauwe/Dynamo-sub000/pkg/command"
	"github.com/TBlauwe/Dynamo-sub000/pkg/world"
)

// Context is handed to every node function of a run. It exposes the world
// read-only; writes go through Commands or Defer.
type Context struct {
	ctx      context.Context
	agent    world.Agent
	commands command.Sink
	logger   zerolog.Logger
	runID    string
	source   string
}

// Agent returns the agent the flow decides for.
func (c *Context) Agent() world.Agent { return c.agent }

// View returns the read-only world view.
func (c *Context) View() world.View { return c.agent.View }

// Commands returns the sink for deferred world mutations.
func (c *Context) Commands() command.Sink { return c.commands }

// Defer queues apply as a command targeting the agent. It is applied at the
// next drain, never during the run.
func (c *Context) Defer(apply func(store *world.Store) error) {
	c.commands.Push(command.Command{Target: c.agent.ID, Source: c.source, Apply: apply})
}

// DeferFor queues apply as a command targeting another entity.
func (c *Context) DeferFor(target world.EntityID, apply func(store *world.Store) error) {
	c.commands.Push(command.Command{Target: target, Source: c.source, Apply: apply})
}

// Logger returns a logger carrying the run, agent and node fields.
func (c *Context) Logger() zerolog.Logger { return c.logger }

// Context returns the run context. Long node functions should watch it for
// cancellation.
func (c *Context) Context() context.Context { return c.ctx }

// RunID identifies the current run.
func (c *Context) RunID() string { return c.runID }
