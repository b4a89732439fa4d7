package command

import "sync"

// Buffer collects the commands of a single flow run. Nothing reaches the
// queue until Flush, so the commands of a failed run can be dropped as a
// whole with Discard. After either call, further pushes are ignored.
type Buffer struct {
	mu     sync.Mutex
	cmds   []Command
	closed bool
}

// NewBuffer creates an empty buffer.
func NewBuffer() *Buffer {
	return &Buffer{}
}

// Push records cmd. It is safe for concurrent use by the nodes of a run.
func (b *Buffer) Push(cmd Command) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.cmds = append(b.cmds, cmd)
}

// Len returns the number of buffered commands.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.cmds)
}

// Flush forwards the buffered commands to sink in push order and returns
// how many were forwarded.
func (b *Buffer) Flush(sink Sink) int {
	cmds := b.take()
	for _, cmd := range cmds {
		sink.Push(cmd)
	}
	return len(cmds)
}

// Discard drops the buffered commands and returns how many were dropped.
func (b *Buffer) Discard() int {
	return len(b.take())
}

func (b *Buffer) take() []Command {
	b.mu.Lock()
	defer b.mu.Unlock()
	cmds := b.cmds
	b.cmds = nil
	b.closed = true
	return cmds
}
