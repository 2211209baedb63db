package failure

import (
	"errors"
)

// Cause is the user-visible reason a job failed. It never carries raw internal error text.
type Cause struct {
	Kind          string `json:"kind"`
	Message       string `json:"message"`
	Line          int    `json:"line,omitempty"`
	Entry         int    `json:"entry,omitempty"`
	ChunkSequence *int   `json:"chunk_sequence,omitempty"`
	Backend       string `json:"backend,omitempty"`
	Advice        string `json:"advice"`
}

// Context keys recognised by CauseFrom.
const (
	CtxChunk   = "chunk"
	CtxBackend = "backend"
	CtxLine    = "line"
)

func CauseFrom(err error) *Cause {
	if err == nil {
		return nil
	}
	kind := KindOf(err)
	c := &Cause{
		Kind:   kind.String(),
		Advice: Advice(kind),
	}

	var ft *FormatError
	if errors.As(err, &ft) {
		c.Message = ft.Error()
		c.Line = ft.Line
		c.Entry = ft.Entry
		return c
	}

	if kind == KindInternal {
		c.Message = "internal error"
	} else {
		c.Message = err.Error()
	}

	// context may be attached at any wrapping level
	for cur := err; cur != nil; cur = errors.Unwrap(cur) {
		fe, ok := cur.(*Error)
		if !ok {
			continue
		}
		if kind != KindInternal && c.Message == err.Error() && fe.Message != "" {
			c.Message = fe.Message
		}
		if v, ok := fe.Context[CtxChunk].(int); ok && c.ChunkSequence == nil {
			seq := v
			c.ChunkSequence = &seq
		}
		if v, ok := fe.Context[CtxBackend].(string); ok && c.Backend == "" {
			c.Backend = v
		}
		if v, ok := fe.Context[CtxLine].(int); ok && c.Line == 0 {
			c.Line = v
		}
	}
	return c
}

// Err turns a stored Cause back into an error for logging.
func (c *Cause) Err() error {
	if c == nil {
		return nil
	}
	return errors.New(c.Kind + ": " + c.Message)
}
