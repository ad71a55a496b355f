// © Copyright 2026, PhotonBench Instruments - https://photonbench.dev
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"sync"

	"github.com/photonbench/timetag-rpc/tagrpc"
)

// cursor pages through a snapshot of measurement data in fixed-size chunks.
// The snapshot is taken at cursor creation; concurrent acquisition does not
// shift already-read pages.
type cursor struct {
	mu    sync.Mutex
	name  string
	data  []int64
	chunk int
	pos   int
}

func newCursor(name string, data []int64, chunk int) *cursor {
	return &cursor{name: name, data: data, chunk: chunk}
}

// next returns the next chunk and whether the cursor is exhausted after it.
func (c *cursor) next() ([]int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pos >= len(c.data) {
		return nil, true
	}
	end := c.pos + c.chunk
	if end > len(c.data) {
		end = len(c.data)
	}
	page := c.data[c.pos:end]
	c.pos = end
	return page, c.pos >= len(c.data)
}

// newCursorAdapter exposes a cursor as a freeable remote object. Each next
// call returns one chunk; the terminal chunk carries cursor_done metadata.
// Freeing the cursor (or disconnecting) drops the snapshot.
func newCursorAdapter(c *cursor) *tagrpc.Adapter {
	a := tagrpc.NewAdapter(ClassDataCursor, c)

	tagrpc.Method(a, "next", func(_ context.Context, _ *tagrpc.CallContext, _ noParams) (*tagrpc.Result, error) {
		page, done := c.next()
		res := tagrpc.Int64Array(c.name, page)
		if done {
			res.Meta = append(res.Meta, tagrpc.KV{Key: tagrpc.MetaCursorDone, Value: "true"})
		}
		return res, nil
	})

	return a
}
