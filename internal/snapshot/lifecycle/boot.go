package lifecycle

import (
	"context"
	"fmt"

	"github.com/yndnr/memsnap-go/internal/host"
)

// BootResult describes how an instance started.
type BootResult struct {
	Instance *host.Instance
	Restored bool
	Captured bool
	TestMode bool
}

// Boot runs the full start sequence of one instance on h: preload,
// instantiate the interpreter module, then restore, or bootstrap and
// capture. The upload stays deferred until UploadArtifacts.
func Boot(ctx context.Context, c *Controller, h *host.Host, interpreterWasm []byte) (*BootResult, error) {
	if err := c.Preload(ctx, h); err != nil {
		return nil, err
	}

	inst, err := h.Instantiate(ctx, interpreterWasm)
	if err != nil {
		return nil, err
	}
	res := &BootResult{Instance: inst}

	mem := inst.Memory()
	if mem == nil {
		inst.Close(ctx)
		return nil, fmt.Errorf("lifecycle: interpreter module exports no memory")
	}

	res.Restored, err = c.MaybeRestore(mem)
	if err != nil {
		inst.Close(ctx)
		return nil, err
	}
	if !res.Restored {
		if err := c.Bootstrap(ctx, inst); err != nil {
			inst.Close(ctx)
			return nil, err
		}
		if res.Captured, err = c.MaybeCapture(ctx, mem, h); err != nil {
			inst.Close(ctx)
			return nil, err
		}
	}

	if res.TestMode, err = c.MaybeSetUpSnapshotTest(ctx, inst); err != nil {
		inst.Close(ctx)
		return nil, err
	}
	return res, nil
}
