package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/nomis52/provisiond/controller"
	"github.com/nomis52/provisiond/device"
	"github.com/nomis52/provisiond/params"
	"github.com/nomis52/provisiond/task"
)

// errUnencrypted is returned when the request needs an encrypted device.
// Only provisiond can carry a request across the encryption reboot.
var errUnencrypted = errors.New("device storage is not encrypted: set skip_encryption or provision through provisiond")

// checkEncryption fails when p requires encryption and the device has none.
func checkEncryption(ctx context.Context, enc device.Encryption, p *params.Params) error {
	if p.SkipEncryption() || enc == nil {
		return nil
	}
	encrypted, err := enc.IsEncrypted(ctx)
	if err != nil {
		return fmt.Errorf("checking encryption: %w", err)
	}
	if !encrypted {
		return errUnencrypted
	}
	return nil
}

// readRequest decodes and builds the request at path. "-" reads stdin.
func readRequest(path string, stdin io.Reader) (*params.Params, error) {
	r := stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open request: %w", err)
		}
		defer f.Close()
		r = f
	}

	var req params.Request
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return nil, fmt.Errorf("failed to parse request: %w", err)
	}
	p, err := req.Build()
	if err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	return p, nil
}

// printHost writes one line per status change.
type printHost struct {
	mu   sync.Mutex
	w    io.Writer
	last task.Step
}

func newPrintHost(w io.Writer) *printHost {
	return &printHost{w: w}
}

func (h *printHost) OnProgress(step task.Step) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if step == h.last {
		return
	}
	h.last = step
	fmt.Fprintf(h.w, "... %s\n", step)
}

func (h *printHost) OnSuccess() {
	h.println("provisioning succeeded")
}

func (h *printHost) OnError(err *controller.Error) {
	h.println(fmt.Sprintf("provisioning failed: %v\n%s", err, err.Message()))
}

func (h *printHost) OnCancelled() {
	h.println("provisioning cancelled")
}

func (h *printHost) println(s string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	fmt.Fprintln(h.w, s)
}
