package core

import (
	"context"
	"errors"
	"io"
	"runtime"

	"dmai2c/protocol"
)

// portOutput queues blocks and writes them to the port on flush.
type portOutput struct {
	*protocol.ScratchOutput
	port io.Writer
	err  error
}

func (o *portOutput) flush() {
	if o.err == nil && o.CurPosition() > 0 {
		_, o.err = o.port.Write(o.Result())
	}
	o.Reset()
}

// Serve runs the command loop on port until ctx ends or the port fails.
// A port whose Read returns 0, nil when idle (a UART) is polled; the loop
// yields between polls. A closed port ends Serve without error.
func (f *Firmware) Serve(ctx context.Context, port io.ReadWriter) error {
	out := &portOutput{ScratchOutput: protocol.NewScratchOutput(), port: port}
	tr := protocol.NewTransport(out, f.Handle)
	tr.SetFlushCallback(out.flush)
	tr.SetErrorCallback(func(id uint16, err error) {
		name := "?"
		if c, ok := f.reg.GetCommand(id); ok {
			name = c.Name
		}
		DebugPrintln("[CORE] " + name + ": " + err.Error())
	})
	f.SetSender(tr)
	f.dict.Build()

	in := protocol.NewFifoBuffer(4 * protocol.MessageLengthMax)
	buf := make([]byte, protocol.MessageLengthMax)
	for ctx.Err() == nil {
		n, err := port.Read(buf[:min(len(buf), in.Free())])
		if n > 0 {
			in.Write(buf[:n])
			tr.Receive(in)
			out.flush()
			if out.err != nil {
				return out.err
			}
			f.CheckPendingReset()
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
			return nil
		}
		if err != nil {
			return err
		}
		if n == 0 {
			runtime.Gosched()
		}
	}
	return ctx.Err()
}
