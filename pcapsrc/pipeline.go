package pcapsrc

import (
	"context"
	"time"

	"github.com/qingchen1984/peafowl"
)

// Observer receives one dissection result per captured packet.
type Observer func(status peafowl.Status, info peafowl.DissectionInfo)

// Run drains reader until ctx is cancelled or the source is exhausted,
// feeding each packet through sr.DissectFromL2 and reporting the result to
// observe. Run closes reader before returning.
func Run(ctx context.Context, sr *peafowl.StateRoot, reader Reader, observe Observer) error {
	defer reader.Close()

	packets, err := reader.Packets(ctx)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case packet, more := <-packets:
			if !more {
				return nil
			}
			ts := packet.Metadata().Timestamp
			if ts.IsZero() {
				ts = time.Now()
			}
			status, info := sr.DissectFromL2(packet.Data(), ts.UnixNano(), reader.LinkType())
			if observe != nil {
				observe(status, info)
			}
		}
	}
}
