package probe

import (
	"context"
	"fmt"
	"time"

	"github.com/1ureka/gpclient/internal/esp"
	"github.com/1ureka/gpclient/internal/transport"
	"github.com/1ureka/gpclient/internal/util"
)

// Defaults match the gateway's keepalive expectations.
const (
	DefaultInterval = 10 * time.Second
	DefaultTimeout  = 3 * time.Second
)

// Sender queues a datagram for the gateway. *transport.Client satisfies it.
type Sender interface {
	Send(ctx context.Context, data []byte) error
}

// Result is the outcome of one probe. Err is nil on success.
type Result struct {
	Seq uint32
	Err error
}

// OK reports whether the probe got a valid reply.
func (r Result) OK() bool { return r.Err == nil }

// Prober periodically sends liveness probes and reports each outcome. It
// never retries; reacting to failures is the caller's decision.
type Prober struct {
	Pair     esp.Pair
	Conn     Sender
	Replies  <-chan transport.Datagram
	Interval time.Duration
	Timeout  time.Duration

	seq *esp.SeqGen
}

// NewProber creates a prober with default timing. Replies must carry every
// datagram received from the gateway.
func NewProber(pair esp.Pair, conn Sender, replies <-chan transport.Datagram) *Prober {
	return &Prober{
		Pair:     pair,
		Conn:     conn,
		Replies:  replies,
		Interval: DefaultInterval,
		Timeout:  DefaultTimeout,
		seq:      esp.NewSeqGen(0),
	}
}

// Run probes immediately and then once per Interval, pushing one Result per
// probe to results. It returns when ctx is cancelled or a send fails.
func (p *Prober) Run(ctx context.Context, results chan<- Result) error {
	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()

	for {
		res, err := p.probeOnce(ctx)
		if err != nil {
			return err
		}

		select {
		case results <- res:
		case <-ctx.Done():
			return ctx.Err()
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// ProbeOnce sends a single probe and waits for its reply.
func (p *Prober) ProbeOnce(ctx context.Context) Result {
	res, err := p.probeOnce(ctx)
	if err != nil {
		return Result{Err: err}
	}
	return res
}

// probeOnce returns a non-nil error only when the probe could not be sent.
func (p *Prober) probeOnce(ctx context.Context) (Result, error) {
	if p.seq == nil {
		p.seq = esp.NewSeqGen(0)
	}
	seq := p.seq.Next()

	datagram, err := Send(p.Pair.Outbound, seq)
	if err != nil {
		return Result{}, err
	}
	if err := p.Conn.Send(ctx, datagram); err != nil {
		return Result{}, fmt.Errorf("send probe %d: %w", seq, err)
	}
	util.Stats.AddProbe()

	res := Result{Seq: seq, Err: p.awaitReply(ctx, seq)}
	if res.OK() {
		util.LogDebug("probe %d: gateway alive", seq)
	} else {
		util.Stats.AddProbeFailure()
		util.LogWarning("probe %d failed: %v", seq, res.Err)
	}
	return res, nil
}

// awaitReply consumes datagrams until a reply to probe seq validates or the
// timeout expires. Foreign datagrams and late replies to earlier probes are
// skipped; the last rejection is reported. A reply whose echo sequence is
// zero carries no stamp and is accepted.
func (p *Prober) awaitReply(ctx context.Context, seq uint32) error {
	timer := time.NewTimer(p.Timeout)
	defer timer.Stop()

	lastErr := fmt.Errorf("%w: timed out after %v", ErrProbeFailed, p.Timeout)
	for {
		select {
		case d, ok := <-p.Replies:
			if !ok {
				return fmt.Errorf("%w: receive loop stopped", ErrProbeFailed)
			}
			got, err := ReplySeq(p.Pair.Inbound, d.Data)
			if err == nil && (got == 0 || got == uint16(seq)) {
				return nil
			}
			if err == nil {
				err = fmt.Errorf("late reply to probe %d", got)
			}
			util.LogDebug("discarding datagram from %s: %v", d.From, err)
			lastErr = fmt.Errorf("%w: %v", ErrProbeFailed, err)
		case <-timer.C:
			return lastErr
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
