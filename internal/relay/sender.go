package relay

import (
	"context"
	"errors"
	"time"

	"dmrelay/internal/metrics"
	"dmrelay/internal/transport"
	"dmrelay/pkg/logx"
)

// Throttle paces the send loop. The settings store implements it with a
// rate.Limiter whose limit tracks the live send delay.
type Throttle interface {
	Wait(ctx context.Context) error
}

// FailureCause classifies why a send loop aborted.
type FailureCause string

const (
	CauseNone        FailureCause = ""
	CauseRateLimited FailureCause = "rate_limited"
	CauseForbidden   FailureCause = "forbidden"
	CauseOther       FailureCause = "other"
)

// Classify maps a delivery error onto its failure cause.
func Classify(err error) FailureCause {
	switch {
	case err == nil:
		return CauseNone
	case errors.Is(err, transport.ErrRateLimited):
		return CauseRateLimited
	case errors.Is(err, transport.ErrForbidden):
		return CauseForbidden
	default:
		return CauseOther
	}
}

// Report is the final tally of one send job.
type Report struct {
	Target    int64
	Requested int
	Sent      int
	Failed    int
	Cause     FailureCause
	Err       error
	Took      time.Duration
}

// Completed reports whether every requested send succeeded.
func (r Report) Completed() bool { return r.Failed == 0 }

// Send runs the sequential throttled loop. On the first delivery failure
// the remaining attempts are counted as failed and the loop aborts; there
// are no retries. The throttle is consulted before every attempt, reading
// the current shared delay rather than a snapshot: the limiter's banked
// token is spent on the first attempt, so every gap between attempts pays
// the full delay.
func Send(ctx context.Context, d transport.Deliverer, th Throttle, req Request, log logx.Logger) Report {
	start := time.Now()
	rep := Report{Target: req.TargetID, Requested: req.Count}

	for i := 0; i < req.Count; i++ {
		if err := th.Wait(ctx); err != nil {
			rep.Failed = req.Count - rep.Sent
			rep.Cause = CauseOther
			rep.Err = err
			log.Warn("send loop interrupted", logx.Int64("target", req.TargetID), logx.Err(err))
			break
		}

		if err := d.SendDM(ctx, req.TargetID, req.Text); err != nil {
			rep.Failed = req.Count - i
			rep.Cause = Classify(err)
			rep.Err = err
			metrics.DeliveryFailures.WithLabelValues(string(rep.Cause)).Inc()

			fields := []logx.Field{
				logx.Int64("target", req.TargetID),
				logx.Int("sent", rep.Sent),
				logx.Int("remaining", rep.Failed),
				logx.Err(err),
			}
			switch rep.Cause {
			case CauseRateLimited:
				// Loud on purpose: continuing at this pace worsens the
				// throttling. The operator should raise set_speed.
				log.Error("API rate limit hit; aborting job, raise the delay with set_speed", fields...)
			case CauseForbidden:
				log.Warn("recipient unreachable; aborting job", fields...)
			default:
				log.Warn("delivery failed; aborting job", fields...)
			}
			break
		}

		rep.Sent++
		metrics.Deliveries.Inc()
	}

	rep.Took = time.Since(start)
	return rep
}
