// Package job defines the job envelope, its state machine, typed
// definitions, the execution context and the store contract.
//
// # Envelope
//
// An [Envelope] is the persisted record of one job instance. It embeds
// [conveyor.Entity] for timestamps, carries a codec-encoded payload and moves
// through a state machine:
//
//	pending → running → done
//	pending → running → pending  (handler asked for a retry)
//	pending → running → failed → running → ...  (handler faulted)
//	pending → running → killed   (kill requested or attempts exhausted)
//
// Failed envelopes are claimable exactly like pending ones once their RunAt
// has passed.
//
// # Defining a Job
//
// Use [NewDefinition] with a typed handler. The payload is encoded with the
// definition's [Codec] at enqueue time and decoded before the handler runs:
//
//	var SendEmail = job.NewDefinition("send_email",
//	    func(ctx context.Context, jc *job.Context, in EmailInput) (job.Outcome, error) {
//	        if err := mailer.Send(ctx, in); err != nil {
//	            return jc.Retry(), nil
//	        }
//	        return jc.Ack(), nil
//	    },
//	)
//
// Register definitions at startup with [Register] and enqueue with
// [Enqueue] or [Schedule].
package job
