// Package conveyor is a background job engine for Go.
//
// A host application defines typed jobs, persists them through a store and
// executes them asynchronously on a supervised pool of workers. Execution is
// wrapped in composable layers such as rate limiting and tracing, and a
// running job can report progress to an observer without blocking.
//
// # Quick Start
//
//	reg := job.NewRegistry()
//	email := job.NewDefinition("email", job.Func(sendEmail))
//	job.Register(reg, email)
//
//	store := memory.New()
//	_, _ = job.Enqueue(ctx, store, email, Email{To: "a@example.com"})
//
//	mon := monitor.New(monitor.WithSignals(os.Interrupt))
//	mon.RegisterWithCount(5, func(int) *worker.Worker {
//	    return worker.NewBuilder(store, reg).
//	        Layer(layer.RateLimit(10, 10*time.Millisecond)).
//	        Layer(layer.Trace(logger)).
//	        Build()
//	})
//	err := mon.Run(ctx)
//
// # Architecture
//
// A job lives in storage as an envelope that moves through the states
// pending, running, done, failed and killed. Workers claim envelopes with
// the store's atomic FetchNext, run the handler inside the layer chain and
// settle each attempt with exactly one Ack, Retry or Kill. Claim exclusivity
// is the store's responsibility, so several processes may share a backend.
//
// All IDs use TypeID: type-prefixed, K-sortable, UUIDv7-based identifiers.
package conveyor
