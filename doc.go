// Package xemit is an in-process publish/subscribe emitter with AMQP-style
// wildcard topics.
//
// Subscribers bind to patterns ("orders.*", "orders.#") and receive every
// topic the pattern matches:
//
//	em := xemit.NewEmitter()
//	em.On("orders.#", func(ctx context.Context, data any, env *xemit.Envelope) error {
//		fmt.Println(env.Topic, data)
//		return nil
//	}).DistinctUntilChanged()
//	em.Emit("orders.eu.created", order)
//
// Delivery is synchronous and ordered. A failing subscriber is isolated: its
// error is logged, optionally recorded (Config.TrackErrors) and passed to its
// CatchErrors handler, and the remaining subscribers still run.
package xemit
