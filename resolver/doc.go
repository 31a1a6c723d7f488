// Package resolver matches AMQP-style binding patterns against concrete topics.
//
// A binding is a dot-separated list of segments:
//
//	orders.created      - literal, matches only "orders.created"
//	orders.*            - "*" matches exactly one non-empty segment
//	orders.#            - "#" matches zero or more segments
//	#.failed            - "orders.failed", "a.b.failed", "failed"
//
// Results are memoized per (topic, pattern) in a bounded LRU and compiled
// expressions are memoized per pattern. Reset and Purge exist for memory
// hygiene and test isolation; they never change what Matches returns.
//
// Example:
//
//	r := resolver.Default()
//	r.Matches("orders.#", "orders.eu.created") // true
//	r.Purge(resolver.ForPattern("orders.#"))
package resolver
