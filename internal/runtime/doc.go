/*
Package runtime hosts policyflow flows on a Watermill router.

# Architecture Overview

A Service owns one transport, one router and the collaborators shared by
every flow: the error type repository and locator, the processor arena and
the Prometheus collectors. Each registered flow gets:

  - a pool of source pipelines, each a policy composite around the flow
    terminal (package policy, package pool)
  - an error handler built from the flow's acceptors (package errorhandler)
  - per-flow statistics, hooks and metrics

# Message Path

For every consumed message the flow:

 1. binds the transaction named in the message metadata, if any
 2. converts the message into an event and submits it to the pool
 3. on success, computes the response parameters and publishes the
    resulting event to the publish queue
 4. on failure, dispatches the exception to the error handler; recovered
    failures are acked, surfaced ones are returned to the router
 5. records the outcome and finishes the transaction

Failures while generating or sending the response become
CORE:SOURCE_RESPONSE_GENERATE and CORE:SOURCE_RESPONSE_SEND failures and go
through the error handler like any other failure.

# Router Middlewares

NewService installs, outermost first: recoverer, correlation id, message
logging, Prometheus metrics and the poison queue. The poison queue only takes
critical failures, which skip the error handler.

# Admin API

When enabled, the chi router returned by AdminHandler serves:

	GET /api/flows          registered flows with stats and pipelines
	GET /api/flows/{name}   one flow
	GET /api/transport      transport capabilities and open transactions
	GET /api/runtime        uptime and process load
*/
package runtime
