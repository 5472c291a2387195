// Package policyflow hosts message flows wrapped in composable policies on
// top of Watermill.
//
// A flow is a Processor that consumes events from one queue. Policies such as
// retry, timeout, circuit breaking, tracing or payload validation wrap it in a
// fixed order, and each flow runs on a pool of identical pipelines so that
// messages are processed concurrently. Messages of one transaction stay on the
// same pipeline.
//
// Failures surface as MessagingException values classified by an ErrorType
// from a shared repository. The flow's error handler hands them to the first
// matching acceptor: OnErrorContinue recovers and publishes the recovered
// event, OnErrorPropagate lets the failure reach the transport, optionally
// publishing a report to a poison queue. Types under CORE:CRITICAL bypass the
// acceptors and are moved to the configured poison queue by the router.
//
// A minimal setup loads a Config, registers the transports, builds a
// Service, registers flows and calls Start:
//
//	conf, _ := policyflow.LoadConfig("policyflow.yaml")
//	svc, _ := policyflow.NewService(ctx, conf, logger, policyflow.ServiceDependencies{})
//	_, _ = svc.RegisterFlow(policyflow.FlowRegistration{
//		Name:         "orders",
//		ConsumeQueue: "orders.in",
//		PublishQueue: "orders.out",
//		Policies:     []policyflow.Policy{policyflow.Retry(svc.RetryConfig())},
//		Flow:         handle,
//	})
//	_ = svc.Start(ctx)
//
// # Transports
//
// Config.PubSubSystem selects one of: channel (in-memory), kafka, rabbitmq,
// nats, http or aws (SNS/SQS). NewService registers all of them unless
// ServiceDependencies.Registry supplies a different set.
package policyflow
