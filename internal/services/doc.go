// Package services is the facade the transports call into. It ties the record
// store, the training orchestrator and the dashboard builder together behind
// the operations the HTTP API and CLI expose.
package services
