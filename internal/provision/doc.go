// Package provision orchestrates child unit provisioning: funded creation,
// code fetch, code installation, state bootstrap, and registry bookkeeping.
//
// Every stage after settings normalization is a remote call. A Provisioner
// holds no locks across remote calls; shared state (the registry and the flow
// tracker) is only mutated after a call returns, so concurrent flows
// interleave at call boundaries without corrupting each other.
package provision
