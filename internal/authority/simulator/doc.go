// Package simulator is an in-memory management authority speaking the
// authority wire protocol. It keeps per-principal cycle accounts, allocates
// units, installs registered modules, routes calls into them, and serves
// module images by name. Rejections can be queued per operation and a hook
// observes every operation before it is applied.
package simulator
