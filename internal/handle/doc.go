// Package handle is the particle-facing façade over storage proxies.
//
// A handle binds one particle to one proxy with a fixed set of
// capabilities. Capability checks happen here, synchronously, so a write
// on a read-only handle never reaches the proxy. Handles also convert
// proxy notifications into Particle callbacks, marking updates whose
// originator is the handle's own particle.
package handle
