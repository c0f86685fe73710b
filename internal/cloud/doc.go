// Package cloud owns the accumulated point storage.
//
// Responsibilities: the fixed-capacity structure-of-arrays PointBuffer with
// batched Begin/End update transactions and delta notification, and the
// Registry that enumerates the buffers a manager owns.
// Key types: PointBuffer, Delta, Registry.
//
// Dependency rule: cloud depends on nothing else in this module.
package cloud
