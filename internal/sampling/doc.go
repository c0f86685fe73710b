// Package sampling computes the pixel sampling grid used to subsample a
// dense depth image down to a per-frame point budget.
//
// Rows are staggered by half the spacing on odd rows, a hexagonal-like
// packing that reduces aliasing against regular scene structure.
package sampling
