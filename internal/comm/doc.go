// Package comm partitions a world of processes into fixed-size groups.
//
// Each process group jointly owns a subset of the observations. Groups are
// contiguous blocks of world ranks: rank r belongs to group r/groupSize, and
// when the group size does not divide the world size the remainder forms a
// smaller trailing group.
//
// A nil world selects single-process mode: one group of one process with no
// group or rank communicator, in which every group operation is a no-op.
package comm
