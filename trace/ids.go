package trace

import "raytrace/constants"

// RayID composes the episode-unique id of the seq-th ray started by rank.
func RayID(rank int, seq uint64) uint64 {
	return uint64(rank)<<constants.RankShift | seq
}

// SplitRayID is the inverse of RayID.
func SplitRayID(id uint64) (rank int, seq uint64) {
	return int(id >> constants.RankShift), id & constants.MaxSequence
}
