package voxel

// OccupancyStats counts allocated voxels by state. A voxel is unknown until it receives weight,
// occupied when its distance is within half a voxel of the surface, and free otherwise.
type OccupancyStats struct {
	Blocks   int `json:"blocks"`
	Voxels   int `json:"voxels"`
	Occupied int `json:"occupied"`
	Free     int `json:"free"`
	Unknown  int `json:"unknown"`
}

// Add returns the element wise sum of two stats.
func (s OccupancyStats) Add(o OccupancyStats) OccupancyStats {
	return OccupancyStats{
		Blocks:   s.Blocks + o.Blocks,
		Voxels:   s.Voxels + o.Voxels,
		Occupied: s.Occupied + o.Occupied,
		Free:     s.Free + o.Free,
		Unknown:  s.Unknown + o.Unknown,
	}
}
