package sim

// Counter accumulates accepted bids during a simulation run.
type Counter struct {
	Bids            int
	FloorMinorUnits int64
	Extensions      int
}

// Add records an accepted bid at the given unit price in minor units.
func (c *Counter) Add(priceMinor int64, extended bool) {
	c.Bids++
	if c.FloorMinorUnits == 0 || priceMinor < c.FloorMinorUnits {
		c.FloorMinorUnits = priceMinor
	}
	if extended {
		c.Extensions++
	}
}

// FloorMajor is the lowest accepted unit price in major units.
func (c Counter) FloorMajor() float64 {
	return float64(c.FloorMinorUnits) / 100
}
