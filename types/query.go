package types

// QueryLevel represents the level of a C-FIND or C-MOVE identifier
type QueryLevel string

const (
	QueryLevelPatient QueryLevel = "PATIENT"
	QueryLevelStudy   QueryLevel = "STUDY"
	QueryLevelSeries  QueryLevel = "SERIES"
	QueryLevelImage   QueryLevel = "IMAGE"
)

// QueryLevels lists the levels from the broadest to the most specific.
var QueryLevels = []QueryLevel{QueryLevelPatient, QueryLevelStudy, QueryLevelSeries, QueryLevelImage}

// Valid reports whether l is one of the four hierarchy levels.
func (l QueryLevel) Valid() bool {
	switch l {
	case QueryLevelPatient, QueryLevelStudy, QueryLevelSeries, QueryLevelImage:
		return true
	}
	return false
}

// Depth returns the position of l in the hierarchy, PATIENT being 0.
// Unknown levels return -1.
func (l QueryLevel) Depth() int {
	for i, level := range QueryLevels {
		if level == l {
			return i
		}
	}
	return -1
}
