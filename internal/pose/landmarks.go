package pose

// Landmark is one detected joint in normalized image coordinates. X and Y are
// in [0,1] with Y growing downward; Z is the model's relative depth.
type Landmark struct {
	X          float64 `json:"x" msgpack:"x"`
	Y          float64 `json:"y" msgpack:"y"`
	Z          float64 `json:"z" msgpack:"z"`
	Visibility float64 `json:"visibility" msgpack:"visibility"`
	Presence   float64 `json:"presence" msgpack:"presence"`
	Present    bool    `json:"present" msgpack:"present"`
}

// LandmarkFrame holds every joint detected in a single video frame.
// A nil *LandmarkFrame means no pose was detected. Frames are treated as
// immutable once handed to the pipeline.
type LandmarkFrame struct {
	Points [NumJoints]Landmark `json:"points"`
}

// NewLandmarkFrame builds a frame from raw detector rows of the form
// [x, y, z, visibility, presence]. Missing visibility and presence default
// to 1. A joint with zero presence is absent, as is a row shorter than
// [x, y]. Rows beyond NumJoints are ignored.
func NewLandmarkFrame(rows [][]float64) *LandmarkFrame {
	f := &LandmarkFrame{}
	for i, row := range rows {
		if i >= NumJoints {
			break
		}
		if len(row) < 2 {
			continue
		}
		lm := Landmark{X: row[0], Y: row[1], Visibility: 1, Presence: 1}
		if len(row) > 2 {
			lm.Z = row[2]
		}
		if len(row) > 3 {
			lm.Visibility = row[3]
		}
		if len(row) > 4 {
			lm.Presence = row[4]
		}
		lm.Present = lm.Presence > 0
		f.Points[i] = lm
	}
	return f
}

// Get returns the landmark for j and whether it was detected.
func (f *LandmarkFrame) Get(j Joint) (Landmark, bool) {
	if f == nil || !j.Valid() {
		return Landmark{}, false
	}
	lm := f.Points[j]
	return lm, lm.Present
}

// Set stores lm for j, marking it present. Intended for detectors and tests
// building a frame before it is published.
func (f *LandmarkFrame) Set(j Joint, lm Landmark) {
	if f == nil || !j.Valid() {
		return
	}
	lm.Present = true
	f.Points[j] = lm
}

// Detected counts the joints present in the frame.
func (f *LandmarkFrame) Detected() int {
	if f == nil {
		return 0
	}
	n := 0
	for _, lm := range f.Points {
		if lm.Present {
			n++
		}
	}
	return n
}
