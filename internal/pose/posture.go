package pose

// Posture is the binary body configuration derived from one landmark frame,
// or Unknown when it cannot be decided.
type Posture int

const (
	Unknown Posture = iota
	Down
	Up
)

func (p Posture) String() string {
	switch p {
	case Down:
		return "DOWN"
	case Up:
		return "UP"
	default:
		return "UNKNOWN"
	}
}

// Classifier maps a landmark frame to a posture. Implementations must be pure.
type Classifier interface {
	Classify(f *LandmarkFrame) Posture
}

// ClassifierFunc adapts a plain function to Classifier.
type ClassifierFunc func(f *LandmarkFrame) Posture

func (fn ClassifierFunc) Classify(f *LandmarkFrame) Posture {
	return fn(f)
}

// DefaultMinVisibility matches the detector's default confidence floor.
const DefaultMinVisibility = 0.5

// PushUpClassifier reports Up when both elbows sit above their shoulders in
// screen space (smaller y), the top of a push-up. Equal heights are Down.
type PushUpClassifier struct {
	// MinVisibility is the lowest visibility accepted for a required joint.
	MinVisibility float64
}

// NewPushUpClassifier returns a classifier using DefaultMinVisibility.
func NewPushUpClassifier() PushUpClassifier {
	return PushUpClassifier{MinVisibility: DefaultMinVisibility}
}

var pushUpJoints = [...]Joint{LeftShoulder, RightShoulder, LeftElbow, RightElbow}

func (c PushUpClassifier) Classify(f *LandmarkFrame) Posture {
	if f == nil {
		return Unknown
	}

	var pts [len(pushUpJoints)]Landmark
	for i, j := range pushUpJoints {
		lm, ok := f.Get(j)
		if !ok || lm.Visibility < c.MinVisibility {
			return Unknown
		}
		pts[i] = lm
	}
	leftShoulder, rightShoulder, leftElbow, rightElbow := pts[0], pts[1], pts[2], pts[3]

	if leftElbow.Y < leftShoulder.Y && rightElbow.Y < rightShoulder.Y {
		return Up
	}
	return Down
}
