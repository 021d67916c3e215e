package video

import (
	"errors"
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"backend-pushupcounter/internal/pose"
)

// Annotator draws the pose skeleton and the running repetition count onto
// a frame in place. It implements pipeline.Annotator.
type Annotator struct {
	Label       string
	TextOrigin  image.Point
	TextScale   float64
	TextColor   color.RGBA
	JointColor  color.RGBA
	EdgeColor   color.RGBA
	Thickness   int
	JointRadius int
	Connections []pose.Connection
}

func NewAnnotator() *Annotator {
	return &Annotator{
		Label:       "Push-ups",
		TextOrigin:  image.Pt(10, 70),
		TextScale:   1,
		TextColor:   color.RGBA{G: 255, A: 255},
		JointColor:  color.RGBA{R: 255, G: 255, B: 255, A: 255},
		EdgeColor:   color.RGBA{G: 255, A: 255},
		Thickness:   2,
		JointRadius: 2,
		Connections: pose.Connections,
	}
}

func (a *Annotator) Annotate(frame gocv.Mat, lm *pose.LandmarkFrame, count int) (gocv.Mat, error) {
	if frame.Empty() {
		return frame, errors.New("cannot annotate empty frame")
	}
	w, h := frame.Cols(), frame.Rows()

	if lm != nil {
		for _, c := range a.Connections {
			from, ok1 := lm.Get(c.From)
			to, ok2 := lm.Get(c.To)
			if !ok1 || !ok2 {
				continue
			}
			gocv.Line(&frame, ToPixel(from, w, h), ToPixel(to, w, h), a.EdgeColor, a.Thickness)
		}
		for _, p := range lm.Points {
			if !p.Present {
				continue
			}
			gocv.Circle(&frame, ToPixel(p, w, h), a.JointRadius, a.JointColor, a.Thickness)
		}
	}

	gocv.PutTextWithParams(&frame, a.Text(count), a.TextOrigin, gocv.FontHersheySimplex,
		a.TextScale, a.TextColor, a.Thickness, gocv.LineAA, false)
	return frame, nil
}

func (a *Annotator) Text(count int) string {
	return fmt.Sprintf("%s: %d", a.Label, count)
}

// ToPixel converts a normalized landmark to pixel coordinates clamped to the
// frame bounds.
func ToPixel(lm pose.Landmark, width, height int) image.Point {
	x := int(lm.X * float64(width))
	y := int(lm.Y * float64(height))

	if x < 0 {
		x = 0
	}
	if y < 0 {
		y = 0
	}
	if x > width-1 {
		x = width - 1
	}
	if y > height-1 {
		y = height - 1
	}
	return image.Pt(x, y)
}
