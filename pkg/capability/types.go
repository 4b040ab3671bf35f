package capability

import (
	"fmt"
	"strings"
)

// Image is an opaque handle to pixel data. The router forwards it unexamined.
type Image struct {
	Data     []byte `json:"-"`
	MIMEType string `json:"mime_type"`
	Width    int    `json:"width,omitempty"`
	Height   int    `json:"height,omitempty"`
	Source   string `json:"source,omitempty"`
}

// Box is an axis-aligned box in the pixel space of the input image.
type Box struct {
	XMin  float64 `json:"x_min"`
	YMin  float64 `json:"y_min"`
	XMax  float64 `json:"x_max"`
	YMax  float64 `json:"y_max"`
	Label string  `json:"label,omitempty"`
}

// DetectionResult is the output of one ObjectLocalizer call. Boxes may be empty.
type DetectionResult struct {
	Boxes []Box `json:"boxes"`
}

// Clone returns a deep copy of the result.
func (d DetectionResult) Clone() DetectionResult {
	if d.Boxes == nil {
		return DetectionResult{}
	}
	boxes := make([]Box, len(d.Boxes))
	copy(boxes, d.Boxes)
	return DetectionResult{Boxes: boxes}
}

// String renders the result compactly, e.g. "2 boxes: [1 2 3 4] [5 6 7 8]".
func (d DetectionResult) String() string {
	if len(d.Boxes) == 0 {
		return "0 boxes"
	}
	var sb strings.Builder
	noun := "boxes"
	if len(d.Boxes) == 1 {
		noun = "box"
	}
	fmt.Fprintf(&sb, "%d %s:", len(d.Boxes), noun)
	for _, b := range d.Boxes {
		fmt.Fprintf(&sb, " [%g %g %g %g]", b.XMin, b.YMin, b.XMax, b.YMax)
	}
	return sb.String()
}
