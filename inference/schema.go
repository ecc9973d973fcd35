package inference

import "github.com/invopop/jsonschema"

// detectionResponse is the structured-output shape the remote detector
// returns for one batch: one entry per submitted frame, each carrying zero
// or more detected unsafe regions with bboxes in normalized 1000
// coordinates; scaleBBox converts them to the frame's pixel space.
type detectionResponse struct {
	Frames []frameDetections `json:"frames" jsonschema_description:"One entry per frame submitted, in the same order."`
}

type frameDetections struct {
	SourceSequence uint64           `json:"source_sequence" jsonschema_description:"Echoes the sequence number of the submitted frame this entry describes."`
	Objects        []detectedObject `json:"objects" jsonschema_description:"Detected unsafe regions in this frame, empty if none."`
}

type detectedObject struct {
	ClassID    string    `json:"class_id" jsonschema_description:"Category of the detected unsafe region."`
	BBox       []float64 `json:"bbox" jsonschema_description:"Bounding box as [x1, y1, x2, y2] in normalized 1000 coordinates, 0=top/left, 1000=bottom/right."`
	Confidence float64   `json:"confidence" jsonschema_description:"Model confidence in [0,1]."`
}

// generateDetectionResponseSchema builds the JSON schema advertised to the
// remote detector's structured-output mode.
func generateDetectionResponseSchema() any {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v detectionResponse
	return reflector.Reflect(v)
}

// scaleBBox converts a normalized-1000 bbox into frame pixel space.
func scaleBBox(raw []float64, width, height int) (x, y, w, h int) {
	if len(raw) < 4 {
		return 0, 0, 0, 0
	}
	x1 := int(raw[0] * float64(width) / 1000.0)
	y1 := int(raw[1] * float64(height) / 1000.0)
	x2 := int(raw[2] * float64(width) / 1000.0)
	y2 := int(raw[3] * float64(height) / 1000.0)
	return x1, y1, x2 - x1, y2 - y1
}
