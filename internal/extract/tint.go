// Thumbnailer - Persistent Image Cache and Extraction Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/thumbnailer

package extract

import "fmt"

// Orientation is the EXIF orientation tag value (1-8) found on an
// embedded thumbnail, per the EXIF 2.3 spec's Orientation field.
type Orientation int

const (
	OrientationNormal         Orientation = 1
	OrientationFlipHorizontal Orientation = 2
	OrientationRotate180      Orientation = 3
	OrientationFlipVertical   Orientation = 4
	OrientationTranspose      Orientation = 5
	OrientationRotate90CW     Orientation = 6
	OrientationTransverse     Orientation = 7
	OrientationRotate270CW    Orientation = 8
)

// Tint stands in for real decode-rotate-reencode pixel work when testing
// the EXIF-embedded-thumbnail path (§4.4's "extract an embedded
// thumbnail, honoring orientation" case): rather than depending on an
// image codec, it deterministically rewrites the payload's leading byte
// to a value unique to the orientation applied, so tests can assert that
// the correct orientation reached the extractor without decoding a real
// image.
func Tint(data []byte, o Orientation) ([]byte, error) {
	if o < OrientationNormal || o > OrientationRotate270CW {
		return nil, fmt.Errorf("extract: invalid EXIF orientation %d", o)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("extract: cannot tint empty image data")
	}
	out := append([]byte(nil), data...)
	out[0] = byte(o)
	return out, nil
}

// Untint recovers the orientation a prior Tint call applied, for tests
// that need to assert on the transformation rather than only its effect.
func Untint(data []byte) (Orientation, error) {
	if len(data) == 0 {
		return 0, fmt.Errorf("extract: cannot read orientation from empty data")
	}
	o := Orientation(data[0])
	if o < OrientationNormal || o > OrientationRotate270CW {
		return 0, fmt.Errorf("extract: data was not tinted with a valid orientation")
	}
	return o, nil
}
