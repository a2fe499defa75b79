// Package projection implements the per-pixel geometry that maps a canvas
// pixel to a fisheye camera pixel.
//
// A pixel passes through four stages, any of which may reject it:
//
//	canvas → rendering   region bounds, mask, flip/rotate (Placement)
//	rendering → world    variant specific (GroundPlane, Panoramic)
//	world → view         lens compression law (Lens.WorldToView)
//	view → camera pixel  image circle placement, clamped (Sensor.ViewToPixel)
//
// Variants are resolved by tag through a Registry.
package projection
