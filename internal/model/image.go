package model

import "fmt"

// Image is a raw 8-bit raster, row-major with interleaved channels.
// Camera and display rasters are BGR, inference input rasters are RGB.
type Image struct {
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	Channels int    `json:"channels"`
	Pixels   []byte `json:"-"`
}

// NewImage allocates a zeroed image.
func NewImage(width, height, channels int) *Image {
	return &Image{
		Width:    width,
		Height:   height,
		Channels: channels,
		Pixels:   make([]byte, width*height*channels),
	}
}

// Stride returns the number of bytes per row.
func (img *Image) Stride() int {
	return img.Width * img.Channels
}

// Validate checks that the pixel buffer matches the declared dimensions.
func (img *Image) Validate() error {
	if img.Width <= 0 || img.Height <= 0 || img.Channels <= 0 {
		return fmt.Errorf("invalid image dimensions %dx%dx%d", img.Width, img.Height, img.Channels)
	}
	if len(img.Pixels) != img.Width*img.Height*img.Channels {
		return fmt.Errorf("image buffer size %d does not match %dx%dx%d", len(img.Pixels), img.Width, img.Height, img.Channels)
	}
	return nil
}

// Clone returns a deep copy of the image.
func (img *Image) Clone() *Image {
	c := &Image{
		Width:    img.Width,
		Height:   img.Height,
		Channels: img.Channels,
		Pixels:   make([]byte, len(img.Pixels)),
	}
	copy(c.Pixels, img.Pixels)
	return c
}
