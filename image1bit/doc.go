// Package image1bit provides a 1-bit monochrome image format for page-addressed
// OLED controllers (SSD1306, SSD1309 and compatibles).
//
// Pixels are stored in vertical pages where each byte holds 8 rows of a single
// column. Bit 0 is the top row of the page. Pages are laid out one after the
// other, each page being one byte per column.
//
// Memory layout example for an 4x8 image (one page):
//
//	Column: 0     1     2     3
//	Rows lit: 0   0-7   none  7
//	Bytes:  0x01  0xFF  0x00  0x80
//
// This package provides:
//
// - Bit: A color type representing a lit or unlit pixel
// - BitModel: A color model converting standard Go colors to Bit (luma > 127)
// - VerticalLSB: An image.Image implementation matching display memory
// - Pack: Conversion of a binarized *image.RGBA into a VerticalLSB
//
// Example usage:
//
//	// Create a 128x64 image
//	img := image1bit.NewVerticalLSB(image.Rect(0, 0, 128, 64))
//
//	// Light a pixel
//	img.SetBit(10, 20, image1bit.On)
//
//	// The packed bytes are ready to be sent to the display
//	dev.Write(img.Pix)
package image1bit
