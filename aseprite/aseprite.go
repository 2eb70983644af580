/*
Package aseprite implements a decoder for Aseprite sprite files.

A file is a 128 byte header followed by one block per animation frame. Each
frame block holds a list of chunks; the ones that matter for producing pixels
are layer chunks (which appear in the first frame and define the layer stack),
cel chunks (the pixels of one layer in one frame, stored raw, zlib compressed
or as a link to the cel of the same layer in an earlier frame) and palette
chunks for indexed images.

Frames are flattened by compositing the cels of every visible layer with the
normal blend mode. Other blend modes are treated as normal and tilemap layers
are ignored.

Sizes in the file are checked against the data actually present, and a file
whose cels and frames would decode to more than 64 megapixels in total is
rejected.
*/
package aseprite

const (
	frameHeaderSize = 16
	chunkHeaderSize = 6

	fileMagic  = 0xa5e0
	frameMagic = 0xf1fa

	chunkOldPalette   = 0x0004
	chunkOldPalette64 = 0x0011
	chunkLayer        = 0x2004
	chunkCel          = 0x2005
	chunkPalette      = 0x2019

	celRaw        = 0
	celLinked     = 1
	celCompressed = 2

	layerVisible    = 1
	layerBackground = 8

	layerNormal = 0
	layerGroup  = 1

	flagLayerOpacity = 1

	depthRGBA      = 32
	depthGrayscale = 16
	depthIndexed   = 8

	paletteHasName = 1

	// Upper bound on the pixels one file may decode to, across every cel and
	// flattened frame
	maxPixels = 1 << 26
)
