// Package icons produces square icons of fixed pixel sizes from a source
// image, either in-process or through ImageMagick.
package icons
