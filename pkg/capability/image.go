package capability

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"net/http"
	"os"
)

// LoadImage reads an image file and fills in its MIME type and dimensions.
func LoadImage(path string) (Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Image{}, fmt.Errorf("read image %s: %w", path, err)
	}
	img, err := NewImage(data)
	if err != nil {
		return Image{}, fmt.Errorf("image %s: %w", path, err)
	}
	img.Source = path
	return img, nil
}

// NewImage wraps raw bytes. Dimensions are read from the header when the format is known.
func NewImage(data []byte) (Image, error) {
	if len(data) == 0 {
		return Image{}, fmt.Errorf("empty image data")
	}
	img := Image{
		Data:     data,
		MIMEType: http.DetectContentType(data),
	}
	if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		img.Width = cfg.Width
		img.Height = cfg.Height
	}
	return img, nil
}

// DataURL returns the image as a base64 data URL.
func (img Image) DataURL() string {
	return "data:" + img.MIMEType + ";base64," + img.Base64()
}

// Base64 returns the standard base64 encoding of the image bytes.
func (img Image) Base64() string {
	return base64.StdEncoding.EncodeToString(img.Data)
}
