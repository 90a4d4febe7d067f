package artifact

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"image"
	"image/color"
	"image/draw"
	"image/gif"
	"image/jpeg"
	"image/png"
	"path"
	"strings"

	"github.com/kolesa-team/go-webp/encoder"
	"github.com/kolesa-team/go-webp/webp"
	"github.com/sirupsen/logrus"
)

const (
	placeholderSize = 64
	webpQuality     = 80
)

// 장르별 커버 색상
var genreColors = map[string]color.RGBA{
	"runner":     {0xf9, 0x73, 0x16, 0xff},
	"platformer": {0x22, 0xc5, 0x5e, 0xff},
	"shooter":    {0xef, 0x44, 0x44, 0xff},
	"racing":     {0xea, 0xb3, 0x08, 0xff},
	"breakout":   {0x3b, 0x82, 0xf6, 0xff},
	"snake":      {0x10, 0xb9, 0x81, 0xff},
	"puzzle":     {0xa8, 0x55, 0xf7, 0xff},
	"adventure":  {0x0e, 0xa5, 0xe9, 0xff},
}

// placeholderColor - 경로마다 고정된 색
func placeholderColor(p string) color.RGBA {
	h := fnv.New32a()
	h.Write([]byte(p))
	sum := h.Sum32()
	return color.RGBA{R: uint8(sum >> 16), G: uint8(sum >> 8), B: uint8(sum), A: 0xff}
}

// solidImage - 단색 + 어두운 테두리
func solidImage(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	border := color.RGBA{R: c.R / 2, G: c.G / 2, B: c.B / 2, A: 0xff}
	draw.Draw(img, img.Bounds(), &image.Uniform{C: border}, image.Point{}, draw.Src)
	inner := image.Rect(2, 2, w-2, h-2)
	draw.Draw(img, inner, &image.Uniform{C: c}, image.Point{}, draw.Src)
	return img
}

// EncodeWebP - 이미지를 WebP 로 인코딩
func EncodeWebP(img image.Image, quality float32) ([]byte, error) {
	options, err := encoder.NewLossyEncoderOptions(encoder.PresetDefault, quality)
	if err != nil {
		return nil, fmt.Errorf("failed to create WebP encoder options: %w", err)
	}

	var buf bytes.Buffer
	if err := webp.Encode(&buf, img, options); err != nil {
		return nil, fmt.Errorf("failed to encode WebP: %w", err)
	}
	return buf.Bytes(), nil
}

// Placeholder - 확장자에 맞는 대체 에셋 (bytes, content-type)
func Placeholder(assetPath string) ([]byte, string, error) {
	ext := strings.ToLower(path.Ext(assetPath))
	img := solidImage(placeholderSize, placeholderSize, placeholderColor(assetPath))
	var buf bytes.Buffer

	switch ext {
	case ".webp":
		data, err := EncodeWebP(img, webpQuality)
		return data, "image/webp", err
	case ".png":
		err := png.Encode(&buf, img)
		return buf.Bytes(), "image/png", err
	case ".jpg", ".jpeg":
		err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 80})
		return buf.Bytes(), "image/jpeg", err
	case ".gif":
		err := gif.Encode(&buf, img, nil)
		return buf.Bytes(), "image/gif", err
	case ".svg":
		c := placeholderColor(assetPath)
		svg := fmt.Sprintf(`<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d"><rect width="100%%" height="100%%" fill="#%02x%02x%02x"/></svg>`,
			placeholderSize, placeholderSize, c.R, c.G, c.B)
		return []byte(svg), "image/svg+xml", nil
	case ".mp3", ".wav", ".ogg", ".m4a":
		return silentWAV(), "audio/wav", nil
	case ".json":
		return []byte("{}"), "application/json", nil
	default:
		logrus.Debugf("⚠️  No placeholder format for %s, writing empty file", assetPath)
		return []byte{}, "application/octet-stream", nil
	}
}

// silentWAV - 0.1초 무음 (8kHz, mono, 8bit PCM)
func silentWAV() []byte {
	const (
		sampleRate = 8000
		samples    = sampleRate / 10
	)
	var buf bytes.Buffer
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+samples))
	buf.WriteString("WAVEfmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // mono
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(&buf, binary.LittleEndian, uint16(1))
	binary.Write(&buf, binary.LittleEndian, uint16(8))
	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(samples))
	buf.Write(bytes.Repeat([]byte{0x80}, samples))
	return buf.Bytes()
}

// Cover - 장르 색 그라데이션 커버 (WebP)
func Cover(genre string) ([]byte, error) {
	base, ok := genreColors[genre]
	if !ok {
		base = color.RGBA{0x64, 0x74, 0x8b, 0xff}
	}
	const w, h = 512, 288
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		shade := 1 - float64(y)/float64(h)*0.6
		row := color.RGBA{R: uint8(float64(base.R) * shade), G: uint8(float64(base.G) * shade), B: uint8(float64(base.B) * shade), A: 0xff}
		draw.Draw(img, image.Rect(0, y, w, y+1), &image.Uniform{C: row}, image.Point{}, draw.Src)
	}
	return EncodeWebP(img, webpQuality)
}
