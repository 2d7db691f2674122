// Package panel renders a compact status image from the latest
// combined snapshot and per-class voter state, optionally pushed to a
// real SSD1306 OLED via internal/hwbaro, using
// image1bit.NewVerticalLSB(image.Rect(0,0,128,64)) plus font.Drawer
// with basicfont.Face7x13 and fixed.P(x,y) for text layout.
package panel

import (
	"fmt"
	"image"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"periph.io/x/devices/v3/ssd1306/image1bit"

	"github.com/relabsflight/sensorvote/internal/combined"
	"github.com/relabsflight/sensorvote/internal/sensordata"
)

const (
	panelWidth  = 128
	panelHeight = 64
)

// ClassStatus is the per-class summary line the panel prints.
type ClassStatus struct {
	Class         sensordata.Class
	SubCount      int
	Best          int
	FailoverCount int
}

// Pusher is the minimal capability the panel needs to reach a real
// display; internal/hwbaro.OpenSSD1306 returns a value satisfying it.
type Pusher interface {
	Bounds() image.Rectangle
	Draw(r image.Rectangle, src image.Image, sp image.Point) error
}

// Render draws the status panel: the primary snapshot timestamp, then
// one line per class with subscription count, elected instance, and
// failover count, for as many classes as fit on the 64-pixel-high
// panel. Only the first three class lines fit; later classes are not
// drawn.
func Render(snap combined.Snapshot, classes []ClassStatus) *image1bit.VerticalLSB {
	img := image1bit.NewVerticalLSB(image.Rect(0, 0, panelWidth, panelHeight))
	for i := range img.Pix {
		img.Pix[i] = 0
	}

	drawer := &font.Drawer{
		Dst:  img,
		Src:  &image.Uniform{C: image1bit.On},
		Face: basicfont.Face7x13,
	}

	drawer.Dot = fixed.P(0, 13)
	drawer.DrawString(fmt.Sprintf("t=%d", snap.TimestampUS))

	y := 26
	for _, c := range classes {
		drawer.Dot = fixed.P(0, y)
		drawer.DrawString(fmt.Sprintf("%-5s n%d b%d f%d", c.Class, c.SubCount, c.Best, c.FailoverCount))
		y += 13
		if y > panelHeight-1 {
			break
		}
	}

	return img
}

// Push renders and draws the panel onto a real display.
func Push(dev Pusher, snap combined.Snapshot, classes []ClassStatus) error {
	img := Render(snap, classes)
	return dev.Draw(dev.Bounds(), img, image.Point{})
}
