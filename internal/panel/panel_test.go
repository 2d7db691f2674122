package panel

import (
	"testing"

	"github.com/relabsflight/sensorvote/internal/combined"
	"github.com/relabsflight/sensorvote/internal/sensordata"
)

func TestRenderProducesCorrectlySizedImage(t *testing.T) {
	snap := combined.Snapshot{TimestampUS: 123456}
	classes := []ClassStatus{
		{Class: sensordata.ClassGyro, SubCount: 2, Best: 0, FailoverCount: 1},
		{Class: sensordata.ClassBaro, SubCount: 1, Best: 0, FailoverCount: 0},
	}

	img := Render(snap, classes)
	bounds := img.Bounds()
	if bounds.Dx() != panelWidth || bounds.Dy() != panelHeight {
		t.Fatalf("expected %dx%d image, got %dx%d", panelWidth, panelHeight, bounds.Dx(), bounds.Dy())
	}
}

func TestRenderTruncatesExcessClasses(t *testing.T) {
	snap := combined.Snapshot{}
	var classes []ClassStatus
	for i := 0; i < 10; i++ {
		classes = append(classes, ClassStatus{Class: sensordata.ClassAccel})
	}
	// Must not panic even when the class list overflows the panel.
	Render(snap, classes)
}
