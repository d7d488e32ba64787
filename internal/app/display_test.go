package app

import (
	"reflect"
	"testing"

	"periph.io/x/devices/v3/ssd1306/image1bit"

	"github.com/relabs-tech/co2_monitor/internal/co2"
)

func TestDisplayLines(t *testing.T) {
	r := co2.Reading{PPM: 812, FilteredPPM: 790, Quality: "Stuffy"}
	tests := []struct {
		name   string
		r      co2.Reading
		have   bool
		status string
		want   []string
	}{
		{"waiting", co2.Reading{}, false, co2.StatusOnline, []string{"CO2 Monitor", "Waiting..."}},
		{"offline", r, true, co2.StatusOffline, []string{"CO2 Monitor", "Producer", "offline"}},
		{"reading", r, true, co2.StatusOnline, []string{"CO2   812 ppm", "avg   790 ppm", "Stuffy"}},
		{"stale", co2.Reading{PPM: 812, FilteredPPM: 790, Quality: "Stuffy", Stale: true}, true, "",
			[]string{"CO2   812 ppm", "avg   790 ppm", "Stuffy", "(stale)"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := displayLines(tt.r, tt.have, tt.status); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("displayLines() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRenderLines(t *testing.T) {
	lit := func(img *image1bit.VerticalLSB, y0, y1 int) int {
		n := 0
		for y := y0; y < y1; y++ {
			for x := 0; x < 128; x++ {
				if img.BitAt(x, y) == image1bit.On {
					n++
				}
			}
		}
		return n
	}

	if n := lit(renderLines(nil), 0, 64); n != 0 {
		t.Errorf("blank image has %d lit pixels", n)
	}
	img := renderLines([]string{"CO2   812 ppm", "", "Stuffy"})
	if lit(img, 0, 13) == 0 {
		t.Error("first row not drawn")
	}
	if n := lit(img, 16, 27); n != 0 {
		t.Errorf("empty second row has %d lit pixels", n)
	}
	if lit(img, 28, 41) == 0 {
		t.Error("third row not drawn")
	}
}
