package util_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/nasa-jpl/servojog/util"
)

func ExampleSetBit_msb() {
	out := util.SetBit(0, 15, true)
	fmt.Printf("%016b\n", out)
	// Output: 1000000000000000
}

func ExampleSetBit_lsb() {
	out := util.SetBit(0xFFFF, 0, false)
	fmt.Printf("%016b\n", out)
	// Output: 1111111111111110
}

func TestGetBit(t *testing.T) {
	var w uint16 = 0x0037 // operation enabled, voltage enabled, quick stop
	expected := []bool{true, true, true, false, true, true, false, false}
	for i, e := range expected {
		if got := util.GetBit(w, uint(i)); got != e {
			t.Errorf("expected bit %d of %#04x to be %v, got %v", i, w, e, got)
		}
	}
}

func TestSetBitRoundTrip(t *testing.T) {
	for i := uint(0); i < 16; i++ {
		w := util.SetBit(0, i, true)
		if !util.GetBit(w, i) {
			t.Errorf("expected bit %d to be set in %016b", i, w)
		}
		if util.SetBit(w, i, false) != 0 {
			t.Errorf("expected clearing bit %d to return zero", i)
		}
	}
}

func TestSecsToDuration(t *testing.T) {
	var dur time.Duration = 123456789
	secs := dur.Seconds()
	out := util.SecsToDuration(secs)
	if out != dur {
		t.Errorf("expected SecsToDuration to round trip, output %v != expected %v", out, dur)
	}
}

func TestSecsToDurationNegative(t *testing.T) {
	if out := util.SecsToDuration(-1); out != 0 {
		t.Errorf("expected negative seconds to clamp to zero, got %v", out)
	}
}
