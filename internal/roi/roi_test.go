package roi

import (
	"errors"
	"testing"
	"testing/quick"
)

func TestCompute(t *testing.T) {
	testCases := []struct {
		name       string
		x, y, w, h int
		binX, binY int
		wantErr    error
		wantOutW   int
		wantOutH   int
	}{
		{"exactly_min_area", 0, 0, 2, 2, 1, 1, nil, 2, 2},
		{"line_of_four", 10, 10, 4, 1, 1, 1, nil, 4, 1},
		{"below_min_area", 0, 0, 1, 3, 1, 1, ErrTooSmall, 0, 0},
		{"single_pixel", 5, 5, 1, 1, 1, 1, ErrTooSmall, 0, 0},
		{"asymmetric_bin", 0, 0, 101, 50, 2, 5, nil, 50, 10},
		{"bin_larger_than_width", 0, 0, 2, 8, 4, 1, ErrTooSmall, 0, 0},
		{"zero_bin", 0, 0, 64, 64, 0, 1, ErrInvalidBin, 0, 0},
		{"negative_origin", -1, 0, 64, 64, 1, 1, ErrTooSmall, 0, 0},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			r, err := Compute(tc.x, tc.y, tc.w, tc.h, tc.binX, tc.binY)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("Compute error = %v, want %v", err, tc.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Compute failed: %v", err)
			}
			if r.OutputWidth() != tc.wantOutW || r.OutputHeight() != tc.wantOutH {
				t.Errorf("output = %dx%d, want %dx%d", r.OutputWidth(), r.OutputHeight(), tc.wantOutW, tc.wantOutH)
			}
		})
	}
}

func TestDescriptor(t *testing.T) {
	r, err := Compute(10, 20, 101, 50, 2, 5)
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}

	d := r.Descriptor()
	if d.S1 != 10 || d.S2 != 109 || d.SBin != 2 {
		t.Errorf("serial = [%d,%d] bin %d, want [10,109] bin 2", d.S1, d.S2, d.SBin)
	}
	if d.P1 != 20 || d.P2 != 69 || d.PBin != 5 {
		t.Errorf("parallel = [%d,%d] bin %d, want [20,69] bin 5", d.P1, d.P2, d.PBin)
	}
}

func TestFull_Idempotent(t *testing.T) {
	a, err := Full(1024, 768, 2, 2)
	if err != nil {
		t.Fatalf("Full failed: %v", err)
	}
	b, err := Full(1024, 768, 2, 2)
	if err != nil {
		t.Fatalf("Full failed: %v", err)
	}
	if a != b {
		t.Errorf("Full not idempotent: %v != %v", a, b)
	}
	if a.OutputWidth() != 512 || a.OutputHeight() != 384 {
		t.Errorf("output = %dx%d, want 512x384", a.OutputWidth(), a.OutputHeight())
	}
}

// TestProperty_MinArea checks the area boundary for unbinned regions.
func TestProperty_MinArea(t *testing.T) {
	f := func(w, h uint8) bool {
		_, err := Compute(0, 0, int(w), int(h), 1, 1)
		if int(w)*int(h) < MinArea {
			return errors.Is(err, ErrTooSmall)
		}
		return err == nil
	}

	if err := quick.Check(f, &quick.Config{MaxCount: 500}); err != nil {
		t.Error(err)
	}
}

// TestProperty_OutputFloor checks output dimensions are floor(size/bin).
func TestProperty_OutputFloor(t *testing.T) {
	f := func(w, h uint16, bx, by uint8) bool {
		binX, binY := int(bx%8)+1, int(by%8)+1
		r, err := Compute(0, 0, int(w), int(h), binX, binY)
		if err != nil {
			return true
		}
		return r.OutputWidth() == int(w)/binX && r.OutputHeight() == int(h)/binY
	}

	if err := quick.Check(f, &quick.Config{MaxCount: 500}); err != nil {
		t.Error(err)
	}
}

func TestWithin(t *testing.T) {
	r, err := Compute(8, 4, 16, 8, 1, 1)
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}
	if err := r.Within(24, 12); err != nil {
		t.Errorf("Within(24, 12) = %v, want nil", err)
	}
	if err := r.Within(23, 12); !errors.Is(err, ErrOutsideSensor) {
		t.Errorf("Within(23, 12) = %v, want ErrOutsideSensor", err)
	}
}
