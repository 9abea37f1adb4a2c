package mathx

import (
	"testing"

	"github.com/holiman/uint256"
)

func TestDivCeil(t *testing.T) {
	cases := []struct {
		a, b uint64
		want uint64
	}{
		{10, 5, 2},
		{11, 5, 3},
		{0, 5, 0},
	}
	for _, c := range cases {
		got, ok := DivCeil(uint256.NewInt(c.a), uint256.NewInt(c.b))
		if !ok {
			t.Fatalf("DivCeil(%d, %d) failed", c.a, c.b)
		}
		if got.Uint64() != c.want {
			t.Errorf("DivCeil(%d, %d) = %d, want %d", c.a, c.b, got.Uint64(), c.want)
		}
	}
}

func TestDivCeilByZero(t *testing.T) {
	if _, ok := DivCeil(uint256.NewInt(1), uint256.NewInt(0)); ok {
		t.Error("DivCeil() by zero should fail")
	}
}

func TestMinMax(t *testing.T) {
	a, b := uint256.NewInt(3), uint256.NewInt(7)
	if Min(a, b).Uint64() != 3 {
		t.Error("Min() should return the smaller value")
	}
	if Max(a, b).Uint64() != 7 {
		t.Error("Max() should return the larger value")
	}
}

func TestSaturatingAdd(t *testing.T) {
	max := new(uint256.Int).Not(uint256.NewInt(0))
	got := SaturatingAdd(max, uint256.NewInt(1))
	if got.Cmp(max) != 0 {
		t.Error("SaturatingAdd() should clamp at the uint256 maximum")
	}
	if SaturatingAdd(uint256.NewInt(2), uint256.NewInt(3)).Uint64() != 5 {
		t.Error("SaturatingAdd() should add normally without overflow")
	}
}

func TestSaturatingSub(t *testing.T) {
	got := SaturatingSub(uint256.NewInt(1), uint256.NewInt(5))
	if !got.IsZero() {
		t.Error("SaturatingSub() should clamp at zero on underflow")
	}
	if SaturatingSub(uint256.NewInt(5), uint256.NewInt(3)).Uint64() != 2 {
		t.Error("SaturatingSub() should subtract normally without underflow")
	}
}
