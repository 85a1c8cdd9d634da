package scanner

import (
	"fmt"
	"image"
	"iter"
	"slices"

	"github.com/disintegration/imaging"
)

const (
	sharpenSigma  = 1.0
	contrastBoost = 50.0
)

// Enhancement is the filter applied on top of a resized variant.
type Enhancement int

const (
	EnhanceNone Enhancement = iota
	EnhanceSharpen
	EnhanceContrast
)

func (e Enhancement) suffix() string {
	switch e {
	case EnhanceSharpen:
		return "+sharpen"
	case EnhanceContrast:
		return "+contrast"
	default:
		return ""
	}
}

// VariantSpec describes one planned variant without computing it.
type VariantSpec struct {
	Target      int
	Enhancement Enhancement
}

func (s VariantSpec) Label() string {
	return fmt.Sprintf("resize-%d%s", s.Target, s.Enhancement.suffix())
}

// Variant is a derived raster tried by the decode loop.
type Variant struct {
	Label string
	Image image.Image
}

// PlanVariants lists, in attempt order, the variants generated for an image
// with the given bounds. Targets are visited largest first; a target yields
// resize, sharpen and contrast entries only when the longer side exceeds it.
func PlanVariants(bounds image.Rectangle, targets []int) []VariantSpec {
	longer := max(bounds.Dx(), bounds.Dy())
	var plan []VariantSpec
	for _, t := range normalizeTargets(targets) {
		if longer <= t {
			continue
		}
		plan = append(plan,
			VariantSpec{Target: t, Enhancement: EnhanceNone},
			VariantSpec{Target: t, Enhancement: EnhanceSharpen},
			VariantSpec{Target: t, Enhancement: EnhanceContrast},
		)
	}
	return plan
}

// Variants lazily produces the planned variants of img. Each resize is
// computed once and shared by its enhancements; nothing is computed for
// targets the consumer never reaches. The sequence can be ranged over again.
func Variants(img image.Image, targets []int) iter.Seq[Variant] {
	plan := PlanVariants(img.Bounds(), targets)
	return func(yield func(Variant) bool) {
		var (
			resized    image.Image
			resizedFor int
		)
		for _, spec := range plan {
			if resized == nil || resizedFor != spec.Target {
				resized = resizeLonger(img, spec.Target)
				resizedFor = spec.Target
			}
			var out image.Image
			switch spec.Enhancement {
			case EnhanceSharpen:
				out = imaging.Sharpen(resized, sharpenSigma)
			case EnhanceContrast:
				out = imaging.AdjustContrast(resized, contrastBoost)
			default:
				out = resized
			}
			if !yield(Variant{Label: spec.Label(), Image: out}) {
				return
			}
		}
	}
}

// resizeLonger scales img so its longer side equals target, keeping aspect.
func resizeLonger(img image.Image, target int) image.Image {
	b := img.Bounds()
	if b.Dx() >= b.Dy() {
		return imaging.Resize(img, target, 0, imaging.Lanczos)
	}
	return imaging.Resize(img, 0, target, imaging.Lanczos)
}

// normalizeTargets returns positive, distinct targets in descending order.
func normalizeTargets(targets []int) []int {
	out := make([]int, 0, len(targets))
	for _, t := range targets {
		if t > 0 {
			out = append(out, t)
		}
	}
	slices.Sort(out)
	out = slices.Compact(out)
	slices.Reverse(out)
	return out
}
