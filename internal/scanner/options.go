package scanner

// DefaultTargets are the longer-side resize levels tried after the original.
var DefaultTargets = []int{2048, 1500, 1024, 800}

// ScanOptions provides flexible configuration for scanning
type ScanOptions struct {
	// Resize levels, any order; normalized to distinct descending values
	Targets []int

	// Performance options
	Workers int // 0 means runtime.NumCPU()
}

// DefaultScanOptions returns default scan options
func DefaultScanOptions() ScanOptions {
	return ScanOptions{
		Targets: append([]int(nil), DefaultTargets...),
		Workers: 0, // Use default CPU count
	}
}

// FastScanOptions only tries the original image and one downscale.
func FastScanOptions() ScanOptions {
	opts := DefaultScanOptions()
	opts.Targets = []int{1024}
	return opts
}

// WithTargets returns options using the given resize levels
func (opts ScanOptions) WithTargets(targets ...int) ScanOptions {
	opts.Targets = append([]int(nil), targets...)
	return opts
}

// WithWorkers returns options with a fixed worker count
func (opts ScanOptions) WithWorkers(workers int) ScanOptions {
	opts.Workers = workers
	return opts
}

// WithoutVariants disables the variant ladder so only the original is decoded
func (opts ScanOptions) WithoutVariants() ScanOptions {
	opts.Targets = nil
	return opts
}
