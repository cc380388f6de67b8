// Package stager materializes the embedded stress-ng payload on disk.
package stager

// Variant identifies a platform-specific payload.
type Variant string

const (
	// VariantLinux is the baseline payload, also used for unknown OSes.
	VariantLinux Variant = "linux"

	// VariantDarwin is the macOS payload.
	VariantDarwin Variant = "darwin"
)

// String returns the variant name.
func (v Variant) String() string {
	return string(v)
}

// BinaryName returns the file name the variant is staged under.
func (v Variant) BinaryName() string {
	return "stress-ng-" + string(v)
}

// DetectVariant maps a GOOS value to a Variant. The second result is true
// when goos is not recognised and the baseline variant was chosen instead.
func DetectVariant(goos string) (Variant, bool) {
	switch goos {
	case "linux":
		return VariantLinux, false
	case "darwin":
		return VariantDarwin, false
	default:
		return VariantLinux, true
	}
}
