package challenge

import "context"

// Variant selects the solving method
type Variant string

const (
	VariantRecaptchaV2 Variant = "recaptcha_v2"
	VariantRecaptchaV3 Variant = "recaptcha_v3"
	VariantHCaptcha    Variant = "hcaptcha"
	VariantTurnstile   Variant = "turnstile"
	VariantImage       Variant = "image"
)

// Request describes one challenge to solve
type Request struct {
	Variant   Variant
	SiteKey   string
	PageURL   string
	Invisible bool
	Action    string  // recaptcha v3
	MinScore  float64 // recaptcha v3, defaults to 0.7
	Image     []byte  // image challenges
	Params    map[string]string
}

// Service is an external solving backend
type Service interface {
	Name() string
	// Submit sends the challenge and blocks until a token is available,
	// the service reports failure, or ctx is done.
	Submit(ctx context.Context, req Request) (string, error)
	Balance(ctx context.Context) (float64, error)
}

// VariantFor maps a detection onto the solving method
func VariantFor(det Detection) Variant {
	switch det.Family {
	case FamilyHCaptcha:
		return VariantHCaptcha
	case FamilyTurnstile:
		return VariantTurnstile
	default:
		if det.V3 {
			return VariantRecaptchaV3
		}
		return VariantRecaptchaV2
	}
}
