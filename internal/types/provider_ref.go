package types

import "fmt"

type ProviderKind string

const (
	KindGuide  ProviderKind = "guide"
	KindDriver ProviderKind = "driver"
)

func (k ProviderKind) Valid() bool {
	return k == KindGuide || k == KindDriver
}

// ProviderRef names one provider engaged by a booking.
type ProviderRef struct {
	Kind ProviderKind `json:"kind"`
	ID   ID           `json:"id"`
}

func (r ProviderRef) String() string {
	return fmt.Sprintf("%s:%s", r.Kind, r.ID)
}
