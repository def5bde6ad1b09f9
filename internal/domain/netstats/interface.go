// internal/domain/netstats/interface.go
package netstats

import "time"

// Type is the kind of network an interface carries traffic for.
type Type string

const (
	TypeWifi   Type = "wifi"
	TypeMobile Type = "mobile"
)

// Interface is a network interface reported by a subscriber's device.
// For mobile interfaces ID is the ICCID of the SIM card.
type Interface struct {
	ID           string
	SubscriberID int64
	Type         Type
	CreatedAt    time.Time
}

// Sample is a traffic counter reading for one interface.
type Sample struct {
	ID           int64
	InterfaceID  string
	SubscriberID int64
	RxBytes      int64
	TxBytes      int64
	SampledAt    time.Time
}

// IsValidICCID reports whether iccid identifies a SIM card.
func IsValidICCID(iccid string) bool {
	return iccid != ""
}

// ParseType accepts "wifi" or "mobile".
func ParseType(s string) (Type, bool) {
	switch Type(s) {
	case TypeWifi, TypeMobile:
		return Type(s), true
	}
	return "", false
}
