// Package fulfillment describes how an order reaches the customer: home
// delivery to a saved address or self pickup at a store location.
package fulfillment

import (
	"context"

	"github.com/go-faster/errors"
)

// Mode enumerates the supported fulfillment modes.
type Mode string

const (
	ModeHomeDelivery Mode = "home_delivery"
	ModeSelfPickup   Mode = "self_pickup"
)

// Preference selects between immediate and slotted home delivery.
type Preference string

const (
	PreferenceQuick     Preference = "quick"
	PreferenceScheduled Preference = "scheduled"
)

var (
	// ErrAddressNotFound is returned when an address does not exist or
	// belongs to another user.
	ErrAddressNotFound = errors.New("address not found")
	// ErrPickupNotFound is returned when a pickup location does not exist or
	// is inactive.
	ErrPickupNotFound = errors.New("pickup location not found")
	// ErrUnknownMode is returned for a policy with an unsupported mode.
	ErrUnknownMode = errors.New("unknown fulfillment mode")
)

// Policy is the delivery policy chosen for a checkout.
//
// Exactly one of AddressID (home delivery) or PickupLocationID (self pickup)
// is meaningful, depending on Mode.
type Policy struct {
	Mode             Mode       `json:"mode"`
	AddressID        string     `json:"address_id,omitempty"`
	Preference       Preference `json:"preference,omitempty"`
	PickupLocationID string     `json:"pickup_location_id,omitempty"`
}

// HomeDelivery returns a home delivery policy.
func HomeDelivery(addressID string, pref Preference) Policy {
	return Policy{Mode: ModeHomeDelivery, AddressID: addressID, Preference: pref}
}

// SelfPickup returns a self pickup policy.
func SelfPickup(locationID string) Policy {
	return Policy{Mode: ModeSelfPickup, PickupLocationID: locationID}
}

// IsPickup reports whether the policy is self pickup.
func (p Policy) IsPickup() bool { return p.Mode == ModeSelfPickup }

// RequiresSlot reports whether the policy needs a slot selection.
func (p Policy) RequiresSlot() bool {
	switch p.Mode {
	case ModeSelfPickup:
		return true
	case ModeHomeDelivery:
		return p.Preference == PreferenceScheduled
	default:
		return false
	}
}

// Validate checks the policy shape. It does not consult any repository.
func (p Policy) Validate() error {
	switch p.Mode {
	case ModeHomeDelivery:
		if p.Preference != PreferenceQuick && p.Preference != PreferenceScheduled {
			return errors.Errorf("unknown delivery preference %q", p.Preference)
		}
		return nil
	case ModeSelfPickup:
		return nil
	default:
		return errors.Wrapf(ErrUnknownMode, "mode %q", p.Mode)
	}
}

// Address is a saved customer address. Latitude and Longitude are nil when the
// address was never geocoded.
type Address struct {
	ID        string   `json:"id"`
	UserID    string   `json:"user_id"`
	Label     string   `json:"label,omitempty"`
	Line1     string   `json:"line1"`
	Line2     string   `json:"line2,omitempty"`
	City      string   `json:"city"`
	State     string   `json:"state"`
	Pincode   string   `json:"pincode"`
	Phone     string   `json:"phone,omitempty"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
}

// HasCoordinates reports whether the address carries geocoordinates.
func (a Address) HasCoordinates() bool {
	return a.Latitude != nil && a.Longitude != nil
}

// PickupLocation is a store counter where orders can be collected.
type PickupLocation struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Address string `json:"address"`
}

// Eligibility is the outcome of a delivery eligibility check.
type Eligibility struct {
	Eligible bool
	Reason   string
}

// EligibilityChecker decides whether an address can be delivered to.
type EligibilityChecker interface {
	Check(ctx context.Context, addr Address) (Eligibility, error)
}

// AddressRepository reads saved addresses.
type AddressRepository interface {
	GetAddress(ctx context.Context, userID, addressID string) (*Address, error)
}

// PickupRepository reads pickup locations.
type PickupRepository interface {
	GetPickupLocation(ctx context.Context, id string) (*PickupLocation, error)
}
