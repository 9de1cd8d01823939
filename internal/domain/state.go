package domain

import "fmt"

// State is the closed set of conversation states.
type State uint8

const (
	StateStart State = iota
	StateMenuWait
	StateBuildingOrder
	StatePostOrderActionWait
	StateAmbiguityWait
	StateDeliveryTypeWait
	StateLocationWait
	StateAddressWait
	StatePaymentMethodWait
	StateChangeAmountWait
	StatePixConfirmWait
	StateFinalConfirmWait
	StateCompleted
	StateHumanHandoff
)

var stateNames = [...]string{
	StateStart:               "start",
	StateMenuWait:            "menu_wait",
	StateBuildingOrder:       "building_order",
	StatePostOrderActionWait: "post_order_action_wait",
	StateAmbiguityWait:       "ambiguity_wait",
	StateDeliveryTypeWait:    "delivery_type_wait",
	StateLocationWait:        "location_wait",
	StateAddressWait:         "address_wait",
	StatePaymentMethodWait:   "payment_method_wait",
	StateChangeAmountWait:    "change_amount_wait",
	StatePixConfirmWait:      "pix_confirm_wait",
	StateFinalConfirmWait:    "final_confirm_wait",
	StateCompleted:           "completed",
	StateHumanHandoff:        "human_handoff",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

func (s State) MarshalText() ([]byte, error) {
	if int(s) >= len(stateNames) {
		return nil, fmt.Errorf("domain: unknown state %d", uint8(s))
	}
	return []byte(stateNames[s]), nil
}

func (s *State) UnmarshalText(b []byte) error {
	for i, name := range stateNames {
		if name == string(b) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("domain: unknown state %q", string(b))
}
