package service

import "github.com/BrandonDHaskell/gatekeeper/internal/gate/types"

// Decide looks tagID up in vehicles. The first vehicle with an exactly
// matching tag wins. It reads nothing else and has no side effects.
func Decide(tagID string, vehicles []types.Vehicle) (types.AccessStatus, string) {
	for _, v := range vehicles {
		if v.TagID == tagID {
			return types.StatusAuthorized, v.VehicleNo
		}
	}
	return types.StatusDenied, types.UnknownVehicleNo
}
