package httpapi

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/BrandonDHaskell/gatekeeper/internal/gate/types"
)

// toProtoValue renders any JSON-encodable response as a
// google.protobuf.Value with the same shape as the JSON body.
func toProtoValue(v any) (*structpb.Value, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	return structpb.NewValue(generic)
}

// scanRequestFromProto reads tag_id and direction from a
// google.protobuf.Struct body.
func scanRequestFromProto(s *structpb.Struct) (types.ScanRequest, error) {
	var req types.ScanRequest
	for name, v := range s.GetFields() {
		sv, ok := v.GetKind().(*structpb.Value_StringValue)
		if !ok {
			return req, fmt.Errorf("field %s must be a string", name)
		}
		switch name {
		case "tag_id", "tagId":
			req.TagID = sv.StringValue
		case "direction":
			req.Direction = sv.StringValue
		default:
			return req, fmt.Errorf("unknown field %s", name)
		}
	}
	return req, nil
}

func vehicleFromProto(s *structpb.Struct) (types.Vehicle, error) {
	var v types.Vehicle
	for name, f := range s.GetFields() {
		sv, ok := f.GetKind().(*structpb.Value_StringValue)
		if !ok {
			return v, fmt.Errorf("field %s must be a string", name)
		}
		switch name {
		case "tagId":
			v.TagID = sv.StringValue
		case "vehicleNo":
			v.VehicleNo = sv.StringValue
		case "ownerName":
			v.OwnerName = sv.StringValue
		case "apartmentNo":
			v.ApartmentNo = sv.StringValue
		default:
			return v, fmt.Errorf("unknown field %s", name)
		}
	}
	return v, nil
}
