package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/BrandonDHaskell/gatekeeper/internal/gate/store"
	"github.com/BrandonDHaskell/gatekeeper/internal/gate/types"
)

var (
	ErrInvalidVehicle  = errors.New("tagId and vehicleNo are required")
	ErrDuplicateTag    = errors.New("tag already registered")
	ErrVehicleNotFound = errors.New("vehicle not found")
)

// VehicleRegistry manages the vehicles the gate admits. Changes go through
// store.Update so they serialize with scans.
type VehicleRegistry struct {
	store store.AccessStore
	log   logrus.FieldLogger
}

func NewVehicleRegistry(st store.AccessStore, log logrus.FieldLogger) *VehicleRegistry {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &VehicleRegistry{store: st, log: log}
}

func (r *VehicleRegistry) List(ctx context.Context) ([]types.Vehicle, error) {
	snap, err := r.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load vehicles: %w", err)
	}
	return snap.Vehicles, nil
}

func normalizeVehicle(v types.Vehicle) (types.Vehicle, error) {
	v.TagID = strings.TrimSpace(v.TagID)
	v.VehicleNo = strings.TrimSpace(v.VehicleNo)
	v.OwnerName = strings.TrimSpace(v.OwnerName)
	v.ApartmentNo = strings.TrimSpace(v.ApartmentNo)
	if v.TagID == "" || v.VehicleNo == "" {
		return types.Vehicle{}, ErrInvalidVehicle
	}
	return v, nil
}

func indexOf(vehicles []types.Vehicle, tagID string) int {
	for i, v := range vehicles {
		if v.TagID == tagID {
			return i
		}
	}
	return -1
}

// Register appends v. Registration order is decision order.
func (r *VehicleRegistry) Register(ctx context.Context, v types.Vehicle) (types.Vehicle, error) {
	v, err := normalizeVehicle(v)
	if err != nil {
		return types.Vehicle{}, err
	}
	err = r.store.Update(ctx, func(snap *store.Snapshot) error {
		if indexOf(snap.Vehicles, v.TagID) >= 0 {
			return fmt.Errorf("%w: %s", ErrDuplicateTag, v.TagID)
		}
		snap.Vehicles = append(snap.Vehicles, v)
		return nil
	})
	if err != nil {
		return types.Vehicle{}, err
	}
	r.log.WithFields(logrus.Fields{"tag_id": v.TagID, "vehicle_no": v.VehicleNo}).Info("vehicle registered")
	return v, nil
}

// Remove deletes the vehicle with tagID. Past scan logs are left untouched.
func (r *VehicleRegistry) Remove(ctx context.Context, tagID string) error {
	tagID = strings.TrimSpace(tagID)
	err := r.store.Update(ctx, func(snap *store.Snapshot) error {
		i := indexOf(snap.Vehicles, tagID)
		if i < 0 {
			return fmt.Errorf("%w: %s", ErrVehicleNotFound, tagID)
		}
		snap.Vehicles = append(snap.Vehicles[:i], snap.Vehicles[i+1:]...)
		return nil
	})
	if err != nil {
		return err
	}
	r.log.WithField("tag_id", tagID).Info("vehicle removed")
	return nil
}

// Seed registers every vehicle whose tag is not known yet, in one update.
// Invalid entries are skipped. It returns how many were added.
func (r *VehicleRegistry) Seed(ctx context.Context, vehicles []types.Vehicle) (int, error) {
	added := 0
	err := r.store.Update(ctx, func(snap *store.Snapshot) error {
		for _, v := range vehicles {
			nv, err := normalizeVehicle(v)
			if err != nil {
				r.log.WithField("tag_id", v.TagID).Warn("skipping invalid seed vehicle")
				continue
			}
			if indexOf(snap.Vehicles, nv.TagID) >= 0 {
				continue
			}
			snap.Vehicles = append(snap.Vehicles, nv)
			added++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("seed vehicles: %w", err)
	}
	return added, nil
}
