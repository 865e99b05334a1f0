package file

import (
	"context"
	"sort"

	"github.com/flowzap/flowzap/pkg/models"
	"github.com/flowzap/flowzap/pkg/persistence"
)

const instancesDir = "instances"

// InstanceRepository stores gateway instances as JSON documents.
type InstanceRepository struct {
	persistence *Persistence
}

func (ir *InstanceRepository) List(_ context.Context, organizationID string) ([]*models.Instance, error) {
	ir.persistence.mu.RLock()
	defer ir.persistence.mu.RUnlock()

	ids, err := ir.persistence.ids(instancesDir)
	if err != nil {
		return nil, err
	}

	instances := make([]*models.Instance, 0, len(ids))

	for _, id := range ids {
		instance := &models.Instance{}

		err := ir.persistence.read(instancesDir, id, instance, persistence.ErrInstanceNotFound)
		if err != nil {
			return nil, err
		}

		if organizationID != "" && instance.OrganizationID != organizationID {
			continue
		}

		instances = append(instances, instance)
	}

	sort.Slice(instances, func(i, j int) bool {
		return instances[i].CreatedAt.Before(instances[j].CreatedAt)
	})

	return instances, nil
}

func (ir *InstanceRepository) GetByID(_ context.Context, id string) (*models.Instance, error) {
	ir.persistence.mu.RLock()
	defer ir.persistence.mu.RUnlock()

	instance := &models.Instance{}

	err := ir.persistence.read(instancesDir, id, instance, persistence.ErrInstanceNotFound)
	if err != nil {
		return nil, err
	}

	return instance, nil
}

func (ir *InstanceRepository) Save(_ context.Context, instance *models.Instance) error {
	ir.persistence.mu.Lock()
	defer ir.persistence.mu.Unlock()

	return ir.persistence.write(instancesDir, instance.ID, instance)
}

func (ir *InstanceRepository) Delete(_ context.Context, id string) error {
	ir.persistence.mu.Lock()
	defer ir.persistence.mu.Unlock()

	return ir.persistence.remove(instancesDir, id, persistence.ErrInstanceNotFound)
}
